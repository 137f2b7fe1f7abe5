package gate

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-tuning-lab/internal/audit"
	"alert-tuning-lab/internal/configfile"
	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/notify"
)

const liveConfig = `# live gating config
SCORE_THRESHOLD=70
REGIME_FLOOR=50
MIN_CONFIDENCE=B
POSITION_SIZE_USD=250
MAX_PORTFOLIO_EXPOSURE=0.35
`

var now = time.Date(2026, 10, 5, 9, 30, 0, 0, time.UTC)

type captureNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (c *captureNotifier) Notify(_ context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return c.err
}

type fixture struct {
	path     string
	gate     *Gate
	audit    *audit.Log
	notifier *captureNotifier
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "live.env")
	require.NoError(t, os.WriteFile(path, []byte(liveConfig), 0o644))

	f := &fixture{
		path:     path,
		audit:    audit.NewLog(filepath.Join(dir, "audit.json")),
		notifier: &captureNotifier{},
	}
	f.gate = New(Options{
		Config:   cfg,
		Store:    configfile.NewStore(path, configfile.NewAllowList([]string{"volume_spike", "rsi_reset"})),
		Audit:    f.audit,
		Notifier: f.notifier,
		Logger:   zerolog.Nop(),
	})
	return f
}

func (f *fixture) file(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(f.path)
	require.NoError(t, err)
	return string(b)
}

func (f *fixture) entries(t *testing.T) []domain.AuditLogEntry {
	t.Helper()
	e, err := f.audit.Entries()
	require.NoError(t, err)
	return e
}

func (f *fixture) backups(t *testing.T) []string {
	t.Helper()
	m, err := filepath.Glob(f.path + ".bak.*")
	require.NoError(t, err)
	return m
}

func input(th, floor int, conf domain.Confidence) Input {
	return Input{
		RunID:           "run-1",
		ScanRuns:        60,
		PrimaryOutcomes: 40,
		Proposal:        Proposal{HasGating: true, Threshold: th, RegimeFloor: floor, MinConfidence: conf},
	}
}

func TestApply_InsufficientData(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
	}{
		{"scan runs below floor", func(in *Input) { in.ScanRuns = 49 }},
		{"outcomes below floor", func(in *Input) { in.PrimaryOutcomes = 29 }},
		{"optimizer found nothing", func(in *Input) { in.InsufficientData = true; in.Proposal = Proposal{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			in := input(85, 60, domain.ConfidenceA)
			tt.mutate(&in)

			d, err := f.gate.Apply(context.Background(), in, now)
			require.NoError(t, err)
			assert.Equal(t, domain.ActionSkippedInsufficientData, d.Action)
			assert.Equal(t, liveConfig, f.file(t))
			assert.Empty(t, f.backups(t))

			entries := f.entries(t)
			require.Len(t, entries, 1)
			assert.Equal(t, domain.ActionSkippedInsufficientData, entries[0].Action)
			assert.Equal(t, entries[0].Before, entries[0].After)
			assert.Len(t, f.notifier.msgs, 1)
		})
	}
}

func TestApply_WritesMeaningfulChange(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	d, err := f.gate.Apply(context.Background(), input(80, 45, domain.ConfidenceB), now)
	require.NoError(t, err)
	require.Equal(t, domain.ActionApplied, d.Action)

	want := strings.Replace(strings.Replace(liveConfig, "SCORE_THRESHOLD=70", "SCORE_THRESHOLD=80", 1), "REGIME_FLOOR=50", "REGIME_FLOOR=45", 1)
	assert.Equal(t, want, f.file(t))

	require.Len(t, f.backups(t), 1)
	assert.Equal(t, f.path+".bak."+now.Format(configfile.BackupTimeFormat), d.Backup)
	backup, err := os.ReadFile(d.Backup)
	require.NoError(t, err)
	assert.Equal(t, liveConfig, string(backup))

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionApplied, entries[0].Action)
	assert.Equal(t, 70, entries[0].Before.Threshold)
	assert.Equal(t, 80, entries[0].After.Threshold)

	require.Len(t, f.notifier.msgs, 1)
	assert.Contains(t, f.notifier.msgs[0].Body, "threshold: 70 -> 80")
}

func TestApply_BelowMinDeltaIsNoChange(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	d, err := f.gate.Apply(context.Background(), input(71, 51, domain.ConfidenceB), now)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSkippedNoChange, d.Action)
	assert.Equal(t, liveConfig, f.file(t))
	assert.Empty(t, f.backups(t))
	assert.Len(t, f.entries(t), 1)
}

func TestApply_TierChangeAlwaysMeaningful(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	d, err := f.gate.Apply(context.Background(), input(71, 50, domain.ConfidenceA), now)
	require.NoError(t, err)
	require.Equal(t, domain.ActionApplied, d.Action)
	assert.Contains(t, f.file(t), "MIN_CONFIDENCE=A\n")
	// sub-delta fields ride along with a meaningful change
	assert.Contains(t, f.file(t), "SCORE_THRESHOLD=71\n")
}

func TestApply_ClampsAndRechecks(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	d, err := f.gate.Apply(context.Background(), input(120, 10, domain.ConfidenceB), now)
	require.NoError(t, err)
	require.Equal(t, domain.ActionApplied, d.Action)
	assert.Equal(t, domain.ThresholdMax, d.After.Threshold)
	assert.Equal(t, domain.RegimeFloorMin, d.After.RegimeFloor)
	require.Len(t, d.Violations, 2)

	entry := f.entries(t)[0]
	joined := strings.Join(entry.Reasons, "\n")
	assert.Contains(t, joined, "threshold=120 outside [55, 95], clamped to 95")
	assert.Contains(t, joined, "regime_floor=10")
}

func TestApply_ClampedToNoChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.env")
	require.NoError(t, os.WriteFile(path, []byte("SCORE_THRESHOLD=95\nREGIME_FLOOR=50\nMIN_CONFIDENCE=B\n"), 0o644))
	g := New(Options{
		Config: DefaultConfig(),
		Store:  configfile.NewStore(path, configfile.NewAllowList(nil)),
		Audit:  audit.NewLog(filepath.Join(filepath.Dir(path), "audit.json")),
		Logger: zerolog.Nop(),
	})

	d, err := g.Apply(context.Background(), input(130, 50, domain.ConfidenceB), now)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSkippedNoChange, d.Action)
	assert.Len(t, d.Violations, 1)
}

func TestApply_NeverWritesOutOfBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	confs := []domain.Confidence{domain.ConfidenceA, domain.ConfidenceB, domain.ConfidenceC, "Z"}
	f := newFixture(t, DefaultConfig())

	for i := 0; i < 200; i++ {
		in := input(rng.Intn(300)-100, rng.Intn(300)-100, confs[rng.Intn(len(confs))])
		in.Proposal.Weights = map[string]float64{"volume_spike": rng.Float64()*4 - 1}

		_, err := f.gate.Apply(context.Background(), in, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)

		snap, _, err := configfile.NewStore(f.path, configfile.NewAllowList(nil)).Load()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, snap.Threshold, domain.ThresholdMin)
		assert.LessOrEqual(t, snap.Threshold, domain.ThresholdMax)
		assert.GreaterOrEqual(t, snap.RegimeFloor, domain.RegimeFloorMin)
		assert.LessOrEqual(t, snap.RegimeFloor, domain.RegimeFloorMax)
		assert.True(t, snap.MinConfidence.IsValid())
		if w, ok := snap.Weights["volume_spike"]; ok {
			assert.GreaterOrEqual(t, w, domain.WeightMin)
			assert.LessOrEqual(t, w, domain.WeightMax)
		}
	}
	assert.Len(t, f.entries(t), 200)
	assert.Contains(t, f.file(t), "POSITION_SIZE_USD=250\n")
}

func TestApply_DryRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DryRun = true
	f := newFixture(t, cfg)

	d, err := f.gate.Apply(context.Background(), input(85, 60, domain.ConfidenceA), now)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionDryRun, d.Action)
	assert.Equal(t, liveConfig, f.file(t))
	assert.Empty(t, f.backups(t))

	entry := f.entries(t)[0]
	assert.True(t, entry.DryRun)
	assert.Equal(t, 85, entry.After.Threshold)
	assert.NotEmpty(t, d.Changes)
}

func TestApply_WriteFailureLeavesConfigIntact(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	// a non-empty directory where the backup should go makes the write fail
	blocker := f.path + ".bak." + now.Format(configfile.BackupTimeFormat)
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "x"), 0o755))

	d, err := f.gate.Apply(context.Background(), input(85, 60, domain.ConfidenceA), now)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionFailed, d.Action)
	var cwe *domain.ConfigWriteError
	assert.True(t, errors.As(d.Err, &cwe))
	assert.Equal(t, liveConfig, f.file(t))

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionFailed, entries[0].Action)
	assert.NotEmpty(t, entries[0].Error)

	require.Len(t, f.notifier.msgs, 1)
	assert.Equal(t, notify.LevelError, f.notifier.msgs[0].Level)
}

func TestApply_NotifierFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.notifier.err = errors.New("telegram down")

	d, err := f.gate.Apply(context.Background(), input(85, 60, domain.ConfidenceA), now)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionApplied, d.Action)
	assert.Contains(t, f.file(t), "SCORE_THRESHOLD=85\n")
	assert.Len(t, f.entries(t), 1)
}

func TestApply_PromotedWeights(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	in := input(70, 50, domain.ConfidenceB) // gating unchanged
	in.Proposal.Weights = map[string]float64{
		"volume_spike": 1.3,
		"rsi_reset":    1.01, // below weight delta against the implicit 1.0
	}
	d, err := f.gate.Apply(context.Background(), in, now)
	require.NoError(t, err)
	require.Equal(t, domain.ActionApplied, d.Action)
	assert.Equal(t, map[string]string{"WEIGHT_VOLUME_SPIKE": "1.3"}, d.Changes)
	assert.True(t, strings.HasSuffix(f.file(t), "WEIGHT_VOLUME_SPIKE=1.3\n"))
}

func TestApply_WarningsRaiseLevel(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	in := input(70, 50, domain.ConfidenceB)
	in.Warnings = []string{"risk: NORMAL -> DEFENSIVE (streak 3)"}

	_, err := f.gate.Apply(context.Background(), in, now)
	require.NoError(t, err)
	require.Len(t, f.notifier.msgs, 1)
	assert.Equal(t, notify.LevelWarning, f.notifier.msgs[0].Level)
	assert.Contains(t, f.notifier.msgs[0].Body, "DEFENSIVE")
	assert.Contains(t, f.entries(t)[0].Reasons, "risk: NORMAL -> DEFENSIVE (streak 3)")
}
