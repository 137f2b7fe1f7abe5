package symbolctl

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/lock"
	"alert-tuning-lab/internal/storage"
	"alert-tuning-lab/internal/storage/memory"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	outcomes *memory.OutcomeStore
	controls *memory.SymbolControlStore
	ctl      *Controller
	seq      int
}

func newFixture() *fixture {
	f := &fixture{
		outcomes: memory.NewOutcomeStore(),
		controls: memory.NewSymbolControlStore(),
	}
	f.ctl = New(f.outcomes, f.controls, nil, DefaultConfig(), nil, zerolog.Nop())
	return f
}

// add inserts a resolved outcome created age ago. nil returns leave the horizon unset.
func (f *fixture) add(t *testing.T, symbol string, age time.Duration, r4h, r24h *float64) {
	t.Helper()
	f.seq++
	rec := &domain.OutcomeRecord{
		ID:         fmt.Sprintf("%s-%03d", symbol, f.seq),
		CreatedAt:  now.Add(-age),
		Symbol:     symbol,
		EntryPrice: 1,
		Confidence: domain.ConfidenceB,
		Status:     domain.OutcomeStatusPending,
	}
	if r4h != nil {
		rec.SetHorizon(domain.Horizon4h, rec.CreatedAt.Add(4*time.Hour), *r4h)
	}
	if r24h != nil {
		rec.SetHorizon(domain.Horizon24h, rec.CreatedAt.Add(24*time.Hour), *r24h)
	}
	require.NoError(t, f.outcomes.Insert(context.Background(), rec))
}

func pct(v float64) *float64 { return &v }

func TestRecompute_Blacklist(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	// 15 samples averaging -12% inside 30 days, alternating 4h sign to avoid cooldown
	for i := 0; i < 15; i++ {
		r4h := 1.0
		if i%2 == 0 {
			r4h = -1
		}
		f.add(t, "DOGEUSDT", time.Duration(15-i)*24*time.Hour+time.Hour, pct(r4h), pct(-12))
	}

	ctl, err := f.ctl.Recompute(ctx, "DOGEUSDT", now)
	require.NoError(t, err)
	require.NotNil(t, ctl)
	require.NotNil(t, ctl.BlacklistUntil)
	assert.Equal(t, now.Add(168*time.Hour), *ctl.BlacklistUntil)
	assert.Nil(t, ctl.CooldownUntil)
	assert.Contains(t, ctl.Reason, "blacklist")

	blocked, _, err := f.ctl.Blocked(ctx, "DOGEUSDT", now.Add(167*time.Hour))
	require.NoError(t, err)
	assert.True(t, blocked)

	blocked, _, err = f.ctl.Blocked(ctx, "DOGEUSDT", now.Add(168*time.Hour))
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestRecompute_BlacklistNeedsSampleFloor(t *testing.T) {
	f := newFixture()
	for i := 0; i < 9; i++ {
		f.add(t, "X", time.Duration(i+1)*24*time.Hour, pct(1), pct(-20))
	}
	ctl, err := f.ctl.Recompute(context.Background(), "X", now)
	require.NoError(t, err)
	assert.Nil(t, ctl)
}

func TestRecompute_BlacklistIgnoresOldSamples(t *testing.T) {
	f := newFixture()
	for i := 0; i < 12; i++ {
		f.add(t, "X", time.Duration(31+i)*24*time.Hour, pct(1), pct(-20))
	}
	ctl, err := f.ctl.Recompute(context.Background(), "X", now)
	require.NoError(t, err)
	assert.Nil(t, ctl)
}

func TestRecompute_Cooldown(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	// 4h returns oldest first: +2, -1, -3, -0.5
	for i, r := range []float64{2, -1, -3, -0.5} {
		f.add(t, "SOLUSDT", time.Duration(10-i)*time.Hour, pct(r), nil)
	}

	ctl, err := f.ctl.Recompute(ctx, "SOLUSDT", now)
	require.NoError(t, err)
	require.NotNil(t, ctl.CooldownUntil)
	assert.Equal(t, now.Add(12*time.Hour), *ctl.CooldownUntil)
	assert.True(t, ctl.CooldownActive(now))
	assert.False(t, ctl.BlacklistActive(now))
}

func TestRecompute_CooldownExpiresWithoutNewOutcomes(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	for i := 0; i < 3; i++ {
		f.add(t, "SOLUSDT", time.Duration(10-i)*time.Hour, pct(-1), nil)
	}

	ctl, err := f.ctl.Recompute(ctx, "SOLUSDT", now)
	require.NoError(t, err)
	require.NotNil(t, ctl.CooldownUntil)
	assert.Equal(t, now.Add(12*time.Hour), *ctl.CooldownUntil)

	// a later sweep sees the same three losses and nothing new
	later := now.Add(10 * 24 * time.Hour)
	ctl, err = f.ctl.Recompute(ctx, "SOLUSDT", later)
	require.NoError(t, err)
	assert.Equal(t, now.Add(12*time.Hour), *ctl.CooldownUntil)
	assert.False(t, ctl.CooldownActive(later))

	blocked, _, err := f.ctl.Blocked(ctx, "SOLUSDT", later)
	require.NoError(t, err)
	assert.False(t, blocked)

	// a fresh loss resolved after the last write re-arms it
	f.add(t, "SOLUSDT", -(10*24*time.Hour - 5*time.Hour), pct(-2), nil)
	ctl, err = f.ctl.Recompute(ctx, "SOLUSDT", later)
	require.NoError(t, err)
	assert.Equal(t, later.Add(12*time.Hour), *ctl.CooldownUntil)
	assert.True(t, ctl.CooldownActive(later))
}

func TestRecompute_BlacklistNotExtendedByRepeatSweeps(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	for i := 0; i < 12; i++ {
		f.add(t, "X", time.Duration(i+2)*24*time.Hour, pct(1), pct(-15))
	}

	ctl, err := f.ctl.Recompute(ctx, "X", now)
	require.NoError(t, err)
	require.NotNil(t, ctl.BlacklistUntil)

	for day := 1; day <= 3; day++ {
		ctl, err = f.ctl.Recompute(ctx, "X", now.Add(time.Duration(day)*24*time.Hour))
		require.NoError(t, err)
	}
	assert.Equal(t, now.Add(168*time.Hour), *ctl.BlacklistUntil)
}

func TestRecompute_NoCooldownWhenLatestWins(t *testing.T) {
	f := newFixture()
	for i, r := range []float64{-1, -2, -3, 0.5} {
		f.add(t, "SOLUSDT", time.Duration(10-i)*time.Hour, pct(r), nil)
	}
	ctl, err := f.ctl.Recompute(context.Background(), "SOLUSDT", now)
	require.NoError(t, err)
	assert.Nil(t, ctl)
}

func TestDecide_DoesNotShortenExistingGate(t *testing.T) {
	cfg := DefaultConfig()
	later := now.Add(100 * time.Hour)
	existing := &domain.SymbolControl{Symbol: "A", CooldownUntil: &later, Reason: "manual", UpdatedAt: now.Add(-time.Hour)}
	st := Stats{Symbol: "A", Recent4h: []float64{-1, -1, -1}, Latest4hAt: now}

	ctl, triggered := Decide(cfg, st, existing, now)
	assert.True(t, triggered)
	assert.Equal(t, later, *ctl.CooldownUntil)
	// input untouched
	assert.Equal(t, "manual", existing.Reason)
}

func TestDecide_StaleEvidenceDoesNotRearm(t *testing.T) {
	expired := now.Add(-time.Hour)
	existing := &domain.SymbolControl{Symbol: "A", CooldownUntil: &expired, BlacklistUntil: &expired, UpdatedAt: now.Add(-13 * time.Hour)}
	st := Stats{
		Symbol:      "A",
		Recent4h:    []float64{-1, -1, -1},
		Latest4hAt:  now.Add(-14 * time.Hour),
		Count24h:    12,
		Avg24h:      -10,
		Latest24hAt: now.Add(-20 * time.Hour),
	}

	ctl, triggered := Decide(DefaultConfig(), st, existing, now)
	assert.False(t, triggered)
	assert.Equal(t, expired, *ctl.CooldownUntil)
	assert.Equal(t, expired, *ctl.BlacklistUntil)

	st.Latest4hAt = now.Add(-time.Minute)
	ctl, triggered = Decide(DefaultConfig(), st, existing, now)
	assert.True(t, triggered)
	assert.Equal(t, now.Add(12*time.Hour), *ctl.CooldownUntil)
	assert.Equal(t, expired, *ctl.BlacklistUntil)
}

func TestDecide_NothingTriggered(t *testing.T) {
	ctl, triggered := Decide(DefaultConfig(), Stats{Symbol: "A", Recent4h: []float64{-1, -1}}, nil, now)
	assert.False(t, triggered)
	assert.Nil(t, ctl.CooldownUntil)
	assert.Nil(t, ctl.BlacklistUntil)
}

func TestCleanupAndActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	require.NoError(t, f.controls.Upsert(ctx, &domain.SymbolControl{Symbol: "OLD", CooldownUntil: &past}))
	require.NoError(t, f.controls.Upsert(ctx, &domain.SymbolControl{Symbol: "LIVE", BlacklistUntil: &future}))

	active, err := f.ctl.Active(ctx, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "LIVE", active[0].Symbol)

	n, err := f.ctl.Cleanup(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	blocked, ctl, err := f.ctl.Blocked(ctx, "OLD", now)
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.Nil(t, ctl)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	for i := 0; i < 3; i++ {
		f.add(t, "A", time.Duration(10-i)*time.Hour, pct(-2), nil)
		f.add(t, "B", time.Duration(10-i)*time.Hour, pct(2), nil)
	}
	recs, err := f.outcomes.List(ctx, storage.OutcomeFilter{})
	require.NoError(t, err)

	res, err := f.ctl.Sweep(ctx, recs, now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Symbols)
	assert.Equal(t, 1, res.Cooldown)
	assert.Equal(t, 0, res.Blacklist)
}

func TestRecompute_ConcurrentSameSymbol(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	for i := 0; i < 3; i++ {
		f.add(t, "A", time.Duration(10-i)*time.Hour, pct(-2), nil)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ctl.Recompute(ctx, "A", now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ctl, err := f.controls.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, now.Add(12*time.Hour), *ctl.CooldownUntil)
}

// releaseFailingLocker grants every lock and fails every release.
type releaseFailingLocker struct{ releases int }

func (l *releaseFailingLocker) Lock(context.Context, string) (func() error, error) {
	return func() error {
		l.releases++
		return fmt.Errorf("redis release: %w", lock.ErrLost)
	}, nil
}

func TestRecompute_ReleaseFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	for i := 0; i < 3; i++ {
		f.add(t, "A", time.Duration(10-i)*time.Hour, pct(-2), nil)
	}

	var buf bytes.Buffer
	locker := &releaseFailingLocker{}
	f.ctl = New(f.outcomes, f.controls, locker, DefaultConfig(), nil, zerolog.New(&buf))

	ctl, err := f.ctl.Recompute(ctx, "A", now)
	require.NoError(t, err, "a failed release does not undo a committed recompute")
	require.NotNil(t, ctl)
	assert.Equal(t, 1, locker.releases)
	assert.Contains(t, buf.String(), `"message":"release symbol lock"`)
	assert.Contains(t, buf.String(), `"symbol":"A"`)
	assert.Contains(t, buf.String(), lock.ErrLost.Error())
}
