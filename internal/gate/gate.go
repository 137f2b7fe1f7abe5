// Package gate is the only writer of live gating config. It enforces sample
// floors, hard bounds and minimum deltas, applies accepted changes with a
// backup and an atomic replace, and always leaves exactly one audit entry and
// one notification per tuning run.
package gate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"alert-tuning-lab/internal/audit"
	"alert-tuning-lab/internal/configfile"
	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/notify"
	"alert-tuning-lab/internal/observability"
	"alert-tuning-lab/internal/stats"
)

// Config holds the gate rules.
type Config struct {
	MinScanRuns    int
	MinOutcomes    int
	MinDelta       int
	MinWeightDelta float64
	DryRun         bool
}

// DefaultConfig returns the standard floors and deltas.
func DefaultConfig() Config {
	return Config{MinScanRuns: 50, MinOutcomes: 30, MinDelta: 2, MinWeightDelta: 0.02}
}

// Notifier is the outbound channel. *notify.Manager satisfies it.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// Gate evaluates and applies tuning proposals.
type Gate struct {
	cfg      Config
	config   *configfile.Store
	audit    *audit.Log
	notifier Notifier
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// Options for creating a Gate.
type Options struct {
	Config   Config
	Store    *configfile.Store
	Audit    *audit.Log
	Notifier Notifier // optional
	Metrics  *observability.Metrics
	Logger   zerolog.Logger
}

// New creates a Gate.
func New(opts Options) *Gate {
	return &Gate{
		cfg:      opts.Config,
		config:   opts.Store,
		audit:    opts.Audit,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With().Str("component", "gate").Logger(),
	}
}

// Apply decides, writes when allowed, appends the audit entry and notifies.
// The returned error is non-nil only when the audit entry itself could not
// be written; config write failures are reported through Decision.Err and an
// audit entry with action FAILED.
func (g *Gate) Apply(ctx context.Context, in Input, now time.Time) (*Decision, error) {
	start := time.Now()
	now = now.UTC()

	d := g.decide(in)
	if d.Action == domain.ActionApplied {
		g.write(d, now)
	}

	entry := domain.AuditLogEntry{
		RunID:     in.RunID,
		Timestamp: now,
		Action:    d.Action,
		DryRun:    g.cfg.DryRun,
		Before:    d.Before,
		After:     d.After,
		Metrics:   in.Metrics,
		Reasons:   g.reasons(in, d),
	}
	if d.Err != nil {
		entry.Error = d.Err.Error()
	}

	auditErr := g.audit.Append(entry)
	if auditErr != nil {
		g.logger.Error().Err(auditErr).Str("run_id", in.RunID).Msg("audit append failed")
	}

	g.notify(ctx, in, d, now)

	live := d.Before
	if d.Action == domain.ActionApplied {
		live = d.After
	}
	g.metrics.RecordTuningRun(d.Action.String(), live.Threshold, live.RegimeFloor, time.Since(start))

	g.logger.Info().
		Str("run_id", in.RunID).
		Str("action", d.Action.String()).
		Int("threshold", d.After.Threshold).
		Int("regime_floor", d.After.RegimeFloor).
		Str("min_confidence", d.After.MinConfidence.String()).
		Int("changes", len(d.Changes)).
		Msg("gate decided")

	if auditErr != nil {
		return d, fmt.Errorf("append audit entry: %w", auditErr)
	}
	return d, nil
}

// decide runs every rule without side effects.
func (g *Gate) decide(in Input) *Decision {
	d := &Decision{}

	before, _, err := g.config.Load()
	if err != nil {
		d.Action = domain.ActionFailed
		d.Err = err
		return d
	}
	d.Before = before
	d.After = before.Clone()

	d.Checks = g.floorChecks(in)
	for _, c := range d.Checks {
		if !c.Pass {
			d.Action = domain.ActionSkippedInsufficientData
			return d
		}
	}
	if in.InsufficientData && len(in.Proposal.Weights) == 0 {
		d.Action = domain.ActionSkippedInsufficientData
		return d
	}

	proposed := before.Clone()
	if in.Proposal.HasGating {
		proposed.Threshold = g.clampInt(d, "threshold", in.Proposal.Threshold, domain.ThresholdMin, domain.ThresholdMax)
		proposed.RegimeFloor = g.clampInt(d, "regime_floor", in.Proposal.RegimeFloor, domain.RegimeFloorMin, domain.RegimeFloorMax)
		if in.Proposal.MinConfidence.IsValid() {
			proposed.MinConfidence = in.Proposal.MinConfidence
		}
	}

	// Meaningfulness is judged after clamping.
	gatingMeaningful := absInt(proposed.Threshold-before.Threshold) >= g.cfg.MinDelta ||
		absInt(proposed.RegimeFloor-before.RegimeFloor) >= g.cfg.MinDelta ||
		proposed.MinConfidence != before.MinConfidence // any tier change counts
	if !gatingMeaningful {
		proposed.Threshold = before.Threshold
		proposed.RegimeFloor = before.RegimeFloor
		proposed.MinConfidence = before.MinConfidence
	}

	weightsMeaningful := false
	for _, rule := range sortedRules(in.Proposal.Weights) {
		w := g.clampFloat(d, configfile.WeightKey(rule), in.Proposal.Weights[rule], domain.WeightMin, domain.WeightMax)
		prev, ok := before.Weights[rule]
		if !ok {
			prev = 1.0
		}
		if math.Abs(w-prev) < g.cfg.MinWeightDelta {
			continue
		}
		if proposed.Weights == nil {
			proposed.Weights = make(map[string]float64)
		}
		proposed.Weights[rule] = w
		weightsMeaningful = true
	}

	if !gatingMeaningful && !weightsMeaningful {
		d.Action = domain.ActionSkippedNoChange
		return d
	}

	d.After = proposed
	d.Changes = configfile.Changes(before, proposed)
	if g.cfg.DryRun {
		d.Action = domain.ActionDryRun
		return d
	}
	d.Action = domain.ActionApplied
	return d
}

// write applies d.Changes. On failure the action becomes FAILED and the
// prior file is left as it was.
func (g *Gate) write(d *Decision, now time.Time) {
	backup, err := g.config.Apply(d.Changes, now)
	if err != nil {
		d.Action = domain.ActionFailed
		d.Err = err
		var cwe *domain.ConfigWriteError
		if errors.As(err, &cwe) {
			g.logger.Error().Err(cwe.Err).Str("path", cwe.Path).Msg("config write failed; prior config intact")
		} else {
			g.logger.Error().Err(err).Msg("config write rejected")
		}
		return
	}
	d.Backup = backup
}

func (g *Gate) floorChecks(in Input) []Check {
	return []Check{
		{
			Name:      "Scan runs in window",
			Threshold: fmt.Sprintf(">= %d", g.cfg.MinScanRuns),
			Actual:    fmt.Sprintf("%d", in.ScanRuns),
			Pass:      in.ScanRuns >= g.cfg.MinScanRuns,
		},
		{
			Name:      "Primary-horizon outcomes",
			Threshold: fmt.Sprintf(">= %d", g.cfg.MinOutcomes),
			Actual:    fmt.Sprintf("%d", in.PrimaryOutcomes),
			Pass:      in.PrimaryOutcomes >= g.cfg.MinOutcomes,
		},
	}
}

func (g *Gate) clampInt(d *Decision, field string, v, lo, hi int) int {
	c := stats.ClampInt(v, lo, hi)
	if c != v {
		d.Violations = append(d.Violations, &domain.BoundsViolation{
			Field: field, Value: float64(v), Lo: float64(lo), Hi: float64(hi), Clamped: float64(c),
		})
	}
	return c
}

func (g *Gate) clampFloat(d *Decision, field string, v, lo, hi float64) float64 {
	c := v
	if math.IsNaN(v) {
		c = 1.0
	}
	c = stats.Clamp(c, lo, hi)
	if c != v {
		d.Violations = append(d.Violations, &domain.BoundsViolation{
			Field: field, Value: v, Lo: lo, Hi: hi, Clamped: c,
		})
	}
	return c
}

func (g *Gate) notify(ctx context.Context, in Input, d *Decision, now time.Time) {
	if g.notifier == nil {
		return
	}
	msg := notify.Message{
		Level:     level(in, d),
		Title:     fmt.Sprintf("Tuning run %s", d.Action),
		Body:      RenderSummary(in, d),
		Timestamp: now,
	}
	if err := g.notifier.Notify(ctx, msg); err != nil {
		g.logger.Warn().Err(err).Str("run_id", in.RunID).Msg("notification failed")
	}
}

func level(in Input, d *Decision) notify.Level {
	switch {
	case d.Action == domain.ActionFailed:
		return notify.LevelError
	case len(in.Warnings) > 0:
		return notify.LevelWarning
	default:
		return notify.LevelInfo
	}
}

// reasons merges the gate's own findings with the run's reasons.
func (g *Gate) reasons(in Input, d *Decision) []string {
	var out []string
	for _, c := range d.Checks {
		if !c.Pass {
			out = append(out, fmt.Sprintf("%s: %s, need %s", strings.ToLower(c.Name), c.Actual, c.Threshold))
		}
	}
	if in.InsufficientData {
		out = append(out, "optimizer: no combo met the per-combo sample floor")
	}
	for _, v := range d.Violations {
		out = append(out, "bounds: "+v.Error())
	}
	if d.Action == domain.ActionSkippedNoChange {
		out = append(out, fmt.Sprintf("no change: gating delta < %d, weight delta < %g, tier unchanged", g.cfg.MinDelta, g.cfg.MinWeightDelta))
	}
	out = append(out, in.Warnings...)
	out = append(out, in.Reasons...)
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sortedRules(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
