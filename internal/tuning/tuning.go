// Package tuning runs the slow-cadence learning loop.
// It coordinates: optimizer → risk governor → symbol control → cycle playbooks
// → component attribution → safety gate.
package tuning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"alert-tuning-lab/internal/attribution"
	"alert-tuning-lab/internal/configfile"
	"alert-tuning-lab/internal/cycle"
	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/gate"
	"alert-tuning-lab/internal/observability"
	"alert-tuning-lab/internal/optimizer"
	"alert-tuning-lab/internal/risk"
	"alert-tuning-lab/internal/storage"
	"alert-tuning-lab/internal/symbolctl"
)

// Learner names used in reasons and the learner-failure metric.
const (
	LearnerOptimizer   = "optimizer"
	LearnerRisk        = "risk"
	LearnerSymbols     = "symbol_control"
	LearnerCycle       = "cycle"
	LearnerAttribution = "attribution"
)

// Runner coordinates one tuning run end to end.
type Runner struct {
	// Stores
	outcomes storage.OutcomeStore
	scanRuns storage.ScanRunStore
	grid     storage.GridResultStore

	// Learners
	optimizer   *optimizer.Optimizer
	governor    *risk.Governor
	symbols     *symbolctl.Controller
	classifier  *cycle.Classifier
	playbooks   *cycle.Learner
	attribution *attribution.Attributor
	components  []string

	gate *gate.Gate

	window  time.Duration
	horizon domain.Horizon
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() string
}

// Options for creating Runner.
type Options struct {
	// Required stores
	Outcomes storage.OutcomeStore
	ScanRuns storage.ScanRunStore

	// GridResults is optional; when set every optimizer combo is persisted.
	GridResults storage.GridResultStore

	// Learners. A nil learner is skipped.
	Optimizer   *optimizer.Optimizer
	Governor    *risk.Governor
	Symbols     *symbolctl.Controller
	Classifier  *cycle.Classifier
	Playbooks   *cycle.Learner
	Attribution *attribution.Attributor

	// Components are the scoring rule names attribution correlates.
	Components []string

	// Gate is required; every run ends there.
	Gate *gate.Gate

	Window         time.Duration // outcome lookback, default 30 days
	PrimaryHorizon domain.Horizon

	Metrics *observability.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

// New creates a new Runner.
func New(opts Options) *Runner {
	r := &Runner{
		outcomes:    opts.Outcomes,
		scanRuns:    opts.ScanRuns,
		grid:        opts.GridResults,
		optimizer:   opts.Optimizer,
		governor:    opts.Governor,
		symbols:     opts.Symbols,
		classifier:  opts.Classifier,
		playbooks:   opts.Playbooks,
		attribution: opts.Attribution,
		components:  opts.Components,
		gate:        opts.Gate,
		window:      opts.Window,
		horizon:     opts.PrimaryHorizon,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With().Str("component", "tuning").Logger(),
		now:         opts.Now,
		newID:       uuid.NewString,
	}
	if r.window <= 0 {
		r.window = 30 * 24 * time.Hour
	}
	if r.horizon == "" {
		r.horizon = domain.Horizon4h
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// RunResult contains results from one tuning run.
type RunResult struct {
	RunID    string
	Outcomes int // records in the window
	Lanes    []LaneStat

	Optimizer   *optimizer.Result
	Risk        *risk.Evaluation
	Symbols     *symbolctl.SweepResult
	Phase       domain.Phase
	Playbooks   []domain.CyclePlaybook
	Attribution *attribution.Result

	Decision *gate.Decision

	// Errors lists learner failures; the run still reached the gate.
	Errors []string
}

// Run executes one tuning run. Learner failures never abort it: each one is
// captured into the run's warnings and the gate is always consulted, so every
// run leaves exactly one audit entry. The returned error is non-nil only when
// the outcome window could not be loaded or the audit entry could not be written.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	now := r.now().UTC()
	res := &RunResult{RunID: r.newID()}
	in := gate.Input{RunID: res.RunID, Metrics: make(map[string]float64)}

	outcomes, err := r.outcomes.List(ctx, storage.OutcomeFilter{Since: now.Add(-r.window)})
	if err != nil {
		// Still audit the run so the gap is visible.
		in.Warnings = append(in.Warnings, fmt.Sprintf("load outcomes: %v", err))
		in.InsufficientData = true
		d, gerr := r.gate.Apply(ctx, in, now)
		res.Decision = d
		if gerr != nil {
			return res, gerr
		}
		return res, fmt.Errorf("load outcome window: %w", err)
	}
	res.Outcomes = len(outcomes)
	in.Metrics["outcomes_in_window"] = float64(len(outcomes))

	scans, err := r.scanRuns.CountSince(ctx, now.Add(-r.window))
	if err != nil {
		in.Warnings = append(in.Warnings, fmt.Sprintf("count scan runs: %v", err))
	}
	in.ScanRuns = scans
	in.PrimaryOutcomes = countResolved(outcomes, r.horizon)
	in.Metrics["scan_runs"] = float64(in.ScanRuns)
	in.Metrics["primary_outcomes"] = float64(in.PrimaryOutcomes)
	res.Lanes = laneStats(outcomes, r.horizon)

	r.guard(res, &in, LearnerOptimizer, func() error { return r.runOptimizer(ctx, res, &in, outcomes, now) })
	r.guard(res, &in, LearnerRisk, func() error { return r.runRisk(ctx, res, &in, outcomes, now) })
	r.guard(res, &in, LearnerSymbols, func() error { return r.runSymbols(ctx, res, &in, outcomes, now) })
	r.guard(res, &in, LearnerCycle, func() error { return r.runCycle(ctx, res, &in, outcomes, now) })
	r.guard(res, &in, LearnerAttribution, func() error { return r.runAttribution(ctx, res, &in, outcomes, now) })

	d, err := r.gate.Apply(ctx, in, now)
	res.Decision = d
	if err != nil {
		return res, err
	}

	if applied := appliedWeights(in.Proposal.Weights, d); len(applied) > 0 && r.attribution != nil {
		if err := r.attribution.MarkLive(ctx, applied, now); err != nil {
			r.logger.Warn().Err(err).Str("run_id", res.RunID).Msg("mark live multipliers failed")
		}
	}

	r.logger.Info().
		Str("run_id", res.RunID).
		Int("outcomes", res.Outcomes).
		Str("action", d.Action.String()).
		Int("learner_errors", len(res.Errors)).
		Msg("tuning run completed")

	return res, nil
}

// guard runs one learner, converting errors and panics into warnings.
func (r *Runner) guard(res *RunResult, in *gate.Input, name string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}

	msg := err.Error()
	if !strings.HasPrefix(msg, name+":") {
		msg = name + ": " + msg
	}
	res.Errors = append(res.Errors, msg)
	if errors.Is(err, domain.ErrInsufficientData) {
		// expected while the ledger is young
		in.Reasons = append(in.Reasons, msg)
		r.logger.Info().Str("learner", name).Err(err).Msg("learner skipped")
		return
	}
	in.Warnings = append(in.Warnings, msg)
	r.metrics.RecordLearnerFailure(name)
	r.logger.Error().Str("learner", name).Err(err).Msg("learner failed")
}

func (r *Runner) runOptimizer(ctx context.Context, res *RunResult, in *gate.Input, outcomes []*domain.OutcomeRecord, now time.Time) error {
	if r.optimizer == nil {
		in.InsufficientData = true
		return nil
	}

	opt, err := r.optimizer.Optimize(ctx, res.RunID, outcomes, now)
	res.Optimizer = opt
	if opt != nil && r.grid != nil && len(opt.Results) > 0 {
		rows := make([]*domain.GridResult, len(opt.Results))
		for i := range opt.Results {
			rows[i] = &opt.Results[i]
		}
		if gerr := r.grid.InsertBulk(ctx, rows); gerr != nil {
			// analytics only
			r.logger.Warn().Err(gerr).Str("run_id", res.RunID).Msg("persist grid results failed")
		}
	}
	if err != nil {
		in.InsufficientData = true
		return err
	}

	best := opt.Best
	in.Proposal.HasGating = true
	in.Proposal.Threshold = best.Threshold
	in.Proposal.RegimeFloor = best.RegimeFloor
	in.Proposal.MinConfidence = best.MinConfidence
	in.Metrics["best_objective"] = best.Objective
	in.Metrics["best_avg_return"] = best.AvgReturn
	in.Metrics["best_win_rate"] = best.WinRate
	in.Metrics["best_drawdown"] = best.Drawdown
	in.Metrics["best_sample_size"] = float64(best.SampleSize)
	in.Metrics["combos_evaluated"] = float64(opt.Evaluated)
	return nil
}

func (r *Runner) runRisk(ctx context.Context, res *RunResult, in *gate.Input, outcomes []*domain.OutcomeRecord, now time.Time) error {
	if r.governor == nil {
		return nil
	}
	ev, err := r.governor.Evaluate(ctx, outcomes, now)
	if err != nil {
		return err
	}
	res.Risk = ev
	in.Metrics["risk_streak"] = float64(ev.Streak)
	in.Metrics["risk_mode"] = float64(ev.Mode)
	if ev.Transition {
		// folded into the run's single notification
		w := fmt.Sprintf("risk: %s -> %s (streak %d)", ev.Previous, ev.Mode, ev.Streak)
		if ev.Paused && ev.PausedUntil != nil {
			w += fmt.Sprintf(", alerts paused until %s", ev.PausedUntil.UTC().Format(time.RFC3339))
		}
		in.Warnings = append(in.Warnings, w)
	}
	return nil
}

func (r *Runner) runSymbols(ctx context.Context, res *RunResult, in *gate.Input, outcomes []*domain.OutcomeRecord, now time.Time) error {
	if r.symbols == nil {
		return nil
	}
	sw, err := r.symbols.Sweep(ctx, outcomes, now)
	if err != nil {
		return err
	}
	res.Symbols = &sw
	in.Metrics["symbols_cooldown"] = float64(sw.Cooldown)
	in.Metrics["symbols_blacklist"] = float64(sw.Blacklist)
	return nil
}

func (r *Runner) runCycle(ctx context.Context, res *RunResult, in *gate.Input, outcomes []*domain.OutcomeRecord, now time.Time) error {
	if r.classifier != nil {
		scores, err := r.outcomes.RecentRegimeScores(ctx, r.classifier.Window())
		if err != nil {
			return fmt.Errorf("recent regime scores: %w", err)
		}
		res.Phase = r.classifier.Classify(scores)
		in.Reasons = append(in.Reasons, fmt.Sprintf("cycle phase: %s", res.Phase))
	}
	if r.playbooks == nil {
		return nil
	}
	pbs, err := r.playbooks.Learn(ctx, outcomes, now)
	if err != nil {
		return err
	}
	res.Playbooks = pbs
	return nil
}

func (r *Runner) runAttribution(ctx context.Context, res *RunResult, in *gate.Input, outcomes []*domain.OutcomeRecord, now time.Time) error {
	if r.attribution == nil || len(r.components) == 0 {
		return nil
	}
	ar, err := r.attribution.Run(ctx, r.components, outcomes, now)
	res.Attribution = ar
	if err != nil {
		return err
	}
	in.Metrics["attribution_samples"] = float64(ar.Samples)
	if len(ar.Promoted) > 0 {
		in.Proposal.Weights = ar.Promoted
	}
	return nil
}

// Loop runs a tuning pass every interval until ctx is cancelled.
func (r *Runner) Loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Run(ctx); err != nil {
			r.logger.Error().Err(err).Msg("tuning run failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// appliedWeights returns the proposed multipliers that were actually written.
func appliedWeights(proposed map[string]float64, d *gate.Decision) map[string]float64 {
	if d.Action != domain.ActionApplied {
		return nil
	}
	out := make(map[string]float64)
	for rule := range proposed {
		if _, ok := d.Changes[configfile.WeightKey(rule)]; ok {
			out[rule] = d.After.Weights[rule]
		}
	}
	return out
}

func countResolved(outcomes []*domain.OutcomeRecord, h domain.Horizon) int {
	n := 0
	for _, o := range outcomes {
		if _, ok := o.Return(h); ok {
			n++
		}
	}
	return n
}
