// Package optimizer grid-searches gating parameters against realized outcomes.
package optimizer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/observability"
	"alert-tuning-lab/internal/stats"
)

// Grid ranges, inclusive.
const (
	ThresholdFrom, ThresholdTo, ThresholdStep = 55, 95, 5
	FloorFrom, FloorTo, FloorStep             = 35, 70, 5
)

// Confidences is the confidence dimension in enumeration order.
var Confidences = []domain.Confidence{domain.ConfidenceC, domain.ConfidenceB, domain.ConfidenceA}

// Combo is one point of the grid.
type Combo struct {
	Threshold     int
	RegimeFloor   int
	MinConfidence domain.Confidence
}

// Grid returns every combo in enumeration order: threshold, then floor, then confidence.
func Grid() []Combo {
	var out []Combo
	for th := ThresholdFrom; th <= ThresholdTo; th += ThresholdStep {
		for fl := FloorFrom; fl <= FloorTo; fl += FloorStep {
			for _, c := range Confidences {
				out = append(out, Combo{Threshold: th, RegimeFloor: fl, MinConfidence: c})
			}
		}
	}
	return out
}

// Config configures the search.
type Config struct {
	Horizon    domain.Horizon // return the objective is computed on
	MinSamples int            // combos below this are skipped
	WinRateK   float64        // k1
	DrawdownK  float64        // k2
	Workers    int
}

// DefaultConfig returns the standard weights.
func DefaultConfig() Config {
	return Config{
		Horizon:    domain.Horizon4h,
		MinSamples: 10,
		WinRateK:   0.10,
		DrawdownK:  0.25,
		Workers:    4,
	}
}

// Result is the outcome of one search.
type Result struct {
	// Best is nil when no combo met MinSamples.
	Best *domain.GridResult

	// Results holds every combo in enumeration order.
	Results []domain.GridResult

	Samples   int // outcomes with the horizon resolved
	Evaluated int
	Skipped   int
}

// Optimizer runs the grid search.
type Optimizer struct {
	cfg     Config
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// New creates an Optimizer. metrics may be nil.
func New(cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Optimizer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if !cfg.Horizon.IsValid() {
		cfg.Horizon = domain.Horizon4h
	}
	return &Optimizer{
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With().Str("component", "optimizer").Logger(),
	}
}

// sample is the indexed view of one outcome.
type sample struct {
	score      float64
	regime     float64
	confidence domain.Confidence
	ret        float64
}

// index keeps outcomes with the horizon resolved, in created_at order.
func index(outcomes []*domain.OutcomeRecord, h domain.Horizon) []sample {
	recs := make([]*domain.OutcomeRecord, 0, len(outcomes))
	for _, o := range outcomes {
		if _, ok := o.Return(h); ok {
			recs = append(recs, o)
		}
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})

	out := make([]sample, len(recs))
	for i, r := range recs {
		ret, _ := r.Return(h)
		out[i] = sample{score: r.Score, regime: r.RegimeScore, confidence: r.Confidence, ret: ret}
	}
	return out
}

// Optimize evaluates the whole grid. When no combo qualifies it returns the
// populated Result together with domain.ErrInsufficientData.
func (o *Optimizer) Optimize(ctx context.Context, runID string, outcomes []*domain.OutcomeRecord, now time.Time) (*Result, error) {
	samples := index(outcomes, o.cfg.Horizon)
	grid := Grid()
	results := make([]domain.GridResult, len(grid))

	// Combos are independent; each worker writes only its own slot.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, combo := range grid {
		i, combo := i, combo
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = o.evaluate(combo, samples)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}

	res := &Result{Results: results, Samples: len(samples)}
	best := -1
	for i := range results {
		results[i].RunID = runID
		results[i].CreatedAt = now.UTC()
		if results[i].Skipped {
			res.Skipped++
			continue
		}
		res.Evaluated++
		// strict > keeps the first combo on ties
		if best < 0 || results[i].Objective > results[best].Objective {
			best = i
		}
	}
	o.metrics.RecordOptimizerCombos(res.Evaluated, res.Skipped)

	if best < 0 {
		o.logger.Info().Int("samples", len(samples)).Int("min_samples", o.cfg.MinSamples).Msg("no combo met the sample floor")
		return res, fmt.Errorf("optimizer: %w: no combo with n >= %d", domain.ErrInsufficientData, o.cfg.MinSamples)
	}

	results[best].Selected = true
	res.Best = &results[best]
	o.logger.Info().
		Int("threshold", res.Best.Threshold).
		Int("regime_floor", res.Best.RegimeFloor).
		Str("min_confidence", res.Best.MinConfidence.String()).
		Int("n", res.Best.SampleSize).
		Float64("avg_return", res.Best.AvgReturn).
		Float64("win_rate", res.Best.WinRate).
		Float64("drawdown", res.Best.Drawdown).
		Float64("objective", res.Best.Objective).
		Int("evaluated", res.Evaluated).
		Msg("optimizer selected combo")
	return res, nil
}

func (o *Optimizer) evaluate(c Combo, samples []sample) domain.GridResult {
	r := domain.GridResult{
		Threshold:     c.Threshold,
		RegimeFloor:   c.RegimeFloor,
		MinConfidence: c.MinConfidence,
	}

	var rets []float64
	for _, s := range samples {
		if s.score >= float64(c.Threshold) && s.regime >= float64(c.RegimeFloor) && s.confidence.Meets(c.MinConfidence) {
			rets = append(rets, s.ret)
		}
	}
	r.SampleSize = len(rets)
	if r.SampleSize < o.cfg.MinSamples || r.SampleSize == 0 {
		r.Skipped = true
		return r
	}

	r.AvgReturn = stats.Mean(rets)
	r.WinRate = stats.WinRate(rets)
	r.Drawdown = stats.CompoundDrawdown(rets)
	r.Objective = Objective(r.AvgReturn, r.SampleSize, r.WinRate, r.Drawdown, o.cfg.WinRateK, o.cfg.DrawdownK)
	return r
}

// Objective scores a subset: avg·√n + (winRate−50)·k1 − drawdown·k2.
func Objective(avg float64, n int, winRate, drawdown, k1, k2 float64) float64 {
	return avg*math.Sqrt(float64(n)) + (winRate-50)*k1 - drawdown*k2
}
