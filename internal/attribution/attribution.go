// Package attribution correlates scoring components with realized returns and
// proposes debounced weight multipliers.
package attribution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/stats"
	"alert-tuning-lab/internal/storage"
)

// Config configures attribution.
type Config struct {
	Horizon      domain.Horizon
	MinSamples   int
	DeadZone     float64 // |r| below this is neutral
	Scale        float64 // multiplier = 1 + r·Scale
	PromoteAfter int     // consecutive same-direction weeks before promotion
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		Horizon:      domain.Horizon4h,
		MinSamples:   20,
		DeadZone:     0.05,
		Scale:        0.6,
		PromoteAfter: 3,
	}
}

// Result is one attribution run.
type Result struct {
	Stats []domain.ScoreComponentStats // in component order

	// Promoted maps component name to the multiplier proposed for live weights.
	Promoted map[string]float64

	Samples int
}

// Attributor runs attribution and persists the per-component debounce state.
type Attributor struct {
	store  storage.ComponentStatsStore
	cfg    Config
	logger zerolog.Logger
}

// New creates an Attributor.
func New(store storage.ComponentStatsStore, cfg Config, logger zerolog.Logger) *Attributor {
	if !cfg.Horizon.IsValid() {
		cfg.Horizon = domain.Horizon4h
	}
	return &Attributor{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "attribution").Logger(),
	}
}

// Multiplier maps a correlation to a bounded multiplier and direction.
func Multiplier(r, deadZone, scale float64) (float64, domain.Direction) {
	if math.Abs(r) < deadZone {
		return 1.0, domain.DirectionNeutral
	}
	m := stats.Clamp(1+r*scale, domain.WeightMin, domain.WeightMax)
	m = math.Round(m*1000) / 1000
	if r > 0 {
		return m, domain.DirectionBoost
	}
	return m, domain.DirectionReduce
}

// NextConsistency advances the debounce counter. The same non-neutral
// direction as last run adds one; a reversal restarts at one; neutral resets to zero.
func NextConsistency(prevDir domain.Direction, prevCount int, dir domain.Direction) int {
	switch {
	case dir == domain.DirectionNeutral:
		return 0
	case dir == prevDir:
		return prevCount + 1
	default:
		return 1
	}
}

// laterWeek reports whether now falls in a later ISO week than last.
// A zero last always counts.
func laterWeek(last, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	ly, lw := last.UTC().ISOWeek()
	ny, nw := now.UTC().ISOWeek()
	return ny > ly || (ny == ly && nw > lw)
}

// Run correlates each component against the configured horizon return.
// A component absent from an outcome's breakdown counts as 0 for it.
// Below MinSamples nothing is updated and domain.ErrInsufficientData is returned.
func (a *Attributor) Run(ctx context.Context, components []string, outcomes []*domain.OutcomeRecord, now time.Time) (*Result, error) {
	var returns []float64
	var rows []map[string]float64
	for _, o := range outcomes {
		r, ok := o.Return(a.cfg.Horizon)
		if !ok {
			continue
		}
		returns = append(returns, r)
		rows = append(rows, o.Components)
	}

	res := &Result{Promoted: make(map[string]float64), Samples: len(returns)}
	if len(returns) < a.cfg.MinSamples {
		return res, fmt.Errorf("attribution: %w: %d samples, need %d", domain.ErrInsufficientData, len(returns), a.cfg.MinSamples)
	}

	for _, name := range components {
		values := make([]float64, len(rows))
		for i, row := range rows {
			values[i] = row[name]
		}
		r := stats.Pearson(values, returns)
		mult, dir := Multiplier(r, a.cfg.DeadZone, a.cfg.Scale)

		prev, err := a.store.Get(ctx, name)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return res, fmt.Errorf("get component stats %s: %w", name, err)
		}
		var prevDir domain.Direction
		var prevCount int
		var live float64
		var counted time.Time
		if prev != nil {
			prevDir, prevCount, live, counted = prev.Direction, prev.ConsistencyWeeks, prev.LiveMultiplier, prev.CountedAt
		}

		// A repeat run inside an already counted week refreshes the
		// correlation but leaves the debounce state alone.
		trackedDir, consistency := prevDir, prevCount
		if laterWeek(counted, now) {
			trackedDir, consistency = dir, NextConsistency(prevDir, prevCount, dir)
			counted = now.UTC()
		}

		st := domain.ScoreComponentStats{
			Component:             name,
			Correlation:           math.Round(r*10000) / 10000,
			SampleSize:            len(returns),
			RecommendedMultiplier: mult,
			Direction:             trackedDir,
			ConsistencyWeeks:      consistency,
			CountedAt:             counted,
			LiveMultiplier:        live,
			UpdatedAt:             now.UTC(),
		}
		if err := a.store.Upsert(ctx, &st); err != nil {
			return res, fmt.Errorf("upsert component stats %s: %w", name, err)
		}
		res.Stats = append(res.Stats, st)

		if dir != domain.DirectionNeutral && dir == trackedDir && consistency >= a.cfg.PromoteAfter {
			res.Promoted[name] = mult
		}

		a.logger.Debug().
			Str("rule", name).
			Float64("r", st.Correlation).
			Str("direction", dir.String()).
			Int("consistency", st.ConsistencyWeeks).
			Float64("multiplier", mult).
			Msg("component attributed")
	}

	a.logger.Info().Int("samples", len(returns)).Int("promoted", len(res.Promoted)).Msg("attribution finished")
	return res, nil
}

// MarkLive records that multipliers were written to live weights.
func (a *Attributor) MarkLive(ctx context.Context, applied map[string]float64, now time.Time) error {
	for name, m := range applied {
		st, err := a.store.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("get component stats %s: %w", name, err)
		}
		st.LiveMultiplier = m
		st.UpdatedAt = now.UTC()
		if err := a.store.Upsert(ctx, st); err != nil {
			return fmt.Errorf("upsert component stats %s: %w", name, err)
		}
	}
	return nil
}
