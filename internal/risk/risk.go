// Package risk implements the streak-driven risk governor.
//
// The governor maps the trailing losing streak of resolved primary-horizon
// outcomes to NORMAL, CAUTIOUS or DEFENSIVE. DEFENSIVE also engages a timed
// pause, which expires lazily: it is only compared against the clock when the
// state is next read. State lives in a storage.RiskStateStore so a restart
// neither forgets a pause nor repeats a transition notification.
package risk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/observability"
	"alert-tuning-lab/internal/stats"
	"alert-tuning-lab/internal/storage"
)

// Config configures the governor.
type Config struct {
	Horizon  domain.Horizon
	Lookback int // most recent resolved outcomes considered
	Pause    time.Duration
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{Horizon: domain.Horizon4h, Lookback: 20, Pause: 6 * time.Hour}
}

// ModeFor maps a losing streak to a mode.
func ModeFor(streak int) domain.RiskMode {
	switch {
	case streak >= 3:
		return domain.RiskModeDefensive
	case streak == 2:
		return domain.RiskModeCautious
	default:
		return domain.RiskModeNormal
	}
}

// Evaluation is the result of one governor step.
type Evaluation struct {
	Mode        domain.RiskMode
	Previous    domain.RiskMode // last notified mode
	Streak      int
	Adjustment  domain.RiskAdjustment
	Paused      bool
	PausedUntil *time.Time

	// Transition is true when Mode differs from the last notified mode.
	// The caller sends exactly one notification for it.
	Transition bool
}

// Governor evaluates and persists risk state.
type Governor struct {
	store   storage.RiskStateStore
	cfg     Config
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// New creates a Governor. metrics may be nil.
func New(store storage.RiskStateStore, cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Governor {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 20
	}
	if !cfg.Horizon.IsValid() {
		cfg.Horizon = domain.Horizon4h
	}
	return &Governor{
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With().Str("component", "risk_governor").Logger(),
	}
}

// RecentReturns extracts the last lookback resolved returns at h, oldest first.
func RecentReturns(outcomes []*domain.OutcomeRecord, h domain.Horizon, lookback int) []float64 {
	recs := make([]*domain.OutcomeRecord, 0, len(outcomes))
	for _, o := range outcomes {
		if _, ok := o.Return(h); ok {
			recs = append(recs, o)
		}
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	if lookback > 0 && len(recs) > lookback {
		recs = recs[len(recs)-lookback:]
	}
	out := make([]float64, len(recs))
	for i, r := range recs {
		out[i], _ = r.Return(h)
	}
	return out
}

// State loads the persisted state with any lapsed pause cleared.
// A never-saved state is NORMAL.
func (g *Governor) State(ctx context.Context, now time.Time) (*domain.RiskState, error) {
	st, err := g.store.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return &domain.RiskState{Mode: domain.RiskModeNormal, LastNotifiedMode: domain.RiskModeNormal}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get risk state: %w", err)
	}
	if st.PausedUntil != nil && !st.Paused(now) {
		st.PausedUntil = nil
	}
	return st, nil
}

// Evaluate recomputes the mode from outcomes, updates the pause and saves.
func (g *Governor) Evaluate(ctx context.Context, outcomes []*domain.OutcomeRecord, now time.Time) (*Evaluation, error) {
	st, err := g.State(ctx, now)
	if err != nil {
		return nil, err
	}

	streak := stats.TrailingLosses(RecentReturns(outcomes, g.cfg.Horizon, g.cfg.Lookback))
	mode := ModeFor(streak)

	// Pause on entering DEFENSIVE, and again whenever the streak grows while defensive.
	if mode == domain.RiskModeDefensive && (st.Mode != domain.RiskModeDefensive || streak > st.Streak) {
		until := now.Add(g.cfg.Pause).UTC()
		if st.PausedUntil == nil || until.After(*st.PausedUntil) {
			st.PausedUntil = &until
		}
	}

	ev := &Evaluation{
		Mode:       mode,
		Previous:   st.LastNotifiedMode,
		Streak:     streak,
		Adjustment: mode.Adjustment(),
		Transition: mode != st.LastNotifiedMode,
	}

	st.Mode = mode
	st.Streak = streak
	st.LastNotifiedMode = mode
	st.UpdatedAt = now.UTC()
	ev.Paused = st.Paused(now)
	ev.PausedUntil = st.PausedUntil

	if err := g.store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("save risk state: %w", err)
	}

	g.metrics.RecordRisk(int(mode), streak)
	evt := g.logger.Info()
	if ev.Transition {
		evt = g.logger.Warn()
	}
	evt.Str("mode", mode.String()).
		Str("previous", ev.Previous.String()).
		Int("streak", streak).
		Bool("paused", ev.Paused).
		Bool("transition", ev.Transition).
		Msg("risk evaluated")
	return ev, nil
}

// Overlay applies adj on top of the live snapshot: the threshold is raised
// and clamped to its hard bounds, and the confidence floor is tightened,
// never loosened.
func Overlay(live domain.ConfigSnapshot, adj domain.RiskAdjustment) domain.ConfigSnapshot {
	out := live.Clone()
	out.Threshold = stats.ClampInt(live.Threshold+adj.ThresholdDelta, domain.ThresholdMin, domain.ThresholdMax)
	if adj.MinConfidence.Rank() > live.MinConfidence.Rank() {
		out.MinConfidence = adj.MinConfidence
	}
	return out
}
