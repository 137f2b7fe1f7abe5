package cycle

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

// Exit parameter derivation.
const (
	tp1Percentile   = 0.60
	tp2Percentile   = 0.85
	stopLossFactor  = 1.5
	stopLossCapPct  = 15.0
	learnedHorizon  = domain.Horizon24h
	defaultMinLearn = 10
)

// Learner rebuilds the per-phase playbooks from completed outcomes.
type Learner struct {
	store      storage.PlaybookStore
	minSamples int
	logger     zerolog.Logger
}

// NewLearner creates a learner. minSamples is the learning floor.
func NewLearner(store storage.PlaybookStore, minSamples int, logger zerolog.Logger) *Learner {
	if minSamples <= 0 {
		minSamples = defaultMinLearn
	}
	return &Learner{
		store:      store,
		minSamples: minSamples,
		logger:     logger.With().Str("component", "playbook_learner").Logger(),
	}
}

// Learn groups COMPLETE, phase-tagged outcomes with a 24h return by phase and
// upserts one playbook per phase. Exit parameters are replaced only when a
// phase reaches the learning floor; below it the priors stay and only the
// observed stats are recorded. Every phase is written, including empty ones.
func (l *Learner) Learn(ctx context.Context, outcomes []*domain.OutcomeRecord, now time.Time) ([]domain.CyclePlaybook, error) {
	byPhase := make(map[domain.Phase][]float64, len(domain.Phases))
	for _, o := range outcomes {
		if o.Status != domain.OutcomeStatusComplete || !o.CyclePhase.IsValid() {
			continue
		}
		r, ok := o.Return(learnedHorizon)
		if !ok {
			continue
		}
		byPhase[o.CyclePhase] = append(byPhase[o.CyclePhase], r)
	}

	priors := domain.DefaultPlaybooks()
	out := make([]domain.CyclePlaybook, 0, len(domain.Phases))
	for _, phase := range domain.Phases {
		pb := Derive(priors[phase], byPhase[phase], l.minSamples)
		pb.LastUpdated = now.UTC()

		if err := l.store.Upsert(ctx, &pb); err != nil {
			return out, fmt.Errorf("upsert playbook %s: %w", phase, err)
		}
		l.logger.Info().
			Str("phase", phase.String()).
			Int("samples", pb.SampleSize).
			Bool("learned", pb.Learned).
			Float64("win_rate", pb.WinRate).
			Float64("tp1", pb.TP1Pct).
			Float64("tp2", pb.TP2Pct).
			Float64("sl", pb.StopLossPct).
			Msg("playbook updated")
		out = append(out, pb)
	}
	return out, nil
}

// Derive computes a playbook from prior and the phase's 24h returns.
// It is pure so the derivation can be tested without a store.
func Derive(prior domain.CyclePlaybook, returns []float64, minSamples int) domain.CyclePlaybook {
	pb := prior
	pb.SampleSize = len(returns)
	pb.WinRate = stats.WinRate(returns)
	pb.AvgReturn = stats.Mean(returns)
	pb.Learned = false

	if len(returns) < minSamples {
		return pb
	}

	var wins, lossMags []float64
	for _, r := range returns {
		switch {
		case r > 0:
			wins = append(wins, r)
		case r < 0:
			lossMags = append(lossMags, -r)
		}
	}

	// A side with no observations keeps its prior.
	if len(wins) > 0 {
		pb.TP1Pct = round2(stats.Percentile(wins, tp1Percentile))
		pb.TP2Pct = round2(stats.Percentile(wins, tp2Percentile))
	}
	if len(lossMags) > 0 {
		pb.StopLossPct = round2(math.Min(stopLossFactor*stats.Mean(lossMags), stopLossCapPct))
	}
	pb.Learned = true
	return pb
}

// Current returns the stored playbook for phase, or its prior if none was learned yet.
func Current(ctx context.Context, store storage.PlaybookStore, phase domain.Phase) (domain.CyclePlaybook, error) {
	pb, err := store.Get(ctx, phase)
	if err == nil {
		return *pb, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return domain.DefaultPlaybooks()[phase], nil
	}
	return domain.CyclePlaybook{}, err
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
