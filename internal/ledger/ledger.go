// Package ledger records alerts and scanner heartbeats and resolves outcome horizons.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"alert-tuning-lab/internal/cycle"
	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/storage"
)

// ErrInvalidAlert is returned when an alert fails validation.
var ErrInvalidAlert = errors.New("invalid alert")

// Ledger is the write side of the outcome ledger.
type Ledger struct {
	outcomes   storage.OutcomeStore
	scans      storage.ScanRunStore
	classifier *cycle.Classifier
	logger     zerolog.Logger
	now        func() time.Time
}

// Options for creating a Ledger.
type Options struct {
	Outcomes   storage.OutcomeStore
	ScanRuns   storage.ScanRunStore
	Classifier *cycle.Classifier // nil uses the default thresholds
	Logger     zerolog.Logger
	Now        func() time.Time // nil uses time.Now
}

// New creates a Ledger.
func New(opts Options) *Ledger {
	l := &Ledger{
		outcomes:   opts.Outcomes,
		scans:      opts.ScanRuns,
		classifier: opts.Classifier,
		logger:     opts.Logger.With().Str("component", "ledger").Logger(),
		now:        opts.Now,
	}
	if l.classifier == nil {
		l.classifier = cycle.NewClassifier(cycle.DefaultClassifierConfig())
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// RecordAlert validates rec, fills id, time, status and cycle phase, and
// inserts it. Horizon fields supplied by the caller are discarded.
// Returns the stored record.
func (l *Ledger) RecordAlert(ctx context.Context, rec domain.OutcomeRecord) (*domain.OutcomeRecord, error) {
	rec.Symbol = strings.ToUpper(strings.TrimSpace(rec.Symbol))
	if err := validate(&rec); err != nil {
		return nil, err
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.Status = domain.OutcomeStatusPending
	rec.ErrorReason = ""
	rec.H1, rec.H4, rec.H24 = domain.HorizonResult{}, domain.HorizonResult{}, domain.HorizonResult{}

	if rec.CyclePhase == "" {
		phase, err := l.phaseWith(ctx, rec.RegimeScore)
		if err != nil {
			return nil, err
		}
		rec.CyclePhase = phase
	} else if !rec.CyclePhase.IsValid() {
		return nil, fmt.Errorf("%w: cycle phase %q", ErrInvalidAlert, rec.CyclePhase)
	}

	if err := l.outcomes.Insert(ctx, &rec); err != nil {
		return nil, fmt.Errorf("insert outcome %s: %w", rec.ID, err)
	}

	l.logger.Debug().
		Str("id", rec.ID).
		Str("symbol", rec.Symbol).
		Float64("score", rec.Score).
		Str("confidence", rec.Confidence.String()).
		Str("phase", rec.CyclePhase.String()).
		Msg("alert recorded")
	return &rec, nil
}

// phaseWith classifies the ledger's latest regime scores plus the incoming one.
func (l *Ledger) phaseWith(ctx context.Context, regimeScore float64) (domain.Phase, error) {
	window := l.classifier.Window()
	scores, err := l.outcomes.RecentRegimeScores(ctx, window-1)
	if err != nil {
		return "", fmt.Errorf("recent regime scores: %w", err)
	}
	return l.classifier.Classify(append(scores, regimeScore)), nil
}

// CurrentPhase classifies the latest regime scores in the ledger.
func (l *Ledger) CurrentPhase(ctx context.Context) (domain.Phase, error) {
	scores, err := l.outcomes.RecentRegimeScores(ctx, l.classifier.Window())
	if err != nil {
		return "", fmt.Errorf("recent regime scores: %w", err)
	}
	return l.classifier.Classify(scores), nil
}

// RecordScanRun stores a scanner heartbeat.
func (l *Ledger) RecordScanRun(ctx context.Context, at time.Time) error {
	if at.IsZero() {
		at = l.now()
	}
	if err := l.scans.Insert(ctx, at.UTC()); err != nil {
		return fmt.Errorf("insert scan run: %w", err)
	}
	return nil
}

// ResolveHorizon writes h for id if it is still unset and reports whether it landed.
func (l *Ledger) ResolveHorizon(ctx context.Context, id string, h domain.Horizon, at time.Time, returnPct float64) (bool, error) {
	ok, err := l.outcomes.SetHorizon(ctx, id, h, at.UTC(), returnPct)
	if err != nil {
		return false, fmt.Errorf("set horizon %s/%s: %w", id, h, err)
	}
	return ok, nil
}

func validate(r *domain.OutcomeRecord) error {
	switch {
	case r.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidAlert)
	case !(r.EntryPrice > 0):
		return fmt.Errorf("%w: entry price %g", ErrInvalidAlert, r.EntryPrice)
	case r.Score < 0 || r.Score > 100:
		return fmt.Errorf("%w: score %g outside [0, 100]", ErrInvalidAlert, r.Score)
	case r.RegimeScore < 0 || r.RegimeScore > 100:
		return fmt.Errorf("%w: regime score %g outside [0, 100]", ErrInvalidAlert, r.RegimeScore)
	case !r.Confidence.IsValid():
		return fmt.Errorf("%w: confidence %q", ErrInvalidAlert, r.Confidence)
	}
	return nil
}
