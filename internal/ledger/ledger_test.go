package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/storage/memory"
)

var fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newLedger() (*Ledger, *memory.OutcomeStore, *memory.ScanRunStore) {
	outcomes := memory.NewOutcomeStore()
	scans := memory.NewScanRunStore()
	l := New(Options{
		Outcomes: outcomes,
		ScanRuns: scans,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return fixedNow },
	})
	return l, outcomes, scans
}

func alert(regime float64) domain.OutcomeRecord {
	return domain.OutcomeRecord{
		Symbol:      " solusdt",
		EntryPrice:  142.5,
		Score:       78,
		RegimeScore: regime,
		Confidence:  domain.ConfidenceB,
		Lane:        "breakout",
	}
}

func TestRecordAlert_FillsDefaults(t *testing.T) {
	ctx := context.Background()
	l, store, _ := newLedger()

	rec, err := l.RecordAlert(ctx, alert(50))
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "SOLUSDT", rec.Symbol)
	assert.Equal(t, fixedNow, rec.CreatedAt)
	assert.Equal(t, domain.OutcomeStatusPending, rec.Status)
	// fewer than the minimum points
	assert.Equal(t, domain.PhaseTransition, rec.CyclePhase)

	got, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Symbol, got.Symbol)
}

func TestRecordAlert_TagsPhaseFromRecentScores(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLedger()

	var last *domain.OutcomeRecord
	for i := 0; i < 6; i++ {
		a := alert(25)
		a.CreatedAt = fixedNow.Add(time.Duration(i) * time.Minute)
		var err error
		last, err = l.RecordAlert(ctx, a)
		require.NoError(t, err)
	}
	assert.Equal(t, domain.PhaseBear, last.CyclePhase)

	phase, err := l.CurrentPhase(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseBear, phase)
}

func TestRecordAlert_KeepsSuppliedPhase(t *testing.T) {
	l, _, _ := newLedger()
	a := alert(90)
	a.CyclePhase = domain.PhaseBull

	rec, err := l.RecordAlert(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseBull, rec.CyclePhase)

	a.CyclePhase = "SIDEWAYS"
	_, err = l.RecordAlert(context.Background(), a)
	assert.True(t, errors.Is(err, ErrInvalidAlert))
}

func TestRecordAlert_Validation(t *testing.T) {
	l, _, _ := newLedger()

	tests := []struct {
		name   string
		mutate func(*domain.OutcomeRecord)
	}{
		{"empty symbol", func(r *domain.OutcomeRecord) { r.Symbol = "  " }},
		{"zero entry", func(r *domain.OutcomeRecord) { r.EntryPrice = 0 }},
		{"score too high", func(r *domain.OutcomeRecord) { r.Score = 101 }},
		{"negative regime", func(r *domain.OutcomeRecord) { r.RegimeScore = -1 }},
		{"bad confidence", func(r *domain.OutcomeRecord) { r.Confidence = "D" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := alert(50)
			tt.mutate(&a)
			_, err := l.RecordAlert(context.Background(), a)
			assert.True(t, errors.Is(err, ErrInvalidAlert), "got %v", err)
		})
	}
}

func TestRecordAlert_DiscardsSuppliedHorizons(t *testing.T) {
	l, _, _ := newLedger()
	a := alert(50)
	a.SetHorizon(domain.Horizon1h, fixedNow, 5)
	a.Status = domain.OutcomeStatusComplete

	rec, err := l.RecordAlert(context.Background(), a)
	require.NoError(t, err)
	assert.False(t, rec.H1.IsSet())
	assert.Equal(t, domain.OutcomeStatusPending, rec.Status)
}

func TestResolveHorizon_WriteOnce(t *testing.T) {
	ctx := context.Background()
	l, store, _ := newLedger()

	rec, err := l.RecordAlert(ctx, alert(50))
	require.NoError(t, err)

	ok, err := l.ResolveHorizon(ctx, rec.ID, domain.Horizon1h, fixedNow.Add(time.Hour), 2.5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.ResolveHorizon(ctx, rec.ID, domain.Horizon1h, fixedNow.Add(2*time.Hour), -9)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	ret, _ := got.Return(domain.Horizon1h)
	assert.Equal(t, 2.5, ret)
	assert.Equal(t, fixedNow.Add(time.Hour), *got.H1.EvaluatedAt)
}

func TestRecordScanRun(t *testing.T) {
	ctx := context.Background()
	l, _, scans := newLedger()

	require.NoError(t, l.RecordScanRun(ctx, time.Time{}))
	require.NoError(t, l.RecordScanRun(ctx, fixedNow.Add(-48*time.Hour)))

	n, err := scans.CountSince(ctx, fixedNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
