package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/storage"
)

var baseTime = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func sampleOutcome(id, symbol string, createdAt time.Time) *domain.OutcomeRecord {
	return &domain.OutcomeRecord{
		ID:          id,
		CreatedAt:   createdAt,
		Symbol:      symbol,
		EntryPrice:  1.25,
		Score:       82,
		RegimeScore: 61,
		RegimeLabel: "risk-on",
		Confidence:  domain.ConfidenceB,
		Lane:        "breakout",
		Source:      "scanner",
		CyclePhase:  domain.PhaseBull,
		Components:  map[string]float64{"volume_spike": 12, "funding_negative": -4},
		Status:      domain.OutcomeStatusPending,
	}
}

func TestOutcomeStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewOutcomeStore(pool)
	ctx := context.Background()

	rec := sampleOutcome("out-1", "SOLUSDT", baseTime)
	require.NoError(t, store.Insert(ctx, rec))

	got, err := store.GetByID(ctx, "out-1")
	require.NoError(t, err)

	assert.Equal(t, rec.Symbol, got.Symbol)
	assert.Equal(t, rec.CreatedAt, got.CreatedAt)
	assert.Equal(t, rec.Confidence, got.Confidence)
	assert.Equal(t, rec.CyclePhase, got.CyclePhase)
	assert.Equal(t, rec.Components, got.Components)
	assert.Equal(t, domain.OutcomeStatusPending, got.Status)
	assert.False(t, got.H1.IsSet())

	err = store.Insert(ctx, rec)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOutcomeStore_SetHorizonIsWriteOnce(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewOutcomeStore(pool)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, sampleOutcome("out-1", "SOLUSDT", baseTime)))

	at := baseTime.Add(4 * time.Hour)

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wrote, err := store.SetHorizon(ctx, "out-1", domain.Horizon4h, at, float64(i))
			assert.NoError(t, err)
			results[i] = wrote
		}(i)
	}
	wg.Wait()

	writes := 0
	for _, w := range results {
		if w {
			writes++
		}
	}
	assert.Equal(t, 1, writes)

	got, err := store.GetByID(ctx, "out-1")
	require.NoError(t, err)
	require.True(t, got.H4.IsSet())
	assert.Equal(t, at, *got.H4.EvaluatedAt)

	_, err = store.SetHorizon(ctx, "missing", domain.Horizon1h, at, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOutcomeStore_ListAndStatus(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewOutcomeStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, sampleOutcome("a", "SOLUSDT", baseTime)))
	require.NoError(t, store.Insert(ctx, sampleOutcome("b", "ETHUSDT", baseTime.Add(time.Hour))))
	require.NoError(t, store.Insert(ctx, sampleOutcome("c", "SOLUSDT", baseTime.Add(2*time.Hour))))

	_, err := store.SetHorizon(ctx, "c", domain.Horizon1h, baseTime.Add(3*time.Hour), -2.5)
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, "b", domain.OutcomeStatusError, "price unavailable"))

	got, err := store.List(ctx, storage.OutcomeFilter{Symbol: "SOLUSDT"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)

	got, err = store.List(ctx, storage.OutcomeFilter{
		Statuses: []domain.OutcomeStatus{domain.OutcomeStatusPending, domain.OutcomeStatusError},
		Since:    baseTime.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "price unavailable", got[0].ErrorReason)

	got, err = store.List(ctx, storage.OutcomeFilter{Resolved: domain.Horizon1h})
	require.NoError(t, err)
	require.Len(t, got, 1)
	ret, ok := got[0].Return(domain.Horizon1h)
	assert.True(t, ok)
	assert.InDelta(t, -2.5, ret, 1e-9)

	got, err = store.List(ctx, storage.OutcomeFilter{NewestFirst: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.OutcomeStatusPending])
	assert.Equal(t, 1, counts[domain.OutcomeStatusError])

	assert.ErrorIs(t, store.SetStatus(ctx, "missing", domain.OutcomeStatusComplete, ""), storage.ErrNotFound)
}

func TestOutcomeStore_RecentRegimeScores(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewOutcomeStore(pool)
	ctx := context.Background()

	for i, score := range []float64{30, 45, 60, 75} {
		rec := sampleOutcome(string(rune('a'+i)), "SOLUSDT", baseTime.Add(time.Duration(i)*time.Minute))
		rec.RegimeScore = score
		require.NoError(t, store.Insert(ctx, rec))
	}

	scores, err := store.RecentRegimeScores(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{45, 60, 75}, scores)
}
