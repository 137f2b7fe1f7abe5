package clickhouse_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/storage"
	chstore "alert-tuning-lab/internal/storage/clickhouse"
)

func TestGridResultStore_InsertBulkAndGetByRun(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := chstore.NewGridResultStore(conn)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	results := []*domain.GridResult{
		{RunID: "run-1", Threshold: 60, RegimeFloor: 40, MinConfidence: domain.ConfidenceA, SampleSize: 9, Skipped: true, CreatedAt: at},
		{RunID: "run-1", Threshold: 60, RegimeFloor: 40, MinConfidence: domain.ConfidenceC, SampleSize: 12, AvgReturn: 3.2, WinRate: 58, Objective: 11.9, Selected: true, CreatedAt: at},
		{RunID: "run-1", Threshold: 55, RegimeFloor: 35, MinConfidence: domain.ConfidenceC, SampleSize: 40, AvgReturn: 1.0, WinRate: 51, Drawdown: 4.5, Objective: 5.3, CreatedAt: at},
	}
	require.NoError(t, store.InsertBulk(ctx, results))

	got, err := store.GetByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	// enumeration order: threshold, floor, confidence C -> A
	assert.Equal(t, 55, got[0].Threshold)
	assert.Equal(t, domain.ConfidenceC, got[1].MinConfidence)
	assert.Equal(t, domain.ConfidenceA, got[2].MinConfidence)
	assert.True(t, got[1].Selected)
	assert.True(t, got[2].Skipped)
	assert.InDelta(t, 3.2, got[1].AvgReturn, 1e-9)
	assert.Equal(t, at, got[1].CreatedAt)
}

func TestGridResultStore_InsertBulkDuplicate(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := chstore.NewGridResultStore(conn)
	ctx := context.Background()

	first := []*domain.GridResult{{RunID: "run-2", Threshold: 70, RegimeFloor: 50, MinConfidence: domain.ConfidenceB}}
	require.NoError(t, store.InsertBulk(ctx, first))

	err := store.InsertBulk(ctx, []*domain.GridResult{
		{RunID: "run-2", Threshold: 75, RegimeFloor: 50, MinConfidence: domain.ConfidenceB},
		{RunID: "run-2", Threshold: 70, RegimeFloor: 50, MinConfidence: domain.ConfidenceB},
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetByRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
