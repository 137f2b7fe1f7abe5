package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/storage"
)

// Smaller stores share one container to keep the suite fast.
func TestControlStores(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("symbol controls", func(t *testing.T) {
		truncateAll(t, pool)
		store := NewSymbolControlStore(pool)

		require.NoError(t, store.Upsert(ctx, &domain.SymbolControl{
			Symbol:        "DOGEUSDT",
			CooldownUntil: ptr(baseTime.Add(12 * time.Hour)),
			Reason:        "3 consecutive losses",
			UpdatedAt:     baseTime,
		}))
		require.NoError(t, store.Upsert(ctx, &domain.SymbolControl{
			Symbol:         "PEPEUSDT",
			BlacklistUntil: ptr(baseTime.Add(168 * time.Hour)),
			UpdatedAt:      baseTime,
		}))

		got, err := store.Get(ctx, "DOGEUSDT")
		require.NoError(t, err)
		assert.Equal(t, baseTime.Add(12*time.Hour), *got.CooldownUntil)
		assert.Nil(t, got.BlacklistUntil)

		list, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "DOGEUSDT", list[0].Symbol)

		removed, err := store.DeleteExpired(ctx, baseTime.Add(13*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		_, err = store.Get(ctx, "DOGEUSDT")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("scan runs", func(t *testing.T) {
		truncateAll(t, pool)
		store := NewScanRunStore(pool)

		for i := 0; i < 4; i++ {
			require.NoError(t, store.Insert(ctx, baseTime.Add(time.Duration(i)*time.Hour)))
		}
		n, err := store.CountSince(ctx, baseTime.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("playbooks", func(t *testing.T) {
		truncateAll(t, pool)
		store := NewPlaybookStore(pool)

		pb := domain.DefaultPlaybooks()[domain.PhaseBull]
		pb.WinRate = 61.5
		pb.SampleSize = 14
		pb.Learned = true
		pb.LastUpdated = baseTime
		require.NoError(t, store.Upsert(ctx, &pb))

		got, err := store.Get(ctx, domain.PhaseBull)
		require.NoError(t, err)
		assert.Equal(t, pb, *got)

		_, err = store.Get(ctx, domain.PhaseBear)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("component stats", func(t *testing.T) {
		truncateAll(t, pool)
		store := NewComponentStatsStore(pool)

		st := &domain.ScoreComponentStats{
			Component:             "volume_spike",
			Correlation:           0.31,
			SampleSize:            44,
			RecommendedMultiplier: 1.186,
			Direction:             domain.DirectionBoost,
			ConsistencyWeeks:      2,
			UpdatedAt:             baseTime,
		}
		require.NoError(t, store.Upsert(ctx, st))

		st.ConsistencyWeeks = 3
		st.CountedAt = baseTime.Add(7 * 24 * time.Hour)
		st.LiveMultiplier = 1.186
		require.NoError(t, store.Upsert(ctx, st))

		got, err := store.Get(ctx, "volume_spike")
		require.NoError(t, err)
		assert.Equal(t, *st, *got)
	})

	t.Run("risk state", func(t *testing.T) {
		truncateAll(t, pool)
		store := NewRiskStateStore(pool)

		_, err := store.Get(ctx)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		st := &domain.RiskState{
			Mode:             domain.RiskModeDefensive,
			Streak:           3,
			PausedUntil:      ptr(baseTime.Add(6 * time.Hour)),
			LastNotifiedMode: domain.RiskModeCautious,
			UpdatedAt:        baseTime,
		}
		require.NoError(t, store.Save(ctx, st))

		got, err := store.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, *st, *got)
	})
}
