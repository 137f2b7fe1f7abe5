package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/storage"
)

// ComponentStatsStore implements storage.ComponentStatsStore using PostgreSQL.
type ComponentStatsStore struct {
	pool *Pool
}

// NewComponentStatsStore creates a new ComponentStatsStore.
func NewComponentStatsStore(pool *Pool) *ComponentStatsStore {
	return &ComponentStatsStore{pool: pool}
}

var _ storage.ComponentStatsStore = (*ComponentStatsStore)(nil)

const componentColumns = `
	component, correlation, sample_size, recommended_multiplier, direction,
	consistency_weeks, counted_at, live_multiplier, updated_at`

// Upsert inserts or replaces the stats for st.Component.
func (s *ComponentStatsStore) Upsert(ctx context.Context, st *domain.ScoreComponentStats) error {
	if st == nil || st.Component == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO score_component_stats (` + componentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (component) DO UPDATE SET
			correlation = EXCLUDED.correlation,
			sample_size = EXCLUDED.sample_size,
			recommended_multiplier = EXCLUDED.recommended_multiplier,
			direction = EXCLUDED.direction,
			consistency_weeks = EXCLUDED.consistency_weeks,
			counted_at = EXCLUDED.counted_at,
			live_multiplier = EXCLUDED.live_multiplier,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		st.Component, st.Correlation, st.SampleSize, st.RecommendedMultiplier, st.Direction.String(),
		st.ConsistencyWeeks, nullTime(st.CountedAt), st.LiveMultiplier, st.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert component stats: %w", err)
	}
	return nil
}

// Get retrieves stats by component. Returns ErrNotFound if not exists.
func (s *ComponentStatsStore) Get(ctx context.Context, component string) (*domain.ScoreComponentStats, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+componentColumns+` FROM score_component_stats WHERE component = $1`, component)
	st, err := scanComponentStats(row)
	if err != nil {
		return nil, mapError("get component stats", err)
	}
	return st, nil
}

// List retrieves all stats ordered by component.
func (s *ComponentStatsStore) List(ctx context.Context) ([]*domain.ScoreComponentStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+componentColumns+` FROM score_component_stats ORDER BY component ASC`)
	if err != nil {
		return nil, fmt.Errorf("list component stats: %w", err)
	}
	defer rows.Close()

	var result []*domain.ScoreComponentStats
	for rows.Next() {
		st, err := scanComponentStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scan component stats: %w", err)
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

func scanComponentStats(row pgx.Row) (*domain.ScoreComponentStats, error) {
	var (
		st        domain.ScoreComponentStats
		direction string
		counted   *time.Time
	)
	err := row.Scan(
		&st.Component, &st.Correlation, &st.SampleSize, &st.RecommendedMultiplier, &direction,
		&st.ConsistencyWeeks, &counted, &st.LiveMultiplier, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.Direction, err = domain.ParseDirection(direction)
	if err != nil {
		return nil, err
	}
	if counted != nil {
		st.CountedAt = counted.UTC()
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return &st, nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
