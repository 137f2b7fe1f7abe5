package postgres

import (
	"context"
	"fmt"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/storage"
)

// RiskStateStore implements storage.RiskStateStore using the single-row risk_state table.
type RiskStateStore struct {
	pool *Pool
}

// NewRiskStateStore creates a new RiskStateStore.
func NewRiskStateStore(pool *Pool) *RiskStateStore {
	return &RiskStateStore{pool: pool}
}

var _ storage.RiskStateStore = (*RiskStateStore)(nil)

// Get retrieves the state. Returns ErrNotFound if never saved.
func (s *RiskStateStore) Get(ctx context.Context) (*domain.RiskState, error) {
	var (
		st                 domain.RiskState
		mode, lastNotified string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT mode, streak, paused_until, last_notified_mode, updated_at
		FROM risk_state WHERE id = 1
	`).Scan(&mode, &st.Streak, &st.PausedUntil, &lastNotified, &st.UpdatedAt)
	if err != nil {
		return nil, mapError("get risk state", err)
	}

	if st.Mode, err = domain.ParseRiskMode(mode); err != nil {
		return nil, fmt.Errorf("get risk state: %w", err)
	}
	if st.LastNotifiedMode, err = domain.ParseRiskMode(lastNotified); err != nil {
		return nil, fmt.Errorf("get risk state: %w", err)
	}
	st.PausedUntil = utcPtr(st.PausedUntil)
	st.UpdatedAt = st.UpdatedAt.UTC()
	return &st, nil
}

// Save replaces the state.
func (s *RiskStateStore) Save(ctx context.Context, st *domain.RiskState) error {
	if st == nil {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO risk_state (id, mode, streak, paused_until, last_notified_mode, updated_at)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			mode = EXCLUDED.mode,
			streak = EXCLUDED.streak,
			paused_until = EXCLUDED.paused_until,
			last_notified_mode = EXCLUDED.last_notified_mode,
			updated_at = EXCLUDED.updated_at
	`, st.Mode.String(), st.Streak, utcPtr(st.PausedUntil), st.LastNotifiedMode.String(), st.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save risk state: %w", err)
	}
	return nil
}
