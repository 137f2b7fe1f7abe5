package postgres

import (
	"context"
	"fmt"
	"time"

	"alert-tuning-lab/internal/storage"
)

// ScanRunStore implements storage.ScanRunStore using PostgreSQL.
type ScanRunStore struct {
	pool *Pool
}

// NewScanRunStore creates a new ScanRunStore.
func NewScanRunStore(pool *Pool) *ScanRunStore {
	return &ScanRunStore{pool: pool}
}

var _ storage.ScanRunStore = (*ScanRunStore)(nil)

// Insert records a scanner heartbeat.
func (s *ScanRunStore) Insert(ctx context.Context, at time.Time) error {
	if at.IsZero() {
		return storage.ErrInvalidInput
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO scan_runs (ran_at) VALUES ($1)`, at.UTC()); err != nil {
		return fmt.Errorf("insert scan run: %w", err)
	}
	return nil
}

// CountSince counts heartbeats with ran_at >= since.
func (s *ScanRunStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM scan_runs WHERE ran_at >= $1`, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count scan runs: %w", err)
	}
	return int(n), nil
}
