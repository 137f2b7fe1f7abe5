package clickhouse

import (
	"context"
	"fmt"
	"time"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/storage"
)

// GridResultStore implements storage.GridResultStore using ClickHouse.
type GridResultStore struct {
	conn *Conn
}

// NewGridResultStore creates a new GridResultStore.
func NewGridResultStore(conn *Conn) *GridResultStore {
	return &GridResultStore{conn: conn}
}

// Compile-time interface check.
var _ storage.GridResultStore = (*GridResultStore)(nil)

// InsertBulk appends results for a run. Fails entire batch on any duplicate.
// MergeTree does not enforce uniqueness, so duplicates are checked before the batch is sent.
func (s *GridResultStore) InsertBulk(ctx context.Context, results []*domain.GridResult) error {
	if len(results) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(results))
	runs := make(map[string]struct{})
	for _, r := range results {
		if r == nil || r.RunID == "" {
			return storage.ErrInvalidInput
		}
		key := fmt.Sprintf("%s|%d|%d|%s", r.RunID, r.Threshold, r.RegimeFloor, r.MinConfidence)
		if _, exists := seen[key]; exists {
			return storage.ErrDuplicateKey
		}
		seen[key] = struct{}{}
		runs[r.RunID] = struct{}{}
	}

	for runID := range runs {
		existing, err := s.GetByRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		for _, e := range existing {
			key := fmt.Sprintf("%s|%d|%d|%s", e.RunID, e.Threshold, e.RegimeFloor, e.MinConfidence)
			if _, dup := seen[key]; dup {
				return storage.ErrDuplicateKey
			}
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO optimizer_grid_results (
			run_id, threshold, regime_floor, min_confidence,
			sample_size, avg_return, win_rate, drawdown, objective,
			skipped, selected, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range results {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		err = batch.Append(
			r.RunID, int32(r.Threshold), int32(r.RegimeFloor), string(r.MinConfidence),
			uint32(r.SampleSize), r.AvgReturn, r.WinRate, r.Drawdown, r.Objective,
			boolToUInt8(r.Skipped), boolToUInt8(r.Selected), createdAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByRun retrieves results for a run in enumeration order
// (threshold, regime floor, then confidence C, B, A).
func (s *GridResultStore) GetByRun(ctx context.Context, runID string) ([]*domain.GridResult, error) {
	query := `
		SELECT
			run_id, threshold, regime_floor, min_confidence,
			sample_size, avg_return, win_rate, drawdown, objective,
			skipped, selected, created_at
		FROM optimizer_grid_results
		WHERE run_id = ?
		ORDER BY threshold ASC, regime_floor ASC, min_confidence DESC
	`

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query grid results: %w", err)
	}
	defer rows.Close()

	var results []*domain.GridResult
	for rows.Next() {
		var (
			r                 domain.GridResult
			threshold, floor  int32
			conf              string
			n                 uint32
			skipped, selected uint8
		)
		err := rows.Scan(
			&r.RunID, &threshold, &floor, &conf,
			&n, &r.AvgReturn, &r.WinRate, &r.Drawdown, &r.Objective,
			&skipped, &selected, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan grid result row: %w", err)
		}
		r.Threshold = int(threshold)
		r.RegimeFloor = int(floor)
		r.MinConfidence = domain.Confidence(conf)
		r.SampleSize = int(n)
		r.Skipped = skipped == 1
		r.Selected = selected == 1
		r.CreatedAt = r.CreatedAt.UTC()
		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grid result rows: %w", err)
	}
	return results, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
