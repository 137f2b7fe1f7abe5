package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/storage"
)

// PlaybookStore implements storage.PlaybookStore using PostgreSQL.
type PlaybookStore struct {
	pool *Pool
}

// NewPlaybookStore creates a new PlaybookStore.
func NewPlaybookStore(pool *Pool) *PlaybookStore {
	return &PlaybookStore{pool: pool}
}

var _ storage.PlaybookStore = (*PlaybookStore)(nil)

const playbookColumns = `
	phase, stop_loss_pct, tp1_pct, tp2_pct, trailing_pct, max_hold_hours,
	threshold_delta, size_multiplier, win_rate, avg_return, sample_size, learned, last_updated`

// Upsert inserts or replaces the playbook for p.Phase.
func (s *PlaybookStore) Upsert(ctx context.Context, p *domain.CyclePlaybook) error {
	if p == nil || !p.Phase.IsValid() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO cycle_playbooks (` + playbookColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (phase) DO UPDATE SET
			stop_loss_pct = EXCLUDED.stop_loss_pct,
			tp1_pct = EXCLUDED.tp1_pct,
			tp2_pct = EXCLUDED.tp2_pct,
			trailing_pct = EXCLUDED.trailing_pct,
			max_hold_hours = EXCLUDED.max_hold_hours,
			threshold_delta = EXCLUDED.threshold_delta,
			size_multiplier = EXCLUDED.size_multiplier,
			win_rate = EXCLUDED.win_rate,
			avg_return = EXCLUDED.avg_return,
			sample_size = EXCLUDED.sample_size,
			learned = EXCLUDED.learned,
			last_updated = EXCLUDED.last_updated
	`

	_, err := s.pool.Exec(ctx, query,
		string(p.Phase), p.StopLossPct, p.TP1Pct, p.TP2Pct, p.TrailingPct, p.MaxHoldHours,
		p.ThresholdDelta, p.SizeMultiplier, p.WinRate, p.AvgReturn, p.SampleSize, p.Learned, p.LastUpdated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert playbook: %w", err)
	}
	return nil
}

// Get retrieves a playbook by phase. Returns ErrNotFound if not exists.
func (s *PlaybookStore) Get(ctx context.Context, phase domain.Phase) (*domain.CyclePlaybook, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+playbookColumns+` FROM cycle_playbooks WHERE phase = $1`, string(phase))
	p, err := scanPlaybook(row)
	if err != nil {
		return nil, mapError("get playbook", err)
	}
	return p, nil
}

// List retrieves all stored playbooks ordered by phase.
func (s *PlaybookStore) List(ctx context.Context) ([]*domain.CyclePlaybook, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+playbookColumns+` FROM cycle_playbooks ORDER BY phase ASC`)
	if err != nil {
		return nil, fmt.Errorf("list playbooks: %w", err)
	}
	defer rows.Close()

	var result []*domain.CyclePlaybook
	for rows.Next() {
		p, err := scanPlaybook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan playbook: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func scanPlaybook(row pgx.Row) (*domain.CyclePlaybook, error) {
	var (
		p     domain.CyclePlaybook
		phase string
	)
	err := row.Scan(
		&phase, &p.StopLossPct, &p.TP1Pct, &p.TP2Pct, &p.TrailingPct, &p.MaxHoldHours,
		&p.ThresholdDelta, &p.SizeMultiplier, &p.WinRate, &p.AvgReturn, &p.SampleSize, &p.Learned, &p.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	p.Phase = domain.Phase(phase)
	p.LastUpdated = p.LastUpdated.UTC()
	return &p, nil
}
