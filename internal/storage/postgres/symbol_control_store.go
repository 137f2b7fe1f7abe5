package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/storage"
)

// SymbolControlStore implements storage.SymbolControlStore using PostgreSQL.
type SymbolControlStore struct {
	pool *Pool
}

// NewSymbolControlStore creates a new SymbolControlStore.
func NewSymbolControlStore(pool *Pool) *SymbolControlStore {
	return &SymbolControlStore{pool: pool}
}

var _ storage.SymbolControlStore = (*SymbolControlStore)(nil)

// Upsert inserts or replaces the row for c.Symbol. Last writer wins.
func (s *SymbolControlStore) Upsert(ctx context.Context, c *domain.SymbolControl) error {
	if c == nil || c.Symbol == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO symbol_controls (symbol, cooldown_until, blacklist_until, reason, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol) DO UPDATE SET
			cooldown_until = EXCLUDED.cooldown_until,
			blacklist_until = EXCLUDED.blacklist_until,
			reason = EXCLUDED.reason,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query, c.Symbol, utcPtr(c.CooldownUntil), utcPtr(c.BlacklistUntil), c.Reason, c.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert symbol control: %w", err)
	}
	return nil
}

// Get retrieves a control by symbol. Returns ErrNotFound if not exists.
func (s *SymbolControlStore) Get(ctx context.Context, symbol string) (*domain.SymbolControl, error) {
	query := `
		SELECT symbol, cooldown_until, blacklist_until, reason, updated_at
		FROM symbol_controls
		WHERE symbol = $1
	`

	c, err := scanSymbolControl(s.pool.QueryRow(ctx, query, symbol))
	if err != nil {
		return nil, mapError("get symbol control", err)
	}
	return c, nil
}

// List retrieves all controls ordered by symbol.
func (s *SymbolControlStore) List(ctx context.Context) ([]*domain.SymbolControl, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, cooldown_until, blacklist_until, reason, updated_at
		FROM symbol_controls
		ORDER BY symbol ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list symbol controls: %w", err)
	}
	defer rows.Close()

	var result []*domain.SymbolControl
	for rows.Next() {
		c, err := scanSymbolControl(rows)
		if err != nil {
			return nil, fmt.Errorf("scan symbol control: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// DeleteExpired removes rows with no gate active at now.
func (s *SymbolControlStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM symbol_controls
		WHERE (cooldown_until IS NULL OR cooldown_until <= $1)
		  AND (blacklist_until IS NULL OR blacklist_until <= $1)
	`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired symbol controls: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanSymbolControl(row pgx.Row) (*domain.SymbolControl, error) {
	var c domain.SymbolControl
	if err := row.Scan(&c.Symbol, &c.CooldownUntil, &c.BlacklistUntil, &c.Reason, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.CooldownUntil = utcPtr(c.CooldownUntil)
	c.BlacklistUntil = utcPtr(c.BlacklistUntil)
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
