package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/storage"
)

// OutcomeStore implements storage.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	pool *Pool
}

// NewOutcomeStore creates a new OutcomeStore.
func NewOutcomeStore(pool *Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OutcomeStore = (*OutcomeStore)(nil)

const outcomeColumns = `
	id, created_at, symbol, entry_price, score, regime_score, regime_label,
	confidence, lane, source, cycle_phase, components,
	h1_evaluated_at, h1_return, h4_evaluated_at, h4_return, h24_evaluated_at, h24_return,
	status, error_reason`

// Insert adds a new record. Returns ErrDuplicateKey if id exists.
func (s *OutcomeStore) Insert(ctx context.Context, r *domain.OutcomeRecord) error {
	components, err := json.Marshal(componentsOrEmpty(r.Components))
	if err != nil {
		return fmt.Errorf("marshal components: %w", err)
	}

	query := `
		INSERT INTO alert_outcomes (` + outcomeColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err = s.pool.Exec(ctx, query,
		r.ID,
		r.CreatedAt.UTC(),
		r.Symbol,
		r.EntryPrice,
		r.Score,
		r.RegimeScore,
		r.RegimeLabel,
		string(r.Confidence),
		r.Lane,
		r.Source,
		string(r.CyclePhase),
		components,
		r.H1.EvaluatedAt, r.H1.ReturnPct,
		r.H4.EvaluatedAt, r.H4.ReturnPct,
		r.H24.EvaluatedAt, r.H24.ReturnPct,
		string(r.Status),
		r.ErrorReason,
	)
	if err != nil {
		return mapError("insert outcome", err)
	}
	return nil
}

// GetByID retrieves a record. Returns ErrNotFound if not exists.
func (s *OutcomeStore) GetByID(ctx context.Context, id string) (*domain.OutcomeRecord, error) {
	query := `SELECT ` + outcomeColumns + ` FROM alert_outcomes WHERE id = $1`

	r, err := scanOutcome(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError("get outcome by id", err)
	}
	return r, nil
}

// List retrieves records matching f, ordered by created_at then id.
func (s *OutcomeStore) List(ctx context.Context, f storage.OutcomeFilter) ([]*domain.OutcomeRecord, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !f.Since.IsZero() {
		where = append(where, "created_at >= "+arg(f.Since.UTC()))
	}
	if !f.Until.IsZero() {
		where = append(where, "created_at < "+arg(f.Until.UTC()))
	}
	if f.Symbol != "" {
		where = append(where, "symbol = "+arg(f.Symbol))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if f.Resolved != "" {
		col, err := returnColumn(f.Resolved)
		if err != nil {
			return nil, err
		}
		where = append(where, col+" IS NOT NULL")
	}

	query := `SELECT ` + outcomeColumns + ` FROM alert_outcomes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.NewestFirst {
		query += " ORDER BY created_at DESC, id DESC"
	} else {
		query += " ORDER BY created_at ASC, id ASC"
	}
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var result []*domain.OutcomeRecord
	for rows.Next() {
		r, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return result, nil
}

// SetHorizon writes a horizon result only if that horizon is still unset.
// The IS NULL guard makes concurrent evaluators safe without a lock.
func (s *OutcomeStore) SetHorizon(ctx context.Context, id string, h domain.Horizon, at time.Time, returnPct float64) (bool, error) {
	col, err := returnColumn(h)
	if err != nil {
		return false, err
	}
	prefix := strings.TrimSuffix(col, "_return")

	query := fmt.Sprintf(`
		UPDATE alert_outcomes
		SET %s_evaluated_at = $2, %s_return = $3
		WHERE id = $1 AND %s_return IS NULL
	`, prefix, prefix, prefix)

	tag, err := s.pool.Exec(ctx, query, id, at.UTC(), returnPct)
	if err != nil {
		return false, fmt.Errorf("set horizon %s: %w", h, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish "already set" from "no such row".
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM alert_outcomes WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check outcome exists: %w", err)
	}
	if !exists {
		return false, storage.ErrNotFound
	}
	return false, nil
}

// SetStatus updates status and error reason. Returns ErrNotFound if not exists.
func (s *OutcomeStore) SetStatus(ctx context.Context, id string, status domain.OutcomeStatus, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_outcomes SET status = $2, error_reason = $3 WHERE id = $1`,
		id, string(status), reason,
	)
	if err != nil {
		return fmt.Errorf("set outcome status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecentRegimeScores returns the regime scores of the latest limit records, oldest first.
func (s *OutcomeStore) RecentRegimeScores(ctx context.Context, limit int) ([]float64, error) {
	query := `
		SELECT regime_score FROM (
			SELECT regime_score, created_at, id
			FROM alert_outcomes
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		) recent
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("recent regime scores: %w", err)
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan regime score: %w", err)
		}
		scores = append(scores, v)
	}
	return scores, rows.Err()
}

// CountByStatus returns row counts per status.
func (s *OutcomeStore) CountByStatus(ctx context.Context) (map[domain.OutcomeStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM alert_outcomes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count outcomes by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.OutcomeStatus]int)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.OutcomeStatus(status)] = int(n)
	}
	return counts, rows.Err()
}

// returnColumn maps a horizon to its return column. Column names never come from input.
func returnColumn(h domain.Horizon) (string, error) {
	switch h {
	case domain.Horizon1h:
		return "h1_return", nil
	case domain.Horizon4h:
		return "h4_return", nil
	case domain.Horizon24h:
		return "h24_return", nil
	default:
		return "", fmt.Errorf("%w: horizon %q", storage.ErrInvalidInput, h)
	}
}

func componentsOrEmpty(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

// scanOutcome scans a single row into an OutcomeRecord.
func scanOutcome(row pgx.Row) (*domain.OutcomeRecord, error) {
	var (
		r                         domain.OutcomeRecord
		confidence, phase, status string
		components                []byte
	)

	err := row.Scan(
		&r.ID,
		&r.CreatedAt,
		&r.Symbol,
		&r.EntryPrice,
		&r.Score,
		&r.RegimeScore,
		&r.RegimeLabel,
		&confidence,
		&r.Lane,
		&r.Source,
		&phase,
		&components,
		&r.H1.EvaluatedAt, &r.H1.ReturnPct,
		&r.H4.EvaluatedAt, &r.H4.ReturnPct,
		&r.H24.EvaluatedAt, &r.H24.ReturnPct,
		&status,
		&r.ErrorReason,
	)
	if err != nil {
		return nil, err
	}

	r.CreatedAt = r.CreatedAt.UTC()
	r.Confidence = domain.Confidence(confidence)
	r.CyclePhase = domain.Phase(phase)
	r.Status = domain.OutcomeStatus(status)
	for _, t := range []*time.Time{r.H1.EvaluatedAt, r.H4.EvaluatedAt, r.H24.EvaluatedAt} {
		if t != nil {
			*t = t.UTC()
		}
	}
	if len(components) > 0 {
		if err := json.Unmarshal(components, &r.Components); err != nil {
			return nil, fmt.Errorf("unmarshal components: %w", err)
		}
	}
	return &r, nil
}
