package storage

import (
	"context"
	"time"

	"alert-tuning-lab/internal/domain"
)

// OutcomeFilter selects ledger rows. Zero values mean "no constraint".
type OutcomeFilter struct {
	Since    time.Time // created_at >= Since
	Until    time.Time // created_at < Until
	Symbol   string
	Statuses []domain.OutcomeStatus

	// Resolved keeps only records whose horizon is set.
	Resolved domain.Horizon

	Limit int

	// NewestFirst orders by created_at DESC; default is created_at ASC.
	NewestFirst bool
}

// OutcomeStore provides access to alert_outcomes storage (the outcome ledger).
type OutcomeStore interface {
	// Insert adds a new record. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, r *domain.OutcomeRecord) error

	// GetByID retrieves a record. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.OutcomeRecord, error)

	// List retrieves records matching f, ordered by created_at then id.
	List(ctx context.Context, f OutcomeFilter) ([]*domain.OutcomeRecord, error)

	// SetHorizon writes a horizon result only if that horizon is still unset.
	// Returns false when it was already resolved. Returns ErrNotFound if not exists.
	SetHorizon(ctx context.Context, id string, h domain.Horizon, at time.Time, returnPct float64) (bool, error)

	// SetStatus updates status and error reason. Returns ErrNotFound if not exists.
	SetStatus(ctx context.Context, id string, status domain.OutcomeStatus, reason string) error

	// RecentRegimeScores returns the regime scores of the latest limit records,
	// oldest first.
	RecentRegimeScores(ctx context.Context, limit int) ([]float64, error)

	// CountByStatus returns row counts per status.
	CountByStatus(ctx context.Context) (map[domain.OutcomeStatus]int, error)
}

// ScanRunStore provides access to scan_runs storage.
type ScanRunStore interface {
	// Insert records a scanner heartbeat.
	Insert(ctx context.Context, at time.Time) error

	// CountSince counts heartbeats with ran_at >= since.
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// SymbolControlStore provides access to symbol_controls storage.
// One row per symbol; Upsert is last-writer-wins.
type SymbolControlStore interface {
	// Upsert inserts or replaces the row for c.Symbol.
	Upsert(ctx context.Context, c *domain.SymbolControl) error

	// Get retrieves a control by symbol. Returns ErrNotFound if not exists.
	Get(ctx context.Context, symbol string) (*domain.SymbolControl, error)

	// List retrieves all controls ordered by symbol.
	List(ctx context.Context) ([]*domain.SymbolControl, error)

	// DeleteExpired removes rows with no gate active at now. Returns rows removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// PlaybookStore provides access to cycle_playbooks storage.
type PlaybookStore interface {
	// Upsert inserts or replaces the playbook for p.Phase.
	Upsert(ctx context.Context, p *domain.CyclePlaybook) error

	// Get retrieves a playbook by phase. Returns ErrNotFound if not exists.
	Get(ctx context.Context, phase domain.Phase) (*domain.CyclePlaybook, error)

	// List retrieves all stored playbooks ordered by phase.
	List(ctx context.Context) ([]*domain.CyclePlaybook, error)
}

// ComponentStatsStore provides access to score_component_stats storage.
type ComponentStatsStore interface {
	// Upsert inserts or replaces the stats for s.Component.
	Upsert(ctx context.Context, s *domain.ScoreComponentStats) error

	// Get retrieves stats by component. Returns ErrNotFound if not exists.
	Get(ctx context.Context, component string) (*domain.ScoreComponentStats, error)

	// List retrieves all stats ordered by component.
	List(ctx context.Context) ([]*domain.ScoreComponentStats, error)
}

// RiskStateStore provides access to the single-row risk_state storage.
type RiskStateStore interface {
	// Get retrieves the state. Returns ErrNotFound if never saved.
	Get(ctx context.Context) (*domain.RiskState, error)

	// Save replaces the state.
	Save(ctx context.Context, s *domain.RiskState) error
}

// GridResultStore provides access to optimizer_grid_results analytics storage.
type GridResultStore interface {
	// InsertBulk appends results. Fails entire batch on duplicate
	// (run_id, threshold, regime_floor, min_confidence).
	InsertBulk(ctx context.Context, results []*domain.GridResult) error

	// GetByRun retrieves results for a run in enumeration order.
	GetByRun(ctx context.Context, runID string) ([]*domain.GridResult, error)
}
