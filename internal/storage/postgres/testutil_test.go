package postgres

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts PostgreSQL with the schema files mounted as init scripts.
// The migrations package imports this one, so the embedded runner cannot be
// used from here; the container entrypoint applies the same files instead.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	scripts, err := filepath.Glob(filepath.Join("..", "migrations", "postgres", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, scripts, "no migration files found")
	sort.Strings(scripts)

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("tuning"),
		postgres.WithUsername("tuning"),
		postgres.WithPassword("tuning"),
		postgres.WithInitScripts(scripts...),
		testcontainers.WithWaitStrategy(
			// the server restarts once after init scripts run
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	return pool, func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}

// truncateAll resets state between subtests sharing one container.
func truncateAll(t *testing.T, pool *Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		TRUNCATE alert_outcomes, scan_runs, symbol_controls, cycle_playbooks, score_component_stats, risk_state
	`)
	require.NoError(t, err)
}
