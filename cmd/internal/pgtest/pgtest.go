//go:build integration

// Package pgtest starts a throwaway PostgreSQL for integration tests and
// applies the embedded migrations to it.
package pgtest

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"instant/cmd/internal/migrations"
)

// EnvDatabaseURL points the tests at an existing database instead of a container.
const EnvDatabaseURL = "INSTANT_TEST_DATABASE_URL"

// Open returns a migrated pool. The pool and any container are released on test cleanup.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dsn := strings.TrimSpace(os.Getenv(EnvDatabaseURL))
	if dsn == "" {
		container, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("instant"),
			postgres.WithUsername("instant"),
			postgres.WithPassword("instant"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		require.NoError(t, err, "start postgres container")
		t.Cleanup(func() { _ = container.Terminate(context.Background()) })

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Ping(ctx))
	_, err = migrations.UpPool(ctx, pool)
	require.NoError(t, err, "apply migrations")

	return pool
}

// Truncate empties the application tables between tests sharing a database.
func Truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `TRUNCATE posts, users`)
	require.NoError(t, err)
}
