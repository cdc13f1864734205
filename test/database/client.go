// Package database provides shared test-database bootstrap helpers for
// integration tests, adapted from the ent-based NewTestClient to spin up
// internal/store's pgx-pool client instead: testcontainers locally, an
// external CI_DATABASE_URL in CI, migrations applied via store.NewClient
// itself rather than ent's Schema.Create.
package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/tarsy/internal/store"
)

// NewTestClient creates a test store.Client, either against CI_DATABASE_URL
// (CI mode) or a throwaway testcontainers Postgres instance (local dev
// mode). The container/pool is torn down automatically at test end.
func NewTestClient(t *testing.T) *store.Client {
	t.Helper()
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		t.Log("using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	} else {
		t.Log("using external PostgreSQL from CI_DATABASE_URL")
	}

	client, err := store.NewClient(ctx, store.Config{DatabaseURL: connStr})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}
