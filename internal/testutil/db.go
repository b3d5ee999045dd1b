package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kjannette/swapdesk-backend/internal/db"
)

// SetupPool returns a migrated pool for integration tests. TEST_DATABASE_URL
// wins when set; otherwise a throwaway postgres container is started. The
// test is skipped in -short mode or when no container runtime is reachable.
func SetupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	_ = godotenv.Load("../../.env")
	ctx := context.Background()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		if testing.Short() {
			t.Skip("skipping postgres integration test in -short mode")
		}
		dsn = startContainer(t, ctx)
	}

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err, "connect")
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool), "migrate")
	_, err = pool.Exec(ctx, `TRUNCATE users`)
	require.NoError(t, err, "truncate")
	return pool
}

func startContainer(t *testing.T, ctx context.Context) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("swapdesk_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "connection string")
	return dsn
}
