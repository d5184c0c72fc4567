//go:build integration

package testutil

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// SetupPostgres starts a disposable PostgreSQL container and returns its
// connection string. The container is terminated when the test ends.
func SetupPostgres(t testing.TB) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("dataindexer_test"),
		postgres.WithUsername("dataindexer"),
		postgres.WithPassword("dataindexer"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	return connStr
}

// SetupPostgresPool is SetupPostgres with a connected pool, closed on
// cleanup.
func SetupPostgresPool(t testing.TB) *pgxpool.Pool {
	t.Helper()
	connStr := SetupPostgres(t)

	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}
