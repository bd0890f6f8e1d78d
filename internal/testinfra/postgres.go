// Package testinfra starts throwaway databases for integration tests.
package testinfra

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	PostgresImage    = "postgres:16-alpine"
	PostgresUser     = "postgres"
	PostgresPassword = "postgres"
	PostgresDB       = "bulkload"

	// EnvIntegration enables integration tests when set to "1".
	EnvIntegration = "BULKLOAD_INTEGRATION"
	// EnvTestDSN points tests at an existing server instead of a container.
	EnvTestDSN = "BULKLOAD_TEST_DSN"
)

type PostgresContainer struct {
	*postgres.PostgresContainer
	ConnString string
}

// StartPostgres runs a disposable Postgres container.
func StartPostgres(ctx context.Context) (*PostgresContainer, error) {
	ctr, err := postgres.Run(ctx,
		PostgresImage,
		postgres.WithUsername(PostgresUser),
		postgres.WithPassword(PostgresPassword),
		postgres.WithDatabase(PostgresDB),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		ctr.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get connection string: %w", err)
	}
	return &PostgresContainer{PostgresContainer: ctr, ConnString: connStr}, nil
}

// PostgresDSN returns a DSN for integration tests, skipping t unless
// BULKLOAD_INTEGRATION=1. BULKLOAD_TEST_DSN wins over starting a container.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	if os.Getenv(EnvIntegration) != "1" {
		t.Skip("skipping integration test: set " + EnvIntegration + "=1 to run")
	}
	if dsn := os.Getenv(EnvTestDSN); dsn != "" {
		return dsn
	}

	ctx := context.Background()
	ctr, err := StartPostgres(ctx)
	if err != nil {
		t.Fatalf("testinfra: %v", err)
	}
	t.Cleanup(func() {
		ctr.Terminate(context.Background()) //nolint:errcheck
	})
	return ctr.ConnString
}
