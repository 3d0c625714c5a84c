package database

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupSQLiteDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(context.Background(), Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "signs.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// setupPostgresDB starts a throwaway postgres container and applies the
// repository migrations. Skipped unless SIGNASSIST_PG_TESTS=1.
func setupPostgresDB(t *testing.T) *DB {
	t.Helper()
	if os.Getenv("SIGNASSIST_PG_TESTS") != "1" {
		t.Skip("set SIGNASSIST_PG_TESTS=1 to run postgres tests")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("signassist_test"),
		postgres.WithUsername("signassist_test"),
		postgres.WithPassword("signassist_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := NewDB(ctx, Config{
		Type:     "postgres",
		Host:     host,
		Port:     port.Int(),
		User:     "signassist_test",
		Password: "signassist_test_password",
		Name:     "signassist_test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = NewMigrator(db.Conn(), db.Type()).Run(ctx, migrationsDir(t))
	require.NoError(t, err)
	return db
}

func migrationsDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}
