// Package testutil provides shared test infrastructure for storage-backed tests.
//
// SQLite databases live in t.TempDir() and need nothing installed. Postgres
// runs in a container and is opt-in:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.StartPostgresIfEnabled()
//	    code := m.Run()
//	    tc.Terminate()
//	    os.Exit(code)
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/hyoka/internal/storage"
	"github.com/ashita-ai/hyoka/migrations"
)

// PostgresEnv enables container-backed Postgres tests when set to 1.
const PostgresEnv = "HYOKA_TEST_POSTGRES"

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgresIfEnabled starts a Postgres container when PostgresEnv is 1
// and returns nil otherwise. Calls os.Exit(1) on failure (suitable for TestMain).
func StartPostgresIfEnabled() *TestContainer {
	if os.Getenv(PostgresEnv) != "1" {
		return nil
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "hyoka",
			"POSTGRES_PASSWORD": "hyoka",
			"POSTGRES_DB":       "hyoka",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://hyoka:hyoka@%s:%s/hyoka?sslmode=disable", host, port.Port())
	return &TestContainer{Container: container, DSN: dsn}
}

// Terminate stops and removes the container. Safe on nil.
func (tc *TestContainer) Terminate() {
	if tc == nil {
		return
	}
	_ = tc.Container.Terminate(context.Background())
}

// OpenMigrated opens dsn and applies every migration.
func OpenMigrated(ctx context.Context, dsn string, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.Open(ctx, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: open DB: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// SQLiteDSN returns a DSN for a fresh database file under t.TempDir().
func SQLiteDSN(t testing.TB) string {
	t.Helper()
	return "sqlite://" + filepath.Join(t.TempDir(), "hyoka.db")
}

// NewSQLiteDB returns a migrated SQLite database closed at test cleanup.
func NewSQLiteDB(t testing.TB) *storage.DB {
	t.Helper()
	db, err := OpenMigrated(context.Background(), SQLiteDSN(t), TestLogger())
	if err != nil {
		t.Fatalf("%v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
