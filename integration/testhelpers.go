//go:build integration

package integration

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aqasim81/archivedb/internal/catalog"
	"github.com/aqasim81/archivedb/internal/database"
	"github.com/aqasim81/archivedb/internal/executor"
	"github.com/aqasim81/archivedb/internal/upgrade"
)

const (
	postgresImage = "postgres:16-alpine"
	mysqlImage    = "mysql:8.0"
	testDB        = "archivedb_test"
	testUser      = "archivedb"
	testPassword  = "archivedb"
)

// startContainer runs req and returns its host and the mapped port.
// The container is terminated when the test completes.
func startContainer(t *testing.T, req testcontainers.ContainerRequest, port nat.Port) (string, int) {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)

	n, err := strconv.Atoi(mapped.Port())
	require.NoError(t, err)

	return host, n
}

// SetupPostgres starts a PostgreSQL 16 container and returns parameters
// for its test database.
func SetupPostgres(t *testing.T) database.Params {
	t.Helper()

	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       testDB,
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432/tcp")

	return database.Params{
		ClassName:    "postgres",
		DatabaseName: testDB,
		ServerName:   host,
		PortNumber:   port,
		User:         testUser,
		Password:     testPassword,
		Options:      map[string]string{"sslmode": "disable"},
	}
}

// SetupMySQL starts a MySQL 8 container and returns parameters for its
// test database.
func SetupMySQL(t *testing.T) database.Params {
	t.Helper()

	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        mysqlImage,
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_DATABASE":      testDB,
			"MYSQL_USER":          testUser,
			"MYSQL_PASSWORD":      testPassword,
			"MYSQL_ROOT_PASSWORD": testPassword,
		},
		// The init server logs "ready for connections" on port 0 first.
		WaitingFor: wait.ForLog("port: 3306  MySQL Community Server").
			WithStartupTimeout(120 * time.Second),
	}, "3306/tcp")

	return database.Params{
		ClassName:    "mysql",
		DatabaseName: testDB,
		ServerName:   host,
		PortNumber:   port,
		User:         "root",
		Password:     testPassword,
	}
}

// SQLiteParams returns parameters for a fresh database file.
func SQLiteParams(t *testing.T) database.Params {
	t.Helper()

	return database.Params{
		ClassName:    "sqlite",
		DatabaseName: filepath.Join(t.TempDir(), "archive.db"),
	}
}

// Open connects to p and closes the connection when the test completes.
func Open(t *testing.T, p database.Params) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), p)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// NewUpgrader returns an upgrader with the built-in transitions.
func NewUpgrader(t *testing.T, db *database.DB, opts ...upgrade.Option) *upgrade.Upgrader {
	t.Helper()

	cat, err := catalog.Default()
	require.NoError(t, err)

	registry, err := upgrade.DefaultRegistry(cat)
	require.NoError(t, err)

	base := []upgrade.Option{
		upgrade.WithExecutor(executor.New(db.Engine, executor.WithRetryDelay(100*time.Millisecond))),
		upgrade.WithLockTimeout(5 * time.Second),
		upgrade.WithStatementTimeout(time.Minute),
		upgrade.WithBatchSize(2),
	}

	return upgrade.New(db, registry, append(base, opts...)...)
}
