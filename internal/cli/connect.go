package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aqasim81/archivedb/internal/catalog"
	"github.com/aqasim81/archivedb/internal/config"
	"github.com/aqasim81/archivedb/internal/database"
	"github.com/aqasim81/archivedb/internal/executor"
	"github.com/aqasim81/archivedb/internal/upgrade"
)

// errDatabaseRequired is returned when no connection spec is configured.
var errDatabaseRequired = errors.New( //nolint:gochecknoglobals // sentinel error
	"database is required (set --database, ARCHIVEDB_DATABASE, or database in config)",
)

// openDatabase parses spec and connects to it.
func openDatabase(ctx context.Context, spec string, out io.Writer) (*database.DB, error) {
	if spec == "" {
		return nil, errDatabaseRequired
	}

	params, err := database.ParseParams(spec)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(out, "Connecting to %s\n", config.RedactSpec(spec))

	db, err := database.Open(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return db, nil
}

func executorOptions(cfg *config.Config) []executor.Option {
	return []executor.Option{
		executor.WithMaxRetries(cfg.MaxRetries),
		executor.WithRetryDelay(cfg.RetryDelay),
		executor.WithLogger(appLog),
	}
}

// newUpgrader builds an upgrader for db using the built-in transitions.
func newUpgrader(db *database.DB, cfg *config.Config, opts ...upgrade.Option) (*upgrade.Upgrader, error) {
	cat, err := catalog.Default()
	if err != nil {
		return nil, err
	}

	registry, err := upgrade.DefaultRegistry(cat)
	if err != nil {
		return nil, err
	}

	base := []upgrade.Option{
		upgrade.WithExecutor(executor.New(db.Engine, executorOptions(cfg)...)),
		upgrade.WithSystem(cfg.System),
		upgrade.WithLockTimeout(cfg.LockTimeout),
		upgrade.WithStatementTimeout(cfg.StatementTimeout),
		upgrade.WithBatchSize(cfg.BackfillBatchSize),
		upgrade.WithLogger(appLog),
	}

	return upgrade.New(db, registry, append(base, opts...)...), nil
}

// resolveTarget returns the requested version, or the latest known one
// when none was requested.
func resolveTarget(requested int, u *upgrade.Upgrader) int {
	if requested > 0 {
		return requested
	}

	return u.Latest()
}
