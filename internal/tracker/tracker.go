// Package tracker reads and records schema versions in the version table.
// A database without the table is at version 0. The current version of a
// system is the highest value recorded for it, so stale lower rows are
// harmless.
package tracker

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aqasim81/archivedb/internal/dialect"
	"github.com/aqasim81/archivedb/internal/executor"
	"github.com/aqasim81/archivedb/internal/metadata"
)

// Tracker manages the version table of one database.
type Tracker struct {
	q    executor.Queryer
	exec *executor.Executor
}

// New creates a Tracker reading through q.
func New(q executor.Queryer, exec *executor.Executor) *Tracker {
	return &Tracker{q: q, exec: exec}
}

// Exists reports whether the version table exists.
func (t *Tracker) Exists(ctx context.Context) (bool, error) {
	inspector, err := metadata.New(t.q, t.exec)
	if err != nil {
		return false, err
	}

	exists, err := inspector.TableExists(ctx, TableName)
	if err != nil {
		return false, fmt.Errorf("checking for version table: %w", err)
	}

	return exists, nil
}

// EnsureTable creates the version table if it does not exist.
func (t *Tracker) EnsureTable(ctx context.Context) error {
	ddl := dialect.LocalizeCreateStatement(createTableSQL, t.exec.Engine())

	if _, err := t.exec.Exec(ctx, t.q, ddl); err != nil {
		return fmt.Errorf("%w: %w", ErrTableCreation, err)
	}

	return nil
}

// CurrentVersion returns the highest version recorded for system, or 0
// when nothing is recorded or the table does not exist.
func (t *Tracker) CurrentVersion(ctx context.Context, system string) (int, error) {
	exists, err := t.Exists(ctx)
	if err != nil || !exists {
		return 0, err
	}

	var current sql.NullInt64

	err = t.exec.QueryRow(ctx, t.q,
		"SELECT MAX(version) FROM version WHERE system_name = ?",
		[]any{system}, &current,
	)
	if err != nil {
		return 0, fmt.Errorf("reading current version of %s: %w", system, err)
	}

	return int(current.Int64), nil
}

// IsCompleted reports whether system has reached version n.
func (t *Tracker) IsCompleted(ctx context.Context, system string, n int) (bool, error) {
	current, err := t.CurrentVersion(ctx, system)
	if err != nil {
		return false, err
	}

	return current >= n, nil
}

// Record stores version n for system through q, which may be a transaction
// shared with the work the version marks. Recording a version twice leaves
// a single row.
func (t *Tracker) Record(ctx context.Context, q executor.Queryer, system string, n int) error {
	var count int

	err := t.exec.QueryRow(ctx, q,
		"SELECT COUNT(*) FROM version WHERE system_name = ? AND version = ?",
		[]any{system, n}, &count,
	)
	if err != nil {
		return fmt.Errorf("checking version %d of %s: %w", n, system, err)
	}

	if count > 0 {
		return nil
	}

	if _, err := t.exec.Exec(ctx, q,
		"INSERT INTO version (system_name, version) VALUES (?, ?)", system, n,
	); err != nil {
		return fmt.Errorf("recording version %d of %s: %w", n, system, err)
	}

	return nil
}

// History returns every version recorded for system in ascending order.
func (t *Tracker) History(ctx context.Context, system string) ([]int, error) {
	exists, err := t.Exists(ctx)
	if err != nil || !exists {
		return nil, err
	}

	rows, err := t.exec.Query(ctx, t.q,
		"SELECT version FROM version WHERE system_name = ? ORDER BY version", system)
	if err != nil {
		return nil, fmt.Errorf("reading version history of %s: %w", system, err)
	}
	defer rows.Close()

	var history []int

	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}

		history = append(history, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading version history of %s: %w", system, err)
	}

	return history, nil
}
