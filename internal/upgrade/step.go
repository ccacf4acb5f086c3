package upgrade

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aqasim81/archivedb/internal/catalog"
	"github.com/aqasim81/archivedb/internal/database"
	"github.com/aqasim81/archivedb/internal/dialect"
	"github.com/aqasim81/archivedb/internal/executor"
	"github.com/aqasim81/archivedb/internal/metadata"
)

// Step is what a transition body works through. Statements run on one
// auto-commit session, or inside the transaction opened by InTransaction.
// Every schema helper checks for the element first, so a repeated
// transition issues no DDL for work already done.
type Step struct {
	conn      *sql.Conn
	tx        *sql.Tx
	exec      *executor.Executor
	catalog   *catalog.Catalog
	version   int
	batchSize int
	log       zerolog.Logger
}

func (s *Step) q() executor.Queryer {
	if s.tx != nil {
		return s.tx
	}

	return s.conn
}

// Engine returns the engine of the database being upgraded.
func (s *Step) Engine() dialect.Engine {
	return s.exec.Engine()
}

// Version returns the version the running transition leads to.
func (s *Step) Version() int {
	return s.version
}

// BatchSize returns the number of rows a backfill should touch per commit.
func (s *Step) BatchSize() int {
	return s.batchSize
}

// Logger returns the logger of the running transition.
func (s *Step) Logger() *zerolog.Logger {
	return &s.log
}

// Exec runs a statement. A CREATE INDEX CONCURRENTLY inside a transaction
// is rejected before it reaches PostgreSQL.
func (s *Step) Exec(ctx context.Context, query string, args ...any) error {
	if s.tx != nil && s.Engine() == dialect.Postgres {
		concurrent, err := executor.ContainsConcurrentIndex(dialect.Rebind(query, dialect.Postgres))
		if err != nil {
			return err
		}

		if concurrent {
			return executor.ErrConcurrentIndexInTransaction
		}
	}

	_, err := s.exec.Exec(ctx, s.q(), query, args...)

	return err
}

// Update runs a data modification and returns the number of rows affected.
func (s *Step) Update(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.exec.Exec(ctx, s.q(), query, args...)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}

	return n, nil
}

// Query runs a query. The caller closes the rows.
func (s *Step) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.exec.Query(ctx, s.q(), query, args...)
}

// Prepare prepares a statement for repeated use with RunUpdate.
func (s *Step) Prepare(ctx context.Context, query string) (*executor.Statement, error) {
	return s.exec.Prepare(ctx, s.q(), query)
}

// RunUpdate executes a prepared statement.
func (s *Step) RunUpdate(ctx context.Context, stmt *executor.Statement, args ...any) (int64, error) {
	return s.exec.RunUpdate(ctx, stmt, args...)
}

// InTransaction runs fn with a Step bound to a new transaction, committing
// when fn succeeds. Inside a transaction fn joins the current one.
func (s *Step) InTransaction(ctx context.Context, fn func(tx *Step) error) error {
	if s.tx != nil {
		return fn(s)
	}

	return s.exec.ExecInTransaction(ctx, s.conn, func(tx *sql.Tx) error {
		inner := *s
		inner.tx = tx

		return fn(&inner)
	})
}

func (s *Step) inspector() (*metadata.Inspector, error) {
	return metadata.New(s.q(), s.exec)
}

// TableExists reports whether table exists.
func (s *Step) TableExists(ctx context.Context, table string) (bool, error) {
	in, err := s.inspector()
	if err != nil {
		return false, err
	}

	return in.TableExists(ctx, table)
}

// ColumnExists reports whether table has column.
func (s *Step) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	in, err := s.inspector()
	if err != nil {
		return false, err
	}

	return in.ColumnExists(ctx, table, column)
}

// CreateTable creates table from its catalog definition at the transition's
// version, unless it already exists.
func (s *Step) CreateTable(ctx context.Context, table string) error {
	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return err
	}

	if exists {
		s.log.Debug().Str("table", table).Msg("table exists")

		return nil
	}

	if s.catalog == nil {
		return fmt.Errorf("%w: %s", catalog.ErrUnknownTable, table)
	}

	entry, err := s.catalog.Definition(table, s.version)
	if err != nil {
		return err
	}

	if err := s.Exec(ctx, entry.Localize(s.Engine())); err != nil {
		return fmt.Errorf("creating table %s: %w", table, err)
	}

	return nil
}

// AddColumn adds col to table unless it is already there. A concurrent or
// earlier partial run that added the column first is not an error.
func (s *Step) AddColumn(ctx context.Context, table string, col dialect.Column) error {
	exists, err := s.ColumnExists(ctx, table, col.Name)
	if err != nil {
		return err
	}

	if exists {
		s.log.Debug().Str("table", table).Str("column", col.Name).Msg("column exists")

		return nil
	}

	for _, stmt := range dialect.AddColumnStatements(table, col, s.Engine()) {
		if err := s.Exec(ctx, stmt); err != nil {
			if database.IsDuplicateColumn(err) {
				continue
			}

			return fmt.Errorf("adding column %s.%s: %w", table, col.Name, err)
		}
	}

	return nil
}

// DropColumn removes column from table if it is present.
func (s *Step) DropColumn(ctx context.Context, table, column string) error {
	exists, err := s.ColumnExists(ctx, table, column)
	if err != nil || !exists {
		return err
	}

	if err := s.Exec(ctx, dialect.DropColumnStatement(table, column, s.Engine())); err != nil {
		return fmt.Errorf("dropping column %s.%s: %w", table, column, err)
	}

	return nil
}

// RenameColumn renames from to to. A table that already has to is left
// alone; a table with neither column is an error.
func (s *Step) RenameColumn(ctx context.Context, table, from, to string) error {
	done, err := s.ColumnExists(ctx, table, to)
	if err != nil || done {
		return err
	}

	present, err := s.ColumnExists(ctx, table, from)
	if err != nil {
		return err
	}

	if !present {
		return fmt.Errorf("%w: %s.%s", ErrMissingColumn, table, from)
	}

	if err := s.Exec(ctx, dialect.RenameColumnStatement(table, from, to, s.Engine())); err != nil {
		return fmt.Errorf("renaming column %s.%s: %w", table, from, err)
	}

	return nil
}

// CreateIndex creates ix unless an index of that name exists on its table.
// Concurrent builds must run outside InTransaction.
func (s *Step) CreateIndex(ctx context.Context, ix dialect.Index) error {
	if ix.Concurrent && s.tx != nil && s.Engine() == dialect.Postgres {
		return fmt.Errorf("index %s: %w", ix.Name, executor.ErrConcurrentIndexInTransaction)
	}

	in, err := s.inspector()
	if err != nil {
		return err
	}

	exists, err := in.IndexExists(ctx, ix.Table, ix.Name)
	if err != nil || exists {
		return err
	}

	if err := s.Exec(ctx, dialect.CreateIndexStatement(ix, s.Engine())); err != nil {
		return fmt.Errorf("creating index %s: %w", ix.Name, err)
	}

	return nil
}

// DropForeignKey drops the named constraint from table if it is present.
// On SQLite constraints cannot be dropped in place and are kept.
func (s *Step) DropForeignKey(ctx context.Context, table, constraint string) error {
	stmt := dialect.DropForeignKeyStatement(table, constraint, s.Engine())
	if stmt == "" {
		s.log.Debug().Str("table", table).Str("constraint", constraint).Msg("engine keeps foreign key")

		return nil
	}

	in, err := s.inspector()
	if err != nil {
		return err
	}

	exists, err := in.ForeignKeyExists(ctx, table, constraint)
	if err != nil || !exists {
		return err
	}

	if err := s.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("dropping foreign key %s: %w", constraint, err)
	}

	return nil
}
