// Package executor runs SQL with bounded retries. Only failures the
// database package classifies as transient are retried; every other error
// is returned on the first attempt. Statements are written with '?'
// placeholders and rebound for the executor's engine.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/aqasim81/archivedb/internal/database"
	"github.com/aqasim81/archivedb/internal/dialect"
)

// Defaults for the retry limit.
const (
	DefaultMaxRetries = 10
	DefaultRetryDelay = 3 * time.Second
)

// Queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Executor runs statements against one engine.
type Executor struct {
	engine     dialect.Engine
	maxRetries int
	retryDelay time.Duration
	log        zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) Option {
	return func(e *Executor) { e.maxRetries = n }
}

// WithRetryDelay sets the pause between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Executor) { e.retryDelay = d }
}

// WithLogger sets the logger failures are reported to.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// New creates an Executor for engine.
func New(engine dialect.Engine, opts ...Option) *Executor {
	e := &Executor{
		engine:     engine,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		log:        zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.maxRetries < 0 {
		e.maxRetries = 0
	}

	return e
}

// Engine returns the engine statements are rebound for.
func (e *Executor) Engine() dialect.Engine {
	return e.engine
}

// Statement is a prepared statement together with its text.
type Statement struct {
	stmt  *sql.Stmt
	query string
	inTx  bool
}

// SQL returns the statement text as sent to the driver.
func (s *Statement) SQL() string {
	return s.query
}

// Close releases the prepared statement.
func (s *Statement) Close() error {
	if s == nil || s.stmt == nil {
		return nil
	}

	return s.stmt.Close()
}

// Prepare prepares query on q.
func (e *Executor) Prepare(ctx context.Context, q Queryer, query string) (*Statement, error) {
	query = dialect.Rebind(query, e.engine)

	var stmt *sql.Stmt

	inTx := isTx(q)

	err := e.retry(ctx, inTx, query, nil, func() error {
		var err error

		stmt, err = q.PrepareContext(ctx, query)

		return err
	})
	if err != nil {
		return nil, err
	}

	return &Statement{stmt: stmt, query: query, inTx: inTx}, nil
}

// RunQuery executes a prepared query. The caller closes the rows.
func (e *Executor) RunQuery(ctx context.Context, s *Statement, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows

	err := e.retry(ctx, s.inTx, s.query, args, func() error {
		var err error

		rows, err = s.stmt.QueryContext(ctx, args...)

		return err
	})
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// RunUpdate executes a prepared statement and returns the rows affected.
func (e *Executor) RunUpdate(ctx context.Context, s *Statement, args ...any) (int64, error) {
	var affected int64

	err := e.retry(ctx, s.inTx, s.query, args, func() error {
		res, err := s.stmt.ExecContext(ctx, args...)
		if err != nil {
			return err
		}

		affected, err = res.RowsAffected()

		return err
	})
	if err != nil {
		return 0, err
	}

	return affected, nil
}

// Exec runs an unprepared statement.
func (e *Executor) Exec(ctx context.Context, q Queryer, query string, args ...any) (sql.Result, error) {
	query = dialect.Rebind(query, e.engine)

	var res sql.Result

	err := e.retry(ctx, isTx(q), query, args, func() error {
		var err error

		res, err = q.ExecContext(ctx, query, args...)

		return err
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// Query runs an unprepared query. The caller closes the rows.
func (e *Executor) Query(ctx context.Context, q Queryer, query string, args ...any) (*sql.Rows, error) {
	query = dialect.Rebind(query, e.engine)

	var rows *sql.Rows

	err := e.retry(ctx, isTx(q), query, args, func() error {
		var err error

		rows, err = q.QueryContext(ctx, query, args...)

		return err
	})
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// QueryRow runs a single-row query and scans it into dest. It returns
// sql.ErrNoRows unwrapped when the query yields nothing.
func (e *Executor) QueryRow(ctx context.Context, q Queryer, query string, args []any, dest ...any) error {
	query = dialect.Rebind(query, e.engine)

	var noRows bool

	err := e.retry(ctx, isTx(q), query, args, func() error {
		err := q.QueryRowContext(ctx, query, args...).Scan(dest...)
		if errors.Is(err, sql.ErrNoRows) {
			noRows = true

			return nil
		}

		return err
	})

	switch {
	case err != nil:
		return err
	case noRows:
		return sql.ErrNoRows
	default:
		return nil
	}
}

// RunInsert inserts values into columns of table and returns the generated
// value of key. With an empty key nothing is read back and 0 is returned.
func (e *Executor) RunInsert(ctx context.Context, q Queryer, table string, columns []string, key string, values []any) (int64, error) {
	query := dialect.InsertStatement(table, columns, key, e.engine)

	if key != "" && dialect.ReturnsGeneratedKeys(e.engine) {
		var id int64
		if err := e.QueryRow(ctx, q, query, values, &id); err != nil {
			return 0, err
		}

		return id, nil
	}

	res, err := e.Exec(ctx, q, query, values...)
	if err != nil {
		return 0, err
	}

	if key == "" {
		return 0, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading generated key of %s: %w", table, err)
	}

	return id, nil
}

// isTx reports whether q is a transaction. Statements inside a transaction
// fail on the first attempt; ExecInTransaction retries the whole transaction
// instead.
func isTx(q Queryer) bool {
	_, ok := q.(*sql.Tx)

	return ok
}

// policy returns the backoff of up to retries further attempts.
func (e *Executor) policy(ctx context.Context, retries int) backoff.BackOff {
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.retryDelay), uint64(retries)), //nolint:gosec // clamped non-negative in New
		ctx,
	)
}

// retry runs fn until it succeeds, fails with a non-transient error, the
// retry limit runs out or ctx is done. Inside a transaction fn runs once.
func (e *Executor) retry(ctx context.Context, inTx bool, query string, args []any, fn func() error) error {
	attempts := 0

	retries := e.maxRetries
	if inTx {
		retries = 0
	}

	err := backoff.RetryNotify(func() error {
		attempts++

		err := fn()
		if err != nil && !database.IsTransient(err) {
			return backoff.Permanent(err)
		}

		return err
	}, e.policy(ctx, retries), func(err error, wait time.Duration) {
		e.log.Warn().
			Err(err).
			Str("sql", query).
			Int("attempt", attempts).
			Dur("retry_in", wait).
			Msg("transient failure, retrying")
	})
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}

	stmtErr := &StatementError{SQL: query, Args: args, Err: err}

	if database.IsTransient(err) {
		if inTx {
			return stmtErr
		}

		e.log.Error().
			Err(err).
			Str("sql", query).
			Interface("args", args).
			Int("attempts", attempts).
			Msg("giving up after transient failures")

		return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, stmtErr)
	}

	e.log.Error().
		Err(err).
		Str("sql", query).
		Interface("args", args).
		Msg("statement failed")

	return stmtErr
}
