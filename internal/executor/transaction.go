package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aqasim81/archivedb/internal/database"
)

// Beginner is satisfied by *sql.DB and *sql.Conn.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Begin starts a transaction on b.
func (e *Executor) Begin(ctx context.Context, b Beginner) (*sql.Tx, error) {
	var tx *sql.Tx

	err := e.retry(ctx, false, "BEGIN", nil, func() error {
		var err error

		tx, err = b.BeginTx(ctx, nil)

		return err
	})
	if err != nil {
		return nil, err
	}

	return tx, nil
}

// Conn reserves a single auto-commit connection from db. Session settings
// made on it persist until it is closed.
func (e *Executor) Conn(ctx context.Context, db *sql.DB) (*sql.Conn, error) {
	var conn *sql.Conn

	err := e.retry(ctx, false, "CONNECT", nil, func() error {
		var err error

		conn, err = db.Conn(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// CommitOrRollback commits tx. If the commit fails the transaction is
// rolled back and the commit error returned.
func (e *Executor) CommitOrRollback(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		e.SafeRollback(tx)

		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// SafeRollback rolls tx back, logging rather than returning a failure.
// Rolling back a finished transaction is not an error.
func (e *Executor) SafeRollback(tx *sql.Tx) {
	if tx == nil {
		return
	}

	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		e.log.Warn().Err(err).Msg("rollback failed")
	}
}

// SafeClose closes c, logging rather than returning a failure. c must not
// be a typed nil.
func (e *Executor) SafeClose(c io.Closer) {
	if c == nil {
		return
	}

	if err := c.Close(); err != nil {
		e.log.Warn().Err(err).Msg("close failed")
	}
}

// ExecInTransaction runs fn inside a transaction on b.
// On success the transaction is committed; on error it is rolled back.
// A transient failure rolls the transaction back and runs fn again in a new
// one, so fn must not keep state across attempts outside the transaction.
func (e *Executor) ExecInTransaction(ctx context.Context, b Beginner, fn func(tx *sql.Tx) error) error {
	attempts := 0

	err := backoff.RetryNotify(func() error {
		attempts++

		err := e.transaction(ctx, b, fn)
		if err != nil && !database.IsTransient(err) {
			return backoff.Permanent(err)
		}

		return err
	}, e.policy(ctx, e.maxRetries), func(err error, wait time.Duration) {
		e.log.Warn().
			Err(err).
			Int("attempt", attempts).
			Dur("retry_in", wait).
			Msg("transient failure, retrying transaction")
	})

	if err != nil && database.IsTransient(err) && ctx.Err() == nil {
		e.log.Error().Err(err).Int("attempts", attempts).Msg("giving up transaction after transient failures")

		return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
	}

	return err
}

func (e *Executor) transaction(ctx context.Context, b Beginner, fn func(tx *sql.Tx) error) error {
	tx, err := e.Begin(ctx, b)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer e.SafeRollback(tx)

	if err := fn(tx); err != nil {
		return err
	}

	return e.CommitOrRollback(tx)
}
