package executor_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/archivedb/internal/database"
	"github.com/aqasim81/archivedb/internal/dialect"
	"github.com/aqasim81/archivedb/internal/executor"
)

func openSQLite(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Params{
		ClassName:    "sqlite",
		DatabaseName: filepath.Join(t.TempDir(), "exec.db"),
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE publisher (publisher_seq INTEGER PRIMARY KEY AUTOINCREMENT, publisher_name VARCHAR(256) NOT NULL)`)
	require.NoError(t, err)

	return db
}

func newExecutor() *executor.Executor {
	return executor.New(dialect.SQLite, executor.WithRetryDelay(0), executor.WithMaxRetries(1))
}

func TestRunInsert_returnsGeneratedKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openSQLite(t)
	e := newExecutor()

	first, err := e.RunInsert(ctx, db, "publisher", []string{"publisher_name"}, "publisher_seq", []any{"Elsevier"})
	require.NoError(t, err)

	second, err := e.RunInsert(ctx, db, "publisher", []string{"publisher_name"}, "publisher_seq", []any{"Springer"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)

	none, err := e.RunInsert(ctx, db, "publisher", []string{"publisher_name"}, "", []any{"Wiley"})
	require.NoError(t, err)
	assert.Zero(t, none)
}

func TestPreparedStatements(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openSQLite(t)
	e := newExecutor()

	insert, err := e.Prepare(ctx, db, "INSERT INTO publisher (publisher_name) VALUES (?)")
	require.NoError(t, err)

	defer e.SafeClose(insert)

	for _, name := range []string{"a", "b", "c"} {
		n, err := e.RunUpdate(ctx, insert, name)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	}

	query, err := e.Prepare(ctx, db, "SELECT publisher_name FROM publisher WHERE publisher_seq > ? ORDER BY publisher_seq")
	require.NoError(t, err)

	defer e.SafeClose(query)

	assert.Equal(t, "SELECT publisher_name FROM publisher WHERE publisher_seq > ? ORDER BY publisher_seq", query.SQL())

	rows, err := e.RunQuery(ctx, query, 1)
	require.NoError(t, err)

	defer e.SafeClose(rows)

	var names []string

	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		names = append(names, n)
	}

	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"b", "c"}, names)
}

func TestQueryRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openSQLite(t)
	e := newExecutor()

	_, err := e.Exec(ctx, db, "INSERT INTO publisher (publisher_name) VALUES (?)", "Elsevier")
	require.NoError(t, err)

	var name string
	require.NoError(t, e.QueryRow(ctx, db, "SELECT publisher_name FROM publisher WHERE publisher_seq = ?", []any{1}, &name))
	assert.Equal(t, "Elsevier", name)

	err = e.QueryRow(ctx, db, "SELECT publisher_name FROM publisher WHERE publisher_seq = ?", []any{99}, &name)
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestExec_nonTransientError_carriesStatement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openSQLite(t)
	e := newExecutor()

	_, err := e.Exec(ctx, db, "INSERT INTO missing_table (x) VALUES (?)", 7)
	require.Error(t, err)

	var stmtErr *executor.StatementError
	require.ErrorAs(t, err, &stmtErr)
	assert.Equal(t, "INSERT INTO missing_table (x) VALUES (?)", stmtErr.SQL)
	assert.Equal(t, []any{7}, stmtErr.Args)
	assert.True(t, database.IsUndefinedTable(err))
	assert.NotErrorIs(t, err, executor.ErrRetriesExhausted)
}

func TestExecInTransaction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openSQLite(t)
	e := newExecutor()

	count := func() int {
		var n int
		require.NoError(t, e.QueryRow(ctx, db, "SELECT COUNT(*) FROM publisher", nil, &n))

		return n
	}

	err := e.ExecInTransaction(ctx, db, func(tx *sql.Tx) error {
		_, err := e.Exec(ctx, tx, "INSERT INTO publisher (publisher_name) VALUES (?)", "kept")

		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count())

	boom := errors.New("boom")
	err = e.ExecInTransaction(ctx, db, func(tx *sql.Tx) error {
		if _, err := e.Exec(ctx, tx, "INSERT INTO publisher (publisher_name) VALUES (?)", "discarded"); err != nil {
			return err
		}

		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, count())
}

func TestExecInTransaction_transientFailure_rerunsWholeTransaction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openSQLite(t)
	e := executor.New(dialect.SQLite, executor.WithRetryDelay(0), executor.WithMaxRetries(2))

	attempts := 0

	err := e.ExecInTransaction(ctx, db, func(tx *sql.Tx) error {
		attempts++

		if _, err := e.Exec(ctx, tx, "INSERT INTO publisher (publisher_name) VALUES (?)", "once"); err != nil {
			return err
		}

		if attempts == 1 {
			// The failed statement aborts the transaction on PostgreSQL.
			return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
		}

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	var n int
	require.NoError(t, e.QueryRow(ctx, db, "SELECT COUNT(*) FROM publisher", nil, &n))
	assert.Equal(t, 1, n, "first attempt rolled back")
}

func TestExecInTransaction_transientPastLimit_returnsRetriesExhausted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openSQLite(t)
	e := executor.New(dialect.SQLite, executor.WithRetryDelay(0), executor.WithMaxRetries(2))

	attempts := 0

	err := e.ExecInTransaction(ctx, db, func(*sql.Tx) error {
		attempts++

		return &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	})
	require.ErrorIs(t, err, executor.ErrRetriesExhausted)
	assert.True(t, database.IsTransient(err))
	assert.Equal(t, 3, attempts)
}

func TestExecInTransaction_permanentFailure_runsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openSQLite(t)
	e := executor.New(dialect.SQLite, executor.WithRetryDelay(0), executor.WithMaxRetries(2))

	attempts := 0

	err := e.ExecInTransaction(ctx, db, func(tx *sql.Tx) error {
		attempts++

		_, err := e.Exec(ctx, tx, "INSERT INTO missing_table (x) VALUES (?)", 1)

		return err
	})
	require.Error(t, err)
	assert.True(t, database.IsUndefinedTable(err))
	assert.NotErrorIs(t, err, executor.ErrRetriesExhausted)
	assert.Equal(t, 1, attempts)
}

func TestCommitOrRollback_finishedTransaction_returnsError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openSQLite(t)
	e := newExecutor()

	tx, err := e.Begin(ctx, db)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	err = e.CommitOrRollback(tx)
	require.ErrorIs(t, err, sql.ErrTxDone)

	e.SafeRollback(tx)
	e.SafeRollback(nil)
}

func TestConn_keepsSessionSettings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openSQLite(t)
	e := newExecutor()

	conn, err := e.Conn(ctx, db.DB)
	require.NoError(t, err)

	defer e.SafeClose(conn)

	require.NoError(t, e.ApplySessionTimeouts(ctx, conn, 1500*time.Millisecond, time.Minute))

	var busy int
	require.NoError(t, e.QueryRow(ctx, conn, "PRAGMA busy_timeout", nil, &busy))
	assert.Equal(t, 1500, busy)
}
