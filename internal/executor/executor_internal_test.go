package executor

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/archivedb/internal/dialect"
)

// fakeResult implements sql.Result.
type fakeResult struct{ id, affected int64 }

func (r fakeResult) LastInsertId() (int64, error) { return r.id, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.affected, nil }

// fakeQueryer fails ExecContext with the queued errors, then succeeds.
type fakeQueryer struct {
	errs    []error
	calls   int
	queries []string
}

func (f *fakeQueryer) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	f.calls++
	f.queries = append(f.queries, query)

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]

		return nil, err
	}

	return fakeResult{id: 42, affected: 1}, nil
}

func (f *fakeQueryer) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeQueryer) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

func (f *fakeQueryer) PrepareContext(context.Context, string) (*sql.Stmt, error) {
	return nil, errors.New("not implemented")
}

func serializationFailure() error {
	return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
}

func TestExec_transientThenSuccess_retries(t *testing.T) {
	t.Parallel()

	q := &fakeQueryer{errs: []error{serializationFailure(), serializationFailure()}}
	e := New(dialect.Postgres, WithRetryDelay(0), WithMaxRetries(3))

	res, err := e.Exec(context.Background(), q, "UPDATE au SET au_key = ? WHERE au_seq = ?", "k", 1)

	require.NoError(t, err)
	assert.Equal(t, 3, q.calls)
	assert.Equal(t, "UPDATE au SET au_key = $1 WHERE au_seq = $2", q.queries[0])

	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestExec_transientPastLimit_returnsRetriesExhausted(t *testing.T) {
	t.Parallel()

	q := &fakeQueryer{errs: []error{
		serializationFailure(), serializationFailure(), serializationFailure(), serializationFailure(),
	}}
	e := New(dialect.Postgres, WithRetryDelay(0), WithMaxRetries(2))

	_, err := e.Exec(context.Background(), q, "DELETE FROM au")

	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 3, q.calls, "one attempt plus two retries")

	var stmtErr *StatementError
	require.ErrorAs(t, err, &stmtErr)
	assert.Equal(t, "DELETE FROM au", stmtErr.SQL)

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "40001", pgErr.Code)
}

func TestExec_nonTransient_failsWithoutRetry(t *testing.T) {
	t.Parallel()

	dup := &pgconn.PgError{Code: "42701", Message: "column already exists"}
	q := &fakeQueryer{errs: []error{dup}}
	e := New(dialect.Postgres, WithRetryDelay(0), WithMaxRetries(5))

	_, err := e.Exec(context.Background(), q, "ALTER TABLE au_md ADD COLUMN creation_time BIGINT", "arg")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, q.calls)

	var stmtErr *StatementError
	require.ErrorAs(t, err, &stmtErr)
	assert.Equal(t, []any{"arg"}, stmtErr.Args)
	assert.ErrorIs(t, err, dup)
}

func TestExec_zeroRetries_singleAttempt(t *testing.T) {
	t.Parallel()

	q := &fakeQueryer{errs: []error{serializationFailure()}}
	e := New(dialect.MySQL, WithRetryDelay(0), WithMaxRetries(0))

	_, err := e.Exec(context.Background(), q, "SELECT 1")

	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, q.calls)
}

func TestExec_canceledContext_stopsRetrying(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := &fakeQueryer{errs: []error{serializationFailure(), serializationFailure()}}
	e := New(dialect.Postgres, WithRetryDelay(0), WithMaxRetries(10))

	_, err := e.Exec(ctx, q, "SELECT 1")

	require.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, q.calls, 1)
}

func TestNew_negativeRetriesClamped(t *testing.T) {
	t.Parallel()

	e := New(dialect.SQLite, WithMaxRetries(-3))

	assert.Equal(t, 0, e.maxRetries)
	assert.Equal(t, DefaultRetryDelay, e.retryDelay)
	assert.Equal(t, dialect.SQLite, e.Engine())
}
