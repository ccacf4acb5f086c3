package upgrade

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/archivedb/internal/catalog"
	"github.com/aqasim81/archivedb/internal/database"
	"github.com/aqasim81/archivedb/internal/dialect"
	"github.com/aqasim81/archivedb/internal/executor"
	"github.com/aqasim81/archivedb/internal/tracker"
)

// mockLock implements lockReleaser for testing.
type mockLock struct {
	released atomic.Bool
}

func (m *mockLock) Release(_ context.Context) error {
	m.released.Store(true)
	return nil
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Params{
		ClassName:    "sqlite",
		DatabaseName: filepath.Join(t.TempDir(), "metadata.db"),
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func testExec() *executor.Executor {
	return executor.New(dialect.SQLite, executor.WithRetryDelay(0), executor.WithMaxRetries(3))
}

func noop(context.Context, *Step) error { return nil }

func newTestUpgrader(t *testing.T, r *Registry, lock *mockLock) *Upgrader {
	t.Helper()

	u := New(openTestDB(t), r, WithExecutor(testExec()))
	u.acquireLock = func(context.Context) (lockReleaser, error) {
		return lock, nil
	}

	return u
}

func TestUpgrade_releasesLock(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	require.NoError(t, r.Register(Transition{From: 0, Apply: noop}))

	lock := &mockLock{}
	u := newTestUpgrader(t, r, lock)

	_, err := u.Upgrade(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, lock.released.Load())
}

func TestUpgrade_lockNotAcquired(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	require.NoError(t, r.Register(Transition{From: 0, Apply: noop}))

	u := newTestUpgrader(t, r, &mockLock{})
	u.acquireLock = func(context.Context) (lockReleaser, error) {
		return nil, database.ErrLockNotAcquired
	}

	_, err := u.Upgrade(context.Background(), 1)
	require.ErrorIs(t, err, database.ErrLockNotAcquired)
}

func TestUpgrade_backfillHoldsLockUntilDone(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	r := NewRegistry(nil)
	require.NoError(t, r.Register(Transition{
		From:  0,
		Apply: noop,
		Backfill: func(ctx context.Context, _ *Step) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}))

	lock := &mockLock{}
	u := newTestUpgrader(t, r, lock)
	ctx := context.Background()

	res, err := u.Upgrade(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, res.Pending)
	assert.Empty(t, res.Applied)
	assert.False(t, lock.released.Load())

	current, err := u.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, current, "version is recorded only after the backfill")

	close(release)
	require.NoError(t, res.Pending.Wait())
	assert.True(t, lock.released.Load())

	current, err = u.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, current)
}

func TestStep_concurrentIndexInTransaction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTestDB(t)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	defer tx.Rollback() //nolint:errcheck // test cleanup

	s := &Step{tx: tx, exec: executor.New(dialect.Postgres)}

	err = s.CreateIndex(ctx, concurrentIndex("idx_a_b"))
	require.ErrorIs(t, err, executor.ErrConcurrentIndexInTransaction)

	err = s.Exec(ctx, "CREATE INDEX CONCURRENTLY idx_a_b ON a (b)")
	require.ErrorIs(t, err, executor.ErrConcurrentIndexInTransaction)
}

func concurrentIndex(name string) dialect.Index {
	return dialect.Index{Name: name, Table: "a", Columns: []string{"b"}, Concurrent: true}
}

func TestDefaultHistory_transitionsAreRepeatable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	cat, err := catalog.Default()
	require.NoError(t, err)

	r, err := DefaultRegistry(cat)
	require.NoError(t, err)

	u := newTestUpgrader(t, r, &mockLock{})

	conn, err := u.session(ctx)
	require.NoError(t, err)

	defer conn.Close()

	tr := tracker.New(conn, u.exec)

	for _, tn := range r.Transitions() {
		for range 2 {
			require.NoError(t, tn.Apply(ctx, u.newStep(conn, tn)), "applying %d", tn.From)

			if tn.Backfill != nil {
				require.NoError(t, tn.Backfill(ctx, u.newStep(conn, tn)), "backfilling %d", tn.From)
			}
		}

		require.NoError(t, u.record(ctx, conn, tr, tn.To()))
	}

	current, err := tr.CurrentVersion(ctx, tracker.DefaultSystem)
	require.NoError(t, err)
	assert.Equal(t, cat.Latest(), current)

	history, err := tr.History(ctx, tracker.DefaultSystem)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, history)
}
