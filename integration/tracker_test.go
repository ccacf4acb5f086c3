//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/archivedb/internal/executor"
	"github.com/aqasim81/archivedb/internal/tracker"
)

func TestTracker_fullLifecycle(t *testing.T) {
	t.Parallel()

	for name, setup := range servers {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			db := Open(t, setup(t))
			ctx := context.Background()
			tr := tracker.New(db, executor.New(db.Engine))

			// A database without the table is at version 0.
			v, err := tr.CurrentVersion(ctx, tracker.DefaultSystem)
			require.NoError(t, err)
			assert.Zero(t, v)

			require.NoError(t, tr.EnsureTable(ctx))
			require.NoError(t, tr.EnsureTable(ctx), "EnsureTable is idempotent")

			for _, n := range []int{1, 2, 2, 4} {
				require.NoError(t, tr.Record(ctx, db, tracker.DefaultSystem, n))
			}

			require.NoError(t, tr.Record(ctx, db, "other", 9))

			v, err = tr.CurrentVersion(ctx, tracker.DefaultSystem)
			require.NoError(t, err)
			assert.Equal(t, 4, v)

			history, err := tr.History(ctx, tracker.DefaultSystem)
			require.NoError(t, err)
			assert.Equal(t, []int{1, 2, 4}, history)

			ok, err := tr.IsCompleted(ctx, tracker.DefaultSystem, 3)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = tr.IsCompleted(ctx, tracker.DefaultSystem, 5)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}
