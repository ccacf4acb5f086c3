//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/archivedb/internal/catalog"
	"github.com/aqasim81/archivedb/internal/database"
	"github.com/aqasim81/archivedb/internal/executor"
	"github.com/aqasim81/archivedb/internal/migrate"
	"github.com/aqasim81/archivedb/internal/tracker"
)

// populatedSource returns an upgraded embedded database whose generated
// keys do not start at 1.
func populatedSource(t *testing.T) *database.DB {
	t.Helper()

	ctx := context.Background()
	db := Open(t, SQLiteParams(t))
	u := NewUpgrader(t, db)

	_, err := u.UpgradeAndWait(ctx, u.Latest())
	require.NoError(t, err)

	exec := executor.New(db.Engine)
	run := func(query string, args ...any) {
		t.Helper()

		_, err := exec.Exec(ctx, db, query, args...)
		require.NoError(t, err)
	}

	// Burn some keys so that source and target keys differ.
	for range 3 {
		run("INSERT INTO platform (platform_name) VALUES (?)", "burned")
		run("INSERT INTO publisher (publisher_name) VALUES (?)", "burned")
	}

	run("DELETE FROM platform")
	run("DELETE FROM publisher")

	run("INSERT INTO platform (platform_name) VALUES (?)", "classic")
	run("INSERT INTO platform (platform_name) VALUES (?)", "laaws")
	run("INSERT INTO plugin (plugin_id, platform_seq) VALUES (?, (SELECT platform_seq FROM platform WHERE platform_name = ?))",
		"org.lockss.A", "laaws")
	run("INSERT INTO plugin (plugin_id, platform_seq) VALUES (?, (SELECT platform_seq FROM platform WHERE platform_name = ?))",
		"org.lockss.B", "classic")
	run("INSERT INTO au (plugin_seq, au_key) SELECT plugin_seq, plugin_id || '&base' FROM plugin")
	run("INSERT INTO au_md (au_seq, md_version, extract_time) SELECT au_seq, 1, 1000 FROM au")
	run("INSERT INTO publisher (publisher_name) VALUES (?)", "Pub")
	run("INSERT INTO publication (publisher_seq, publication_name) SELECT publisher_seq, 'Journal' FROM publisher")
	run("INSERT INTO md_item (au_md_seq, publication_seq, item_date, fetch_time) " +
		"SELECT a.au_md_seq, p.publication_seq, '2020', 5 FROM au_md a, publication p")
	run("INSERT INTO pending_au (plugin_id, au_key, priority) VALUES (?, ?, ?)", "org.lockss.A", "k1", 1)
	run("INSERT INTO pending_au (plugin_id, au_key, priority) VALUES (?, ?, ?)", "org.lockss.A", "k2", 1)
	// Reports may repeat.
	run("INSERT INTO fetch_report (report_time, au_key, fetch_status) VALUES (?, ?, ?)", 1, "k1", "ok")
	run("INSERT INTO fetch_report (report_time, au_key, fetch_status) VALUES (?, ?, ?)", 1, "k1", "ok")

	return db
}

func pluginPlatforms(t *testing.T, db *database.DB) map[string]string {
	t.Helper()

	ctx := context.Background()
	exec := executor.New(db.Engine)

	rows, err := exec.Query(ctx, db,
		"SELECT p.plugin_id, f.platform_name FROM plugin p JOIN platform f ON p.platform_seq = f.platform_seq")
	require.NoError(t, err)

	defer rows.Close()

	out := make(map[string]string)

	for rows.Next() {
		var plugin, platform string
		require.NoError(t, rows.Scan(&plugin, &platform))
		out[plugin] = platform
	}

	require.NoError(t, rows.Err())

	return out
}

func TestMigrate_embeddedToServer(t *testing.T) {
	t.Parallel()

	for name, setup := range servers {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			source := populatedSource(t)
			target := Open(t, setup(t))

			cat, err := catalog.Default()
			require.NoError(t, err)

			m := migrate.New(cat, migrate.WithExecutorOptions(executor.WithRetryDelay(100*time.Millisecond)))

			report, err := m.Run(ctx, source, target)
			require.NoError(t, err)
			assert.False(t, report.VerifyOnly)
			assert.Equal(t, tracker.TableName, report.Tables[len(report.Tables)-1].Table)

			for _, res := range report.Tables {
				assert.Equal(t, res.SourceRows, res.TargetRows, res.Table)

				if res.Table == "fetch_report" {
					assert.True(t, res.Recreated)
					assert.Equal(t, int64(2), res.TargetRows)
				}
			}

			assert.Equal(t, pluginPlatforms(t, source), pluginPlatforms(t, target))

			tgtExec := executor.New(target.Engine)

			var items int

			err = tgtExec.QueryRow(ctx, target,
				"SELECT COUNT(*) FROM md_item m JOIN au_md a ON m.au_md_seq = a.au_md_seq "+
					"JOIN publication p ON m.publication_seq = p.publication_seq", nil, &items)
			require.NoError(t, err)
			assert.Equal(t, 2, items)

			var minSeq int64

			err = tgtExec.QueryRow(ctx, target, "SELECT MIN(platform_seq) FROM platform", nil, &minSeq)
			require.NoError(t, err)
			assert.Equal(t, int64(1), minSeq, "target generates its own keys")

			v, err := tracker.New(target, tgtExec).CurrentVersion(ctx, tracker.DefaultSystem)
			require.NoError(t, err)
			assert.Equal(t, cat.Latest(), v)

			// Running again only verifies.
			report, err = m.Run(ctx, source, target)
			require.NoError(t, err)
			assert.True(t, report.VerifyOnly)
		})
	}
}
