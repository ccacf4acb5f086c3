package upgrade

import (
	"context"
	"fmt"

	"github.com/aqasim81/archivedb/internal/catalog"
	"github.com/aqasim81/archivedb/internal/database"
	"github.com/aqasim81/archivedb/internal/dialect"
)

// DefaultRegistry returns the schema history of the metadata database,
// creating tables from cat.
func DefaultRegistry(cat *catalog.Catalog) (*Registry, error) {
	r := NewRegistry(cat)

	for _, t := range history() {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func history() []Transition {
	return []Transition{
		{From: 0, Description: "create the initial tables", Apply: setup},
		{From: 1, Description: "move plugin platforms into their own table", Apply: extractPlatforms},
		{From: 2, Description: "index archival unit keys, item names and publications", Apply: addLookupIndexes},
		{From: 3, Description: "add fetch reports and metadata creation times", Apply: addFetchReports},
		{From: 4, Description: "add item fetch times", Apply: addFetchTime, Backfill: backfillFetchTime},
		{From: 5, Description: "rename author_idx to author_index", Apply: renameAuthorIndex},
		{From: 6, Description: "add item URLs", Apply: addURLs},
	}
}

func setup(ctx context.Context, s *Step) error {
	if s.catalog == nil {
		return fmt.Errorf("%w: no catalog for version %d", catalog.ErrUnknownTable, s.version)
	}

	for _, e := range s.catalog.TablesIntroducedIn(s.version) {
		if err := s.CreateTable(ctx, e.Name); err != nil {
			return err
		}
	}

	return nil
}

const (
	insertPlatformsSQL = `INSERT INTO platform (platform_name)
		SELECT DISTINCT p.platform FROM plugin p
		WHERE p.platform IS NOT NULL
			AND NOT EXISTS (SELECT 1 FROM platform f WHERE f.platform_name = p.platform)`

	linkPlatformsSQL = `UPDATE plugin
		SET platform_seq = (SELECT f.platform_seq FROM platform f WHERE f.platform_name = plugin.platform)
		WHERE platform IS NOT NULL AND platform_seq IS NULL`
)

func extractPlatforms(ctx context.Context, s *Step) error {
	if err := s.CreateTable(ctx, "platform"); err != nil {
		return err
	}

	err := s.AddColumn(ctx, "plugin", dialect.Column{
		Name: "platform_seq",
		Type: "BIGINT",
		References: &dialect.Reference{
			Constraint: "fk_plugin_platform",
			Table:      "platform",
			Column:     "platform_seq",
		},
	})
	if err != nil {
		return err
	}

	legacy, err := s.ColumnExists(ctx, "plugin", "platform")
	if err != nil || !legacy {
		return err
	}

	err = s.InTransaction(ctx, func(tx *Step) error {
		if err := tx.Exec(ctx, insertPlatformsSQL); err != nil {
			return err
		}

		return tx.Exec(ctx, linkPlatformsSQL)
	})
	if err != nil {
		return fmt.Errorf("filling platforms: %w", err)
	}

	return s.DropColumn(ctx, "plugin", "platform")
}

func addLookupIndexes(ctx context.Context, s *Step) error {
	if s.catalog == nil {
		return fmt.Errorf("%w: no catalog for version %d", catalog.ErrUnknownTable, s.version)
	}

	for _, ix := range s.catalog.IndexesIntroducedIn(s.version) {
		if err := s.CreateIndex(ctx, ix); err != nil {
			return err
		}
	}

	return nil
}

func addFetchReports(ctx context.Context, s *Step) error {
	if err := s.CreateTable(ctx, "fetch_report"); err != nil {
		return err
	}

	// A previous partial run may have added the column already.
	col := dialect.Column{Name: "creation_time", Type: "BIGINT"}
	for _, stmt := range dialect.AddColumnStatements("au_md", col, s.Engine()) {
		if err := s.Exec(ctx, stmt); err != nil && !database.IsDuplicateColumn(err) {
			return fmt.Errorf("adding au_md.creation_time: %w", err)
		}
	}

	return nil
}

func addFetchTime(ctx context.Context, s *Step) error {
	return s.AddColumn(ctx, "md_item", dialect.Column{Name: "fetch_time", Type: "BIGINT"})
}

const selectFetchTimesSQL = `SELECT m.md_item_seq, a.extract_time
	FROM md_item m JOIN au_md a ON a.au_md_seq = m.au_md_seq
	WHERE m.fetch_time IS NULL AND m.md_item_seq > ?
	ORDER BY m.md_item_seq
	LIMIT ?`

type fetchTime struct {
	item int64
	time int64
}

// backfillFetchTime copies each item's extraction time into its fetch time,
// committing once per batch. Filled rows are skipped on a rerun.
func backfillFetchTime(ctx context.Context, s *Step) error {
	var last int64

	total := 0

	for {
		var batch []fetchTime

		err := s.InTransaction(ctx, func(tx *Step) error {
			var err error

			batch, err = readFetchTimes(ctx, tx, last)
			if err != nil || len(batch) == 0 {
				return err
			}

			return writeFetchTimes(ctx, tx, batch)
		})
		if err != nil {
			return fmt.Errorf("filling md_item.fetch_time after item %d: %w", last, err)
		}

		if len(batch) == 0 {
			break
		}

		last = batch[len(batch)-1].item
		total += len(batch)

		s.Logger().Debug().Int("rows", total).Int64("last_item", last).Msg("fetch time batch committed")
	}

	s.Logger().Info().Int("rows", total).Msg("fetch times filled")

	return nil
}

func readFetchTimes(ctx context.Context, s *Step, after int64) ([]fetchTime, error) {
	rows, err := s.Query(ctx, selectFetchTimesSQL, after, s.BatchSize())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []fetchTime

	for rows.Next() {
		var ft fetchTime
		if err := rows.Scan(&ft.item, &ft.time); err != nil {
			return nil, fmt.Errorf("scanning fetch time: %w", err)
		}

		batch = append(batch, ft)
	}

	return batch, rows.Err()
}

func writeFetchTimes(ctx context.Context, s *Step, batch []fetchTime) error {
	stmt, err := s.Prepare(ctx, "UPDATE md_item SET fetch_time = ? WHERE md_item_seq = ?")
	if err != nil {
		return err
	}
	defer stmt.Close() //nolint:errcheck // best-effort close on return

	for _, ft := range batch {
		if _, err := s.RunUpdate(ctx, stmt, ft.time, ft.item); err != nil {
			return err
		}
	}

	return nil
}

func renameAuthorIndex(ctx context.Context, s *Step) error {
	return s.RenameColumn(ctx, "author", "author_idx", "author_index")
}

func addURLs(ctx context.Context, s *Step) error {
	return s.CreateTable(ctx, "url")
}
