// Package translation persists the mapping from source surrogate keys to
// the keys generated for the same rows in a migration target. The table in
// the target database is the source of truth; each table's map is cached in
// memory the first time it is looked up.
package translation

import (
	"context"
	"fmt"

	"github.com/aqasim81/archivedb/internal/dialect"
	"github.com/aqasim81/archivedb/internal/executor"
	"github.com/aqasim81/archivedb/internal/metadata"
)

// TableName is the translation table in the target database. Its presence
// means a migration into that database has not been finalized.
const TableName = "seq_translation"

const createTableSQL = `CREATE TABLE IF NOT EXISTS seq_translation (
    table_name VARCHAR(64) NOT NULL,
    source_seq BIGINT NOT NULL,
    target_seq BIGINT NOT NULL,
    PRIMARY KEY (table_name, source_seq)
)`

// Store reads and writes translations in one target database.
type Store struct {
	q     executor.Queryer
	exec  *executor.Executor
	cache map[string]map[int64]int64
}

// New creates a Store over the target reachable through q.
func New(q executor.Queryer, exec *executor.Executor) *Store {
	return &Store{
		q:     q,
		exec:  exec,
		cache: make(map[string]map[int64]int64),
	}
}

// Exists reports whether the translation table exists.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	inspector, err := metadata.New(s.q, s.exec)
	if err != nil {
		return false, err
	}

	exists, err := inspector.TableExists(ctx, TableName)
	if err != nil {
		return false, fmt.Errorf("checking for %s: %w", TableName, err)
	}

	return exists, nil
}

// Create creates the translation table if it does not exist.
func (s *Store) Create(ctx context.Context) error {
	ddl := dialect.LocalizeCreateStatement(createTableSQL, s.exec.Engine())

	if _, err := s.exec.Exec(ctx, s.q, ddl); err != nil {
		return fmt.Errorf("creating %s: %w", TableName, err)
	}

	return nil
}

// Drop removes the translation table and forgets every cached map.
func (s *Store) Drop(ctx context.Context) error {
	if _, err := s.exec.Exec(ctx, s.q, dialect.DropTableStatement(TableName, s.exec.Engine())); err != nil {
		return fmt.Errorf("dropping %s: %w", TableName, err)
	}

	s.cache = make(map[string]map[int64]int64)

	return nil
}

// Lookup returns the target key recorded for source in table.
func (s *Store) Lookup(ctx context.Context, table string, source int64) (int64, bool, error) {
	m, err := s.load(ctx, table)
	if err != nil {
		return 0, false, err
	}

	target, ok := m[source]

	return target, ok, nil
}

func (s *Store) load(ctx context.Context, table string) (map[int64]int64, error) {
	if m, ok := s.cache[table]; ok {
		return m, nil
	}

	rows, err := s.exec.Query(ctx, s.q,
		"SELECT source_seq, target_seq FROM seq_translation WHERE table_name = ?", table)
	if err != nil {
		return nil, fmt.Errorf("loading translations of %s: %w", table, err)
	}
	defer rows.Close()

	m := make(map[int64]int64)

	for rows.Next() {
		var source, target int64
		if err := rows.Scan(&source, &target); err != nil {
			return nil, fmt.Errorf("scanning translation of %s: %w", table, err)
		}

		m[source] = target
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading translations of %s: %w", table, err)
	}

	s.cache[table] = m

	return m, nil
}

// Record persists a translation through q, normally the transaction that
// inserted the target row. Call Remember once that transaction commits.
func (s *Store) Record(ctx context.Context, q executor.Queryer, table string, source, target int64) error {
	if _, err := s.exec.Exec(ctx, q,
		"INSERT INTO seq_translation (table_name, source_seq, target_seq) VALUES (?, ?, ?)",
		table, source, target,
	); err != nil {
		return fmt.Errorf("recording translation %s %d -> %d: %w", table, source, target, err)
	}

	return nil
}

// Remember adds a committed translation to the table's cached map, if the
// map has been loaded.
func (s *Store) Remember(table string, source, target int64) {
	if m, ok := s.cache[table]; ok {
		m[source] = target
	}
}

// Count returns the number of translations persisted for table.
func (s *Store) Count(ctx context.Context, table string) (int, error) {
	var n int

	err := s.exec.QueryRow(ctx, s.q,
		"SELECT COUNT(*) FROM seq_translation WHERE table_name = ?", []any{table}, &n)
	if err != nil {
		return 0, fmt.Errorf("counting translations of %s: %w", table, err)
	}

	return n, nil
}
