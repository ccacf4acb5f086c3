// Package metadata reads table, column, key and index definitions from a
// live database through the engine's catalog views.
package metadata

import (
	"context"
	"fmt"
	"sort"

	"github.com/aqasim81/archivedb/internal/dialect"
	"github.com/aqasim81/archivedb/internal/executor"
)

// ColumnMeta describes one column of a table.
type ColumnMeta struct {
	Name          string
	TypeName      string
	Position      int // 1-based
	PrimaryKey    bool
	ForeignTable  string // empty unless the column references another table
	ForeignColumn string
}

// TableMeta describes one table. CreateDDL is filled in from the table
// catalog by the caller; introspection never produces it.
type TableMeta struct {
	Name              string
	Columns           []ColumnMeta
	CreateDDL         string
	DuplicateTolerant bool
}

// PrimaryKey returns the table's primary key column. Tables without a key,
// and tables with a composite key, report false.
func (t *TableMeta) PrimaryKey() (ColumnMeta, bool) {
	var (
		pk    ColumnMeta
		count int
	)

	for _, c := range t.Columns {
		if c.PrimaryKey {
			pk = c
			count++
		}
	}

	if count != 1 {
		return ColumnMeta{}, false
	}

	return pk, true
}

// References returns the distinct tables referenced by foreign keys, in
// column order.
func (t *TableMeta) References() []string {
	var refs []string

	seen := make(map[string]bool)

	for _, c := range t.Columns {
		if c.ForeignTable != "" && !seen[c.ForeignTable] {
			seen[c.ForeignTable] = true
			refs = append(refs, c.ForeignTable)
		}
	}

	return refs
}

// ColumnNames returns the column names in position order.
func (t *TableMeta) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}

	return names
}

// Inspector introspects one database.
type Inspector struct {
	q    executor.Queryer
	exec *executor.Executor
	sql  queries
}

// New returns an Inspector reading through q. The executor decides the
// engine and retries transient failures.
func New(q executor.Queryer, exec *executor.Executor) (*Inspector, error) {
	qs, ok := queriesFor(exec.Engine())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEngine, exec.Engine())
	}

	return &Inspector{q: q, exec: exec, sql: qs}, nil
}

// Engine returns the engine being inspected.
func (i *Inspector) Engine() dialect.Engine {
	return i.exec.Engine()
}

// TableExists reports whether table exists.
func (i *Inspector) TableExists(ctx context.Context, table string) (bool, error) {
	return i.exists(ctx, i.sql.tableExists, table)
}

// ColumnExists reports whether table has column.
func (i *Inspector) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	return i.exists(ctx, i.sql.columnExists, table, column)
}

// IndexExists reports whether table has an index named index.
func (i *Inspector) IndexExists(ctx context.Context, table, index string) (bool, error) {
	return i.exists(ctx, i.sql.indexExists, table, index)
}

// ForeignKeyExists reports whether table has a foreign key constraint named
// constraint. SQLite does not keep constraint names, so it always reports
// false there.
func (i *Inspector) ForeignKeyExists(ctx context.Context, table, constraint string) (bool, error) {
	if i.sql.fkExists == "" {
		return false, nil
	}

	return i.exists(ctx, i.sql.fkExists, table, constraint)
}

func (i *Inspector) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var n int
	if err := i.exec.QueryRow(ctx, i.q, query, args, &n); err != nil {
		return false, fmt.Errorf("introspecting %v: %w", args, err)
	}

	return n > 0, nil
}

// ListTables returns the user tables, sorted by name.
func (i *Inspector) ListTables(ctx context.Context) ([]string, error) {
	rows, err := i.exec.Query(ctx, i.q, i.sql.listTables)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var tables []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}

		tables = append(tables, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}

	sort.Strings(tables)

	return tables, nil
}

// Columns returns the columns of table ordered by position, with primary
// key membership and foreign key targets filled in.
func (i *Inspector) Columns(ctx context.Context, table string) ([]ColumnMeta, error) {
	cols, err := i.columns(ctx, table)
	if err != nil {
		return nil, err
	}

	fks, err := i.foreignKeys(ctx, table)
	if err != nil {
		return nil, err
	}

	for idx := range cols {
		if ref, ok := fks[cols[idx].Name]; ok {
			cols[idx].ForeignTable = ref[0]
			cols[idx].ForeignColumn = ref[1]
		}
	}

	return cols, nil
}

func (i *Inspector) columns(ctx context.Context, table string) ([]ColumnMeta, error) {
	rows, err := i.exec.Query(ctx, i.q, i.sql.columns, table)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []ColumnMeta

	for rows.Next() {
		var (
			c  ColumnMeta
			pk int
		)

		if err := rows.Scan(&c.Name, &c.TypeName, &c.Position, &pk); err != nil {
			return nil, fmt.Errorf("scanning column of %s: %w", table, err)
		}

		c.PrimaryKey = pk != 0
		cols = append(cols, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}

	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	sort.SliceStable(cols, func(a, b int) bool { return cols[a].Position < cols[b].Position })

	return cols, nil
}

// foreignKeys maps a column name to its referenced table and column.
func (i *Inspector) foreignKeys(ctx context.Context, table string) (map[string][2]string, error) {
	rows, err := i.exec.Query(ctx, i.q, i.sql.foreignKeys, table)
	if err != nil {
		return nil, fmt.Errorf("reading foreign keys of %s: %w", table, err)
	}
	defer rows.Close()

	fks := make(map[string][2]string)

	for rows.Next() {
		var column, refTable, refColumn string
		if err := rows.Scan(&column, &refTable, &refColumn); err != nil {
			return nil, fmt.Errorf("scanning foreign key of %s: %w", table, err)
		}

		fks[column] = [2]string{refTable, refColumn}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading foreign keys of %s: %w", table, err)
	}

	return fks, nil
}

// Inspect describes every user table except the excluded ones.
func (i *Inspector) Inspect(ctx context.Context, exclude ...string) ([]*TableMeta, error) {
	tables, err := i.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}

	var metas []*TableMeta

	for _, name := range tables {
		if skip[name] {
			continue
		}

		cols, err := i.Columns(ctx, name)
		if err != nil {
			return nil, err
		}

		metas = append(metas, &TableMeta{Name: name, Columns: cols})
	}

	return metas, nil
}
