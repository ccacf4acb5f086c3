package metadata

import "github.com/aqasim81/archivedb/internal/dialect"

// queries holds one engine's introspection statements. Each takes the
// table name as its first argument.
//
//	columns:     name, type, 1-based position, 1 if part of the primary key
//	foreignKeys: column, referenced table, referenced column
type queries struct {
	listTables   string
	tableExists  string
	columnExists string
	indexExists  string
	fkExists     string // empty when constraint names are not recorded
	columns      string
	foreignKeys  string
}

func queriesFor(e dialect.Engine) (queries, bool) {
	switch e {
	case dialect.SQLite:
		return sqliteQueries, true
	case dialect.Postgres:
		return postgresQueries, true
	case dialect.MySQL:
		return mysqlQueries, true
	default:
		return queries{}, false
	}
}

var sqliteQueries = queries{ //nolint:gochecknoglobals // read-only statement table
	listTables: `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`,
	tableExists: `SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name = ?`,
	columnExists: `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
	indexExists: `SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'index' AND tbl_name = ? AND name = ?`,
	columns: `SELECT name, type, cid + 1, CASE WHEN pk > 0 THEN 1 ELSE 0 END
		FROM pragma_table_info(?) ORDER BY cid`,
	foreignKeys: `SELECT "from", "table", COALESCE("to", '')
		FROM pragma_foreign_key_list(?)`,
}

var postgresQueries = queries{ //nolint:gochecknoglobals // read-only statement table
	listTables: `SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'`,
	tableExists: `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = ?`,
	columnExists: `SELECT COUNT(*) FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = ? AND column_name = ?`,
	indexExists: `SELECT COUNT(*) FROM pg_indexes
		WHERE schemaname = current_schema() AND tablename = ? AND indexname = ?`,
	fkExists: `SELECT COUNT(*) FROM information_schema.table_constraints
		WHERE table_schema = current_schema() AND table_name = ?
			AND constraint_name = ? AND constraint_type = 'FOREIGN KEY'`,
	columns: `SELECT c.column_name, c.data_type, c.ordinal_position,
			CASE WHEN EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage k
					ON k.constraint_name = tc.constraint_name
					AND k.table_schema = tc.table_schema
					AND k.table_name = tc.table_name
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = c.table_schema
					AND tc.table_name = c.table_name
					AND k.column_name = c.column_name
			) THEN 1 ELSE 0 END
		FROM information_schema.columns c
		WHERE c.table_schema = current_schema() AND c.table_name = ?
		ORDER BY c.ordinal_position`,
	foreignKeys: `SELECT k.column_name, u.table_name, u.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage k
			ON k.constraint_name = tc.constraint_name
			AND k.table_schema = tc.table_schema
			AND k.table_name = tc.table_name
		JOIN information_schema.constraint_column_usage u
			ON u.constraint_name = tc.constraint_name
			AND u.constraint_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = current_schema() AND tc.table_name = ?`,
}

var mysqlQueries = queries{ //nolint:gochecknoglobals // read-only statement table
	listTables: `SELECT table_name FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'`,
	tableExists: `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_name = ?`,
	columnExists: `SELECT COUNT(*) FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ? AND column_name = ?`,
	indexExists: `SELECT COUNT(*) FROM information_schema.statistics
		WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?`,
	fkExists: `SELECT COUNT(*) FROM information_schema.table_constraints
		WHERE table_schema = DATABASE() AND table_name = ?
			AND constraint_name = ? AND constraint_type = 'FOREIGN KEY'`,
	columns: `SELECT column_name, data_type, ordinal_position,
			CASE WHEN column_key = 'PRI' THEN 1 ELSE 0 END
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`,
	foreignKeys: `SELECT column_name, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE() AND table_name = ?
			AND referenced_table_name IS NOT NULL`,
}
