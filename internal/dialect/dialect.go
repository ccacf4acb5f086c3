// Package dialect isolates the SQL syntax differences between the supported
// database engines. Every function is a pure string transformation keyed on
// the engine; callers ask for the localized statement instead of branching
// on the engine themselves.
package dialect

import (
	"strings"
)

// Engine identifies a supported relational database engine.
type Engine int

// Supported engines. Unknown receives no dialect-specific transformation.
const (
	Unknown Engine = iota
	SQLite
	Postgres
	MySQL
)

// String returns the engine name used in logs and error messages.
func (e Engine) String() string {
	switch e {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	default:
		return "unknown"
	}
}

// Placeholder tokens used by generic create-table DDL in the table catalog.
const (
	SerialPKToken    = "--BigintSerialPk--"
	LongVarCharToken = "--LongVarChar--"
)

// Classify maps a connection className to an engine. Matching is
// case-insensitive and accepts the common aliases of each driver.
func Classify(className string) Engine {
	switch strings.ToLower(strings.TrimSpace(className)) {
	case "sqlite", "sqlite3", "embedded":
		return SQLite
	case "postgres", "postgresql", "pgx":
		return Postgres
	case "mysql", "mariadb":
		return MySQL
	default:
		return Unknown
	}
}

// SurrogateKeyColumnDDL returns the column type and constraint for an
// auto-generated BIGINT primary key.
func SurrogateKeyColumnDDL(e Engine) string {
	switch e {
	case SQLite:
		// Only the exact INTEGER PRIMARY KEY spelling aliases the rowid.
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	case Postgres:
		return "BIGSERIAL PRIMARY KEY"
	case MySQL:
		return "BIGINT AUTO_INCREMENT PRIMARY KEY"
	default:
		return ""
	}
}

// LongTextDDL returns the column type used for unbounded text.
func LongTextDDL(e Engine) string {
	switch e {
	case SQLite, Postgres:
		return "TEXT"
	case MySQL:
		return "LONGTEXT"
	default:
		return ""
	}
}

// LocalizeCreateStatement substitutes the placeholder tokens of a generic
// create statement with the engine's syntax and appends the storage engine
// clause where the engine requires one. DDL for an unknown engine is
// returned unchanged.
func LocalizeCreateStatement(ddl string, e Engine) string {
	if e == Unknown {
		return ddl
	}

	localized := replaceTokens(strings.TrimSpace(ddl), e)
	localized = strings.TrimSuffix(localized, ";")

	if e == MySQL {
		localized += " ENGINE=InnoDB"
	}

	return localized
}

func replaceTokens(s string, e Engine) string {
	if e == Unknown {
		return s
	}

	s = strings.ReplaceAll(s, SerialPKToken, SurrogateKeyColumnDDL(e))

	return strings.ReplaceAll(s, LongVarCharToken, LongTextDDL(e))
}

// QuoteIdent quotes a table, column or index name.
func QuoteIdent(e Engine, name string) string {
	if e == MySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}

	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteAll(e Engine, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(e, n)
	}

	return strings.Join(quoted, ", ")
}

// DropColumnStatement returns the statement that removes a column.
func DropColumnStatement(table, column string, e Engine) string {
	return "ALTER TABLE " + QuoteIdent(e, table) + " DROP COLUMN " + QuoteIdent(e, column)
}

// RenameColumnStatement returns the statement that renames a column.
func RenameColumnStatement(table, from, to string, e Engine) string {
	return "ALTER TABLE " + QuoteIdent(e, table) +
		" RENAME COLUMN " + QuoteIdent(e, from) + " TO " + QuoteIdent(e, to)
}

// DropForeignKeyStatement returns the statement that drops a named foreign
// key constraint. The embedded engine cannot drop a constraint without
// rebuilding the table, so it yields an empty statement.
func DropForeignKeyStatement(table, constraint string, e Engine) string {
	switch e {
	case SQLite:
		return ""
	case MySQL:
		return "ALTER TABLE " + QuoteIdent(e, table) + " DROP FOREIGN KEY " + QuoteIdent(e, constraint)
	default:
		return "ALTER TABLE " + QuoteIdent(e, table) + " DROP CONSTRAINT " + QuoteIdent(e, constraint)
	}
}

// DropTableStatement returns a guarded DROP TABLE statement.
func DropTableStatement(table string, e Engine) string {
	return "DROP TABLE IF EXISTS " + QuoteIdent(e, table)
}

// CreateDatabaseStatement returns the statement creating a database, or an
// empty string for engines whose databases are created on first open.
func CreateDatabaseStatement(name string, e Engine) string {
	switch e {
	case Postgres:
		return "CREATE DATABASE " + QuoteIdent(e, name)
	case MySQL:
		return "CREATE DATABASE IF NOT EXISTS " + QuoteIdent(e, name)
	default:
		return ""
	}
}
