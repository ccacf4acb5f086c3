package database

import (
	"database/sql/driver"
	"errors"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Kind categorises a driver error without exposing driver-specific codes.
type Kind int

// Error kinds relevant to upgrades and migrations.
const (
	KindUnknown Kind = iota
	KindTransient
	KindDuplicateColumn
	KindDuplicateObject
	KindUndefinedTable
	KindUndefinedColumn
	KindConstraint
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindDuplicateColumn:
		return "duplicate_column"
	case KindDuplicateObject:
		return "duplicate_object"
	case KindUndefinedTable:
		return "undefined_table"
	case KindUndefinedColumn:
		return "undefined_column"
	case KindConstraint:
		return "constraint"
	default:
		return "unknown"
	}
}

// PostgreSQL SQLSTATE codes.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgAdminShutdown        = "57P01"
	pgCannotConnectNow     = "57P03"
	pgDuplicateColumn      = "42701"
	pgDuplicateTable       = "42P07"
	pgDuplicateObject      = "42710"
	pgDuplicateDatabase    = "42P04"
	pgUndefinedTable       = "42P01"
	pgUndefinedColumn      = "42703"
	pgClassConnection      = "08"
	pgClassIntegrity       = "23"
)

// MySQL error numbers.
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	myTooManyConnections = 1040
	myTableExists        = 1050
	myBadField           = 1054
	myDuplicateColumn    = 1060
	myDuplicateKeyName   = 1061
	myDuplicateEntry     = 1062
	myNoSuchTable        = 1146
	myLockWaitTimeout    = 1205
	myDeadlock           = 1213
	myRowIsReferenced    = 1451
	myNoReferencedRow    = 1452
	myServerGone         = 2006
	myServerLost         = 2013
)

// KindOf classifies err by inspecting the driver error in its chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, gomysql.ErrInvalidConn) {
		return KindTransient
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgKind(pgErr.Code)
	}

	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		return mysqlKind(myErr.Number)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return sqliteKind(liteErr.Code(), liteErr.Error())
	}

	return messageKind(err.Error())
}

func pgKind(code string) Kind {
	switch code {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgAdminShutdown, pgCannotConnectNow:
		return KindTransient
	case pgDuplicateColumn:
		return KindDuplicateColumn
	case pgDuplicateTable, pgDuplicateObject, pgDuplicateDatabase:
		return KindDuplicateObject
	case pgUndefinedTable:
		return KindUndefinedTable
	case pgUndefinedColumn:
		return KindUndefinedColumn
	}

	switch {
	case strings.HasPrefix(code, pgClassConnection):
		return KindTransient
	case strings.HasPrefix(code, pgClassIntegrity):
		return KindConstraint
	}

	return KindUnknown
}

func mysqlKind(number uint16) Kind {
	switch number {
	case myLockWaitTimeout, myDeadlock, myServerGone, myServerLost, myTooManyConnections:
		return KindTransient
	case myDuplicateColumn:
		return KindDuplicateColumn
	case myTableExists, myDuplicateKeyName:
		return KindDuplicateObject
	case myNoSuchTable:
		return KindUndefinedTable
	case myBadField:
		return KindUndefinedColumn
	case myDuplicateEntry, myRowIsReferenced, myNoReferencedRow:
		return KindConstraint
	}

	return KindUnknown
}

func sqliteKind(code int, msg string) Kind {
	// Extended result codes carry the primary code in the low byte.
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return KindTransient
	case sqlite3.SQLITE_CONSTRAINT:
		return KindConstraint
	}

	return messageKind(msg)
}

// messageKind falls back to the wording of errors that carry no code, such
// as SQLite schema errors.
func messageKind(msg string) Kind {
	msg = strings.ToLower(msg)

	switch {
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "bad connection"),
		strings.Contains(msg, "connection reset by peer"):
		return KindTransient
	case strings.Contains(msg, "duplicate column"):
		return KindDuplicateColumn
	case strings.Contains(msg, "already exists"):
		return KindDuplicateObject
	case strings.Contains(msg, "no such table"):
		return KindUndefinedTable
	case strings.Contains(msg, "no such column"):
		return KindUndefinedColumn
	}

	return KindUnknown
}

// IsTransient reports whether err is worth retrying: lock timeouts,
// deadlocks, serialization failures and dropped connections.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsDuplicateColumn reports whether err says a column already exists.
func IsDuplicateColumn(err error) bool {
	return KindOf(err) == KindDuplicateColumn
}

// IsDuplicateObject reports whether err says a table, index or constraint
// already exists.
func IsDuplicateObject(err error) bool {
	return KindOf(err) == KindDuplicateObject
}

// IsUndefinedTable reports whether err says a table does not exist.
func IsUndefinedTable(err error) bool {
	return KindOf(err) == KindUndefinedTable
}
