package dialect

import (
	"fmt"
	"strings"
	"time"
)

// Reference describes the foreign key carried by an added column.
type Reference struct {
	Constraint string
	Table      string
	Column     string
}

// Column describes a column added to an existing table. Type may contain
// catalog placeholder tokens.
type Column struct {
	Name       string
	Type       string
	References *Reference
}

// AddColumnStatements returns the statements that add col to table. MySQL
// silently ignores inline REFERENCES clauses, so it gets a separate
// ADD CONSTRAINT statement.
func AddColumnStatements(table string, col Column, e Engine) []string {
	add := "ALTER TABLE " + QuoteIdent(e, table) +
		" ADD COLUMN " + QuoteIdent(e, col.Name) + " " + replaceTokens(col.Type, e)

	ref := col.References
	if ref == nil {
		return []string{add}
	}

	if e == MySQL {
		return []string{
			add,
			"ALTER TABLE " + QuoteIdent(e, table) +
				" ADD CONSTRAINT " + QuoteIdent(e, ref.Constraint) +
				" FOREIGN KEY (" + QuoteIdent(e, col.Name) + ")" +
				" REFERENCES " + QuoteIdent(e, ref.Table) + " (" + QuoteIdent(e, ref.Column) + ")",
		}
	}

	return []string{
		add + " CONSTRAINT " + QuoteIdent(e, ref.Constraint) +
			" REFERENCES " + QuoteIdent(e, ref.Table) + " (" + QuoteIdent(e, ref.Column) + ")",
	}
}

// Index describes an index to create.
type Index struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
	// Concurrent builds the index without blocking writes where the engine
	// supports it. Such statements cannot run inside a transaction.
	Concurrent bool
}

// CreateIndexStatement returns the statement creating ix. MySQL has no
// IF NOT EXISTS variant; callers guard it with an existence check.
func CreateIndexStatement(ix Index, e Engine) string {
	var b strings.Builder

	b.WriteString("CREATE ")

	if ix.Unique {
		b.WriteString("UNIQUE ")
	}

	b.WriteString("INDEX ")

	if ix.Concurrent && e == Postgres {
		b.WriteString("CONCURRENTLY ")
	}

	if e == Postgres || e == SQLite {
		b.WriteString("IF NOT EXISTS ")
	}

	b.WriteString(QuoteIdent(e, ix.Name))
	b.WriteString(" ON ")
	b.WriteString(QuoteIdent(e, ix.Table))
	b.WriteString(" (")
	b.WriteString(quoteAll(e, ix.Columns))
	b.WriteString(")")

	return b.String()
}

// LockTimeoutStatement returns the session statement bounding lock waits, or
// an empty string when the engine has no such setting.
func LockTimeoutStatement(d time.Duration, e Engine) string {
	if d <= 0 {
		return ""
	}

	switch e {
	case Postgres:
		return fmt.Sprintf("SET lock_timeout = '%dms'", d.Milliseconds())
	case MySQL:
		secs := int64(d / time.Second)
		if secs < 1 {
			secs = 1
		}

		return fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", secs)
	case SQLite:
		return fmt.Sprintf("PRAGMA busy_timeout = %d", d.Milliseconds())
	default:
		return ""
	}
}

// StatementTimeoutStatement returns the session statement bounding statement
// run time, or an empty string when the engine has no such setting.
func StatementTimeoutStatement(d time.Duration, e Engine) string {
	if d <= 0 {
		return ""
	}

	switch e {
	case Postgres:
		return fmt.Sprintf("SET statement_timeout = '%dms'", d.Milliseconds())
	case MySQL:
		return fmt.Sprintf("SET SESSION max_execution_time = %d", d.Milliseconds())
	default:
		return ""
	}
}
