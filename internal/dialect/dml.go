package dialect

import (
	"strconv"
	"strings"
)

// Placeholders returns n comma-separated bind placeholders.
func Placeholders(n int, e Engine) string {
	ps := make([]string, n)
	for i := range ps {
		if e == Postgres {
			ps[i] = "$" + strconv.Itoa(i+1)
		} else {
			ps[i] = "?"
		}
	}

	return strings.Join(ps, ", ")
}

// Rebind rewrites '?' placeholders to the engine's positional form. Question
// marks inside single-quoted literals are left alone.
func Rebind(query string, e Engine) string {
	if e != Postgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder

	b.Grow(len(query) + 8)

	n := 0
	inLiteral := false

	for _, r := range query {
		switch {
		case r == '\'':
			inLiteral = !inLiteral
			b.WriteRune(r)
		case r == '?' && !inLiteral:
			n++
			b.WriteString("$" + strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

// InsertStatement returns an INSERT of columns into table. When key is not
// empty and the engine can return generated keys from the statement itself,
// the generated value of key is returned as a result row.
func InsertStatement(table string, columns []string, key string, e Engine) string {
	q := "INSERT INTO " + QuoteIdent(e, table) +
		" (" + quoteAll(e, columns) + ") VALUES (" + Placeholders(len(columns), e) + ")"

	if key != "" && ReturnsGeneratedKeys(e) {
		q += " RETURNING " + QuoteIdent(e, key)
	}

	return q
}

// ReturnsGeneratedKeys reports whether InsertStatement yields the generated
// key as a result row rather than through the driver's last insert id.
func ReturnsGeneratedKeys(e Engine) bool {
	return e == Postgres
}

// SelectStatement returns a SELECT of columns from table, ordered by
// orderBy when it is not empty.
func SelectStatement(table string, columns []string, orderBy string, e Engine) string {
	q := "SELECT " + quoteAll(e, columns) + " FROM " + QuoteIdent(e, table)
	if orderBy != "" {
		q += " ORDER BY " + QuoteIdent(e, orderBy)
	}

	return q
}

// CountStatement returns a row count query for table.
func CountStatement(table string, e Engine) string {
	return "SELECT COUNT(*) FROM " + QuoteIdent(e, table)
}

// MatchStatement returns a count of the rows of table whose columns equal
// the bound values. Columns flagged in isNull are compared with IS NULL and
// take no bind parameter.
func MatchStatement(table string, columns []string, isNull []bool, e Engine) string {
	conds := make([]string, len(columns))
	n := 0

	for i, c := range columns {
		if isNull[i] {
			conds[i] = QuoteIdent(e, c) + " IS NULL"
			continue
		}

		n++

		if e == Postgres {
			conds[i] = QuoteIdent(e, c) + " = $" + strconv.Itoa(n)
		} else {
			conds[i] = QuoteIdent(e, c) + " = ?"
		}
	}

	return "SELECT COUNT(*) FROM " + QuoteIdent(e, table) + " WHERE " + strings.Join(conds, " AND ")
}
