package database_test

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/aqasim81/archivedb/internal/database"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want database.Kind
	}{
		{"nil", nil, database.KindUnknown},
		{"bad conn", driver.ErrBadConn, database.KindTransient},
		{"wrapped bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), database.KindTransient},
		{"mysql invalid conn", gomysql.ErrInvalidConn, database.KindTransient},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, database.KindTransient},
		{"pg deadlock", &pgconn.PgError{Code: "40P01"}, database.KindTransient},
		{"pg lock timeout", &pgconn.PgError{Code: "55P03"}, database.KindTransient},
		{"pg connection class", &pgconn.PgError{Code: "08006"}, database.KindTransient},
		{"pg duplicate column", &pgconn.PgError{Code: "42701"}, database.KindDuplicateColumn},
		{"pg duplicate table", &pgconn.PgError{Code: "42P07"}, database.KindDuplicateObject},
		{"pg undefined table", &pgconn.PgError{Code: "42P01"}, database.KindUndefinedTable},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, database.KindConstraint},
		{"pg syntax", &pgconn.PgError{Code: "42601"}, database.KindUnknown},
		{"mysql deadlock", &gomysql.MySQLError{Number: 1213}, database.KindTransient},
		{"mysql lock wait", &gomysql.MySQLError{Number: 1205}, database.KindTransient},
		{"mysql duplicate column", &gomysql.MySQLError{Number: 1060}, database.KindDuplicateColumn},
		{"mysql table exists", &gomysql.MySQLError{Number: 1050}, database.KindDuplicateObject},
		{"mysql no such table", &gomysql.MySQLError{Number: 1146}, database.KindUndefinedTable},
		{"mysql duplicate entry", &gomysql.MySQLError{Number: 1062}, database.KindConstraint},
		{"sqlite duplicate column text", errors.New("SQL logic error: duplicate column name: creation_time (1)"), database.KindDuplicateColumn},
		{"sqlite no such table text", errors.New("SQL logic error: no such table: version (1)"), database.KindUndefinedTable},
		{"sqlite locked text", errors.New("database is locked (5) (SQLITE_BUSY)"), database.KindTransient},
		{"plain", errors.New("boom"), database.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, database.KindOf(tt.err))
		})
	}
}

func TestPredicates(t *testing.T) {
	t.Parallel()

	assert.True(t, database.IsTransient(&pgconn.PgError{Code: "40001"}))
	assert.False(t, database.IsTransient(&pgconn.PgError{Code: "42701"}))
	assert.True(t, database.IsDuplicateColumn(&gomysql.MySQLError{Number: 1060}))
	assert.True(t, database.IsDuplicateObject(&pgconn.PgError{Code: "42P04"}))
	assert.True(t, database.IsUndefinedTable(errors.New("no such table: seq_translation")))
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "transient", database.KindTransient.String())
	assert.Equal(t, "duplicate_column", database.KindDuplicateColumn.String())
	assert.Equal(t, "unknown", database.Kind(99).String())
}
