package parser_test

import (
	"testing"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/archivedb/internal/parser"
)

func TestStatements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		sql       string
		wantErr   bool
		wantStmts int
		check     func(t *testing.T, stmts []*pg_query.Node)
	}{
		{
			name:      "localized CREATE TABLE",
			sql:       "CREATE TABLE platform (platform_seq BIGSERIAL PRIMARY KEY, platform_name VARCHAR(64) NOT NULL)",
			wantStmts: 1,
			check: func(t *testing.T, stmts []*pg_query.Node) {
				t.Helper()
				assert.NotNil(t, stmts[0].GetCreateStmt(), "expected CreateStmt node")
			},
		},
		{
			name:      "RENAME COLUMN parses as RenameStmt",
			sql:       `ALTER TABLE "author" RENAME COLUMN "author_idx" TO "author_index"`,
			wantStmts: 1,
			check: func(t *testing.T, stmts []*pg_query.Node) {
				t.Helper()
				assert.NotNil(t, stmts[0].GetRenameStmt(), "expected RenameStmt node")
			},
		},
		{
			name:      "statements keep their order",
			sql:       "CREATE TABLE a (id INT); DROP TABLE b;",
			wantStmts: 2,
			check: func(t *testing.T, stmts []*pg_query.Node) {
				t.Helper()
				assert.NotNil(t, stmts[0].GetCreateStmt())
				assert.NotNil(t, stmts[1].GetDropStmt())
			},
		},
		{
			name:    "unsubstituted token is a comment and leaves a broken column",
			sql:     "CREATE TABLE a (a_seq --BigintSerialPk--\n)",
			wantErr: true,
		},
		{
			name:      "whitespace-only returns zero statements",
			sql:       "   \n\t  ",
			wantStmts: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stmts, err := parser.Statements(tt.sql)

			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, stmts)

				return
			}

			require.NoError(t, err)
			assert.Len(t, stmts, tt.wantStmts)

			if tt.check != nil {
				tt.check(t, stmts)
			}
		})
	}
}

func TestIsConcurrentIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sql  string
		want bool
	}{
		{`CREATE INDEX CONCURRENTLY IF NOT EXISTS "idx_au_au_key" ON "au" ("au_key")`, true},
		{`CREATE INDEX "idx_au_au_key" ON "au" ("au_key")`, false},
		{`CREATE TABLE a (id INT)`, false},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			t.Parallel()

			stmts, err := parser.Statements(tt.sql)
			require.NoError(t, err)
			require.Len(t, stmts, 1)
			assert.Equal(t, tt.want, parser.IsConcurrentIndex(stmts[0]))
		})
	}
}
