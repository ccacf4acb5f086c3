package executor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/archivedb/internal/executor"
)

func TestContainsConcurrentIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sql  string
		want bool
	}{
		{"concurrent", `CREATE INDEX CONCURRENTLY IF NOT EXISTS "idx_md_item_name_name" ON "md_item_name" ("name")`, true},
		{"unique concurrent", "CREATE UNIQUE INDEX CONCURRENTLY idx_au_au_key ON au (au_key)", true},
		{"regular index", `CREATE INDEX IF NOT EXISTS "idx_au_au_key" ON "au" ("au_key")`, false},
		{"no index", "ALTER TABLE md_item ADD COLUMN fetch_time BIGINT", false},
		{"multiple statements", "ALTER TABLE au ADD COLUMN x TEXT; CREATE INDEX CONCURRENTLY i ON au (x);", true},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := executor.ContainsConcurrentIndex(tt.sql)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContainsConcurrentIndex_invalidSQL_returnsError(t *testing.T) {
	t.Parallel()

	_, err := executor.ContainsConcurrentIndex("NOT VALID SQL ;;; @@@ !!!")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing SQL")
}
