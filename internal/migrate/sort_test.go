package migrate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/archivedb/internal/metadata"
	"github.com/aqasim81/archivedb/internal/migrate"
)

// table builds a TableMeta whose columns reference refs.
func table(name string, refs ...string) *metadata.TableMeta {
	t := &metadata.TableMeta{
		Name:    name,
		Columns: []metadata.ColumnMeta{{Name: name + "_seq", PrimaryKey: true, Position: 1}},
	}

	for i, ref := range refs {
		t.Columns = append(t.Columns, metadata.ColumnMeta{
			Name:         ref + "_seq",
			Position:     i + 2,
			ForeignTable: ref,
		})
	}

	return t
}

func names(tables []*metadata.TableMeta) []string {
	out := make([]string, len(tables))
	for i, t := range tables {
		out[i] = t.Name
	}

	return out
}

func TestSortTables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		tables []*metadata.TableMeta
		want   []string
	}{
		{
			name:   "empty",
			tables: nil,
			want:   []string{},
		},
		{
			name:   "already ordered",
			tables: []*metadata.TableMeta{table("a"), table("b", "a")},
			want:   []string{"a", "b"},
		},
		{
			name: "chain given backwards",
			tables: []*metadata.TableMeta{
				table("md_item", "au_md"), table("au_md", "au"), table("au", "plugin"), table("plugin"),
			},
			want: []string{"plugin", "au", "au_md", "md_item"},
		},
		{
			name:   "self reference does not block",
			tables: []*metadata.TableMeta{table("node", "node"), table("leaf", "node")},
			want:   []string{"node", "leaf"},
		},
		{
			name:   "reference outside the set does not block",
			tables: []*metadata.TableMeta{table("child", "elsewhere")},
			want:   []string{"child"},
		},
		{
			name: "diamond",
			tables: []*metadata.TableMeta{
				table("d", "b", "c"), table("c", "a"), table("b", "a"), table("a"),
			},
			want: []string{"a", "c", "b", "d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sorted, err := migrate.SortTables(tt.tables)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(sorted))
		})
	}
}

func TestSortTables_cycle(t *testing.T) {
	t.Parallel()

	tables := []*metadata.TableMeta{table("a", "b"), table("b", "a"), table("c")}

	_, err := migrate.SortTables(tables)
	require.ErrorIs(t, err, migrate.ErrDependencyCycle)
	assert.Contains(t, err.Error(), "placed 1 of 3 tables")
}

func TestSortTables_everyTableAfterItsReferences(t *testing.T) {
	t.Parallel()

	tables := []*metadata.TableMeta{
		table("url", "md_item"),
		table("author", "md_item"),
		table("md_item", "au_md", "publication"),
		table("publication", "publisher"),
		table("publisher"),
		table("au_md", "au"),
		table("au", "plugin"),
		table("plugin", "platform"),
		table("platform"),
		table("pending_au"),
	}

	sorted, err := migrate.SortTables(tables)
	require.NoError(t, err)
	require.Len(t, sorted, len(tables))

	pos := make(map[string]int, len(sorted))
	for i, tbl := range sorted {
		pos[tbl.Name] = i
	}

	for _, tbl := range tables {
		for _, ref := range tbl.References() {
			assert.Less(t, pos[ref], pos[tbl.Name], "%s before %s", ref, tbl.Name)
		}
	}
}
