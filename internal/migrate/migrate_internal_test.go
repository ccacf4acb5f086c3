package migrate

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/archivedb/internal/metadata"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       any
		typeName string
		want     any
		wantErr  bool
	}{
		{name: "nil", in: nil, typeName: "BIGINT", want: nil},
		{name: "bytes to text", in: []byte("abc"), typeName: "varchar", want: "abc"},
		{name: "bytes to integer", in: []byte("42"), typeName: "bigint", want: int64(42)},
		{name: "text to integer", in: "7", typeName: "int(11)", want: int64(7)},
		{name: "integer kept", in: int64(9), typeName: "INTEGER", want: int64(9)},
		{name: "numeric text kept for text column", in: "12", typeName: "character varying", want: "12"},
		{name: "point is not an integer", in: "1,2", typeName: "point", want: "1,2"},
		{name: "bad integer", in: "x", typeName: "bigint", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := normalize(tt.in, tt.typeName)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToInt64(t *testing.T) {
	t.Parallel()

	for _, v := range []any{int64(5), int32(5), 5, uint64(5), float64(5), "5"} {
		n, err := toInt64(v)
		require.NoError(t, err, "%T", v)
		assert.Equal(t, int64(5), n)
	}

	_, err := toInt64(true)
	require.Error(t, err)
}

func TestPlan_refusesUntranslatedReference(t *testing.T) {
	t.Parallel()

	parent := &metadata.TableMeta{
		Name:    "parent",
		Columns: []metadata.ColumnMeta{{Name: "parent_seq", PrimaryKey: true, Position: 1}},
	}
	child := &metadata.TableMeta{
		Name: "child",
		Columns: []metadata.ColumnMeta{
			{Name: "child_seq", PrimaryKey: true, Position: 1},
			{Name: "parent_seq", Position: 2, ForeignTable: "parent", ForeignColumn: "parent_seq"},
		},
	}

	r := &run{
		m: &Migrator{log: zerolog.Nop()},
		targetColumns: map[string]map[string]bool{
			"parent": {"parent_seq": true},
			"child":  {"child_seq": true, "parent_seq": true},
		},
		tables: map[string]*metadata.TableMeta{"parent": parent, "child": child},
		done:   map[string]bool{},
	}

	_, err := r.plan(child)
	require.ErrorIs(t, err, ErrUntranslatable)

	r.done["parent"] = true

	p, err := r.plan(child)
	require.NoError(t, err)
	assert.Equal(t, "child_seq", p.pk)
	assert.Equal(t, 0, p.pkIdx)
	assert.Equal(t, []string{"parent_seq"}, p.insertCols)
	assert.Equal(t, map[int]string{1: "parent"}, p.translate)
}

func TestPlan_dropsColumnsMissingFromTarget(t *testing.T) {
	t.Parallel()

	legacy := &metadata.TableMeta{
		Name: "plugin",
		Columns: []metadata.ColumnMeta{
			{Name: "plugin_seq", PrimaryKey: true, Position: 1},
			{Name: "plugin_id", Position: 2},
			{Name: "platform", Position: 3},
		},
	}

	r := &run{
		m:             &Migrator{log: zerolog.Nop()},
		targetColumns: map[string]map[string]bool{"plugin": {"plugin_seq": true, "plugin_id": true}},
		tables:        map[string]*metadata.TableMeta{"plugin": legacy},
		done:          map[string]bool{},
	}

	p, err := r.plan(legacy)
	require.NoError(t, err)
	assert.Equal(t, []string{"plugin_seq", "plugin_id"}, p.columns)
	assert.Equal(t, []string{"plugin_id"}, p.insertCols)
	assert.Empty(t, p.translate)
}
