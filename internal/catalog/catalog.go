// Package catalog holds the create-table DDL of every table at every schema
// version. Each table has one file per version that introduced or redefined
// it, named V{version}_{table}.sql. The DDL is generic: engine-specific
// syntax is written as placeholder tokens and substituted by the dialect
// package.
package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/aqasim81/archivedb/internal/dialect"
	"github.com/aqasim81/archivedb/internal/parser"
)

//go:embed tables/*.sql
var defaultTables embed.FS

// DefaultDuplicateTolerant lists the shipped tables whose rows need not be unique.
var DefaultDuplicateTolerant = []string{"fetch_report"} //nolint:gochecknoglobals // fixed list, read-only

// DefaultIndexes lists the secondary indexes of the shipped tables, keyed by
// the version that introduced them.
func DefaultIndexes() map[int][]dialect.Index {
	return map[int][]dialect.Index{
		3: {
			{Name: "idx_au_au_key", Table: "au", Columns: []string{"au_key"}},
			{Name: "idx_md_item_name_name", Table: "md_item_name", Columns: []string{"name"}, Concurrent: true},
			{Name: "idx_md_item_publication", Table: "md_item", Columns: []string{"publication_seq"}},
		},
	}
}

// filenamePattern matches catalog files such as V4_fetch_report.sql.
var filenamePattern = regexp.MustCompile(`^V(\d+)_([a-z0-9_]+)\.sql$`) //nolint:gochecknoglobals // compiled once

// Entry is the definition of one table as of one schema version.
type Entry struct {
	Name       string
	Version    int
	DDL        string   // generic DDL with placeholder tokens
	FilePath   string   // path inside the catalog file system
	Columns    []string // in declaration order
	References []string // tables referenced by foreign keys
}

// Localize returns the entry's DDL for engine e.
func (e Entry) Localize(engine dialect.Engine) string {
	return dialect.LocalizeCreateStatement(e.DDL, engine)
}

// Catalog maps table names to their versioned definitions.
type Catalog struct {
	entries           map[string][]Entry // ascending by version
	duplicateTolerant map[string]bool
	indexes           map[int][]dialect.Index
	latest            int
}

// Option configures Load.
type Option func(*Catalog)

// DuplicateTolerant marks tables whose rows are not required to be unique.
func DuplicateTolerant(names ...string) Option {
	return func(c *Catalog) {
		for _, n := range names {
			c.duplicateTolerant[n] = true
		}
	}
}

// Indexes declares secondary indexes introduced at version.
func Indexes(version int, indexes ...dialect.Index) Option {
	return func(c *Catalog) {
		c.indexes[version] = append(c.indexes[version], indexes...)
	}
}

// Default loads the catalog embedded in the binary.
func Default() (*Catalog, error) {
	opts := []Option{DuplicateTolerant(DefaultDuplicateTolerant...)}
	for version, indexes := range DefaultIndexes() {
		opts = append(opts, Indexes(version, indexes...))
	}

	return Load(defaultTables, "tables", opts...)
}

// Load reads every catalog file in dir of fsys. Files that do not match the
// naming pattern are skipped. Each entry is validated by parsing its
// PostgreSQL rendering, which must be a single CREATE TABLE of the table the
// file is named after.
func Load(fsys fs.FS, dir string, opts ...Option) (*Catalog, error) {
	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading catalog directory %s: %w", dir, err)
	}

	c := &Catalog{
		entries:           make(map[string][]Entry),
		duplicateTolerant: make(map[string]bool),
		indexes:           make(map[int][]dialect.Index),
	}

	for _, opt := range opts {
		opt(c)
	}

	for _, f := range files {
		if f.IsDir() {
			continue
		}

		matches := filenamePattern.FindStringSubmatch(f.Name())
		if matches == nil {
			continue
		}

		entry, err := readEntry(fsys, path.Join(dir, f.Name()), matches[1], matches[2])
		if err != nil {
			return nil, err
		}

		c.entries[entry.Name] = append(c.entries[entry.Name], entry)

		if entry.Version > c.latest {
			c.latest = entry.Version
		}
	}

	for name, list := range c.entries {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Version < list[j].Version
		})

		for i := 1; i < len(list); i++ {
			if list[i].Version == list[i-1].Version {
				return nil, fmt.Errorf("%w: %s defined twice at version %d", ErrInvalidEntry, name, list[i].Version)
			}
		}
	}

	return c, nil
}

func readEntry(fsys fs.FS, filePath, version, name string) (Entry, error) {
	v, err := strconv.Atoi(version)
	if err != nil || v <= 0 {
		return Entry{}, fmt.Errorf("%w: %s: version must be positive", ErrInvalidEntry, filePath)
	}

	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return Entry{}, fmt.Errorf("reading catalog file %s: %w", filePath, err)
	}

	ddl := strings.TrimSpace(string(data))

	shape, err := parser.DescribeCreateTable(dialect.LocalizeCreateStatement(ddl, dialect.Postgres))
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %s: %w", ErrInvalidEntry, filePath, err)
	}

	if shape.Table != name {
		return Entry{}, fmt.Errorf("%w: %s creates table %q", ErrInvalidEntry, filePath, shape.Table)
	}

	return Entry{
		Name:       name,
		Version:    v,
		DDL:        ddl,
		FilePath:   filePath,
		Columns:    shape.Columns,
		References: shape.References,
	}, nil
}

// Definition returns the newest definition of name whose version is at
// most version.
func (c *Catalog) Definition(name string, version int) (Entry, error) {
	list := c.entries[name]

	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Version <= version {
			return list[i], nil
		}
	}

	return Entry{}, fmt.Errorf("%w: %s at version %d", ErrUnknownTable, name, version)
}

// TablesIntroducedIn returns the entries first defined at version, sorted
// so that referenced tables precede the tables referencing them.
func (c *Catalog) TablesIntroducedIn(version int) []Entry {
	var introduced []Entry

	for _, list := range c.entries {
		if list[0].Version == version {
			introduced = append(introduced, list[0])
		}
	}

	return orderByReferences(introduced)
}

// NamesAt returns the tables that exist at version, sorted by name.
func (c *Catalog) NamesAt(version int) []string {
	var names []string

	for name, list := range c.entries {
		if list[0].Version <= version {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	return names
}

// Names returns every table in the catalog, sorted by name.
func (c *Catalog) Names() []string {
	return c.NamesAt(c.latest)
}

// IndexesIntroducedIn returns the indexes first declared at version.
func (c *Catalog) IndexesIntroducedIn(version int) []dialect.Index {
	return c.indexes[version]
}

// IndexesAt returns the indexes table carries at version, in the order
// they were introduced.
func (c *Catalog) IndexesAt(table string, version int) []dialect.Index {
	versions := make([]int, 0, len(c.indexes))
	for v := range c.indexes {
		if v <= version {
			versions = append(versions, v)
		}
	}

	sort.Ints(versions)

	var out []dialect.Index

	for _, v := range versions {
		for _, ix := range c.indexes[v] {
			if ix.Table == table {
				out = append(out, ix)
			}
		}
	}

	return out
}

// Latest returns the highest version any entry is defined at.
func (c *Catalog) Latest() int {
	return c.latest
}

// IsDuplicateTolerant reports whether name's rows need not be unique.
func (c *Catalog) IsDuplicateTolerant(name string) bool {
	return c.duplicateTolerant[name]
}

// orderByReferences sorts entries by name, then moves each entry after the
// entries it references. References outside the set are ignored.
func orderByReferences(entries []Entry) []Entry {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})

	pending := make(map[string]bool, len(entries))
	for _, e := range entries {
		pending[e.Name] = true
	}

	ordered := make([]Entry, 0, len(entries))

	for len(ordered) < len(entries) {
		progressed := false

		for _, e := range entries {
			if !pending[e.Name] || !ready(e, pending) {
				continue
			}

			ordered = append(ordered, e)
			pending[e.Name] = false
			progressed = true
		}

		if !progressed {
			// Cyclic references: keep the remainder in name order.
			for _, e := range entries {
				if pending[e.Name] {
					ordered = append(ordered, e)
					pending[e.Name] = false
				}
			}
		}
	}

	return ordered
}

func ready(e Entry, pending map[string]bool) bool {
	for _, ref := range e.References {
		if ref != e.Name && pending[ref] {
			return false
		}
	}

	return true
}
