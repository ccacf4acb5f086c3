// Package migrate copies a metadata database to a database of another
// engine. Tables are copied in foreign key order; surrogate keys generated
// by the target are recorded in a translation table in the target so that
// references can be rewritten and an interrupted run can resume. Each
// table's row counts are compared once it has been copied, and the version
// table is copied last to mark the migration complete.
package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aqasim81/archivedb/internal/catalog"
	"github.com/aqasim81/archivedb/internal/database"
	"github.com/aqasim81/archivedb/internal/executor"
	"github.com/aqasim81/archivedb/internal/metadata"
	"github.com/aqasim81/archivedb/internal/tracker"
	"github.com/aqasim81/archivedb/internal/translation"
)

// MinSourceVersion is the oldest source schema version that can be migrated.
const MinSourceVersion = 2

// Table status constants reported via TableEvent.
const (
	StatusStarting = "starting"
	StatusMigrated = "migrated"
	StatusVerified = "verified"
	StatusFailed   = "failed"
)

// TableResult summarizes one table of a run.
type TableResult struct {
	Table        string
	SourceRows   int64
	TargetRows   int64
	Copied       int  // rows inserted by this run
	Skipped      int  // rows already present in the target
	Untranslated int  // rows left out because a referenced key had no translation
	Recreated    bool // dropped and recreated because duplicates are allowed
	Verified     bool // already migrated; only the counts were compared
	Duration     time.Duration
}

// TableEvent is emitted as each table is processed.
type TableEvent struct {
	Table  string
	Status string
	Result TableResult
	Error  error
}

// Report describes a completed run.
type Report struct {
	SourceVersion int
	Resumed       bool // a previous run had been interrupted
	VerifyOnly    bool // the target had already been migrated
	Tables        []TableResult
}

// Migrator copies databases using the table definitions of a catalog.
type Migrator struct {
	catalog         *catalog.Catalog
	system          string
	log             zerolog.Logger
	execOpts        []executor.Option
	onTable         func(TableEvent)
	allowSameEngine bool
	afterInsert     func(table string, copied int) error
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Migrator) { m.log = l }
}

// WithSystem sets the system label whose version is read.
func WithSystem(name string) Option {
	return func(m *Migrator) { m.system = name }
}

// WithExecutorOptions sets the retry behaviour of the executors used on
// both databases.
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(m *Migrator) { m.execOpts = append(m.execOpts, opts...) }
}

// WithTableCallback sets a function called as each table is processed.
func WithTableCallback(fn func(TableEvent)) Option {
	return func(m *Migrator) { m.onTable = fn }
}

// New creates a Migrator creating target tables from cat.
func New(cat *catalog.Catalog, opts ...Option) *Migrator {
	m := &Migrator{
		catalog: cat,
		system:  tracker.DefaultSystem,
		log:     zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// run holds the state of one Run call.
type run struct {
	m              *Migrator
	source, target *database.DB
	srcExec        *executor.Executor
	tgtExec        *executor.Executor
	srcMeta        *metadata.Inspector
	tgtMeta        *metadata.Inspector
	store          *translation.Store
	storeActive    bool
	verifyOnly     bool
	targetColumns  map[string]map[string]bool
	tables         map[string]*metadata.TableMeta
	done           map[string]bool
	report         *Report
}

// Run copies source into target. The source must be quiesced and is only
// read. On failure every table committed so far stays in the target, and
// running again resumes where the failed run stopped.
func (m *Migrator) Run(ctx context.Context, source, target *database.DB) (*Report, error) {
	if source.Engine == target.Engine && !m.allowSameEngine {
		return nil, &Error{Err: fmt.Errorf("%w: %s", ErrSameEngine, source.Engine)}
	}

	r, order, sentinel, err := m.start(ctx, source, target)
	if err != nil {
		return nil, wrap("", err)
	}

	for _, t := range order {
		if err := r.migrateTable(ctx, t); err != nil {
			return r.report, wrap(t.Name, err)
		}
	}

	if err := r.migrateTable(ctx, sentinel); err != nil {
		return r.report, wrap(sentinel.Name, err)
	}

	if r.storeActive {
		if err := r.store.Drop(ctx); err != nil {
			return r.report, wrap("", err)
		}
	}

	m.log.Info().
		Int("version", r.report.SourceVersion).
		Int("tables", len(r.report.Tables)).
		Bool("resumed", r.report.Resumed).
		Bool("verify_only", r.report.VerifyOnly).
		Msg("migration completed")

	return r.report, nil
}

// start checks both databases, describes the source tables and returns them
// in copy order together with the version table.
func (m *Migrator) start(ctx context.Context, source, target *database.DB) (*run, []*metadata.TableMeta, *metadata.TableMeta, error) {
	r := &run{
		m:             m,
		source:        source,
		target:        target,
		srcExec:       executor.New(source.Engine, append([]executor.Option{executor.WithLogger(m.log)}, m.execOpts...)...),
		tgtExec:       executor.New(target.Engine, append([]executor.Option{executor.WithLogger(m.log)}, m.execOpts...)...),
		targetColumns: make(map[string]map[string]bool),
		tables:        make(map[string]*metadata.TableMeta),
		done:          make(map[string]bool),
		report:        &Report{},
	}

	var err error

	if r.srcMeta, err = metadata.New(source, r.srcExec); err != nil {
		return nil, nil, nil, err
	}

	if r.tgtMeta, err = metadata.New(target, r.tgtExec); err != nil {
		return nil, nil, nil, err
	}

	sourceVersion, err := tracker.New(source, r.srcExec).CurrentVersion(ctx, m.system)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading source version: %w", err)
	}

	if sourceVersion < MinSourceVersion {
		return nil, nil, nil, fmt.Errorf("%w: source is at version %d, need at least %d",
			ErrSourceTooOld, sourceVersion, MinSourceVersion)
	}

	r.report.SourceVersion = sourceVersion

	targetVersion, err := tracker.New(target, r.tgtExec).CurrentVersion(ctx, m.system)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading target version: %w", err)
	}

	r.store = translation.New(target, r.tgtExec)

	storeExists, err := r.store.Exists(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	r.report.Resumed = storeExists
	r.verifyOnly = targetVersion == sourceVersion && !storeExists
	r.report.VerifyOnly = r.verifyOnly

	metas, err := r.srcMeta.Inspect(ctx, tracker.TableName, translation.TableName)
	if err != nil {
		return nil, nil, nil, err
	}

	for _, t := range metas {
		if err := r.overlay(t); err != nil {
			return nil, nil, nil, err
		}
	}

	order, err := SortTables(metas)
	if err != nil {
		return nil, nil, nil, err
	}

	sentinel, err := r.sentinel(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	if !r.verifyOnly {
		r.storeActive = true

		if !storeExists {
			if err := r.store.Create(ctx); err != nil {
				return nil, nil, nil, err
			}
		}
	}

	m.log.Info().
		Int("version", sourceVersion).
		Int("tables", len(order)).
		Bool("resumed", storeExists).
		Bool("verify_only", r.verifyOnly).
		Str("source", source.Engine.String()).
		Str("target", target.Engine.String()).
		Msg("starting migration")

	return r, order, sentinel, nil
}

// overlay replaces the introspected definition of t with the catalog's
// definition at the source version.
func (r *run) overlay(t *metadata.TableMeta) error {
	entry, err := r.m.catalog.Definition(t.Name, r.report.SourceVersion)
	if err != nil {
		return &Error{Table: t.Name, Err: fmt.Errorf("%w: %w", ErrUnknownTable, err)}
	}

	t.CreateDDL = entry.Localize(r.target.Engine)
	t.DuplicateTolerant = r.m.catalog.IsDuplicateTolerant(t.Name)

	cols := make(map[string]bool, len(entry.Columns))
	for _, c := range entry.Columns {
		cols[c] = true
	}

	r.targetColumns[t.Name] = cols
	r.tables[t.Name] = t

	return nil
}

// sentinel describes the version table. It is recreated and copied in full,
// since its rows are not unique.
func (r *run) sentinel(ctx context.Context) (*metadata.TableMeta, error) {
	cols, err := r.srcMeta.Columns(ctx, tracker.TableName)
	if err != nil {
		return nil, err
	}

	t := &metadata.TableMeta{Name: tracker.TableName, Columns: cols}
	if err := r.overlay(t); err != nil {
		return nil, err
	}

	t.DuplicateTolerant = true

	return t, nil
}

func (r *run) fire(e TableEvent) {
	if r.m.onTable != nil {
		r.m.onTable(e)
	}
}
