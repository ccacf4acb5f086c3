package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aqasim81/archivedb/internal/dialect"
	"github.com/aqasim81/archivedb/internal/executor"
	"github.com/aqasim81/archivedb/internal/metadata"
)

// copyPlan is the column layout of one table's copy.
type copyPlan struct {
	columns    []string // selected from the source, in position order
	types      []string
	pk         string
	pkIdx      int // -1 without a primary key
	insertCols []string
	insertIdx  []int          // positions in columns of insertCols
	translate  map[int]string // column position -> referenced table
	// dedupe matches each row against the target before inserting it.
	dedupe bool
}

func (r *run) migrateTable(ctx context.Context, t *metadata.TableMeta) error {
	start := time.Now()
	res := TableResult{Table: t.Name}

	r.fire(TableEvent{Table: t.Name, Status: StatusStarting})

	err := r.copyOrVerify(ctx, t, &res)

	res.Duration = time.Since(start)

	if err != nil {
		r.m.log.Error().Err(err).Str("table", t.Name).Msg("table migration failed")
		r.fire(TableEvent{Table: t.Name, Status: StatusFailed, Result: res, Error: err})

		return err
	}

	r.done[t.Name] = true
	r.report.Tables = append(r.report.Tables, res)

	status := StatusMigrated
	if res.Verified {
		status = StatusVerified
	}

	r.m.log.Info().
		Str("table", t.Name).
		Int64("rows", res.TargetRows).
		Int("copied", res.Copied).
		Int("skipped", res.Skipped).
		Dur("duration", res.Duration).
		Msg("table " + status)

	r.fire(TableEvent{Table: t.Name, Status: status, Result: res})

	return nil
}

func (r *run) copyOrVerify(ctx context.Context, t *metadata.TableMeta, res *TableResult) error {
	exists, err := r.tgtMeta.TableExists(ctx, t.Name)
	if err != nil {
		return err
	}

	if r.verifyOnly {
		if !exists {
			return fmt.Errorf("%w: table missing from target", ErrRowCountMismatch)
		}

		res.Verified = true

		return r.validate(ctx, t, res)
	}

	switch {
	case t.DuplicateTolerant:
		if _, err := r.tgtExec.Exec(ctx, r.target, dialect.DropTableStatement(t.Name, r.target.Engine)); err != nil {
			return fmt.Errorf("dropping %s: %w", t.Name, err)
		}

		if err := r.create(ctx, t); err != nil {
			return err
		}

		res.Recreated = true
	case !exists:
		if err := r.create(ctx, t); err != nil {
			return err
		}
	}

	plan, err := r.plan(t)
	if err != nil {
		return err
	}

	// Only a keyless table left by an earlier run can already hold the row.
	plan.dedupe = exists && plan.pkIdx < 0 && !t.DuplicateTolerant

	if err := r.copyRows(ctx, t, plan, res); err != nil {
		return err
	}

	if err := r.createIndexes(ctx, t); err != nil {
		return err
	}

	return r.validate(ctx, t, res)
}

func (r *run) create(ctx context.Context, t *metadata.TableMeta) error {
	if _, err := r.tgtExec.Exec(ctx, r.target, t.CreateDDL); err != nil {
		return fmt.Errorf("creating %s: %w", t.Name, err)
	}

	return nil
}

// createIndexes adds the secondary indexes t carries at the source version.
func (r *run) createIndexes(ctx context.Context, t *metadata.TableMeta) error {
	for _, ix := range r.m.catalog.IndexesAt(t.Name, r.report.SourceVersion) {
		exists, err := r.tgtMeta.IndexExists(ctx, ix.Table, ix.Name)
		if err != nil {
			return err
		}

		if exists {
			continue
		}

		if _, err := r.tgtExec.Exec(ctx, r.target, dialect.CreateIndexStatement(ix, r.target.Engine)); err != nil {
			return fmt.Errorf("creating index %s: %w", ix.Name, err)
		}

		r.m.log.Debug().Str("table", t.Name).Str("index", ix.Name).Msg("index created")
	}

	return nil
}

// canTranslate reports whether the keys of table have all been translated.
func (r *run) canTranslate(table string) bool {
	return r.done[table]
}

func (r *run) plan(t *metadata.TableMeta) (*copyPlan, error) {
	p := &copyPlan{pkIdx: -1, translate: make(map[int]string)}

	pk, hasPK := t.PrimaryKey()
	if hasPK {
		p.pk = pk.Name
	}

	for _, c := range t.Columns {
		if !r.targetColumns[t.Name][c.Name] {
			r.m.log.Warn().Str("table", t.Name).Str("column", c.Name).Msg("column not in target definition, not copied")

			continue
		}

		idx := len(p.columns)
		p.columns = append(p.columns, c.Name)
		p.types = append(p.types, c.TypeName)

		if hasPK && c.Name == pk.Name {
			p.pkIdx = idx

			continue
		}

		p.insertCols = append(p.insertCols, c.Name)
		p.insertIdx = append(p.insertIdx, idx)

		if c.ForeignTable == "" {
			continue
		}

		if c.ForeignTable != t.Name && !r.canTranslate(c.ForeignTable) {
			return nil, fmt.Errorf("%w: %s.%s references %s", ErrUntranslatable, t.Name, c.Name, c.ForeignTable)
		}

		if r.isSurrogateKey(c.ForeignTable, c.ForeignColumn) {
			p.translate[idx] = c.ForeignTable
		}
	}

	if hasPK && p.pkIdx < 0 {
		p.pk = ""
	}

	return p, nil
}

// isSurrogateKey reports whether column is the single primary key of table.
func (r *run) isSurrogateKey(table, column string) bool {
	t, ok := r.tables[table]
	if !ok {
		return false
	}

	pk, ok := t.PrimaryKey()

	return ok && (column == "" || column == pk.Name)
}

func (r *run) copyRows(ctx context.Context, t *metadata.TableMeta, p *copyPlan, res *TableResult) error {
	rows, err := r.srcExec.Query(ctx, r.source, dialect.SelectStatement(t.Name, p.columns, p.pk, r.source.Engine))
	if err != nil {
		return fmt.Errorf("reading %s: %w", t.Name, err)
	}
	defer rows.Close()

	values := make([]any, len(p.columns))
	ptrs := make([]any, len(p.columns))

	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scanning %s: %w", t.Name, err)
		}

		for i, v := range values {
			if values[i], err = normalize(v, p.types[i]); err != nil {
				return err
			}
		}

		if err := r.copyRow(ctx, t, p, values, res); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", t.Name, err)
	}

	return nil
}

func (r *run) copyRow(ctx context.Context, t *metadata.TableMeta, p *copyPlan, values []any, res *TableResult) error {
	var sourceKey int64

	if p.pkIdx >= 0 {
		var err error

		if sourceKey, err = toInt64(values[p.pkIdx]); err != nil {
			return err
		}

		_, done, err := r.store.Lookup(ctx, t.Name, sourceKey)
		if err != nil {
			return err
		}

		if done {
			res.Skipped++

			return nil
		}
	}

	insert := make([]any, len(p.insertIdx))

	for i, idx := range p.insertIdx {
		v := values[idx]

		if ref, ok := p.translate[idx]; ok && v != nil {
			key, err := toInt64(v)
			if err != nil {
				return err
			}

			translated, found, err := r.store.Lookup(ctx, ref, key)
			if err != nil {
				return err
			}

			if !found {
				r.m.log.Warn().
					Str("table", t.Name).
					Str("column", p.columns[idx]).
					Int64("key", key).
					Msg("referenced row has no translation, row not copied")

				res.Untranslated++

				return nil
			}

			v = translated
		}

		insert[i] = v
	}

	if p.dedupe {
		present, err := r.present(ctx, t, p, insert)
		if err != nil || present {
			if present {
				res.Skipped++
			}

			return err
		}
	}

	var targetKey int64

	err := r.tgtExec.ExecInTransaction(ctx, r.target, func(tx *sql.Tx) error {
		id, err := r.tgtExec.RunInsert(ctx, tx, t.Name, p.insertCols, p.pk, insert)
		if err != nil {
			return err
		}

		if p.pkIdx < 0 {
			return nil
		}

		if id <= 0 {
			return fmt.Errorf("%w: %s row %d", ErrMissingGeneratedKey, t.Name, sourceKey)
		}

		targetKey = id

		return r.store.Record(ctx, tx, t.Name, sourceKey, id)
	})
	if err != nil {
		return err
	}

	if p.pkIdx >= 0 {
		r.store.Remember(t.Name, sourceKey, targetKey)
	}

	res.Copied++

	if r.m.afterInsert != nil {
		return r.m.afterInsert(t.Name, res.Copied)
	}

	return nil
}

// present reports whether the target already holds a row equal to values.
func (r *run) present(ctx context.Context, t *metadata.TableMeta, p *copyPlan, values []any) (bool, error) {
	isNull := make([]bool, len(values))
	args := make([]any, 0, len(values))

	for i, v := range values {
		if v == nil {
			isNull[i] = true

			continue
		}

		args = append(args, v)
	}

	var n int

	query := dialect.MatchStatement(t.Name, p.insertCols, isNull, r.target.Engine)
	if err := r.tgtExec.QueryRow(ctx, r.target, query, args, &n); err != nil {
		return false, fmt.Errorf("matching row of %s: %w", t.Name, err)
	}

	return n > 0, nil
}

func (r *run) validate(ctx context.Context, t *metadata.TableMeta, res *TableResult) error {
	var err error

	if res.SourceRows, err = count(ctx, r.srcExec, r.source, t.Name); err != nil {
		return err
	}

	if res.TargetRows, err = count(ctx, r.tgtExec, r.target, t.Name); err != nil {
		return err
	}

	if res.SourceRows != res.TargetRows {
		return fmt.Errorf("%w: source has %d rows, target has %d", ErrRowCountMismatch, res.SourceRows, res.TargetRows)
	}

	return nil
}

func count(ctx context.Context, exec *executor.Executor, q executor.Queryer, table string) (int64, error) {
	var n int64
	if err := exec.QueryRow(ctx, q, dialect.CountStatement(table, exec.Engine()), nil, &n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}

	return n, nil
}
