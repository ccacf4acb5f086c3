// Package upgrade advances a database schema one version at a time. Each
// version is reached through a registered transition; the runner discovers
// the current version from the version table and applies only the
// transitions still missing, recording each new version after its
// transition succeeds.
package upgrade

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aqasim81/archivedb/internal/database"
	"github.com/aqasim81/archivedb/internal/executor"
	"github.com/aqasim81/archivedb/internal/tracker"
)

// DefaultBatchSize is the number of rows a backfill touches per commit.
const DefaultBatchSize = 500

// Progress status constants reported via ProgressEvent.
const (
	StatusStarting    = "starting"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusBackfilling = "backfilling"
)

// ProgressEvent is emitted for each transition processed. Events for a
// backfill are emitted from its worker goroutine.
type ProgressEvent struct {
	Transition Transition
	Status     string
	Duration   time.Duration
	Error      error
}

// Result describes an upgrade run.
type Result struct {
	From    int
	To      int   // version recorded when the run returned
	Applied []int // versions recorded by the run, in order
	// Pending is the backfill still running when the run stopped, if any.
	Pending *Task
}

// lockReleaser is returned by lockFunc and must be released when done.
type lockReleaser interface {
	Release(ctx context.Context) error
}

// lockFunc acquires the upgrade lock and returns a releaser.
type lockFunc func(ctx context.Context) (lockReleaser, error)

// Upgrader applies registered transitions to one database.
type Upgrader struct {
	db               *database.DB
	registry         *Registry
	exec             *executor.Executor
	system           string
	lockTimeout      time.Duration
	statementTimeout time.Duration
	batchSize        int
	log              zerolog.Logger
	onProgress       func(ProgressEvent)
	acquireLock      lockFunc
}

// Option configures an Upgrader.
type Option func(*Upgrader)

// WithExecutor sets the executor statements run through.
func WithExecutor(e *executor.Executor) Option {
	return func(u *Upgrader) { u.exec = e }
}

// WithSystem sets the system label versions are recorded under.
func WithSystem(name string) Option {
	return func(u *Upgrader) { u.system = name }
}

// WithLockTimeout sets the session lock wait timeout.
func WithLockTimeout(d time.Duration) Option {
	return func(u *Upgrader) { u.lockTimeout = d }
}

// WithStatementTimeout sets the session statement timeout.
func WithStatementTimeout(d time.Duration) Option {
	return func(u *Upgrader) { u.statementTimeout = d }
}

// WithBatchSize sets the number of rows a backfill touches per commit.
func WithBatchSize(n int) Option {
	return func(u *Upgrader) { u.batchSize = n }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(u *Upgrader) { u.log = l }
}

// WithProgressCallback sets a function called for each transition processed.
func WithProgressCallback(fn func(ProgressEvent)) Option {
	return func(u *Upgrader) { u.onProgress = fn }
}

// New creates an Upgrader for db with the transitions of registry.
func New(db *database.DB, registry *Registry, opts ...Option) *Upgrader {
	u := &Upgrader{
		db:        db,
		registry:  registry,
		system:    tracker.DefaultSystem,
		batchSize: DefaultBatchSize,
		log:       zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(u)
	}

	if u.exec == nil {
		u.exec = executor.New(db.Engine, executor.WithLogger(u.log))
	}

	if u.batchSize < 1 {
		u.batchSize = DefaultBatchSize
	}

	// Set defaults for injectable functions after options are applied,
	// so tests can override them.
	if u.acquireLock == nil {
		u.acquireLock = func(ctx context.Context) (lockReleaser, error) {
			h, err := u.db.TryLock(ctx)
			if err != nil {
				return nil, err
			}

			return h, nil
		}
	}

	return u
}

// CurrentVersion returns the version recorded for the upgrader's system.
func (u *Upgrader) CurrentVersion(ctx context.Context) (int, error) {
	return tracker.New(u.db, u.exec).CurrentVersion(ctx, u.system)
}

// Latest returns the highest version the registered transitions reach.
func (u *Upgrader) Latest() int {
	return u.registry.Latest()
}

// Pending returns the transitions needed to bring the database to target.
func (u *Upgrader) Pending(ctx context.Context, target int) ([]Transition, error) {
	if err := u.checkTarget(target); err != nil {
		return nil, err
	}

	current, err := u.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	var pending []Transition

	for v := current; v < target; v++ {
		t, ok := u.registry.Lookup(v)
		if !ok {
			return pending, &Error{From: v, To: v + 1, Err: ErrMissingTransition}
		}

		pending = append(pending, t)
	}

	return pending, nil
}

func (u *Upgrader) checkTarget(target int) error {
	if latest := u.registry.Latest(); target > latest {
		return fmt.Errorf("%w: %d > %d", ErrTargetTooHigh, target, latest)
	}

	return nil
}

// Upgrade applies transitions until the database is at target. A database
// already at or beyond target is left untouched. When a transition has a
// backfill the run stops after starting it and returns the running task in
// Result.Pending; the upgrade lock is held until that task finishes. The
// task stops if ctx is canceled.
func (u *Upgrader) Upgrade(ctx context.Context, target int) (*Result, error) {
	if err := u.checkTarget(target); err != nil {
		return nil, err
	}

	lock, err := u.acquireLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring upgrade lock: %w", err)
	}

	handedOff := false

	defer func() {
		if !handedOff {
			lock.Release(context.WithoutCancel(ctx)) //nolint:errcheck // best-effort release on return
		}
	}()

	conn, err := u.session(ctx)
	if err != nil {
		return nil, err
	}
	defer u.exec.SafeClose(conn)

	tr := tracker.New(conn, u.exec)

	current, err := tr.CurrentVersion(ctx, u.system)
	if err != nil {
		return nil, err
	}

	res := &Result{From: current, To: current}

	for res.To < target {
		t, ok := u.registry.Lookup(res.To)
		if !ok {
			return res, &Error{From: res.To, To: res.To + 1, Err: ErrMissingTransition}
		}

		if err := u.apply(ctx, conn, tr, t); err != nil {
			return res, err
		}

		if t.Backfill != nil {
			res.Pending = u.startBackfill(ctx, t, lock)
			handedOff = true

			return res, nil
		}

		res.Applied = append(res.Applied, t.To())
		res.To = t.To()
	}

	return res, nil
}

// UpgradeAndWait upgrades to target, waiting for every backfill on the way.
func (u *Upgrader) UpgradeAndWait(ctx context.Context, target int) (*Result, error) {
	var total *Result

	for {
		res, err := u.Upgrade(ctx, target)
		if res != nil {
			if total == nil {
				total = &Result{From: res.From}
			}

			total.To = res.To
			total.Applied = append(total.Applied, res.Applied...)
		}

		if err != nil {
			return total, err
		}

		if res.Pending == nil {
			return total, nil
		}

		if err := res.Pending.Wait(); err != nil {
			return total, err
		}

		total.To = res.Pending.To
		total.Applied = append(total.Applied, res.Pending.To)
	}
}

// session reserves a connection with the configured timeouts applied.
func (u *Upgrader) session(ctx context.Context) (*sql.Conn, error) {
	conn, err := u.exec.Conn(ctx, u.db.DB)
	if err != nil {
		return nil, fmt.Errorf("reserving connection: %w", err)
	}

	if err := u.exec.ApplySessionTimeouts(ctx, conn, u.lockTimeout, u.statementTimeout); err != nil {
		u.exec.SafeClose(conn)

		return nil, err
	}

	return conn, nil
}

func (u *Upgrader) newStep(conn *sql.Conn, t Transition) *Step {
	return &Step{
		conn:      conn,
		exec:      u.exec,
		catalog:   u.registry.Catalog(),
		version:   t.To(),
		batchSize: u.batchSize,
		log:       u.log.With().Int("from", t.From).Int("to", t.To()).Logger(),
	}
}

// apply runs the body of t and, unless a backfill follows, records its
// version.
func (u *Upgrader) apply(ctx context.Context, conn *sql.Conn, tr *tracker.Tracker, t Transition) error {
	u.fireProgress(ProgressEvent{Transition: t, Status: StatusStarting})
	u.log.Info().Int("from", t.From).Int("to", t.To()).Str("transition", t.Description).Msg("applying transition")

	start := time.Now()

	err := t.Apply(ctx, u.newStep(conn, t))
	if err == nil && t.Backfill == nil {
		err = u.record(ctx, conn, tr, t.To())
	}

	duration := time.Since(start)

	if err != nil {
		u.fireProgress(ProgressEvent{Transition: t, Status: StatusFailed, Duration: duration, Error: err})

		return &Error{From: t.From, To: t.To(), Err: err}
	}

	status := StatusCompleted
	if t.Backfill != nil {
		status = StatusBackfilling
	}

	u.fireProgress(ProgressEvent{Transition: t, Status: status, Duration: duration})

	return nil
}

func (u *Upgrader) record(ctx context.Context, conn *sql.Conn, tr *tracker.Tracker, version int) error {
	if err := tr.EnsureTable(ctx); err != nil {
		return err
	}

	return u.exec.ExecInTransaction(ctx, conn, func(tx *sql.Tx) error {
		return tr.Record(ctx, tx, u.system, version)
	})
}

// startBackfill runs the backfill of t on its own connection. The worker
// releases lock when it finishes.
func (u *Upgrader) startBackfill(ctx context.Context, t Transition, lock lockReleaser) *Task {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer lock.Release(context.WithoutCancel(ctx)) //nolint:errcheck // best-effort release on return

		return u.backfill(gctx, t)
	})

	return &Task{From: t.From, To: t.To(), group: g}
}

func (u *Upgrader) backfill(ctx context.Context, t Transition) error {
	start := time.Now()

	err := u.runBackfill(ctx, t)

	duration := time.Since(start)

	if err != nil {
		u.log.Error().Err(err).Int("to", t.To()).Msg("backfill failed")
		u.fireProgress(ProgressEvent{Transition: t, Status: StatusFailed, Duration: duration, Error: err})

		return &Error{From: t.From, To: t.To(), Err: err}
	}

	u.log.Info().Int("to", t.To()).Dur("duration", duration).Msg("backfill completed")
	u.fireProgress(ProgressEvent{Transition: t, Status: StatusCompleted, Duration: duration})

	return nil
}

func (u *Upgrader) runBackfill(ctx context.Context, t Transition) error {
	conn, err := u.session(ctx)
	if err != nil {
		return err
	}
	defer u.exec.SafeClose(conn)

	if err := t.Backfill(ctx, u.newStep(conn, t)); err != nil {
		return err
	}

	return u.record(ctx, conn, tracker.New(conn, u.exec), t.To())
}

func (u *Upgrader) fireProgress(event ProgressEvent) {
	if u.onProgress != nil {
		u.onProgress(event)
	}
}
