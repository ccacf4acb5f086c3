package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqasim81/archivedb/internal/dialect"
)

// UpgradeLockID is the PostgreSQL advisory lock identifier used to prevent
// concurrent schema upgrades of the same database.
const UpgradeLockID int64 = 0x61726368 // "arch"

// UpgradeLockName is the MySQL named lock used for the same purpose.
const UpgradeLockName = "archivedb_upgrade"

// LockHandle wraps a dedicated connection that holds a session-level lock.
// Call Release to unlock and return the connection to the pool.
type LockHandle struct {
	pgConn *pgxpool.Conn
	myConn *sql.Conn
}

// TryLock attempts to acquire the session-level upgrade lock. It returns
// ErrLockNotAcquired if another process holds it. Engines without session
// locks get a handle that holds nothing, since the embedded engine only
// admits a single writer anyway. The caller must call handle.Release().
func (db *DB) TryLock(ctx context.Context) (*LockHandle, error) {
	switch db.Engine {
	case dialect.Postgres:
		return tryAcquirePostgresLock(ctx, db.pool)
	case dialect.MySQL:
		return tryAcquireMySQLLock(ctx, db.DB)
	default:
		return &LockHandle{}, nil
	}
}

func tryAcquirePostgresLock(ctx context.Context, pool *pgxpool.Pool) (*LockHandle, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for advisory lock: %w", err)
	}

	var acquired bool

	err = conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", UpgradeLockID).Scan(&acquired)
	if err != nil {
		conn.Release()

		return nil, fmt.Errorf("executing pg_try_advisory_lock: %w", err)
	}

	if !acquired {
		conn.Release()

		return nil, ErrLockNotAcquired
	}

	return &LockHandle{pgConn: conn}, nil
}

func tryAcquireMySQLLock(ctx context.Context, db *sql.DB) (*LockHandle, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for named lock: %w", err)
	}

	var acquired sql.NullInt64

	err = conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", UpgradeLockName).Scan(&acquired)
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("executing GET_LOCK: %w", err)
	}

	if !acquired.Valid || acquired.Int64 != 1 {
		_ = conn.Close()

		return nil, ErrLockNotAcquired
	}

	return &LockHandle{myConn: conn}, nil
}

// Release unlocks the lock and returns the connection to the pool.
// Safe to call multiple times; subsequent calls are no-ops.
func (h *LockHandle) Release(ctx context.Context) error {
	if h == nil {
		return nil
	}

	var err error

	switch {
	case h.pgConn != nil:
		_, err = h.pgConn.Exec(ctx, "SELECT pg_advisory_unlock($1)", UpgradeLockID)
		h.pgConn.Release()
		h.pgConn = nil
	case h.myConn != nil:
		_, err = h.myConn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", UpgradeLockName)
		_ = h.myConn.Close()
		h.myConn = nil
	}

	if err != nil {
		return fmt.Errorf("releasing upgrade lock: %w", err)
	}

	return nil
}
