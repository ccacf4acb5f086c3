package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/aqasim81/archivedb/internal/dialect"
)

const (
	defaultMaxConns     = 5
	defaultBusyTimeout  = 5 * time.Second
	sqliteDriverName    = "sqlite"
	postgresMaintenance = "postgres"
)

// DB is an open database together with the engine it speaks. All access
// goes through the embedded *sql.DB; the PostgreSQL pool is kept for
// session-level advisory locks.
type DB struct {
	*sql.DB

	Engine dialect.Engine
	Name   string

	pool *pgxpool.Pool
}

// Open connects to the database described by p and verifies connectivity.
func Open(ctx context.Context, p Params) (*DB, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	switch p.Engine() {
	case dialect.SQLite:
		return openSQLite(ctx, p)
	case dialect.Postgres:
		return openPostgres(ctx, p)
	case dialect.MySQL:
		return openMySQL(ctx, p)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEngine, p.ClassName)
	}
}

// Close releases the connection pool.
func (db *DB) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}

	err := db.DB.Close()

	if db.pool != nil {
		db.pool.Close()
	}

	return err
}

func openSQLite(ctx context.Context, p Params) (*DB, error) {
	sqlDB, err := sql.Open(sqliteDriverName, SQLiteDSN(p.DatabaseName))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// WAL lets readers proceed while one connection writes; concurrent
	// writers wait out the busy timeout.
	sqlDB.SetMaxOpenConns(defaultMaxConns)

	return finishOpen(ctx, &DB{DB: sqlDB, Engine: dialect.SQLite, Name: p.DatabaseName})
}

// SQLiteDSN returns the data source name for a database file with foreign
// keys enforced and a busy timeout applied to every connection.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(" + strconv.FormatInt(defaultBusyTimeout.Milliseconds(), 10) + ")" +
		"&_pragma=journal_mode(WAL)"
}

func openPostgres(ctx context.Context, p Params) (*DB, error) {
	pool, err := NewPool(ctx, PostgresURL(p, p.DatabaseName))
	if err != nil {
		return nil, err
	}

	sqlDB := stdlib.OpenDBFromPool(pool)

	return finishOpen(ctx, &DB{DB: sqlDB, Engine: dialect.Postgres, Name: p.DatabaseName, pool: pool})
}

// PostgresURL renders p as a postgres:// connection URL for database name.
func PostgresURL(p Params, name string) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.ServerName, strconv.Itoa(p.PortNumber)),
		Path:   "/" + name,
	}

	if p.Password != "" {
		u.User = url.UserPassword(p.User, p.Password)
	} else {
		u.User = url.User(p.User)
	}

	q := url.Values{}
	for k, v := range p.Options {
		q.Set(k, v)
	}

	u.RawQuery = q.Encode()

	return u.String()
}

// NewPool creates a pgx connection pool for the given database URL.
// It parses the connection string, sets a conservative max connection limit,
// and pings the database to verify connectivity.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDatabaseURL, err)
	}

	poolCfg.MaxConns = defaultMaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return pool, nil
}

func openMySQL(ctx context.Context, p Params) (*DB, error) {
	sqlDB, err := sql.Open("mysql", MySQLConfig(p, p.DatabaseName).FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	sqlDB.SetMaxOpenConns(defaultMaxConns)

	return finishOpen(ctx, &DB{DB: sqlDB, Engine: dialect.MySQL, Name: p.DatabaseName})
}

// MySQLConfig builds the driver configuration for database name. An empty
// name connects to the server without selecting a database.
func MySQLConfig(p Params, name string) *gomysql.Config {
	cfg := gomysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(p.ServerName, strconv.Itoa(p.PortNumber))
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.DBName = name
	cfg.ParseTime = true
	cfg.MultiStatements = false

	if len(p.Options) > 0 {
		cfg.Params = make(map[string]string, len(p.Options))
		for k, v := range p.Options {
			cfg.Params[k] = v
		}
	}

	return cfg
}

func finishOpen(ctx context.Context, db *DB) (*DB, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return db, nil
}

// EnsureDatabase creates the database named by p when the engine requires
// an explicit CREATE DATABASE and it does not exist yet. Embedded databases
// are created on first open, so this is a no-op for them.
func EnsureDatabase(ctx context.Context, p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}

	switch p.Engine() {
	case dialect.SQLite:
		return nil
	case dialect.Postgres:
		return ensurePostgresDatabase(ctx, p)
	case dialect.MySQL:
		return ensureMySQLDatabase(ctx, p)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedEngine, p.ClassName)
	}
}

func ensurePostgresDatabase(ctx context.Context, p Params) error {
	pool, err := NewPool(ctx, PostgresURL(p, postgresMaintenance))
	if err != nil {
		return err
	}
	defer pool.Close()

	var exists bool

	err = pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", p.DatabaseName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking database %q: %w", p.DatabaseName, err)
	}

	if exists {
		return nil
	}

	// CREATE DATABASE cannot run inside a transaction block.
	if _, err := pool.Exec(ctx, dialect.CreateDatabaseStatement(p.DatabaseName, dialect.Postgres)); err != nil {
		if IsDuplicateObject(err) {
			return nil
		}

		return fmt.Errorf("creating database %q: %w", p.DatabaseName, err)
	}

	return nil
}

func ensureMySQLDatabase(ctx context.Context, p Params) error {
	sqlDB, err := sql.Open("mysql", MySQLConfig(p, "").FormatDSN())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, dialect.CreateDatabaseStatement(p.DatabaseName, dialect.MySQL)); err != nil {
		return fmt.Errorf("creating database %q: %w", p.DatabaseName, err)
	}

	return nil
}
