package database

import "errors"

// ErrInvalidDatabaseURL indicates the provided database URL could not be parsed.
var ErrInvalidDatabaseURL = errors.New("invalid database URL")

// ErrConnectionFailed indicates a connection to the database could not be established.
var ErrConnectionFailed = errors.New("database connection failed")

// ErrLockNotAcquired indicates the advisory lock is already held by another process.
var ErrLockNotAcquired = errors.New("upgrade lock not acquired")

// ErrInvalidParams indicates a connection spec could not be parsed.
var ErrInvalidParams = errors.New("invalid connection parameters")

// ErrMissingParameter indicates a required connection parameter is absent.
var ErrMissingParameter = errors.New("missing connection parameter")

// ErrUnsupportedEngine indicates the className does not name a supported engine.
var ErrUnsupportedEngine = errors.New("unsupported database engine")
