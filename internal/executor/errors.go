package executor

import (
	"errors"
	"fmt"
)

// ErrRetriesExhausted indicates a transient failure persisted past the retry limit.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrConcurrentIndexInTransaction indicates CREATE INDEX CONCURRENTLY was
// issued inside a transaction block, which PostgreSQL rejects.
var ErrConcurrentIndexInTransaction = errors.New("concurrent index creation inside a transaction")

// StatementError records the statement and bound arguments of a failed call.
type StatementError struct {
	SQL  string
	Args []any
	Err  error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("executing %q: %v", e.SQL, e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}
