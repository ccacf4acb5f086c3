package migrate

import (
	"errors"
	"fmt"
)

// ErrSameEngine indicates source and target use the same engine.
var ErrSameEngine = errors.New("source and target use the same engine")

// ErrSourceTooOld indicates the source schema predates the oldest version the migration understands.
var ErrSourceTooOld = errors.New("source schema version too old")

// ErrDependencyCycle indicates the foreign keys between tables form a cycle.
var ErrDependencyCycle = errors.New("foreign key dependency cycle")

// ErrRowCountMismatch indicates a table's source and target row counts differ after copying.
var ErrRowCountMismatch = errors.New("row count mismatch")

// ErrMissingGeneratedKey indicates the target did not return a key for an inserted row.
var ErrMissingGeneratedKey = errors.New("no generated key returned")

// ErrUnknownTable indicates a source table has no catalog definition.
var ErrUnknownTable = errors.New("source table not in catalog")

// ErrUntranslatable indicates a table references a table whose keys have not been translated yet.
var ErrUntranslatable = errors.New("referenced keys not translated")

// Error reports a failed migration. Table is empty when the failure is not
// specific to one table. Rows committed before the failure stay in the
// target, and a later run resumes from them.
type Error struct {
	Table string
	Err   error
}

func (e *Error) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("migrating: %v", e.Err)
	}

	return fmt.Sprintf("migrating table %s: %v", e.Table, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(table string, err error) error {
	var migErr *Error
	if errors.As(err, &migErr) {
		return err
	}

	return &Error{Table: table, Err: err}
}
