package upgrade

import (
	"errors"
	"fmt"
)

// ErrDuplicateTransition indicates two transitions start at the same version.
var ErrDuplicateTransition = errors.New("duplicate transition")

// ErrInvalidTransition indicates a transition with a negative start version or no body.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrMissingTransition indicates no transition leaves a version below the target.
var ErrMissingTransition = errors.New("no transition registered")

// ErrTargetTooHigh indicates the requested version is beyond the last registered transition.
var ErrTargetTooHigh = errors.New("target version above latest")

// ErrMissingColumn indicates a column a transition depends on is absent.
var ErrMissingColumn = errors.New("column not found")

// Error reports the transition that failed. The version it leads to has not
// been recorded, so the next run repeats the transition.
type Error struct {
	From int
	To   int
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upgrading from version %d to %d: %v", e.From, e.To, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
