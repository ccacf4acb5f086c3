package catalog

import "errors"

// ErrUnknownTable indicates no catalog entry exists for a table at the requested version.
var ErrUnknownTable = errors.New("table not in catalog")

// ErrInvalidEntry indicates a catalog file is malformed or does not define the table it is named after.
var ErrInvalidEntry = errors.New("invalid catalog entry")
