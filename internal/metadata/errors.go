package metadata

import "errors"

// ErrUnsupportedEngine indicates the engine has no introspection queries.
var ErrUnsupportedEngine = errors.New("introspection not supported for engine")

// ErrTableNotFound indicates the table has no columns, i.e. does not exist.
var ErrTableNotFound = errors.New("table not found")
