package tracker

import "errors"

// ErrTableCreation indicates the version table could not be created.
var ErrTableCreation = errors.New("creating version table")
