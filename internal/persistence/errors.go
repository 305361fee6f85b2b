package persistence

import "errors"

// ErrNotFound is wrapped by store lookups that found no matching row.
var ErrNotFound = errors.New("not found")
