package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrVersionConflict is returned by SaveReport when the stored version no
// longer matches the caller's expected version. Under the per-report lock
// discipline this indicates a bug or an out-of-band write, not a normal
// race, so callers surface it rather than retry.
var ErrVersionConflict = errors.New("storage: version conflict")

// ErrDuplicateID is returned by CreateReport when the report ID already
// exists.
var ErrDuplicateID = errors.New("storage: duplicate report id")
