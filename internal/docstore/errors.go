package docstore

import "errors"

// ErrVersionConflict indicates an optimistic update lost the race: the row
// changed since it was read. Callers re-read the record and retry.
var ErrVersionConflict = errors.New("version conflict")

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")
