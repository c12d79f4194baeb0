package dao

import "errors"

// Sentinel store errors, detectable via errors.Is at every layer above the
// storage boundary.
var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("dao: not found")

	// ErrInvalidID indicates an empty or otherwise unusable key.
	ErrInvalidID = errors.New("dao: invalid id")

	// ErrNilEntity is returned when the caller attempts to persist nil.
	ErrNilEntity = errors.New("dao: nil entity")

	// ErrConflict is returned when an insert would violate a uniqueness
	// invariant (e.g. a second active approval for one proposal).
	ErrConflict = errors.New("dao: conflict")
)
