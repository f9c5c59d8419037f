package storage

import "errors"

// Common storage errors
var (
	// ErrNotFound indicates that requested record was not found in storage
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that record with this id already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidEntry indicates that document entry is malformed
	ErrInvalidEntry = errors.New("invalid document entry")
)
