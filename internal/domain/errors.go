package domain

import "errors"

var (
	// ErrValidation marks inputs rejected synchronously; callers must not retry.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a watched item or log entry that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a state transition that is no longer permitted.
	ErrConflict = errors.New("conflict")
)
