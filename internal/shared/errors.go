package shared

import "errors"

var (
	// ErrNotFound indicates a referenced entity is absent.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the caller lacks the required permission.
	ErrForbidden = errors.New("forbidden")
	// ErrLockTimeout indicates a row or resource lock could not be acquired
	// within the configured wait ceiling. Callers may retry.
	ErrLockTimeout = errors.New("lock wait timeout")
)
