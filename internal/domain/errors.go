package domain

import "errors"

// Error kinds returned by the ledger. Callers match them with errors.Is; the
// wrapping message carries the detail.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrInternal            = errors.New("internal invariant violation")
	ErrAlreadyExists       = errors.New("already exists")
	ErrLockHeld            = errors.New("lock already held")
	ErrStale               = errors.New("stale pool state")
)
