package domain

import "errors"

var (
	// ErrNotFound: unknown position, order, or pending-sell key.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState: operation not valid for the entity's current status,
	// e.g. cancelling an executing order.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation: bad input at creation time.
	ErrValidation = errors.New("validation failed")
	// ErrExternal: price feed or swap executor failure. Scheduled ticks log
	// it and leave the entity untouched for the next tick.
	ErrExternal = errors.New("external dependency failed")
	// ErrPersistence: durable write failed after an accepted in-memory
	// mutation. Swallowed only for best-effort price updates.
	ErrPersistence = errors.New("persistence failed")
	// ErrLockHeld: another party holds the execution lock.
	ErrLockHeld = errors.New("lock already held")
)
