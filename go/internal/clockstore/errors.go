package clockstore

import "errors"

var (
	// ErrNotFound means neither store holds a clock for the game. Callers must not
	// fabricate a default; it points at a lifecycle ordering bug upstream.
	ErrNotFound = errors.New("clock not found")

	// ErrStoreUnavailable wraps transient store failures. Retry with backoff.
	ErrStoreUnavailable = errors.New("clock store unavailable")

	// ErrRevisionConflict means another writer persisted from the same base revision first.
	ErrRevisionConflict = errors.New("clock revision conflict")

	// ErrAlreadyExists is returned when creating a clock for a game that already has one.
	ErrAlreadyExists = errors.New("clock already exists")

	// ErrNotOver is returned when archiving a clock that is still active.
	ErrNotOver = errors.New("clock is still active")

	// ErrDurablePending means the fast store accepted the write but the durable
	// write-through failed; the store retries it on the next FlushPending.
	ErrDurablePending = errors.New("durable write pending")
)
