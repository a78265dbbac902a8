package clocksync

import (
	"errors"

	"github.com/mcdev12/gameclock/go/internal/clockstore"
)

var (
	ErrInvalidSide    = errors.New("invalid side")
	ErrInvalidReason  = errors.New("invalid end reason")
	ErrInvalidRequest = errors.New("invalid request")

	ErrNotFound         = clockstore.ErrNotFound
	ErrStoreUnavailable = clockstore.ErrStoreUnavailable
	ErrRevisionConflict = clockstore.ErrRevisionConflict
	ErrAlreadyExists    = clockstore.ErrAlreadyExists
)

// retriable reports whether a store error may succeed on a fresh load.
func retriable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrRevisionConflict)
}
