package clocksync

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/gameclock/go/internal/models"
)

// StartClockRequest creates the clock of a game that just became active.
type StartClockRequest struct {
	GameID      uuid.UUID
	InitialMs   int64
	IncrementMs int64
	FirstToMove models.Side
}

// TickResult reports what a heartbeat tick did to a game.
type TickResult int

const (
	// TickIdle means nothing visible changed and nothing was written.
	TickIdle TickResult = iota
	// TickUpdated means the running side was charged and an update was published.
	TickUpdated
	// TickFlagged means the running side ran out of time.
	TickFlagged
)

func (r TickResult) String() string {
	switch r {
	case TickUpdated:
		return "updated"
	case TickFlagged:
		return "flagged"
	default:
		return "idle"
	}
}

// Config tunes the service's store access.
type Config struct {
	// OpTimeout bounds one operation including its retries.
	OpTimeout time.Duration
	// RetryBackoff is multiplied by the attempt number between retries.
	RetryBackoff time.Duration
	MaxAttempts  int
}

func DefaultConfig() Config {
	return Config{
		OpTimeout:    1500 * time.Millisecond,
		RetryBackoff: 50 * time.Millisecond,
		MaxAttempts:  5,
	}
}
