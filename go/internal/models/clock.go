package models

import (
	"github.com/google/uuid"
)

// Side identifies one of the two players' clocks.
type Side string

const (
	SideA    Side = "sideA"
	SideB    Side = "sideB"
	SideNone Side = "none"
)

// Other returns the opposing side. SideNone has no opponent.
func (s Side) Other() Side {
	switch s {
	case SideA:
		return SideB
	case SideB:
		return SideA
	default:
		return SideNone
	}
}

// IsPlayer reports whether s names one of the two players.
func (s Side) IsPlayer() bool {
	return s == SideA || s == SideB
}

// ClockStatus defines whether a clock can still change.
type ClockStatus string

const (
	StatusActive ClockStatus = "active"
	StatusOver   ClockStatus = "over"
)

// EndReason explains why a clock stopped for good.
type EndReason string

const (
	ReasonFlag        EndReason = "flag"
	ReasonResignation EndReason = "resignation"
	ReasonAborted     EndReason = "aborted"
	ReasonCompleted   EndReason = "completed"
)

// Valid reports whether r is a known reason.
func (r EndReason) Valid() bool {
	switch r {
	case ReasonFlag, ReasonResignation, ReasonAborted, ReasonCompleted:
		return true
	}
	return false
}

// ClockState is the authoritative clock record of one game.
// It is always passed by value; a returned state is never modified later.
type ClockState struct {
	GameID       uuid.UUID   `json:"game_id"`
	SideAMs      int64       `json:"side_a_ms"`
	SideBMs      int64       `json:"side_b_ms"`
	Running      Side        `json:"running"`
	LastServerMs int64       `json:"last_server_ms"`
	IncrementMs  int64       `json:"increment_ms"`
	Revision     uint64      `json:"revision"`
	Status       ClockStatus `json:"status"`
	Reason       *EndReason  `json:"reason,omitempty"`
}

// Remaining returns the milliseconds left for side.
func (s ClockState) Remaining(side Side) int64 {
	switch side {
	case SideA:
		return s.SideAMs
	case SideB:
		return s.SideBMs
	default:
		return 0
	}
}

// WithRemaining returns a copy of s with side's remaining time set to ms.
func (s ClockState) WithRemaining(side Side, ms int64) ClockState {
	switch side {
	case SideA:
		s.SideAMs = ms
	case SideB:
		s.SideBMs = ms
	}
	return s
}

// IsOver reports whether the clock reached a terminal state.
func (s ClockState) IsOver() bool {
	return s.Status == StatusOver
}

// IsRunning reports whether one side's clock is currently decreasing.
func (s ClockState) IsRunning() bool {
	return s.Status == StatusActive && s.Running.IsPlayer()
}

// VisibleEqual reports whether two states would render identically to players.
func (s ClockState) VisibleEqual(o ClockState) bool {
	return s.SideAMs == o.SideAMs &&
		s.SideBMs == o.SideBMs &&
		s.Running == o.Running &&
		s.Status == o.Status
}

// SameAs reports whether two states hold the same clock, ignoring their revisions.
func (s ClockState) SameAs(o ClockState) bool {
	return s.GameID == o.GameID &&
		s.VisibleEqual(o) &&
		s.LastServerMs == o.LastServerMs &&
		s.IncrementMs == o.IncrementMs &&
		s.ReasonOrEmpty() == o.ReasonOrEmpty()
}

// ReasonOrEmpty returns the end reason, or "" while the game is active.
func (s ClockState) ReasonOrEmpty() EndReason {
	if s.Reason == nil {
		return ""
	}
	return *s.Reason
}
