// Package clock holds the pure clock arithmetic. Nothing here performs I/O,
// keeps state, or mutates its input; every function returns a new value.
package clock

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/gameclock/go/internal/models"
)

// New returns the initial clock of a game that just became active.
func New(gameID uuid.UUID, initialMs, incrementMs int64, first models.Side, now int64) models.ClockState {
	if initialMs < 0 {
		initialMs = 0
	}
	if incrementMs < 0 {
		incrementMs = 0
	}
	state := models.ClockState{
		GameID:       gameID,
		SideAMs:      initialMs,
		SideBMs:      initialMs,
		Running:      models.SideNone,
		LastServerMs: now,
		IncrementMs:  incrementMs,
		Status:       models.StatusActive,
	}
	if first.IsPlayer() && initialMs > 0 {
		state.Running = first
	}
	return state
}

// ApplyElapsed charges the running side for the time passed since LastServerMs.
// A now earlier than LastServerMs is treated as LastServerMs.
func ApplyElapsed(state models.ClockState, now int64) models.ClockState {
	if state.IsOver() || !state.Running.IsPlayer() {
		return state
	}
	if now < state.LastServerMs {
		now = state.LastServerMs
	}

	elapsed := now - state.LastServerMs
	remaining := state.Remaining(state.Running) - elapsed
	state.LastServerMs = now

	if remaining <= 0 {
		return flag(state)
	}
	return state.WithRemaining(state.Running, remaining)
}

// OnMove charges the mover, credits the increment and hands the clock to the opponent.
// The caller guarantees mover is the running side.
func OnMove(state models.ClockState, mover models.Side, now int64) models.ClockState {
	state = ApplyElapsed(state, now)
	if state.IsOver() || !mover.IsPlayer() {
		return state
	}

	state = state.WithRemaining(mover, state.Remaining(mover)+state.IncrementMs)
	state.Running = mover.Other()
	return state
}

// Pause stops both clocks, capturing the remaining time at now.
func Pause(state models.ClockState, now int64) models.ClockState {
	state = ApplyElapsed(state, now)
	if state.IsOver() {
		return state
	}
	state.Running = models.SideNone
	return state
}

// Resume starts sideToMove's clock from now without touching remaining times.
func Resume(state models.ClockState, sideToMove models.Side, now int64) models.ClockState {
	if state.IsOver() || !sideToMove.IsPlayer() || state.Remaining(sideToMove) <= 0 {
		return state
	}
	state.Running = sideToMove
	if now > state.LastServerMs {
		state.LastServerMs = now
	}
	return state
}

// End stops the clock for good with the given reason. Already finished clocks keep
// their original reason.
func End(state models.ClockState, reason models.EndReason, now int64) models.ClockState {
	state = ApplyElapsed(state, now)
	if state.IsOver() {
		return state
	}
	state.Running = models.SideNone
	state.Status = models.StatusOver
	state.Reason = &reason
	return state
}

func flag(state models.ClockState) models.ClockState {
	reason := models.ReasonFlag
	state = state.WithRemaining(state.Running, 0)
	state.Running = models.SideNone
	state.Status = models.StatusOver
	state.Reason = &reason
	return state
}

// FromTime converts a wall-clock time into epoch milliseconds.
func FromTime(t time.Time) int64 {
	return t.UnixMilli()
}
