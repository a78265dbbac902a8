package models

import (
	"github.com/google/uuid"
)

// SnapshotType tells consumers whether the clock is still ticking.
type SnapshotType string

const (
	SnapshotUpdate SnapshotType = "update"
	SnapshotOver   SnapshotType = "over"
)

// Snapshot is the immutable clock view published to subscribers of a game.
type Snapshot struct {
	Type        SnapshotType `json:"type"`
	GameID      uuid.UUID    `json:"gameId"`
	Revision    uint64       `json:"revision"`
	SideAMs     int64        `json:"sideAMs"`
	SideBMs     int64        `json:"sideBMs"`
	Running     Side         `json:"running"`
	IncrementMs int64        `json:"incrementMs"`
	ServerMs    int64        `json:"serverMs"`
	Reason      EndReason    `json:"reason,omitempty"`
}

// NewSnapshot builds the broadcast view of a state.
func NewSnapshot(s ClockState) Snapshot {
	snap := Snapshot{
		Type:        SnapshotUpdate,
		GameID:      s.GameID,
		Revision:    s.Revision,
		SideAMs:     s.SideAMs,
		SideBMs:     s.SideBMs,
		Running:     s.Running,
		IncrementMs: s.IncrementMs,
		ServerMs:    s.LastServerMs,
	}
	if s.IsOver() {
		snap.Type = SnapshotOver
		snap.Reason = s.ReasonOrEmpty()
	}
	return snap
}

// IsTerminal reports whether the snapshot announces the end of the game.
func (s Snapshot) IsTerminal() bool {
	return s.Type == SnapshotOver
}

// Remaining returns the milliseconds left for side at ServerMs.
func (s Snapshot) Remaining(side Side) int64 {
	switch side {
	case SideA:
		return s.SideAMs
	case SideB:
		return s.SideBMs
	default:
		return 0
	}
}
