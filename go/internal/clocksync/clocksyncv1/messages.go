// Package clocksyncv1 defines the wire contract of clocksync.v1.ClockService:
// its messages, the JSON codec and the Connect handler and client constructors.
package clocksyncv1

import "github.com/mcdev12/gameclock/go/internal/models"

type StartClockRequest struct {
	GameID      string `json:"gameId"`
	InitialMs   int64  `json:"initialMs"`
	IncrementMs int64  `json:"incrementMs"`
	FirstToMove string `json:"firstToMove"`
}

type RecordMoveRequest struct {
	GameID string `json:"gameId"`
	Mover  string `json:"mover"`
}

type PauseGameRequest struct {
	GameID string `json:"gameId"`
}

type ResumeGameRequest struct {
	GameID     string `json:"gameId"`
	SideToMove string `json:"sideToMove"`
}

type GetSnapshotRequest struct {
	GameID string `json:"gameId"`
}

type EndGameRequest struct {
	GameID string `json:"gameId"`
	Reason string `json:"reason"`
}

// SnapshotResponse is returned by every procedure.
type SnapshotResponse struct {
	Snapshot models.Snapshot `json:"snapshot"`
}
