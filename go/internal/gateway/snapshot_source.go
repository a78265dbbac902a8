package gateway

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/gameclock/go/internal/clocksync/clocksyncv1"
	"github.com/mcdev12/gameclock/go/internal/models"
)

// ErrGameNotFound is returned when the clock service knows nothing about a game.
var ErrGameNotFound = errors.New("game clock not found")

// SnapshotSource returns the current clock of a game.
type SnapshotSource interface {
	GetSnapshot(ctx context.Context, gameID uuid.UUID) (models.Snapshot, error)
}

// ClockServiceSource reads snapshots from the clock service over Connect.
type ClockServiceSource struct {
	client clocksyncv1.ClockServiceClient
}

func NewClockServiceSource(client clocksyncv1.ClockServiceClient) *ClockServiceSource {
	return &ClockServiceSource{client: client}
}

func (s *ClockServiceSource) GetSnapshot(ctx context.Context, gameID uuid.UUID) (models.Snapshot, error) {
	resp, err := s.client.GetSnapshot(ctx, connect.NewRequest(&clocksyncv1.GetSnapshotRequest{
		GameID: gameID.String(),
	}))
	if err != nil {
		if connect.CodeOf(err) == connect.CodeNotFound {
			return models.Snapshot{}, ErrGameNotFound
		}
		return models.Snapshot{}, err
	}
	return resp.Msg.Snapshot, nil
}
