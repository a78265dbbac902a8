package clocksync

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/gameclock/go/internal/clocksync/clocksyncv1"
	"github.com/mcdev12/gameclock/go/internal/models"
)

// MovePendingMessage is reported when a move could not be persisted in time. The
// caller should treat the move as accepted and wait for the next snapshot.
const MovePendingMessage = "move accepted, clock sync pending"

// ClockApp defines what the service layer needs from the clock application
type ClockApp interface {
	StartClock(ctx context.Context, req StartClockRequest) (models.Snapshot, error)
	RecordMove(ctx context.Context, gameID uuid.UUID, mover models.Side) (models.Snapshot, error)
	PauseGame(ctx context.Context, gameID uuid.UUID) (models.Snapshot, error)
	ResumeGame(ctx context.Context, gameID uuid.UUID, sideToMove models.Side) (models.Snapshot, error)
	GetSnapshot(ctx context.Context, gameID uuid.UUID) (models.Snapshot, error)
	EndGame(ctx context.Context, gameID uuid.UUID, reason models.EndReason) (models.Snapshot, error)
}

// Service implements the ClockService Connect interface
type Service struct {
	app ClockApp
}

// NewService creates a new clock Connect service
func NewService(app ClockApp) *Service {
	return &Service{app: app}
}

// Verify that Service implements the ClockServiceHandler interface
var _ clocksyncv1.ClockServiceHandler = (*Service)(nil)

func (s *Service) StartClock(ctx context.Context, req *connect.Request[clocksyncv1.StartClockRequest]) (*connect.Response[clocksyncv1.SnapshotResponse], error) {
	gameID, err := parseGameID(req.Msg.GameID)
	if err != nil {
		return nil, err
	}

	snap, err := s.app.StartClock(ctx, StartClockRequest{
		GameID:      gameID,
		InitialMs:   req.Msg.InitialMs,
		IncrementMs: req.Msg.IncrementMs,
		FirstToMove: models.Side(req.Msg.FirstToMove),
	})
	return respond(snap, err)
}

func (s *Service) RecordMove(ctx context.Context, req *connect.Request[clocksyncv1.RecordMoveRequest]) (*connect.Response[clocksyncv1.SnapshotResponse], error) {
	gameID, err := parseGameID(req.Msg.GameID)
	if err != nil {
		return nil, err
	}

	snap, err := s.app.RecordMove(ctx, gameID, models.Side(req.Msg.Mover))
	if errors.Is(err, ErrStoreUnavailable) {
		return nil, connect.NewError(connect.CodeUnavailable, errors.New(MovePendingMessage))
	}
	return respond(snap, err)
}

func (s *Service) PauseGame(ctx context.Context, req *connect.Request[clocksyncv1.PauseGameRequest]) (*connect.Response[clocksyncv1.SnapshotResponse], error) {
	gameID, err := parseGameID(req.Msg.GameID)
	if err != nil {
		return nil, err
	}

	snap, err := s.app.PauseGame(ctx, gameID)
	return respond(snap, err)
}

func (s *Service) ResumeGame(ctx context.Context, req *connect.Request[clocksyncv1.ResumeGameRequest]) (*connect.Response[clocksyncv1.SnapshotResponse], error) {
	gameID, err := parseGameID(req.Msg.GameID)
	if err != nil {
		return nil, err
	}

	snap, err := s.app.ResumeGame(ctx, gameID, models.Side(req.Msg.SideToMove))
	return respond(snap, err)
}

func (s *Service) GetSnapshot(ctx context.Context, req *connect.Request[clocksyncv1.GetSnapshotRequest]) (*connect.Response[clocksyncv1.SnapshotResponse], error) {
	gameID, err := parseGameID(req.Msg.GameID)
	if err != nil {
		return nil, err
	}

	snap, err := s.app.GetSnapshot(ctx, gameID)
	return respond(snap, err)
}

func (s *Service) EndGame(ctx context.Context, req *connect.Request[clocksyncv1.EndGameRequest]) (*connect.Response[clocksyncv1.SnapshotResponse], error) {
	gameID, err := parseGameID(req.Msg.GameID)
	if err != nil {
		return nil, err
	}

	snap, err := s.app.EndGame(ctx, gameID, models.EndReason(req.Msg.Reason))
	return respond(snap, err)
}

func parseGameID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid game id: %w", err))
	}
	return id, nil
}

func respond(snap models.Snapshot, err error) (*connect.Response[clocksyncv1.SnapshotResponse], error) {
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&clocksyncv1.SnapshotResponse{Snapshot: snap}), nil
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, ErrInvalidSide), errors.Is(err, ErrInvalidReason), errors.Is(err, ErrInvalidRequest):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, ErrAlreadyExists):
		return connect.NewError(connect.CodeAlreadyExists, err)
	case errors.Is(err, ErrRevisionConflict):
		return connect.NewError(connect.CodeAborted, err)
	case errors.Is(err, ErrStoreUnavailable):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
