package clocksync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/gameclock/go/internal/clocksync/clocksyncv1"
	"github.com/mcdev12/gameclock/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, app ClockApp) clocksyncv1.ClockServiceClient {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle(clocksyncv1.NewClockServiceHandler(NewService(app)))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return clocksyncv1.NewClockServiceClient(server.Client(), server.URL)
}

func TestServiceRoundTrip(t *testing.T) {
	f := newFixture(t)
	client := newTestClient(t, f.app)
	ctx := context.Background()
	id := uuid.New()

	started, err := client.StartClock(ctx, connect.NewRequest(&clocksyncv1.StartClockRequest{
		GameID:      id.String(),
		InitialMs:   60_000,
		IncrementMs: 2_000,
		FirstToMove: string(models.SideA),
	}))
	require.NoError(t, err)
	assert.Equal(t, id, started.Msg.Snapshot.GameID)
	assert.Equal(t, uint64(1), started.Msg.Snapshot.Revision)

	f.clock.Advance(5 * time.Second)
	moved, err := client.RecordMove(ctx, connect.NewRequest(&clocksyncv1.RecordMoveRequest{
		GameID: id.String(),
		Mover:  string(models.SideA),
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(57_000), moved.Msg.Snapshot.SideAMs)
	assert.Equal(t, models.SideB, moved.Msg.Snapshot.Running)

	paused, err := client.PauseGame(ctx, connect.NewRequest(&clocksyncv1.PauseGameRequest{GameID: id.String()}))
	require.NoError(t, err)
	assert.Equal(t, models.SideNone, paused.Msg.Snapshot.Running)

	resumed, err := client.ResumeGame(ctx, connect.NewRequest(&clocksyncv1.ResumeGameRequest{
		GameID:     id.String(),
		SideToMove: string(models.SideB),
	}))
	require.NoError(t, err)
	assert.Equal(t, models.SideB, resumed.Msg.Snapshot.Running)

	ended, err := client.EndGame(ctx, connect.NewRequest(&clocksyncv1.EndGameRequest{
		GameID: id.String(),
		Reason: string(models.ReasonResignation),
	}))
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotOver, ended.Msg.Snapshot.Type)
	assert.Equal(t, models.ReasonResignation, ended.Msg.Snapshot.Reason)

	got, err := client.GetSnapshot(ctx, connect.NewRequest(&clocksyncv1.GetSnapshotRequest{GameID: id.String()}))
	require.NoError(t, err)
	assert.Equal(t, ended.Msg.Snapshot, got.Msg.Snapshot)
}

func TestServiceErrorCodes(t *testing.T) {
	f := newFixture(t)
	client := newTestClient(t, f.app)
	ctx := context.Background()
	id := f.start(t, 60_000, 0)

	tests := []struct {
		name string
		call func() error
		want connect.Code
	}{
		{
			name: "malformed game id",
			call: func() error {
				_, err := client.GetSnapshot(ctx, connect.NewRequest(&clocksyncv1.GetSnapshotRequest{GameID: "nope"}))
				return err
			},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "unknown game",
			call: func() error {
				_, err := client.GetSnapshot(ctx, connect.NewRequest(&clocksyncv1.GetSnapshotRequest{GameID: uuid.NewString()}))
				return err
			},
			want: connect.CodeNotFound,
		},
		{
			name: "invalid side",
			call: func() error {
				_, err := client.RecordMove(ctx, connect.NewRequest(&clocksyncv1.RecordMoveRequest{GameID: id.String(), Mover: "white"}))
				return err
			},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "duplicate start",
			call: func() error {
				_, err := client.StartClock(ctx, connect.NewRequest(&clocksyncv1.StartClockRequest{
					GameID: id.String(), InitialMs: 1_000, FirstToMove: string(models.SideA),
				}))
				return err
			},
			want: connect.CodeAlreadyExists,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.want, connect.CodeOf(err))
		})
	}
}

func TestServiceMovePendingWhenStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, 60_000, 0)

	flaky := &flakyStore{Store: f.store, saveFailures: -1, saveErr: ErrStoreUnavailable}
	client := newTestClient(t, NewApp(flaky, f.broadcast, f.clock, Config{MaxAttempts: 1}))

	_, err := client.RecordMove(context.Background(), connect.NewRequest(&clocksyncv1.RecordMoveRequest{
		GameID: id.String(),
		Mover:  string(models.SideA),
	}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))

	var connectErr *connect.Error
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, MovePendingMessage, connectErr.Message())
}
