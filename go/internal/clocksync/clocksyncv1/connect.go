package clocksyncv1

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// ClockServiceName is the fully-qualified name of the ClockService service.
const ClockServiceName = "clocksync.v1.ClockService"

const (
	ClockServiceStartClockProcedure  = "/clocksync.v1.ClockService/StartClock"
	ClockServiceRecordMoveProcedure  = "/clocksync.v1.ClockService/RecordMove"
	ClockServicePauseGameProcedure   = "/clocksync.v1.ClockService/PauseGame"
	ClockServiceResumeGameProcedure  = "/clocksync.v1.ClockService/ResumeGame"
	ClockServiceGetSnapshotProcedure = "/clocksync.v1.ClockService/GetSnapshot"
	ClockServiceEndGameProcedure     = "/clocksync.v1.ClockService/EndGame"
)

// ClockServiceHandler is implemented by the clock service.
type ClockServiceHandler interface {
	StartClock(context.Context, *connect.Request[StartClockRequest]) (*connect.Response[SnapshotResponse], error)
	RecordMove(context.Context, *connect.Request[RecordMoveRequest]) (*connect.Response[SnapshotResponse], error)
	PauseGame(context.Context, *connect.Request[PauseGameRequest]) (*connect.Response[SnapshotResponse], error)
	ResumeGame(context.Context, *connect.Request[ResumeGameRequest]) (*connect.Response[SnapshotResponse], error)
	GetSnapshot(context.Context, *connect.Request[GetSnapshotRequest]) (*connect.Response[SnapshotResponse], error)
	EndGame(context.Context, *connect.Request[EndGameRequest]) (*connect.Response[SnapshotResponse], error)
}

// NewClockServiceHandler builds an HTTP handler from the service implementation.
// It returns the path on which to mount the handler and the handler itself.
func NewClockServiceHandler(svc ClockServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)

	startClock := connect.NewUnaryHandler(ClockServiceStartClockProcedure, svc.StartClock, opts...)
	recordMove := connect.NewUnaryHandler(ClockServiceRecordMoveProcedure, svc.RecordMove, opts...)
	pauseGame := connect.NewUnaryHandler(ClockServicePauseGameProcedure, svc.PauseGame, opts...)
	resumeGame := connect.NewUnaryHandler(ClockServiceResumeGameProcedure, svc.ResumeGame, opts...)
	getSnapshot := connect.NewUnaryHandler(ClockServiceGetSnapshotProcedure, svc.GetSnapshot, opts...)
	endGame := connect.NewUnaryHandler(ClockServiceEndGameProcedure, svc.EndGame, opts...)

	return "/" + ClockServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ClockServiceStartClockProcedure:
			startClock.ServeHTTP(w, r)
		case ClockServiceRecordMoveProcedure:
			recordMove.ServeHTTP(w, r)
		case ClockServicePauseGameProcedure:
			pauseGame.ServeHTTP(w, r)
		case ClockServiceResumeGameProcedure:
			resumeGame.ServeHTTP(w, r)
		case ClockServiceGetSnapshotProcedure:
			getSnapshot.ServeHTTP(w, r)
		case ClockServiceEndGameProcedure:
			endGame.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// ClockServiceClient is a client for the clocksync.v1.ClockService service.
type ClockServiceClient interface {
	StartClock(context.Context, *connect.Request[StartClockRequest]) (*connect.Response[SnapshotResponse], error)
	RecordMove(context.Context, *connect.Request[RecordMoveRequest]) (*connect.Response[SnapshotResponse], error)
	PauseGame(context.Context, *connect.Request[PauseGameRequest]) (*connect.Response[SnapshotResponse], error)
	ResumeGame(context.Context, *connect.Request[ResumeGameRequest]) (*connect.Response[SnapshotResponse], error)
	GetSnapshot(context.Context, *connect.Request[GetSnapshotRequest]) (*connect.Response[SnapshotResponse], error)
	EndGame(context.Context, *connect.Request[EndGameRequest]) (*connect.Response[SnapshotResponse], error)
}

// NewClockServiceClient constructs a client for the clocksync.v1.ClockService
// service. baseURL is the server's root, e.g. http://localhost:8080.
func NewClockServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) ClockServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)

	return &clockServiceClient{
		startClock:  connect.NewClient[StartClockRequest, SnapshotResponse](httpClient, baseURL+ClockServiceStartClockProcedure, opts...),
		recordMove:  connect.NewClient[RecordMoveRequest, SnapshotResponse](httpClient, baseURL+ClockServiceRecordMoveProcedure, opts...),
		pauseGame:   connect.NewClient[PauseGameRequest, SnapshotResponse](httpClient, baseURL+ClockServicePauseGameProcedure, opts...),
		resumeGame:  connect.NewClient[ResumeGameRequest, SnapshotResponse](httpClient, baseURL+ClockServiceResumeGameProcedure, opts...),
		getSnapshot: connect.NewClient[GetSnapshotRequest, SnapshotResponse](httpClient, baseURL+ClockServiceGetSnapshotProcedure, opts...),
		endGame:     connect.NewClient[EndGameRequest, SnapshotResponse](httpClient, baseURL+ClockServiceEndGameProcedure, opts...),
	}
}

type clockServiceClient struct {
	startClock  *connect.Client[StartClockRequest, SnapshotResponse]
	recordMove  *connect.Client[RecordMoveRequest, SnapshotResponse]
	pauseGame   *connect.Client[PauseGameRequest, SnapshotResponse]
	resumeGame  *connect.Client[ResumeGameRequest, SnapshotResponse]
	getSnapshot *connect.Client[GetSnapshotRequest, SnapshotResponse]
	endGame     *connect.Client[EndGameRequest, SnapshotResponse]
}

func (c *clockServiceClient) StartClock(ctx context.Context, req *connect.Request[StartClockRequest]) (*connect.Response[SnapshotResponse], error) {
	return c.startClock.CallUnary(ctx, req)
}

func (c *clockServiceClient) RecordMove(ctx context.Context, req *connect.Request[RecordMoveRequest]) (*connect.Response[SnapshotResponse], error) {
	return c.recordMove.CallUnary(ctx, req)
}

func (c *clockServiceClient) PauseGame(ctx context.Context, req *connect.Request[PauseGameRequest]) (*connect.Response[SnapshotResponse], error) {
	return c.pauseGame.CallUnary(ctx, req)
}

func (c *clockServiceClient) ResumeGame(ctx context.Context, req *connect.Request[ResumeGameRequest]) (*connect.Response[SnapshotResponse], error) {
	return c.resumeGame.CallUnary(ctx, req)
}

func (c *clockServiceClient) GetSnapshot(ctx context.Context, req *connect.Request[GetSnapshotRequest]) (*connect.Response[SnapshotResponse], error) {
	return c.getSnapshot.CallUnary(ctx, req)
}

func (c *clockServiceClient) EndGame(ctx context.Context, req *connect.Request[EndGameRequest]) (*connect.Response[SnapshotResponse], error) {
	return c.endGame.CallUnary(ctx, req)
}
