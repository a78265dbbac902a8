package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/gameclock/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	snaps map[uuid.UUID]models.Snapshot
	err   error
}

func (s *stubSource) GetSnapshot(ctx context.Context, gameID uuid.UUID) (models.Snapshot, error) {
	if s.err != nil {
		return models.Snapshot{}, s.err
	}
	snap, ok := s.snaps[gameID]
	if !ok {
		return models.Snapshot{}, ErrGameNotFound
	}
	return snap, nil
}

func snapshot(gameID uuid.UUID, revision uint64) models.Snapshot {
	return models.Snapshot{
		Type:     models.SnapshotUpdate,
		GameID:   gameID,
		Revision: revision,
		SideAMs:  60_000 - int64(revision)*1_000,
		SideBMs:  60_000,
		Running:  models.SideA,
		ServerMs: 1_700_000_000_000 + int64(revision)*1_000,
	}
}

func newGatewayServer(t *testing.T, source SnapshotSource) (*ConnectionManager, *httptest.Server) {
	t.Helper()
	cm := NewConnectionManager(DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go cm.Start(ctx)

	mux := http.NewServeMux()
	NewWebSocketHandler(cm, source).RegisterRoutes(mux)
	NewStateHandler(source).RegisterStateRoutes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return cm, server
}

func dial(t *testing.T, server *httptest.Server, gameID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/clock?game_id=" + gameID.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn, timeout time.Duration) (models.Snapshot, error) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	var snap models.Snapshot
	_, data, err := conn.ReadMessage()
	if err != nil {
		return snap, err
	}
	require.NoError(t, json.Unmarshal(data, &snap))
	return snap, nil
}

func TestWebSocketSeedsAndRelaysSnapshots(t *testing.T) {
	gameID := uuid.New()
	source := &stubSource{snaps: map[uuid.UUID]models.Snapshot{gameID: snapshot(gameID, 3)}}
	cm, server := newGatewayServer(t, source)

	conn := dial(t, server, gameID)

	seed, err := readSnapshot(t, conn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seed.Revision)

	require.Eventually(t, func() bool {
		return cm.GetConnectionStats().TotalConnections == 1
	}, time.Second, 10*time.Millisecond)

	cm.BroadcastSnapshot(snapshot(gameID, 4))
	got, err := readSnapshot(t, conn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got.Revision)

	// Older and duplicate revisions are not relayed; the next newer one is.
	cm.BroadcastSnapshot(snapshot(gameID, 2))
	cm.BroadcastSnapshot(snapshot(gameID, 4))
	cm.BroadcastSnapshot(snapshot(gameID, 5))
	got, err = readSnapshot(t, conn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Revision)
}

func TestBroadcastOnlyReachesWatchers(t *testing.T) {
	watched, other := uuid.New(), uuid.New()
	source := &stubSource{snaps: map[uuid.UUID]models.Snapshot{}}
	cm, server := newGatewayServer(t, source)

	conn := dial(t, server, watched)
	require.Eventually(t, func() bool {
		return cm.GetConnectionStats().ActiveGames == 1
	}, time.Second, 10*time.Millisecond)

	cm.BroadcastSnapshot(snapshot(other, 1))
	cm.BroadcastSnapshot(snapshot(watched, 1))

	got, err := readSnapshot(t, conn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, watched, got.GameID)
}

func TestWebSocketRejectsBadGameID(t *testing.T) {
	_, server := newGatewayServer(t, &stubSource{})

	resp, err := http.Get(server.URL + "/ws/clock?game_id=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStateHandler(t *testing.T) {
	gameID := uuid.New()
	source := &stubSource{snaps: map[uuid.UUID]models.Snapshot{gameID: snapshot(gameID, 7)}}
	_, server := newGatewayServer(t, source)

	resp, err := http.Get(server.URL + "/api/games/" + gameID.String() + "/clock")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap models.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, snapshot(gameID, 7), snap)

	missing, err := http.Get(server.URL + "/api/games/" + uuid.NewString() + "/clock")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	bad, err := http.Get(server.URL + "/api/games/nope/clock")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}
