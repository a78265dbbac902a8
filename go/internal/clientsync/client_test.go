package clientsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/gameclock/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatewayStub upgrades every request and writes the queued snapshots in order.
func gatewayStub(t *testing.T, gameID uuid.UUID, snaps []models.Snapshot) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, gameID.String(), r.URL.Query().Get("game_id"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, snap := range snaps {
			data, err := json.Marshal(snap)
			require.NoError(t, err)
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestClientFollowsGameUntilOver(t *testing.T) {
	id := uuid.New()
	over := snapshotAt(id, 4, models.SideNone, 0, 41_000, serverT0+60_000)
	over.Type = models.SnapshotOver
	over.Reason = models.ReasonFlag

	server := gatewayStub(t, id, []models.Snapshot{
		snapshotAt(id, 1, models.SideA, 60_000, 60_000, serverT0),
		snapshotAt(id, 3, models.SideB, 42_000, 60_000, serverT0+20_000),
		snapshotAt(id, 2, models.SideA, 50_000, 60_000, serverT0+10_000),
		over,
	})
	defer server.Close()

	cfg := DefaultClientConfig()
	cfg.GatewayURL = "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/clock"
	cfg.GameID = id

	var mu sync.Mutex
	var views []View
	clk := clockwork.NewFakeClockAt(time.UnixMilli(serverT0))
	client := NewClient(cfg, clk, func(v View) {
		mu.Lock()
		defer mu.Unlock()
		views = append(views, v)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, views)
	last := views[len(views)-1]
	assert.True(t, last.Synced)
	assert.Equal(t, uint64(4), last.Snapshot.Revision)
	assert.True(t, last.Snapshot.IsTerminal())
	assert.Zero(t, last.SideAMs)
	assert.Equal(t, int64(41_000), last.SideBMs)
}

func TestClientEndpoint(t *testing.T) {
	id := uuid.New()
	cfg := DefaultClientConfig()
	cfg.GameID = id
	cfg.Player = "sideA"

	endpoint, err := NewClient(cfg, clockwork.NewFakeClock(), func(View) {}).endpoint()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8081/ws/clock?game_id="+id.String()+"&player=sideA", endpoint)

	cfg.GatewayURL = "http://localhost:8081/ws/clock"
	_, err = NewClient(cfg, clockwork.NewFakeClock(), func(View) {}).endpoint()
	assert.Error(t, err)
}
