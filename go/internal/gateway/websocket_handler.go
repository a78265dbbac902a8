package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for clock connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	source            SnapshotSource
	seedTimeout       time.Duration
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, source SnapshotSource) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		source:            source,
		seedTimeout:       2 * time.Second,
	}
}

// HandleClockConnection upgrades /ws/clock?game_id=... and seeds the new client
// with the current snapshot so it can render before the next broadcast.
func (h *WebSocketHandler) HandleClockConnection(w http.ResponseWriter, r *http.Request) {
	gameIDStr := r.URL.Query().Get("game_id")
	if gameIDStr == "" {
		http.Error(w, "game_id is required", http.StatusBadRequest)
		return
	}

	gameID, err := uuid.Parse(gameIDStr)
	if err != nil {
		http.Error(w, "invalid game_id format", http.StatusBadRequest)
		return
	}

	// In production, this would come from the session
	player := r.URL.Query().Get("player")
	if player == "" {
		player = "spectator"
	}

	conn, err := h.connectionManager.UpgradeConnection(w, r, player, gameID)
	if err != nil {
		// The upgrader already replied to the client.
		log.Error().
			Err(err).
			Str("game_id", gameID.String()).
			Str("player", player).
			Msg("failed to upgrade WebSocket connection")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.seedTimeout)
	defer cancel()

	snap, err := h.source.GetSnapshot(ctx, gameID)
	if err != nil {
		log.Warn().
			Err(err).
			Str("game_id", gameID.String()).
			Msg("failed to seed connection with current snapshot")
		return
	}
	if err := h.connectionManager.SendSnapshot(conn, snap); err != nil {
		log.Warn().Err(err).Str("connection_id", conn.ID).Msg("failed to send seed snapshot")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/clock", h.HandleClockConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
