package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// StateHandler serves the current clock over plain HTTP
type StateHandler struct {
	source SnapshotSource
}

// NewStateHandler creates a new state handler
func NewStateHandler(source SnapshotSource) *StateHandler {
	return &StateHandler{source: source}
}

// HandleGetClock handles GET /api/games/{id}/clock
func (h *StateHandler) HandleGetClock(w http.ResponseWriter, r *http.Request) {
	gameID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid game ID format", http.StatusBadRequest)
		return
	}

	snap, err := h.source.GetSnapshot(r.Context(), gameID)
	if err != nil {
		if errors.Is(err, ErrGameNotFound) {
			http.Error(w, "Game clock not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("game_id", gameID.String()).Msg("failed to get clock snapshot")
		http.Error(w, "Failed to get clock", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		log.Error().Err(err).Msg("failed to encode clock response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/games/{id}/clock", h.HandleGetClock)
}
