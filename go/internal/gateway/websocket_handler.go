package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler upgrades UI clients onto the room state stream.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	snapshot          func() StatePayload
}

func NewWebSocketHandler(cm *ConnectionManager, snapshot func() StatePayload) *WebSocketHandler {
	return &WebSocketHandler{connectionManager: cm, snapshot: snapshot}
}

// HandleRoomConnection handles GET /ws/room. The client receives the current
// state first and every change after it.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	initial, err := NewEvent(EventTypeRoomState, h.snapshot())
	if err != nil {
		log.Error().Err(err).Msg("failed to build initial state event")
		writeError(w, http.StatusInternalServerError, "failed to build state")
		return
	}

	// Upgrade has already answered the request when it fails.
	if _, err := h.connectionManager.Upgrade(w, r, initial); err != nil {
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to upgrade websocket connection")
	}
}

// HandleConnectionStats handles GET /ws/stats
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.Stats())
}

func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/room", h.HandleRoomConnection)
	r.Get("/ws/stats", h.HandleConnectionStats)
}
