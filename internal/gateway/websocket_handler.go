package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler exposes the sync endpoint and connection stats over HTTP.
type WebSocketHandler struct {
	manager *ConnectionManager
}

// NewWebSocketHandler creates a handler over the connection manager.
func NewWebSocketHandler(m *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{manager: m}
}

// HandleSync upgrades the request and hands the connection to the manager.
func (h *WebSocketHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.UpgradeConnection(w, r); err != nil {
		log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to establish connection")
		// Upgrade already wrote an HTTP error response on failure.
	}
}

// HandleStats returns the number of open connections.
func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"connections": h.manager.Count()})
}

// RegisterRoutes registers the WebSocket routes on the mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleSync)
	mux.HandleFunc("/ws/stats", h.HandleStats)
}
