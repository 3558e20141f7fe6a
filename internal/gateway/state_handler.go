package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/padeltrack/syncserver/internal/match"
	"github.com/padeltrack/syncserver/internal/protocol"
)

// StateHandler serves the current match snapshot over plain HTTP, for
// clients that want the state without holding a WebSocket open.
type StateHandler struct {
	store   *match.Store
	manager *ConnectionManager
}

// NewStateHandler creates a state handler.
func NewStateHandler(store *match.Store, manager *ConnectionManager) *StateHandler {
	return &StateHandler{store: store, manager: manager}
}

// HandleGetMatchState handles GET /api/match/state.
func (h *StateHandler) HandleGetMatchState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := h.store.Current()
	resp := protocol.StateSyncPayload{
		Score:            st.Score,
		LastAction:       st.LastAction,
		UpdatedAt:        st.UpdatedAt,
		ConnectedDevices: h.manager.Count(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to write match state response")
	}
}

// RegisterStateRoutes registers the REST state routes on the mux.
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/match/state", h.HandleGetMatchState)
}
