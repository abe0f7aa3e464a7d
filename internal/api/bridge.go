package api

import (
	"net/http"

	"github.com/nerrad567/powerview-bridge/internal/engine"
)

// handleDiscover re-runs discovery and waits for it to finish, so new hub
// shades and scenes are registered with the host before the response.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if err := s.cmds.BridgeCommand(r.Context(), engine.CmdDiscover); err != nil {
		s.logger.Warn("discovery failed", "error", err)
		writeEngineError(w, err)
		return
	}
	store := s.engine.Store()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "discovered",
		"shades": len(store.ShadeIDs()),
		"scenes": len(store.SceneIDs()),
	})
}

// handleQueryAll re-reports every shade and scene to the host, WebSocket
// clients and telemetry. Reads are not recorded.
func (s *Server) handleQueryAll(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.BridgeCommand(r.Context(), engine.CmdQuery); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reported"})
}
