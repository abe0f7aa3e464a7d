package api

import (
	"net/http"

	"github.com/nerrad567/powerview-bridge/internal/engine"
)

// handleListScenes returns every scene with its computed and hub state.
func (s *Server) handleListScenes(w http.ResponseWriter, _ *http.Request) {
	scenes := s.engine.SceneStates()
	writeJSON(w, http.StatusOK, map[string]any{"scenes": scenes, "count": len(scenes)})
}

func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st, err := s.engine.SceneState(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleActivateScene asks the hub to run a scene. The active flag in the
// response is the state before the hub confirms.
func (s *Server) handleActivateScene(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.cmds.SceneCommand(r.Context(), id, engine.CmdActivate); err != nil {
		s.logger.Warn("scene activation failed", "scene", id, "error", err)
		writeEngineError(w, err)
		return
	}

	st, err := s.engine.SceneState(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}
