package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/powerview-bridge/internal/engine"
	"github.com/nerrad567/powerview-bridge/internal/powerview"
)

// handleListShades returns every known shade.
func (s *Server) handleListShades(w http.ResponseWriter, _ *http.Request) {
	shades := s.engine.Store().Shades()
	writeJSON(w, http.StatusOK, map[string]any{"shades": shades, "count": len(shades)})
}

// handleGetShade returns one shade from the store without contacting the hub.
func (s *Server) handleGetShade(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	shade, found := s.engine.Store().Shade(id)
	if !found {
		writeNotFound(w, "shade not found")
		return
	}
	writeJSON(w, http.StatusOK, shade)
}

// handleShadeCommand runs a named command. "query" refreshes the shade
// from the hub and returns it.
func (s *Server) handleShadeCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cmd := strings.ToLower(chi.URLParam(r, "command"))

	if cmd == engine.CmdQuery {
		shade, err := s.engine.QueryShade(r.Context(), id)
		if err != nil {
			s.logger.Warn("shade query failed", "shade", id, "error", err)
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, shade)
		return
	}

	if err := s.cmds.ShadeCommand(r.Context(), id, cmd); err != nil {
		s.logger.Warn("shade command failed", "shade", id, "command", cmd, "error", err)
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "command": cmd, "status": "accepted"})
}

// handleSetShadePosition moves the channels present in the body:
//
//	{"primary": 40, "secondary": 0, "tilt": 20}
func (s *Server) handleSetShadePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var pos powerview.Positions
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if pos.Empty() {
		writeBadRequest(w, "at least one of primary, secondary or tilt is required")
		return
	}

	if err := s.cmds.SetShadePosition(r.Context(), id, pos); err != nil {
		s.logger.Warn("shade position failed", "shade", id, "positions", pos.String(), "error", err)
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "positions": pos, "status": "accepted"})
}

// pathID parses the {id} URL parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		writeBadRequest(w, "id must be a non-negative integer")
		return 0, false
	}
	return id, true
}
