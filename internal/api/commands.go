package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/powerview-bridge/internal/audit"
)

// handleListCommands returns recorded commands, newest first.
//
// Query parameters: source, target (shade|scene), target_id, outcome,
// limit, offset.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		Source:  q.Get("source"),
		Target:  q.Get("target"),
		Outcome: q.Get("outcome"),
	}

	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		if raw := q.Get(name); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				writeBadRequest(w, name+" must be an integer")
				return
			}
			*dst = v
		}
	}
	if raw := q.Get("target_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "target_id must be an integer")
			return
		}
		f.TargetID = &id
	}

	page, err := s.audit.List(r.Context(), f)
	if err != nil {
		s.logger.Error("listing commands failed", "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
