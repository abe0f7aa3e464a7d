package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/powerview-bridge/internal/engine"
	"github.com/nerrad567/powerview-bridge/internal/powerview"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeUnsupported  = "unsupported"
	ErrCodeHub          = "hub_error"
	ErrCodeInternal     = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeEngineError maps an engine or hub error to a response.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrShadeNotFound), errors.Is(err, engine.ErrSceneNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, engine.ErrUnknownCommand),
		errors.Is(err, engine.ErrNotTiltCapable),
		errors.Is(err, powerview.ErrInvalidPosition):
		writeBadRequest(w, err.Error())
	case errors.Is(err, powerview.ErrUnsupported):
		writeError(w, http.StatusConflict, ErrCodeUnsupported, err.Error())
	case errors.Is(err, powerview.ErrRequestFailed), errors.Is(err, powerview.ErrNotFound):
		writeError(w, http.StatusBadGateway, ErrCodeHub, err.Error())
	default:
		writeInternalError(w, "internal server error")
	}
}
