package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// apiError is the structured error body every handler returns on
// failure: a 400/404/500 carries the same {error, detail, status_code}
// shape.
type apiError struct {
	Error      string `json:"error"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"status_code"`
}

func writeError(w http.ResponseWriter, code int, msg, detail string) {
	writeJSON(w, code, apiError{Error: msg, Detail: detail, StatusCode: code})
}

func badRequest(w http.ResponseWriter, detail string) {
	writeError(w, http.StatusBadRequest, "bad_request", detail)
}

func notFound(w http.ResponseWriter, detail string) {
	writeError(w, http.StatusNotFound, "not_found", detail)
}

// internalError logs the real cause but never serialises it to the
// client.
func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error("httpapi: "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "an internal error occurred")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
