package web

// errors.go provides unified error response handling for the web layer.
//
// All errors leave the API as a JSON envelope with a machine-readable code;
// the technical error is logged server-side with the request ID for
// correlation.

import (
	"encoding/json"
	"errors"
	"net/http"

	"filebridge/internal/logging"
	"filebridge/internal/mapping"
	"filebridge/internal/pipeline"
	"filebridge/internal/worker"
)

// ErrorResponse is the JSON envelope for API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError logs the technical error and writes the JSON envelope.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classifyError(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", code,
		"error", err,
	)

	writeError(w, status, code, message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})
}

// classifyError maps domain errors to HTTP status, stable code and a client
// message.
func classifyError(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, pipeline.ErrAlreadyInProgress):
		return http.StatusConflict, "already_in_progress", "file is already being processed"
	case errors.Is(err, pipeline.ErrJobNotFound):
		return http.StatusNotFound, "file_not_found", "no file with that id"
	case errors.Is(err, mapping.ErrNotFound):
		return http.StatusNotFound, "mapping_not_found", "no mapping for that client"
	case errors.Is(err, worker.ErrTooManyFiles):
		return http.StatusServiceUnavailable, "server_busy", "too many files being processed, try again later"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

// badRequest writes a 400 envelope for malformed input; these never reach
// respondError's classifier.
func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, code, message string) {
	logging.FromContext(r.Context()).Warn("bad request",
		"path", r.URL.Path,
		"code", code,
		"detail", message,
	)
	writeError(w, http.StatusBadRequest, code, message)
}

// respondJSON writes a JSON response body with the given status.
func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
