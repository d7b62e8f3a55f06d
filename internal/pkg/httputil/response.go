package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/ignite/ads-optimizer/internal/pkg/logger"
)

// ErrorResponse is the standard error envelope for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSON writes a JSON response with the given status code. The data is
// serialized and Content-Type is set automatically.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("httputil: JSON encode failed", "error", err)
	}
}

// OK writes a 200 response with the given data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Accepted writes a 202 response with the given data.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, data)
}

// NoContent writes a 204 response with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes a JSON error response. Use for client errors (4xx).
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// BadRequest writes a 400 error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// NotFound writes a 404 error.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message)
}

// Conflict writes a 409 error.
func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, message)
}

// InternalError writes a 500 error. Logs the real error but returns a
// generic message to the client (never leak internals).
func InternalError(w http.ResponseWriter, err error) {
	logger.Error("httputil: internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal server error")
}
