package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/netneural/sync-core/internal/device"
	"github.com/netneural/sync-core/internal/integration"
	"github.com/netneural/sync-core/internal/notify"
	"github.com/netneural/sync-core/internal/scheduler"
	syncengine "github.com/netneural/sync-core/internal/sync"
	"github.com/netneural/sync-core/internal/webhook"
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
	ErrCodeConflict     = "conflict"
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

// writeDomainError maps engine sentinel errors onto the HTTP taxonomy:
// 400 validation, 401 bad signature, 404 unknown resource, 409 state
// conflict, 500 everything else.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, integration.ErrNotFound),
		errors.Is(err, device.ErrNotFound),
		errors.Is(err, syncengine.ErrRunNotFound),
		errors.Is(err, syncengine.ErrConflictNotFound),
		errors.Is(err, notify.ErrNotFound),
		errors.Is(err, scheduler.ErrNotFound):
		writeNotFound(w, err.Error())

	case errors.Is(err, syncengine.ErrAlreadyRunning),
		errors.Is(err, syncengine.ErrIntegrationBlocked),
		errors.Is(err, syncengine.ErrConflictResolved):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())

	case errors.Is(err, webhook.ErrSignatureMismatch):
		writeUnauthorized(w, err.Error())

	case errors.Is(err, syncengine.ErrInvalidOperation),
		errors.Is(err, syncengine.ErrInvalidChoice),
		errors.Is(err, integration.ErrNotRegistry),
		errors.Is(err, integration.ErrInvalid),
		errors.Is(err, integration.ErrInvalidDirection),
		errors.Is(err, integration.ErrInvalidPolicy),
		errors.Is(err, integration.ErrInvalidFrequency),
		errors.Is(err, webhook.ErrNoSecret),
		errors.Is(err, webhook.ErrInvalidPayload),
		errors.Is(err, notify.ErrInvalid),
		errors.Is(err, notify.ErrNotRetryable),
		errors.Is(err, notify.ErrChannelUnsupported),
		errors.Is(err, notify.ErrIntegrationInactive):
		writeBadRequest(w, err.Error())

	default:
		s.logger.Error("request failed", "error", err)
		writeInternalError(w, "internal server error")
	}
}
