// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"github.com/care-scheduler/backend/internal/schedule"
)

// ErrorResponse represents a standardized API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteError writes a JSON error response with the given status code.
func WriteError(w http.ResponseWriter, status int, errCode, message string) {
	WriteErrorWithDetails(w, status, errCode, message, nil)
}

// WriteErrorWithDetails writes a JSON error response with additional details.
func WriteErrorWithDetails(w http.ResponseWriter, status int, errCode, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
		Details: details,
	})
}

// ConflictDetails lists the occurrences a rejected window collides with.
type ConflictDetails struct {
	AssigneeID     string   `json:"assignee_id"`
	ConflictingIDs []string `json:"conflicting_ids"`
}

// TransitionDetails describes a rejected status change.
type TransitionDetails struct {
	OccurrenceID string `json:"occurrence_id"`
	From         string `json:"from"`
	To           string `json:"to"`
}

// WriteScheduleError maps an engine error onto a status code and error code.
// Anything it does not recognize is logged and reported as a 500.
func WriteScheduleError(w http.ResponseWriter, err error) {
	var conflict *schedule.ConflictError
	var transition *schedule.TransitionError

	switch {
	case errors.As(err, &conflict):
		WriteErrorWithDetails(w, http.StatusConflict, ErrSchedulingConflict, err.Error(), ConflictDetails{
			AssigneeID:     string(conflict.Assignee),
			ConflictingIDs: conflict.ConflictingIDs(),
		})
	case errors.As(err, &transition):
		WriteErrorWithDetails(w, http.StatusConflict, ErrInvalidTransition, err.Error(), TransitionDetails{
			OccurrenceID: transition.OccurrenceID,
			From:         string(transition.From),
			To:           string(transition.To),
		})
	case errors.Is(err, schedule.ErrNotFound):
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
	case errors.Is(err, schedule.ErrInvalidTimeRange),
		errors.Is(err, schedule.ErrInvalidPattern),
		errors.Is(err, schedule.ErrInvalidReference),
		errors.Is(err, schedule.ErrInvalidField):
		WriteError(w, http.StatusBadRequest, ErrValidation, err.Error())
	default:
		log.Error().Err(err).Msg("unhandled schedule error")
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "An unexpected error occurred")
	}
}

// ErrorRecovery is middleware that recovers from panics and returns a 500 error.
func ErrorRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("panic", err).
					Bytes("stack", debug.Stack()).
					Str("path", r.URL.Path).
					Msg("panic recovered")
				WriteError(w, http.StatusInternalServerError, ErrInternalError, "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Common error codes
const (
	ErrNotFound           = "not_found"
	ErrBadRequest         = "bad_request"
	ErrInternalError      = "internal_error"
	ErrValidation         = "validation_error"
	ErrSchedulingConflict = "scheduling_conflict"
	ErrInvalidTransition  = "invalid_state_transition"
	ErrRateLimited        = "rate_limited"
)
