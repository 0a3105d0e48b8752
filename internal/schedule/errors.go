package schedule

import (
	"errors"
	"fmt"
	"strings"

	"github.com/care-scheduler/backend/internal/storage/models"
)

// Error kinds returned by the engine. Callers match them with errors.Is.
var (
	ErrInvalidTimeRange       = errors.New("end time must be after start time")
	ErrInvalidPattern         = errors.New("invalid recurrence pattern")
	ErrSchedulingConflict     = errors.New("scheduling conflict")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNotFound               = errors.New("occurrence not found")
	ErrInvalidReference       = errors.New("invalid reference")
	ErrInvalidField           = errors.New("invalid field")
)

// ConflictError reports the active occurrences a candidate window collides with.
type ConflictError struct {
	Assignee  models.AssigneeRef
	Window    models.Window
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	ids := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		ids = append(ids, c.OccurrenceID)
	}
	return fmt.Sprintf("scheduling conflict for assignee %s: overlaps %s", e.Assignee, strings.Join(ids, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrSchedulingConflict }

// ConflictingIDs returns the ids of the colliding occurrences.
func (e *ConflictError) ConflictingIDs() []string {
	ids := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		ids = append(ids, c.OccurrenceID)
	}
	return ids
}

// TransitionError reports a disallowed or lost status transition.
type TransitionError struct {
	OccurrenceID string
	From         models.Status
	To           models.Status
	Reason       string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("occurrence %s: cannot move from %s to %s", e.OccurrenceID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func invalidPattern(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPattern, fmt.Sprintf(format, args...))
}
