package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/care-scheduler/backend/internal/api/middleware"
	"github.com/care-scheduler/backend/internal/schedule"
	"github.com/care-scheduler/backend/internal/storage/models"
)

// CreateOccurrenceRequest is the body of POST /api/occurrences.
type CreateOccurrenceRequest struct {
	ActivityID      string                    `json:"activity_id"`
	GoalID          string                    `json:"goal_id"`
	ClientID        string                    `json:"client_id"`
	AssigneeID      string                    `json:"assignee_id"`
	CreatedBy       string                    `json:"created_by,omitempty"`
	ScheduledDate   string                    `json:"scheduled_date,omitempty"`
	StartTime       time.Time                 `json:"start_time"`
	EndTime         *time.Time                `json:"end_time,omitempty"`
	DurationMinutes int                       `json:"duration_minutes,omitempty"`
	Priority        models.Priority           `json:"priority,omitempty"`
	Notes           *string                   `json:"notes,omitempty"`
	Recurrence      *models.RecurrencePattern `json:"recurrence,omitempty"`
	MaxOccurrences  int                       `json:"max_occurrences,omitempty"`
}

// CreateOccurrence schedules one occurrence, or a series when recurrence is set.
// A single occurrence is returned as an object, a series as an array.
func CreateOccurrence(m *schedule.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateOccurrenceRequest
		if err := decodeBody(r, &req, false); err != nil {
			badRequest(w, "Invalid request body: "+err.Error())
			return
		}

		end, err := resolveEnd(req.StartTime, req.EndTime, req.DurationMinutes)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, err.Error())
			return
		}

		createdBy := req.CreatedBy
		if h := r.Header.Get(UserHeader); h != "" {
			createdBy = h
		}

		created, err := m.Create(r.Context(), schedule.CreateRequest{
			ActivityRef:    models.ActivityRef(req.ActivityID),
			GoalRef:        models.GoalRef(req.GoalID),
			ClientRef:      models.ClientRef(req.ClientID),
			AssigneeRef:    models.AssigneeRef(req.AssigneeID),
			CreatedByRef:   models.UserRef(createdBy),
			ScheduledDate:  req.ScheduledDate,
			StartTime:      req.StartTime,
			EndTime:        end,
			Priority:       req.Priority,
			Notes:          req.Notes,
			Recurrence:     req.Recurrence,
			MaxOccurrences: req.MaxOccurrences,
		})
		if err != nil {
			middleware.WriteScheduleError(w, err)
			return
		}

		if req.Recurrence == nil {
			writeJSON(w, http.StatusCreated, created[0])
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// ListOccurrences returns occurrences matching the query filters.
func ListOccurrences(q *schedule.Query) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()

		statuses, err := parseStatuses(params.Get("status"))
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		priority := models.Priority(params.Get("priority"))
		if priority != "" && !priority.Valid() {
			badRequest(w, "unknown priority "+strconv.Quote(string(priority)))
			return
		}

		f := schedule.ListFilter{
			ActivityRef:      models.ActivityRef(params.Get("activity_id")),
			GoalRef:          models.GoalRef(params.Get("goal_id")),
			ClientRef:        models.ClientRef(params.Get("client_id")),
			AssigneeRef:      models.AssigneeRef(params.Get("assignee_id")),
			SeriesRef:        params.Get("series_id"),
			Statuses:         statuses,
			Priority:         priority,
			IncludeCancelled: parseBool(params.Get("include_cancelled")),
		}
		if v := params.Get("from"); v != "" {
			if f.From, err = parseInstant(q, v); err != nil {
				badRequest(w, "from must be RFC 3339 or YYYY-MM-DD")
				return
			}
		}
		if v := params.Get("to"); v != "" {
			if f.To, err = parseInstant(q, v); err != nil {
				badRequest(w, "to must be RFC 3339 or YYYY-MM-DD")
				return
			}
		}

		list, err := q.List(r.Context(), f)
		if err != nil {
			middleware.WriteScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, occurrenceList(list))
	}
}

// GetOccurrence returns a single occurrence.
func GetOccurrence(m *schedule.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := m.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

// UpdateOccurrenceRequest is the body of PATCH /api/occurrences/{id}.
type UpdateOccurrenceRequest struct {
	ScheduledDate *string          `json:"scheduled_date,omitempty"`
	StartTime     *time.Time       `json:"start_time,omitempty"`
	EndTime       *time.Time       `json:"end_time,omitempty"`
	Priority      *models.Priority `json:"priority,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
	Status        *models.Status   `json:"status,omitempty"`
	CompletionID  *string          `json:"completion_id,omitempty"`
}

// UpdateOccurrence applies a partial update.
func UpdateOccurrence(m *schedule.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateOccurrenceRequest
		if err := decodeBody(r, &req, false); err != nil {
			badRequest(w, "Invalid request body: "+err.Error())
			return
		}

		o, err := m.Update(r.Context(), mux.Vars(r)["id"], schedule.UpdateRequest{
			ScheduledDate: req.ScheduledDate,
			StartTime:     req.StartTime,
			EndTime:       req.EndTime,
			Priority:      req.Priority,
			Notes:         req.Notes,
			Status:        req.Status,
			CompletionRef: req.CompletionID,
		})
		if err != nil {
			middleware.WriteScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

// RescheduleOccurrenceRequest is the body of POST /api/occurrences/{id}/reschedule.
type RescheduleOccurrenceRequest struct {
	ScheduledDate   string     `json:"scheduled_date,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	AssigneeID      string     `json:"assignee_id,omitempty"`
	Reason          *string    `json:"reason,omitempty"`
}

// RescheduleOccurrence retires an occurrence and returns its successor.
func RescheduleOccurrence(m *schedule.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RescheduleOccurrenceRequest
		if err := decodeBody(r, &req, false); err != nil {
			badRequest(w, "Invalid request body: "+err.Error())
			return
		}
		end, err := resolveEnd(req.StartTime, req.EndTime, req.DurationMinutes)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, err.Error())
			return
		}

		next, err := m.Reschedule(r.Context(), schedule.RescheduleRequest{
			OccurrenceID:  mux.Vars(r)["id"],
			ScheduledDate: req.ScheduledDate,
			StartTime:     req.StartTime,
			EndTime:       end,
			AssigneeRef:   models.AssigneeRef(req.AssigneeID),
			Reason:        req.Reason,
			RequestedBy:   models.UserRef(r.Header.Get(UserHeader)),
		})
		if err != nil {
			middleware.WriteScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, next)
	}
}

type cancelRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// CancelOccurrence cancels an occurrence. The body is optional.
func CancelOccurrence(m *schedule.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cancelRequest
		if err := decodeBody(r, &req, true); err != nil {
			badRequest(w, "Invalid request body: "+err.Error())
			return
		}
		o, err := m.Cancel(r.Context(), mux.Vars(r)["id"], req.Reason)
		if err != nil {
			middleware.WriteScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

// StartOccurrence moves a scheduled occurrence to in_progress.
func StartOccurrence(m *schedule.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := m.Start(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

type completeRequest struct {
	CompletionID string `json:"completion_id"`
}

// CompleteOccurrence marks an occurrence completed with its completion record.
func CompleteOccurrence(m *schedule.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req completeRequest
		if err := decodeBody(r, &req, false); err != nil {
			badRequest(w, "Invalid request body: "+err.Error())
			return
		}
		o, err := m.Complete(r.Context(), mux.Vars(r)["id"], req.CompletionID)
		if err != nil {
			middleware.WriteScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

// OccurrenceChain returns the reschedule chain an occurrence belongs to.
func OccurrenceChain(q *schedule.Query) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chain, err := q.Chain(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, occurrenceList(chain))
	}
}
