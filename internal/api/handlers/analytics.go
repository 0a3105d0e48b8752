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

// TodayOccurrences returns occurrences of the current calendar day.
func TodayOccurrences(q *schedule.Query, m *schedule.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := q.Today(r.Context(), m.Now())
		if err != nil {
			middleware.WriteScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, occurrenceList(list))
	}
}

// UpcomingOccurrences returns live occurrences starting within ?days=N (default 7).
func UpcomingOccurrences(q *schedule.Query, m *schedule.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := 0
		if v := r.URL.Query().Get("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				badRequest(w, "days must be a positive integer")
				return
			}
			days = n
		}
		list, err := q.Upcoming(r.Context(), m.Now(), days)
		if err != nil {
			middleware.WriteScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, occurrenceList(list))
	}
}

// OverdueOccurrences returns scheduled occurrences whose window has passed.
func OverdueOccurrences(q *schedule.Query, m *schedule.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := q.Overdue(r.Context(), m.Now())
		if err != nil {
			middleware.WriteScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, occurrenceList(list))
	}
}

// OccurrenceStats returns counts by status and priority.
func OccurrenceStats(q *schedule.Query, m *schedule.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()
		f := schedule.StatsFilter{
			AssigneeRef:      models.AssigneeRef(params.Get("assignee_id")),
			ClientRef:        models.ClientRef(params.Get("client_id")),
			IncludeCancelled: parseBool(params.Get("include_cancelled")),
		}
		var err error
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

		stats, err := q.Stats(r.Context(), m.Now(), f)
		if err != nil {
			middleware.WriteScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// AssigneeDay returns an assignee's occurrences on ?date= (default today).
func AssigneeDay(q *schedule.Query, m *schedule.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := dateParam(r, m)
		include := parseBool(r.URL.Query().Get("include_cancelled"))
		list, err := q.ForAssigneeOnDate(r.Context(), models.AssigneeRef(mux.Vars(r)["id"]), date, include)
		if err != nil {
			middleware.WriteScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, occurrenceList(list))
	}
}

// ClientDay returns a client's occurrences booked on ?date= (default today).
func ClientDay(q *schedule.Query, m *schedule.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := dateParam(r, m)
		include := parseBool(r.URL.Query().Get("include_cancelled"))
		list, err := q.ForClientOnDate(r.Context(), models.ClientRef(mux.Vars(r)["id"]), date, include)
		if err != nil {
			middleware.WriteScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, occurrenceList(list))
	}
}

// AssigneeAvailability reports whether an assignee is free between ?start= and ?end=.
func AssigneeAvailability(m *schedule.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
		if err != nil {
			badRequest(w, "start must be an RFC 3339 timestamp")
			return
		}
		end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
		if err != nil {
			badRequest(w, "end must be an RFC 3339 timestamp")
			return
		}

		assignee := mux.Vars(r)["id"]
		free, err := m.Available(r.Context(), models.AssigneeRef(assignee), models.Window{Start: start, End: end})
		if err != nil {
			middleware.WriteScheduleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"assignee_id": assignee,
			"start_time":  start.UTC(),
			"end_time":    end.UTC(),
			"available":   free,
		})
	}
}

func dateParam(r *http.Request, m *schedule.Manager) string {
	if d := r.URL.Query().Get("date"); d != "" {
		return d
	}
	return m.Now().In(m.Location()).Format(models.DateLayout)
}
