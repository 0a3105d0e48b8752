package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/care-scheduler/backend/internal/api/middleware"
	"github.com/care-scheduler/backend/internal/calendar"
	"github.com/care-scheduler/backend/internal/schedule"
	"github.com/care-scheduler/backend/internal/storage/models"
)

// AssigneeCalendar serves an assignee's occurrences as an .ics feed.
// Optional ?from= and ?to= narrow the window.
func AssigneeCalendar(exporter *calendar.Exporter, q *schedule.Query) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assignee := models.AssigneeRef(mux.Vars(r)["id"])
		if err := assignee.Validate(); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, err.Error())
			return
		}

		var from, to time.Time
		var err error
		if v := r.URL.Query().Get("from"); v != "" {
			if from, err = parseInstant(q, v); err != nil {
				badRequest(w, "from must be RFC 3339 or YYYY-MM-DD")
				return
			}
		}
		if v := r.URL.Query().Get("to"); v != "" {
			if to, err = parseInstant(q, v); err != nil {
				badRequest(w, "to must be RFC 3339 or YYYY-MM-DD")
				return
			}
		}

		feed, err := exporter.AssigneeFeed(r.Context(), assignee, from, to)
		if err != nil {
			log.Error().Err(err).Str("assignee_id", string(assignee)).Msg("render calendar feed")
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to render calendar")
			return
		}

		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", `inline; filename="schedule.ics"`)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(feed))
	}
}
