package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/care-scheduler/backend/internal/api/middleware"
	"github.com/care-scheduler/backend/internal/schedule"
	"github.com/care-scheduler/backend/internal/storage/models"
)

// UserHeader carries the caller identity set by the upstream auth proxy.
const UserHeader = "X-User-ID"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeBody decodes a JSON body into v. An empty body is allowed when
// optional is set.
func decodeBody(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// occurrenceList never encodes as null.
func occurrenceList(list []models.Occurrence) []models.Occurrence {
	if list == nil {
		return []models.Occurrence{}
	}
	return list
}

// resolveEnd returns end, or start plus durationMinutes when end is missing.
func resolveEnd(start time.Time, end *time.Time, durationMinutes int) (time.Time, error) {
	if end != nil {
		return *end, nil
	}
	if durationMinutes > 0 {
		return start.Add(time.Duration(durationMinutes) * time.Minute), nil
	}
	return time.Time{}, errors.New("end_time or duration_minutes is required")
}

// parseInstant accepts RFC 3339 timestamps and bare dates. A bare date
// means the start of that day in the schedule's zone.
func parseInstant(q *schedule.Query, s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	start, _, err := q.DayBounds(s)
	return start, err
}

func parseStatuses(raw string) ([]models.Status, error) {
	if raw == "" {
		return nil, nil
	}
	var out []models.Status
	for _, part := range strings.Split(raw, ",") {
		s := models.Status(strings.TrimSpace(part))
		if !s.Valid() {
			return nil, errors.New("unknown status " + strconv.Quote(string(s)))
		}
		out = append(out, s)
	}
	return out, nil
}

func parseBool(raw string) bool {
	b, _ := strconv.ParseBool(raw)
	return b
}

func badRequest(w http.ResponseWriter, msg string) {
	middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, msg)
}
