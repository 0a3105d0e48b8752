package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/care-scheduler/backend/internal/api/middleware"
	"github.com/care-scheduler/backend/internal/calendar"
	"github.com/care-scheduler/backend/internal/schedule"
	"github.com/care-scheduler/backend/internal/storage"
	"github.com/care-scheduler/backend/internal/storage/models"
	"github.com/care-scheduler/backend/internal/websocket"
)

var testNow = time.Date(2025, 3, 3, 7, 0, 0, 0, time.UTC)

type testServer struct {
	*httptest.Server
}

func newTestServer(t *testing.T, rps float64, burst int) *testServer {
	t.Helper()

	db, err := storage.NewDB(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := websocket.NewHub()
	go hub.Run(ctx)

	clock := func() time.Time { return testNow }
	repo := storage.NewOccurrenceRepository(db)
	manager := schedule.NewManager(db, repo, schedule.Options{
		Location:             time.UTC,
		MaxSeriesOccurrences: 20,
		SeriesHorizon:        90 * 24 * time.Hour,
		Clock:                clock,
		Notifier:             websocket.NewEventBroadcaster(hub),
	})
	query := schedule.NewQuery(db, repo, time.UTC)

	srv := httptest.NewServer(NewRouter(Services{
		DB:             db,
		Hub:            hub,
		Manager:        manager,
		Query:          query,
		Exporter:       calendar.NewExporter(query, clock),
		RateLimitRPS:   rps,
		RateLimitBurst: burst,
	}))
	t.Cleanup(srv.Close)
	return &testServer{srv}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "coordinator-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body bytes.Buffer
		body.ReadFrom(resp.Body)
		t.Fatalf("status = %d, want %d: %s", resp.StatusCode, want, body.String())
	}
}

func hour(h int) string {
	return time.Date(2025, 3, 3, h, 0, 0, 0, time.UTC).Format(time.RFC3339)
}

func createBody(assignee, start, end string) map[string]any {
	return map[string]any{
		"activity_id": "walk",
		"goal_id":     "mobility",
		"client_id":   "client-1",
		"assignee_id": assignee,
		"start_time":  start,
		"end_time":    end,
		"priority":    "high",
	}
}

func TestCreateAndConflict(t *testing.T) {
	s := newTestServer(t, 0, 0)

	resp := s.do(t, "POST", "/api/occurrences", createBody("worker-1", hour(9), hour(10)))
	expectStatus(t, resp, http.StatusCreated)
	first := decode[models.Occurrence](t, resp)
	if first.Status != models.StatusScheduled || first.CreatedByRef != "coordinator-1" || first.ScheduledDate != "2025-03-03" {
		t.Fatalf("unexpected occurrence %+v", first)
	}

	// Touching the boundary is allowed.
	resp = s.do(t, "POST", "/api/occurrences", createBody("worker-1", hour(10), hour(11)))
	expectStatus(t, resp, http.StatusCreated)

	resp = s.do(t, "POST", "/api/occurrences", createBody("worker-1", time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC).Format(time.RFC3339), hour(12)))
	expectStatus(t, resp, http.StatusConflict)
	errResp := decode[struct {
		Error   string                     `json:"error"`
		Details middleware.ConflictDetails `json:"details"`
	}](t, resp)
	if errResp.Error != middleware.ErrSchedulingConflict || len(errResp.Details.ConflictingIDs) != 2 {
		t.Fatalf("unexpected conflict response %+v", errResp)
	}

	resp = s.do(t, "GET", "/api/occurrences/"+first.ID, nil)
	expectStatus(t, resp, http.StatusOK)
}

func TestAssigneeAvailability(t *testing.T) {
	s := newTestServer(t, 0, 0)

	resp := s.do(t, "POST", "/api/occurrences", createBody("worker-1", hour(9), hour(10)))
	expectStatus(t, resp, http.StatusCreated)

	type availability struct {
		Available bool `json:"available"`
	}
	check := func(assignee, start, end string) availability {
		t.Helper()
		resp := s.do(t, "GET", "/api/assignees/"+assignee+"/availability?start="+url.QueryEscape(start)+"&end="+url.QueryEscape(end), nil)
		expectStatus(t, resp, http.StatusOK)
		return decode[availability](t, resp)
	}

	if check("worker-1", hour(9), hour(11)).Available {
		t.Fatal("worker-1 is booked 09:00-10:00")
	}
	if !check("worker-1", hour(10), hour(11)).Available {
		t.Fatal("a touching window should be free")
	}
	if !check("worker-2", hour(9), hour(10)).Available {
		t.Fatal("other assignees are unaffected")
	}

	resp = s.do(t, "GET", "/api/assignees/worker-1/availability?start="+url.QueryEscape(hour(11))+"&end="+url.QueryEscape(hour(10)), nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp = s.do(t, "GET", "/api/assignees/worker-1/availability?start=soon", nil)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestCreateValidation(t *testing.T) {
	s := newTestServer(t, 0, 0)

	resp := s.do(t, "POST", "/api/occurrences", createBody("worker-1", hour(10), hour(9)))
	expectStatus(t, resp, http.StatusBadRequest)

	body := createBody("worker-1", hour(9), hour(10))
	delete(body, "end_time")
	resp = s.do(t, "POST", "/api/occurrences", body)
	expectStatus(t, resp, http.StatusBadRequest)

	body["duration_minutes"] = 45
	resp = s.do(t, "POST", "/api/occurrences", body)
	expectStatus(t, resp, http.StatusCreated)
	o := decode[models.Occurrence](t, resp)
	if o.EndTime.Sub(o.StartTime) != 45*time.Minute {
		t.Fatalf("duration = %v, want 45m", o.EndTime.Sub(o.StartTime))
	}

	body = createBody("", hour(12), hour(13))
	resp = s.do(t, "POST", "/api/occurrences", body)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = s.do(t, "GET", "/api/occurrences/missing", nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestCreateSeriesReturnsArray(t *testing.T) {
	s := newTestServer(t, 0, 0)

	body := createBody("worker-1", hour(9), hour(10))
	body["recurrence"] = map[string]any{
		"frequency":    "weekly",
		"interval":     1,
		"days_of_week": []int{1, 3},
	}
	body["max_occurrences"] = 3

	resp := s.do(t, "POST", "/api/occurrences", body)
	expectStatus(t, resp, http.StatusCreated)
	series := decode[[]models.Occurrence](t, resp)
	if len(series) != 3 {
		t.Fatalf("got %d occurrences, want 3", len(series))
	}
	if series[0].RecurrencePattern == nil || series[1].RecurrencePattern != nil {
		t.Fatal("pattern should live on the first occurrence only")
	}

	resp = s.do(t, "GET", "/api/occurrences?series_id="+series[0].ID, nil)
	expectStatus(t, resp, http.StatusOK)
	if listed := decode[[]models.Occurrence](t, resp); len(listed) != 3 {
		t.Fatalf("series filter returned %d", len(listed))
	}

	body["recurrence"] = map[string]any{"frequency": "weekly", "interval": 1, "days_of_week": []int{2}}
	resp = s.do(t, "POST", "/api/occurrences", body)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestRescheduleCancelAndTransitions(t *testing.T) {
	s := newTestServer(t, 0, 0)

	resp := s.do(t, "POST", "/api/occurrences", createBody("worker-1", hour(9), hour(10)))
	expectStatus(t, resp, http.StatusCreated)
	orig := decode[models.Occurrence](t, resp)

	resp = s.do(t, "POST", "/api/occurrences/"+orig.ID+"/reschedule", map[string]any{
		"start_time":  hour(14),
		"end_time":    hour(15),
		"assignee_id": "worker-2",
		"reason":      "client asked for the afternoon",
	})
	expectStatus(t, resp, http.StatusCreated)
	next := decode[models.Occurrence](t, resp)
	if next.RescheduledFrom == nil || *next.RescheduledFrom != orig.ID || next.AssigneeRef != "worker-2" {
		t.Fatalf("unexpected successor %+v", next)
	}

	// The retired occurrence cannot be rescheduled again.
	resp = s.do(t, "POST", "/api/occurrences/"+orig.ID+"/reschedule", map[string]any{
		"start_time": hour(16),
		"end_time":   hour(17),
	})
	expectStatus(t, resp, http.StatusConflict)
	if e := decode[middleware.ErrorResponse](t, resp); e.Error != middleware.ErrInvalidTransition {
		t.Fatalf("unexpected error %+v", e)
	}

	resp = s.do(t, "GET", "/api/occurrences/"+next.ID+"/chain", nil)
	expectStatus(t, resp, http.StatusOK)
	chain := decode[[]models.Occurrence](t, resp)
	if len(chain) != 2 || chain[0].ID != orig.ID || chain[1].ID != next.ID {
		t.Fatalf("unexpected chain %v", chain)
	}

	resp = s.do(t, "POST", "/api/occurrences/"+next.ID+"/start", nil)
	expectStatus(t, resp, http.StatusOK)

	resp = s.do(t, "POST", "/api/occurrences/"+next.ID+"/complete", map[string]any{})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = s.do(t, "POST", "/api/occurrences/"+next.ID+"/complete", map[string]any{"completion_id": "visit-note-7"})
	expectStatus(t, resp, http.StatusOK)
	done := decode[models.Occurrence](t, resp)
	if done.Status != models.StatusCompleted || done.CompletionRef == nil || *done.CompletionRef != "visit-note-7" {
		t.Fatalf("unexpected completion %+v", done)
	}

	resp = s.do(t, "POST", "/api/occurrences/"+next.ID+"/cancel", nil)
	expectStatus(t, resp, http.StatusConflict)

	// Notes stay editable on terminal occurrences.
	resp = s.do(t, "PATCH", "/api/occurrences/"+next.ID, map[string]any{"notes": "went well"})
	expectStatus(t, resp, http.StatusOK)
	resp = s.do(t, "PATCH", "/api/occurrences/"+next.ID, map[string]any{"priority": "low"})
	expectStatus(t, resp, http.StatusConflict)
}

func TestCancelFreesWindowAndHidesFromList(t *testing.T) {
	s := newTestServer(t, 0, 0)

	resp := s.do(t, "POST", "/api/occurrences", createBody("worker-1", hour(9), hour(10)))
	expectStatus(t, resp, http.StatusCreated)
	o := decode[models.Occurrence](t, resp)

	resp = s.do(t, "POST", "/api/occurrences/"+o.ID+"/cancel", map[string]any{"reason": "client in hospital"})
	expectStatus(t, resp, http.StatusOK)
	cancelled := decode[models.Occurrence](t, resp)
	if cancelled.Status != models.StatusCancelled || cancelled.StatusReason == nil {
		t.Fatalf("unexpected cancel result %+v", cancelled)
	}

	resp = s.do(t, "POST", "/api/occurrences", createBody("worker-1", hour(9), hour(10)))
	expectStatus(t, resp, http.StatusCreated)

	resp = s.do(t, "GET", "/api/occurrences?assignee_id=worker-1", nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[[]models.Occurrence](t, resp); len(list) != 1 {
		t.Fatalf("got %d listed, want 1", len(list))
	}

	resp = s.do(t, "GET", "/api/occurrences?assignee_id=worker-1&include_cancelled=true", nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[[]models.Occurrence](t, resp); len(list) != 2 {
		t.Fatalf("got %d listed with cancelled, want 2", len(list))
	}

	resp = s.do(t, "GET", "/api/occurrences?status=bogus", nil)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestAnalyticsViews(t *testing.T) {
	s := newTestServer(t, 0, 0)

	for _, b := range []map[string]any{
		createBody("worker-1", hour(5), hour(6)), // overdue at 07:00
		createBody("worker-1", hour(9), hour(10)),
		createBody("worker-2", hour(9), hour(10)),
	} {
		expectStatus(t, s.do(t, "POST", "/api/occurrences", b), http.StatusCreated)
	}

	resp := s.do(t, "GET", "/api/occurrences/today", nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[[]models.Occurrence](t, resp); len(list) != 3 {
		t.Fatalf("today returned %d, want 3", len(list))
	}

	resp = s.do(t, "GET", "/api/occurrences/upcoming?days=1", nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[[]models.Occurrence](t, resp); len(list) != 2 {
		t.Fatalf("upcoming returned %d, want 2", len(list))
	}

	resp = s.do(t, "GET", "/api/occurrences/overdue", nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[[]models.Occurrence](t, resp); len(list) != 1 {
		t.Fatalf("overdue returned %d, want 1", len(list))
	}

	resp = s.do(t, "GET", "/api/occurrences/stats?assignee_id=worker-1", nil)
	expectStatus(t, resp, http.StatusOK)
	stats := decode[schedule.Stats](t, resp)
	if stats.Total != 2 || stats.Overdue != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	resp = s.do(t, "GET", "/api/assignees/worker-2/occurrences?date=2025-03-03", nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[[]models.Occurrence](t, resp); len(list) != 1 {
		t.Fatalf("assignee day returned %d, want 1", len(list))
	}

	resp = s.do(t, "GET", "/api/clients/client-1/occurrences?date=2025-03-04", nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[[]models.Occurrence](t, resp); len(list) != 0 {
		t.Fatalf("client day returned %d, want 0", len(list))
	}

	resp = s.do(t, "GET", "/api/clients/client-1/occurrences?date=March", nil)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestCalendarFeed(t *testing.T) {
	s := newTestServer(t, 0, 0)
	expectStatus(t, s.do(t, "POST", "/api/occurrences", createBody("worker-1", hour(9), hour(10))), http.StatusCreated)

	resp := s.do(t, "GET", "/api/assignees/worker-1/calendar.ics", nil)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("content type = %q", ct)
	}
	var body bytes.Buffer
	body.ReadFrom(resp.Body)
	if n := strings.Count(body.String(), "BEGIN:VEVENT"); n != 1 {
		t.Fatalf("got %d events in feed:\n%s", n, body.String())
	}
}

func TestHealthAndRateLimit(t *testing.T) {
	s := newTestServer(t, 1, 2)

	expectStatus(t, s.do(t, "GET", "/api/health", nil), http.StatusOK)
	expectStatus(t, s.do(t, "GET", "/api/health", nil), http.StatusOK)

	resp := s.do(t, "GET", "/api/health", nil)
	expectStatus(t, resp, http.StatusTooManyRequests)
	if e := decode[middleware.ErrorResponse](t, resp); e.Error != middleware.ErrRateLimited {
		t.Fatalf("unexpected error %+v", e)
	}
}
