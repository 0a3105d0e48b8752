// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"github.com/gorilla/mux"

	"github.com/care-scheduler/backend/internal/api/handlers"
	"github.com/care-scheduler/backend/internal/api/middleware"
	"github.com/care-scheduler/backend/internal/calendar"
	"github.com/care-scheduler/backend/internal/schedule"
	"github.com/care-scheduler/backend/internal/storage"
	"github.com/care-scheduler/backend/internal/websocket"
)

// Services bundles what the routes need.
type Services struct {
	DB       *storage.DB
	Hub      *websocket.Hub
	Manager  *schedule.Manager
	Query    *schedule.Query
	Exporter *calendar.Exporter

	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(s Services) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.RateLimit(s.RateLimitRPS, s.RateLimitBurst))

	api.HandleFunc("/health", handlers.HealthCheck(s.DB, s.Hub)).Methods("GET")
	api.HandleFunc("/ws", handlers.WebSocketUpgrade(s.Hub)).Methods("GET")

	// Analytics views are registered before /occurrences/{id} so they win the match.
	api.HandleFunc("/occurrences/today", handlers.TodayOccurrences(s.Query, s.Manager)).Methods("GET")
	api.HandleFunc("/occurrences/upcoming", handlers.UpcomingOccurrences(s.Query, s.Manager)).Methods("GET")
	api.HandleFunc("/occurrences/overdue", handlers.OverdueOccurrences(s.Query, s.Manager)).Methods("GET")
	api.HandleFunc("/occurrences/stats", handlers.OccurrenceStats(s.Query, s.Manager)).Methods("GET")

	// Occurrence endpoints
	api.HandleFunc("/occurrences", handlers.ListOccurrences(s.Query)).Methods("GET")
	api.HandleFunc("/occurrences", handlers.CreateOccurrence(s.Manager)).Methods("POST")
	api.HandleFunc("/occurrences/{id}", handlers.GetOccurrence(s.Manager)).Methods("GET")
	api.HandleFunc("/occurrences/{id}", handlers.UpdateOccurrence(s.Manager)).Methods("PATCH")
	api.HandleFunc("/occurrences/{id}/reschedule", handlers.RescheduleOccurrence(s.Manager)).Methods("POST")
	api.HandleFunc("/occurrences/{id}/cancel", handlers.CancelOccurrence(s.Manager)).Methods("POST")
	api.HandleFunc("/occurrences/{id}/start", handlers.StartOccurrence(s.Manager)).Methods("POST")
	api.HandleFunc("/occurrences/{id}/complete", handlers.CompleteOccurrence(s.Manager)).Methods("POST")
	api.HandleFunc("/occurrences/{id}/chain", handlers.OccurrenceChain(s.Query)).Methods("GET")

	// Per-assignee and per-client views
	api.HandleFunc("/assignees/{id}/occurrences", handlers.AssigneeDay(s.Query, s.Manager)).Methods("GET")
	api.HandleFunc("/assignees/{id}/availability", handlers.AssigneeAvailability(s.Manager)).Methods("GET")
	api.HandleFunc("/assignees/{id}/calendar.ics", handlers.AssigneeCalendar(s.Exporter, s.Query)).Methods("GET")
	api.HandleFunc("/clients/{id}/occurrences", handlers.ClientDay(s.Query, s.Manager)).Methods("GET")

	return r
}
