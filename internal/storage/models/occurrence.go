// Package models contains the domain models for the application.
package models

import (
	"time"
)

// DateLayout is the wire and storage format of a calendar day.
const DateLayout = "2006-01-02"

// Occurrence is one concrete scheduled instance of an activity for a client and assignee.
type Occurrence struct {
	ID                string             `json:"id"`
	ActivityRef       ActivityRef        `json:"activity_id"`
	GoalRef           GoalRef            `json:"goal_id"`
	ClientRef         ClientRef          `json:"client_id"`
	AssigneeRef       AssigneeRef        `json:"assignee_id"`
	CreatedByRef      UserRef            `json:"created_by"`
	ScheduledDate     string             `json:"scheduled_date"`
	StartTime         time.Time          `json:"start_time"`
	EndTime           time.Time          `json:"end_time"`
	Status            Status             `json:"status"`
	Priority          Priority           `json:"priority"`
	Notes             *string            `json:"notes,omitempty"`
	CompletionRef     *string            `json:"completion_id,omitempty"`
	RescheduledFrom   *string            `json:"rescheduled_from,omitempty"`
	SeriesRef         *string            `json:"series_id,omitempty"`
	RecurrencePattern *RecurrencePattern `json:"recurrence_pattern,omitempty"`
	StatusReason      *string            `json:"status_reason,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Window returns the occurrence's half-open time window.
func (o *Occurrence) Window() Window {
	return Window{Start: o.StartTime, End: o.EndTime}
}

// IsActive reports whether the occurrence counts toward the no-overlap invariant.
func (o *Occurrence) IsActive() bool {
	return o.Status.IsActive()
}

// IsOverdue returns true if the occurrence is still scheduled after its window fully elapsed.
func (o *Occurrence) IsOverdue(now time.Time) bool {
	return o.Status == StatusScheduled && o.EndTime.Before(now)
}

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid reports whether End is strictly after Start.
func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Overlaps reports whether two half-open windows intersect.
// Windows that only touch (one ends exactly when the other starts) do not overlap.
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Status is the lifecycle state of an occurrence.
type Status string

// Occurrence status constants
const (
	StatusScheduled   Status = "scheduled"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusRescheduled Status = "rescheduled" // superseded by a successor occurrence
	StatusCancelled   Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusScheduled, StatusInProgress, StatusCompleted, StatusRescheduled, StatusCancelled}

// ActiveStatuses are the statuses subject to the per-assignee no-overlap invariant.
var ActiveStatuses = []Status{StatusScheduled, StatusInProgress, StatusCompleted}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusRescheduled, StatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether s is one of ActiveStatuses.
func (s Status) IsActive() bool {
	return s == StatusScheduled || s == StatusInProgress || s == StatusCompleted
}

// IsTerminal reports whether a record in this status may no longer change its scheduling fields.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRescheduled
}

// Priority ranks occurrences for dashboards.
type Priority string

// Priority constants
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// AllPriorities lists priorities from highest to lowest.
var AllPriorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}
