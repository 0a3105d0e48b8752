// Package calendar renders occurrences as iCalendar feeds.
package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/care-scheduler/backend/internal/schedule"
	"github.com/care-scheduler/backend/internal/storage/models"
)

const (
	productID = "-//care-scheduler//occurrences//EN"
	uidDomain = "care-scheduler"

	// Default feed window around now.
	defaultLookBack  = 30 * 24 * time.Hour
	defaultLookAhead = 90 * 24 * time.Hour
)

// feedStatuses are the statuses that appear in a feed. Rescheduled
// occurrences are represented by their successor.
var feedStatuses = []models.Status{
	models.StatusScheduled,
	models.StatusInProgress,
	models.StatusCompleted,
}

// Exporter builds iCalendar feeds from the schedule.
type Exporter struct {
	query *schedule.Query
	now   func() time.Time
}

// NewExporter creates an exporter reading through q.
func NewExporter(q *schedule.Query, now func() time.Time) *Exporter {
	if now == nil {
		now = time.Now
	}
	return &Exporter{query: q, now: now}
}

// AssigneeFeed renders an assignee's occurrences starting in [from, to).
// Zero bounds default to 30 days back and 90 days ahead.
func (e *Exporter) AssigneeFeed(ctx context.Context, assignee models.AssigneeRef, from, to time.Time) (string, error) {
	now := e.now()
	if from.IsZero() {
		from = now.Add(-defaultLookBack)
	}
	if to.IsZero() {
		to = now.Add(defaultLookAhead)
	}

	list, err := e.query.List(ctx, schedule.ListFilter{
		AssigneeRef: assignee,
		Statuses:    feedStatuses,
		From:        from,
		To:          to,
	})
	if err != nil {
		return "", fmt.Errorf("loading occurrences: %w", err)
	}
	return Render(fmt.Sprintf("Schedule for %s", assignee), list, now), nil
}

// Render serializes occurrences as a VCALENDAR with one VEVENT each.
func Render(name string, occurrences []models.Occurrence, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetName(name)

	for _, o := range occurrences {
		event := cal.AddEvent(o.ID + "@" + uidDomain)
		event.SetDtStampTime(stamp.UTC())
		event.SetCreatedTime(o.CreatedAt.UTC())
		event.SetModifiedAt(o.UpdatedAt.UTC())
		event.SetStartAt(o.StartTime.UTC())
		event.SetEndAt(o.EndTime.UTC())
		event.SetSummary(summary(o))
		event.SetDescription(description(o))
		event.SetStatus(eventStatus(o.Status))
		event.SetProperty(ical.ComponentPropertyPriority, icalPriority(o.Priority))
		event.SetProperty(ical.ComponentPropertyCategories, string(o.Status))
	}

	return cal.Serialize()
}

func summary(o models.Occurrence) string {
	return fmt.Sprintf("Activity %s for client %s", o.ActivityRef, o.ClientRef)
}

func description(o models.Occurrence) string {
	lines := []string{
		"Goal: " + string(o.GoalRef),
		"Status: " + string(o.Status),
		"Priority: " + string(o.Priority),
	}
	if o.Notes != nil {
		lines = append(lines, "Notes: "+*o.Notes)
	}
	if o.RescheduledFrom != nil {
		lines = append(lines, "Rescheduled from: "+*o.RescheduledFrom)
	}
	return strings.Join(lines, "\n")
}

// eventStatus maps the statuses a feed carries; see feedStatuses.
func eventStatus(s models.Status) ical.ObjectStatus {
	if s == models.StatusScheduled {
		return ical.ObjectStatusTentative
	}
	return ical.ObjectStatusConfirmed
}

// icalPriority maps onto RFC 5545 PRIORITY: 1 highest, 5 medium, 9 lowest.
func icalPriority(p models.Priority) string {
	switch p {
	case models.PriorityHigh:
		return "1"
	case models.PriorityLow:
		return "9"
	default:
		return "5"
	}
}
