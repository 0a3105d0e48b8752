package schedule

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/care-scheduler/backend/internal/storage"
	"github.com/care-scheduler/backend/internal/storage/models"
)

const (
	defaultUpcomingDays = 7
	maxUpcomingDays     = 366
)

// Query serves read models over the occurrence store. Reads run outside the
// write transactions and may observe slightly stale data.
type Query struct {
	db       *storage.DB
	repo     *storage.OccurrenceRepository
	location *time.Location
}

// NewQuery creates a read model service evaluating calendar days in loc.
func NewQuery(db *storage.DB, repo *storage.OccurrenceRepository, loc *time.Location) *Query {
	if loc == nil {
		loc = time.UTC
	}
	return &Query{db: db, repo: repo, location: loc}
}

// ListFilter selects occurrences for listOccurrences. Cancelled occurrences
// are left out unless IncludeCancelled is set or Statuses names them.
type ListFilter struct {
	ActivityRef      models.ActivityRef
	GoalRef          models.GoalRef
	ClientRef        models.ClientRef
	AssigneeRef      models.AssigneeRef
	SeriesRef        string
	Statuses         []models.Status
	Priority         models.Priority
	From             time.Time // start_time >= From
	To               time.Time // start_time < To
	IncludeCancelled bool
}

// List returns occurrences matching f in ascending start order.
func (q *Query) List(ctx context.Context, f ListFilter) ([]models.Occurrence, error) {
	sf := storage.OccurrenceFilter{
		ActivityRef: f.ActivityRef,
		GoalRef:     f.GoalRef,
		ClientRef:   f.ClientRef,
		AssigneeRef: f.AssigneeRef,
		SeriesRef:   f.SeriesRef,
		Statuses:    f.Statuses,
		Priority:    f.Priority,
		StartFrom:   f.From,
		StartBefore: f.To,
	}
	if !f.IncludeCancelled && !slices.Contains(f.Statuses, models.StatusCancelled) {
		sf.ExcludeStatus = []models.Status{models.StatusCancelled}
	}
	return q.repo.List(ctx, q.db, sf)
}

// DayBounds returns the [start, end) instants of a calendar day.
func (q *Query) DayBounds(date string) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation(models.DateLayout, date, q.location)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidField)
	}
	return day, day.AddDate(0, 0, 1), nil
}

// OnDate returns occurrences whose start falls within the calendar day.
func (q *Query) OnDate(ctx context.Context, date string, includeCancelled bool) ([]models.Occurrence, error) {
	return q.onDate(ctx, date, ListFilter{IncludeCancelled: includeCancelled})
}

// ForAssigneeOnDate is OnDate restricted to one assignee.
func (q *Query) ForAssigneeOnDate(ctx context.Context, assignee models.AssigneeRef, date string, includeCancelled bool) ([]models.Occurrence, error) {
	return q.onDate(ctx, date, ListFilter{AssigneeRef: assignee, IncludeCancelled: includeCancelled})
}

// ForClientOnDate returns a client's occurrences booked on the given scheduled date.
func (q *Query) ForClientOnDate(ctx context.Context, client models.ClientRef, date string, includeCancelled bool) ([]models.Occurrence, error) {
	if _, _, err := q.DayBounds(date); err != nil {
		return nil, err
	}
	sf := storage.OccurrenceFilter{ClientRef: client, ScheduledDate: date}
	if !includeCancelled {
		sf.ExcludeStatus = []models.Status{models.StatusCancelled}
	}
	return q.repo.List(ctx, q.db, sf)
}

func (q *Query) onDate(ctx context.Context, date string, f ListFilter) ([]models.Occurrence, error) {
	start, end, err := q.DayBounds(date)
	if err != nil {
		return nil, err
	}
	f.From, f.To = start, end
	return q.List(ctx, f)
}

// Today returns the occurrences of now's calendar day.
func (q *Query) Today(ctx context.Context, now time.Time) ([]models.Occurrence, error) {
	return q.OnDate(ctx, now.In(q.location).Format(models.DateLayout), false)
}

// Upcoming returns live occurrences starting in [now, now+days).
func (q *Query) Upcoming(ctx context.Context, now time.Time, days int) ([]models.Occurrence, error) {
	if days <= 0 {
		days = defaultUpcomingDays
	}
	if days > maxUpcomingDays {
		days = maxUpcomingDays
	}
	return q.repo.List(ctx, q.db, storage.OccurrenceFilter{
		StartFrom:     now,
		StartBefore:   now.In(q.location).AddDate(0, 0, days),
		ExcludeStatus: []models.Status{models.StatusCancelled, models.StatusRescheduled},
	})
}

// Overdue returns scheduled occurrences whose window ended before now.
func (q *Query) Overdue(ctx context.Context, now time.Time) ([]models.Occurrence, error) {
	return q.OverdueSince(ctx, now, time.Time{})
}

// OverdueSince is Overdue limited to windows that ended at or after since.
// A zero since means no lower bound.
func (q *Query) OverdueSince(ctx context.Context, now, since time.Time) ([]models.Occurrence, error) {
	return q.repo.List(ctx, q.db, storage.OccurrenceFilter{
		Statuses:  []models.Status{models.StatusScheduled},
		EndFrom:   since,
		EndBefore: now,
	})
}

// Stats aggregates occurrence counts for dashboards.
type Stats struct {
	Total      int                     `json:"total"`
	ByStatus   map[models.Status]int   `json:"by_status"`
	ByPriority map[models.Priority]int `json:"by_priority"`
	Overdue    int                     `json:"overdue"`
}

// StatsFilter scopes Stats.
type StatsFilter struct {
	AssigneeRef      models.AssigneeRef
	ClientRef        models.ClientRef
	From             time.Time
	To               time.Time
	IncludeCancelled bool
}

// Stats counts occurrences by status and by priority.
func (q *Query) Stats(ctx context.Context, now time.Time, f StatsFilter) (*Stats, error) {
	sf := storage.OccurrenceFilter{
		AssigneeRef: f.AssigneeRef,
		ClientRef:   f.ClientRef,
		StartFrom:   f.From,
		StartBefore: f.To,
	}
	if !f.IncludeCancelled {
		sf.ExcludeStatus = []models.Status{models.StatusCancelled}
	}

	byStatus, err := q.repo.CountBy(ctx, q.db, "status", sf)
	if err != nil {
		return nil, err
	}
	byPriority, err := q.repo.CountBy(ctx, q.db, "priority", sf)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		ByStatus:   make(map[models.Status]int),
		ByPriority: make(map[models.Priority]int),
	}
	for _, s := range models.AllStatuses {
		if s == models.StatusCancelled && !f.IncludeCancelled {
			continue
		}
		stats.ByStatus[s] = byStatus[string(s)]
		stats.Total += byStatus[string(s)]
	}
	for _, p := range models.AllPriorities {
		stats.ByPriority[p] = byPriority[string(p)]
	}

	sf.Statuses = []models.Status{models.StatusScheduled}
	sf.ExcludeStatus = nil
	sf.EndBefore = now
	overdue, err := q.repo.CountBy(ctx, q.db, "status", sf)
	if err != nil {
		return nil, err
	}
	stats.Overdue = overdue[string(models.StatusScheduled)]

	return stats, nil
}

// Chain returns the reschedule chain containing id, oldest first. The last
// element is the current occurrence of the chain.
func (q *Query) Chain(ctx context.Context, id string) ([]models.Occurrence, error) {
	o, err := q.repo.GetByID(ctx, q.db, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, notFound(id)
	}

	seen := map[string]bool{o.ID: true}
	chain := []models.Occurrence{*o}

	for cur := o; cur.RescheduledFrom != nil; {
		prev, err := q.repo.GetByID(ctx, q.db, *cur.RescheduledFrom)
		if err != nil {
			return nil, err
		}
		if prev == nil || seen[prev.ID] {
			break
		}
		seen[prev.ID] = true
		chain = append(chain, *prev)
		cur = prev
	}
	slices.Reverse(chain)

	for cur := o; ; {
		next, err := q.repo.GetSuccessor(ctx, q.db, cur.ID)
		if err != nil {
			return nil, err
		}
		if next == nil || seen[next.ID] {
			break
		}
		seen[next.ID] = true
		chain = append(chain, *next)
		cur = next
	}

	return chain, nil
}
