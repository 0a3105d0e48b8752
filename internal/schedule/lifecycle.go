package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/care-scheduler/backend/internal/storage"
	"github.com/care-scheduler/backend/internal/storage/models"
)

// transitions lists the statuses reachable from each non-terminal status.
var transitions = map[models.Status][]models.Status{
	models.StatusScheduled: {
		models.StatusInProgress, models.StatusCompleted, models.StatusCancelled, models.StatusRescheduled,
	},
	models.StatusInProgress: {
		models.StatusCompleted, models.StatusCancelled, models.StatusRescheduled,
	},
}

// CanTransition reports whether an occurrence may move from one status to another.
func CanTransition(from, to models.Status) bool {
	return slices.Contains(transitions[from], to)
}

// Options configures a Manager.
type Options struct {
	// Location is the zone calendar days and recurrence rules are evaluated in.
	Location *time.Location
	// MaxSeriesOccurrences caps one recurrence expansion.
	MaxSeriesOccurrences int
	// SeriesHorizon bounds how far past its first occurrence a series may reach.
	SeriesHorizon time.Duration
	Clock         func() time.Time
	Notifier      Notifier
}

// Manager owns every write to the schedule. Each public operation runs its
// conflict check and writes in one transaction.
type Manager struct {
	db       *storage.DB
	repo     *storage.OccurrenceRepository
	checker  *ConflictChecker
	expander *Expander
	notifier Notifier
	now      func() time.Time

	maxSeries int
	horizon   time.Duration
}

// NewManager creates a lifecycle manager over the occurrence store.
func NewManager(db *storage.DB, repo *storage.OccurrenceRepository, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.MaxSeriesOccurrences <= 0 {
		opts.MaxSeriesOccurrences = defaultMaxOccurrences
	}
	repo.SetClock(opts.Clock)

	return &Manager{
		db:        db,
		repo:      repo,
		checker:   NewConflictChecker(repo.FindOverlapping),
		expander:  NewExpander(opts.Location),
		notifier:  opts.Notifier,
		now:       opts.Clock,
		maxSeries: opts.MaxSeriesOccurrences,
		horizon:   opts.SeriesHorizon,
	}
}

// Location returns the zone the manager evaluates calendar days in.
func (m *Manager) Location() *time.Location {
	return m.expander.Location()
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

// CreateRequest describes one manual occurrence or the first member of a series.
type CreateRequest struct {
	ActivityRef   models.ActivityRef
	GoalRef       models.GoalRef
	ClientRef     models.ClientRef
	AssigneeRef   models.AssigneeRef
	CreatedByRef  models.UserRef
	ScheduledDate string // defaults to the start's calendar day
	StartTime     time.Time
	EndTime       time.Time
	Priority      models.Priority // defaults to medium
	Notes         *string
	Recurrence    *models.RecurrencePattern
	// MaxOccurrences lowers the configured series cap for this request.
	MaxOccurrences int
}

func (r CreateRequest) validateRefs() error {
	for _, err := range []error{
		r.ActivityRef.Validate(),
		r.GoalRef.Validate(),
		r.ClientRef.Validate(),
		r.AssigneeRef.Validate(),
		r.CreatedByRef.Validate(),
	} {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidReference, err)
		}
	}
	return nil
}

// Create schedules a single occurrence, or a whole series when a recurrence
// pattern is given. A series is stored all-or-nothing: if any member collides
// with an existing occurrence (or another member), nothing is written.
func (m *Manager) Create(ctx context.Context, req CreateRequest) ([]models.Occurrence, error) {
	if err := req.validateRefs(); err != nil {
		return nil, err
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, fmt.Errorf("%w: priority %q", ErrInvalidField, req.Priority)
	}

	anchor := models.Window{
		Start: req.StartTime.Truncate(time.Second),
		End:   req.EndTime.Truncate(time.Second),
	}
	if !anchor.Valid() {
		return nil, ErrInvalidTimeRange
	}

	anchorDate, err := m.scheduledDate(req.ScheduledDate, anchor.Start)
	if err != nil {
		return nil, err
	}

	windows := []models.Window{anchor}
	if req.Recurrence != nil {
		windows, err = m.expandSeries(*req.Recurrence, anchor, req.MaxOccurrences)
		if err != nil {
			return nil, err
		}
	}

	notes := normalizeNotes(req.Notes)
	originID := storage.GenerateID()
	created := make([]models.Occurrence, 0, len(windows))

	err = m.db.Transaction(ctx, func(tx *sql.Tx) error {
		for i, w := range windows {
			// Earlier members are already inserted in tx, so members are
			// checked against each other as well.
			if err := m.checker.Ensure(ctx, tx, req.AssigneeRef, w, ""); err != nil {
				return err
			}

			o := models.Occurrence{
				ActivityRef:   req.ActivityRef,
				GoalRef:       req.GoalRef,
				ClientRef:     req.ClientRef,
				AssigneeRef:   req.AssigneeRef,
				CreatedByRef:  req.CreatedByRef,
				ScheduledDate: w.Start.In(m.Location()).Format(models.DateLayout),
				StartTime:     w.Start.UTC(),
				EndTime:       w.End.UTC(),
				Status:        models.StatusScheduled,
				Priority:      req.Priority,
				Notes:         notes,
			}
			if i == 0 {
				o.ID = originID
				o.ScheduledDate = anchorDate
			}
			if req.Recurrence != nil {
				series := originID
				o.SeriesRef = &series
				if i == 0 {
					p := *req.Recurrence
					o.RecurrencePattern = &p
				}
			}

			if err := m.repo.Insert(ctx, tx, &o); err != nil {
				return err
			}
			created = append(created, o)
		}
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Str("assignee_id", string(req.AssigneeRef)).Msg("create rejected")
		return nil, err
	}

	log.Info().
		Str("occurrence_id", created[0].ID).
		Str("assignee_id", string(req.AssigneeRef)).
		Int("count", len(created)).
		Msg("occurrences scheduled")
	m.notifier.OccurrencesCreated(created)

	return created, nil
}

func (m *Manager) expandSeries(p models.RecurrencePattern, anchor models.Window, requested int) ([]models.Window, error) {
	limit := ExpandLimit{MaxCount: m.maxSeries}
	if requested > 0 && requested < limit.MaxCount {
		limit.MaxCount = requested
	}
	if m.horizon > 0 {
		limit.Horizon = anchor.Start.Add(m.horizon)
	}

	series, err := m.expander.Expand(p, anchor, limit)
	if err != nil {
		return nil, err
	}
	windows := series.Windows()
	if len(windows) == 0 {
		return nil, invalidPattern("pattern produces no occurrences")
	}
	return windows, nil
}

// RescheduleRequest moves an occurrence to a new window and optionally a new assignee.
type RescheduleRequest struct {
	OccurrenceID  string
	ScheduledDate string
	StartTime     time.Time
	EndTime       time.Time
	AssigneeRef   models.AssigneeRef // empty keeps the current assignee
	Reason        *string
	RequestedBy   models.UserRef // empty keeps the original creator
}

// Reschedule retires the occurrence as rescheduled and creates its successor
// in one transaction. The successor carries activity, goal, client, priority
// and notes forward and points back through RescheduledFrom.
func (m *Manager) Reschedule(ctx context.Context, req RescheduleRequest) (*models.Occurrence, error) {
	w := models.Window{
		Start: req.StartTime.Truncate(time.Second),
		End:   req.EndTime.Truncate(time.Second),
	}
	if !w.Valid() {
		return nil, ErrInvalidTimeRange
	}
	if req.AssigneeRef != "" {
		if err := req.AssigneeRef.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
		}
	}
	if req.RequestedBy != "" {
		if err := req.RequestedBy.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
		}
	}
	date, err := m.scheduledDate(req.ScheduledDate, w.Start)
	if err != nil {
		return nil, err
	}

	var previous, replacement models.Occurrence

	err = m.db.Transaction(ctx, func(tx *sql.Tx) error {
		old, err := m.repo.GetByID(ctx, tx, req.OccurrenceID)
		if err != nil {
			return err
		}
		if old == nil {
			return notFound(req.OccurrenceID)
		}
		if !CanTransition(old.Status, models.StatusRescheduled) {
			return &TransitionError{OccurrenceID: old.ID, From: old.Status, To: models.StatusRescheduled}
		}

		assignee := old.AssigneeRef
		if req.AssigneeRef != "" {
			assignee = req.AssigneeRef
		}
		if err := m.checker.Ensure(ctx, tx, assignee, w, old.ID); err != nil {
			return err
		}

		from := old.Status
		retired := *old
		retired.Status = models.StatusRescheduled
		retired.StatusReason = normalizeNotes(req.Reason)
		if err := m.repo.Update(ctx, tx, &retired, from); err != nil {
			return m.staleAsTransition(err, old, models.StatusRescheduled)
		}

		creator := old.CreatedByRef
		if req.RequestedBy != "" {
			creator = req.RequestedBy
		}
		oldID := old.ID
		next := models.Occurrence{
			ActivityRef:     old.ActivityRef,
			GoalRef:         old.GoalRef,
			ClientRef:       old.ClientRef,
			AssigneeRef:     assignee,
			CreatedByRef:    creator,
			ScheduledDate:   date,
			StartTime:       w.Start.UTC(),
			EndTime:         w.End.UTC(),
			Status:          models.StatusScheduled,
			Priority:        old.Priority,
			Notes:           old.Notes,
			RescheduledFrom: &oldID,
			SeriesRef:       old.SeriesRef,
		}
		if err := m.repo.Insert(ctx, tx, &next); err != nil {
			return err
		}

		previous, replacement = retired, next
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Str("occurrence_id", req.OccurrenceID).Msg("reschedule rejected")
		return nil, err
	}

	log.Info().
		Str("occurrence_id", previous.ID).
		Str("replacement_id", replacement.ID).
		Msg("occurrence rescheduled")
	m.notifier.OccurrenceRescheduled(previous, replacement)

	return &replacement, nil
}

// Cancel moves a scheduled or in-progress occurrence to cancelled. The record is kept.
func (m *Manager) Cancel(ctx context.Context, id string, reason *string) (*models.Occurrence, error) {
	return m.transition(ctx, id, models.StatusCancelled, func(o *models.Occurrence) error {
		o.StatusReason = normalizeNotes(reason)
		return nil
	})
}

// Start marks a scheduled occurrence as in progress.
func (m *Manager) Start(ctx context.Context, id string) (*models.Occurrence, error) {
	return m.transition(ctx, id, models.StatusInProgress, nil)
}

// Complete marks an occurrence completed and attaches the completion record
// produced by the external completion recorder.
func (m *Manager) Complete(ctx context.Context, id, completionRef string) (*models.Occurrence, error) {
	if strings.TrimSpace(completionRef) == "" {
		return nil, fmt.Errorf("%w: completion_id is required to complete an occurrence", ErrInvalidField)
	}
	return m.transition(ctx, id, models.StatusCompleted, func(o *models.Occurrence) error {
		o.CompletionRef = &completionRef
		return nil
	})
}

func (m *Manager) transition(ctx context.Context, id string, to models.Status, mutate func(*models.Occurrence) error) (*models.Occurrence, error) {
	var updated models.Occurrence
	var from models.Status

	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		o, err := m.repo.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if o == nil {
			return notFound(id)
		}
		if !CanTransition(o.Status, to) {
			return &TransitionError{OccurrenceID: id, From: o.Status, To: to}
		}

		from = o.Status
		next := *o
		next.Status = to
		if mutate != nil {
			if err := mutate(&next); err != nil {
				return err
			}
		}
		if err := m.repo.Update(ctx, tx, &next, from); err != nil {
			return m.staleAsTransition(err, o, to)
		}
		updated = next
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Str("occurrence_id", id).Str("to", string(to)).Msg("transition rejected")
		return nil, err
	}

	log.Info().
		Str("occurrence_id", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("occurrence status changed")
	m.notifier.OccurrenceStatusChanged(updated, from)

	return &updated, nil
}

// UpdateRequest carries a partial update. Nil fields are left unchanged.
type UpdateRequest struct {
	ScheduledDate *string
	StartTime     *time.Time
	EndTime       *time.Time
	Priority      *models.Priority
	Notes         *string
	Status        *models.Status
	CompletionRef *string
}

func (r UpdateRequest) touchesSchedule() bool {
	return r.ScheduledDate != nil || r.StartTime != nil || r.EndTime != nil || r.Priority != nil
}

// Update applies a partial update. Once an occurrence is completed, cancelled
// or rescheduled only its notes (and, when completed, its completion
// reference) may change. Moving an occurrence to a new window in place is
// conflict-checked like a create; moving it to rescheduled requires Reschedule.
func (m *Manager) Update(ctx context.Context, id string, req UpdateRequest) (*models.Occurrence, error) {
	var updated models.Occurrence
	var from models.Status

	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		o, err := m.repo.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if o == nil {
			return notFound(id)
		}
		from = o.Status
		next := *o

		statusChange := req.Status != nil && *req.Status != o.Status

		if o.Status.IsTerminal() {
			if req.touchesSchedule() || statusChange {
				to := o.Status
				if statusChange {
					to = *req.Status
				}
				return &TransitionError{OccurrenceID: id, From: o.Status, To: to, Reason: "occurrence is final"}
			}
			if req.CompletionRef != nil && o.Status != models.StatusCompleted {
				return &TransitionError{OccurrenceID: id, From: o.Status, To: o.Status, Reason: "only completed occurrences carry a completion reference"}
			}
		}

		if req.Notes != nil {
			next.Notes = normalizeNotes(req.Notes)
		}
		if req.CompletionRef != nil {
			next.CompletionRef = normalizeNotes(req.CompletionRef)
		}
		if req.Priority != nil {
			if !req.Priority.Valid() {
				return fmt.Errorf("%w: priority %q", ErrInvalidField, *req.Priority)
			}
			next.Priority = *req.Priority
		}

		if statusChange {
			to := *req.Status
			if !to.Valid() {
				return fmt.Errorf("%w: status %q", ErrInvalidField, to)
			}
			if to == models.StatusRescheduled {
				return &TransitionError{OccurrenceID: id, From: o.Status, To: to, Reason: "use reschedule to replace an occurrence"}
			}
			if !CanTransition(o.Status, to) {
				return &TransitionError{OccurrenceID: id, From: o.Status, To: to}
			}
			next.Status = to
		}
		if next.Status == models.StatusCompleted && next.CompletionRef == nil {
			return fmt.Errorf("%w: completion_id is required to complete an occurrence", ErrInvalidField)
		}
		if next.CompletionRef != nil && next.Status != models.StatusCompleted {
			return fmt.Errorf("%w: completion_id is only set on completed occurrences", ErrInvalidField)
		}

		if req.StartTime != nil {
			next.StartTime = req.StartTime.Truncate(time.Second).UTC()
		}
		if req.EndTime != nil {
			next.EndTime = req.EndTime.Truncate(time.Second).UTC()
		}
		if !next.Window().Valid() {
			return ErrInvalidTimeRange
		}
		if req.ScheduledDate != nil || req.StartTime != nil {
			// Without an explicit date the day follows the new start.
			explicit := ""
			if req.ScheduledDate != nil {
				explicit = *req.ScheduledDate
			}
			date, err := m.scheduledDate(explicit, next.StartTime)
			if err != nil {
				return err
			}
			next.ScheduledDate = date
		}

		moved := !next.StartTime.Equal(o.StartTime) || !next.EndTime.Equal(o.EndTime)
		if moved && next.Status.IsActive() {
			if err := m.checker.Ensure(ctx, tx, next.AssigneeRef, next.Window(), id); err != nil {
				return err
			}
		}

		if err := m.repo.Update(ctx, tx, &next, from); err != nil {
			return m.staleAsTransition(err, o, next.Status)
		}
		updated = next
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Str("occurrence_id", id).Msg("update rejected")
		return nil, err
	}

	if updated.Status != from {
		log.Info().
			Str("occurrence_id", id).
			Str("from", string(from)).
			Str("to", string(updated.Status)).
			Msg("occurrence status changed")
		m.notifier.OccurrenceStatusChanged(updated, from)
	}

	return &updated, nil
}

// Get returns one occurrence.
func (m *Manager) Get(ctx context.Context, id string) (*models.Occurrence, error) {
	o, err := m.repo.GetByID(ctx, m.db, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, notFound(id)
	}
	return o, nil
}

// Available reports whether assignee is free for w. It is advisory: a later
// write still runs its own check.
func (m *Manager) Available(ctx context.Context, assignee models.AssigneeRef, w models.Window) (bool, error) {
	if assignee == "" {
		return false, fmt.Errorf("%w: assignee_id is required", ErrInvalidField)
	}
	if !w.Valid() {
		return false, ErrInvalidTimeRange
	}
	busy, err := m.checker.HasConflict(ctx, m.db, assignee, w, "")
	if err != nil {
		return false, err
	}
	return !busy, nil
}

// scheduledDate validates an explicit date or derives one from start.
func (m *Manager) scheduledDate(explicit string, start time.Time) (string, error) {
	if explicit == "" {
		return start.In(m.Location()).Format(models.DateLayout), nil
	}
	if _, err := time.Parse(models.DateLayout, explicit); err != nil {
		return "", fmt.Errorf("%w: scheduled_date must be YYYY-MM-DD", ErrInvalidField)
	}
	return explicit, nil
}

func (m *Manager) staleAsTransition(err error, o *models.Occurrence, to models.Status) error {
	if errors.Is(err, storage.ErrStaleWrite) {
		return &TransitionError{OccurrenceID: o.ID, From: o.Status, To: to, Reason: "status changed concurrently"}
	}
	return err
}

func normalizeNotes(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
