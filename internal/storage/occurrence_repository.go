package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/care-scheduler/backend/internal/storage/models"
)

// ErrStaleWrite is returned when a conditional update matched no row because
// the occurrence's status changed after it was read.
var ErrStaleWrite = errors.New("occurrence was modified concurrently")

const occurrenceColumns = `id, activity_id, goal_id, client_id, assignee_id, created_by, scheduled_date,
	start_at, end_at, status, priority, notes, completion_id, rescheduled_from, series_id,
	recurrence_pattern, status_reason, created_at, updated_at`

// OccurrenceRepository provides data access for schedule occurrences.
type OccurrenceRepository struct {
	BaseRepository
}

// NewOccurrenceRepository creates a new occurrence repository.
func NewOccurrenceRepository(db *DB) *OccurrenceRepository {
	return &OccurrenceRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// OccurrenceFilter narrows List and Count queries. Zero fields are ignored.
type OccurrenceFilter struct {
	ActivityRef   models.ActivityRef
	GoalRef       models.GoalRef
	ClientRef     models.ClientRef
	AssigneeRef   models.AssigneeRef
	SeriesRef     string
	Statuses      []models.Status
	ExcludeStatus []models.Status
	Priority      models.Priority
	ScheduledDate string
	StartFrom     time.Time // start_time >= StartFrom
	StartBefore   time.Time // start_time < StartBefore
	EndFrom       time.Time // end_time >= EndFrom
	EndBefore     time.Time // end_time < EndBefore
}

func (f OccurrenceFilter) where() (string, []any) {
	clauses := []string{"1=1"}
	var args []any

	add := func(clause string, arg any) {
		clauses = append(clauses, clause)
		args = append(args, arg)
	}

	if f.ActivityRef != "" {
		add("activity_id = ?", string(f.ActivityRef))
	}
	if f.GoalRef != "" {
		add("goal_id = ?", string(f.GoalRef))
	}
	if f.ClientRef != "" {
		add("client_id = ?", string(f.ClientRef))
	}
	if f.AssigneeRef != "" {
		add("assignee_id = ?", string(f.AssigneeRef))
	}
	if f.SeriesRef != "" {
		add("series_id = ?", f.SeriesRef)
	}
	if f.Priority != "" {
		add("priority = ?", string(f.Priority))
	}
	if f.ScheduledDate != "" {
		add("scheduled_date = ?", f.ScheduledDate)
	}
	if !f.StartFrom.IsZero() {
		add("start_at >= ?", unixCeil(f.StartFrom))
	}
	if !f.StartBefore.IsZero() {
		add("start_at < ?", unixCeil(f.StartBefore))
	}
	if !f.EndFrom.IsZero() {
		add("end_at >= ?", unixCeil(f.EndFrom))
	}
	if !f.EndBefore.IsZero() {
		add("end_at < ?", unixCeil(f.EndBefore))
	}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if len(f.ExcludeStatus) > 0 {
		clauses = append(clauses, "status NOT IN ("+placeholders(len(f.ExcludeStatus))+")")
		for _, s := range f.ExcludeStatus {
			args = append(args, string(s))
		}
	}

	return strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Insert stores a new occurrence. An empty ID is filled in.
func (r *OccurrenceRepository) Insert(ctx context.Context, q Queryable, o *models.Occurrence) error {
	if o.ID == "" {
		o.ID = GenerateID()
	}
	o.CreatedAt = r.Now()
	o.UpdatedAt = o.CreatedAt

	_, err := q.ExecContext(ctx, `
		INSERT INTO occurrences (`+occurrenceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, string(o.ActivityRef), string(o.GoalRef), string(o.ClientRef), string(o.AssigneeRef),
		string(o.CreatedByRef), o.ScheduledDate, o.StartTime.Unix(), o.EndTime.Unix(),
		string(o.Status), string(o.Priority), o.Notes, o.CompletionRef, o.RescheduledFrom, o.SeriesRef,
		o.RecurrencePattern, o.StatusReason, o.CreatedAt.Unix(), o.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("inserting occurrence: %w", err)
	}

	return nil
}

// GetByID retrieves an occurrence by its ID. It returns nil, nil when absent.
func (r *OccurrenceRepository) GetByID(ctx context.Context, q Queryable, id string) (*models.Occurrence, error) {
	row := q.QueryRowContext(ctx, `SELECT `+occurrenceColumns+` FROM occurrences WHERE id = ?`, id)

	o, err := scanOccurrence(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying occurrence: %w", err)
	}

	return o, nil
}

// GetSuccessor returns the occurrence that replaced id, or nil.
func (r *OccurrenceRepository) GetSuccessor(ctx context.Context, q Queryable, id string) (*models.Occurrence, error) {
	row := q.QueryRowContext(ctx, `SELECT `+occurrenceColumns+` FROM occurrences WHERE rescheduled_from = ?`, id)

	o, err := scanOccurrence(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying successor occurrence: %w", err)
	}

	return o, nil
}

// FindOverlapping returns active occurrences of the assignee whose window
// intersects w. excludeID, when set, is skipped.
func (r *OccurrenceRepository) FindOverlapping(ctx context.Context, q Queryable, assignee models.AssigneeRef, w models.Window, excludeID string) ([]models.Occurrence, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+occurrenceColumns+`
		FROM occurrences
		WHERE assignee_id = ?
		  AND id != ?
		  AND start_at < ?
		  AND end_at > ?
		  AND status IN ('scheduled', 'in_progress', 'completed')
		ORDER BY start_at
	`, string(assignee), excludeID, unixCeil(w.End), w.Start.Unix())
	if err != nil {
		return nil, fmt.Errorf("querying overlapping occurrences: %w", err)
	}
	defer rows.Close()

	return scanOccurrences(rows)
}

// List returns occurrences matching the filter, ordered by start time.
func (r *OccurrenceRepository) List(ctx context.Context, q Queryable, f OccurrenceFilter) ([]models.Occurrence, error) {
	where, args := f.where()

	rows, err := q.QueryContext(ctx, `
		SELECT `+occurrenceColumns+`
		FROM occurrences
		WHERE `+where+`
		ORDER BY start_at, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying occurrences: %w", err)
	}
	defer rows.Close()

	return scanOccurrences(rows)
}

// CountBy groups occurrences matching the filter by column ("status" or "priority").
func (r *OccurrenceRepository) CountBy(ctx context.Context, q Queryable, column string, f OccurrenceFilter) (map[string]int, error) {
	if column != "status" && column != "priority" {
		return nil, fmt.Errorf("unsupported grouping column %q", column)
	}
	where, args := f.where()

	rows, err := q.QueryContext(ctx, `
		SELECT `+column+`, COUNT(*) FROM occurrences WHERE `+where+` GROUP BY `+column, args...)
	if err != nil {
		return nil, fmt.Errorf("counting occurrences by %s: %w", column, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scanning %s count: %w", column, err)
		}
		counts[key] = n
	}

	return counts, rows.Err()
}

// Update writes every mutable field of o, provided the stored status still
// equals expected. A mismatch yields ErrStaleWrite.
func (r *OccurrenceRepository) Update(ctx context.Context, q Queryable, o *models.Occurrence, expected models.Status) error {
	o.UpdatedAt = r.Now()

	result, err := q.ExecContext(ctx, `
		UPDATE occurrences SET
			assignee_id = ?, scheduled_date = ?, start_at = ?, end_at = ?, status = ?, priority = ?,
			notes = ?, completion_id = ?, status_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`,
		string(o.AssigneeRef), o.ScheduledDate, o.StartTime.Unix(), o.EndTime.Unix(),
		string(o.Status), string(o.Priority), o.Notes, o.CompletionRef, o.StatusReason,
		o.UpdatedAt.Unix(), o.ID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("updating occurrence: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating occurrence: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("occurrence %s: %w", o.ID, ErrStaleWrite)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOccurrence(row rowScanner) (*models.Occurrence, error) {
	var (
		o                                    models.Occurrence
		activity, goal, client, assignee, by string
		status, priority                     string
		startAt, endAt, createdAt, updatedAt int64
		notes, completion, from, series      sql.NullString
		pattern, reason                      sql.NullString
	)

	if err := row.Scan(
		&o.ID, &activity, &goal, &client, &assignee, &by, &o.ScheduledDate,
		&startAt, &endAt, &status, &priority, &notes, &completion, &from, &series,
		&pattern, &reason, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	o.ActivityRef = models.ActivityRef(activity)
	o.GoalRef = models.GoalRef(goal)
	o.ClientRef = models.ClientRef(client)
	o.AssigneeRef = models.AssigneeRef(assignee)
	o.CreatedByRef = models.UserRef(by)
	o.Status = models.Status(status)
	o.Priority = models.Priority(priority)
	o.StartTime = fromUnix(startAt)
	o.EndTime = fromUnix(endAt)
	o.CreatedAt = fromUnix(createdAt)
	o.UpdatedAt = fromUnix(updatedAt)
	o.Notes = nullable(notes)
	o.CompletionRef = nullable(completion)
	o.RescheduledFrom = nullable(from)
	o.SeriesRef = nullable(series)
	o.StatusReason = nullable(reason)

	p, err := models.ParseRecurrencePattern(pattern.String)
	if err != nil {
		return nil, err
	}
	o.RecurrencePattern = p

	return &o, nil
}

func scanOccurrences(rows *sql.Rows) ([]models.Occurrence, error) {
	var out []models.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning occurrence: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// Instants are stored as whole Unix seconds, which cover every year a
// time.Time can parse from JSON.
func fromUnix(n int64) time.Time {
	return time.Unix(n, 0).UTC()
}

// unixCeil rounds t up to a whole second. Stored values are whole seconds,
// so "col < t" and "col >= t" are exact against the rounded bound.
func unixCeil(t time.Time) int64 {
	s := t.Unix()
	if t.Nanosecond() > 0 {
		s++
	}
	return s
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
