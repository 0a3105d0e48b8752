package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/care-scheduler/backend/internal/storage/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return db
}

func testOccurrence(assignee string, start time.Time, d time.Duration) *models.Occurrence {
	return &models.Occurrence{
		ActivityRef:   "act-1",
		GoalRef:       "goal-1",
		ClientRef:     "client-1",
		AssigneeRef:   models.AssigneeRef(assignee),
		CreatedByRef:  "user-1",
		ScheduledDate: start.Format(models.DateLayout),
		StartTime:     start,
		EndTime:       start.Add(d),
		Status:        models.StatusScheduled,
		Priority:      models.PriorityMedium,
	}
}

func TestOccurrenceRepositoryRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewOccurrenceRepository(db)
	ctx := context.Background()

	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	o := testOccurrence("w-1", start, time.Hour)
	notes := "bring forms"
	o.Notes = &notes
	o.RecurrencePattern = &models.RecurrencePattern{Frequency: models.FrequencyWeekly, Interval: 1, DaysOfWeek: []int{1, 3}}

	if err := repo.Insert(ctx, db, o); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if o.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := repo.GetByID(ctx, db, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected occurrence")
	}
	if !got.StartTime.Equal(start) || !got.EndTime.Equal(start.Add(time.Hour)) {
		t.Fatalf("window mismatch: %v-%v", got.StartTime, got.EndTime)
	}
	if got.Notes == nil || *got.Notes != notes {
		t.Fatalf("notes = %v", got.Notes)
	}
	if got.RecurrencePattern == nil || len(got.RecurrencePattern.DaysOfWeek) != 2 {
		t.Fatalf("pattern = %+v", got.RecurrencePattern)
	}
	if got.CompletionRef != nil || got.RescheduledFrom != nil {
		t.Fatal("expected nil optional refs")
	}

	missing, err := repo.GetByID(ctx, db, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing id, got %v, %v", missing, err)
	}
}

func TestFindOverlappingUsesHalfOpenWindows(t *testing.T) {
	db := openTestDB(t)
	repo := NewOccurrenceRepository(db)
	ctx := context.Background()

	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	existing := testOccurrence("w-1", start, time.Hour)
	if err := repo.Insert(ctx, db, existing); err != nil {
		t.Fatalf("insert: %v", err)
	}
	cancelled := testOccurrence("w-1", start.Add(2*time.Hour), time.Hour)
	cancelled.Status = models.StatusCancelled
	if err := repo.Insert(ctx, db, cancelled); err != nil {
		t.Fatalf("insert: %v", err)
	}

	tests := []struct {
		name    string
		window  models.Window
		exclude string
		want    int
	}{
		{"overlap", models.Window{Start: start.Add(30 * time.Minute), End: start.Add(90 * time.Minute)}, "", 1},
		{"touching after", models.Window{Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)}, "", 0},
		{"touching before", models.Window{Start: start.Add(-time.Hour), End: start}, "", 0},
		{"excluded self", models.Window{Start: start, End: start.Add(time.Hour)}, existing.ID, 0},
		{"cancelled ignored", models.Window{Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)}, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.FindOverlapping(ctx, db, "w-1", tt.window, tt.exclude)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("got %d overlaps, want %d", len(got), tt.want)
			}
		})
	}

	other, err := repo.FindOverlapping(ctx, db, "w-2", existing.Window(), "")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("other assignee should not conflict, got %d", len(other))
	}
}

func TestUpdateRejectsStaleStatus(t *testing.T) {
	db := openTestDB(t)
	repo := NewOccurrenceRepository(db)
	ctx := context.Background()

	o := testOccurrence("w-1", time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC), time.Hour)
	if err := repo.Insert(ctx, db, o); err != nil {
		t.Fatalf("insert: %v", err)
	}

	o.Status = models.StatusCancelled
	if err := repo.Update(ctx, db, o, models.StatusScheduled); err != nil {
		t.Fatalf("first update: %v", err)
	}

	o.Status = models.StatusRescheduled
	err := repo.Update(ctx, db, o, models.StatusScheduled)
	if !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}
}

func TestListAndCountFilters(t *testing.T) {
	db := openTestDB(t)
	repo := NewOccurrenceRepository(db)
	ctx := context.Background()

	base := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	for i, status := range []models.Status{models.StatusScheduled, models.StatusCancelled, models.StatusCompleted} {
		o := testOccurrence("w-1", base.Add(time.Duration(i)*2*time.Hour), time.Hour)
		o.Status = status
		if status == models.StatusCompleted {
			o.Priority = models.PriorityHigh
		}
		if err := repo.Insert(ctx, db, o); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := repo.List(ctx, db, OccurrenceFilter{
		AssigneeRef:   "w-1",
		ExcludeStatus: []models.Status{models.StatusCancelled},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d occurrences, want 2", len(got))
	}
	if !got[0].StartTime.Before(got[1].StartTime) {
		t.Fatal("expected ascending start order")
	}

	byPriority, err := repo.CountBy(ctx, db, "priority", OccurrenceFilter{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if byPriority["high"] != 1 || byPriority["medium"] != 2 {
		t.Fatalf("unexpected counts: %v", byPriority)
	}

	if _, err := repo.CountBy(ctx, db, "notes", OccurrenceFilter{}); err == nil {
		t.Fatal("expected error for unsupported column")
	}
}

func TestTimesSurviveFarFutureYears(t *testing.T) {
	db := openTestDB(t)
	repo := NewOccurrenceRepository(db)
	ctx := context.Background()

	start := time.Date(2300, 1, 1, 9, 0, 0, 0, time.UTC)
	o := testOccurrence("w-1", start, time.Hour)
	if err := repo.Insert(ctx, db, o); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := repo.GetByID(ctx, db, o.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v, %v", got, err)
	}
	if !got.StartTime.Equal(start) || !got.EndTime.Equal(start.Add(time.Hour)) {
		t.Fatalf("read back %s-%s, want %s", got.StartTime, got.EndTime, start)
	}

	overlaps, err := repo.FindOverlapping(ctx, db, "w-1",
		models.Window{Start: start.Add(30 * time.Minute), End: start.Add(90 * time.Minute)}, "")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(overlaps) != 1 {
		t.Fatalf("got %d overlaps in year 2300, want 1", len(overlaps))
	}
}

func TestFilterBoundsRoundSubSecondUp(t *testing.T) {
	db := openTestDB(t)
	repo := NewOccurrenceRepository(db)
	ctx := context.Background()

	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	if err := repo.Insert(ctx, db, testOccurrence("w-1", start, time.Hour)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// 09:00:00 is before 09:00:00.5 and not at or after it.
	got, err := repo.List(ctx, db, OccurrenceFilter{StartBefore: start.Add(500 * time.Millisecond)})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("start_before with fraction: got %d, want 1", len(got))
	}
	got, err = repo.List(ctx, db, OccurrenceFilter{StartFrom: start.Add(500 * time.Millisecond)})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("start_from with fraction: got %d, want 0", len(got))
	}
}
