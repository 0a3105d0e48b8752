package schedule

import (
	"context"
	"errors"
	"testing"

	"github.com/care-scheduler/backend/internal/storage"
	"github.com/care-scheduler/backend/internal/storage/models"
)

func TestHasConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	checker := NewConflictChecker(f.repo.FindOverlapping)

	booked := f.mustCreate(t, createReq("w", at(9, 0), at(10, 0)))
	cancelled := f.mustCreate(t, createReq("w", at(13, 0), at(14, 0)))
	if _, err := f.manager.Cancel(ctx, cancelled.ID, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	tests := []struct {
		name     string
		assignee models.AssigneeRef
		window   models.Window
		exclude  string
		want     bool
	}{
		{"overlap", "w", models.Window{Start: at(9, 30), End: at(10, 30)}, "", true},
		{"contains", "w", models.Window{Start: at(8, 0), End: at(11, 0)}, "", true},
		{"touching end", "w", models.Window{Start: at(10, 0), End: at(11, 0)}, "", false},
		{"touching start", "w", models.Window{Start: at(8, 0), End: at(9, 0)}, "", false},
		{"excluded self", "w", models.Window{Start: at(9, 0), End: at(10, 0)}, booked.ID, false},
		{"other assignee", "v", models.Window{Start: at(9, 0), End: at(10, 0)}, "", false},
		{"cancelled slot", "w", models.Window{Start: at(13, 0), End: at(14, 0)}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := checker.HasConflict(ctx, f.db, tt.assignee, tt.window, tt.exclude)
			if err != nil {
				t.Fatalf("has conflict: %v", err)
			}
			if got != tt.want {
				t.Fatalf("HasConflict = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckConflictsFiltersCoarseFinder(t *testing.T) {
	// A finder that returns everything, including inactive and disjoint rows.
	rows := []models.Occurrence{
		{ID: "a", StartTime: at(9, 0), EndTime: at(10, 0), Status: models.StatusInProgress},
		{ID: "b", StartTime: at(9, 0), EndTime: at(10, 0), Status: models.StatusCancelled},
		{ID: "c", StartTime: at(12, 0), EndTime: at(13, 0), Status: models.StatusScheduled},
	}
	checker := NewConflictChecker(func(context.Context, storage.Queryable, models.AssigneeRef, models.Window, string) ([]models.Occurrence, error) {
		return rows, nil
	})

	w := models.Window{Start: at(9, 30), End: at(11, 0)}
	conflicts, err := checker.CheckConflicts(context.Background(), nil, "w", w, "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].OccurrenceID != "a" {
		t.Fatalf("unexpected conflicts %+v", conflicts)
	}
	if !conflicts[0].OverlapStart.Equal(at(9, 30)) || !conflicts[0].OverlapEnd.Equal(at(10, 0)) {
		t.Fatalf("unexpected overlap %+v", conflicts[0])
	}
}

func TestHasConflictWrapsFinderErrors(t *testing.T) {
	boom := errors.New("disk gone")
	checker := NewConflictChecker(func(context.Context, storage.Queryable, models.AssigneeRef, models.Window, string) ([]models.Occurrence, error) {
		return nil, boom
	})

	_, err := checker.HasConflict(context.Background(), nil, "w", models.Window{Start: at(9, 0), End: at(10, 0)}, "")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped finder error, got %v", err)
	}
}

func TestManagerAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustCreate(t, createReq("w", at(9, 0), at(10, 0)))

	free, err := f.manager.Available(ctx, "w", models.Window{Start: at(9, 59), End: at(11, 0)})
	if err != nil || free {
		t.Fatalf("Available = %v, %v; want busy", free, err)
	}
	free, err = f.manager.Available(ctx, "w", models.Window{Start: at(10, 0), End: at(11, 0)})
	if err != nil || !free {
		t.Fatalf("Available = %v, %v; want free", free, err)
	}

	if _, err := f.manager.Available(ctx, "w", models.Window{Start: at(11, 0), End: at(10, 0)}); !errors.Is(err, ErrInvalidTimeRange) {
		t.Fatalf("expected ErrInvalidTimeRange, got %v", err)
	}
	if _, err := f.manager.Available(ctx, "", models.Window{Start: at(9, 0), End: at(10, 0)}); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField, got %v", err)
	}
}
