package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/care-scheduler/backend/internal/storage"
	"github.com/care-scheduler/backend/internal/storage/models"
)

// OverlapFinder returns the active occurrences of assignee intersecting w,
// skipping excludeID.
type OverlapFinder func(ctx context.Context, q storage.Queryable, assignee models.AssigneeRef, w models.Window, excludeID string) ([]models.Occurrence, error)

// ConflictChecker detects double-booking of an assignee.
type ConflictChecker struct {
	findOverlapping OverlapFinder
}

// NewConflictChecker creates a new conflict checker.
func NewConflictChecker(find OverlapFinder) *ConflictChecker {
	return &ConflictChecker{findOverlapping: find}
}

// Conflict represents an existing occurrence a candidate window collides with.
type Conflict struct {
	OccurrenceID string           `json:"occurrence_id"`
	ClientRef    models.ClientRef `json:"client_id"`
	Status       models.Status    `json:"status"`
	OverlapStart time.Time        `json:"overlap_start"`
	OverlapEnd   time.Time        `json:"overlap_end"`
}

// CheckConflicts lists every active occurrence of assignee overlapping w.
// It reads through q so callers can run it inside the transaction that writes.
func (c *ConflictChecker) CheckConflicts(ctx context.Context, q storage.Queryable, assignee models.AssigneeRef, w models.Window, excludeID string) ([]Conflict, error) {
	overlapping, err := c.findOverlapping(ctx, q, assignee, w, excludeID)
	if err != nil {
		return nil, fmt.Errorf("checking conflicts: %w", err)
	}

	var conflicts []Conflict
	for _, o := range overlapping {
		// The finder may be coarser than the invariant; re-check here.
		if !o.IsActive() || !w.Overlaps(o.Window()) {
			continue
		}

		overlapStart := w.Start
		if o.StartTime.After(overlapStart) {
			overlapStart = o.StartTime
		}
		overlapEnd := w.End
		if o.EndTime.Before(overlapEnd) {
			overlapEnd = o.EndTime
		}

		conflicts = append(conflicts, Conflict{
			OccurrenceID: o.ID,
			ClientRef:    o.ClientRef,
			Status:       o.Status,
			OverlapStart: overlapStart,
			OverlapEnd:   overlapEnd,
		})
	}

	return conflicts, nil
}

// HasConflict returns true if there are any conflicts.
func (c *ConflictChecker) HasConflict(ctx context.Context, q storage.Queryable, assignee models.AssigneeRef, w models.Window, excludeID string) (bool, error) {
	conflicts, err := c.CheckConflicts(ctx, q, assignee, w, excludeID)
	if err != nil {
		return false, err
	}
	return len(conflicts) > 0, nil
}

// Ensure returns a *ConflictError when w collides with an active occurrence.
func (c *ConflictChecker) Ensure(ctx context.Context, q storage.Queryable, assignee models.AssigneeRef, w models.Window, excludeID string) error {
	conflicts, err := c.CheckConflicts(ctx, q, assignee, w, excludeID)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &ConflictError{Assignee: assignee, Window: w, Conflicts: conflicts}
	}
	return nil
}
