package schedule

import "github.com/care-scheduler/backend/internal/storage/models"

// Notifier receives schedule changes after they are committed.
type Notifier interface {
	OccurrencesCreated(created []models.Occurrence)
	OccurrenceStatusChanged(o models.Occurrence, previous models.Status)
	OccurrenceRescheduled(previous, replacement models.Occurrence)
	OccurrencesOverdue(overdue []models.Occurrence)
}

type nopNotifier struct{}

func (nopNotifier) OccurrencesCreated([]models.Occurrence)                     {}
func (nopNotifier) OccurrenceStatusChanged(models.Occurrence, models.Status)   {}
func (nopNotifier) OccurrenceRescheduled(models.Occurrence, models.Occurrence) {}
func (nopNotifier) OccurrencesOverdue([]models.Occurrence)                     {}
