package websocket

import (
	"github.com/rs/zerolog/log"

	"github.com/care-scheduler/backend/internal/storage/models"
)

// EventBroadcaster turns schedule changes into WebSocket events.
type EventBroadcaster struct {
	hub *Hub
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// OccurrencesCreated sends one occurrence.created event for a single
// occurrence or a whole series.
func (b *EventBroadcaster) OccurrencesCreated(created []models.Occurrence) {
	if len(created) == 0 {
		return
	}
	payload := CreatedPayload{Occurrences: make([]OccurrencePayload, 0, len(created))}
	if created[0].SeriesRef != nil {
		payload.SeriesID = *created[0].SeriesRef
	}
	for _, o := range created {
		payload.Occurrences = append(payload.Occurrences, NewOccurrencePayload(o))
	}
	b.broadcast(NewMessage(TypeOccurrenceCreated, payload), assigneesOf(created)...)
}

// OccurrenceStatusChanged sends an occurrence.status_changed event.
func (b *EventBroadcaster) OccurrenceStatusChanged(o models.Occurrence, previous models.Status) {
	payload := StatusChangedPayload{
		OccurrencePayload: NewOccurrencePayload(o),
		PreviousStatus:    previous,
	}
	if o.StatusReason != nil {
		payload.Reason = *o.StatusReason
	}
	b.broadcast(NewMessage(TypeOccurrenceStatusChanged, payload), string(o.AssigneeRef))
}

// OccurrenceRescheduled sends an occurrence.rescheduled event. Both the old
// and new assignee receive it when the reschedule moved the occurrence.
func (b *EventBroadcaster) OccurrenceRescheduled(previous, replacement models.Occurrence) {
	payload := RescheduledPayload{
		PreviousID:  previous.ID,
		Previous:    NewOccurrencePayload(previous),
		Replacement: NewOccurrencePayload(replacement),
	}
	if previous.StatusReason != nil {
		payload.Reason = *previous.StatusReason
	}
	b.broadcast(NewMessage(TypeOccurrenceRescheduled, payload),
		assigneesOf([]models.Occurrence{previous, replacement})...)
}

// OccurrencesOverdue sends an occurrence.overdue event.
func (b *EventBroadcaster) OccurrencesOverdue(overdue []models.Occurrence) {
	if len(overdue) == 0 {
		return
	}
	payload := OverduePayload{Occurrences: make([]OccurrencePayload, 0, len(overdue))}
	for _, o := range overdue {
		payload.Occurrences = append(payload.Occurrences, NewOccurrencePayload(o))
	}
	b.broadcast(NewMessage(TypeOccurrenceOverdue, payload), assigneesOf(overdue)...)
}

// BroadcastNotification sends a notification to all connected clients.
func (b *EventBroadcaster) BroadcastNotification(level, title, message string) {
	payload := NotificationPayload{
		Level:       level,
		Title:       title,
		Message:     message,
		Dismissible: true,
	}
	b.broadcast(NewMessage(TypeNotification, payload))
}

func (b *EventBroadcaster) broadcast(msg Message, assignees ...string) {
	data, err := msg.JSON()
	if err != nil {
		log.Error().Err(err).Str("type", string(msg.Type)).Msg("encode websocket message")
		return
	}
	if len(assignees) == 0 {
		b.hub.Broadcast(data)
		return
	}
	b.hub.BroadcastFor(data, assignees...)
}

func assigneesOf(occurrences []models.Occurrence) []string {
	seen := make(map[string]bool, len(occurrences))
	var out []string
	for _, o := range occurrences {
		a := string(o.AssigneeRef)
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}
