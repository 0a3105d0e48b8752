package websocket

import (
	"encoding/json"
	"time"

	"github.com/care-scheduler/backend/internal/storage/models"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeOccurrenceCreated       MessageType = "occurrence.created"
	TypeOccurrenceStatusChanged MessageType = "occurrence.status_changed"
	TypeOccurrenceRescheduled   MessageType = "occurrence.rescheduled"
	TypeOccurrenceOverdue       MessageType = "occurrence.overdue"
	TypeNotification            MessageType = "notification"

	// Client -> Server command types
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypePing        MessageType = "ping"

	// Server -> Client response types
	TypeSubscribeAck MessageType = "subscribe.ack"
	TypePong         MessageType = "pong"
	TypeError        MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// Command is a message sent by a client.
type Command struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload is the payload of subscribe and unsubscribe commands.
type SubscribePayload struct {
	AssigneeIDs []string `json:"assignee_ids"`
}

// SubscribeAckPayload echoes the client's filter after a (un)subscribe.
type SubscribeAckPayload struct {
	AssigneeIDs []string `json:"assignee_ids"`
}

// OccurrencePayload summarizes an occurrence in events.
type OccurrencePayload struct {
	OccurrenceID string          `json:"occurrence_id"`
	ActivityID   string          `json:"activity_id"`
	ClientID     string          `json:"client_id"`
	AssigneeID   string          `json:"assignee_id"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	Status       models.Status   `json:"status"`
	Priority     models.Priority `json:"priority"`
}

// NewOccurrencePayload builds an event summary from an occurrence.
func NewOccurrencePayload(o models.Occurrence) OccurrencePayload {
	return OccurrencePayload{
		OccurrenceID: o.ID,
		ActivityID:   string(o.ActivityRef),
		ClientID:     string(o.ClientRef),
		AssigneeID:   string(o.AssigneeRef),
		StartTime:    o.StartTime,
		EndTime:      o.EndTime,
		Status:       o.Status,
		Priority:     o.Priority,
	}
}

// CreatedPayload is the payload for occurrence.created events.
type CreatedPayload struct {
	SeriesID    string              `json:"series_id,omitempty"`
	Occurrences []OccurrencePayload `json:"occurrences"`
}

// StatusChangedPayload is the payload for occurrence.status_changed events.
type StatusChangedPayload struct {
	OccurrencePayload
	PreviousStatus models.Status `json:"previous_status"`
	Reason         string        `json:"reason,omitempty"`
}

// RescheduledPayload is the payload for occurrence.rescheduled events.
type RescheduledPayload struct {
	PreviousID  string            `json:"previous_id"`
	Previous    OccurrencePayload `json:"previous"`
	Replacement OccurrencePayload `json:"replacement"`
	Reason      string            `json:"reason,omitempty"`
}

// OverduePayload is the payload for occurrence.overdue events.
type OverduePayload struct {
	Occurrences []OccurrencePayload `json:"occurrences"`
}

// NotificationPayload is the payload for notification events.
type NotificationPayload struct {
	Level       string `json:"level"` // info, warning, error, success
	Title       string `json:"title"`
	Message     string `json:"message"`
	Dismissible bool   `json:"dismissible"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"original_type,omitempty"`
}
