package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Frequency is the base period of a recurrence pattern.
type Frequency string

// Frequency constants
const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// RecurrencePattern describes how a series repeats. It is stored only on the
// occurrence that originated the series.
type RecurrencePattern struct {
	Frequency Frequency `json:"frequency"`
	Interval  int       `json:"interval"`
	EndDate   *string   `json:"end_date,omitempty"` // inclusive, DateLayout
	// DaysOfWeek uses 0 = Sunday .. 6 = Saturday. Nil means "not provided".
	DaysOfWeek []int `json:"days_of_week,omitempty"`
}

// Value implements driver.Valuer so the pattern is stored as JSON text.
func (p *RecurrencePattern) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// ParseRecurrencePattern decodes a stored pattern; empty input yields nil.
func ParseRecurrencePattern(raw string) (*RecurrencePattern, error) {
	if raw == "" {
		return nil, nil
	}
	var p RecurrencePattern
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decoding recurrence pattern: %w", err)
	}
	return &p, nil
}
