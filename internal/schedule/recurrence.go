// Package schedule implements the occurrence scheduling engine: recurrence
// expansion, conflict detection, the occurrence lifecycle and read models.
package schedule

import (
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/care-scheduler/backend/internal/storage/models"
)

const defaultMaxOccurrences = 104

// ExpandLimit bounds a series. MaxCount always applies; a zero Horizon is ignored.
type ExpandLimit struct {
	MaxCount int
	// Horizon is an exclusive upper bound on occurrence start times.
	Horizon time.Time
}

// rrule weekdays indexed by time.Weekday (0 = Sunday).
var ruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Expander turns recurrence patterns into concrete windows. Weekdays and
// days of month are evaluated in its location.
type Expander struct {
	location *time.Location
}

// NewExpander creates an expander evaluating calendar rules in loc (UTC if nil).
func NewExpander(loc *time.Location) *Expander {
	if loc == nil {
		loc = time.UTC
	}
	return &Expander{location: loc}
}

// Location returns the zone calendar rules are evaluated in.
func (e *Expander) Location() *time.Location {
	return e.location
}

// Series is a finite, restartable sequence of windows. Each call to Iterator
// starts again from the anchor.
type Series struct {
	rule     *rrule.RRule
	duration time.Duration
	limit    ExpandLimit
}

// Iterator returns a lazy generator over the series.
func (s *Series) Iterator() func() (models.Window, bool) {
	next := s.rule.Iterator()
	emitted := 0

	return func() (models.Window, bool) {
		if emitted >= s.limit.MaxCount {
			return models.Window{}, false
		}
		start, ok := next()
		if !ok {
			return models.Window{}, false
		}
		if !s.limit.Horizon.IsZero() && !start.Before(s.limit.Horizon) {
			return models.Window{}, false
		}
		emitted++
		return models.Window{Start: start, End: start.Add(s.duration)}, true
	}
}

// Windows drains a fresh iterator into a slice.
func (s *Series) Windows() []models.Window {
	var out []models.Window
	next := s.Iterator()
	for w, ok := next(); ok; w, ok = next() {
		out = append(out, w)
	}
	return out
}

// Expand builds the series described by p whose first member is anchor.
//
// Monthly series anchored on a day the target month lacks (29th-31st) fall on
// that month's last day instead.
func (e *Expander) Expand(p models.RecurrencePattern, anchor models.Window, limit ExpandLimit) (*Series, error) {
	if !anchor.Valid() {
		return nil, ErrInvalidTimeRange
	}
	if limit.MaxCount <= 0 {
		limit.MaxCount = defaultMaxOccurrences
	}

	start := anchor.Start.In(e.location)
	if err := e.Validate(p, start); err != nil {
		return nil, err
	}

	opt := rrule.ROption{
		Dtstart:  start,
		Interval: p.Interval,
		Count:    limit.MaxCount,
	}

	switch p.Frequency {
	case models.FrequencyDaily:
		opt.Freq = rrule.DAILY
	case models.FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
		// Days count from Sunday, so weeks do too when the interval skips some.
		opt.Wkst = rrule.SU
		for _, d := range normalizeDays(p.DaysOfWeek) {
			opt.Byweekday = append(opt.Byweekday, ruleWeekdays[d])
		}
	case models.FrequencyMonthly:
		opt.Freq = rrule.MONTHLY
		if day := start.Day(); day > 28 {
			// Candidates 28..day; the last one present in a month is the clamped day.
			for d := 28; d <= day; d++ {
				opt.Bymonthday = append(opt.Bymonthday, d)
			}
			opt.Bysetpos = []int{-1}
		}
	}

	if p.EndDate != nil {
		end, _ := time.ParseInLocation(models.DateLayout, *p.EndDate, e.location)
		opt.Until = time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, e.location)
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, invalidPattern("%v", err)
	}

	return &Series{rule: rule, duration: anchor.Duration(), limit: limit}, nil
}

// Validate checks p against the anchor start it will be expanded from.
func (e *Expander) Validate(p models.RecurrencePattern, anchorStart time.Time) error {
	switch p.Frequency {
	case models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly:
	default:
		return invalidPattern("unknown frequency %q", p.Frequency)
	}
	if p.Interval < 1 {
		return invalidPattern("interval must be at least 1, got %d", p.Interval)
	}

	for _, d := range p.DaysOfWeek {
		if d < 0 || d > 6 {
			return invalidPattern("weekday index %d out of range 0-6", d)
		}
	}
	if len(p.DaysOfWeek) > 0 {
		if p.Frequency != models.FrequencyWeekly {
			return invalidPattern("days_of_week only applies to weekly recurrence")
		}
		anchorDay := int(anchorStart.In(e.location).Weekday())
		if !slices.Contains(p.DaysOfWeek, anchorDay) {
			return invalidPattern("first occurrence falls on weekday %d, which is not in days_of_week", anchorDay)
		}
	}

	if p.EndDate != nil {
		end, err := time.ParseInLocation(models.DateLayout, *p.EndDate, e.location)
		if err != nil {
			return invalidPattern("end_date must be YYYY-MM-DD")
		}
		a := anchorStart.In(e.location)
		anchorDate := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, e.location)
		if end.Before(anchorDate) {
			return invalidPattern("end_date %s is before the first occurrence", *p.EndDate)
		}
	}

	return nil
}

func normalizeDays(days []int) []int {
	out := slices.Clone(days)
	slices.Sort(out)
	return slices.Compact(out)
}
