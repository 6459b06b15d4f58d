// Package recurrence computes the next trigger date of a maintenance schedule.
//
// The calculator only proposes dates. The backend owns the schedule and
// commits nextTriggerDate when it materializes an occurrence.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/rentwise/rentwise/internal/maintenance"
	"github.com/rentwise/rentwise/pkg/civildate"
)

// ErrInvalidRecurrence is wrapped by every ConfigError.
var ErrInvalidRecurrence = errors.New("recurrence: invalid rule")

// ConfigError reports a schedule whose recurrence fields cannot be evaluated.
type ConfigError struct {
	ScheduleID string
	Field      string
	Reason     string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("recurrence: schedule %s: %s %s", e.ScheduleID, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidRecurrence
}

// Status describes the outcome of NextOccurrence.
type Status string

const (
	// StatusScheduled means Next.Date holds the next occurrence.
	StatusScheduled Status = "SCHEDULED"
	// StatusExhausted means the next occurrence would fall after the end date.
	StatusExhausted Status = "EXHAUSTED"
	// StatusCompleted means a one-time schedule has nothing further to run.
	StatusCompleted Status = "COMPLETED"
)

// Next is the result of NextOccurrence. Date is zero unless Status is
// StatusScheduled.
type Next struct {
	Status Status
	Date   time.Time
}

// Scheduled reports whether a date was produced.
func (n Next) Scheduled() bool {
	return n.Status == StatusScheduled
}

// maxCatchUpSteps bounds how far a rule is walked forward to reach the start
// date. At one step per day this is more than a century.
const maxCatchUpSteps = 50000

// Calculator evaluates recurrence rules in one location.
type Calculator struct {
	location *time.Location
}

// NewCalculator creates a Calculator. A nil location means UTC.
func NewCalculator(loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{location: loc}
}

// Location returns the calculator's location.
func (c *Calculator) Location() *time.Location {
	return c.location
}

type rule struct {
	kind       maintenance.RecurrenceType
	interval   int
	weekday    time.Weekday
	dayOfMonth int
	start      time.Time
	end        *time.Time
}

// NextOccurrence returns the first occurrence strictly after `after`.
//
// The result never precedes the schedule's start date: a candidate before it
// is stepped forward under the same rule. A candidate past the end date
// yields StatusExhausted instead of a date.
func (c *Calculator) NextOccurrence(s *maintenance.Schedule, after time.Time) (Next, error) {
	r, err := c.compile(s)
	if err != nil {
		return Next{}, err
	}
	if r.kind == maintenance.RecurrenceOneTime {
		return Next{Status: StatusCompleted}, nil
	}

	d := r.step(civildate.Midnight(after, c.location))
	if !r.start.IsZero() {
		for i := 0; d.Before(r.start); i++ {
			if i >= maxCatchUpSteps {
				return Next{}, &ConfigError{ScheduleID: s.ID, Field: "startDate", Reason: "is unreachable from the reference date"}
			}
			d = r.step(d)
		}
	}
	if r.end != nil && d.After(*r.end) {
		return Next{Status: StatusExhausted}, nil
	}
	return Next{Status: StatusScheduled, Date: d}, nil
}

// Upcoming returns up to n successive occurrences after `after`, stopping
// early when the schedule is exhausted or completes. The returned status is
// the reason the preview stopped, or StatusScheduled when n dates were found.
func (c *Calculator) Upcoming(s *maintenance.Schedule, after time.Time, n int) ([]time.Time, Status, error) {
	out := make([]time.Time, 0, n)
	cur := after
	for len(out) < n {
		next, err := c.NextOccurrence(s, cur)
		if err != nil {
			return nil, "", err
		}
		if !next.Scheduled() {
			return out, next.Status, nil
		}
		out = append(out, next.Date)
		cur = next.Date
	}
	return out, StatusScheduled, nil
}

func (c *Calculator) compile(s *maintenance.Schedule) (rule, error) {
	r := rule{kind: s.RecurrenceType, interval: s.RecurrenceInterval}

	switch {
	case r.interval == 0:
		r.interval = 1
	case r.interval < 0:
		return rule{}, &ConfigError{ScheduleID: s.ID, Field: "recurrenceInterval", Reason: fmt.Sprintf("must be at least 1, got %d", r.interval)}
	}

	if !s.StartDate.IsZero() {
		r.start = civildate.Midnight(s.StartDate, c.location)
	}
	if s.EndDate != nil {
		end := civildate.Midnight(*s.EndDate, c.location)
		if !r.start.IsZero() && end.Before(r.start) {
			return rule{}, &ConfigError{ScheduleID: s.ID, Field: "endDate", Reason: "is before startDate"}
		}
		r.end = &end
	}

	switch r.kind {
	case maintenance.RecurrenceOneTime, maintenance.RecurrenceDaily:
	case maintenance.RecurrenceWeekly:
		if s.RecurrenceDayOfWeek == nil {
			return rule{}, &ConfigError{ScheduleID: s.ID, Field: "recurrenceDayOfWeek", Reason: "is required for WEEKLY"}
		}
		dow := *s.RecurrenceDayOfWeek
		if dow < 0 || dow > 6 {
			return rule{}, &ConfigError{ScheduleID: s.ID, Field: "recurrenceDayOfWeek", Reason: fmt.Sprintf("must be 0-6, got %d", dow)}
		}
		r.weekday = time.Weekday(dow)
	case maintenance.RecurrenceMonthly, maintenance.RecurrenceQuarterly, maintenance.RecurrenceYearly:
		switch {
		case s.RecurrenceDayOfMonth != nil:
			r.dayOfMonth = *s.RecurrenceDayOfMonth
		case !r.start.IsZero():
			r.dayOfMonth = r.start.Day()
		default:
			return rule{}, &ConfigError{ScheduleID: s.ID, Field: "recurrenceDayOfMonth", Reason: fmt.Sprintf("is required for %s", r.kind)}
		}
		if r.dayOfMonth < 1 || r.dayOfMonth > 31 {
			return rule{}, &ConfigError{ScheduleID: s.ID, Field: "recurrenceDayOfMonth", Reason: fmt.Sprintf("must be 1-31, got %d", r.dayOfMonth)}
		}
	default:
		return rule{}, &ConfigError{ScheduleID: s.ID, Field: "recurrenceType", Reason: fmt.Sprintf("%q is not supported", r.kind)}
	}

	return r, nil
}

// step returns the occurrence following d. d must be at midnight.
func (r rule) step(d time.Time) time.Time {
	switch r.kind {
	case maintenance.RecurrenceDaily:
		return civildate.AddDays(d, r.interval)
	case maintenance.RecurrenceWeekly:
		if d.Weekday() == r.weekday {
			return civildate.AddDays(d, 7*r.interval)
		}
		ahead := (int(r.weekday) - int(d.Weekday()) + 7) % 7
		return civildate.AddDays(d, ahead)
	case maintenance.RecurrenceMonthly:
		return civildate.AddMonthsClamped(d, r.interval, r.dayOfMonth)
	case maintenance.RecurrenceQuarterly:
		return civildate.AddMonthsClamped(d, 3*r.interval, r.dayOfMonth)
	case maintenance.RecurrenceYearly:
		return civildate.AddMonthsClamped(d, 12*r.interval, r.dayOfMonth)
	}
	return d
}
