// Package booking builds occupancy snapshots of maintenance visit slots from
// the backend's request list and answers availability and conflict queries.
package booking

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rentwise/rentwise/internal/timeslot"
)

// Parse errors.
var (
	ErrMissingPreferredTime    = errors.New("preferred time is empty")
	ErrUnparsablePreferredTime = errors.New("preferred time is not parsable")
)

// preferredTimeRegex extracts "<date> <time>" with either ISO or DD/MM/YYYY dates.
// A "T" separator is accepted for ISO timestamps. The time must end the value
// or be followed by fractional seconds, a zone or whitespace.
var preferredTimeRegex = regexp.MustCompile(
	`^(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4})(?:[ T]+)(\d{1,2}:\d{2}(?::\d{2})?)(?:\.\d+)?(?:$|[\sZz+-])`,
)

// PreferredTime is the parsed form of a request's free-text preferred time.
type PreferredTime struct {
	// Date is midnight of the visit date in the parser's location.
	Date time.Time
	// Time is the extracted "HH:MM" time of day.
	Time string
}

// ParsePreferredTime parses raw in loc (UTC when nil).
// Accepted shapes: "2025-11-20 14:00", "2025-11-20T14:00:00", "20/11/2025 14:00".
// A zone suffix or a note separated by whitespace after the time is ignored.
func ParsePreferredTime(raw string, loc *time.Location) (PreferredTime, error) {
	if loc == nil {
		loc = time.UTC
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return PreferredTime{}, ErrMissingPreferredTime
	}

	m := preferredTimeRegex.FindStringSubmatch(raw)
	if m == nil {
		return PreferredTime{}, fmt.Errorf("%w: %q", ErrUnparsablePreferredTime, raw)
	}

	var (
		date time.Time
		err  error
	)
	if strings.Contains(m[1], "/") {
		date, err = time.ParseInLocation("2/1/2006", m[1], loc)
	} else {
		date, err = time.ParseInLocation("2006-01-02", m[1], loc)
	}
	if err != nil {
		return PreferredTime{}, fmt.Errorf("%w: %q", ErrUnparsablePreferredTime, raw)
	}

	minutes, err := timeslot.ParseMinutes(m[2])
	if err != nil {
		return PreferredTime{}, fmt.Errorf("%w: %q", ErrUnparsablePreferredTime, raw)
	}

	return PreferredTime{
		Date: date,
		Time: fmt.Sprintf("%02d:%02d", minutes/60, minutes%60),
	}, nil
}

// FormatPreferredTime renders a date and slot back to the backend's
// "YYYY-MM-DD HH:MM" preferred time format.
func FormatPreferredTime(date time.Time, slot timeslot.Slot) string {
	return date.Format("2006-01-02") + " " + slot.Start
}
