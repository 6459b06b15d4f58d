// Package timeslot defines the fixed daily grid of maintenance visit slots.
package timeslot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidTime is returned when a time-of-day string cannot be parsed.
var ErrInvalidTime = errors.New("invalid time of day")

// Slot is one fixed two-hour visit window. Start and End are "HH:MM".
type Slot struct {
	Start string `json:"startTime"`
	End   string `json:"endTime"`
	Label string `json:"label"`
}

// grid is ordered chronologically and never mutated.
var grid = []Slot{
	newSlot("08:00", "10:00"),
	newSlot("10:00", "12:00"),
	newSlot("13:00", "15:00"),
	newSlot("15:00", "17:00"),
	newSlot("17:00", "19:00"),
}

func newSlot(start, end string) Slot {
	return Slot{Start: start, End: end, Label: start + " - " + end}
}

// All returns the daily slot grid in chronological order.
// The returned slice is a copy; callers may modify it freely.
func All() []Slot {
	out := make([]Slot, len(grid))
	copy(out, grid)
	return out
}

// Count returns the number of slots per day.
func Count() int {
	return len(grid)
}

// ForTime maps a time of day to the slot that contains it.
// Containment is half-open: a slot holds t when Start <= t < End.
// Returns false for unparsable input and for times outside the grid,
// including the 12:00-13:00 gap.
func ForTime(hhmm string) (Slot, bool) {
	minutes, err := ParseMinutes(hhmm)
	if err != nil {
		return Slot{}, false
	}
	for _, s := range grid {
		start, _ := ParseMinutes(s.Start)
		end, _ := ParseMinutes(s.End)
		if minutes >= start && minutes < end {
			return s, true
		}
	}
	return Slot{}, false
}

// ByStart returns the slot whose start time equals start.
// Inputs like "8:00" are normalized before comparison.
func ByStart(start string) (Slot, bool) {
	minutes, err := ParseMinutes(start)
	if err != nil {
		return Slot{}, false
	}
	for _, s := range grid {
		m, _ := ParseMinutes(s.Start)
		if m == minutes {
			return s, true
		}
	}
	return Slot{}, false
}

// IndexOf returns the position of the slot starting at start, or -1.
func IndexOf(start string) int {
	minutes, err := ParseMinutes(start)
	if err != nil {
		return -1
	}
	for i, s := range grid {
		m, _ := ParseMinutes(s.Start)
		if m == minutes {
			return i
		}
	}
	return -1
}

// ParseMinutes converts "H:MM", "HH:MM" or "HH:MM:SS" to minutes after midnight.
// Seconds are accepted and ignored.
func ParseMinutes(hhmm string) (int, error) {
	parts := strings.Split(strings.TrimSpace(hhmm), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, hhmm)
	}
	if len(parts[0]) == 0 || len(parts[0]) > 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, hhmm)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, hhmm)
	}
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || len(parts[2]) != 2 || sec < 0 || sec > 59 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, hhmm)
		}
	}
	return h*60 + m, nil
}
