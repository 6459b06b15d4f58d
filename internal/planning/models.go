// Package planning runs the fetch, index, plan and commit cycle for
// maintenance schedules on top of the property backend.
package planning

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rentwise/rentwise/internal/api/models"
	"github.com/rentwise/rentwise/internal/booking"
	"github.com/rentwise/rentwise/internal/maintenance"
	"github.com/rentwise/rentwise/internal/planner"
	"github.com/rentwise/rentwise/internal/recurrence"
	"github.com/rentwise/rentwise/internal/timeslot"
)

// Domain errors.
var (
	ErrDraftNotFound       = errors.New("plan draft not found")
	ErrScheduleNotRunnable = errors.New("schedule is inactive or paused")
	ErrDraftConflict       = errors.New("plan draft was changed by another request")
)

// ValidationError is returned when caller input is rejected.
type ValidationError struct {
	Errors []models.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Draft is the persisted suggestion state of one schedule occurrence. There
// is at most one draft per schedule.
type Draft struct {
	ID            string
	ScheduleID    string
	TriggerDate   time.Time
	PreferredSlot string
	Suggestions   []planner.Suggestion
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Version counts saves of the draft; zero means it was never stored.
	Version int64
}

// Pins returns the caller-chosen placements held by the draft.
func (d *Draft) Pins() map[string]planner.Pin {
	pins := make(map[string]planner.Pin)
	for _, s := range d.Suggestions {
		if s.Pinned && s.Resolved {
			pins[s.UnitID] = planner.Pin{Date: s.Date, SlotStart: s.Slot.Start}
		}
	}
	return pins
}

// SuggestInput selects the schedule to plan.
type SuggestInput struct {
	ScheduleID string
	// PreferredSlot is an optional slot start where the scan begins on the
	// trigger date.
	PreferredSlot string
}

// PinInput is a manual placement for one unit.
type PinInput struct {
	Date      time.Time
	SlotStart string
}

// PlanResult is a schedule occurrence's current suggestions.
type PlanResult struct {
	Schedule    *maintenance.Schedule
	DraftID     string
	StartDate   time.Time
	HorizonDays int
	Suggestions []planner.Suggestion
	Unresolved  int
	Stats       booking.Stats
	Issues      []booking.Issue
	UpdatedAt   time.Time
}

// CommitStatus is the per-unit outcome of a commit.
type CommitStatus string

const (
	CommitTriggered CommitStatus = "TRIGGERED"
	CommitSkipped   CommitStatus = "SKIPPED"
	CommitFailed    CommitStatus = "FAILED"
)

// CommitOutcome is what happened to one unit during a commit.
type CommitOutcome struct {
	UnitID        string
	RoomNumber    string
	PreferredTime string
	RequestID     string
	Status        CommitStatus
	Reason        string
}

// CommitResult summarizes a commit.
type CommitResult struct {
	ScheduleID   string
	Outcomes     []CommitOutcome
	Triggered    int
	Skipped      int
	Failed       int
	DraftDeleted bool
}

// SlotOccupancy is one slot of a day view.
type SlotOccupancy struct {
	Slot     timeslot.Slot
	Count    int
	Bookings []booking.Booking
}

// DayOccupancy is the calendar view of one date.
type DayOccupancy struct {
	Date  time.Time
	Slots []SlotOccupancy
	Stats booking.Stats
}

// DayConflicts lists the over-booked slots of one date.
type DayConflicts struct {
	Date    time.Time
	Clashes []booking.Clash
	// Units holds every unit involved in at least one clash.
	Units []string
	Stats booking.Stats
}

// Occurrences is the upcoming run dates of a schedule.
type Occurrences struct {
	ScheduleID string
	Status     recurrence.Status
	Dates      []time.Time
}

// DueSchedule is a schedule whose next trigger date is within its notice window.
type DueSchedule struct {
	Schedule  *maintenance.Schedule
	DaysUntil int
}
