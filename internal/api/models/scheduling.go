package models

import "time"

// Slot is one fixed visit window of the daily grid.
type Slot struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Label     string `json:"label"`
}

// SlotList is the response of GET /v1/slots.
type SlotList struct {
	Items    []Slot `json:"items"`
	Capacity int    `json:"capacity"`
}

// IndexStats summarizes how many backend requests could be placed on the grid.
type IndexStats struct {
	Total             int `json:"total"`
	Indexed           int `json:"indexed"`
	SkippedInactive   int `json:"skippedInactive"`
	MissingTime       int `json:"missingTime"`
	UnparsableTime    int `json:"unparsableTime"`
	OutsideGrid       int `json:"outsideGrid"`
	DataQualityIssues int `json:"dataQualityIssues"`
}

// IndexIssue is one request that could not be indexed.
type IndexIssue struct {
	RequestID     string `json:"requestId"`
	UnitID        string `json:"unitId,omitempty"`
	Kind          string `json:"kind"`
	PreferredTime string `json:"preferredTime,omitempty"`
}

// Booking is one occupied slot.
type Booking struct {
	UnitID    string `json:"unitId"`
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

// SlotOccupancy is one slot of a calendar day.
type SlotOccupancy struct {
	Slot
	Count     int       `json:"count"`
	Available bool      `json:"available"`
	Bookings  []Booking `json:"bookings"`
}

// DayOccupancy is the response of GET /v1/calendar/{date}/occupancy.
type DayOccupancy struct {
	Date  Date            `json:"date"`
	Slots []SlotOccupancy `json:"slots"`
	Stats IndexStats      `json:"stats"`
}

// Clash is a slot held by more than one unit.
type Clash struct {
	Slot
	UnitIDs    []string `json:"unitIds"`
	RequestIDs []string `json:"requestIds"`
}

// DayConflicts is the response of GET /v1/calendar/{date}/conflicts.
type DayConflicts struct {
	Date    Date       `json:"date"`
	Clashes []Clash    `json:"clashes"`
	UnitIDs []string   `json:"unitIds"`
	Stats   IndexStats `json:"stats"`
}

// Placement is a date and slot.
type Placement struct {
	Date Date `json:"date"`
	Slot Slot `json:"slot"`
}

// Suggestion is the proposed visit of one unit.
type Suggestion struct {
	UnitID           string     `json:"unitId"`
	RoomNumber       string     `json:"roomNumber,omitempty"`
	TenantName       string     `json:"tenantName,omitempty"`
	Date             *Date      `json:"date,omitempty"`
	Slot             *Slot      `json:"slot,omitempty"`
	Resolved         bool       `json:"resolved"`
	Pinned           bool       `json:"pinned"`
	HasConflict      bool       `json:"hasConflict"`
	AlreadyTriggered bool       `json:"alreadyTriggered"`
	Moved            bool       `json:"moved"`
	Alternative      *Placement `json:"alternative,omitempty"`
	Reason           string     `json:"reason,omitempty"`
}

// ScheduleSummary identifies the schedule a plan belongs to.
type ScheduleSummary struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Category         string `json:"category,omitempty"`
	RecurrenceType   string `json:"recurrenceType"`
	TargetType       string `json:"targetType"`
	NextTriggerDate  *Date  `json:"nextTriggerDate,omitempty"`
	NotifyDaysBefore int    `json:"notifyDaysBefore"`
}

// Plan is the response of the suggestion endpoints.
type Plan struct {
	Schedule    ScheduleSummary `json:"schedule"`
	DraftID     string          `json:"draftId,omitempty"`
	StartDate   Date            `json:"startDate"`
	HorizonDays int             `json:"horizonDays"`
	Suggestions []Suggestion    `json:"suggestions"`
	Unresolved  int             `json:"unresolved"`
	Stats       IndexStats      `json:"stats"`
	Issues      []IndexIssue    `json:"issues,omitempty"`
	UpdatedAt   *Timestamp      `json:"updatedAt,omitempty"`
}

// PinRequest is the body of PUT /v1/schedules/{scheduleId}/suggestions/{unitId}/pin.
type PinRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	SlotStart string `json:"slotStart" validate:"required,slot_start"`
}

// CommitOutcome is what happened to one unit during a commit.
type CommitOutcome struct {
	UnitID        string `json:"unitId"`
	RoomNumber    string `json:"roomNumber,omitempty"`
	PreferredTime string `json:"preferredTime,omitempty"`
	RequestID     string `json:"requestId,omitempty"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
}

// CommitResult is the response of POST /v1/schedules/{scheduleId}/commit.
type CommitResult struct {
	ScheduleID   string          `json:"scheduleId"`
	Outcomes     []CommitOutcome `json:"outcomes"`
	Triggered    int             `json:"triggered"`
	Skipped      int             `json:"skipped"`
	Failed       int             `json:"failed"`
	DraftDeleted bool            `json:"draftDeleted"`
}

// Occurrences is the response of GET /v1/schedules/{scheduleId}/next-occurrence.
type Occurrences struct {
	ScheduleID string `json:"scheduleId"`
	// Status is SCHEDULED when every requested date was found, otherwise the
	// reason the preview stopped (EXHAUSTED or COMPLETED).
	Status string `json:"status"`
	Next   *Date  `json:"next,omitempty"`
	Dates  []Date `json:"dates"`
}

// DueSchedule is a schedule within its notice window.
type DueSchedule struct {
	Schedule  ScheduleSummary `json:"schedule"`
	DaysUntil int             `json:"daysUntil"`
}

// DueScheduleList is the response of GET /v1/schedules/due.
type DueScheduleList struct {
	Today Date          `json:"today"`
	Items []DueSchedule `json:"items"`
}

// DraftSummary describes a plan that has been suggested but not committed.
type DraftSummary struct {
	ScheduleID    string    `json:"scheduleId"`
	TriggerDate   Date      `json:"triggerDate"`
	PreferredSlot string    `json:"preferredSlot,omitempty"`
	Units         int       `json:"units"`
	Pinned        int       `json:"pinned"`
	Committable   int       `json:"committable"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// DraftList is the response of GET /v1/schedules/drafts.
type DraftList struct {
	Items []DraftSummary `json:"items"`
}
