// Package maintenance holds the domain types read from the property backend:
// maintenance requests, units and recurring maintenance schedules.
package maintenance

import (
	"errors"
	"time"
)

// Domain errors.
var (
	ErrScheduleNotFound = errors.New("maintenance schedule not found")
	ErrUnitNotFound     = errors.New("unit not found")
)

// RequestStatus is the backend-owned lifecycle state of a maintenance request.
type RequestStatus string

const (
	StatusSubmitted                 RequestStatus = "SUBMITTED"
	StatusWaitingForRepair          RequestStatus = "WAITING_FOR_REPAIR"
	StatusApproved                  RequestStatus = "APPROVED"
	StatusInProgress                RequestStatus = "IN_PROGRESS"
	StatusCompleted                 RequestStatus = "COMPLETED"
	StatusCancelled                 RequestStatus = "CANCELLED"
	StatusPendingTenantConfirmation RequestStatus = "PENDING_TENANT_CONFIRMATION"
)

// OccupiesSlot reports whether a request in this state still holds its visit slot.
func (s RequestStatus) OccupiesSlot() bool {
	return s != StatusCompleted && s != StatusCancelled
}

// Request is a maintenance request as returned by the backend.
type Request struct {
	ID         string
	UnitID     string
	RoomNumber string
	TenantName string
	Title      string
	Category   string
	Status     RequestStatus

	// PreferredTime is free text, usually "<date> <HH:MM>".
	PreferredTime string

	// ScheduleID links requests generated by a recurring schedule.
	ScheduleID string
}

// UnitStatus is the occupancy state of a unit.
type UnitStatus string

const (
	UnitAvailable   UnitStatus = "AVAILABLE"
	UnitOccupied    UnitStatus = "OCCUPIED"
	UnitMaintenance UnitStatus = "MAINTENANCE"
	UnitReserved    UnitStatus = "RESERVED"
)

// Unit is a rentable unit (room/apartment).
type Unit struct {
	ID         string
	RoomNumber string
	Floor      int
	UnitType   string
	Status     UnitStatus
	TenantName string
}

// RecurrenceType selects how a schedule repeats.
type RecurrenceType string

const (
	RecurrenceOneTime   RecurrenceType = "ONE_TIME"
	RecurrenceDaily     RecurrenceType = "DAILY"
	RecurrenceWeekly    RecurrenceType = "WEEKLY"
	RecurrenceMonthly   RecurrenceType = "MONTHLY"
	RecurrenceQuarterly RecurrenceType = "QUARTERLY"
	RecurrenceYearly    RecurrenceType = "YEARLY"
)

// TargetType selects which units a schedule applies to.
type TargetType string

const (
	TargetAllUnits      TargetType = "ALL_UNITS"
	TargetSpecificUnits TargetType = "SPECIFIC_UNITS"
	TargetFloor         TargetType = "FLOOR"
	TargetUnitType      TargetType = "UNIT_TYPE"
)

// Schedule is a recurring maintenance definition. The backend owns and
// persists it; this service only reads it and proposes the next trigger.
type Schedule struct {
	ID       string
	Title    string
	Category string

	RecurrenceType     RecurrenceType
	RecurrenceInterval int
	// RecurrenceDayOfWeek is 0 (Sunday) through 6 (Saturday).
	RecurrenceDayOfWeek *int
	// RecurrenceDayOfMonth is 1 through 31.
	RecurrenceDayOfMonth *int

	TargetType TargetType
	// TargetUnits is kept as received; see ResolveTargets.
	TargetUnits string

	StartDate        time.Time
	EndDate          *time.Time
	NextTriggerDate  time.Time
	NotifyDaysBefore int

	IsActive bool
	IsPaused bool
}

// Runnable reports whether the schedule may currently be triggered.
func (s *Schedule) Runnable() bool {
	return s.IsActive && !s.IsPaused
}

// TriggerRecord is one entry in a schedule's trigger history.
type TriggerRecord struct {
	ScheduleID  string
	UnitID      string
	TriggerDate time.Time
	RequestID   string
}

// TriggerInput is the write request sent when materializing a schedule for one unit.
type TriggerInput struct {
	UnitID        string
	PreferredTime string
}

// TriggerResult is the backend's answer to a trigger call.
type TriggerResult struct {
	RequestID string
	UnitID    string
	Status    RequestStatus
}
