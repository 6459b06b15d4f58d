// Package planner proposes non-conflicting maintenance visit slots for the
// units targeted by a schedule.
//
// A Plan is built from a booking.Index snapshot. Each unit's suggestion can
// be pinned, unpinned or re-validated on its own without re-planning the
// other units. Nothing here performs I/O; the backend re-validates
// availability when a plan is committed.
package planner

import (
	"errors"
	"fmt"
	"time"

	"github.com/rentwise/rentwise/internal/booking"
	"github.com/rentwise/rentwise/internal/maintenance"
	"github.com/rentwise/rentwise/internal/timeslot"
	"github.com/rentwise/rentwise/pkg/civildate"
)

// DefaultHorizonDays is how many days, starting at the trigger date, are
// scanned before a unit is reported as unresolved.
const DefaultHorizonDays = 30

// MaxHorizonDays bounds the configurable horizon.
const MaxHorizonDays = 365

// Planner errors.
var (
	ErrInvalidHorizon     = errors.New("planner horizon must be between 1 and 365 days")
	ErrMissingTriggerDate = errors.New("schedule has no next trigger date")
	ErrUnknownUnit        = errors.New("unit is not part of this plan")
	ErrAlreadyTriggered   = errors.New("unit was already triggered for this occurrence")
	ErrInvalidPin         = errors.New("pin must name a date and a slot start from the grid")
)

// Options configures a Planner.
type Options struct {
	// HorizonDays is the scan horizon. Default: 30.
	HorizonDays int
}

// Planner computes suggestions. It holds no state between calls.
type Planner struct {
	horizonDays int
}

// New creates a Planner.
func New(opts Options) (*Planner, error) {
	h := opts.HorizonDays
	if h == 0 {
		h = DefaultHorizonDays
	}
	if h < 1 || h > MaxHorizonDays {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidHorizon, h)
	}
	return &Planner{horizonDays: h}, nil
}

// HorizonDays returns the configured scan horizon.
func (p *Planner) HorizonDays() int {
	return p.horizonDays
}

// UnitRef is a unit to be scheduled.
type UnitRef struct {
	ID         string
	RoomNumber string
	TenantName string

	// PreferredSlot, when set, is where the scan starts on the first day.
	PreferredSlot string

	// AlreadyTriggered units have a request for this occurrence already and
	// are passed through without a suggestion.
	AlreadyTriggered bool
}

// Pin is a caller-chosen date and slot for one unit.
type Pin struct {
	Date      time.Time
	SlotStart string
}

// Placement is a date and slot.
type Placement struct {
	Date time.Time
	Slot timeslot.Slot
}

// Suggestion is the planner's proposal for one unit.
type Suggestion struct {
	UnitID     string
	RoomNumber string
	TenantName string

	Date time.Time
	Slot timeslot.Slot

	// Resolved is true when Date and Slot hold a placement.
	Resolved bool
	// Pinned is true when the placement was chosen by the caller.
	Pinned bool
	// HasConflict is true only for a pinned placement that is now occupied.
	HasConflict bool
	// AlreadyTriggered units are passed through unchanged.
	AlreadyTriggered bool
	// Moved is true when revalidation replaced a reviewed placement that got
	// booked in the meantime. Staff confirm it by pinning or re-suggesting.
	Moved bool

	// Alternative is the next free placement for a conflicted pin.
	Alternative *Placement
	// Reason explains why a unit is unresolved, conflicted or moved.
	Reason string
}

// Committable reports whether the suggestion can be written back as is.
func (s Suggestion) Committable() bool {
	return s.Resolved && !s.HasConflict && !s.AlreadyTriggered && !s.Moved
}

// holdsSlot reports whether the suggestion occupies its slot for other units
// of the same plan. Moved placements hold their slot while awaiting review.
func (s Suggestion) holdsSlot() bool {
	return s.Resolved && !s.HasConflict && !s.AlreadyTriggered
}

// Plan is the per-unit suggestion state for one schedule occurrence.
type Plan struct {
	horizonDays int
	index       *booking.Index
	start       time.Time
	order       []string
	units       map[string]UnitRef
	suggestions map[string]*Suggestion
}

// Suggest plans every unit of a schedule occurrence starting at the schedule's
// next trigger date. Pinned units are placed first so that freshly planned
// units route around them; the rest are planned in the order given.
func (p *Planner) Suggest(s *maintenance.Schedule, units []UnitRef, idx *booking.Index, pins map[string]Pin) (*Plan, error) {
	if s.NextTriggerDate.IsZero() {
		return nil, fmt.Errorf("schedule %s: %w", s.ID, ErrMissingTriggerDate)
	}
	for unitID, pin := range pins {
		if err := validatePin(pin); err != nil {
			return nil, fmt.Errorf("unit %s: %w", unitID, err)
		}
	}

	plan := p.newPlan(idx, s.NextTriggerDate, units)

	for _, id := range plan.order {
		u := plan.units[id]
		if u.AlreadyTriggered {
			plan.suggestions[id] = passThrough(u)
			continue
		}
		if pin, ok := pins[id]; ok {
			plan.suggestions[id] = plan.applyPin(u, pin)
		}
	}

	for _, id := range plan.order {
		if _, done := plan.suggestions[id]; done {
			continue
		}
		plan.suggestions[id] = plan.scan(plan.units[id])
	}

	return plan, nil
}

// Restore rebuilds a Plan from previously computed suggestions without
// re-planning. Units missing from prior get a fresh suggestion.
func (p *Planner) Restore(idx *booking.Index, start time.Time, units []UnitRef, prior []Suggestion) *Plan {
	plan := p.newPlan(idx, start, units)

	for i := range prior {
		s := prior[i]
		if _, ok := plan.units[s.UnitID]; !ok {
			continue
		}
		plan.suggestions[s.UnitID] = &s
	}
	for _, id := range plan.order {
		if _, ok := plan.suggestions[id]; ok {
			continue
		}
		u := plan.units[id]
		if u.AlreadyTriggered {
			plan.suggestions[id] = passThrough(u)
			continue
		}
		plan.suggestions[id] = plan.scan(u)
	}
	return plan
}

func (p *Planner) newPlan(idx *booking.Index, start time.Time, units []UnitRef) *Plan {
	plan := &Plan{
		horizonDays: p.horizonDays,
		index:       idx,
		start:       civildate.Midnight(start, idx.Location()),
		units:       make(map[string]UnitRef, len(units)),
		suggestions: make(map[string]*Suggestion, len(units)),
	}
	for _, u := range units {
		if _, dup := plan.units[u.ID]; dup {
			continue
		}
		plan.units[u.ID] = u
		plan.order = append(plan.order, u.ID)
	}
	return plan
}

// StartDate returns the first day scanned.
func (pl *Plan) StartDate() time.Time {
	return pl.start
}

// HorizonDays returns the scan horizon the plan was built with.
func (pl *Plan) HorizonDays() int {
	return pl.horizonDays
}

// Suggestions returns every unit's suggestion in input order.
func (pl *Plan) Suggestions() []Suggestion {
	out := make([]Suggestion, 0, len(pl.order))
	for _, id := range pl.order {
		out = append(out, copySuggestion(pl.suggestions[id]))
	}
	return out
}

// Suggestion returns one unit's suggestion.
func (pl *Plan) Suggestion(unitID string) (Suggestion, bool) {
	s, ok := pl.suggestions[unitID]
	if !ok {
		return Suggestion{}, false
	}
	return copySuggestion(s), true
}

// Unresolved returns the units for which no slot was found.
func (pl *Plan) Unresolved() []Suggestion {
	var out []Suggestion
	for _, id := range pl.order {
		s := pl.suggestions[id]
		if !s.Resolved && !s.AlreadyTriggered {
			out = append(out, copySuggestion(s))
		}
	}
	return out
}

// Pin places unitID at pin and re-checks only that placement against the
// index and the other units' current suggestions.
func (pl *Plan) Pin(unitID string, pin Pin) (Suggestion, error) {
	u, err := pl.plannable(unitID)
	if err != nil {
		return Suggestion{}, err
	}
	if err := validatePin(pin); err != nil {
		return Suggestion{}, err
	}
	s := pl.applyPin(u, pin)
	pl.suggestions[unitID] = s
	return copySuggestion(s), nil
}

// Unpin drops a unit's pin and plans that unit afresh.
func (pl *Plan) Unpin(unitID string) (Suggestion, error) {
	u, err := pl.plannable(unitID)
	if err != nil {
		return Suggestion{}, err
	}
	delete(pl.suggestions, unitID)
	s := pl.scan(u)
	pl.suggestions[unitID] = s
	return copySuggestion(s), nil
}

// Revalidate re-checks a unit's current suggestion. A pin keeps its
// placement and is flagged when it became occupied. An unpinned placement
// that became occupied is planned again and marked Moved; an unresolved unit
// is planned again.
func (pl *Plan) Revalidate(unitID string) (Suggestion, error) {
	u, err := pl.plannable(unitID)
	if err != nil {
		return Suggestion{}, err
	}
	cur := pl.suggestions[unitID]
	var next *Suggestion
	switch {
	case cur != nil && cur.Pinned:
		next = pl.applyPin(u, Pin{Date: cur.Date, SlotStart: cur.Slot.Start})
	case cur != nil && cur.Resolved && pl.available(cur.Date, cur.Slot.Start, unitID):
		next = cur
	default:
		delete(pl.suggestions, unitID)
		next = pl.scan(u)
		if cur != nil && cur.Resolved && next.Resolved {
			next.Moved = true
			next.Reason = fmt.Sprintf("unit %s: suggested slot %s on %s was booked meanwhile, moved to %s on %s",
				u.RoomNumberOrID(), cur.Slot.Label, civildate.Format(cur.Date),
				next.Slot.Label, civildate.Format(next.Date))
		}
	}
	pl.suggestions[unitID] = next
	return copySuggestion(next), nil
}

func (pl *Plan) plannable(unitID string) (UnitRef, error) {
	u, ok := pl.units[unitID]
	if !ok {
		return UnitRef{}, fmt.Errorf("%w: %s", ErrUnknownUnit, unitID)
	}
	if u.AlreadyTriggered {
		return UnitRef{}, fmt.Errorf("%w: %s", ErrAlreadyTriggered, unitID)
	}
	return u, nil
}

func (pl *Plan) applyPin(u UnitRef, pin Pin) *Suggestion {
	slot, _ := timeslot.ByStart(pin.SlotStart)
	date := civildate.Midnight(pin.Date, pl.index.Location())

	s := base(u)
	s.Date = date
	s.Slot = slot
	s.Resolved = true
	s.Pinned = true

	if !pl.available(date, slot.Start, u.ID) {
		s.HasConflict = true
		s.Reason = fmt.Sprintf("unit %s: pinned slot %s on %s is already booked",
			u.RoomNumberOrID(), slot.Label, civildate.Format(date))
		if alt, ok := pl.firstFree(u.ID, date, 0); ok {
			s.Alternative = &alt
		}
	}
	return s
}

func (pl *Plan) scan(u UnitRef) *Suggestion {
	first := 0
	if u.PreferredSlot != "" {
		if i := timeslot.IndexOf(u.PreferredSlot); i >= 0 {
			first = i
		}
	}

	s := base(u)
	placement, ok := pl.firstFree(u.ID, pl.start, first)
	if !ok {
		s.Reason = fmt.Sprintf("unit %s: no free slot within %d days from %s",
			u.RoomNumberOrID(), pl.horizonDays, civildate.Format(pl.start))
		return s
	}
	s.Date = placement.Date
	s.Slot = placement.Slot
	s.Resolved = true
	return s
}

// firstFree walks at most horizonDays days from `from`. On the first day the
// walk starts at slot index firstSlot; later days scan the whole grid.
func (pl *Plan) firstFree(unitID string, from time.Time, firstSlot int) (Placement, bool) {
	slots := timeslot.All()
	for d := 0; d < pl.horizonDays; d++ {
		date := civildate.AddDays(from, d)
		i := 0
		if d == 0 {
			i = firstSlot
		}
		for ; i < len(slots); i++ {
			if pl.available(date, slots[i].Start, unitID) {
				return Placement{Date: date, Slot: slots[i]}, true
			}
		}
	}
	return Placement{}, false
}

// available checks the index (excluding unitID) plus the placements this
// plan already handed to other units. Conflicted pins do not hold a slot.
func (pl *Plan) available(date time.Time, slotStart, unitID string) bool {
	n := pl.index.CountAt(date, slotStart, unitID)
	for id, s := range pl.suggestions {
		if id == unitID || !s.holdsSlot() {
			continue
		}
		if s.Slot.Start == slotStart && civildate.Same(s.Date, date) {
			n++
		}
	}
	return n < booking.SlotCapacity
}

func validatePin(pin Pin) error {
	if pin.Date.IsZero() {
		return ErrInvalidPin
	}
	if _, ok := timeslot.ByStart(pin.SlotStart); !ok {
		return fmt.Errorf("%w: unknown slot %q", ErrInvalidPin, pin.SlotStart)
	}
	return nil
}

// RoomNumberOrID names the unit for messages shown to staff.
func (u UnitRef) RoomNumberOrID() string {
	if u.RoomNumber != "" {
		return u.RoomNumber
	}
	return u.ID
}

func base(u UnitRef) *Suggestion {
	return &Suggestion{
		UnitID:     u.ID,
		RoomNumber: u.RoomNumber,
		TenantName: u.TenantName,
	}
}

func passThrough(u UnitRef) *Suggestion {
	s := base(u)
	s.AlreadyTriggered = true
	return s
}

func copySuggestion(s *Suggestion) Suggestion {
	out := *s
	if s.Alternative != nil {
		alt := *s.Alternative
		out.Alternative = &alt
	}
	return out
}
