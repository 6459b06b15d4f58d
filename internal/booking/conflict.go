package booking

import (
	"sort"
	"time"

	"github.com/rentwise/rentwise/internal/timeslot"
	"github.com/rentwise/rentwise/pkg/civildate"
)

// Clash is a slot on one date held by more than one unit.
type Clash struct {
	Date       time.Time
	Slot       timeslot.Slot
	UnitIDs    []string
	RequestIDs []string
}

// Detector answers display-side conflict questions over an Index.
//
// Unlike Index.IsAvailable, which excludes the unit being planned, the
// detector counts every occupant, the unit itself included.
type Detector struct {
	index *Index
}

// NewDetector creates a Detector over idx.
func NewDetector(idx *Index) *Detector {
	return &Detector{index: idx}
}

// CheckConflicts returns the occupancy of every slot on date.
func (d *Detector) CheckConflicts(date time.Time) map[string]int {
	return d.index.Occupancy(date)
}

// HasConflictOnDate reports whether any of unitID's own bookings on date
// shares its slot with at least one other booking.
func (d *Detector) HasConflictOnDate(date time.Time, unitID string) bool {
	day := civildate.Midnight(date, d.index.loc)
	for _, b := range d.index.BookingsFor(unitID) {
		if !civildate.Same(b.Date, day) {
			continue
		}
		if d.index.CountAt(b.Date, b.Slot.Start, "") >= 2 {
			return true
		}
	}
	return false
}

// Clashes lists every double-booked slot on date in slot order.
func (d *Detector) Clashes(date time.Time) []Clash {
	var out []Clash
	for _, s := range timeslot.All() {
		cell := d.index.BookingsAt(date, s.Start)
		if len(cell) < 2 {
			continue
		}
		c := Clash{Date: civildate.Midnight(date, d.index.loc), Slot: s}
		for _, b := range cell {
			c.UnitIDs = append(c.UnitIDs, b.UnitID)
			c.RequestIDs = append(c.RequestIDs, b.SourceRequestID)
		}
		out = append(out, c)
	}
	return out
}

// ConflictingUnits returns the ids of units that are double-booked on date.
func (d *Detector) ConflictingUnits(date time.Time) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range d.Clashes(date) {
		for _, id := range c.UnitIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
