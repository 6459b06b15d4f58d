package booking

import (
	"errors"
	"sort"
	"time"

	"github.com/rentwise/rentwise/internal/maintenance"
	"github.com/rentwise/rentwise/internal/timeslot"
	"github.com/rentwise/rentwise/pkg/civildate"
)

// SlotCapacity is the number of occupants a slot can hold per day.
// One maintenance crew is assumed, so any booking takes the slot.
const SlotCapacity = 1

// Booking is one occupied slot derived from a maintenance request.
type Booking struct {
	UnitID          string
	Date            time.Time
	Slot            timeslot.Slot
	SourceRequestID string
	Status          maintenance.RequestStatus
}

// IssueKind classifies why a request could not be indexed.
type IssueKind string

const (
	IssueMissingTime    IssueKind = "MISSING_PREFERRED_TIME"
	IssueUnparsableTime IssueKind = "UNPARSABLE_PREFERRED_TIME"
	IssueOutsideGrid    IssueKind = "OUTSIDE_SLOT_GRID"
)

// Issue records one data-quality problem found while building an index.
type Issue struct {
	RequestID     string
	UnitID        string
	Kind          IssueKind
	PreferredTime string
}

// Stats summarizes an index build.
type Stats struct {
	Total           int
	Indexed         int
	SkippedInactive int
	MissingTime     int
	UnparsableTime  int
	OutsideGrid     int
}

// DataQualityIssues returns the number of requests skipped because of dirty data.
// Inactive (completed/cancelled) requests are expected and not counted.
func (s Stats) DataQualityIssues() int {
	return s.MissingTime + s.UnparsableTime + s.OutsideGrid
}

type cellKey struct {
	date      string
	slotStart string
}

// Index is an immutable snapshot of slot occupancy.
// It is rebuilt from fresh backend data whenever the request list changes.
type Index struct {
	loc      *time.Location
	cells    map[cellKey][]Booking
	bookings []Booking
	issues   []Issue
	stats    Stats
}

// BuildOptions configures Build.
type BuildOptions struct {
	// Location in which preferred times are interpreted. Default: UTC.
	Location *time.Location
}

// Build indexes every request that holds a slot. Requests with a missing,
// unparsable or off-grid preferred time are treated as holding no booking
// and are reported through Stats and Issues.
func Build(requests []maintenance.Request, opts BuildOptions) *Index {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	idx := &Index{
		loc:   loc,
		cells: make(map[cellKey][]Booking),
	}
	idx.stats.Total = len(requests)

	for i := range requests {
		r := &requests[i]
		if !r.Status.OccupiesSlot() {
			idx.stats.SkippedInactive++
			continue
		}

		pt, err := ParsePreferredTime(r.PreferredTime, loc)
		if err != nil {
			kind := IssueUnparsableTime
			if errors.Is(err, ErrMissingPreferredTime) {
				kind = IssueMissingTime
				idx.stats.MissingTime++
			} else {
				idx.stats.UnparsableTime++
			}
			idx.issues = append(idx.issues, Issue{RequestID: r.ID, UnitID: r.UnitID, Kind: kind, PreferredTime: r.PreferredTime})
			continue
		}

		slot, ok := timeslot.ForTime(pt.Time)
		if !ok {
			idx.stats.OutsideGrid++
			idx.issues = append(idx.issues, Issue{RequestID: r.ID, UnitID: r.UnitID, Kind: IssueOutsideGrid, PreferredTime: r.PreferredTime})
			continue
		}

		b := Booking{
			UnitID:          r.UnitID,
			Date:            pt.Date,
			Slot:            slot,
			SourceRequestID: r.ID,
			Status:          r.Status,
		}
		key := cellKey{date: civildate.Format(pt.Date), slotStart: slot.Start}
		idx.cells[key] = append(idx.cells[key], b)
		idx.bookings = append(idx.bookings, b)
		idx.stats.Indexed++
	}

	sort.SliceStable(idx.bookings, func(i, j int) bool {
		a, b := idx.bookings[i], idx.bookings[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Slot.Start < b.Slot.Start
	})

	return idx
}

// Location returns the location dates in this index are interpreted in.
func (x *Index) Location() *time.Location {
	return x.loc
}

// CountAt returns the number of bookings at date/slotStart. When excludingUnitID
// is non-empty, that unit's own bookings are not counted.
func (x *Index) CountAt(date time.Time, slotStart, excludingUnitID string) int {
	slot, ok := timeslot.ByStart(slotStart)
	if !ok {
		return 0
	}
	key := cellKey{date: civildate.Format(civildate.Midnight(date, x.loc)), slotStart: slot.Start}
	n := 0
	for _, b := range x.cells[key] {
		if excludingUnitID != "" && b.UnitID == excludingUnitID {
			continue
		}
		n++
	}
	return n
}

// IsAvailable reports whether date/slotStart has room, ignoring excludingUnitID's
// own bookings. Unknown slot starts are never available.
func (x *Index) IsAvailable(date time.Time, slotStart, excludingUnitID string) bool {
	if _, ok := timeslot.ByStart(slotStart); !ok {
		return false
	}
	return x.CountAt(date, slotStart, excludingUnitID) < SlotCapacity
}

// Occupancy returns the booking count for every slot of date, keyed by slot start.
// Free slots are present with a zero count.
func (x *Index) Occupancy(date time.Time) map[string]int {
	out := make(map[string]int, timeslot.Count())
	for _, s := range timeslot.All() {
		out[s.Start] = x.CountAt(date, s.Start, "")
	}
	return out
}

// BookingsAt returns the bookings in one cell.
func (x *Index) BookingsAt(date time.Time, slotStart string) []Booking {
	slot, ok := timeslot.ByStart(slotStart)
	if !ok {
		return nil
	}
	key := cellKey{date: civildate.Format(civildate.Midnight(date, x.loc)), slotStart: slot.Start}
	cell := x.cells[key]
	out := make([]Booking, len(cell))
	copy(out, cell)
	return out
}

// Bookings returns every indexed booking ordered by date then slot.
func (x *Index) Bookings() []Booking {
	out := make([]Booking, len(x.bookings))
	copy(out, x.bookings)
	return out
}

// BookingsFor returns a unit's bookings ordered by date then slot.
func (x *Index) BookingsFor(unitID string) []Booking {
	var out []Booking
	for _, b := range x.bookings {
		if b.UnitID == unitID {
			out = append(out, b)
		}
	}
	return out
}

// Stats returns the build summary.
func (x *Index) Stats() Stats {
	return x.stats
}

// Issues returns the data-quality problems found during the build.
func (x *Index) Issues() []Issue {
	out := make([]Issue, len(x.issues))
	copy(out, x.issues)
	return out
}
