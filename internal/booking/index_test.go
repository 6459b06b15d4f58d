package booking_test

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentwise/rentwise/internal/booking"
	"github.com/rentwise/rentwise/internal/maintenance"
	"github.com/rentwise/rentwise/internal/timeslot"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func req(id, unit, preferred string, status maintenance.RequestStatus) maintenance.Request {
	return maintenance.Request{ID: id, UnitID: unit, PreferredTime: preferred, Status: status}
}

func TestIndex_SingleBookingBlocksItsSlot(t *testing.T) {
	idx := booking.Build([]maintenance.Request{
		req("r1", "1", "2025-11-20 14:00", maintenance.StatusSubmitted),
	}, booking.BuildOptions{})

	assert.False(t, idx.IsAvailable(day("2025-11-20"), "13:00", ""))
	assert.True(t, idx.IsAvailable(day("2025-11-20"), "08:00", ""))
	assert.True(t, idx.IsAvailable(day("2025-11-21"), "13:00", ""))
	assert.Equal(t, 1, idx.CountAt(day("2025-11-20"), "13:00", ""))
}

func TestIndex_CorruptTimeIsCountedNotIndexed(t *testing.T) {
	idx := booking.Build([]maintenance.Request{
		req("r1", "1", "2025-11-20 14:0059", maintenance.StatusSubmitted),
	}, booking.BuildOptions{})

	assert.Equal(t, 0, idx.Stats().Indexed)
	assert.Equal(t, 1, idx.Stats().UnparsableTime)
	require.Len(t, idx.Issues(), 1)
	assert.Equal(t, booking.IssueUnparsableTime, idx.Issues()[0].Kind)
	assert.True(t, idx.IsAvailable(day("2025-11-20"), "13:00", ""))
}

func TestIndex_SkipsInactiveAndDirtyRequests(t *testing.T) {
	idx := booking.Build([]maintenance.Request{
		req("r1", "1", "2025-11-20 08:30", maintenance.StatusCompleted),
		req("r2", "2", "2025-11-20 08:30", maintenance.StatusCancelled),
		req("r3", "3", "", maintenance.StatusSubmitted),
		req("r4", "4", "next tuesday", maintenance.StatusApproved),
		req("r5", "5", "2025-11-20 12:15", maintenance.StatusInProgress),
		req("r6", "6", "2025-11-20 20:00", maintenance.StatusInProgress),
		req("r7", "7", "20/11/2025 15:30", maintenance.StatusWaitingForRepair),
	}, booking.BuildOptions{})

	stats := idx.Stats()
	assert.Equal(t, 7, stats.Total)
	assert.Equal(t, 1, stats.Indexed)
	assert.Equal(t, 2, stats.SkippedInactive)
	assert.Equal(t, 1, stats.MissingTime)
	assert.Equal(t, 1, stats.UnparsableTime)
	assert.Equal(t, 2, stats.OutsideGrid)
	assert.Equal(t, 4, stats.DataQualityIssues())

	issues := idx.Issues()
	require.Len(t, issues, 4)
	assert.Equal(t, booking.IssueMissingTime, issues[0].Kind)
	assert.Equal(t, "r3", issues[0].RequestID)
	assert.Equal(t, booking.IssueUnparsableTime, issues[1].Kind)
	assert.Equal(t, booking.IssueOutsideGrid, issues[2].Kind)

	// Dirty data fails open: nothing is blocked by it.
	assert.True(t, idx.IsAvailable(day("2025-11-20"), "08:00", ""))
	assert.False(t, idx.IsAvailable(day("2025-11-20"), "15:00", ""))
}

func TestIndex_ExcludingUnit(t *testing.T) {
	idx := booking.Build([]maintenance.Request{
		req("r1", "U", "2025-11-20 10:00", maintenance.StatusSubmitted),
		req("r2", "V", "2025-11-20 13:00", maintenance.StatusSubmitted),
		req("r3", "U", "2025-11-20 13:30", maintenance.StatusSubmitted),
	}, booking.BuildOptions{})

	d := day("2025-11-20")

	// Only U holds 10:00, so U may keep it.
	assert.True(t, idx.IsAvailable(d, "10:00", "U"))
	assert.False(t, idx.IsAvailable(d, "10:00", ""))
	assert.False(t, idx.IsAvailable(d, "10:00", "V"))

	// V also holds 13:00, so excluding U still leaves an occupant.
	assert.False(t, idx.IsAvailable(d, "13:00", "U"))
	assert.Equal(t, 1, idx.CountAt(d, "13:00", "U"))
	assert.Equal(t, 2, idx.CountAt(d, "13:00", ""))
}

func TestIndex_UnknownSlotStart(t *testing.T) {
	idx := booking.Build(nil, booking.BuildOptions{})

	assert.Equal(t, 0, idx.CountAt(day("2025-11-20"), "12:00", ""))
	assert.False(t, idx.IsAvailable(day("2025-11-20"), "12:00", ""))
	assert.Nil(t, idx.BookingsAt(day("2025-11-20"), "bogus"))
}

func TestIndex_NormalizesQueryDate(t *testing.T) {
	idx := booking.Build([]maintenance.Request{
		req("r1", "1", "2025-11-20 08:00", maintenance.StatusSubmitted),
	}, booking.BuildOptions{})

	afternoon := time.Date(2025, 11, 20, 16, 45, 0, 0, time.UTC)
	assert.Equal(t, 1, idx.CountAt(afternoon, "8:00", ""))
}

func TestIndex_OccupancyAndOrdering(t *testing.T) {
	idx := booking.Build([]maintenance.Request{
		req("r2", "2", "2025-11-21 08:00", maintenance.StatusSubmitted),
		req("r1", "1", "2025-11-20 17:10", maintenance.StatusSubmitted),
		req("r3", "3", "2025-11-20 08:00", maintenance.StatusSubmitted),
	}, booking.BuildOptions{})

	occ := idx.Occupancy(day("2025-11-20"))
	assert.Equal(t, map[string]int{"08:00": 1, "10:00": 0, "13:00": 0, "15:00": 0, "17:00": 1}, occ)

	ids := make([]string, 0)
	for _, b := range idx.Bookings() {
		ids = append(ids, b.SourceRequestID)
	}
	assert.Equal(t, []string{"r3", "r1", "r2"}, ids)

	forUnit := idx.BookingsFor("1")
	require.Len(t, forUnit, 1)
	assert.Equal(t, "17:00", forUnit[0].Slot.Start)
}

// Counts never exceed the bookings actually present, and self-exclusion
// removes exactly the excluded unit's bookings.
func TestIndex_CountsMatchSource(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	slots := timeslot.All()
	dates := []string{"2025-11-20", "2025-11-21", "2025-11-22"}
	statuses := []maintenance.RequestStatus{
		maintenance.StatusSubmitted, maintenance.StatusApproved,
		maintenance.StatusCompleted, maintenance.StatusCancelled,
	}

	for round := 0; round < 25; round++ {
		var requests []maintenance.Request
		for i := 0; i < 40; i++ {
			requests = append(requests, maintenance.Request{
				ID:            fmt.Sprintf("r%d", i),
				UnitID:        fmt.Sprintf("u%d", rng.Intn(8)),
				PreferredTime: fmt.Sprintf("%s %s", dates[rng.Intn(len(dates))], slots[rng.Intn(len(slots))].Start),
				Status:        statuses[rng.Intn(len(statuses))],
			})
		}

		idx := booking.Build(requests, booking.BuildOptions{})

		for _, ds := range dates {
			for _, s := range slots {
				want := 0
				perUnit := make(map[string]int)
				for _, r := range requests {
					if !r.Status.OccupiesSlot() || r.PreferredTime != ds+" "+s.Start {
						continue
					}
					want++
					perUnit[r.UnitID]++
				}
				require.Equal(t, want, idx.CountAt(day(ds), s.Start, ""))

				for u := 0; u < 8; u++ {
					unit := fmt.Sprintf("u%d", u)
					others := want - perUnit[unit]
					require.Equal(t, others, idx.CountAt(day(ds), s.Start, unit))
					require.Equal(t, others == 0, idx.IsAvailable(day(ds), s.Start, unit))
				}
			}
		}
	}
}
