package planning_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentwise/rentwise/internal/planner"
	"github.com/rentwise/rentwise/internal/planning"
	"github.com/rentwise/rentwise/internal/timeslot"
)

func TestInMemoryDraftRepository(t *testing.T) {
	ctx := context.Background()
	repo := planning.NewInMemoryDraftRepository()

	_, err := repo.Get(ctx, "s1")
	assert.ErrorIs(t, err, planning.ErrDraftNotFound)

	slot, _ := timeslot.ByStart("08:00")
	older := &planning.Draft{
		ID:          "d1",
		ScheduleID:  "s1",
		TriggerDate: day("2025-11-20"),
		Suggestions: []planner.Suggestion{{
			UnitID:      "u1",
			Resolved:    true,
			Pinned:      true,
			HasConflict: true,
			Date:        day("2025-11-20"),
			Slot:        slot,
			Alternative: &planner.Placement{Date: day("2025-11-21"), Slot: slot},
		}},
		UpdatedAt: time.Date(2025, 11, 15, 9, 0, 0, 0, time.UTC),
	}
	newer := &planning.Draft{ID: "d2", ScheduleID: "s2", UpdatedAt: older.UpdatedAt.Add(time.Hour)}
	require.NoError(t, repo.Save(ctx, older))
	require.NoError(t, repo.Save(ctx, newer))

	// Mutating the caller's copy must not leak into the store.
	older.Suggestions[0].Alternative.Date = day("2030-01-01")

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Suggestions[0].Alternative.Date.Equal(day("2025-11-21")))
	assert.Equal(t, map[string]planner.Pin{"u1": {Date: day("2025-11-20"), SlotStart: "08:00"}}, got.Pins())

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "d2", all[0].ID)

	require.NoError(t, repo.Delete(ctx, "s1", older.Version))
	require.NoError(t, repo.Delete(ctx, "s1", older.Version))
	_, err = repo.Get(ctx, "s1")
	assert.ErrorIs(t, err, planning.ErrDraftNotFound)
}

func TestInMemoryDraftRepository_VersionCheck(t *testing.T) {
	ctx := context.Background()
	repo := planning.NewInMemoryDraftRepository()

	first := &planning.Draft{ID: "d1", ScheduleID: "s1"}
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	// Both readers start from version 1; only the first write lands.
	a, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	b, err := repo.Get(ctx, "s1")
	require.NoError(t, err)

	a.PreferredSlot = "10:00"
	require.NoError(t, repo.Save(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.PreferredSlot = "15:00"
	assert.ErrorIs(t, repo.Save(ctx, b), planning.ErrDraftConflict)

	// A second insert of a new draft conflicts as well.
	assert.ErrorIs(t, repo.Save(ctx, &planning.Draft{ID: "d9", ScheduleID: "s1"}), planning.ErrDraftConflict)

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "10:00", got.PreferredSlot)

	assert.ErrorIs(t, repo.Delete(ctx, "s1", 1), planning.ErrDraftConflict)
	require.NoError(t, repo.Delete(ctx, "s1", 2))
}

func TestInMemoryDraftRepository_ConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	repo := planning.NewInMemoryDraftRepository()

	const writers = 8
	var (
		wg       sync.WaitGroup
		saved    atomic.Int32
		conflict atomic.Int32
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Save(ctx, &planning.Draft{ID: "d1", ScheduleID: "s1"})
			switch {
			case err == nil:
				saved.Add(1)
			case errors.Is(err, planning.ErrDraftConflict):
				conflict.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), saved.Load())
	assert.Equal(t, int32(writers-1), conflict.Load())
}
