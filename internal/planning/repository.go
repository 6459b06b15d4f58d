package planning

import "context"

// DraftRepository defines the interface for plan draft persistence.
type DraftRepository interface {
	// Get retrieves the draft of a schedule.
	// Returns ErrDraftNotFound if the schedule has no draft.
	Get(ctx context.Context, scheduleID string) (*Draft, error)

	// List retrieves every stored draft, most recently updated first.
	List(ctx context.Context) ([]*Draft, error)

	// Save creates or replaces the draft of draft.ScheduleID. The stored
	// version must equal draft.Version (zero when no draft is stored),
	// otherwise ErrDraftConflict is returned. On success draft.Version is
	// advanced to the stored version.
	Save(ctx context.Context, draft *Draft) error

	// Delete deletes the draft of a schedule if it is still at version.
	// Deleting a missing draft is not an error; a draft saved since returns
	// ErrDraftConflict.
	Delete(ctx context.Context, scheduleID string, version int64) error
}
