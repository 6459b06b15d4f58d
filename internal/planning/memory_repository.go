package planning

import (
	"context"
	"sort"
	"sync"

	"github.com/rentwise/rentwise/internal/planner"
)

// InMemoryDraftRepository is an in-memory implementation of DraftRepository.
// It backs tests and DRAFT_STORE=memory; drafts are lost on restart.
type InMemoryDraftRepository struct {
	mu     sync.RWMutex
	drafts map[string]*Draft
}

// NewInMemoryDraftRepository creates a new in-memory draft repository.
func NewInMemoryDraftRepository() *InMemoryDraftRepository {
	return &InMemoryDraftRepository{
		drafts: make(map[string]*Draft),
	}
}

// Get retrieves the draft of a schedule.
func (r *InMemoryDraftRepository) Get(_ context.Context, scheduleID string) (*Draft, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.drafts[scheduleID]
	if !ok {
		return nil, ErrDraftNotFound
	}
	return copyDraft(d), nil
}

// List retrieves every stored draft, most recently updated first.
func (r *InMemoryDraftRepository) List(_ context.Context) ([]*Draft, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Draft, 0, len(r.drafts))
	for _, d := range r.drafts {
		out = append(out, copyDraft(d))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Save creates or replaces a draft when the stored version still matches.
func (r *InMemoryDraftRepository) Save(_ context.Context, draft *Draft) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var current int64
	if d, ok := r.drafts[draft.ScheduleID]; ok {
		current = d.Version
	}
	if current != draft.Version {
		return ErrDraftConflict
	}

	draft.Version = current + 1
	r.drafts[draft.ScheduleID] = copyDraft(draft)
	return nil
}

// Delete deletes the draft of a schedule when it is still at version.
func (r *InMemoryDraftRepository) Delete(_ context.Context, scheduleID string, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.drafts[scheduleID]
	if !ok {
		return nil
	}
	if d.Version != version {
		return ErrDraftConflict
	}
	delete(r.drafts, scheduleID)
	return nil
}

func copyDraft(d *Draft) *Draft {
	cpy := *d
	cpy.Suggestions = make([]planner.Suggestion, len(d.Suggestions))
	for i, s := range d.Suggestions {
		if s.Alternative != nil {
			alt := *s.Alternative
			s.Alternative = &alt
		}
		cpy.Suggestions[i] = s
	}
	return &cpy
}
