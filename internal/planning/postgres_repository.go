package planning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rentwise/rentwise/internal/planner"
	"github.com/rentwise/rentwise/internal/timeslot"
	"github.com/rentwise/rentwise/pkg/civildate"
)

// PostgresDraftRepository is a PostgreSQL implementation of DraftRepository.
// Suggestions are stored as a JSONB array on the plan_drafts row:
//
//	CREATE TABLE plan_drafts (
//		id             UUID PRIMARY KEY,
//		schedule_id    TEXT NOT NULL UNIQUE,
//		trigger_date   DATE NOT NULL,
//		preferred_slot TEXT NOT NULL DEFAULT '',
//		suggestions    JSONB NOT NULL,
//		created_at     TIMESTAMPTZ NOT NULL,
//		updated_at     TIMESTAMPTZ NOT NULL,
//		version        BIGINT NOT NULL
//	);
type PostgresDraftRepository struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewPostgresDraftRepository creates a new PostgreSQL draft repository. Dates
// are read back as calendar days in loc (UTC when nil).
func NewPostgresDraftRepository(pool *pgxpool.Pool, loc *time.Location) *PostgresDraftRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &PostgresDraftRepository{pool: pool, loc: loc}
}

// storedSuggestion is the JSONB shape of one suggestion.
type storedSuggestion struct {
	UnitID           string     `json:"unitId"`
	RoomNumber       string     `json:"roomNumber,omitempty"`
	TenantName       string     `json:"tenantName,omitempty"`
	Date             string     `json:"date,omitempty"`
	SlotStart        string     `json:"slotStart,omitempty"`
	Resolved         bool       `json:"resolved"`
	Pinned           bool       `json:"pinned,omitempty"`
	HasConflict      bool       `json:"hasConflict,omitempty"`
	AlreadyTriggered bool       `json:"alreadyTriggered,omitempty"`
	Moved            bool       `json:"moved,omitempty"`
	Alternative      *storedAlt `json:"alternative,omitempty"`
	Reason           string     `json:"reason,omitempty"`
}

type storedAlt struct {
	Date      string `json:"date"`
	SlotStart string `json:"slotStart"`
}

// Get retrieves the draft of a schedule.
func (r *PostgresDraftRepository) Get(ctx context.Context, scheduleID string) (*Draft, error) {
	query := `
		SELECT id, schedule_id, trigger_date, preferred_slot, suggestions, created_at, updated_at, version
		FROM plan_drafts
		WHERE schedule_id = $1
	`

	d, err := r.scanDraft(r.pool.QueryRow(ctx, query, scheduleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDraftNotFound
	}
	return d, err
}

// List retrieves every stored draft, most recently updated first.
func (r *PostgresDraftRepository) List(ctx context.Context) ([]*Draft, error) {
	query := `
		SELECT id, schedule_id, trigger_date, preferred_slot, suggestions, created_at, updated_at, version
		FROM plan_drafts
		ORDER BY updated_at DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []*Draft
	for rows.Next() {
		d, err := r.scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drafts, nil
}

// Save creates or replaces the draft of a schedule. A first save inserts;
// later saves update only the row still at draft.Version.
func (r *PostgresDraftRepository) Save(ctx context.Context, draft *Draft) error {
	payload, err := json.Marshal(encodeSuggestions(draft.Suggestions))
	if err != nil {
		return fmt.Errorf("encoding suggestions: %w", err)
	}

	trigger := civildate.Format(draft.TriggerDate)

	var (
		query string
		args  []any
	)
	if draft.Version == 0 {
		query = `
			INSERT INTO plan_drafts (
				id, schedule_id, trigger_date, preferred_slot, suggestions, created_at, updated_at, version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
			ON CONFLICT (schedule_id) DO NOTHING
		`
		args = []any{draft.ID, draft.ScheduleID, trigger, draft.PreferredSlot, payload, draft.CreatedAt, draft.UpdatedAt}
	} else {
		query = `
			UPDATE plan_drafts SET
				id = $1,
				trigger_date = $3,
				preferred_slot = $4,
				suggestions = $5,
				updated_at = $6,
				version = version + 1
			WHERE schedule_id = $2 AND version = $7
		`
		args = []any{draft.ID, draft.ScheduleID, trigger, draft.PreferredSlot, payload, draft.UpdatedAt, draft.Version}
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDraftConflict
	}
	draft.Version++
	return nil
}

// Delete deletes the draft of a schedule when it is still at version.
func (r *PostgresDraftRepository) Delete(ctx context.Context, scheduleID string, version int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM plan_drafts WHERE schedule_id = $1 AND version = $2`, scheduleID, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM plan_drafts WHERE schedule_id = $1)`, scheduleID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrDraftConflict
	}
	return nil
}

func (r *PostgresDraftRepository) scanDraft(row pgx.Row) (*Draft, error) {
	var (
		d           Draft
		triggerDate time.Time
		payload     []byte
	)
	err := row.Scan(
		&d.ID,
		&d.ScheduleID,
		&triggerDate,
		&d.PreferredSlot,
		&payload,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.Version,
	)
	if err != nil {
		return nil, err
	}

	// DATE columns come back as UTC midnight.
	d.TriggerDate = time.Date(triggerDate.Year(), triggerDate.Month(), triggerDate.Day(), 0, 0, 0, 0, r.loc)

	var stored []storedSuggestion
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("decoding suggestions of draft %s: %w", d.ID, err)
	}
	d.Suggestions = decodeSuggestions(stored, r.loc)
	return &d, nil
}

func encodeSuggestions(in []planner.Suggestion) []storedSuggestion {
	out := make([]storedSuggestion, 0, len(in))
	for _, s := range in {
		ss := storedSuggestion{
			UnitID:           s.UnitID,
			RoomNumber:       s.RoomNumber,
			TenantName:       s.TenantName,
			Resolved:         s.Resolved,
			Pinned:           s.Pinned,
			HasConflict:      s.HasConflict,
			AlreadyTriggered: s.AlreadyTriggered,
			Moved:            s.Moved,
			Reason:           s.Reason,
		}
		if s.Resolved {
			ss.Date = civildate.Format(s.Date)
			ss.SlotStart = s.Slot.Start
		}
		if s.Alternative != nil {
			ss.Alternative = &storedAlt{Date: civildate.Format(s.Alternative.Date), SlotStart: s.Alternative.Slot.Start}
		}
		out = append(out, ss)
	}
	return out
}

// decodeSuggestions drops placements that no longer parse or name a grid
// slot; the unit is then planned afresh on the next restore.
func decodeSuggestions(in []storedSuggestion, loc *time.Location) []planner.Suggestion {
	out := make([]planner.Suggestion, 0, len(in))
	for _, ss := range in {
		s := planner.Suggestion{
			UnitID:           ss.UnitID,
			RoomNumber:       ss.RoomNumber,
			TenantName:       ss.TenantName,
			Pinned:           ss.Pinned,
			HasConflict:      ss.HasConflict,
			AlreadyTriggered: ss.AlreadyTriggered,
			Moved:            ss.Moved,
			Reason:           ss.Reason,
		}
		if ss.Resolved {
			date, err := civildate.Parse(ss.Date, loc)
			slot, ok := timeslot.ByStart(ss.SlotStart)
			if err != nil || !ok {
				continue
			}
			s.Date, s.Slot, s.Resolved = date, slot, true
		}
		if ss.Alternative != nil {
			date, err := civildate.Parse(ss.Alternative.Date, loc)
			slot, ok := timeslot.ByStart(ss.Alternative.SlotStart)
			if err == nil && ok {
				s.Alternative = &planner.Placement{Date: date, Slot: slot}
			}
		}
		out = append(out, s)
	}
	return out
}
