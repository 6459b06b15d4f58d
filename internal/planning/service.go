package planning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rentwise/rentwise/internal/api/models"
	"github.com/rentwise/rentwise/internal/booking"
	"github.com/rentwise/rentwise/internal/maintenance"
	"github.com/rentwise/rentwise/internal/planner"
	"github.com/rentwise/rentwise/internal/recurrence"
	"github.com/rentwise/rentwise/internal/timeslot"
	"github.com/rentwise/rentwise/pkg/civildate"
)

const tracerName = "github.com/rentwise/rentwise/internal/planning"

// MaxOccurrences bounds NextOccurrences.
const MaxOccurrences = 24

// Draft edits that lose a race with another request are replayed on the
// newer draft this many times before ErrDraftConflict reaches the caller.
const (
	draftRetries         = 4
	draftRetryInitial    = 10 * time.Millisecond
	draftRetryMaxBackoff = 200 * time.Millisecond
)

// Backend is the subset of the property backend the service reads and writes.
type Backend interface {
	ListRequests(ctx context.Context) ([]maintenance.Request, error)
	ListUnits(ctx context.Context) ([]maintenance.Unit, error)
	ListSchedules(ctx context.Context) ([]*maintenance.Schedule, error)
	GetSchedule(ctx context.Context, id string) (*maintenance.Schedule, error)
	ScheduleHistory(ctx context.Context, id string) ([]maintenance.TriggerRecord, error)
	TriggerSchedule(ctx context.Context, scheduleID string, in maintenance.TriggerInput) (*maintenance.TriggerResult, error)
}

// ServiceConfig holds configuration for the planning service.
type ServiceConfig struct {
	// Backend is the property backend (required).
	Backend Backend

	// Drafts stores plan drafts. Default: in-memory.
	Drafts DraftRepository

	// Planner computes suggestions. Default: 30-day horizon.
	Planner *planner.Planner

	// Recurrence computes schedule occurrences. Default: in Location.
	Recurrence *recurrence.Calculator

	// Location in which dates and preferred times are interpreted. Default: UTC.
	Location *time.Location

	// Logger for service operations.
	Logger zerolog.Logger

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

// Service plans maintenance schedules against live backend data.
type Service struct {
	backend    Backend
	drafts     DraftRepository
	planner    *planner.Planner
	recurrence *recurrence.Calculator
	loc        *time.Location
	logger     zerolog.Logger
	now        func() time.Time
	tracer     trace.Tracer
}

// NewService creates a new planning service.
func NewService(cfg ServiceConfig) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	drafts := cfg.Drafts
	if drafts == nil {
		drafts = NewInMemoryDraftRepository()
	}
	p := cfg.Planner
	if p == nil {
		p, _ = planner.New(planner.Options{})
	}
	rc := cfg.Recurrence
	if rc == nil {
		rc = recurrence.NewCalculator(loc)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		backend:    cfg.Backend,
		drafts:     drafts,
		planner:    p,
		recurrence: rc,
		loc:        loc,
		logger:     cfg.Logger,
		now:        now,
		tracer:     otel.Tracer(tracerName),
	}
}

// Location returns the location dates are interpreted in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Today returns midnight of the current date in the service location.
func (s *Service) Today() time.Time {
	return civildate.Midnight(s.now(), s.loc)
}

// snapshot is everything fetched for one schedule occurrence.
type snapshot struct {
	schedule *maintenance.Schedule
	units    []planner.UnitRef
	index    *booking.Index
}

// Suggest plans the next occurrence of a schedule. Pins from an existing
// draft for the same trigger date are re-applied. The result is saved as
// the schedule's draft.
func (s *Service) Suggest(ctx context.Context, in SuggestInput) (*PlanResult, error) {
	ctx, span := s.tracer.Start(ctx, "planning.Suggest", trace.WithAttributes(
		attribute.String("schedule.id", in.ScheduleID),
	))
	defer span.End()

	if in.PreferredSlot != "" {
		if _, ok := timeslot.ByStart(in.PreferredSlot); !ok {
			return nil, &ValidationError{Errors: []models.FieldError{
				{Field: "preferredSlot", Message: "must be the start of a slot", Code: "invalid_slot"},
			}}
		}
	}

	var (
		snap  *snapshot
		draft *Draft
		pins  map[string]planner.Pin
	)
	err := s.retryOnConflict(ctx, func() error {
		sched, err := s.schedule(ctx, in.ScheduleID)
		if err != nil {
			return err
		}
		prior, err := s.currentDraft(ctx, sched)
		if err != nil {
			return err
		}
		snap, err = s.fetch(ctx, sched, in.PreferredSlot)
		if err != nil {
			return err
		}

		pins = nil
		if prior != nil {
			pins = prior.Pins()
		}

		plan, err := s.planner.Suggest(snap.schedule, snap.units, snap.index, pins)
		if err != nil {
			return err
		}

		draft, err = s.save(ctx, prior, snap.schedule, in.PreferredSlot, plan)
		return err
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	result := s.result(snap, draft)
	span.SetAttributes(
		attribute.Int("plan.units", len(result.Suggestions)),
		attribute.Int("plan.unresolved", result.Unresolved),
	)
	s.log(ctx).Info().
		Str("schedule_id", in.ScheduleID).
		Str("trigger_date", civildate.Format(snap.schedule.NextTriggerDate)).
		Int("units", len(result.Suggestions)).
		Int("unresolved", result.Unresolved).
		Int("pins", len(pins)).
		Msg("plan suggested")
	return result, nil
}

// Pin places one unit at a caller-chosen date and slot. Only that unit is
// re-checked; the other suggestions of the draft are left as they are.
func (s *Service) Pin(ctx context.Context, scheduleID, unitID string, in PinInput) (*PlanResult, error) {
	var fieldErrors []models.FieldError
	if in.Date.IsZero() {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "date", Message: "is required", Code: "required"})
	}
	if _, ok := timeslot.ByStart(in.SlotStart); !ok {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "slotStart", Message: "must be the start of a slot", Code: "invalid_slot"})
	}
	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Errors: fieldErrors}
	}

	return s.mutate(ctx, scheduleID, func(plan *planner.Plan) error {
		_, err := plan.Pin(unitID, planner.Pin{Date: in.Date, SlotStart: in.SlotStart})
		return err
	})
}

// Unpin drops a unit's pin and plans that unit again.
func (s *Service) Unpin(ctx context.Context, scheduleID, unitID string) (*PlanResult, error) {
	return s.mutate(ctx, scheduleID, func(plan *planner.Plan) error {
		_, err := plan.Unpin(unitID)
		return err
	})
}

// mutate applies fn to the schedule's current plan and saves it. When another
// request saved the draft in between, fn is replayed on the newer draft so
// neither change is lost.
func (s *Service) mutate(ctx context.Context, scheduleID string, fn func(*planner.Plan) error) (*PlanResult, error) {
	var (
		snap  *snapshot
		draft *Draft
	)
	err := s.retryOnConflict(ctx, func() error {
		var (
			plan  *planner.Plan
			prior *Draft
			err   error
		)
		snap, plan, prior, err = s.restore(ctx, scheduleID)
		if err != nil {
			return err
		}
		if err := fn(plan); err != nil {
			return err
		}
		preferred := ""
		if prior != nil {
			preferred = prior.PreferredSlot
		}
		draft, err = s.save(ctx, prior, snap.schedule, preferred, plan)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.result(snap, draft), nil
}

// retryOnConflict runs op until it succeeds, fails with anything other than
// ErrDraftConflict, or the retries run out.
func (s *Service) retryOnConflict(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = draftRetryInitial
	bo.MaxInterval = draftRetryMaxBackoff
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, draftRetries), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrDraftConflict):
			s.log(ctx).Debug().Int("attempt", attempt).Msg("draft changed concurrently, replaying edit")
			return err
		default:
			return backoff.Permanent(err)
		}
	}, policy)
}

// Commit triggers the schedule for every committable unit of the draft.
// Each placement is re-validated against fresh data first. A placement that
// got booked in the meantime is skipped and kept in the draft for review.
// Per-unit failures are collected; the draft is deleted only when nothing
// failed and nothing awaits review.
func (s *Service) Commit(ctx context.Context, scheduleID string) (*CommitResult, error) {
	ctx, span := s.tracer.Start(ctx, "planning.Commit", trace.WithAttributes(
		attribute.String("schedule.id", scheduleID),
	))
	defer span.End()

	snap, plan, prior, err := s.restore(ctx, scheduleID)
	if err != nil {
		return nil, s.fail(span, err)
	}

	result := &CommitResult{ScheduleID: scheduleID}
	review := 0 // moved or conflicted placements staff still have to confirm
	for _, u := range snap.units {
		if u.AlreadyTriggered {
			result.add(CommitOutcome{
				UnitID:     u.ID,
				RoomNumber: u.RoomNumber,
				Status:     CommitSkipped,
				Reason:     "already triggered for this occurrence",
			})
			continue
		}

		sug, err := plan.Revalidate(u.ID)
		if err != nil {
			return nil, s.fail(span, err)
		}
		if !sug.Committable() {
			if sug.Moved || sug.HasConflict {
				review++
			}
			result.add(CommitOutcome{
				UnitID:     u.ID,
				RoomNumber: u.RoomNumber,
				Status:     CommitSkipped,
				Reason:     sug.Reason,
			})
			continue
		}

		preferredTime := booking.FormatPreferredTime(sug.Date, sug.Slot)
		out := CommitOutcome{UnitID: u.ID, RoomNumber: u.RoomNumber, PreferredTime: preferredTime}

		res, err := s.backend.TriggerSchedule(ctx, scheduleID, maintenance.TriggerInput{
			UnitID:        u.ID,
			PreferredTime: preferredTime,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, s.fail(span, ctx.Err())
			}
			out.Status = CommitFailed
			out.Reason = err.Error()
			s.log(ctx).Warn().Err(err).
				Str("schedule_id", scheduleID).
				Str("unit_id", u.ID).
				Str("preferred_time", preferredTime).
				Msg("trigger failed")
			result.add(out)
			continue
		}

		out.Status = CommitTriggered
		out.RequestID = res.RequestID
		result.add(out)
	}

	// The backend has been written to at this point. A draft changed by a
	// concurrent pin is left for staff to review instead of failing the commit.
	var version int64
	if prior != nil {
		version = prior.Version
	}
	if result.Failed == 0 && review == 0 {
		err := s.drafts.Delete(ctx, scheduleID, version)
		switch {
		case err == nil:
			result.DraftDeleted = true
		case errors.Is(err, ErrDraftConflict):
			s.log(ctx).Warn().Str("schedule_id", scheduleID).Msg("draft changed during commit, keeping it")
		default:
			return nil, s.fail(span, fmt.Errorf("deleting draft: %w", err))
		}
	} else {
		preferred := ""
		if prior != nil {
			preferred = prior.PreferredSlot
		}
		_, err := s.save(ctx, prior, snap.schedule, preferred, plan)
		switch {
		case err == nil:
		case errors.Is(err, ErrDraftConflict):
			s.log(ctx).Warn().Str("schedule_id", scheduleID).Msg("draft changed during commit, keeping the newer one")
		default:
			return nil, s.fail(span, err)
		}
	}

	span.SetAttributes(
		attribute.Int("commit.triggered", result.Triggered),
		attribute.Int("commit.skipped", result.Skipped),
		attribute.Int("commit.failed", result.Failed),
	)
	s.log(ctx).Info().
		Str("schedule_id", scheduleID).
		Int("triggered", result.Triggered).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("plan committed")
	return result, nil
}

func (r *CommitResult) add(o CommitOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case CommitTriggered:
		r.Triggered++
	case CommitSkipped:
		r.Skipped++
	case CommitFailed:
		r.Failed++
	}
}

// Occupancy returns how many bookings hold each slot of date.
func (s *Service) Occupancy(ctx context.Context, date time.Time) (*DayOccupancy, error) {
	idx, err := s.index(ctx)
	if err != nil {
		return nil, err
	}

	day := civildate.Midnight(date, s.loc)
	counts := idx.Occupancy(day)
	out := &DayOccupancy{Date: day, Stats: idx.Stats()}
	for _, slot := range timeslot.All() {
		out.Slots = append(out.Slots, SlotOccupancy{
			Slot:     slot,
			Count:    counts[slot.Start],
			Bookings: idx.BookingsAt(day, slot.Start),
		})
	}
	return out, nil
}

// Conflicts returns the slots of date held by more than one unit.
func (s *Service) Conflicts(ctx context.Context, date time.Time) (*DayConflicts, error) {
	idx, err := s.index(ctx)
	if err != nil {
		return nil, err
	}

	day := civildate.Midnight(date, s.loc)
	d := booking.NewDetector(idx)
	return &DayConflicts{
		Date:    day,
		Clashes: d.Clashes(day),
		Units:   d.ConflictingUnits(day),
		Stats:   idx.Stats(),
	}, nil
}

// NextOccurrences returns up to count run dates of a schedule strictly after
// after. A count below 1 means 1.
func (s *Service) NextOccurrences(ctx context.Context, scheduleID string, after time.Time, count int) (*Occurrences, error) {
	if count > MaxOccurrences {
		return nil, &ValidationError{Errors: []models.FieldError{
			{Field: "count", Message: fmt.Sprintf("must be at most %d", MaxOccurrences), Code: "out_of_range"},
		}}
	}
	count = max(count, 1)

	sched, err := s.backend.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	dates, status, err := s.recurrence.Upcoming(sched, after, count)
	if err != nil {
		return nil, err
	}
	return &Occurrences{ScheduleID: scheduleID, Status: status, Dates: dates}, nil
}

// NextOccurrence returns the next run date of a schedule after after.
func (s *Service) NextOccurrence(ctx context.Context, scheduleID string, after time.Time) (recurrence.Next, error) {
	sched, err := s.backend.GetSchedule(ctx, scheduleID)
	if err != nil {
		return recurrence.Next{}, err
	}
	return s.recurrence.NextOccurrence(sched, after)
}

// DueSchedules returns the runnable schedules whose next trigger date is at
// most NotifyDaysBefore days after today. Overdue schedules are included.
func (s *Service) DueSchedules(ctx context.Context, today time.Time) ([]DueSchedule, error) {
	schedules, err := s.backend.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}

	today = civildate.Midnight(today, s.loc)
	var due []DueSchedule
	for _, sched := range schedules {
		if !sched.Runnable() || sched.NextTriggerDate.IsZero() {
			continue
		}
		days := civildate.DaysBetween(today, civildate.Midnight(sched.NextTriggerDate, s.loc))
		if days > max(sched.NotifyDaysBefore, 0) {
			continue
		}
		due = append(due, DueSchedule{Schedule: sched, DaysUntil: days})
	}
	return due, nil
}

// Drafts lists every stored draft.
func (s *Service) Drafts(ctx context.Context) ([]*Draft, error) {
	return s.drafts.List(ctx)
}

// schedule loads a schedule that can be planned.
func (s *Service) schedule(ctx context.Context, scheduleID string) (*maintenance.Schedule, error) {
	sched, err := s.backend.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if !sched.Runnable() {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotRunnable, scheduleID)
	}
	if sched.NextTriggerDate.IsZero() {
		return nil, fmt.Errorf("schedule %s: %w", scheduleID, planner.ErrMissingTriggerDate)
	}
	return sched, nil
}

// fetch loads the target units of sched, their trigger history and the
// booking index.
func (s *Service) fetch(ctx context.Context, sched *maintenance.Schedule, preferredSlot string) (*snapshot, error) {
	units, err := s.backend.ListUnits(ctx)
	if err != nil {
		return nil, err
	}
	targets, err := maintenance.ResolveTargets(sched, units)
	if err != nil {
		return nil, err
	}

	history, err := s.backend.ScheduleHistory(ctx, sched.ID)
	if err != nil {
		return nil, err
	}
	triggered := make(map[string]bool)
	for _, rec := range history {
		if civildate.Same(civildate.Midnight(rec.TriggerDate, s.loc), civildate.Midnight(sched.NextTriggerDate, s.loc)) {
			triggered[rec.UnitID] = true
		}
	}

	idx, err := s.index(ctx)
	if err != nil {
		return nil, err
	}

	refs := make([]planner.UnitRef, 0, len(targets))
	for _, u := range targets {
		refs = append(refs, planner.UnitRef{
			ID:               u.ID,
			RoomNumber:       u.RoomNumber,
			TenantName:       u.TenantName,
			PreferredSlot:    preferredSlot,
			AlreadyTriggered: triggered[u.ID],
		})
	}
	return &snapshot{schedule: sched, units: refs, index: idx}, nil
}

// index builds a booking index from the current request list.
func (s *Service) index(ctx context.Context) (*booking.Index, error) {
	requests, err := s.backend.ListRequests(ctx)
	if err != nil {
		return nil, err
	}

	idx := booking.Build(requests, booking.BuildOptions{Location: s.loc})
	stats := idx.Stats()
	if stats.DataQualityIssues() > 0 {
		for _, issue := range idx.Issues() {
			s.log(ctx).Warn().
				Str("request_id", issue.RequestID).
				Str("unit_id", issue.UnitID).
				Str("kind", string(issue.Kind)).
				Str("preferred_time", issue.PreferredTime).
				Msg("request skipped while indexing")
		}
	}
	s.log(ctx).Debug().
		Int("total", stats.Total).
		Int("indexed", stats.Indexed).
		Int("skipped_inactive", stats.SkippedInactive).
		Int("missing_time", stats.MissingTime).
		Int("unparsable_time", stats.UnparsableTime).
		Int("outside_grid", stats.OutsideGrid).
		Msg("booking index built")
	return idx, nil
}

// currentDraft returns the schedule's draft when it was made for the
// schedule's current trigger date, or nil.
func (s *Service) currentDraft(ctx context.Context, sched *maintenance.Schedule) (*Draft, error) {
	d, err := s.drafts.Get(ctx, sched.ID)
	if errors.Is(err, ErrDraftNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading draft: %w", err)
	}
	if !civildate.Same(civildate.Midnight(d.TriggerDate, s.loc), civildate.Midnight(sched.NextTriggerDate, s.loc)) {
		return &Draft{ID: d.ID, ScheduleID: d.ScheduleID, CreatedAt: d.CreatedAt, Version: d.Version}, nil
	}
	return d, nil
}

// restore rebuilds the plan of the schedule's current draft over a fresh
// index. Without a draft for the current trigger date a fresh plan is made.
func (s *Service) restore(ctx context.Context, scheduleID string) (*snapshot, *planner.Plan, *Draft, error) {
	sched, err := s.schedule(ctx, scheduleID)
	if err != nil {
		return nil, nil, nil, err
	}
	prior, err := s.currentDraft(ctx, sched)
	if err != nil {
		return nil, nil, nil, err
	}
	preferred := ""
	if prior != nil {
		preferred = prior.PreferredSlot
	}

	snap, err := s.fetch(ctx, sched, preferred)
	if err != nil {
		return nil, nil, nil, err
	}

	if prior == nil || len(prior.Suggestions) == 0 {
		plan, err := s.planner.Suggest(snap.schedule, snap.units, snap.index, nil)
		if err != nil {
			return nil, nil, nil, err
		}
		return snap, plan, prior, nil
	}

	// History wins over what the draft remembers.
	suggestions := make([]planner.Suggestion, 0, len(prior.Suggestions))
	triggered := make(map[string]bool)
	for _, u := range snap.units {
		triggered[u.ID] = u.AlreadyTriggered
	}
	for _, sug := range prior.Suggestions {
		if triggered[sug.UnitID] != sug.AlreadyTriggered {
			continue
		}
		suggestions = append(suggestions, sug)
	}
	return snap, s.planner.Restore(snap.index, snap.schedule.NextTriggerDate, snap.units, suggestions), prior, nil
}

func (s *Service) save(ctx context.Context, prior *Draft, sched *maintenance.Schedule, preferredSlot string, plan *planner.Plan) (*Draft, error) {
	now := s.now()
	d := &Draft{
		ID:            uuid.New().String(),
		ScheduleID:    sched.ID,
		TriggerDate:   civildate.Midnight(sched.NextTriggerDate, s.loc),
		PreferredSlot: preferredSlot,
		Suggestions:   plan.Suggestions(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if prior != nil {
		d.ID = prior.ID
		d.CreatedAt = prior.CreatedAt
		d.Version = prior.Version
	}
	if err := s.drafts.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("saving draft: %w", err)
	}
	return d, nil
}

func (s *Service) result(snap *snapshot, d *Draft) *PlanResult {
	r := &PlanResult{
		Schedule:    snap.schedule,
		DraftID:     d.ID,
		StartDate:   d.TriggerDate,
		HorizonDays: s.planner.HorizonDays(),
		Suggestions: d.Suggestions,
		Stats:       snap.index.Stats(),
		Issues:      snap.index.Issues(),
		UpdatedAt:   d.UpdatedAt,
	}
	for _, sug := range d.Suggestions {
		if !sug.Resolved && !sug.AlreadyTriggered {
			r.Unresolved++
		}
	}
	return r
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// log returns the request-scoped logger when the caller set one, so entries
// carry the request ID.
func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}
