package handler

import (
	"time"

	"github.com/rentwise/rentwise/internal/api/models"
	"github.com/rentwise/rentwise/internal/billing"
	"github.com/rentwise/rentwise/internal/booking"
	"github.com/rentwise/rentwise/internal/maintenance"
	"github.com/rentwise/rentwise/internal/planner"
	"github.com/rentwise/rentwise/internal/planning"
	"github.com/rentwise/rentwise/internal/timeslot"
)

func toSlot(s timeslot.Slot) models.Slot {
	return models.Slot{StartTime: s.Start, EndTime: s.End, Label: s.Label}
}

func toStats(s booking.Stats) models.IndexStats {
	return models.IndexStats{
		Total:             s.Total,
		Indexed:           s.Indexed,
		SkippedInactive:   s.SkippedInactive,
		MissingTime:       s.MissingTime,
		UnparsableTime:    s.UnparsableTime,
		OutsideGrid:       s.OutsideGrid,
		DataQualityIssues: s.DataQualityIssues(),
	}
}

func toIssues(issues []booking.Issue) []models.IndexIssue {
	if len(issues) == 0 {
		return nil
	}
	out := make([]models.IndexIssue, 0, len(issues))
	for _, i := range issues {
		out = append(out, models.IndexIssue{
			RequestID:     i.RequestID,
			UnitID:        i.UnitID,
			Kind:          string(i.Kind),
			PreferredTime: i.PreferredTime,
		})
	}
	return out
}

func toScheduleSummary(s *maintenance.Schedule) models.ScheduleSummary {
	return models.ScheduleSummary{
		ID:               s.ID,
		Title:            s.Title,
		Category:         s.Category,
		RecurrenceType:   string(s.RecurrenceType),
		TargetType:       string(s.TargetType),
		NextTriggerDate:  models.DatePtr(&s.NextTriggerDate),
		NotifyDaysBefore: s.NotifyDaysBefore,
	}
}

func toSuggestion(s planner.Suggestion) models.Suggestion {
	out := models.Suggestion{
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
		out.Date = models.DatePtr(&s.Date)
		slot := toSlot(s.Slot)
		out.Slot = &slot
	}
	if s.Alternative != nil {
		out.Alternative = &models.Placement{
			Date: models.Date(s.Alternative.Date),
			Slot: toSlot(s.Alternative.Slot),
		}
	}
	return out
}

func toPlan(p *planning.PlanResult) models.Plan {
	out := models.Plan{
		Schedule:    toScheduleSummary(p.Schedule),
		DraftID:     p.DraftID,
		StartDate:   models.Date(p.StartDate),
		HorizonDays: p.HorizonDays,
		Suggestions: make([]models.Suggestion, 0, len(p.Suggestions)),
		Unresolved:  p.Unresolved,
		Stats:       toStats(p.Stats),
		Issues:      toIssues(p.Issues),
	}
	for _, s := range p.Suggestions {
		out.Suggestions = append(out.Suggestions, toSuggestion(s))
	}
	if !p.UpdatedAt.IsZero() {
		ts := models.Timestamp(p.UpdatedAt)
		out.UpdatedAt = &ts
	}
	return out
}

func toCommitResult(c *planning.CommitResult) models.CommitResult {
	out := models.CommitResult{
		ScheduleID:   c.ScheduleID,
		Outcomes:     make([]models.CommitOutcome, 0, len(c.Outcomes)),
		Triggered:    c.Triggered,
		Skipped:      c.Skipped,
		Failed:       c.Failed,
		DraftDeleted: c.DraftDeleted,
	}
	for _, o := range c.Outcomes {
		out.Outcomes = append(out.Outcomes, models.CommitOutcome{
			UnitID:        o.UnitID,
			RoomNumber:    o.RoomNumber,
			PreferredTime: o.PreferredTime,
			RequestID:     o.RequestID,
			Status:        string(o.Status),
			Reason:        o.Reason,
		})
	}
	return out
}

func toDayOccupancy(d *planning.DayOccupancy) models.DayOccupancy {
	out := models.DayOccupancy{
		Date:  models.Date(d.Date),
		Slots: make([]models.SlotOccupancy, 0, len(d.Slots)),
		Stats: toStats(d.Stats),
	}
	for _, s := range d.Slots {
		bookings := make([]models.Booking, 0, len(s.Bookings))
		for _, b := range s.Bookings {
			bookings = append(bookings, models.Booking{
				UnitID:    b.UnitID,
				RequestID: b.SourceRequestID,
				Status:    string(b.Status),
			})
		}
		out.Slots = append(out.Slots, models.SlotOccupancy{
			Slot:      toSlot(s.Slot),
			Count:     s.Count,
			Available: s.Count < booking.SlotCapacity,
			Bookings:  bookings,
		})
	}
	return out
}

func toDayConflicts(d *planning.DayConflicts) models.DayConflicts {
	out := models.DayConflicts{
		Date:    models.Date(d.Date),
		Clashes: make([]models.Clash, 0, len(d.Clashes)),
		UnitIDs: d.Units,
		Stats:   toStats(d.Stats),
	}
	if out.UnitIDs == nil {
		out.UnitIDs = []string{}
	}
	for _, c := range d.Clashes {
		out.Clashes = append(out.Clashes, models.Clash{
			Slot:       toSlot(c.Slot),
			UnitIDs:    c.UnitIDs,
			RequestIDs: c.RequestIDs,
		})
	}
	return out
}

func toOccurrences(o *planning.Occurrences) models.Occurrences {
	out := models.Occurrences{
		ScheduleID: o.ScheduleID,
		Status:     string(o.Status),
		Dates:      make([]models.Date, 0, len(o.Dates)),
	}
	for i, d := range o.Dates {
		if i == 0 {
			out.Next = models.DatePtr(&o.Dates[0])
		}
		out.Dates = append(out.Dates, models.Date(d))
	}
	return out
}

func toLateFee(f billing.InvoiceLateFee) models.InvoiceLateFee {
	out := models.InvoiceLateFee{
		InvoiceID:     f.Invoice.ID,
		InvoiceNumber: f.Invoice.InvoiceNumber,
		UnitID:        f.Invoice.UnitID,
		TenantName:    f.Invoice.TenantName,
		Status:        string(f.Invoice.Status),
		DueDate:       models.DatePtr(&f.Invoice.DueDate),
		PaidDate:      models.DatePtr(f.Invoice.PaidDate),
		DaysLate:      f.DaysLate,
		TotalAmount:   f.Invoice.TotalAmount,
		LateFee:       f.LateFee.LateFee,
		TotalWithFee:  f.TotalWithFee,
	}
	if !f.ReferenceDate.IsZero() {
		ref := f.ReferenceDate
		out.ReferenceDate = models.DatePtr(&ref)
	}
	return out
}

// dateOf renders a date for JSON, keeping its calendar day.
func dateOf(t time.Time) models.Date {
	return models.Date(t)
}

func toDraftSummary(d *planning.Draft) models.DraftSummary {
	out := models.DraftSummary{
		ScheduleID:    d.ScheduleID,
		TriggerDate:   dateOf(d.TriggerDate),
		PreferredSlot: d.PreferredSlot,
		Units:         len(d.Suggestions),
		UpdatedAt:     d.UpdatedAt,
	}
	for _, s := range d.Suggestions {
		if s.Pinned {
			out.Pinned++
		}
		if s.Committable() {
			out.Committable++
		}
	}
	return out
}
