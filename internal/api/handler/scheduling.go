package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/rentwise/rentwise/internal/api/models"
	"github.com/rentwise/rentwise/internal/api/response"
	"github.com/rentwise/rentwise/internal/booking"
	"github.com/rentwise/rentwise/internal/planning"
	"github.com/rentwise/rentwise/internal/timeslot"
	"github.com/rentwise/rentwise/pkg/civildate"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// SchedulingHandler handles slot, calendar and schedule planning endpoints.
type SchedulingHandler struct {
	planning *planning.Service
	validate *validator.Validate
}

// NewSchedulingHandler creates a new SchedulingHandler.
func NewSchedulingHandler(svc *planning.Service) *SchedulingHandler {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("slot_start", func(fl validator.FieldLevel) bool {
		_, ok := timeslot.ByStart(fl.Field().String())
		return ok
	})
	v.RegisterTagNameFunc(jsonFieldName)

	return &SchedulingHandler{planning: svc, validate: v}
}

// ListSlots handles GET /v1/slots - the daily slot grid.
func (h *SchedulingHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	slots := timeslot.All()
	out := models.SlotList{Items: make([]models.Slot, 0, len(slots)), Capacity: booking.SlotCapacity}
	for _, s := range slots {
		out.Items = append(out.Items, toSlot(s))
	}
	response.JSON(w, r, http.StatusOK, out)
}

// DayOccupancy handles GET /v1/calendar/{date}/occupancy.
func (h *SchedulingHandler) DayOccupancy(w http.ResponseWriter, r *http.Request) {
	date, ok := h.pathDate(w, r)
	if !ok {
		return
	}

	occ, err := h.planning.Occupancy(r.Context(), date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toDayOccupancy(occ))
}

// DayConflicts handles GET /v1/calendar/{date}/conflicts.
func (h *SchedulingHandler) DayConflicts(w http.ResponseWriter, r *http.Request) {
	date, ok := h.pathDate(w, r)
	if !ok {
		return
	}

	conflicts, err := h.planning.Conflicts(r.Context(), date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toDayConflicts(conflicts))
}

// Suggestions handles GET /v1/schedules/{scheduleId}/suggestions.
// The optional preferredSlot query parameter moves the first scanned slot.
func (h *SchedulingHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	plan, err := h.planning.Suggest(r.Context(), planning.SuggestInput{
		ScheduleID:    chi.URLParam(r, "scheduleId"),
		PreferredSlot: r.URL.Query().Get("preferredSlot"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toPlan(plan))
}

// PinSuggestion handles PUT /v1/schedules/{scheduleId}/suggestions/{unitId}/pin.
func (h *SchedulingHandler) PinSuggestion(w http.ResponseWriter, r *http.Request) {
	var input models.PinRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	if err := h.validate.Struct(input); err != nil {
		response.BadRequest(w, r, "invalid pin", fieldErrors(err))
		return
	}

	// Validated above.
	date, _ := civildate.Parse(input.Date, h.planning.Location())

	plan, err := h.planning.Pin(r.Context(), chi.URLParam(r, "scheduleId"), chi.URLParam(r, "unitId"), planning.PinInput{
		Date:      date,
		SlotStart: input.SlotStart,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toPlan(plan))
}

// UnpinSuggestion handles DELETE /v1/schedules/{scheduleId}/suggestions/{unitId}/pin.
func (h *SchedulingHandler) UnpinSuggestion(w http.ResponseWriter, r *http.Request) {
	plan, err := h.planning.Unpin(r.Context(), chi.URLParam(r, "scheduleId"), chi.URLParam(r, "unitId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toPlan(plan))
}

// Commit handles POST /v1/schedules/{scheduleId}/commit. A partial failure
// still answers 200; callers read the per-unit outcomes.
func (h *SchedulingHandler) Commit(w http.ResponseWriter, r *http.Request) {
	result, err := h.planning.Commit(r.Context(), chi.URLParam(r, "scheduleId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Str("schedule_id", result.ScheduleID).
		Str("committed_by", GetUserID(r.Context())).
		Int("triggered", result.Triggered).
		Int("failed", result.Failed).
		Msg("schedule plan committed")
	response.JSON(w, r, http.StatusOK, toCommitResult(result))
}

// NextOccurrence handles GET /v1/schedules/{scheduleId}/next-occurrence.
// Query: after=YYYY-MM-DD (default today), count=n (default 1).
func (h *SchedulingHandler) NextOccurrence(w http.ResponseWriter, r *http.Request) {
	var errs []models.FieldError

	after, ok := h.queryDate(r, "after", &errs)
	count := 1
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			errs = append(errs, models.FieldError{Field: "count", Message: "must be a positive integer", Code: "invalid_count"})
		} else {
			count = n
		}
	}
	if !ok || len(errs) > 0 {
		response.BadRequest(w, r, "invalid query parameters", errs)
		return
	}

	occ, err := h.planning.NextOccurrences(r.Context(), chi.URLParam(r, "scheduleId"), after, count)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toOccurrences(occ))
}

// DueSchedules handles GET /v1/schedules/due - schedules inside their notice window.
func (h *SchedulingHandler) DueSchedules(w http.ResponseWriter, r *http.Request) {
	var errs []models.FieldError
	today, ok := h.queryDate(r, "today", &errs)
	if !ok {
		response.BadRequest(w, r, "invalid query parameters", errs)
		return
	}

	due, err := h.planning.DueSchedules(r.Context(), today)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := models.DueScheduleList{Today: dateOf(today), Items: make([]models.DueSchedule, 0, len(due))}
	for _, d := range due {
		out.Items = append(out.Items, models.DueSchedule{
			Schedule:  toScheduleSummary(d.Schedule),
			DaysUntil: d.DaysUntil,
		})
	}
	response.JSON(w, r, http.StatusOK, out)
}

// Drafts handles GET /v1/schedules/drafts - plans awaiting commit.
func (h *SchedulingHandler) Drafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := h.planning.Drafts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := models.DraftList{Items: make([]models.DraftSummary, 0, len(drafts))}
	for _, d := range drafts {
		out.Items = append(out.Items, toDraftSummary(d))
	}
	response.JSON(w, r, http.StatusOK, out)
}

func (h *SchedulingHandler) pathDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	date, err := civildate.Parse(chi.URLParam(r, "date"), h.planning.Location())
	if err != nil {
		response.BadRequest(w, r, "invalid date", []models.FieldError{
			{Field: "date", Message: "must be YYYY-MM-DD", Code: "invalid_date"},
		})
		return time.Time{}, false
	}
	return date, true
}

// queryDate reads an optional date parameter, defaulting to today.
func (h *SchedulingHandler) queryDate(r *http.Request, name string, errs *[]models.FieldError) (time.Time, bool) {
	return parseQueryDate(r, name, h.planning.Location(), h.planning.Today(), errs)
}

func parseQueryDate(r *http.Request, name string, loc *time.Location, today time.Time, errs *[]models.FieldError) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return civildate.Midnight(today, loc), true
	}
	d, err := civildate.Parse(raw, loc)
	if err != nil {
		*errs = append(*errs, models.FieldError{Field: name, Message: "must be YYYY-MM-DD", Code: "invalid_date"})
		return time.Time{}, false
	}
	return d, true
}

// fieldErrors converts validator errors into API field errors.
func fieldErrors(err error) []models.FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []models.FieldError{{Field: "body", Message: err.Error()}}
	}

	out := make([]models.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = "is required"
		case "datetime":
			msg = "must be YYYY-MM-DD"
		case "slot_start":
			msg = "must be the start of a slot"
		default:
			msg = "is invalid"
		}
		out = append(out, models.FieldError{Field: fe.Field(), Message: msg, Code: fe.Tag()})
	}
	return out
}
