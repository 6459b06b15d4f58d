package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/rentwise/rentwise/internal/api/models"
	"github.com/rentwise/rentwise/internal/api/response"
	"github.com/rentwise/rentwise/internal/backend"
	"github.com/rentwise/rentwise/internal/billing"
	"github.com/rentwise/rentwise/internal/maintenance"
	"github.com/rentwise/rentwise/internal/planner"
	"github.com/rentwise/rentwise/internal/planning"
	"github.com/rentwise/rentwise/internal/provider/resilience"
	"github.com/rentwise/rentwise/internal/recurrence"
)

// retryAfterSeconds is suggested to clients when the backend circuit is open.
const retryAfterSeconds = 30

// writeError maps a service error onto a problem response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *planning.ValidationError
		configErr     *recurrence.ConfigError
		targetErr     *maintenance.TargetError
	)

	switch {
	case errors.As(err, &validationErr):
		response.BadRequest(w, r, "invalid input", validationErr.Errors)

	case errors.As(err, &configErr):
		response.Unprocessable(w, r, configErr.Error(), []models.FieldError{
			{Field: configErr.Field, Message: configErr.Reason, Code: "invalid_recurrence"},
		})

	case errors.As(err, &targetErr):
		response.BadRequest(w, r, targetErr.Error(), []models.FieldError{
			{Field: "targetUnits", Message: targetErr.Err.Error(), Code: "invalid_target"},
		})

	case errors.Is(err, planner.ErrInvalidPin):
		response.BadRequest(w, r, err.Error(), nil)

	case errors.Is(err, maintenance.ErrScheduleNotFound),
		errors.Is(err, billing.ErrInvoiceNotFound),
		errors.Is(err, planning.ErrDraftNotFound),
		errors.Is(err, planner.ErrUnknownUnit):
		response.NotFound(w, r, err.Error())

	case errors.Is(err, planning.ErrScheduleNotRunnable),
		errors.Is(err, planning.ErrDraftConflict),
		errors.Is(err, planner.ErrMissingTriggerDate),
		errors.Is(err, planner.ErrAlreadyTriggered),
		errors.Is(err, backend.ErrConflict):
		response.Conflict(w, r, err.Error())

	case errors.Is(err, resilience.ErrCircuitOpen):
		response.ServiceUnavailable(w, r, "property backend is temporarily unavailable", retryAfterSeconds)

	case errors.Is(err, backend.ErrUnavailable):
		response.ServiceUnavailable(w, r, "property backend is unavailable", 0)

	case errors.Is(err, backend.ErrUnauthorized):
		response.Unauthorized(w, r, "the property backend rejected the credentials")

	case errors.Is(err, backend.ErrForbidden):
		response.Forbidden(w, r, "the property backend denied access")

	case errors.Is(err, backend.ErrRejected):
		response.Unprocessable(w, r, err.Error(), nil)

	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful can be written.
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("request cancelled")

	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		response.InternalError(w, r, "an unexpected error occurred")
	}
}
