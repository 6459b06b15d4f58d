package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rentwise/rentwise/internal/api/models"
	"github.com/rentwise/rentwise/internal/api/response"
	"github.com/rentwise/rentwise/internal/billing"
)

// InvoiceHandler handles late-fee endpoints.
type InvoiceHandler struct {
	billing *billing.Service
}

// NewInvoiceHandler creates a new InvoiceHandler.
func NewInvoiceHandler(svc *billing.Service) *InvoiceHandler {
	return &InvoiceHandler{billing: svc}
}

// LateFees handles GET /v1/invoices/late-fees?today=YYYY-MM-DD.
func (h *InvoiceHandler) LateFees(w http.ResponseWriter, r *http.Request) {
	var errs []models.FieldError
	calc := h.billing.Calculator()
	today, ok := parseQueryDate(r, "today", calc.Location(), h.billing.Today(), &errs)
	if !ok {
		response.BadRequest(w, r, "invalid query parameters", errs)
		return
	}

	fees, summary, err := h.billing.LateFees(r.Context(), today)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := models.LateFeeList{
		Today: dateOf(today),
		Items: make([]models.InvoiceLateFee, 0, len(fees)),
		Summary: models.LateFeeSummary{
			Invoices:      summary.Invoices,
			Overdue:       summary.Overdue,
			TotalLateFees: summary.TotalLateFees,
			FeePerDay:     calc.Rate(),
		},
	}
	for _, f := range fees {
		out.Items = append(out.Items, toLateFee(f))
	}
	response.JSON(w, r, http.StatusOK, out)
}

// LateFee handles GET /v1/invoices/{invoiceId}/late-fee?today=YYYY-MM-DD.
func (h *InvoiceHandler) LateFee(w http.ResponseWriter, r *http.Request) {
	var errs []models.FieldError
	today, ok := parseQueryDate(r, "today", h.billing.Calculator().Location(), h.billing.Today(), &errs)
	if !ok {
		response.BadRequest(w, r, "invalid query parameters", errs)
		return
	}

	fee, err := h.billing.LateFee(r.Context(), chi.URLParam(r, "invoiceId"), today)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toLateFee(*fee))
}
