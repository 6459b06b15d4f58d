package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// InvoiceSource reads invoices from the property backend.
type InvoiceSource interface {
	// ListInvoices returns every invoice visible to the caller.
	ListInvoices(ctx context.Context) ([]*Invoice, error)

	// GetInvoice returns one invoice or ErrInvoiceNotFound.
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
}

// ServiceConfig holds configuration for the billing service.
type ServiceConfig struct {
	Source     InvoiceSource
	Calculator *Calculator
	Logger     zerolog.Logger

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Service computes late fees over invoices fetched from the backend.
type Service struct {
	source InvoiceSource
	calc   *Calculator
	logger zerolog.Logger
	now    func() time.Time
}

// InvoiceLateFee pairs an invoice with its computed late fee.
type InvoiceLateFee struct {
	Invoice *Invoice
	LateFee
}

// Summary totals a batch of late-fee computations.
type Summary struct {
	Invoices      int
	Overdue       int
	TotalLateFees decimal.Decimal
}

// NewService creates a new billing service.
func NewService(cfg ServiceConfig) *Service {
	calc := cfg.Calculator
	if calc == nil {
		calc, _ = NewCalculator(decimal.Zero, nil) // a zero rate cannot be negative
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		source: cfg.Source,
		calc:   calc,
		logger: cfg.Logger,
		now:    now,
	}
}

// Calculator returns the calculator used by the service.
func (s *Service) Calculator() *Calculator {
	return s.calc
}

// Today returns the current date in the calculator's location.
func (s *Service) Today() time.Time {
	return s.now().In(s.calc.location)
}

// LateFee computes the late fee of one invoice as of today. A zero today
// means the current date.
func (s *Service) LateFee(ctx context.Context, invoiceID string, today time.Time) (*InvoiceLateFee, error) {
	if today.IsZero() {
		today = s.Today()
	}

	inv, err := s.source.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("fetching invoice %s: %w", invoiceID, err)
	}

	return &InvoiceLateFee{Invoice: inv, LateFee: s.calc.Compute(inv, today)}, nil
}

// LateFees computes late fees for every invoice as of today.
func (s *Service) LateFees(ctx context.Context, today time.Time) ([]InvoiceLateFee, Summary, error) {
	if today.IsZero() {
		today = s.Today()
	}

	invoices, err := s.source.ListInvoices(ctx)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("listing invoices: %w", err)
	}

	out := make([]InvoiceLateFee, 0, len(invoices))
	sum := Summary{TotalLateFees: decimal.Zero}
	for _, inv := range invoices {
		fee := s.calc.Compute(inv, today)
		out = append(out, InvoiceLateFee{Invoice: inv, LateFee: fee})

		sum.Invoices++
		if fee.DaysLate > 0 {
			sum.Overdue++
			sum.TotalLateFees = sum.TotalLateFees.Add(fee.LateFee)
		}
	}

	s.logger.Debug().
		Int("invoices", sum.Invoices).
		Int("overdue", sum.Overdue).
		Str("total_late_fees", sum.TotalLateFees.String()).
		Msg("computed late fees")

	return out, sum, nil
}
