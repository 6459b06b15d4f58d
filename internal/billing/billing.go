// Package billing computes late fees for rent invoices.
package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentwise/rentwise/pkg/civildate"
)

// dailyLateFee is the flat fee charged per full day an invoice is late.
const dailyLateFee = 300

// DefaultDailyLateFee returns the per-day fee used when none is configured.
func DefaultDailyLateFee() decimal.Decimal {
	return decimal.NewFromInt(dailyLateFee)
}

var (
	// ErrInvoiceNotFound is returned when the backend has no such invoice.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrNegativeRate is returned for a per-day fee below zero.
	ErrNegativeRate = errors.New("late fee per day must not be negative")
)

// InvoiceStatus is the backend-owned payment state of an invoice.
type InvoiceStatus string

const (
	InvoiceUnpaid              InvoiceStatus = "UNPAID"
	InvoicePendingVerification InvoiceStatus = "PENDING_VERIFICATION"
	InvoicePaid                InvoiceStatus = "PAID"
	InvoiceOverdue             InvoiceStatus = "OVERDUE"
	InvoiceCancelled           InvoiceStatus = "CANCELLED"
)

// Invoice is a rent invoice as returned by the backend.
type Invoice struct {
	ID            string
	InvoiceNumber string
	UnitID        string
	TenantName    string
	TotalAmount   decimal.Decimal
	DueDate       time.Time
	PaidDate      *time.Time
	Status        InvoiceStatus
}

// Paid reports whether the invoice has been settled.
func (i *Invoice) Paid() bool {
	return i.Status == InvoicePaid || i.PaidDate != nil
}

// LateFee is the outcome of a late-fee computation.
type LateFee struct {
	InvoiceID     string
	ReferenceDate time.Time
	DaysLate      int
	LateFee       decimal.Decimal
	TotalWithFee  decimal.Decimal
}

// Calculator computes late fees at day granularity in one location.
type Calculator struct {
	rate     decimal.Decimal
	location *time.Location
}

// NewCalculator creates a Calculator charging rate per late day. A zero rate
// means DefaultDailyLateFee and a nil location means UTC.
func NewCalculator(rate decimal.Decimal, loc *time.Location) (*Calculator, error) {
	if rate.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegativeRate, rate)
	}
	if rate.IsZero() {
		rate = DefaultDailyLateFee()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{rate: rate, location: loc}, nil
}

// Rate returns the per-day fee.
func (c *Calculator) Rate() decimal.Decimal {
	return c.rate
}

// Location returns the location calendar days are counted in.
func (c *Calculator) Location() *time.Location {
	return c.location
}

// Compute returns the late fee for inv as of today.
//
// The reference date is the paid date for a paid invoice and today otherwise.
// Both it and the due date are truncated to midnight, so partial days never
// count. A paid invoice without a paid date and a cancelled invoice are never
// late.
func (c *Calculator) Compute(inv *Invoice, today time.Time) LateFee {
	out := LateFee{
		InvoiceID:    inv.ID,
		LateFee:      decimal.Zero,
		TotalWithFee: inv.TotalAmount,
	}

	var ref time.Time
	switch {
	case inv.PaidDate != nil:
		ref = *inv.PaidDate
	case inv.Paid(), inv.Status == InvoiceCancelled:
		return out
	default:
		ref = today
	}
	ref = civildate.Midnight(ref, c.location)
	out.ReferenceDate = ref

	if inv.DueDate.IsZero() {
		return out
	}
	due := civildate.Midnight(inv.DueDate, c.location)

	days := civildate.DaysBetween(due, ref)
	if days <= 0 {
		return out
	}
	out.DaysLate = days
	out.LateFee = c.rate.Mul(decimal.NewFromInt(int64(days)))
	out.TotalWithFee = inv.TotalAmount.Add(out.LateFee)
	return out
}
