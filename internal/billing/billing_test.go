package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentwise/rentwise/internal/billing"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr[T any](v T) *T { return &v }

func newCalculator(t *testing.T, rate decimal.Decimal, loc *time.Location) *billing.Calculator {
	t.Helper()
	calc, err := billing.NewCalculator(rate, loc)
	require.NoError(t, err)
	return calc
}

func TestNewCalculator(t *testing.T) {
	calc := newCalculator(t, decimal.Zero, nil)
	assert.True(t, billing.DefaultDailyLateFee().Equal(calc.Rate()))
	assert.Equal(t, "300", calc.Rate().String())
	assert.Equal(t, time.UTC, calc.Location())

	_, err := billing.NewCalculator(decimal.NewFromInt(-1), nil)
	assert.ErrorIs(t, err, billing.ErrNegativeRate)
}

func TestCompute_OverdueInvoice(t *testing.T) {
	calc := newCalculator(t, decimal.Zero, nil)
	inv := &billing.Invoice{ID: "inv-1", TotalAmount: decimal.NewFromInt(5000), DueDate: day("2025-11-01"), Status: billing.InvoiceUnpaid}

	got := calc.Compute(inv, day("2025-11-06"))

	assert.Equal(t, 5, got.DaysLate)
	assert.True(t, decimal.NewFromInt(1500).Equal(got.LateFee), got.LateFee.String())
	assert.True(t, decimal.NewFromInt(6500).Equal(got.TotalWithFee), got.TotalWithFee.String())
	assert.Equal(t, "inv-1", got.InvoiceID)
}

func TestCompute(t *testing.T) {
	due := day("2025-11-01")
	tests := []struct {
		name     string
		invoice  billing.Invoice
		today    time.Time
		wantDays int
	}{
		{"not yet due", billing.Invoice{DueDate: due}, day("2025-10-25"), 0},
		{"due today", billing.Invoice{DueDate: due}, due, 0},
		{"partial day does not count", billing.Invoice{DueDate: due.Add(20 * time.Hour)}, day("2025-11-02").Add(2 * time.Hour), 1},
		{"paid on time", billing.Invoice{DueDate: due, PaidDate: ptr(day("2025-10-30")), Status: billing.InvoicePaid}, day("2025-12-01"), 0},
		{"paid late uses paid date", billing.Invoice{DueDate: due, PaidDate: ptr(day("2025-11-04"))}, day("2025-12-01"), 3},
		{"paid without a date", billing.Invoice{DueDate: due, Status: billing.InvoicePaid}, day("2025-12-01"), 0},
		{"cancelled", billing.Invoice{DueDate: due, Status: billing.InvoiceCancelled}, day("2025-12-01"), 0},
		{"pending verification still accrues", billing.Invoice{DueDate: due, Status: billing.InvoicePendingVerification}, day("2025-11-11"), 10},
		{"no due date", billing.Invoice{}, day("2025-12-01"), 0},
	}

	calc := newCalculator(t, decimal.NewFromInt(300), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.invoice.TotalAmount = decimal.NewFromInt(1000)
			got := calc.Compute(&tt.invoice, tt.today)
			assert.Equal(t, tt.wantDays, got.DaysLate)
			assert.True(t, decimal.NewFromInt(int64(300*tt.wantDays)).Equal(got.LateFee))
			assert.True(t, decimal.NewFromInt(int64(1000+300*tt.wantDays)).Equal(got.TotalWithFee))
		})
	}
}

func TestCompute_Location(t *testing.T) {
	wib := time.FixedZone("WIB", 7*60*60)
	calc := newCalculator(t, decimal.Zero, wib)
	inv := &billing.Invoice{DueDate: time.Date(2025, 11, 1, 0, 0, 0, 0, wib), TotalAmount: decimal.NewFromInt(100)}

	// 18:00 UTC on Nov 1 is already Nov 2 in WIB.
	got := calc.Compute(inv, time.Date(2025, 11, 1, 18, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, got.DaysLate)
}

func TestCompute_FractionalAmounts(t *testing.T) {
	calc := newCalculator(t, decimal.RequireFromString("12.5"), nil)
	inv := &billing.Invoice{TotalAmount: decimal.RequireFromString("100.10"), DueDate: day("2025-11-01")}

	got := calc.Compute(inv, day("2025-11-04"))
	assert.Equal(t, "37.5", got.LateFee.String())
	assert.Equal(t, "137.6", got.TotalWithFee.String())
}

// The fee is zero up to the due date and never shrinks as time passes.
func TestCompute_Monotonic(t *testing.T) {
	calc := newCalculator(t, decimal.Zero, nil)
	inv := &billing.Invoice{TotalAmount: decimal.NewFromInt(5000), DueDate: day("2025-11-01")}

	prev := decimal.Zero
	for d := day("2025-09-01"); d.Before(day("2026-03-01")); d = d.AddDate(0, 0, 1) {
		got := calc.Compute(inv, d)
		if !d.After(inv.DueDate) {
			require.True(t, got.LateFee.IsZero(), d.Format("2006-01-02"))
		}
		require.True(t, got.LateFee.GreaterThanOrEqual(prev), d.Format("2006-01-02"))
		prev = got.LateFee
	}
}

type fakeSource struct {
	invoices []*billing.Invoice
	err      error
}

func (f *fakeSource) ListInvoices(context.Context) ([]*billing.Invoice, error) {
	return f.invoices, f.err
}

func (f *fakeSource) GetInvoice(_ context.Context, id string) (*billing.Invoice, error) {
	for _, inv := range f.invoices {
		if inv.ID == id {
			return inv, nil
		}
	}
	return nil, billing.ErrInvoiceNotFound
}

func TestService_LateFees(t *testing.T) {
	src := &fakeSource{invoices: []*billing.Invoice{
		{ID: "1", TotalAmount: decimal.NewFromInt(5000), DueDate: day("2025-11-01")},
		{ID: "2", TotalAmount: decimal.NewFromInt(3000), DueDate: day("2025-11-05")},
		{ID: "3", TotalAmount: decimal.NewFromInt(3000), DueDate: day("2025-11-30")},
	}}
	svc := billing.NewService(billing.ServiceConfig{
		Source: src,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return day("2025-11-06") },
	})

	fees, sum, err := svc.LateFees(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, fees, 3)
	assert.Equal(t, 5, fees[0].DaysLate)
	assert.Equal(t, 1, fees[1].DaysLate)
	assert.Equal(t, 0, fees[2].DaysLate)
	assert.Equal(t, 3, sum.Invoices)
	assert.Equal(t, 2, sum.Overdue)
	assert.True(t, decimal.NewFromInt(1800).Equal(sum.TotalLateFees))

	one, err := svc.LateFee(context.Background(), "1", day("2025-11-02"))
	require.NoError(t, err)
	assert.Equal(t, 1, one.DaysLate)
	assert.Equal(t, "1", one.Invoice.ID)
}

func TestService_Errors(t *testing.T) {
	svc := billing.NewService(billing.ServiceConfig{Source: &fakeSource{err: errors.New("backend down")}, Logger: zerolog.Nop()})

	_, _, err := svc.LateFees(context.Background(), day("2025-11-06"))
	assert.ErrorContains(t, err, "backend down")

	_, err = svc.LateFee(context.Background(), "missing", day("2025-11-06"))
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)
}
