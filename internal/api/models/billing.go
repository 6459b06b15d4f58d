package models

import "github.com/shopspring/decimal"

// InvoiceLateFee is the late-fee view of one invoice. Money fields are
// rendered as JSON strings to keep exact decimals.
type InvoiceLateFee struct {
	InvoiceID     string          `json:"invoiceId"`
	InvoiceNumber string          `json:"invoiceNumber,omitempty"`
	UnitID        string          `json:"unitId,omitempty"`
	TenantName    string          `json:"tenantName,omitempty"`
	Status        string          `json:"status"`
	DueDate       *Date           `json:"dueDate,omitempty"`
	PaidDate      *Date           `json:"paidDate,omitempty"`
	ReferenceDate *Date           `json:"referenceDate,omitempty"`
	DaysLate      int             `json:"daysLate"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	LateFee       decimal.Decimal `json:"lateFee"`
	TotalWithFee  decimal.Decimal `json:"totalWithFee"`
}

// LateFeeSummary totals a late-fee listing.
type LateFeeSummary struct {
	Invoices      int             `json:"invoices"`
	Overdue       int             `json:"overdue"`
	TotalLateFees decimal.Decimal `json:"totalLateFees"`
	FeePerDay     decimal.Decimal `json:"feePerDay"`
}

// LateFeeList is the response of GET /v1/invoices/late-fees.
type LateFeeList struct {
	Today   Date             `json:"today"`
	Items   []InvoiceLateFee `json:"items"`
	Summary LateFeeSummary   `json:"summary"`
}
