package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentwise/rentwise/internal/billing"
	"github.com/rentwise/rentwise/internal/maintenance"
)

// Backend API response structures.

// flexID accepts ids sent as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a number or string: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// flexInt accepts integers sent as JSON numbers or numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" || string(b) == `""` {
		*f = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("expected an integer, got %s", b)
	}
	*f = flexInt(n)
	return nil
}

// flexDate accepts "YYYY-MM-DD" and RFC 3339 timestamps. Date-only values
// and timestamps at exactly midnight UTC are calendar dates and keep their
// day in any location.
type flexDate struct {
	time.Time
	Valid bool
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (f *flexDate) UnmarshalJSON(b []byte) error {
	if string(bytes.TrimSpace(b)) == "null" {
		*f = flexDate{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = flexDate{}
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*f = flexDate{Time: t, Valid: true}
			return nil
		}
	}
	return fmt.Errorf("unrecognized date %q", s)
}

func (f flexDate) at(loc *time.Location) time.Time {
	if !f.Valid {
		return time.Time{}
	}
	u := f.Time.UTC()
	if u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0 {
		return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, loc)
	}
	return f.Time.In(loc)
}

func (f flexDate) ptrAt(loc *time.Location) *time.Time {
	if !f.Valid {
		return nil
	}
	t := f.at(loc)
	return &t
}

// rawText keeps a JSON value as text: strings are unquoted, anything else
// (arrays, numbers) is kept verbatim.
type rawText string

func (r *rawText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*r = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = rawText(s)
		return nil
	}
	*r = rawText(b)
	return nil
}

// envelope matches list responses wrapped as {"data": [...]}.
type envelope[T any] struct {
	Data T `json:"data"`
}

// decodeList accepts both a bare JSON array and a {"data": [...]} envelope.
func decodeList[T any](body []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var out []T
		err := json.Unmarshal(trimmed, &out)
		return out, err
	}
	var env envelope[[]T]
	err := json.Unmarshal(trimmed, &env)
	return env.Data, err
}

// decodeOne accepts both a bare object and a {"data": {...}} envelope.
func decodeOne[T any](body []byte) (*T, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	_, hasID := envelope["id"]
	if inner, ok := envelope["data"]; ok && !hasID && bytes.HasPrefix(bytes.TrimSpace(inner), []byte("{")) {
		body = inner
	}
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type errorBody struct {
	Message any    `json:"message"`
	Error   string `json:"error"`
}

func (e errorBody) text() string {
	switch m := e.Message.(type) {
	case string:
		return m
	case []any:
		parts := make([]string, 0, len(m))
		for _, p := range m {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, "; ")
	}
	return e.Error
}

type apiTenant struct {
	Name     string `json:"name"`
	FullName string `json:"fullName"`
}

type apiUnitRef struct {
	ID         flexID     `json:"id"`
	RoomNumber string     `json:"roomNumber"`
	Tenant     *apiTenant `json:"tenant"`
}

type apiRequest struct {
	ID            flexID      `json:"id"`
	UnitID        flexID      `json:"unitId"`
	RoomNumber    string      `json:"roomNumber"`
	TenantName    string      `json:"tenantName"`
	Title         string      `json:"title"`
	Category      string      `json:"category"`
	Status        string      `json:"status"`
	PreferredTime string      `json:"preferredTime"`
	ScheduleID    flexID      `json:"scheduleId"`
	Unit          *apiUnitRef `json:"unit"`
}

func (a *apiRequest) toDomain() maintenance.Request {
	r := maintenance.Request{
		ID:            string(a.ID),
		UnitID:        string(a.UnitID),
		RoomNumber:    a.RoomNumber,
		TenantName:    a.TenantName,
		Title:         a.Title,
		Category:      a.Category,
		Status:        maintenance.RequestStatus(strings.ToUpper(strings.TrimSpace(a.Status))),
		PreferredTime: a.PreferredTime,
		ScheduleID:    string(a.ScheduleID),
	}
	if a.Unit != nil {
		if r.UnitID == "" {
			r.UnitID = string(a.Unit.ID)
		}
		if r.RoomNumber == "" {
			r.RoomNumber = a.Unit.RoomNumber
		}
		if r.TenantName == "" && a.Unit.Tenant != nil {
			r.TenantName = a.Unit.Tenant.displayName()
		}
	}
	return r
}

func (t *apiTenant) displayName() string {
	if t.FullName != "" {
		return t.FullName
	}
	return t.Name
}

type apiUnit struct {
	ID         flexID     `json:"id"`
	RoomNumber string     `json:"roomNumber"`
	Floor      flexInt    `json:"floor"`
	UnitType   string     `json:"unitType"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	TenantName string     `json:"tenantName"`
	Tenant     *apiTenant `json:"tenant"`
}

func (a *apiUnit) toDomain() maintenance.Unit {
	u := maintenance.Unit{
		ID:         string(a.ID),
		RoomNumber: a.RoomNumber,
		Floor:      int(a.Floor),
		UnitType:   a.UnitType,
		Status:     maintenance.UnitStatus(strings.ToUpper(a.Status)),
		TenantName: a.TenantName,
	}
	if u.UnitType == "" {
		u.UnitType = a.Type
	}
	if u.TenantName == "" && a.Tenant != nil {
		u.TenantName = a.Tenant.displayName()
	}
	return u
}

type apiSchedule struct {
	ID                   flexID   `json:"id"`
	Title                string   `json:"title"`
	Category             string   `json:"category"`
	RecurrenceType       string   `json:"recurrenceType"`
	RecurrenceInterval   flexInt  `json:"recurrenceInterval"`
	RecurrenceDayOfWeek  *flexInt `json:"recurrenceDayOfWeek"`
	RecurrenceDayOfMonth *flexInt `json:"recurrenceDayOfMonth"`
	TargetType           string   `json:"targetType"`
	TargetUnits          rawText  `json:"targetUnits"`
	StartDate            flexDate `json:"startDate"`
	EndDate              flexDate `json:"endDate"`
	NextTriggerDate      flexDate `json:"nextTriggerDate"`
	NotifyDaysBefore     flexInt  `json:"notifyDaysBefore"`
	IsActive             *bool    `json:"isActive"`
	IsPaused             bool     `json:"isPaused"`
}

func (a *apiSchedule) toDomain(loc *time.Location) *maintenance.Schedule {
	s := &maintenance.Schedule{
		ID:                 string(a.ID),
		Title:              a.Title,
		Category:           a.Category,
		RecurrenceType:     maintenance.RecurrenceType(strings.ToUpper(a.RecurrenceType)),
		RecurrenceInterval: int(a.RecurrenceInterval),
		TargetType:         maintenance.TargetType(strings.ToUpper(a.TargetType)),
		TargetUnits:        string(a.TargetUnits),
		StartDate:          a.StartDate.at(loc),
		EndDate:            a.EndDate.ptrAt(loc),
		NextTriggerDate:    a.NextTriggerDate.at(loc),
		NotifyDaysBefore:   int(a.NotifyDaysBefore),
		IsActive:           a.IsActive == nil || *a.IsActive,
		IsPaused:           a.IsPaused,
	}
	if a.RecurrenceDayOfWeek != nil {
		v := int(*a.RecurrenceDayOfWeek)
		s.RecurrenceDayOfWeek = &v
	}
	if a.RecurrenceDayOfMonth != nil {
		v := int(*a.RecurrenceDayOfMonth)
		s.RecurrenceDayOfMonth = &v
	}
	return s
}

type apiTriggerRecord struct {
	ScheduleID  flexID   `json:"scheduleId"`
	UnitID      flexID   `json:"unitId"`
	TriggerDate flexDate `json:"triggerDate"`
	RequestID   flexID   `json:"requestId"`
}

func (a *apiTriggerRecord) toDomain(loc *time.Location) maintenance.TriggerRecord {
	return maintenance.TriggerRecord{
		ScheduleID:  string(a.ScheduleID),
		UnitID:      string(a.UnitID),
		TriggerDate: a.TriggerDate.at(loc),
		RequestID:   string(a.RequestID),
	}
}

type apiTriggerRequest struct {
	UnitID        string `json:"unitId"`
	PreferredTime string `json:"preferredTime"`
}

type apiTriggerResponse struct {
	ID        flexID `json:"id"`
	RequestID flexID `json:"requestId"`
	UnitID    flexID `json:"unitId"`
	Status    string `json:"status"`
}

func (a *apiTriggerResponse) toDomain(unitID string) *maintenance.TriggerResult {
	r := &maintenance.TriggerResult{
		RequestID: string(a.RequestID),
		UnitID:    string(a.UnitID),
		Status:    maintenance.RequestStatus(strings.ToUpper(a.Status)),
	}
	if r.RequestID == "" {
		r.RequestID = string(a.ID)
	}
	if r.UnitID == "" {
		r.UnitID = unitID
	}
	return r
}

type apiInvoice struct {
	ID            flexID          `json:"id"`
	InvoiceNumber string          `json:"invoiceNumber"`
	UnitID        flexID          `json:"unitId"`
	TenantName    string          `json:"tenantName"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	DueDate       flexDate        `json:"dueDate"`
	PaidDate      flexDate        `json:"paidDate"`
	Status        string          `json:"status"`
}

func (a *apiInvoice) toDomain(loc *time.Location) *billing.Invoice {
	return &billing.Invoice{
		ID:            string(a.ID),
		InvoiceNumber: a.InvoiceNumber,
		UnitID:        string(a.UnitID),
		TenantName:    a.TenantName,
		TotalAmount:   a.TotalAmount,
		DueDate:       a.DueDate.at(loc),
		PaidDate:      a.PaidDate.ptrAt(loc),
		Status:        billing.InvoiceStatus(strings.ToUpper(a.Status)),
	}
}
