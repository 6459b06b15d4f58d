package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentwise/rentwise/internal/api"
	"github.com/rentwise/rentwise/internal/api/handler"
	"github.com/rentwise/rentwise/internal/api/models"
	"github.com/rentwise/rentwise/internal/auth"
	"github.com/rentwise/rentwise/internal/backend"
	"github.com/rentwise/rentwise/internal/billing"
	"github.com/rentwise/rentwise/internal/planning"
	"github.com/rentwise/rentwise/internal/provider/resilience"
)

// fixedNow is 2025-03-01, nine days before schedule 7 runs.
var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// propertyBackend serves a small fixture of the property backend API.
type propertyBackend struct {
	mu        sync.Mutex
	auth      []string
	triggered []string
}

func (b *propertyBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.auth = append(b.auth, r.Header.Get("Authorization"))
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	path := strings.TrimPrefix(r.URL.Path, "/api")

	switch {
	case path == "/units":
		_, _ = io.WriteString(w, `[
			{"id": 1, "roomNumber": "101", "floor": 1, "unitType": "STUDIO", "status": "OCCUPIED", "tenantName": "Budi"},
			{"id": 2, "roomNumber": "102", "floor": 1, "unitType": "STUDIO", "status": "OCCUPIED", "tenantName": "Sari"}
		]`)
	case path == "/maintenance-requests":
		_, _ = io.WriteString(w, `[
			{"id": 50, "unitId": 1, "title": "Leaking tap", "status": "SUBMITTED", "preferredTime": "2025-03-10 08:00"},
			{"id": 51, "unitId": 2, "title": "Broken lamp", "status": "APPROVED", "preferredTime": "2025-03-10 08:00"},
			{"id": 52, "unitId": 2, "title": "Old", "status": "COMPLETED", "preferredTime": "2025-03-10 10:00"}
		]`)
	case path == "/maintenance-schedules":
		_, _ = io.WriteString(w, `[`+scheduleJSON+`]`)
	case path == "/maintenance-schedules/7":
		_, _ = io.WriteString(w, scheduleJSON)
	case path == "/maintenance-schedules/7/history":
		_, _ = io.WriteString(w, `[]`)
	case path == "/maintenance-schedules/7/trigger" && r.Method == http.MethodPost:
		var body struct {
			UnitID string `json:"unitId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.triggered = append(b.triggered, body.UnitID)
		n := len(b.triggered)
		b.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 900 + n, "unitId": body.UnitID, "status": "SUBMITTED"})
	case path == "/invoices":
		_, _ = io.WriteString(w, `[`+invoiceJSON+`,
			{"id": 31, "invoiceNumber": "INV-031", "unitId": 2, "totalAmount": "1500000", "dueDate": "2025-02-20", "paidDate": "2025-02-18", "status": "PAID"}
		]`)
	case path == "/invoices/30":
		_, _ = io.WriteString(w, invoiceJSON)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message": "not found"}`)
	}
}

func (b *propertyBackend) lastAuth() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.auth) == 0 {
		return ""
	}
	return b.auth[len(b.auth)-1]
}

const scheduleJSON = `{
	"id": 7, "title": "AC service", "category": "HVAC",
	"recurrenceType": "MONTHLY", "recurrenceInterval": 1,
	"targetType": "ALL_UNITS", "targetUnits": null,
	"startDate": "2025-01-10", "nextTriggerDate": "2025-03-10",
	"notifyDaysBefore": 14, "isActive": true, "isPaused": false
}`

const invoiceJSON = `{
	"id": 30, "invoiceNumber": "INV-030", "unitId": 1, "tenantName": "Budi",
	"totalAmount": "1500000", "dueDate": "2025-02-20", "status": "UNPAID"
}`

type fixture struct {
	router   http.Handler
	backend  *propertyBackend
	verifier *auth.Verifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	pb := &propertyBackend{}
	server := httptest.NewServer(pb)
	t.Cleanup(server.Close)

	registry := resilience.NewRegistry()
	rc := resilience.DefaultClientConfig(backend.ProviderName)
	rc.MaxRetries = 0
	rc.Registry = registry
	client := backend.NewClient(backend.ClientConfig{
		BaseURL:      server.URL + "/api",
		ServiceToken: "service-token",
		HTTPClient:   resilience.NewClient(rc),
		Registry:     registry,
		Logger:       zerolog.Nop(),
	})

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "rentwise-backend",
	})
	require.NoError(t, err)

	now := func() time.Time { return fixedNow }
	calc, err := billing.NewCalculator(decimal.Zero, time.UTC)
	require.NoError(t, err)
	router := api.NewRouter(api.RouterConfig{
		Version:   "test",
		BuildTime: "2025-01-01T00:00:00Z",
		Logger:    zerolog.New(io.Discard),
		Verifier:  verifier,
		Planning: planning.NewService(planning.ServiceConfig{
			Backend: client,
			Logger:  zerolog.Nop(),
			Now:     now,
		}),
		Billing: billing.NewService(billing.ServiceConfig{
			Source:     client,
			Calculator: calc,
			Logger:     zerolog.Nop(),
			Now:        now,
		}),
		Registry:     registry,
		Dependencies: []handler.Dependency{{Name: backend.ProviderName, Pinger: client}},
	})

	return &fixture{router: router, backend: pb, verifier: verifier}
}

func (f *fixture) token(t *testing.T, role auth.Role) string {
	t.Helper()
	token, err := f.verifier.Sign("usr_7", role, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestRouter_HealthCheck(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/ops/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	health := decode[models.Health](t, w)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/ops/ready", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	health := decode[models.Health](t, w)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "OK", health.Details[backend.ProviderName])
	assert.Equal(t, "Bearer service-token", f.backend.lastAuth())
}

func TestRouter_SystemStatus(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/ops/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/v1/ops/status", f.token(t, auth.RoleStaff), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	status := decode[models.SystemStatus](t, w)
	assert.Equal(t, models.HealthStatusOK, status.Status)
	require.Len(t, status.Subsystems, 1)
	assert.Equal(t, backend.ProviderName, status.Subsystems[0].Name)
	require.Len(t, status.Providers, 1)
	assert.Equal(t, backend.ProviderName, status.Providers[0].Provider)
	assert.Equal(t, "closed", status.Providers[0].CircuitState)
}

func TestRouter_RequiresAuthentication(t *testing.T) {
	f := newFixture(t)

	paths := []string{
		"/v1/slots",
		"/v1/calendar/2025-03-10/occupancy",
		"/v1/schedules/due",
		"/v1/schedules/7/suggestions",
		"/v1/invoices/late-fees",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			w := f.do(t, http.MethodGet, path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		})
	}
}

func TestRouter_ListSlots(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/slots", f.token(t, auth.RoleTenant), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	slots := decode[models.SlotList](t, w)
	assert.Equal(t, 1, slots.Capacity)
	require.Len(t, slots.Items, 5)
	assert.Equal(t, "08:00", slots.Items[0].StartTime)
	assert.Equal(t, "19:00", slots.Items[4].EndTime)
}

func TestRouter_DayOccupancy(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/calendar/2025-03-10/occupancy", f.token(t, auth.RoleStaff), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	occ := decode[models.DayOccupancy](t, w)
	assert.Equal(t, "2025-03-10", occ.Date.Time().Format(models.DateLayout))
	require.Len(t, occ.Slots, 5)

	assert.Equal(t, "08:00", occ.Slots[0].StartTime)
	assert.Equal(t, 2, occ.Slots[0].Count)
	assert.False(t, occ.Slots[0].Available)
	assert.Len(t, occ.Slots[0].Bookings, 2)

	// The completed request does not hold its slot.
	assert.Equal(t, 0, occ.Slots[1].Count)
	assert.True(t, occ.Slots[1].Available)
	assert.Equal(t, 1, occ.Stats.SkippedInactive)
}

func TestRouter_DayConflicts(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/calendar/2025-03-10/conflicts", f.token(t, auth.RoleStaff), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	conflicts := decode[models.DayConflicts](t, w)
	require.Len(t, conflicts.Clashes, 1)
	assert.Equal(t, "08:00", conflicts.Clashes[0].StartTime)
	assert.ElementsMatch(t, []string{"1", "2"}, conflicts.Clashes[0].UnitIDs)
	assert.ElementsMatch(t, []string{"1", "2"}, conflicts.UnitIDs)
}

func TestRouter_InvalidCalendarDate(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/calendar/10-03-2025/occupancy", f.token(t, auth.RoleStaff), nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	problem := decode[models.Problem](t, w)
	assert.Equal(t, models.ProblemTypeValidation, problem.Type)
	require.Len(t, problem.Errors, 1)
	assert.Equal(t, "date", problem.Errors[0].Field)
}

func TestRouter_Suggestions(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.RoleStaff)

	w := f.do(t, http.MethodGet, "/v1/schedules/7/suggestions", token, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	plan := decode[models.Plan](t, w)
	assert.Equal(t, "7", plan.Schedule.ID)
	assert.Equal(t, "MONTHLY", plan.Schedule.RecurrenceType)
	assert.NotEmpty(t, plan.DraftID)
	assert.Equal(t, 0, plan.Unresolved)
	require.Len(t, plan.Suggestions, 2)
	for _, s := range plan.Suggestions {
		assert.True(t, s.Resolved, s.UnitID)
		require.NotNil(t, s.Date)
		require.NotNil(t, s.Slot)
	}

	// The caller's token is forwarded to the backend.
	assert.Equal(t, "Bearer "+token, f.backend.lastAuth())
}

func TestRouter_Suggestions_InvalidPreferredSlot(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/schedules/7/suggestions?preferredSlot=09:00", f.token(t, auth.RoleStaff), nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	problem := decode[models.Problem](t, w)
	require.Len(t, problem.Errors, 1)
	assert.Equal(t, "preferredSlot", problem.Errors[0].Field)
}

func TestRouter_Suggestions_UnknownSchedule(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/schedules/99/suggestions", f.token(t, auth.RoleStaff), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestRouter_PinAndUnpin(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.RoleStaff)

	w := f.do(t, http.MethodPut, "/v1/schedules/7/suggestions/2/pin", token,
		models.PinRequest{Date: "2025-03-11", SlotStart: "15:00"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	plan := decode[models.Plan](t, w)
	var pinned *models.Suggestion
	for i := range plan.Suggestions {
		if plan.Suggestions[i].UnitID == "2" {
			pinned = &plan.Suggestions[i]
		}
	}
	require.NotNil(t, pinned)
	assert.True(t, pinned.Pinned)
	require.NotNil(t, pinned.Date)
	assert.Equal(t, "2025-03-11", pinned.Date.Time().Format(models.DateLayout))
	assert.Equal(t, "15:00", pinned.Slot.StartTime)

	w = f.do(t, http.MethodDelete, "/v1/schedules/7/suggestions/2/pin", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	plan = decode[models.Plan](t, w)
	for _, s := range plan.Suggestions {
		assert.False(t, s.Pinned, s.UnitID)
	}
}

func TestRouter_Pin_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.RoleStaff)

	tests := []struct {
		name  string
		body  models.PinRequest
		field string
	}{
		{"missing date", models.PinRequest{SlotStart: "10:00"}, "date"},
		{"bad date", models.PinRequest{Date: "11/03/2025", SlotStart: "10:00"}, "date"},
		{"off-grid slot", models.PinRequest{Date: "2025-03-11", SlotStart: "12:00"}, "slotStart"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPut, "/v1/schedules/7/suggestions/2/pin", token, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			problem := decode[models.Problem](t, w)
			require.Len(t, problem.Errors, 1)
			assert.Equal(t, tt.field, problem.Errors[0].Field)
		})
	}
}

func TestRouter_Pin_UnknownUnit(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/v1/schedules/7/suggestions/99/pin", f.token(t, auth.RoleStaff),
		models.PinRequest{Date: "2025-03-11", SlotStart: "10:00"})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_Pin_RequiresJSON(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPut, "/v1/schedules/7/suggestions/2/pin", strings.NewReader("date=2025-03-11"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+f.token(t, auth.RoleStaff))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestRouter_Commit(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/schedules/7/commit", f.token(t, auth.RoleTenant), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, f.backend.triggered)

	w = f.do(t, http.MethodPost, "/v1/schedules/7/commit", f.token(t, auth.RoleStaff), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	result := decode[models.CommitResult](t, w)
	assert.Equal(t, "7", result.ScheduleID)
	assert.Equal(t, 2, result.Triggered)
	assert.Equal(t, 0, result.Failed)
	assert.True(t, result.DraftDeleted)
	assert.ElementsMatch(t, []string{"1", "2"}, f.backend.triggered)
	for _, o := range result.Outcomes {
		assert.Equal(t, "TRIGGERED", o.Status)
		assert.NotEmpty(t, o.RequestID)
	}
}

func TestRouter_NextOccurrence(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.RoleStaff)

	w := f.do(t, http.MethodGet, "/v1/schedules/7/next-occurrence?after=2025-03-10&count=3", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	occ := decode[models.Occurrences](t, w)
	assert.Equal(t, "SCHEDULED", occ.Status)
	require.Len(t, occ.Dates, 3)
	require.NotNil(t, occ.Next)
	assert.Equal(t, "2025-04-10", occ.Next.Time().Format(models.DateLayout))
	assert.Equal(t, "2025-06-10", occ.Dates[2].Time().Format(models.DateLayout))

	w = f.do(t, http.MethodGet, "/v1/schedules/7/next-occurrence?count=0", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/v1/schedules/7/next-occurrence?count=100", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_DueSchedules(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.RoleStaff)

	w := f.do(t, http.MethodGet, "/v1/schedules/due", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	due := decode[models.DueScheduleList](t, w)
	assert.Equal(t, "2025-03-01", due.Today.Time().Format(models.DateLayout))
	require.Len(t, due.Items, 1)
	assert.Equal(t, "7", due.Items[0].Schedule.ID)
	assert.Equal(t, 9, due.Items[0].DaysUntil)

	// Outside the 14-day notice window.
	w = f.do(t, http.MethodGet, "/v1/schedules/due?today=2025-02-01", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	due = decode[models.DueScheduleList](t, w)
	assert.Empty(t, due.Items)
}

func TestRouter_Drafts(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.RoleStaff)

	w := f.do(t, http.MethodGet, "/v1/schedules/drafts", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, decode[models.DraftList](t, w).Items)

	w = f.do(t, http.MethodPut, "/v1/schedules/7/suggestions/2/pin", token,
		models.PinRequest{Date: "2025-03-11", SlotStart: "15:00"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/v1/schedules/drafts", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	drafts := decode[models.DraftList](t, w)
	require.Len(t, drafts.Items, 1)
	assert.Equal(t, "7", drafts.Items[0].ScheduleID)
	assert.Equal(t, "2025-03-10", drafts.Items[0].TriggerDate.Time().Format(models.DateLayout))
	assert.Equal(t, 2, drafts.Items[0].Units)
	assert.Equal(t, 1, drafts.Items[0].Pinned)
}

func TestRouter_LateFees(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/invoices/late-fees", f.token(t, auth.RoleStaff), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	list := decode[models.LateFeeList](t, w)
	assert.Equal(t, "2025-03-01", list.Today.Time().Format(models.DateLayout))
	require.Len(t, list.Items, 2)
	assert.Equal(t, 2, list.Summary.Invoices)
	assert.Equal(t, 1, list.Summary.Overdue)
	assert.True(t, decimal.NewFromInt(2700).Equal(list.Summary.TotalLateFees), list.Summary.TotalLateFees.String())
	assert.True(t, billing.DefaultDailyLateFee().Equal(list.Summary.FeePerDay))

	unpaid := list.Items[0]
	assert.Equal(t, "30", unpaid.InvoiceID)
	assert.Equal(t, 9, unpaid.DaysLate)
	assert.True(t, decimal.NewFromInt(1502700).Equal(unpaid.TotalWithFee))

	paidEarly := list.Items[1]
	assert.Equal(t, 0, paidEarly.DaysLate)
	assert.True(t, paidEarly.LateFee.IsZero())
}

func TestRouter_LateFee(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.RoleStaff)

	w := f.do(t, http.MethodGet, "/v1/invoices/30/late-fee?today=2025-02-25", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	fee := decode[models.InvoiceLateFee](t, w)
	assert.Equal(t, 5, fee.DaysLate)
	assert.True(t, decimal.NewFromInt(1500).Equal(fee.LateFee))

	w = f.do(t, http.MethodGet, "/v1/invoices/404/late-fee", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/v1/invoices/30/late-fee?today=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
