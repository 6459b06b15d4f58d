// Package backend is the REST client for the property-management backend that
// owns maintenance requests, units, schedules and invoices.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rentwise/rentwise/internal/billing"
	"github.com/rentwise/rentwise/internal/maintenance"
	"github.com/rentwise/rentwise/internal/provider/resilience"
)

// ProviderName identifies the backend in health reporting and metrics.
const ProviderName = "property-backend"

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 8 << 20

// Recorder receives per-call outcomes for metrics.
type Recorder interface {
	RecordRequest(provider, operation string, duration time.Duration, err error)
}

// ClientConfig holds configuration for the backend client.
type ClientConfig struct {
	// BaseURL is the API base URL (required), e.g. https://api.example.com/api.
	BaseURL string

	// ServiceToken authorizes calls made without a caller token (worker jobs).
	ServiceToken string

	// Location in which backend dates are interpreted. Default: UTC.
	Location *time.Location

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	// Registry receives success/failure records for the ops status endpoint.
	Registry *resilience.Registry

	// Metrics records call durations (optional).
	Metrics Recorder

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client talks to the property backend.
type Client struct {
	baseURL      string
	serviceToken string
	location     *time.Location
	httpClient   *resilience.Client
	registry     *resilience.Registry
	metrics      Recorder
	logger       zerolog.Logger
}

// NewClient creates a new backend client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		rc := resilience.DefaultClientConfig(ProviderName)
		rc.Registry = cfg.Registry
		httpClient = resilience.NewClient(rc)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		serviceToken: cfg.ServiceToken,
		location:     loc,
		httpClient:   httpClient,
		registry:     cfg.Registry,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// ListRequests fetches every maintenance request.
func (c *Client) ListRequests(ctx context.Context) ([]maintenance.Request, error) {
	body, err := c.do(ctx, "list_requests", http.MethodGet, "/maintenance-requests", nil, nil)
	if err != nil {
		return nil, err
	}
	raw, err := decodeList[apiRequest](body)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	out := make([]maintenance.Request, 0, len(raw))
	for i := range raw {
		out = append(out, raw[i].toDomain())
	}
	return out, nil
}

// ListUnits fetches every unit.
func (c *Client) ListUnits(ctx context.Context) ([]maintenance.Unit, error) {
	body, err := c.do(ctx, "list_units", http.MethodGet, "/units", nil, nil)
	if err != nil {
		return nil, err
	}
	raw, err := decodeList[apiUnit](body)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	out := make([]maintenance.Unit, 0, len(raw))
	for i := range raw {
		out = append(out, raw[i].toDomain())
	}
	return out, nil
}

// ListSchedules fetches every maintenance schedule.
func (c *Client) ListSchedules(ctx context.Context) ([]*maintenance.Schedule, error) {
	body, err := c.do(ctx, "list_schedules", http.MethodGet, "/maintenance-schedules", nil, nil)
	if err != nil {
		return nil, err
	}
	raw, err := decodeList[apiSchedule](body)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	out := make([]*maintenance.Schedule, 0, len(raw))
	for i := range raw {
		out = append(out, raw[i].toDomain(c.location))
	}
	return out, nil
}

// GetSchedule fetches one schedule. A missing schedule yields
// maintenance.ErrScheduleNotFound.
func (c *Client) GetSchedule(ctx context.Context, id string) (*maintenance.Schedule, error) {
	body, err := c.do(ctx, "get_schedule", http.MethodGet, "/maintenance-schedules/"+url.PathEscape(id), nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", maintenance.ErrScheduleNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	raw, err := decodeOne[apiSchedule](body)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return raw.toDomain(c.location), nil
}

// ScheduleHistory fetches the trigger history of one schedule.
func (c *Client) ScheduleHistory(ctx context.Context, id string) ([]maintenance.TriggerRecord, error) {
	body, err := c.do(ctx, "schedule_history", http.MethodGet, "/maintenance-schedules/"+url.PathEscape(id)+"/history", nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", maintenance.ErrScheduleNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	raw, err := decodeList[apiTriggerRecord](body)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	out := make([]maintenance.TriggerRecord, 0, len(raw))
	for i := range raw {
		rec := raw[i].toDomain(c.location)
		if rec.ScheduleID == "" {
			rec.ScheduleID = id
		}
		out = append(out, rec)
	}
	return out, nil
}

// TriggerSchedule materializes a schedule occurrence for one unit. The
// backend re-validates slot availability and answers 409 when the slot was
// taken in the meantime.
func (c *Client) TriggerSchedule(ctx context.Context, scheduleID string, in maintenance.TriggerInput) (*maintenance.TriggerResult, error) {
	payload, err := json.Marshal(apiTriggerRequest{UnitID: in.UnitID, PreferredTime: in.PreferredTime})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	headers := http.Header{}
	headers.Set(resilience.IdempotencyKeyHeader, fmt.Sprintf("%s:%s:%s", scheduleID, in.UnitID, in.PreferredTime))

	body, err := c.do(ctx, "trigger_schedule", http.MethodPost, "/maintenance-schedules/"+url.PathEscape(scheduleID)+"/trigger", payload, headers)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &maintenance.TriggerResult{UnitID: in.UnitID}, nil
	}
	raw, err := decodeOne[apiTriggerResponse](body)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return raw.toDomain(in.UnitID), nil
}

// ListInvoices fetches every invoice.
func (c *Client) ListInvoices(ctx context.Context) ([]*billing.Invoice, error) {
	body, err := c.do(ctx, "list_invoices", http.MethodGet, "/invoices", nil, nil)
	if err != nil {
		return nil, err
	}
	raw, err := decodeList[apiInvoice](body)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	out := make([]*billing.Invoice, 0, len(raw))
	for i := range raw {
		out = append(out, raw[i].toDomain(c.location))
	}
	return out, nil
}

// GetInvoice fetches one invoice. A missing invoice yields
// billing.ErrInvoiceNotFound.
func (c *Client) GetInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	body, err := c.do(ctx, "get_invoice", http.MethodGet, "/invoices/"+url.PathEscape(id), nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", billing.ErrInvoiceNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	raw, err := decodeOne[apiInvoice](body)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return raw.toDomain(c.location), nil
}

// Ping checks that the backend answers. Any HTTP answer other than 5xx or
// 429 counts as up, so an unauthorized ping still passes.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "ping", http.MethodGet, "/units", nil, nil)
	if err == nil || !errors.Is(err, ErrUnavailable) && errors.As(err, new(*StatusError)) {
		return nil
	}
	return err
}

// do executes one call and returns the response body of a 2xx answer.
func (c *Client) do(ctx context.Context, op, method, path string, payload []byte, headers http.Header) ([]byte, error) {
	start := time.Now()
	body, err := c.exchange(ctx, op, method, path, payload, headers)
	c.record(op, time.Since(start), err)
	return body, err
}

func (c *Client) exchange(ctx context.Context, op, method, path string, payload []byte, headers http.Header) ([]byte, error) {
	var reqBody io.Reader = http.NoBody
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	for k, v := range headers {
		req.Header[k] = v
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: executing request: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Operation: op, StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil {
			se.Message = eb.text()
		}
		return nil, se
	}
	return body, nil
}

// setHeaders sets common request headers. The caller's token wins over the
// service token.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	token := TokenFromContext(req.Context())
	if token == "" {
		token = c.serviceToken
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// record reports a call outcome. A 4xx answer still proves the backend is
// up; only transport errors, 5xx and 429 count as failures.
func (c *Client) record(op string, d time.Duration, err error) {
	if c.metrics != nil {
		c.metrics.RecordRequest(ProviderName, op, d, err)
	}

	evt := c.logger.Debug()
	if err != nil {
		evt = c.logger.Warn().Err(err)
	}
	evt.Str("provider", ProviderName).Str("operation", op).Dur("duration", d).Msg("backend call")

	if c.registry == nil {
		return
	}
	if err == nil || !errors.Is(err, ErrUnavailable) && errors.As(err, new(*StatusError)) {
		c.registry.RecordSuccess(ProviderName)
		return
	}
	c.registry.RecordFailure(ProviderName, err)
}
