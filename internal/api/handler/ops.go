// Package handler provides HTTP handlers for the Rentwise planning API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rentwise/rentwise/internal/api/models"
	"github.com/rentwise/rentwise/internal/api/response"
	"github.com/rentwise/rentwise/internal/provider/resilience"
)

// readyTimeout bounds each dependency check of the readiness check.
const readyTimeout = 3 * time.Second

// Pinger is a dependency the readiness check can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependency is a named readiness check.
type Dependency struct {
	Name   string
	Pinger Pinger
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	registry  *resilience.Registry
	deps      []Dependency
}

// NewOpsHandler creates a new OpsHandler. Nil registry and empty deps are
// allowed; the checks then report only the process itself.
func NewOpsHandler(version, buildTime string, registry *resilience.Registry, deps ...Dependency) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		registry:  registry,
		deps:      deps,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - every dependency must answer.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	subsystems := h.checkDependencies(r.Context())

	status := models.HealthStatusOK
	for _, s := range subsystems {
		if s.Status != models.HealthStatusOK {
			status = models.HealthStatusFail
			break
		}
	}

	details := make(map[string]interface{}, len(subsystems))
	for _, s := range subsystems {
		details[s.Name] = s.Status
	}

	code := http.StatusOK
	if status != models.HealthStatusOK {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, models.Health{
		Status:  status,
		Time:    models.Timestamp(time.Now()),
		Details: details,
	})
}

// SystemStatus handles GET /v1/ops/status - provider and subsystem status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Subsystems: h.checkDependencies(r.Context()),
		Providers:  []models.ProviderStatus{},
	}

	if h.registry != nil {
		for _, p := range h.registry.GetAllHealth() {
			status.Providers = append(status.Providers, toProviderStatus(p))
		}
		status.Status = healthStatus(h.registry.Overall())
	}
	for _, s := range status.Subsystems {
		if s.Status == models.HealthStatusFail {
			status.Status = models.HealthStatusFail
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) checkDependencies(ctx context.Context) []models.SubsystemStatus {
	out := make([]models.SubsystemStatus, 0, len(h.deps))
	for _, dep := range h.deps {
		checkCtx, cancel := context.WithTimeout(ctx, readyTimeout)
		err := dep.Pinger.Ping(checkCtx)
		cancel()

		s := models.SubsystemStatus{Name: dep.Name, Status: models.HealthStatusOK}
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("dependency", dep.Name).Msg("dependency check failed")
			detail := err.Error()
			s.Status = models.HealthStatusFail
			s.Detail = &detail
		}
		out = append(out, s)
	}
	return out
}

func toProviderStatus(p *resilience.ProviderHealth) models.ProviderStatus {
	out := models.ProviderStatus{
		Provider:            p.Name,
		Status:              healthStatus(p.State()),
		CircuitState:        p.CircuitState.String(),
		ConsecutiveFailures: p.Counts.ConsecutiveFailures,
	}
	if p.LastSuccessAt != nil {
		ts := models.Timestamp(*p.LastSuccessAt)
		out.LastSuccessAt = &ts
	}
	if p.LastFailureAt != nil {
		ts := models.Timestamp(*p.LastFailureAt)
		out.LastFailureAt = &ts
	}
	if p.LastError != "" {
		msg := p.LastError
		out.Message = &msg
	}
	return out
}

func healthStatus(state string) models.HealthStatus {
	switch state {
	case resilience.StateUnhealthy:
		return models.HealthStatusFail
	case resilience.StateDegraded:
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusOK
	}
}
