// Package api provides the HTTP API for Rentwise maintenance planning.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/rentwise/rentwise/internal/api/handler"
	"github.com/rentwise/rentwise/internal/api/middleware"
	"github.com/rentwise/rentwise/internal/billing"
	"github.com/rentwise/rentwise/internal/planning"
	"github.com/rentwise/rentwise/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	RequireTLS  bool
	Metrics     *middleware.Metrics

	Verifier middleware.TokenVerifier
	Planning *planning.Service
	Billing  *billing.Service

	// Registry and Dependencies feed the ops endpoints.
	Registry     *resilience.Registry
	Dependencies []handler.Dependency
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "rentwise-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(chimiddleware.RealIP)            // Real IP extraction before logging and rate limits
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.RequireJSON)

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Registry, cfg.Dependencies...)
	schedulingHandler := handler.NewSchedulingHandler(cfg.Planning)
	invoiceHandler := handler.NewInvoiceHandler(cfg.Billing)

	authMiddleware := middleware.Auth(cfg.Verifier)
	standardRateLimit := middleware.RateLimitByUser(middleware.StandardRateLimit) // 100 req/min per user
	planningRateLimit := middleware.RateLimitByUser(middleware.PlanningRateLimit) // 30 req/min per user

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints - liveness and readiness are public
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(authMiddleware).Get("/status", opsHandler.SystemStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(standardRateLimit)

			r.Get("/slots", schedulingHandler.ListSlots)

			r.Route("/calendar/{date}", func(r chi.Router) {
				r.Get("/occupancy", schedulingHandler.DayOccupancy)
				r.Get("/conflicts", schedulingHandler.DayConflicts)
			})

			r.Route("/schedules", func(r chi.Router) {
				r.Get("/due", schedulingHandler.DueSchedules)
				r.Get("/drafts", schedulingHandler.Drafts)
				r.Route("/{scheduleId}", func(r chi.Router) {
					r.With(planningRateLimit).Get("/suggestions", schedulingHandler.Suggestions)
					r.Put("/suggestions/{unitId}/pin", schedulingHandler.PinSuggestion)
					r.Delete("/suggestions/{unitId}/pin", schedulingHandler.UnpinSuggestion)
					r.With(middleware.RequireManager, planningRateLimit).Post("/commit", schedulingHandler.Commit)
					r.Get("/next-occurrence", schedulingHandler.NextOccurrence)
				})
			})

			r.Route("/invoices", func(r chi.Router) {
				r.Get("/late-fees", invoiceHandler.LateFees)
				r.Get("/{invoiceId}/late-fee", invoiceHandler.LateFee)
			})
		})
	})

	return r
}
