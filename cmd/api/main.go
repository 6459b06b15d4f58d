// Package main provides the entrypoint for the Rentwise planning API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rentwise/rentwise/internal/api"
	"github.com/rentwise/rentwise/internal/api/handler"
	"github.com/rentwise/rentwise/internal/api/middleware"
	"github.com/rentwise/rentwise/internal/auth"
	"github.com/rentwise/rentwise/internal/backend"
	"github.com/rentwise/rentwise/internal/billing"
	"github.com/rentwise/rentwise/internal/config"
	"github.com/rentwise/rentwise/internal/database"
	"github.com/rentwise/rentwise/internal/planner"
	"github.com/rentwise/rentwise/internal/planning"
	"github.com/rentwise/rentwise/internal/provider/resilience"
	"github.com/rentwise/rentwise/internal/recurrence"
	"github.com/rentwise/rentwise/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "rentwise-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.App.LogLevel); err == nil {
		log = log.Level(level)
	}
	loc, _ := cfg.Location() // validated by config.Load

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.App.Env).
		Str("timezone", loc.String()).
		Msg("starting Rentwise API")

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.App.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Float64("sample_ratio", cfg.Telemetry.SampleRatio).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	providerMetrics, err := middleware.NewProviderMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize provider metrics")
		os.Exit(1)
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		SigningKey: cfg.JWT.SigningKey,
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		Insecure:   cfg.JWT.SigningKey == "" && cfg.IsDevelopment(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token verifier")
	}
	if cfg.JWT.SigningKey == "" {
		log.Warn().Msg("JWT_SIGNING_KEY not set - token signatures are not verified")
	}

	// Property backend client
	registry := resilience.NewRegistry()
	clientCfg := resilience.DefaultClientConfig(backend.ProviderName)
	clientCfg.Timeout = cfg.Backend.Timeout
	clientCfg.Registry = registry
	backendClient := backend.NewClient(backend.ClientConfig{
		BaseURL:      cfg.Backend.BaseURL,
		ServiceToken: cfg.Backend.ServiceToken,
		Location:     loc,
		HTTPClient:   resilience.NewClient(clientCfg),
		Registry:     registry,
		Metrics:      providerMetrics,
		Logger:       log,
	})

	deps := []handler.Dependency{{Name: backend.ProviderName, Pinger: backendClient}}

	// Draft storage
	var drafts planning.DraftRepository
	switch cfg.DraftStore {
	case config.DraftStorePostgres:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		log.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("database connected")

		drafts = planning.NewPostgresDraftRepository(pool, loc)
		deps = append(deps, handler.Dependency{Name: "postgres", Pinger: pool})
	default:
		drafts = planning.NewInMemoryDraftRepository()
		log.Warn().Msg("plan drafts are kept in memory and lost on restart")
	}

	slotPlanner, err := planner.New(planner.Options{HorizonDays: cfg.Planner.HorizonDays})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize planner")
	}

	planningService := planning.NewService(planning.ServiceConfig{
		Backend:    backendClient,
		Drafts:     drafts,
		Planner:    slotPlanner,
		Recurrence: recurrence.NewCalculator(loc),
		Location:   loc,
		Logger:     log,
	})
	lateFees, err := billing.NewCalculator(cfg.Billing.LateFeePerDay, loc)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize late fee calculator")
	}
	billingService := billing.NewService(billing.ServiceConfig{
		Source:     backendClient,
		Calculator: lateFees,
		Logger:     log,
	})
	log.Info().
		Int("horizon_days", cfg.Planner.HorizonDays).
		Str("late_fee_per_day", cfg.Billing.LateFeePerDay.String()).
		Str("draft_store", cfg.DraftStore).
		Msg("services initialized")

	router := api.NewRouter(api.RouterConfig{
		Version:      Version,
		BuildTime:    BuildTime,
		Logger:       log,
		ServiceName:  serviceName,
		RequireTLS:   !cfg.IsDevelopment(),
		Metrics:      metrics,
		Verifier:     verifier,
		Planning:     planningService,
		Billing:      billingService,
		Registry:     registry,
		Dependencies: deps,
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // commits trigger one backend call per unit
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
