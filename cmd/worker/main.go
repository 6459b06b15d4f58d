// Package main provides the entrypoint for the Rentwise background worker.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rentwise/rentwise/internal/api/middleware"
	"github.com/rentwise/rentwise/internal/auth"
	"github.com/rentwise/rentwise/internal/backend"
	"github.com/rentwise/rentwise/internal/config"
	"github.com/rentwise/rentwise/internal/database"
	"github.com/rentwise/rentwise/internal/planner"
	"github.com/rentwise/rentwise/internal/planning"
	"github.com/rentwise/rentwise/internal/provider/resilience"
	"github.com/rentwise/rentwise/internal/recurrence"
	"github.com/rentwise/rentwise/internal/telemetry"
	"github.com/rentwise/rentwise/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// serviceTokenTTL is the lifetime of tokens minted for worker jobs.
const serviceTokenTTL = 15 * time.Minute

func main() {
	const serviceName = "rentwise-worker"

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
	if cfg.Worker.ProjectID == "" {
		log.Fatal().Msg("PUBSUB_PROJECT_ID is required")
	}
	loc, _ := cfg.Location() // validated by config.Load

	log.Info().Str("build_time", BuildTime).Msg("starting Rentwise worker")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	providerMetrics, err := middleware.NewProviderMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize provider metrics")
	}

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

	// Without a static service token, jobs call the backend with a
	// short-lived staff token signed with the shared key.
	var tokenSource func() (string, error)
	if cfg.Backend.ServiceToken == "" {
		signer, err := auth.NewVerifier(auth.VerifierConfig{
			SigningKey: cfg.JWT.SigningKey,
			Issuer:     cfg.JWT.Issuer,
			Audience:   cfg.JWT.Audience,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("BACKEND_SERVICE_TOKEN or JWT_SIGNING_KEY is required")
		}
		tokenSource = func() (string, error) {
			return signer.Sign(serviceName, auth.RoleStaff, serviceTokenTTL)
		}
	}

	var drafts planning.DraftRepository
	if cfg.DraftStore == config.DraftStorePostgres {
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		drafts = planning.NewPostgresDraftRepository(pool, loc)
	} else {
		log.Warn().Msg("worker drafts are kept in memory; the API will not see them")
		drafts = planning.NewInMemoryDraftRepository()
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

	jobCfg := worker.DefaultPlanJobConfig()
	jobCfg.Concurrency = cfg.Worker.Concurrency
	planJob := worker.NewPlanJob(worker.PlanJobOptions{
		Config:  jobCfg,
		Planner: planningService,
		Logger:  log,
	})

	handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
		ProjectID:        cfg.Worker.ProjectID,
		SubscriptionName: cfg.Worker.Subscription,
		Dispatcher: worker.NewDispatcher(worker.DispatcherConfig{
			PlanJob:     planJob,
			Backend:     backendClient,
			TokenSource: tokenSource,
			Logger:      log,
		}),
		Logger: log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pubsub handler")
	}
	defer func() {
		if err := handler.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close pubsub client")
		}
	}()

	// Worker also exposes a health endpoint for Cloud Run
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "healthy",
			"version":  Version,
			"backend":  registry.Overall(),
			"plan_job": planJob.MetricsSnapshot(),
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Worker.HealthPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health check server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	go func() {
		if err := handler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("pubsub receive stopped")
			cancel()
		}
	}()

	// Wait for interrupt signal or a fatal receive error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
