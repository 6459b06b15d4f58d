// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/rentwise/rentwise/internal/database"
)

// Draft store kinds.
const (
	DraftStorePostgres = "postgres"
	DraftStoreMemory   = "memory"
)

// Config is the full service configuration.
type Config struct {
	App       AppConfig
	Backend   BackendConfig
	JWT       JWTConfig
	Planner   PlannerConfig
	Billing   BillingConfig
	Telemetry TelemetryConfig
	Worker    WorkerConfig
	Database  database.Config

	// DraftStore selects where plan drafts are kept.
	DraftStore string `validate:"oneof=postgres memory"`
}

// AppConfig holds process-level settings.
type AppConfig struct {
	Port     string `validate:"required,numeric"`
	Env      string `validate:"required,oneof=development staging production test"`
	LogLevel string `validate:"oneof=trace debug info warn error"`
	// Timezone is the IANA zone dates are interpreted in.
	Timezone string `validate:"required"`
}

// BackendConfig configures the property backend client.
type BackendConfig struct {
	BaseURL      string        `validate:"required,url"`
	ServiceToken string
	Timeout      time.Duration `validate:"gt=0"`
}

// JWTConfig configures bearer token verification.
type JWTConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
}

// PlannerConfig configures slot suggestions.
type PlannerConfig struct {
	HorizonDays int `validate:"min=1,max=365"`
}

// BillingConfig configures late fees.
type BillingConfig struct {
	LateFeePerDay decimal.Decimal
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	// SampleRatio is the fraction of root traces kept.
	SampleRatio float64 `validate:"gte=0,lte=1"`
}

// WorkerConfig configures the Pub/Sub worker.
type WorkerConfig struct {
	ProjectID    string
	Subscription string
	Concurrency  int `validate:"min=1,max=32"`
	HealthPort   string `validate:"omitempty,numeric"`
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.App.Timezone)
}

// IsDevelopment reports whether the service runs locally.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development" || c.App.Env == "test"
}

// Load reads .env (when present) and the environment, then validates the result.
// Variables already set in the environment win over .env values.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the environment only.
func FromEnv() (*Config, error) {
	var errs []error

	cfg := &Config{
		App: AppConfig{
			Port:     getEnv("APP_PORT", "8080"),
			Env:      getEnv("APP_ENV", "development"),
			LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Timezone: getEnv("TIMEZONE", "UTC"),
		},
		Backend: BackendConfig{
			BaseURL:      os.Getenv("BACKEND_BASE_URL"),
			ServiceToken: os.Getenv("BACKEND_SERVICE_TOKEN"),
			Timeout:      parseDuration("BACKEND_TIMEOUT", "10s", &errs),
		},
		JWT: JWTConfig{
			SigningKey: os.Getenv("JWT_SIGNING_KEY"),
			Issuer:     os.Getenv("JWT_ISSUER"),
			Audience:   os.Getenv("JWT_AUDIENCE"),
		},
		Planner: PlannerConfig{
			HorizonDays: parseInt("PLANNER_HORIZON_DAYS", "30", &errs),
		},
		Billing: BillingConfig{
			LateFeePerDay: parseDecimal("LATE_FEE_PER_DAY", "300", &errs),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getEnv("OTEL_ENABLED", "false") == "true",
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRatio:  parseFloat("OTEL_TRACES_SAMPLE_RATIO", "1", &errs),
		},
		Worker: WorkerConfig{
			ProjectID:    os.Getenv("PUBSUB_PROJECT_ID"),
			Subscription: getEnv("PUBSUB_SUBSCRIPTION", "rentwise-worker-jobs"),
			Concurrency:  parseInt("WORKER_CONCURRENCY", "3", &errs),
			HealthPort:   getEnv("WORKER_HEALTH_PORT", "8081"),
		},
		Database:   database.ConfigFromEnv(),
		DraftStore: strings.ToLower(getEnv("DRAFT_STORE", DraftStoreMemory)),
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.JWT.SigningKey == "" && !c.IsDevelopment() {
		return errors.New("invalid configuration: JWT_SIGNING_KEY is required outside development")
	}
	if !c.Billing.LateFeePerDay.IsPositive() {
		return errors.New("invalid configuration: LATE_FEE_PER_DAY must be positive")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid configuration: TIMEZONE: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key, defaultValue string, errs *[]error) int {
	n, err := strconv.Atoi(getEnv(key, defaultValue))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
	}
	return n
}

func parseFloat(key, defaultValue string, errs *[]error) float64 {
	f, err := strconv.ParseFloat(getEnv(key, defaultValue), 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
	}
	return f
}

func parseDuration(key, defaultValue string, errs *[]error) time.Duration {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
	}
	return d
}

func parseDecimal(key, defaultValue string, errs *[]error) decimal.Decimal {
	d, err := decimal.NewFromString(getEnv(key, defaultValue))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
	}
	return d
}
