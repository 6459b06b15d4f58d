package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/rentwise/rentwise/internal/backend"
	"github.com/rentwise/rentwise/pkg/civildate"
)

// ErrUnknownJob is returned by Dispatch for an unsupported job type.
var ErrUnknownJob = errors.New("unknown job type")

// Pinger checks that an upstream answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Dispatcher       *Dispatcher
	Logger           zerolog.Logger
}

// JobMessage is the body of a worker job message.
type JobMessage struct {
	JobType string `json:"job_type"`
	// Today overrides the planning date (YYYY-MM-DD) for plan_due_schedules.
	Today string `json:"today,omitempty"`
}

// DispatcherConfig holds the jobs a Dispatcher can run.
type DispatcherConfig struct {
	PlanJob *PlanJob
	Backend Pinger

	// TokenSource, when set, mints the bearer token each job calls the
	// backend with. Without it the backend client's service token is used.
	TokenSource func() (string, error)

	Logger zerolog.Logger
}

// Dispatcher runs jobs by type. It carries no Pub/Sub state so jobs can be
// triggered from tests or other transports.
type Dispatcher struct {
	planJob *PlanJob
	backend Pinger
	tokens  func() (string, error)
	logger  zerolog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		planJob: cfg.PlanJob,
		backend: cfg.Backend,
		tokens:  cfg.TokenSource,
		logger:  cfg.Logger,
	}
}

// Dispatch decodes and runs one job message.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) (string, error) {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", fmt.Errorf("parsing message: %w", err)
	}

	if d.tokens != nil {
		token, err := d.tokens()
		if err != nil {
			return msg.JobType, fmt.Errorf("minting service token: %w", err)
		}
		ctx = backend.WithToken(ctx, token)
	}

	switch msg.JobType {
	case JobPlanDueSchedules:
		return msg.JobType, d.planDueSchedules(ctx, msg)
	case JobHealthCheck:
		return msg.JobType, d.healthCheck(ctx)
	default:
		return msg.JobType, fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
}

func (d *Dispatcher) planDueSchedules(ctx context.Context, msg JobMessage) error {
	var today time.Time
	if msg.Today != "" {
		t, err := civildate.Parse(msg.Today, d.planJob.planner.Location())
		if err != nil {
			return fmt.Errorf("parsing today: %w", err)
		}
		today = t
	}

	result, err := d.planJob.Run(ctx, today)
	if err != nil {
		return err
	}

	// Failures are retried by redelivery only when nothing could be planned.
	if result.Failed > 0 && result.Planned == 0 {
		return fmt.Errorf("all %d due schedules failed to plan", result.Failed)
	}
	return nil
}

func (d *Dispatcher) healthCheck(ctx context.Context) error {
	d.logger.Debug().Msg("running health check")

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := d.backend.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	d.logger.Debug().Msg("health check passed")
	return nil
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Planning runs are heavy; keep few in flight.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 2
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       cfg.Dispatcher,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages. It blocks until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	jobType, err := h.dispatcher.Dispatch(logger.WithContext(ctx), msg.Data)
	switch {
	case errors.Is(err, ErrUnknownJob):
		logger.Warn().Str("job_type", jobType).Msg("unknown job type")
		msg.Ack() // Ack unknown messages to prevent redelivery
		return
	case err != nil:
		logger.Error().Err(err).Str("job_type", jobType).Msg("job failed")
		msg.Nack()
		return
	}

	logger.Info().
		Str("job_type", jobType).
		Dur("duration", time.Since(startTime)).
		Msg("job completed successfully")

	msg.Ack()
}
