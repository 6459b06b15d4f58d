package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rentwise/rentwise/internal/planning"
)

// SchedulePlanner is the part of the planning service the job drives.
type SchedulePlanner interface {
	Today() time.Time
	Location() *time.Location
	DueSchedules(ctx context.Context, today time.Time) ([]planning.DueSchedule, error)
	Suggest(ctx context.Context, in planning.SuggestInput) (*planning.PlanResult, error)
}

// PlanJob drafts suggestions for every schedule inside its notice window.
type PlanJob struct {
	config  PlanJobConfig
	planner SchedulePlanner
	logger  zerolog.Logger

	metrics *PlanMetrics
}

// PlanMetrics tracks planning job statistics.
type PlanMetrics struct {
	mu sync.RWMutex

	TotalRuns        int64
	SchedulesPlanned int64
	SchedulesFailed  int64
	UnitsUnresolved  int64

	LastRunAt       time.Time
	LastRunDuration time.Duration
	TotalDuration   time.Duration
}

// PlanJobOptions holds configuration for creating a PlanJob.
type PlanJobOptions struct {
	Config  PlanJobConfig
	Planner SchedulePlanner
	Logger  zerolog.Logger
}

// NewPlanJob creates a new planning job.
func NewPlanJob(opts PlanJobOptions) *PlanJob {
	return &PlanJob{
		config:  opts.Config.withDefaults(),
		planner: opts.Planner,
		logger:  opts.Logger,
		metrics: &PlanMetrics{},
	}
}

// RunResult contains the result of one planning run.
type RunResult struct {
	Today      time.Time
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Due        int
	Skipped    int
	Planned    int
	Failed     int
	Unresolved int
	Errors     []PlanError
}

// PlanError is a schedule that could not be planned.
type PlanError struct {
	ScheduleID string
	Error      string
}

// Run plans every due schedule as of today. A zero today means the planner's
// current date. Per-schedule failures are collected in the result; only a
// failure to list schedules is returned as an error.
func (j *PlanJob) Run(ctx context.Context, today time.Time) (*RunResult, error) {
	startTime := time.Now()
	if today.IsZero() {
		today = j.planner.Today()
	}
	result := &RunResult{Today: today, StartTime: startTime}

	due, err := j.planner.DueSchedules(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("listing due schedules: %w", err)
	}
	result.Due = len(due)

	ids := make([]string, 0, len(due))
	for _, d := range due {
		if j.config.SkipOverdue && d.DaysUntil < 0 {
			result.Skipped++
			continue
		}
		ids = append(ids, d.Schedule.ID)
	}

	j.logger.Info().
		Str("today", today.Format(time.DateOnly)).
		Int("due", result.Due).
		Int("concurrency", j.config.Concurrency).
		Msg("starting due schedule planning")

	idsChan := make(chan string, len(ids))
	resultsChan := make(chan scheduleResult, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.planWorker(ctx, idsChan, resultsChan)
		}()
	}

	for _, id := range ids {
		idsChan <- id
	}
	close(idsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for sr := range resultsChan {
		if sr.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, PlanError{ScheduleID: sr.scheduleID, Error: sr.err.Error()})
			continue
		}
		result.Planned++
		result.Unresolved += sr.unresolved
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)

	j.updateMetrics(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("planned", result.Planned).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Int("unresolved_units", result.Unresolved).
		Msg("due schedule planning completed")

	return result, nil
}

type scheduleResult struct {
	scheduleID string
	unresolved int
	err        error
}

func (j *PlanJob) planWorker(ctx context.Context, ids <-chan string, results chan<- scheduleResult) {
	for id := range ids {
		select {
		case <-ctx.Done():
			results <- scheduleResult{scheduleID: id, err: ctx.Err()}
		default:
			results <- j.planSchedule(ctx, id)
		}
	}
}

func (j *PlanJob) planSchedule(ctx context.Context, scheduleID string) scheduleResult {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	plan, err := j.planner.Suggest(ctx, planning.SuggestInput{ScheduleID: scheduleID})
	if err != nil {
		j.logger.Warn().Err(err).Str("schedule_id", scheduleID).Msg("planning schedule failed")
		return scheduleResult{scheduleID: scheduleID, err: err}
	}
	return scheduleResult{scheduleID: scheduleID, unresolved: plan.Unresolved}
}

func (j *PlanJob) updateMetrics(result *RunResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRuns++
	j.metrics.SchedulesPlanned += int64(result.Planned)
	j.metrics.SchedulesFailed += int64(result.Failed)
	j.metrics.UnitsUnresolved += int64(result.Unresolved)
	j.metrics.LastRunAt = result.EndTime
	j.metrics.LastRunDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *PlanJob) GetMetrics() PlanMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return PlanMetrics{
		TotalRuns:        j.metrics.TotalRuns,
		SchedulesPlanned: j.metrics.SchedulesPlanned,
		SchedulesFailed:  j.metrics.SchedulesFailed,
		UnitsUnresolved:  j.metrics.UnitsUnresolved,
		LastRunAt:        j.metrics.LastRunAt,
		LastRunDuration:  j.metrics.LastRunDuration,
		TotalDuration:    j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *PlanJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_runs":        m.TotalRuns,
		"schedules_planned": m.SchedulesPlanned,
		"schedules_failed":  m.SchedulesFailed,
		"units_unresolved":  m.UnitsUnresolved,
		"last_run_at":       m.LastRunAt,
		"last_run_duration": m.LastRunDuration.String(),
		"total_duration":    m.TotalDuration.String(),
	}
}
