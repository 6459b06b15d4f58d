// Package worker provides background job processing for Rentwise.
package worker

import (
	"time"
)

// Job types accepted on the worker subscription.
const (
	JobPlanDueSchedules = "plan_due_schedules"
	JobHealthCheck      = "health_check"
)

// PlanJobConfig holds configuration for the due-schedule planning job.
type PlanJobConfig struct {
	// Concurrency is the number of schedules planned at once.
	// Default: 3
	Concurrency int

	// Timeout bounds the planning of one schedule.
	// Default: 30 seconds
	Timeout time.Duration

	// SkipOverdue leaves schedules whose trigger date has passed to staff.
	// Default: false
	SkipOverdue bool
}

// DefaultPlanJobConfig returns the default planning job configuration.
func DefaultPlanJobConfig() PlanJobConfig {
	return PlanJobConfig{
		Concurrency: 3,
		Timeout:     30 * time.Second,
	}
}

func (c PlanJobConfig) withDefaults() PlanJobConfig {
	d := DefaultPlanJobConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}
