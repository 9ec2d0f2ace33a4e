// Package scheduler fires the reconciliation engine on a cron cadence.
//
// The scheduled trigger is global (all active tenants) and funnels into the
// same engine entry point as manual API triggers; the engine's single-flight
// guard arbitrates between the two.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/djlord-it/govsync/internal/domain"
)

// Runner is the engine entry point the scheduler drives.
type Runner interface {
	RunNow(ctx context.Context, trigger domain.TriggerKind, tenantID *uuid.UUID) (domain.Run, error)
}

// Schedule yields successive fire times.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Config holds the scheduler cadence.
type Config struct {
	// Expression is a five-field cron expression. Default: every 30 minutes.
	Expression string
	// Timezone is the IANA zone the expression is evaluated in. Default UTC.
	Timezone string
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{Expression: "*/30 * * * *", Timezone: "UTC"}
}

// Scheduler triggers engine runs at each cron fire time.
type Scheduler struct {
	schedule Schedule
	runner   Runner
	clock    func() time.Time
}

// New creates a Scheduler, parsing the cron expression in the configured
// timezone.
func New(cfg Config, runner Runner) (*Scheduler, error) {
	sched, err := ParseSchedule(cfg.Expression, cfg.Timezone)
	if err != nil {
		return nil, err
	}
	return &Scheduler{schedule: sched, runner: runner, clock: time.Now}, nil
}

// ParseSchedule parses a five-field cron expression bound to a timezone.
func ParseSchedule(expression, timezone string) (Schedule, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", timezone, err)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	spec, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expression, err)
	}
	return &cronSchedule{spec: spec, loc: loc}, nil
}

type cronSchedule struct {
	spec cron.Schedule
	loc  *time.Location
}

func (s *cronSchedule) Next(after time.Time) time.Time {
	return s.spec.Next(after.In(s.loc))
}

// Run blocks until ctx is cancelled, triggering a global run at every fire
// time. A fire that lands while a run is still in progress comes back as a
// skipped result from the engine and is only logged.
func (s *Scheduler) Run(ctx context.Context) {
	log.Println("scheduler: started")

	for {
		now := s.clock()
		next := s.schedule.Next(now)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			log.Println("scheduler: stopped")
			return
		case <-timer.C:
		}

		run, err := s.runner.RunNow(ctx, domain.TriggerScheduled, nil)
		if err != nil {
			log.Printf("scheduler: run failed: %v", err)
			continue
		}
		if run.Status == domain.RunStatusSkipped && run.ID == uuid.Nil {
			log.Println("scheduler: fire skipped, run already in progress")
		}
	}
}
