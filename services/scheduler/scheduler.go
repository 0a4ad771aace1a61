// Package scheduler fires cron-scheduled triggers. Exactly one instance acts
// at a time, elected through a Redis lock.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	"github.com/ramiqadoumi/go-agent-flow/internal/handlers"
)

const (
	LeaderKey            = "scheduler:leader"
	LeaderTTL            = 30 * time.Second
	DefaultCheckInterval = 15 * time.Second
)

// TriggerSource lists triggers and records their runs.
type TriggerSource interface {
	EnabledTriggers(ctx context.Context) ([]domain.Trigger, error)
	MarkRun(ctx context.Context, id string, ranAt, next time.Time) error
}

// Elector reports whether this instance currently leads.
type Elector interface {
	AcquireOrRenew(ctx context.Context) (leader, acquired bool, err error)
	Release(ctx context.Context) error
}

// ExecutionSubmitter starts an execution. handlers.Submitter satisfies it.
type ExecutionSubmitter interface {
	Submit(ctx context.Context, req handlers.SubmitRequest) (*domain.Execution, *domain.Job, error)
}

// Scheduler polls for due triggers and starts an execution for each.
type Scheduler struct {
	triggers  TriggerSource
	elector   Elector
	submitter ExecutionSubmitter
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithInterval(d time.Duration) Option   { return func(s *Scheduler) { s.interval = d } }
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func NewScheduler(triggers TriggerSource, elector Elector, submitter ExecutionSubmitter, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		triggers:  triggers,
		elector:   elector,
		submitter: submitter,
		interval:  DefaultCheckInterval,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run is the main polling loop: tries to become leader, then fires due
// triggers. Blocks until ctx is cancelled, then gives up leadership.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.elector.Release(releaseCtx); err != nil {
			s.logger.Warn("release leadership", slog.String("error", err.Error()))
		}
	}()

	// Run once immediately before waiting for the first tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	leader, acquired, err := s.elector.AcquireOrRenew(ctx)
	if err != nil {
		s.logger.Error("leader election", slog.String("error", err.Error()))
		return
	}
	if acquired {
		s.logger.Info("acquired scheduler leadership")
	}
	if !leader {
		return
	}
	if err := s.fireDue(ctx); err != nil {
		s.logger.Error("fire due triggers", slog.String("error", err.Error()))
	}
}

// fireDue starts every trigger whose next run has passed. A trigger that was
// never scheduled fires on the first tick.
func (s *Scheduler) fireDue(ctx context.Context) error {
	triggers, err := s.triggers.EnabledTriggers(ctx)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	for _, t := range triggers {
		if t.NextRunAt != nil && t.NextRunAt.After(now) {
			continue
		}
		if err := s.fire(ctx, t, now); err != nil {
			s.logger.Error("trigger failed",
				slog.String("trigger_id", t.ID),
				slog.String("trigger", t.Name),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (s *Scheduler) fire(ctx context.Context, t domain.Trigger, now time.Time) error {
	// Parse first: a broken expression must not fire at every tick.
	schedule, err := cron.ParseStandard(t.CronExpr)
	if err != nil {
		return fmt.Errorf("parse cron %q: %w", t.CronExpr, err)
	}
	next := schedule.Next(now)

	exec, job, err := s.submitter.Submit(ctx, handlers.SubmitRequest{
		Owner: domain.Owner{Type: domain.OwnerTrigger, ID: t.ID, Name: t.Name},
		Input: triggerInput(t),
	})
	if err != nil {
		return err
	}

	if err := s.triggers.MarkRun(ctx, t.ID, now, next); err != nil {
		return fmt.Errorf("mark trigger %s run: %w", t.ID, err)
	}

	s.logger.Info("trigger fired",
		slog.String("trigger_id", t.ID),
		slog.String("trigger", t.Name),
		slog.String("execution_id", exec.ID),
		slog.String("job_id", job.ID),
		slog.Time("next_run", next),
	)
	return nil
}

// triggerInput is the trigger's configured input plus the agent it targets.
func triggerInput(t domain.Trigger) map[string]any {
	input := make(map[string]any, len(t.Input)+1)
	for k, v := range t.Input {
		input[k] = v
	}
	if t.AgentID != "" {
		input["agent_id"] = t.AgentID
	}
	return input
}
