package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	"github.com/ramiqadoumi/go-agent-flow/pkg/telemetry"
)

const (
	// JobKindDeliver is the job kind carrying one output action delivery.
	JobKindDeliver = "output_action.deliver"
	// DefaultQueue is where delivery jobs are enqueued.
	DefaultQueue = "output-actions"
)

// DeliveryCommand is the payload of an output_action.deliver job.
type DeliveryCommand struct {
	Action        domain.OutputAction `json:"action"`
	Context       map[string]any      `json:"context"`
	ActingUserID  string              `json:"acting_user_id,omitempty"`
	ExecutionID   string              `json:"execution_id,omitempty"`
	InteractionID string              `json:"interaction_id,omitempty"`
}

// ChatInteractionID ties the delivery job to the interaction whose outcome it
// carries.
func (c *DeliveryCommand) ChatInteractionID() string {
	if c.InteractionID != "" {
		return c.InteractionID
	}
	if v, ok := c.Context["interaction_id"]; ok {
		return stringify(v)
	}
	return ""
}

// ActionSource lists the enabled actions of an owner.
type ActionSource interface {
	EnabledActions(ctx context.Context, owner domain.Owner) ([]domain.OutputAction, error)
}

// Enqueuer hands a job to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind, queue string, payload any) (*domain.Job, error)
}

// Target identifies the execution whose outcome is being dispatched.
type Target struct {
	Owner         domain.Owner
	ExecutionID   string
	InteractionID string
	ActingUserID  string
}

// TestResult is the outcome of a synchronous test delivery.
type TestResult struct {
	Success bool    `json:"success"`
	Result  *Result `json:"result,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Dispatcher matches an outcome against the owner's actions and queues one
// delivery per match.
type Dispatcher struct {
	actions  ActionSource
	enqueuer Enqueuer
	registry *Registry
	logger   *slog.Logger
	queue    string
	timeout  time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueue overrides the queue delivery jobs go to.
func WithQueue(queue string) DispatcherOption {
	return func(d *Dispatcher) { d.queue = queue }
}

// WithTestTimeout bounds a synchronous test delivery.
func WithTestTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// NewDispatcher creates a Dispatcher. registry is only used by Test.
func NewDispatcher(actions ActionSource, enqueuer Enqueuer, registry *Registry, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		actions:  actions,
		enqueuer: enqueuer,
		registry: registry,
		logger:   logger,
		queue:    DefaultQueue,
		timeout:  30 * time.Second,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// DispatchForExecution enqueues a delivery for every enabled action of the
// target's owner whose trigger matches status. It returns how many deliveries
// were queued. A failure to enqueue one action is logged and the rest still go.
func (d *Dispatcher) DispatchForExecution(ctx context.Context, target Target, outcome map[string]any, status domain.TriggerOn) int {
	log := d.logger.With(
		slog.String("owner_type", string(target.Owner.Type)),
		slog.String("owner_id", target.Owner.ID),
		slog.String("execution_id", target.ExecutionID),
		slog.String("status", string(status)),
	)

	all, err := d.actions.EnabledActions(ctx, target.Owner)
	if err != nil {
		log.Error("failed to load output actions", slog.String("error", err.Error()))
		return 0
	}

	matching := make([]domain.OutputAction, 0, len(all))
	for _, a := range all {
		if a.Enabled && a.TriggerOn.Matches(status) {
			matching = append(matching, a)
		}
	}
	if len(matching) == 0 {
		log.Debug("no output actions match outcome", slog.Int("enabled", len(all)))
		return 0
	}

	vars := TemplateContext(target, outcome, status)
	queued := 0
	for _, a := range matching {
		cmd := DeliveryCommand{
			Action:        a,
			Context:       vars,
			ActingUserID:  target.ActingUserID,
			ExecutionID:   target.ExecutionID,
			InteractionID: target.InteractionID,
		}
		job, err := d.enqueuer.Enqueue(ctx, JobKindDeliver, d.queue, cmd)
		if err != nil {
			log.Error("failed to enqueue output action",
				slog.String("action_id", a.ID),
				slog.String("provider", a.Provider),
				slog.String("error", err.Error()),
			)
			telemetry.ActionsDispatchedTotal.WithLabelValues(a.Provider, "error").Inc()
			continue
		}
		log.Info("output action queued",
			slog.String("action_id", a.ID),
			slog.String("provider", a.Provider),
			slog.String("job_id", job.ID),
		)
		telemetry.ActionsDispatchedTotal.WithLabelValues(a.Provider, "queued").Inc()
		queued++
	}
	return queued
}

// TemplateContext merges the outcome data with the fields identifying who
// and what it is about. Identifying fields win over outcome keys.
func TemplateContext(target Target, outcome map[string]any, status domain.TriggerOn) map[string]any {
	vars := make(map[string]any, len(outcome)+6)
	maps.Copy(vars, outcome)
	vars["owner_type"] = string(target.Owner.Type)
	vars["owner_id"] = target.Owner.ID
	vars["owner_name"] = target.Owner.Name
	vars["status"] = string(status)
	if target.ExecutionID != "" {
		vars["execution_id"] = target.ExecutionID
	}
	if target.InteractionID != "" {
		vars["interaction_id"] = target.InteractionID
	}
	return vars
}

// Test runs action's provider synchronously with payload as the template
// context. Provider lookup and delivery errors are reported in the result.
func (d *Dispatcher) Test(ctx context.Context, action *domain.OutputAction, payload map[string]any, actingUserID string) TestResult {
	log := d.logger.With(slog.String("action_id", action.ID), slog.String("provider", action.Provider))

	provider, err := d.registry.Get(action.Provider)
	if err != nil {
		log.Warn("test delivery for unknown provider")
		return TestResult{Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	vars := maps.Clone(payload)
	if vars == nil {
		vars = map[string]any{}
	}
	if _, ok := vars["test"]; !ok {
		vars["test"] = true
	}

	res, err := safeExecute(ctx, provider, action, vars, actingUserID)
	if err != nil {
		log.Info("test delivery failed", slog.String("error", err.Error()))
		telemetry.ActionDeliveriesTotal.WithLabelValues(action.Provider, "test_failed").Inc()
		return TestResult{Result: nonEmpty(res), Error: err.Error()}
	}
	log.Info("test delivery succeeded", slog.Int("status_code", res.StatusCode))
	telemetry.ActionDeliveriesTotal.WithLabelValues(action.Provider, "test_success").Inc()
	return TestResult{Success: true, Result: &res}
}

// safeExecute converts a provider panic into an error.
func safeExecute(ctx context.Context, p Provider, action *domain.OutputAction, vars map[string]any, actingUserID string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprint("provider panicked: ", r))
		}
	}()
	return p.Execute(ctx, action, vars, actingUserID)
}

func nonEmpty(r Result) *Result {
	if r == (Result{}) {
		return nil
	}
	return &r
}
