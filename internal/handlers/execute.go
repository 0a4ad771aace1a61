package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-agent-flow/internal/actions"
	"github.com/ramiqadoumi/go-agent-flow/internal/agent"
	"github.com/ramiqadoumi/go-agent-flow/internal/broadcast"
	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	"github.com/ramiqadoumi/go-agent-flow/internal/execution"
	"github.com/ramiqadoumi/go-agent-flow/pkg/retry"
)

// JobKindExecute runs an agent for one execution.
const JobKindExecute = "agent.execute"

// ExecuteCommand is the payload of an agent.execute job.
type ExecuteCommand struct {
	ExecutionID   string         `json:"execution_id"`
	InteractionID string         `json:"interaction_id,omitempty"`
	Workflow      bool           `json:"workflow,omitempty"`
	Owner         domain.Owner   `json:"owner"`
	Input         map[string]any `json:"input,omitempty"`
	ActingUserID  string         `json:"acting_user_id,omitempty"`
}

func (c *ExecuteCommand) CorrelationID() string { return c.InteractionID }

// UniqueID keeps every attempt at the same execution under one status entry.
func (c *ExecuteCommand) UniqueID() string {
	if c.ExecutionID == "" {
		return ""
	}
	return "execute:" + c.ExecutionID
}

// ExecutionStore is what the execute handler needs beyond phase tracking.
type ExecutionStore interface {
	GetExecution(ctx context.Context, id string) (*domain.Execution, error)
	CompleteExecution(ctx context.Context, id, result string, metadata map[string]any) error
}

// OutcomeDispatcher queues output actions for a finished execution.
type OutcomeDispatcher interface {
	DispatchForExecution(ctx context.Context, target actions.Target, outcome map[string]any, status domain.TriggerOn) int
}

// CompletionEvent is the body of ResearchComplete and HolisticWorkflowCompleted.
type CompletionEvent struct {
	ExecutionID string `json:"execution_id"`
	broadcast.Payload
}

// FailureEvent is the body of ResearchFailed and HolisticWorkflowFailed.
type FailureEvent struct {
	ExecutionID string    `json:"execution_id"`
	Error       string    `json:"error"`
	Timestamp   time.Time `json:"timestamp"`
}

// ExecuteHandler runs the agent for an execution, tracks its phases,
// broadcasts the outcome and fires the owner's output actions.
//
// An agent that answers with a failure fails the execution at once. Transport
// errors are retried; the execution is failed by the FailureHook once the
// worker gives up.
type ExecuteHandler struct {
	store       ExecutionStore
	tracker     *execution.PhaseTracker
	failures    *execution.FailureHandler
	runner      agent.Runner
	builder     *broadcast.Builder
	broadcaster broadcast.Broadcaster
	dispatcher  OutcomeDispatcher
	logger      *slog.Logger
}

// ExecuteDeps groups the collaborators of an ExecuteHandler.
type ExecuteDeps struct {
	Store       ExecutionStore
	Tracker     *execution.PhaseTracker
	Failures    *execution.FailureHandler
	Runner      agent.Runner
	Builder     *broadcast.Builder
	Broadcaster broadcast.Broadcaster
	Dispatcher  OutcomeDispatcher
	Logger      *slog.Logger
}

// NewExecuteHandler creates an ExecuteHandler.
func NewExecuteHandler(d ExecuteDeps) *ExecuteHandler {
	return &ExecuteHandler{
		store:       d.Store,
		tracker:     d.Tracker,
		failures:    d.Failures,
		runner:      d.Runner,
		builder:     d.Builder,
		broadcaster: d.Broadcaster,
		dispatcher:  d.Dispatcher,
		logger:      d.Logger,
	}
}

func (h *ExecuteHandler) Kind() string { return JobKindExecute }

func (h *ExecuteHandler) Handle(ctx context.Context, job *domain.Job) error {
	ctx, span := otel.Tracer("worker").Start(ctx, "handler.agent_execute")
	defer span.End()

	cmd, err := decodeExecute(job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return retry.Permanent(err)
	}
	span.SetAttributes(attribute.String("execution.id", cmd.ExecutionID))
	log := h.logger.With(
		slog.String("job_id", job.ID),
		slog.String("execution_id", cmd.ExecutionID),
	)

	exec, err := h.store.GetExecution(ctx, cmd.ExecutionID)
	if err != nil {
		var notFound *domain.ExecutionNotFoundError
		if errors.As(err, &notFound) {
			return retry.Permanent(err)
		}
		return fmt.Errorf("load execution %s: %w", cmd.ExecutionID, err)
	}
	if exec.Status.IsTerminal() {
		log.Info("execution already finished, skipping", slog.String("status", string(exec.Status)))
		return nil
	}

	outcome, err := h.runner.Run(ctx, exec, cmd.Input, h.onProgress(ctx, exec, log))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent failed")
		var runErr *agent.RunError
		if errors.As(err, &runErr) {
			h.fail(ctx, exec, cmd.ActingUserID, runErr.Error(), slog.String("job_id", job.ID))
			return retry.Permanent(err)
		}
		return fmt.Errorf("run agent for execution %s: %w", exec.ID, err)
	}

	return h.complete(ctx, exec, cmd, outcome, log)
}

// Failed fails the execution once the worker has given up on the job.
func (h *ExecuteHandler) Failed(ctx context.Context, job *domain.Job, jobErr error) {
	cmd, err := decodeExecute(job)
	if err != nil {
		h.logger.Warn("cannot fail execution for undecodable job", slog.String("job_id", job.ID))
		return
	}
	msg := "execution failed"
	if jobErr != nil {
		msg = domain.TruncateError(jobErr.Error(), domain.ErrorLimit)
	}
	if !h.failures.MarkFailedByID(ctx, cmd.ExecutionID, msg, slog.String("job_id", job.ID)) {
		return
	}
	h.announceFailure(ctx, &domain.Execution{
		ID:            cmd.ExecutionID,
		InteractionID: cmd.InteractionID,
		Workflow:      cmd.Workflow,
		Owner:         cmd.Owner,
	}, cmd.ActingUserID, msg)
}

func (h *ExecuteHandler) onProgress(ctx context.Context, exec *domain.Execution, log *slog.Logger) func(agent.Progress) {
	return func(p agent.Progress) {
		if p.Phase != "" && p.Phase != exec.Phase {
			if err := h.tracker.Advance(ctx, exec, p.Phase); err != nil {
				log.Debug("ignoring phase update", slog.String("phase", string(p.Phase)), slog.String("error", err.Error()))
			}
		}
		if p.Step != nil {
			if err := h.tracker.AddStep(ctx, exec, *p.Step); err != nil {
				log.Warn("failed to record step", slog.String("error", err.Error()))
			}
		}
	}
}

func (h *ExecuteHandler) complete(ctx context.Context, exec *domain.Execution, cmd *ExecuteCommand, outcome *agent.Outcome, log *slog.Logger) error {
	if err := h.tracker.Advance(ctx, exec, domain.PhaseCompleted); err != nil {
		var alreadyFailed *domain.ExecutionAlreadyFailedError
		if errors.As(err, &alreadyFailed) {
			log.Warn("execution failed while the agent was running, dropping result")
			return nil
		}
		return fmt.Errorf("complete execution %s: %w", exec.ID, err)
	}

	stored := maps.Clone(outcome.Metadata)
	if stored == nil {
		stored = map[string]any{}
	}
	if len(outcome.Sources) > 0 {
		stored["sources"] = outcome.Sources
	}
	if err := h.store.CompleteExecution(ctx, exec.ID, outcome.Result, stored); err != nil {
		return fmt.Errorf("store result of execution %s: %w", exec.ID, err)
	}
	exec.Status = domain.ExecutionCompleted
	exec.Result = outcome.Result
	exec.Metadata = stored

	payload := h.builder.Build(outcome.Result, outcome.Metadata, outcome.Sources, exec.Steps)
	event := broadcast.EventResearchComplete
	if exec.Workflow {
		event = broadcast.EventWorkflowCompleted
	}
	if exec.InteractionID != "" {
		broadcast.Send(ctx, h.broadcaster, log, broadcast.Channel(exec.InteractionID), event, CompletionEvent{
			ExecutionID: exec.ID,
			Payload:     payload,
		})
	}
	log.Info("execution completed",
		slog.Int("result_length", len(outcome.Result)),
		slog.Bool("broadcast_truncated", payload.Truncated),
	)

	h.dispatcher.DispatchForExecution(ctx, target(exec, cmd.ActingUserID), map[string]any{
		"result":   outcome.Result,
		"metadata": outcome.Metadata,
		"sources":  outcome.Sources,
	}, domain.TriggerOnSuccess)
	return nil
}

// fail marks exec failed and, only if this call did so, tells subscribers
// and output actions.
func (h *ExecuteHandler) fail(ctx context.Context, exec *domain.Execution, actingUserID, msg string, attrs ...slog.Attr) {
	msg = domain.TruncateError(msg, domain.ErrorLimit)
	if !h.failures.MarkFailed(ctx, exec, msg, attrs...) {
		return
	}
	h.announceFailure(ctx, exec, actingUserID, msg)
}

func (h *ExecuteHandler) announceFailure(ctx context.Context, exec *domain.Execution, actingUserID, msg string) {
	event := broadcast.EventResearchFailed
	if exec.Workflow {
		event = broadcast.EventWorkflowFailed
	}
	if exec.InteractionID != "" {
		broadcast.Send(ctx, h.broadcaster, h.logger, broadcast.Channel(exec.InteractionID), event, FailureEvent{
			ExecutionID: exec.ID,
			Error:       msg,
			Timestamp:   time.Now().UTC(),
		})
	}
	h.dispatcher.DispatchForExecution(ctx, target(exec, actingUserID), map[string]any{
		"error": msg,
	}, domain.TriggerOnFailure)
}

func target(exec *domain.Execution, actingUserID string) actions.Target {
	return actions.Target{
		Owner:         exec.Owner,
		ExecutionID:   exec.ID,
		InteractionID: exec.InteractionID,
		ActingUserID:  actingUserID,
	}
}

func decodeExecute(job *domain.Job) (*ExecuteCommand, error) {
	var cmd ExecuteCommand
	if err := json.Unmarshal(job.Payload, &cmd); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", JobKindExecute, err)
	}
	if cmd.ExecutionID == "" {
		return nil, errors.New("agent.execute payload missing required field 'execution_id'")
	}
	return &cmd, nil
}
