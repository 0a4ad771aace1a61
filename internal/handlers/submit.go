package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ramiqadoumi/go-agent-flow/internal/actions"
	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	"github.com/ramiqadoumi/go-agent-flow/internal/execution"
)

// DefaultExecuteQueue is the queue agent.execute jobs are enqueued on.
const DefaultExecuteQueue = "agents"

// ExecutionCreator persists a new execution, filling in its id and timestamps.
type ExecutionCreator interface {
	CreateExecution(ctx context.Context, exec *domain.Execution) error
}

// SubmitRequest describes an execution to start.
type SubmitRequest struct {
	InteractionID string
	Workflow      bool
	Owner         domain.Owner
	Input         map[string]any
	ActingUserID  string
}

// Submitter creates executions and queues the job that runs them. The API
// gateway and the scheduler both start executions through it.
type Submitter struct {
	creator  ExecutionCreator
	enqueuer actions.Enqueuer
	failures *execution.FailureHandler
	queue    string
	logger   *slog.Logger
}

// NewSubmitter creates a Submitter. failures may be nil; when set, an
// execution whose job could not be queued is marked failed instead of being
// left running forever.
func NewSubmitter(creator ExecutionCreator, enqueuer actions.Enqueuer, failures *execution.FailureHandler, logger *slog.Logger) *Submitter {
	return &Submitter{
		creator:  creator,
		enqueuer: enqueuer,
		failures: failures,
		queue:    DefaultExecuteQueue,
		logger:   logger,
	}
}

// WithQueue overrides DefaultExecuteQueue.
func (s *Submitter) WithQueue(queue string) *Submitter {
	s.queue = queue
	return s
}

// Submit stores a running execution and enqueues its agent.execute job.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*domain.Execution, *domain.Job, error) {
	if req.Owner.Type == "" || req.Owner.ID == "" {
		return nil, nil, fmt.Errorf("submit execution: owner type and id are required")
	}

	exec := &domain.Execution{
		InteractionID: req.InteractionID,
		Workflow:      req.Workflow,
		Owner:         req.Owner,
		Phase:         domain.PhaseInitializing,
		Status:        domain.ExecutionRunning,
	}
	if err := s.creator.CreateExecution(ctx, exec); err != nil {
		return nil, nil, fmt.Errorf("submit execution: %w", err)
	}

	job, err := s.enqueuer.Enqueue(ctx, JobKindExecute, s.queue, ExecuteCommand{
		ExecutionID:   exec.ID,
		InteractionID: exec.InteractionID,
		Workflow:      exec.Workflow,
		Owner:         exec.Owner,
		Input:         req.Input,
		ActingUserID:  req.ActingUserID,
	})
	if err != nil {
		if s.failures != nil {
			s.failures.MarkFailed(ctx, exec, "could not queue execution: "+err.Error())
		}
		return exec, nil, fmt.Errorf("enqueue execution %s: %w", exec.ID, err)
	}

	s.logger.Info("execution submitted",
		slog.String("execution_id", exec.ID),
		slog.String("job_id", job.ID),
		slog.String("owner_type", string(exec.Owner.Type)),
		slog.String("owner_id", exec.Owner.ID),
	)
	return exec, job, nil
}
