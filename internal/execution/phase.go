package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ramiqadoumi/go-agent-flow/internal/broadcast"
	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
)

// PhaseUpdate is the ExecutionPhaseUpdated body.
type PhaseUpdate struct {
	ExecutionID string       `json:"execution_id"`
	Phase       domain.Phase `json:"phase"`
	Label       string       `json:"label"`
	Description string       `json:"description"`
	Timestamp   time.Time    `json:"timestamp"`
}

// PhaseTracker persists phase changes and announces them to subscribers.
type PhaseTracker struct {
	repo        Repository
	broadcaster broadcast.Broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

// NewPhaseTracker creates a PhaseTracker.
func NewPhaseTracker(repo Repository, broadcaster broadcast.Broadcaster, logger *slog.Logger) *PhaseTracker {
	return &PhaseTracker{repo: repo, broadcaster: broadcaster, logger: logger, now: time.Now}
}

// Advance moves exec forward to phase. Regressions, unknown phases and
// failed executions are rejected before anything is written. Re-entering the
// current phase does nothing. The broadcast is fire-and-forget.
func (t *PhaseTracker) Advance(ctx context.Context, exec *domain.Execution, phase domain.Phase) error {
	prev := exec.Phase
	if prev == phase && !exec.IsFailed() {
		return nil
	}
	if err := exec.AdvancePhase(phase); err != nil {
		return err
	}
	if err := t.repo.UpdatePhase(ctx, exec.ID, phase); err != nil {
		exec.Phase = prev
		return fmt.Errorf("persist phase %s for execution %s: %w", phase, exec.ID, err)
	}

	t.logger.Debug("execution phase advanced",
		slog.String("execution_id", exec.ID),
		slog.String("from", string(prev)),
		slog.String("to", string(phase)),
	)
	broadcast.Send(ctx, t.broadcaster, t.logger, broadcast.Channel(exec.InteractionID), broadcast.EventPhaseUpdated, PhaseUpdate{
		ExecutionID: exec.ID,
		Phase:       phase,
		Label:       phase.Label(),
		Description: phase.Description(),
		Timestamp:   t.now().UTC(),
	})
	return nil
}

// AddStep appends to the execution's step log, stamping the step if needed.
func (t *PhaseTracker) AddStep(ctx context.Context, exec *domain.Execution, step domain.Step) error {
	if step.Timestamp.IsZero() {
		step.Timestamp = t.now().UTC()
	}
	if err := t.repo.AppendStep(ctx, exec.ID, step); err != nil {
		return fmt.Errorf("append step for execution %s: %w", exec.ID, err)
	}
	exec.Steps = append(exec.Steps, step)
	return nil
}
