package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	"github.com/ramiqadoumi/go-agent-flow/pkg/telemetry"
)

// FailureHandler is the single path by which an execution is marked failed.
// It never returns an error or panics: it runs inside other failure paths
// (a job's failure hook) where a second error has nowhere to go.
type FailureHandler struct {
	repo    Repository
	logger  *slog.Logger
	refresh bool
}

// NewFailureHandler creates a FailureHandler that re-reads the execution
// before deciding.
func NewFailureHandler(repo Repository, logger *slog.Logger) *FailureHandler {
	return &FailureHandler{repo: repo, logger: logger, refresh: true}
}

// WithoutRefresh returns a copy that trusts the in-memory execution.
func (h *FailureHandler) WithoutRefresh() *FailureHandler {
	c := *h
	c.refresh = false
	return &c
}

// MarkFailed sets exec to failed with message. It returns true only when this
// call made the change; an already-failed execution, a lost race or a storage
// error all return false. attrs are added to every log line.
func (h *FailureHandler) MarkFailed(ctx context.Context, exec *domain.Execution, message string, attrs ...slog.Attr) (marked bool) {
	if exec == nil {
		return false
	}
	log := h.logger.With(slog.String("execution_id", exec.ID)).With(attrsToAny(attrs)...)
	defer func() {
		if r := recover(); r != nil {
			log.Error("marking execution failed panicked", slog.String("error", fmt.Sprint(r)))
			telemetry.ExecutionsFailedTotal.WithLabelValues("error").Inc()
			marked = false
		}
	}()

	if h.refresh {
		fresh, err := h.repo.GetExecution(ctx, exec.ID)
		var notFound *domain.ExecutionNotFoundError
		switch {
		case errors.As(err, &notFound):
			log.Warn("execution vanished before it could be marked failed")
			telemetry.ExecutionsFailedTotal.WithLabelValues("error").Inc()
			return false
		case err != nil:
			// Carry on with what we have; the conditional update still guards the write.
			log.Warn("could not refresh execution before marking failed", slog.String("error", err.Error()))
		default:
			*exec = *fresh
		}
	}

	return h.apply(ctx, log, exec, message)
}

// MarkFailedByID looks the execution up first; a missing execution is logged
// and reported as false.
func (h *FailureHandler) MarkFailedByID(ctx context.Context, id, message string, attrs ...slog.Attr) (marked bool) {
	log := h.logger.With(slog.String("execution_id", id)).With(attrsToAny(attrs)...)
	defer func() {
		if r := recover(); r != nil {
			log.Error("marking execution failed panicked", slog.String("error", fmt.Sprint(r)))
			marked = false
		}
	}()

	exec, err := h.repo.GetExecution(ctx, id)
	if err != nil {
		var notFound *domain.ExecutionNotFoundError
		if errors.As(err, &notFound) {
			log.Warn("cannot mark missing execution failed")
		} else {
			log.Error("cannot load execution to mark failed", slog.String("error", err.Error()))
		}
		telemetry.ExecutionsFailedTotal.WithLabelValues("error").Inc()
		return false
	}
	return h.apply(ctx, log, exec, message)
}

func (h *FailureHandler) apply(ctx context.Context, log *slog.Logger, exec *domain.Execution, message string) bool {
	if exec.IsFailed() {
		log.Debug("execution already failed, skipping")
		telemetry.ExecutionsFailedTotal.WithLabelValues("already_failed").Inc()
		return false
	}

	changed, err := h.repo.MarkFailed(ctx, exec.ID, message)
	if err != nil {
		log.Error("failed to mark execution failed",
			slog.String("reason", message),
			slog.String("error", err.Error()),
		)
		telemetry.ExecutionsFailedTotal.WithLabelValues("error").Inc()
		return false
	}
	if !changed {
		log.Debug("execution was marked failed concurrently, skipping")
		telemetry.ExecutionsFailedTotal.WithLabelValues("already_failed").Inc()
		return false
	}

	exec.Status = domain.ExecutionFailed
	exec.ErrorMessage = &message
	log.Info("execution marked failed", slog.String("reason", message))
	telemetry.ExecutionsFailedTotal.WithLabelValues("marked").Inc()
	return true
}

func attrsToAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}
