package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-agent-flow/internal/actions"
	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	redisstore "github.com/ramiqadoumi/go-agent-flow/internal/redis"
	"github.com/ramiqadoumi/go-agent-flow/pkg/retry"
	"github.com/ramiqadoumi/go-agent-flow/pkg/telemetry"
)

// ErrRateLimited is returned when an output action has used up its window.
// The worker retries it after the usual backoff.
var ErrRateLimited = errors.New("output action rate limited")

// DeliveryRecorder keeps the delivery log.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, d *domain.Delivery) error
}

// DeliverHandler runs one output action delivery. Every attempt, good or bad,
// is written to the delivery log. The execution itself is never touched.
type DeliverHandler struct {
	registry *actions.Registry
	recorder DeliveryRecorder
	limiter  redisstore.RateLimiter
	logger   *slog.Logger
	now      func() time.Time
}

// NewDeliverHandler creates a DeliverHandler. limiter may be nil.
func NewDeliverHandler(registry *actions.Registry, recorder DeliveryRecorder, limiter redisstore.RateLimiter, logger *slog.Logger) *DeliverHandler {
	return &DeliverHandler{registry: registry, recorder: recorder, limiter: limiter, logger: logger, now: time.Now}
}

func (h *DeliverHandler) Kind() string { return actions.JobKindDeliver }

func (h *DeliverHandler) Handle(ctx context.Context, job *domain.Job) error {
	ctx, span := otel.Tracer("worker").Start(ctx, "handler.output_action_deliver")
	defer span.End()

	var cmd actions.DeliveryCommand
	if err := json.Unmarshal(job.Payload, &cmd); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return retry.Permanent(fmt.Errorf("invalid %s payload: %w", actions.JobKindDeliver, err))
	}
	action := &cmd.Action
	span.SetAttributes(
		attribute.String("action.id", action.ID),
		attribute.String("action.provider", action.Provider),
	)
	log := h.logger.With(
		slog.String("job_id", job.ID),
		slog.String("action_id", action.ID),
		slog.String("provider", action.Provider),
	)

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, "action:"+action.ID)
		switch {
		case err != nil:
			log.Warn("rate limiter unavailable, delivering anyway", slog.String("error", err.Error()))
		case !allowed:
			telemetry.ActionDeliveriesTotal.WithLabelValues(action.Provider, "rate_limited").Inc()
			log.Warn("output action rate limited", slog.Int("limit", h.limiter.Limit()))
			return ErrRateLimited
		}
	}

	start := h.now()
	res, err := h.registry.Execute(ctx, action, cmd.Context, cmd.ActingUserID)
	delivery := &domain.Delivery{
		ID:           uuid.NewString(),
		ActionID:     action.ID,
		Provider:     action.Provider,
		Success:      err == nil,
		StatusCode:   res.StatusCode,
		Attempts:     max(job.Attempts, 1),
		ActingUserID: cmd.ActingUserID,
		DurationMs:   h.now().Sub(start).Milliseconds(),
		DeliveredAt:  h.now().UTC(),
	}
	if err != nil {
		delivery.Error = domain.TruncateError(err.Error(), domain.ErrorLimit)
	}
	if recErr := h.recorder.RecordDelivery(ctx, delivery); recErr != nil {
		log.Error("failed to record delivery", slog.String("error", recErr.Error()))
	}

	if err == nil {
		telemetry.ActionDeliveriesTotal.WithLabelValues(action.Provider, "success").Inc()
		log.Info("output action delivered", slog.Int("status_code", res.StatusCode))
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "delivery failed")
	var notFound *domain.ProviderNotFoundError
	if errors.As(err, &notFound) {
		err = retry.Permanent(err)
	}
	if retry.IsPermanent(err) {
		telemetry.ActionDeliveriesTotal.WithLabelValues(action.Provider, "rejected").Inc()
	} else {
		telemetry.ActionDeliveriesTotal.WithLabelValues(action.Provider, "error").Inc()
	}
	log.Warn("output action delivery failed",
		slog.Int("attempt", delivery.Attempts),
		slog.Bool("permanent", retry.IsPermanent(err)),
		slog.String("error", err.Error()),
	)
	return err
}

// Failed notes a delivery the worker gave up on.
func (h *DeliverHandler) Failed(_ context.Context, job *domain.Job, err error) {
	telemetry.ActionDeliveriesTotal.WithLabelValues(deliveryProvider(job), "exhausted").Inc()
	attrs := []any{slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	h.logger.Error("output action delivery abandoned", attrs...)
}

func deliveryProvider(job *domain.Job) string {
	var cmd actions.DeliveryCommand
	if json.Unmarshal(job.Payload, &cmd) != nil || cmd.Action.Provider == "" {
		return "unknown"
	}
	return cmd.Action.Provider
}
