// Package router fans jobs out from the shared pending topic to one topic
// per queue, so each worker pool only sees the work it was sized for.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	"github.com/ramiqadoumi/go-agent-flow/internal/kafka"
	redisstore "github.com/ramiqadoumi/go-agent-flow/internal/redis"
	"github.com/ramiqadoumi/go-agent-flow/pkg/telemetry"
)

// QueueObserver is told about every job handed to its queue topic. JobQueued
// fires before the publish so a fast worker's running write always lands
// after it; JobUnqueued withdraws it when the publish fails.
// tracking.Bridge satisfies it.
type QueueObserver interface {
	JobQueued(ctx context.Context, job *domain.Job)
	JobUnqueued(ctx context.Context, job *domain.Job)
}

// Router consumes kafka.TopicPending and routes to per-queue topics.
type Router struct {
	consumer kafka.Consumer
	producer kafka.Producer
	observer QueueObserver
	limiter  redisstore.RateLimiter // nil = disabled
	logger   *slog.Logger
}

func NewRouter(
	consumer kafka.Consumer,
	producer kafka.Producer,
	observer QueueObserver,
	limiter redisstore.RateLimiter,
	logger *slog.Logger,
) *Router {
	return &Router{
		consumer: consumer,
		producer: producer,
		observer: observer,
		limiter:  limiter,
		logger:   logger,
	}
}

// Run starts consuming. Blocks until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	return r.consumer.Subscribe(ctx, r.route)
}

func (r *Router) route(ctx context.Context, msg kafka.Message) error {
	ctx, span := otel.Tracer("router").Start(ctx, "router.route")
	defer span.End()

	var job domain.Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		r.logger.Error("malformed job, sending to DLQ", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed job")
		return r.toDLQ(ctx, msg)
	}

	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", job.Kind),
		attribute.String("job.queue", job.Queue),
	)

	log := r.logger.With(
		slog.String("job_id", job.ID),
		slog.String("job_kind", job.Kind),
		slog.String("queue", job.Queue),
	)

	if job.Kind == "" || job.Queue == "" {
		log.Error("job missing kind or queue, sending to DLQ")
		span.SetStatus(codes.Error, "missing kind or queue")
		return r.toDLQ(ctx, msg)
	}

	if r.limiter != nil {
		allowed, err := r.limiter.Allow(ctx, job.Kind)
		if err != nil {
			// Redis trouble must not drop work.
			log.Error("rate limiter error", slog.String("error", err.Error()))
		} else if !allowed {
			log.Warn("rate limit exceeded, sending to DLQ")
			span.SetStatus(codes.Error, "rate limit exceeded")
			telemetry.RouterRateLimitedTotal.Inc()
			return r.toDLQ(ctx, msg)
		}
	}

	if r.observer != nil {
		r.observer.JobQueued(ctx, &job)
	}

	target := kafka.QueueTopic(job.Queue)
	if err := kafka.PublishJob(ctx, r.producer, target, &job); err != nil {
		if r.observer != nil {
			r.observer.JobUnqueued(ctx, &job)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "kafka publish failed")
		// Offset stays uncommitted so the job is redelivered.
		return fmt.Errorf("publish to %s: %w", target, err)
	}

	telemetry.RouterJobsRouted.WithLabelValues(job.Queue).Inc()
	log.Info("job routed", slog.String("topic", target))
	return nil
}

// toDLQ forwards the raw message, headers included, to the dead-letter topic.
func (r *Router) toDLQ(ctx context.Context, msg kafka.Message) error {
	telemetry.RouterDLQTotal.Inc()
	headers := []kafka.Header{
		{Key: kafka.HeaderJobKind, Value: msg.Header(kafka.HeaderJobKind)},
		{Key: kafka.HeaderJobQueue, Value: msg.Header(kafka.HeaderJobQueue)},
	}
	if err := r.producer.Publish(ctx, kafka.TopicDLQ, string(msg.Key), msg.Value, headers...); err != nil {
		r.logger.Error("failed to publish to DLQ", slog.String("error", err.Error()))
		return err
	}
	return nil
}
