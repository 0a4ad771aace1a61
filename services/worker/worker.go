// Package worker runs the handlers of one queue: it consumes the queue's
// topic, retries each job with backoff, and forwards exhausted jobs to the
// dead-letter topic.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	"github.com/ramiqadoumi/go-agent-flow/internal/handlers"
	"github.com/ramiqadoumi/go-agent-flow/internal/kafka"
	"github.com/ramiqadoumi/go-agent-flow/pkg/retry"
	"github.com/ramiqadoumi/go-agent-flow/pkg/telemetry"
)

// Lifecycle is told when a job starts and how it ends. tracking.Bridge
// satisfies it. Implementations must not block for long.
type Lifecycle interface {
	JobStarted(ctx context.Context, job *domain.Job)
	JobSucceeded(ctx context.Context, job *domain.Job)
	JobFailed(ctx context.Context, job *domain.Job, err error)
}

// Worker consumes jobs from a Kafka topic and executes them.
type Worker struct {
	consumer   kafka.Consumer
	producer   kafka.Producer
	registry   *handlers.Registry
	lifecycle  Lifecycle
	workerID   string
	queue      string
	maxRetries int
	timeout    time.Duration
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

func WithRetries(n int) Option             { return func(w *Worker) { w.maxRetries = n } }
func WithTimeout(d time.Duration) Option   { return func(w *Worker) { w.timeout = d } }
func WithLogger(l *slog.Logger) Option     { return func(w *Worker) { w.logger = l } }
func WithQueue(q string) Option            { return func(w *Worker) { w.queue = q } }
func WithBaseDelay(d time.Duration) Option { return func(w *Worker) { w.baseDelay = d } }
func WithMaxDelay(d time.Duration) Option  { return func(w *Worker) { w.maxDelay = d } }
func WithLifecycle(l Lifecycle) Option     { return func(w *Worker) { w.lifecycle = l } }

// NewWorker constructs a Worker with the given dependencies and options.
func NewWorker(
	workerID string,
	consumer kafka.Consumer,
	producer kafka.Producer,
	registry *handlers.Registry,
	opts ...Option,
) *Worker {
	w := &Worker{
		workerID:   workerID,
		consumer:   consumer,
		producer:   producer,
		registry:   registry,
		maxRetries: 3,
		timeout:    30 * time.Second,
		baseDelay:  time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts consuming and processing messages. Blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.consumer.Subscribe(ctx, w.processMessage)
}

// Wait blocks until all in-flight jobs finish. Call after Run returns.
func (w *Worker) Wait() { w.wg.Wait() }

// InFlight is the number of jobs currently executing.
func (w *Worker) InFlight() int64 { return w.inFlight.Load() }

// processMessage is the Kafka HandlerFunc, called for each message.
// Always returns nil so the offset is committed; failures go to the DLQ.
func (w *Worker) processMessage(consumerCtx context.Context, msg kafka.Message) error {
	var job domain.Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		w.logger.Error("malformed job message, discarding",
			slog.String("error", err.Error()),
			slog.String("raw", string(msg.Value)),
		)
		return nil
	}

	// Child span parented to the trace context extracted from Kafka headers.
	ctx, span := otel.Tracer("worker").Start(consumerCtx, "worker.process_job")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", job.Kind),
		attribute.String("job.queue", job.Queue),
		attribute.String("worker.id", w.workerID),
	)

	// Bookkeeping after the handler outlives consumer shutdown.
	bookCtx := context.WithoutCancel(ctx)

	log := w.logger.With(
		slog.String("job_id", job.ID),
		slog.String("job_kind", job.Kind),
		slog.String("worker_id", w.workerID),
	)

	h, err := w.registry.Get(job.Kind)
	if err != nil {
		log.Error("no handler for job kind", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "no handler registered")
		w.lifecycleFailed(bookCtx, &job, err)
		w.toDLQ(bookCtx, &job, log)
		telemetry.WorkerJobsProcessed.WithLabelValues(w.queue, "dead").Inc()
		return nil
	}

	w.wg.Add(1)
	w.inFlight.Add(1)
	telemetry.WorkerJobsInFlight.WithLabelValues(w.queue).Inc()
	defer func() {
		telemetry.WorkerJobsInFlight.WithLabelValues(w.queue).Dec()
		w.inFlight.Add(-1)
		w.wg.Done()
	}()

	if w.lifecycle != nil {
		w.lifecycle.JobStarted(bookCtx, &job)
	}

	start := time.Now()
	attempts, execErr := retry.Do(ctx, retry.Config{
		MaxAttempts: w.maxRetries + 1,
		BaseDelay:   w.baseDelay,
		MaxDelay:    w.maxDelay,
		OnRetry: func(attempt int, retryErr error) {
			telemetry.WorkerRetriesTotal.WithLabelValues(w.queue).Inc()
			log.Warn("attempt failed, retrying",
				slog.Int("attempt", attempt),
				slog.String("error", retryErr.Error()),
			)
		},
	}, func() error {
		job.Attempts++
		// The handler timeout is independent of consumer shutdown, but its
		// child spans are still parented here.
		execCtx, cancel := context.WithTimeout(trace.ContextWithSpan(context.Background(), span), w.timeout)
		defer cancel()
		return w.safeHandle(execCtx, h, &job)
	})

	durationSec := time.Since(start).Seconds()
	durationMs := int64(durationSec * 1000)
	telemetry.WorkerJobDurationSeconds.WithLabelValues(w.queue).Observe(durationSec)

	if execErr == nil {
		log.Info("job completed",
			slog.Int64("duration_ms", durationMs),
			slog.Int("attempts", attempts),
		)
		if w.lifecycle != nil {
			w.lifecycle.JobSucceeded(bookCtx, &job)
		}
		telemetry.WorkerJobsProcessed.WithLabelValues(w.queue, "done").Inc()
		return nil
	}

	log.Error("job dead after all retries",
		slog.Int("attempts", attempts),
		slog.String("error", execErr.Error()),
		slog.Int64("duration_ms", durationMs),
	)
	span.RecordError(execErr)
	span.SetStatus(codes.Error, "job exhausted all retries")

	if hook, ok := h.(handlers.FailureHook); ok {
		w.safeFailed(bookCtx, hook, &job, execErr, log)
	}
	w.lifecycleFailed(bookCtx, &job, execErr)
	w.toDLQ(bookCtx, &job, log)
	telemetry.WorkerJobsProcessed.WithLabelValues(w.queue, "dead").Inc()
	return nil
}

// safeHandle turns a handler panic into an error so one bad job cannot take
// the consumer loop down.
func (w *Worker) safeHandle(ctx context.Context, h handlers.Handler, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.HandlerPanicError{Kind: job.Kind, Value: r}
		}
	}()
	return h.Handle(ctx, job)
}

func (w *Worker) safeFailed(ctx context.Context, hook handlers.FailureHook, job *domain.Job, err error, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("failure hook panicked", slog.Any("panic", r))
		}
	}()
	hook.Failed(ctx, job, err)
}

func (w *Worker) lifecycleFailed(ctx context.Context, job *domain.Job, err error) {
	if w.lifecycle != nil {
		w.lifecycle.JobFailed(ctx, job, err)
	}
}

// toDLQ publishes the job as it stands, attempt count included.
func (w *Worker) toDLQ(ctx context.Context, job *domain.Job, log *slog.Logger) {
	if err := kafka.PublishJob(ctx, w.producer, kafka.TopicDLQ, job); err != nil {
		log.Error("failed to publish to DLQ", slog.String("error", err.Error()))
		return
	}
	telemetry.WorkerDLQTotal.WithLabelValues(w.queue).Inc()
}
