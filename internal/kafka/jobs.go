package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
)

// Topics the job pipeline flows through: producers write to TopicPending, the
// router fans out to one topic per queue, and exhausted jobs land in TopicDLQ.
const (
	TopicPending     = "jobs.pending"
	TopicDLQ         = "jobs.dlq"
	queueTopicPrefix = "jobs.queue."
)

// QueueTopic returns the topic a queue's workers consume.
func QueueTopic(queue string) string { return queueTopicPrefix + queue }

// PublishJob writes job to topic, keyed by job id.
func PublishJob(ctx context.Context, p Producer, topic string, job *domain.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return p.Publish(ctx, topic, job.ID, raw,
		Header{Key: HeaderJobKind, Value: job.Kind},
		Header{Key: HeaderJobQueue, Value: job.Queue},
	)
}

// Enqueuer creates jobs and hands them to the router.
type Enqueuer struct {
	producer Producer
	now      func() time.Time
}

// NewEnqueuer creates an Enqueuer publishing to TopicPending.
func NewEnqueuer(p Producer) *Enqueuer {
	return &Enqueuer{producer: p, now: time.Now}
}

// Enqueue wraps payload in a new job of kind for queue and publishes it.
func (e *Enqueuer) Enqueue(ctx context.Context, kind, queue string, payload any) (*domain.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	job := &domain.Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Queue:     queue,
		Payload:   raw,
		CreatedAt: e.now().UTC(),
	}
	if err := PublishJob(ctx, e.producer, TopicPending, job); err != nil {
		return nil, err
	}
	return job, nil
}
