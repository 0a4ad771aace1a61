//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	"github.com/ramiqadoumi/go-agent-flow/internal/handlers"
	"github.com/ramiqadoumi/go-agent-flow/internal/kafka"
)

// uniqueTopic returns a topic name unique to this test run to avoid
// cross-test interference on a shared Kafka broker.
func uniqueTopic(base string) string {
	return fmt.Sprintf("%s-%d", base, time.Now().UnixNano())
}

func executeJob(t *testing.T, id string) *domain.Job {
	t.Helper()
	payload, err := json.Marshal(handlers.ExecuteCommand{ExecutionID: "exec-" + id, InteractionID: "chat-" + id})
	require.NoError(t, err)
	return &domain.Job{
		ID:        id,
		Kind:      handlers.JobKindExecute,
		Queue:     "agents",
		Payload:   payload,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// receivedJob is what a consumer saw: the decoded envelope plus routing metadata.
type receivedJob struct {
	key   string
	kind  string
	queue string
	job   domain.Job
}

func decodeReceived(t *testing.T, m kafka.Message) receivedJob {
	t.Helper()
	var job domain.Job
	require.NoError(t, json.Unmarshal(m.Value, &job))
	return receivedJob{
		key:   string(m.Key),
		kind:  m.Header(kafka.HeaderJobKind),
		queue: m.Header(kafka.HeaderJobQueue),
		job:   job,
	}
}

func assertSameJob(t *testing.T, want *domain.Job, got receivedJob) {
	t.Helper()
	assert.Equal(t, want.ID, got.key, "messages are keyed by job id")
	assert.Equal(t, want.Kind, got.kind)
	assert.Equal(t, want.Queue, got.queue)
	assert.Equal(t, want.ID, got.job.ID)
	assert.Equal(t, want.Kind, got.job.Kind)
	assert.Equal(t, want.Queue, got.job.Queue)
	assert.JSONEq(t, string(want.Payload), string(got.job.Payload))
	assert.True(t, want.CreatedAt.Equal(got.job.CreatedAt))
}

func TestKafka_PublishJob_RoundTrip(t *testing.T) {
	topic := uniqueTopic("test-roundtrip")
	producer := kafka.NewProducer(testKafkaBrokers)
	t.Cleanup(func() { producer.Close() }) //nolint:errcheck

	ctx := context.Background()
	job := executeJob(t, "job-roundtrip")
	require.NoError(t, kafka.PublishJob(ctx, producer, topic, job))

	consumer := kafka.NewConsumer(testKafkaBrokers, topic, "group-roundtrip", slog.Default())
	t.Cleanup(func() { consumer.Close() }) //nolint:errcheck

	received := make(chan kafka.Message, 1)
	consumerCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	go func() {
		consumer.Subscribe(consumerCtx, func(_ context.Context, m kafka.Message) error { //nolint:errcheck
			received <- m
			cancel() // stop after first message
			return nil
		})
	}()

	select {
	case m := <-received:
		got := decodeReceived(t, m)
		assertSameJob(t, job, got)

		cmd, err := handlers.DecodeCommand(&got.job)
		require.NoError(t, err)
		exec, ok := cmd.(*handlers.ExecuteCommand)
		require.True(t, ok)
		assert.Equal(t, "chat-job-roundtrip", exec.CorrelationID())
		assert.Equal(t, "execute:exec-job-roundtrip", exec.UniqueID())
	case <-consumerCtx.Done():
		t.Fatal("timed out waiting for Kafka message")
	}
}

// TestKafka_Consumer_OffsetNotCommittedOnError verifies the at-least-once
// delivery guarantee: when a handler returns an error the offset is not
// committed, and a new consumer in the same group receives the job again with
// its routing headers intact.
func TestKafka_Consumer_OffsetNotCommittedOnError(t *testing.T) {
	topic := uniqueTopic("test-no-commit")
	groupID := fmt.Sprintf("group-no-commit-%d", time.Now().UnixNano())

	producer := kafka.NewProducer(testKafkaBrokers)
	t.Cleanup(func() { producer.Close() }) //nolint:errcheck

	ctx := context.Background()
	job := executeJob(t, "job-redelivery")
	require.NoError(t, kafka.PublishJob(ctx, producer, topic, job))

	// Consumer 1: returns error → offset NOT committed.
	consumer1 := kafka.NewConsumer(testKafkaBrokers, topic, groupID, slog.Default())
	ctx1, cancel1 := context.WithTimeout(ctx, 30*time.Second)

	seen := make(chan kafka.Message, 1)
	go func() {
		consumer1.Subscribe(ctx1, func(_ context.Context, m kafka.Message) error { //nolint:errcheck
			seen <- m
			cancel1()
			return errors.New("intentional failure, do not commit offset")
		})
	}()

	select {
	case m := <-seen:
		assertSameJob(t, job, decodeReceived(t, m))
	case <-ctx1.Done():
		t.Fatal("consumer1 timed out waiting for message")
	}

	// Give the consumer time to finish its error-handling path before closing.
	time.Sleep(300 * time.Millisecond)
	consumer1.Close() //nolint:errcheck

	// Consumer 2 (same group): should receive the same uncommitted job.
	consumer2 := kafka.NewConsumer(testKafkaBrokers, topic, groupID, slog.Default())
	t.Cleanup(func() { consumer2.Close() }) //nolint:errcheck

	redelivered := make(chan kafka.Message, 1)
	ctx2, cancel2 := context.WithTimeout(ctx, 30*time.Second)
	defer cancel2()

	go func() {
		consumer2.Subscribe(ctx2, func(_ context.Context, m kafka.Message) error { //nolint:errcheck
			redelivered <- m
			cancel2()
			return nil
		})
	}()

	select {
	case m := <-redelivered:
		assertSameJob(t, job, decodeReceived(t, m))
	case <-ctx2.Done():
		t.Fatal("job was NOT redelivered, offset may have been committed unexpectedly")
	}
}

// TestKafka_QueueTopics_RouteByQueue publishes to two queue topics and checks a
// consumer of one never sees the other's jobs.
func TestKafka_QueueTopics_RouteByQueue(t *testing.T) {
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	agents := kafka.QueueTopic("agents-" + suffix)
	deliveries := kafka.QueueTopic("deliveries-" + suffix)

	producer := kafka.NewProducer(testKafkaBrokers)
	t.Cleanup(func() { producer.Close() }) //nolint:errcheck
	ctx := context.Background()

	other := &domain.Job{ID: "job-other", Kind: "output_action.deliver", Queue: "deliveries-" + suffix, Payload: json.RawMessage(`{}`)}
	require.NoError(t, kafka.PublishJob(ctx, producer, deliveries, other))
	job := executeJob(t, "job-agents")
	require.NoError(t, kafka.PublishJob(ctx, producer, agents, job))

	consumer := kafka.NewConsumer(testKafkaBrokers, agents, "group-agents-"+suffix, slog.Default())
	t.Cleanup(func() { consumer.Close() }) //nolint:errcheck

	received := make(chan kafka.Message, 1)
	consumerCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	go func() {
		consumer.Subscribe(consumerCtx, func(_ context.Context, m kafka.Message) error { //nolint:errcheck
			received <- m
			cancel()
			return nil
		})
	}()

	select {
	case m := <-received:
		got := decodeReceived(t, m)
		assertSameJob(t, job, got)
		assert.NotEqual(t, other.ID, got.job.ID)
	case <-consumerCtx.Done():
		t.Fatal("timed out waiting for queue job")
	}
}
