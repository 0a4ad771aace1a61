package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	"github.com/ramiqadoumi/go-agent-flow/internal/handlers"
	"github.com/ramiqadoumi/go-agent-flow/internal/kafka"
	redisstore "github.com/ramiqadoumi/go-agent-flow/internal/redis"
	"github.com/ramiqadoumi/go-agent-flow/internal/tracking"
)

// ── mocks ────────────────────────────────────────────────────────────────────

type publishedMsg struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type fakeProducer struct {
	msgs []publishedMsg
	err  error
	// onPublish runs before the message is accepted, standing in for a
	// consumer that picks the job up immediately.
	onPublish func()
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, value []byte, headers ...kafka.Header) error {
	if p.onPublish != nil {
		p.onPublish()
	}
	if p.err != nil {
		return p.err
	}
	h := make(map[string]string, len(headers))
	for _, hd := range headers {
		h[hd.Key] = hd.Value
	}
	p.msgs = append(p.msgs, publishedMsg{topic, key, value, h})
	return nil
}
func (p *fakeProducer) Close() error { return nil }

type fakeObserver struct {
	queued   []string
	unqueued []string
}

func (o *fakeObserver) JobQueued(_ context.Context, job *domain.Job) {
	o.queued = append(o.queued, job.ID)
}
func (o *fakeObserver) JobUnqueued(_ context.Context, job *domain.Job) {
	o.unqueued = append(o.unqueued, job.ID)
}

type fakeRateLimiter struct {
	allow bool
	err   error
}

func (r *fakeRateLimiter) Allow(_ context.Context, _ string) (bool, error) {
	return r.allow, r.err
}
func (r *fakeRateLimiter) Limit() int { return 1 }

// ── helpers ───────────────────────────────────────────────────────────────────

func newTestRouter(producer *fakeProducer, observer QueueObserver, limiter redisstore.RateLimiter) *Router {
	return NewRouter(nil, producer, observer, limiter, slog.Default())
}

func jobMessage(t *testing.T, kind, queue string, payload any) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	job := domain.Job{ID: "job-1", Kind: kind, Queue: queue, Payload: raw}
	value, err := json.Marshal(job)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(job.ID), Value: value}
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestRouter_Route_ToQueueTopic(t *testing.T) {
	prod := &fakeProducer{}
	obs := &fakeObserver{}
	r := newTestRouter(prod, obs, nil)

	err := r.route(context.Background(), jobMessage(t, handlers.JobKindExecute, "agents", map[string]string{"execution_id": "e1"}))
	require.NoError(t, err)

	require.Len(t, prod.msgs, 1)
	assert.Equal(t, "jobs.queue.agents", prod.msgs[0].topic)
	assert.Equal(t, "job-1", prod.msgs[0].key)
	assert.Equal(t, handlers.JobKindExecute, prod.msgs[0].headers[kafka.HeaderJobKind])
	assert.Equal(t, "agents", prod.msgs[0].headers[kafka.HeaderJobQueue])
	assert.Equal(t, []string{"job-1"}, obs.queued)
}

func TestRouter_Route_MissingKind_GoesToDLQ(t *testing.T) {
	prod := &fakeProducer{}
	obs := &fakeObserver{}
	r := newTestRouter(prod, obs, nil)

	err := r.route(context.Background(), jobMessage(t, "", "agents", nil))
	require.NoError(t, err)

	require.Len(t, prod.msgs, 1)
	assert.Equal(t, kafka.TopicDLQ, prod.msgs[0].topic)
	assert.Empty(t, obs.queued)
}

func TestRouter_Route_MissingQueue_GoesToDLQ(t *testing.T) {
	prod := &fakeProducer{}
	r := newTestRouter(prod, nil, nil)

	err := r.route(context.Background(), jobMessage(t, handlers.JobKindExecute, "", nil))
	require.NoError(t, err)

	require.Len(t, prod.msgs, 1)
	assert.Equal(t, kafka.TopicDLQ, prod.msgs[0].topic)
}

func TestRouter_Route_MalformedJSON_GoesToDLQ(t *testing.T) {
	prod := &fakeProducer{}
	r := newTestRouter(prod, nil, nil)

	err := r.route(context.Background(), kafka.Message{Value: []byte("not-json")})
	require.NoError(t, err)

	require.Len(t, prod.msgs, 1)
	assert.Equal(t, kafka.TopicDLQ, prod.msgs[0].topic)
	assert.Equal(t, []byte("not-json"), prod.msgs[0].value)
}

func TestRouter_RateLimited_GoesToDLQ(t *testing.T) {
	prod := &fakeProducer{}
	obs := &fakeObserver{}
	r := newTestRouter(prod, obs, &fakeRateLimiter{allow: false})

	err := r.route(context.Background(), jobMessage(t, handlers.JobKindExecute, "agents", nil))
	require.NoError(t, err)

	require.Len(t, prod.msgs, 1)
	assert.Equal(t, kafka.TopicDLQ, prod.msgs[0].topic)
	assert.Empty(t, obs.queued)
}

func TestRouter_RateLimiterError_FailsOpen(t *testing.T) {
	prod := &fakeProducer{}
	r := newTestRouter(prod, nil, &fakeRateLimiter{err: errors.New("redis down")})

	err := r.route(context.Background(), jobMessage(t, handlers.JobKindExecute, "agents", nil))
	require.NoError(t, err)

	require.Len(t, prod.msgs, 1)
	assert.Equal(t, "jobs.queue.agents", prod.msgs[0].topic)
}

func TestRouter_TransientKafkaError_ReturnsError(t *testing.T) {
	prod := &fakeProducer{err: assert.AnError}
	obs := &fakeObserver{}
	r := newTestRouter(prod, obs, nil)

	err := r.route(context.Background(), jobMessage(t, handlers.JobKindExecute, "agents", nil))
	require.Error(t, err, "transient Kafka error should not commit offset")
	assert.Equal(t, []string{"job-1"}, obs.queued)
	assert.Equal(t, []string{"job-1"}, obs.unqueued, "queued entry is withdrawn when the publish fails")
}

func newTrackingStore(t *testing.T) redisstore.JobStatusStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.NewJobStatusStore(client, nil, slog.Default())
}

func TestRouter_TracksQueuedJobForInteraction(t *testing.T) {
	store := newTrackingStore(t)
	bridge := tracking.NewBridge(store, handlers.DecodeCommand, slog.Default())
	r := newTestRouter(&fakeProducer{}, bridge, nil)

	cmd := handlers.ExecuteCommand{ExecutionID: "exec-9", InteractionID: "chat-1"}
	err := r.route(context.Background(), jobMessage(t, handlers.JobKindExecute, "agents", cmd))
	require.NoError(t, err)

	jobs, err := store.ListJobs(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Contains(t, jobs, "execute:exec-9")
	assert.Equal(t, domain.JobQueued, jobs["execute:exec-9"].Status)
	assert.Equal(t, "agents", jobs["execute:exec-9"].Queue)
}

func TestRouter_FastWorkerIsNotOverwrittenByQueued(t *testing.T) {
	store := newTrackingStore(t)
	bridge := tracking.NewBridge(store, handlers.DecodeCommand, slog.Default())
	ctx := context.Background()

	cmd := handlers.ExecuteCommand{ExecutionID: "exec-4", InteractionID: "chat-4"}
	msg := jobMessage(t, handlers.JobKindExecute, "agents", cmd)
	var job domain.Job
	require.NoError(t, json.Unmarshal(msg.Value, &job))

	// The worker starts and finishes the job before the router's publish returns.
	prod := &fakeProducer{onPublish: func() {
		bridge.JobStarted(ctx, &job)
		bridge.JobSucceeded(ctx, &job)
	}}
	r := newTestRouter(prod, bridge, nil)
	require.NoError(t, r.route(ctx, msg))

	jobs, err := store.ListJobs(ctx, "chat-4")
	require.NoError(t, err)
	require.Contains(t, jobs, "execute:exec-4")
	assert.Equal(t, domain.JobCompleted, jobs["execute:exec-4"].Status)

	active, err := store.HasActiveJobs(ctx, "chat-4")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRouter_PublishFailureRemovesQueuedEntry(t *testing.T) {
	store := newTrackingStore(t)
	bridge := tracking.NewBridge(store, handlers.DecodeCommand, slog.Default())
	r := newTestRouter(&fakeProducer{err: assert.AnError}, bridge, nil)

	cmd := handlers.ExecuteCommand{ExecutionID: "exec-5", InteractionID: "chat-5"}
	err := r.route(context.Background(), jobMessage(t, handlers.JobKindExecute, "agents", cmd))
	require.Error(t, err)

	jobs, err := store.ListJobs(context.Background(), "chat-5")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
