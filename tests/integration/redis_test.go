//go:build integration

package integration

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-agent-flow/internal/broadcast"
	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	redisstore "github.com/ramiqadoumi/go-agent-flow/internal/redis"
)

// newRedisClient returns a client connected to the test container and flushes
// the database on test cleanup so tests don't interfere with each other.
func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	t.Cleanup(func() {
		client.FlushDB(context.Background()) //nolint:errcheck
		client.Close()                       //nolint:errcheck
	})
	return client
}

func TestRedis_JobStatus_Lifecycle(t *testing.T) {
	store := redisstore.NewJobStatusStore(newRedisClient(t), nil, slog.Default())
	ctx := context.Background()
	meta := domain.JobMetadata{Queue: "agents", Kind: "agent.execute"}

	require.NoError(t, store.RecordQueued(ctx, "chat-1", "execute:e1", meta))
	active, err := store.HasActiveJobs(ctx, "chat-1")
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, store.RecordStarted(ctx, "chat-1", "execute:e1", meta))
	require.NoError(t, store.RecordCompleted(ctx, "chat-1", "execute:e1", meta))

	jobs, err := store.ListJobs(ctx, "chat-1")
	require.NoError(t, err)
	require.Contains(t, jobs, "execute:e1")
	rec := jobs["execute:e1"]
	assert.Equal(t, domain.JobCompleted, rec.Status)
	assert.Equal(t, "agents", rec.Queue)
	assert.NotNil(t, rec.CreatedAt, "created_at survives later writes")
	assert.NotNil(t, rec.StartedAt)
	assert.NotNil(t, rec.CompletedAt)

	active, err = store.HasActiveJobs(ctx, "chat-1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRedis_JobStatus_CountsAndClear(t *testing.T) {
	store := redisstore.NewJobStatusStore(newRedisClient(t), nil, slog.Default())
	ctx := context.Background()

	require.NoError(t, store.RecordQueued(ctx, "chat-2", "a", domain.JobMetadata{}))
	require.NoError(t, store.RecordStarted(ctx, "chat-2", "b", domain.JobMetadata{}))
	require.NoError(t, store.RecordFailed(ctx, "chat-2", "c", domain.JobMetadata{Error: "boom"}))

	counts, err := store.CountsByStatus(ctx, "chat-2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCounts{Total: 3, Queued: 1, Running: 1, Failed: 1}, counts)

	require.NoError(t, store.Remove(ctx, "chat-2", "a"))
	require.NoError(t, store.Clear(ctx, "chat-2"))

	jobs, err := store.ListJobs(ctx, "chat-2")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRedis_JobStatus_TTLRefreshedOnWrite(t *testing.T) {
	client := newRedisClient(t)
	store := redisstore.NewJobStatusStore(client, nil, slog.Default(), redisstore.WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, store.RecordQueued(ctx, "chat-3", "a", domain.JobMetadata{}))

	ttl, err := client.TTL(ctx, "queue:status:interaction:chat-3").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestRedis_Broadcaster_PublishSubscribe(t *testing.T) {
	client := newRedisClient(t)
	b := redisstore.NewBroadcaster(client, redisstore.DefaultHardLimit)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	channel := broadcast.Channel("chat-4")
	events, err := b.Subscribe(ctx, channel, slog.Default())
	require.NoError(t, err)

	require.NoError(t, b.Broadcast(ctx, channel, broadcast.EventPhaseUpdated, map[string]string{"phase": "analyzing"}))

	select {
	case env := <-events:
		assert.Equal(t, broadcast.EventPhaseUpdated, env.Event)
		assert.Equal(t, channel, env.Channel)
	case <-ctx.Done():
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestRedis_Leader_SingleHolder(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()

	a := redisstore.NewLeader(client, "test:leader", "a", 5*time.Second)
	b := redisstore.NewLeader(client, "test:leader", "b", 5*time.Second)

	leader, acquired, err := a.AcquireOrRenew(ctx)
	require.NoError(t, err)
	assert.True(t, leader)
	assert.True(t, acquired)

	leader, _, err = b.AcquireOrRenew(ctx)
	require.NoError(t, err)
	assert.False(t, leader)

	leader, acquired, err = a.AcquireOrRenew(ctx)
	require.NoError(t, err)
	assert.True(t, leader)
	assert.False(t, acquired, "renewal is not a fresh acquisition")

	require.NoError(t, a.Release(ctx))
	leader, _, err = b.AcquireOrRenew(ctx)
	require.NoError(t, err)
	assert.True(t, leader)
}

func TestRedis_RateLimiter_SlidingWindow(t *testing.T) {
	limiter := redisstore.NewRateLimiter(newRedisClient(t), "test", 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "action-1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "action-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = limiter.Allow(ctx, "action-2")
	require.NoError(t, err)
	assert.True(t, ok, "keys are limited independently")
}
