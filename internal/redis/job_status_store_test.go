package redis_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-agent-flow/internal/broadcast"
	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	redisstore "github.com/ramiqadoumi/go-agent-flow/internal/redis"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// ── fakes ────────────────────────────────────────────────────────────────────

type sentEvent struct {
	channel string
	event   string
	payload any
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
	err    error
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, channel, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, sentEvent{channel, event, payload})
	return nil
}

func (f *fakeBroadcaster) last(t *testing.T) redisstore.StatusUpdate {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.events)
	u, ok := f.events[len(f.events)-1].payload.(redisstore.StatusUpdate)
	require.True(t, ok)
	return u
}

// ── helpers ──────────────────────────────────────────────────────────────────

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newStore(t *testing.T) (redisstore.JobStatusStore, *miniredis.Miniredis, *fakeBroadcaster, *clock) {
	t.Helper()
	mr, client := newMiniRedis(t)
	fb := &fakeBroadcaster{}
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := redisstore.NewJobStatusStore(client, fb, discardLogger, redisstore.WithClock(clk.now))
	return store, mr, fb, clk
}

const interaction = "42"

// ── tests ────────────────────────────────────────────────────────────────────

func TestJobStatusStore_Lifecycle(t *testing.T) {
	store, _, _, clk := newStore(t)
	ctx := context.Background()
	meta := domain.JobMetadata{Queue: "agents", Kind: "agent.execute"}

	require.NoError(t, store.RecordQueued(ctx, interaction, "job-1", meta))
	active, err := store.HasActiveJobs(ctx, interaction)
	require.NoError(t, err)
	assert.True(t, active, "queued job is active")

	clk.t = clk.t.Add(time.Second)
	require.NoError(t, store.RecordStarted(ctx, interaction, "job-1", domain.JobMetadata{}))
	active, err = store.HasActiveJobs(ctx, interaction)
	require.NoError(t, err)
	assert.True(t, active, "running job is active")

	clk.t = clk.t.Add(time.Second)
	require.NoError(t, store.RecordCompleted(ctx, interaction, "job-1", domain.JobMetadata{}))

	counts, err := store.CountsByStatus(ctx, interaction)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCounts{Total: 1, Completed: 1}, counts)

	active, err = store.HasActiveJobs(ctx, interaction)
	require.NoError(t, err)
	assert.False(t, active)

	jobs, err := store.ListJobs(ctx, interaction)
	require.NoError(t, err)
	rec := jobs["job-1"]
	require.NotNil(t, rec)
	assert.Equal(t, domain.JobCompleted, rec.Status)
	assert.Equal(t, "agents", rec.Queue, "metadata from the first write survives the merge")
	assert.Equal(t, "agent.execute", rec.Kind)
	require.NotNil(t, rec.CreatedAt)
	require.NotNil(t, rec.StartedAt)
	require.NotNil(t, rec.CompletedAt)
	assert.True(t, rec.CreatedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)), "created_at set once")
	assert.True(t, rec.UpdatedAt.Equal(clk.t))
	assert.Nil(t, rec.FailedAt)
}

func TestJobStatusStore_FailedIsNotActive(t *testing.T) {
	store, _, _, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordStarted(ctx, interaction, "job-1", domain.JobMetadata{}))
	require.NoError(t, store.RecordFailed(ctx, interaction, "job-1", domain.JobMetadata{Error: "boom"}))

	active, err := store.HasActiveJobs(ctx, interaction)
	require.NoError(t, err)
	assert.False(t, active)

	jobs, err := store.ListJobs(ctx, interaction)
	require.NoError(t, err)
	assert.Equal(t, "boom", jobs["job-1"].Error)
	assert.NotNil(t, jobs["job-1"].FailedAt)
}

func TestJobStatusStore_RecordFailed_TruncatesError(t *testing.T) {
	store, _, _, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordFailed(ctx, interaction, "job-1", domain.JobMetadata{Error: strings.Repeat("e", 2000)}))

	jobs, err := store.ListJobs(ctx, interaction)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("e", 500)+"... (truncated)", jobs["job-1"].Error)
}

func TestJobStatusStore_SiblingJobsIndependent(t *testing.T) {
	store, _, _, _ := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			assert.NoError(t, store.RecordQueued(ctx, interaction, id, domain.JobMetadata{}))
			assert.NoError(t, store.RecordStarted(ctx, interaction, id, domain.JobMetadata{}))
		}(i)
	}
	wg.Wait()

	counts, err := store.CountsByStatus(ctx, interaction)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCounts{Total: 20, Running: 20}, counts)
}

func TestJobStatusStore_GroupTTLRefreshedOnEveryWrite(t *testing.T) {
	store, mr, _, _ := newStore(t)
	ctx := context.Background()
	key := "queue:status:interaction:" + interaction

	require.NoError(t, store.RecordQueued(ctx, interaction, "job-1", domain.JobMetadata{}))
	assert.Equal(t, time.Hour, mr.TTL(key))

	mr.FastForward(50 * time.Minute)
	require.NoError(t, store.RecordQueued(ctx, interaction, "job-2", domain.JobMetadata{}))
	assert.Equal(t, time.Hour, mr.TTL(key), "a write to any job refreshes the whole group")

	// job-1 has not been written for 50+20 minutes but lives on with its sibling.
	mr.FastForward(20 * time.Minute)
	jobs, err := store.ListJobs(ctx, interaction)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	mr.FastForward(41 * time.Minute)
	jobs, err = store.ListJobs(ctx, interaction)
	require.NoError(t, err)
	assert.Empty(t, jobs, "group expires an hour after its last write")
}

func TestJobStatusStore_CustomTTL(t *testing.T) {
	mr, client := newMiniRedis(t)
	store := redisstore.NewJobStatusStore(client, nil, discardLogger, redisstore.WithTTL(5*time.Minute))

	require.NoError(t, store.RecordQueued(context.Background(), "7", "job-1", domain.JobMetadata{}))
	assert.Equal(t, 5*time.Minute, mr.TTL("queue:status:interaction:7"))
}

func TestJobStatusStore_RemoveAndClear(t *testing.T) {
	store, mr, _, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordQueued(ctx, interaction, "job-1", domain.JobMetadata{}))
	require.NoError(t, store.RecordQueued(ctx, interaction, "job-2", domain.JobMetadata{}))

	require.NoError(t, store.Remove(ctx, interaction, "job-1"))
	jobs, err := store.ListJobs(ctx, interaction)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.Contains(t, jobs, "job-2")

	require.NoError(t, store.Clear(ctx, interaction))
	assert.False(t, mr.Exists("queue:status:interaction:"+interaction))

	counts, err := store.CountsByStatus(ctx, interaction)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCounts{}, counts)
}

func TestJobStatusStore_IgnoresCorruptEntries(t *testing.T) {
	store, mr, _, _ := newStore(t)
	ctx := context.Background()
	mr.HSet("queue:status:interaction:"+interaction, "bad", "{not json")

	require.NoError(t, store.RecordQueued(ctx, interaction, "good", domain.JobMetadata{}))
	require.NoError(t, store.RecordStarted(ctx, interaction, "bad", domain.JobMetadata{}), "corrupt record is replaced")

	jobs, err := store.ListJobs(ctx, interaction)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.Equal(t, domain.JobRunning, jobs["bad"].Status)
}

func TestJobStatusStore_BroadcastsEveryWrite(t *testing.T) {
	store, _, fb, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordQueued(ctx, interaction, "job-1", domain.JobMetadata{}))
	require.NoError(t, store.RecordQueued(ctx, interaction, "job-2", domain.JobMetadata{}))
	require.NoError(t, store.RecordCompleted(ctx, interaction, "job-1", domain.JobMetadata{}))

	require.Len(t, fb.events, 3)
	for _, e := range fb.events {
		assert.Equal(t, "chat-interaction.42", e.channel)
		assert.Equal(t, broadcast.EventQueueStatusUpdated, e.event)
	}
	u := fb.last(t)
	assert.Equal(t, "job-1", u.JobID)
	assert.Equal(t, domain.JobCompleted, u.Status)
	assert.Equal(t, domain.JobCounts{Total: 2, Queued: 1, Completed: 1}, u.Counts)
	assert.True(t, u.HasActiveJobs)
}

func TestJobStatusStore_BroadcastFailureDoesNotFailWrite(t *testing.T) {
	store, _, fb, _ := newStore(t)
	fb.err = errors.New("pubsub down")

	require.NoError(t, store.RecordQueued(context.Background(), interaction, "job-1", domain.JobMetadata{}))
	jobs, err := store.ListJobs(context.Background(), interaction)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestJobStatusStore_RedisDown(t *testing.T) {
	mr, client := newMiniRedis(t)
	store := redisstore.NewJobStatusStore(client, nil, discardLogger)
	mr.Close()

	require.Error(t, store.RecordQueued(context.Background(), interaction, "job-1", domain.JobMetadata{}))
	_, err := store.ListJobs(context.Background(), interaction)
	require.Error(t, err)
}
