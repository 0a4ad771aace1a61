package redis_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-agent-flow/internal/broadcast"
	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	redisstore "github.com/ramiqadoumi/go-agent-flow/internal/redis"
)

func TestBroadcaster_PublishAndSubscribe(t *testing.T) {
	_, client := newMiniRedis(t)
	b := redisstore.NewBroadcaster(client, redisstore.DefaultHardLimit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := b.Subscribe(ctx, broadcast.Channel("9"), discardLogger)
	require.NoError(t, err)

	require.NoError(t, b.Broadcast(ctx, broadcast.Channel("9"), broadcast.EventResearchComplete, map[string]any{"result": "done"}))

	select {
	case env := <-events:
		assert.Equal(t, broadcast.EventResearchComplete, env.Event)
		assert.Equal(t, "chat-interaction.9", env.Channel)
		data, err := json.Marshal(env.Data)
		require.NoError(t, err)
		assert.JSONEq(t, `{"result":"done"}`, string(data))
		assert.False(t, env.SentAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope received")
	}
}

func TestBroadcaster_RejectsOversizedEnvelope(t *testing.T) {
	_, client := newMiniRedis(t)
	b := redisstore.NewBroadcaster(client, 1024)

	err := b.Broadcast(context.Background(), "chat-interaction.1", "ResearchComplete", strings.Repeat("x", 2000))

	var tooLarge *domain.PayloadTooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, 1024, tooLarge.Limit)
	assert.Greater(t, tooLarge.Size, 2000)
}

func TestBroadcaster_MarkupHeavyResultFitsAfterBuild(t *testing.T) {
	_, client := newMiniRedis(t)
	b := redisstore.NewBroadcaster(client, redisstore.DefaultHardLimit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := b.Subscribe(ctx, broadcast.Channel("5"), discardLogger)
	require.NoError(t, err)

	// 7500 bytes of markup: under the budget as estimated, and 45000 bytes
	// if every character were HTML-escaped.
	result := strings.Repeat("<&>", 2500)
	payload := broadcast.NewBuilder(discardLogger).Build(result, nil, nil, nil)
	require.False(t, payload.Truncated)

	require.NoError(t, b.Broadcast(ctx, broadcast.Channel("5"), broadcast.EventResearchComplete, payload))

	select {
	case env := <-events:
		data, ok := env.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, result, data["result"])
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope received")
	}
}

func TestBroadcaster_NoLimit(t *testing.T) {
	_, client := newMiniRedis(t)
	b := redisstore.NewBroadcaster(client, 0)
	require.NoError(t, b.Broadcast(context.Background(), "c", "e", strings.Repeat("x", 50000)))
}

func TestBroadcaster_SubscriptionEndsWithContext(t *testing.T) {
	_, client := newMiniRedis(t)
	b := redisstore.NewBroadcaster(client, 0)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := b.Subscribe(ctx, "chat-interaction.1", discardLogger)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok, "channel closes after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
}
