package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisstore "github.com/ramiqadoumi/go-agent-flow/internal/redis"
)

func TestLeader_SingleHolder(t *testing.T) {
	mr, client := newMiniRedis(t)
	ctx := context.Background()
	a := redisstore.NewLeader(client, "scheduler:leader", "a", 30*time.Second)
	b := redisstore.NewLeader(client, "scheduler:leader", "b", 30*time.Second)

	leader, acquired, err := a.AcquireOrRenew(ctx)
	require.NoError(t, err)
	assert.True(t, leader)
	assert.True(t, acquired)

	leader, _, err = b.AcquireOrRenew(ctx)
	require.NoError(t, err)
	assert.False(t, leader, "lock is held by a")

	mr.FastForward(20 * time.Second)
	leader, acquired, err = a.AcquireOrRenew(ctx)
	require.NoError(t, err)
	assert.True(t, leader)
	assert.False(t, acquired, "renewal, not a fresh acquisition")
	assert.Equal(t, 30*time.Second, mr.TTL("scheduler:leader"))
}

func TestLeader_TakeoverAfterExpiry(t *testing.T) {
	mr, client := newMiniRedis(t)
	ctx := context.Background()
	a := redisstore.NewLeader(client, "scheduler:leader", "a", 30*time.Second)
	b := redisstore.NewLeader(client, "scheduler:leader", "b", 30*time.Second)

	_, _, err := a.AcquireOrRenew(ctx)
	require.NoError(t, err)
	mr.FastForward(31 * time.Second)

	leader, acquired, err := b.AcquireOrRenew(ctx)
	require.NoError(t, err)
	assert.True(t, leader)
	assert.True(t, acquired)
}

func TestLeader_Release(t *testing.T) {
	mr, client := newMiniRedis(t)
	ctx := context.Background()
	a := redisstore.NewLeader(client, "scheduler:leader", "a", 30*time.Second)
	b := redisstore.NewLeader(client, "scheduler:leader", "b", 30*time.Second)

	_, _, err := a.AcquireOrRenew(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Release(ctx), "non-owner release is a no-op")
	assert.True(t, mr.Exists("scheduler:leader"))

	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists("scheduler:leader"))
	require.NoError(t, a.Release(ctx), "releasing a free lock is fine")
}
