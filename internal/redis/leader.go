package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// renewScript extends the lock only while this instance still owns it.
var renewScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// Leader is a single-holder lock used to elect one scheduler instance.
type Leader struct {
	client     *redis.Client
	key        string
	instanceID string
	ttl        time.Duration
}

// NewLeader returns a lock on key held by instanceID for ttl between renewals.
func NewLeader(client *redis.Client, key, instanceID string, ttl time.Duration) *Leader {
	return &Leader{client: client, key: key, instanceID: instanceID, ttl: ttl}
}

// AcquireOrRenew reports whether this instance holds the lock after the call.
// acquired is true only on the call that took a free lock.
func (l *Leader) AcquireOrRenew(ctx context.Context) (leader, acquired bool, err error) {
	ok, err := l.client.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
	if err != nil {
		return false, false, fmt.Errorf("leader election setnx %s: %w", l.key, err)
	}
	if ok {
		return true, true, nil
	}

	res, err := renewScript.Run(ctx, l.client, []string{l.key}, l.instanceID, l.ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, false, fmt.Errorf("leader renewal %s: %w", l.key, err)
	}
	return res == 1, false, nil
}

// Release drops the lock if this instance holds it.
func (l *Leader) Release(ctx context.Context) error {
	owner, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("leader release %s: %w", l.key, err)
	}
	if owner != l.instanceID {
		return nil
	}
	return l.client.Del(ctx, l.key).Err()
}
