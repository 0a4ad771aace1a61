package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/go-agent-flow/internal/broadcast"
	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
)

// DefaultHardLimit is the largest envelope the real-time transport accepts.
const DefaultHardLimit = 10240

// Broadcaster publishes envelopes on Redis pub/sub channels named after the
// broadcast channel. Subscribers (the API's event stream) relay them to clients.
type Broadcaster struct {
	client    *redis.Client
	hardLimit int
	now       func() time.Time
}

// NewBroadcaster returns a Broadcaster rejecting envelopes above hardLimit
// bytes. hardLimit <= 0 disables the check.
func NewBroadcaster(client *redis.Client, hardLimit int) *Broadcaster {
	return &Broadcaster{client: client, hardLimit: hardLimit, now: time.Now}
}

// Broadcast implements broadcast.Broadcaster.
func (b *Broadcaster) Broadcast(ctx context.Context, channel, event string, payload any) error {
	data, err := broadcast.Encode(broadcast.Envelope{
		Event:   event,
		Channel: channel,
		Data:    payload,
		SentAt:  b.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	if b.hardLimit > 0 && len(data) > b.hardLimit {
		return &domain.PayloadTooLargeError{Channel: channel, Size: len(data), Limit: b.hardLimit}
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s on %s: %w", event, channel, err)
	}
	return nil
}

// Subscribe streams envelopes published on channel until ctx is cancelled.
// Messages that do not decode are logged and dropped.
func (b *Broadcaster) Subscribe(ctx context.Context, channel string, logger *slog.Logger) (<-chan broadcast.Envelope, error) {
	sub := b.client.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so no early publish is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	out := make(chan broadcast.Envelope)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var env broadcast.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					logger.Warn("dropping undecodable broadcast",
						slog.String("channel", channel),
						slog.String("error", err.Error()),
					)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
