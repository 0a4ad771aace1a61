// Package broadcast defines the real-time channel contract: channel naming,
// event names, the Broadcaster collaborator and the size-bounded payload builder.
package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ramiqadoumi/go-agent-flow/pkg/telemetry"
)

// Event names carried on interaction channels.
const (
	EventQueueStatusUpdated = "QueueStatusUpdated"
	EventWorkflowCompleted  = "HolisticWorkflowCompleted"
	EventResearchComplete   = "ResearchComplete"
	EventWorkflowFailed     = "HolisticWorkflowFailed"
	EventResearchFailed     = "ResearchFailed"
	EventPhaseUpdated       = "ExecutionPhaseUpdated"
)

// Broadcaster delivers an event to the subscribers of a channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel, event string, payload any) error
}

// Envelope is the message written to the transport.
type Envelope struct {
	Event   string    `json:"event"`
	Channel string    `json:"channel"`
	Data    any       `json:"data"`
	SentAt  time.Time `json:"sent_at"`
}

// Encode marshals v the way transports write it: no HTML escaping, so an
// agent result full of '<' and '&' costs on the wire what Builder estimated.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Channel returns the channel name for an interaction.
func Channel(interactionID string) string {
	return "chat-interaction." + interactionID
}

// Send publishes fire-and-forget: a failure is logged and counted, never returned.
// It reports whether the broadcaster accepted the event.
func Send(ctx context.Context, b Broadcaster, logger *slog.Logger, channel, event string, payload any) bool {
	if b == nil {
		return false
	}
	if err := b.Broadcast(ctx, channel, event, payload); err != nil {
		telemetry.BroadcastsTotal.WithLabelValues(event, "failed").Inc()
		logger.Warn("broadcast failed",
			slog.String("channel", channel),
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return false
	}
	telemetry.BroadcastsTotal.WithLabelValues(event, "sent").Inc()
	return true
}
