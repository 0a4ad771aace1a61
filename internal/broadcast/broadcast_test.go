package broadcast_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ramiqadoumi/go-agent-flow/internal/broadcast"
)

type recordingBroadcaster struct {
	events []string
	err    error
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, channel, event string, _ any) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, channel+"|"+event)
	return nil
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "chat-interaction.42", broadcast.Channel("42"))
}

func TestSend_Success(t *testing.T) {
	rb := &recordingBroadcaster{}
	ok := broadcast.Send(context.Background(), rb, discardLogger, "chat-interaction.1", broadcast.EventResearchComplete, map[string]any{})
	assert.True(t, ok)
	assert.Equal(t, []string{"chat-interaction.1|ResearchComplete"}, rb.events)
}

func TestSend_FailureIsSwallowed(t *testing.T) {
	rb := &recordingBroadcaster{err: errors.New("pubsub down")}
	ok := broadcast.Send(context.Background(), rb, discardLogger, "chat-interaction.1", broadcast.EventResearchFailed, nil)
	assert.False(t, ok)
}

func TestSend_NilBroadcaster(t *testing.T) {
	assert.False(t, broadcast.Send(context.Background(), nil, discardLogger, "c", "e", nil))
}

func TestEncode_KeepsMarkupUnescaped(t *testing.T) {
	data, err := broadcast.Encode(map[string]string{"result": "<b>a & b</b>"})
	assert.NoError(t, err)
	assert.Equal(t, `{"result":"<b>a & b</b>"}`, string(data))
}
