package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-agent-flow/internal/actions"
	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	"github.com/ramiqadoumi/go-agent-flow/internal/handlers"
	"github.com/ramiqadoumi/go-agent-flow/pkg/retry"
)

// ── mocks ────────────────────────────────────────────────────────────────────

type memDeliveries struct {
	mu   sync.Mutex
	rows []domain.Delivery
	err  error
}

func (m *memDeliveries) RecordDelivery(_ context.Context, d *domain.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, *d)
	return m.err
}

type fakeProvider struct {
	res   actions.Result
	err   error
	calls int
	vars  map[string]any
	user  string
}

func (p *fakeProvider) Name() string { return "webhook" }

func (p *fakeProvider) Execute(_ context.Context, _ *domain.OutputAction, vars map[string]any, actingUserID string) (actions.Result, error) {
	p.calls++
	p.vars = vars
	p.user = actingUserID
	return p.res, p.err
}

type fixedLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *fixedLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func (l *fixedLimiter) Limit() int { return 10 }

func deliverJob(t *testing.T, provider string, attempts int) *domain.Job {
	t.Helper()
	raw, err := json.Marshal(actions.DeliveryCommand{
		Action:        domain.OutputAction{ID: "act-1", Provider: provider, TriggerOn: domain.TriggerOnAlways, Enabled: true},
		Context:       map[string]any{"status": "success"},
		ActingUserID:  "user-1",
		InteractionID: "42",
	})
	require.NoError(t, err)
	return &domain.Job{ID: "job-d", Kind: actions.JobKindDeliver, Payload: raw, Attempts: attempts}
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestDeliverHandler_SuccessRecordsDelivery(t *testing.T) {
	p := &fakeProvider{res: actions.Result{StatusCode: 204}}
	log := &memDeliveries{}
	h := handlers.NewDeliverHandler(actions.NewRegistry(p), log, nil, quietLogger())
	assert.Equal(t, actions.JobKindDeliver, h.Kind())

	require.NoError(t, h.Handle(context.Background(), deliverJob(t, "webhook", 1)))

	assert.Equal(t, 1, p.calls)
	assert.Equal(t, "success", p.vars["status"])
	assert.Equal(t, "user-1", p.user)
	require.Len(t, log.rows, 1)
	row := log.rows[0]
	assert.True(t, row.Success)
	assert.Equal(t, "act-1", row.ActionID)
	assert.Equal(t, 204, row.StatusCode)
	assert.Equal(t, 1, row.Attempts)
	assert.Equal(t, "user-1", row.ActingUserID)
	assert.NotEmpty(t, row.ID)
}

func TestDeliverHandler_FailuresAreRecordedAndClassified(t *testing.T) {
	tests := []struct {
		name      string
		provider  string
		err       error
		permanent bool
	}{
		{"transient", "webhook", errors.New("503 from receiver"), false},
		{"rejected", "webhook", retry.Permanent(errors.New("404 from receiver")), true},
		{"unknown provider", "pager", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{err: tt.err}
			log := &memDeliveries{}
			h := handlers.NewDeliverHandler(actions.NewRegistry(p), log, nil, quietLogger())

			err := h.Handle(context.Background(), deliverJob(t, tt.provider, 3))
			require.Error(t, err)
			assert.Equal(t, tt.permanent, retry.IsPermanent(err))

			require.Len(t, log.rows, 1)
			assert.False(t, log.rows[0].Success)
			assert.NotEmpty(t, log.rows[0].Error)
			assert.Equal(t, 3, log.rows[0].Attempts)
		})
	}
}

func TestDeliverHandler_RecorderErrorDoesNotFailDelivery(t *testing.T) {
	h := handlers.NewDeliverHandler(actions.NewRegistry(&fakeProvider{}), &memDeliveries{err: errors.New("db down")}, nil, quietLogger())
	require.NoError(t, h.Handle(context.Background(), deliverJob(t, "webhook", 1)))
}

func TestDeliverHandler_RateLimit(t *testing.T) {
	p := &fakeProvider{}
	limiter := &fixedLimiter{allow: false}
	h := handlers.NewDeliverHandler(actions.NewRegistry(p), &memDeliveries{}, limiter, quietLogger())

	err := h.Handle(context.Background(), deliverJob(t, "webhook", 1))
	require.ErrorIs(t, err, handlers.ErrRateLimited)
	assert.False(t, retry.IsPermanent(err))
	assert.Equal(t, 0, p.calls)
	assert.Equal(t, []string{"action:act-1"}, limiter.keys)
}

func TestDeliverHandler_LimiterOutageFailsOpen(t *testing.T) {
	p := &fakeProvider{}
	h := handlers.NewDeliverHandler(actions.NewRegistry(p), &memDeliveries{}, &fixedLimiter{err: errors.New("redis down")}, quietLogger())

	require.NoError(t, h.Handle(context.Background(), deliverJob(t, "webhook", 1)))
	assert.Equal(t, 1, p.calls)
}

func TestDeliverHandler_InvalidPayload(t *testing.T) {
	h := handlers.NewDeliverHandler(actions.NewRegistry(), &memDeliveries{}, nil, quietLogger())

	err := h.Handle(context.Background(), &domain.Job{ID: "x", Payload: json.RawMessage(`[`)})
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
	assert.NotPanics(t, func() { h.Failed(context.Background(), &domain.Job{ID: "x"}, err) })
}
