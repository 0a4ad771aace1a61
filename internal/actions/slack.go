package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	"github.com/ramiqadoumi/go-agent-flow/pkg/retry"
)

// DefaultSlackText is sent when an action configures no text of its own.
const DefaultSlackText = "{{ owner_name }}: execution {{ execution_id }} finished with status {{ status }}"

// SlackProvider posts to a Slack incoming-webhook URL.
//
// Config keys: webhook_url (required), text.
type SlackProvider struct {
	client *http.Client
}

// NewSlackProvider creates a SlackProvider.
func NewSlackProvider(timeout time.Duration) *SlackProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SlackProvider{client: &http.Client{Timeout: timeout}}
}

func (p *SlackProvider) Name() string { return "slack" }

func (p *SlackProvider) Execute(ctx context.Context, action *domain.OutputAction, vars map[string]any, _ string) (Result, error) {
	ctx, span := otel.Tracer("actions").Start(ctx, "action.slack")
	defer span.End()

	cfg := ResolveConfig(action.Config, vars)
	url := configString(cfg, "webhook_url")
	if url == "" {
		return Result{}, fail(span, "missing webhook_url", retry.Permanent(&domain.InvalidActionConfigError{ActionID: action.ID, Reason: "missing required field 'webhook_url'"}))
	}
	text := configString(cfg, "text")
	if text == "" {
		text = Resolve(DefaultSlackText, vars)
	}
	span.SetAttributes(attribute.String("action.id", action.ID))

	body, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fail(span, "build request failed", retry.Permanent(fmt.Errorf("build slack request: %w", err)))
	}
	req.Header.Set("Content-Type", "application/json")
	return send(p.client, req, span)
}
