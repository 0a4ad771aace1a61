package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	"github.com/ramiqadoumi/go-agent-flow/internal/signature"
	"github.com/ramiqadoumi/go-agent-flow/internal/version"
	"github.com/ramiqadoumi/go-agent-flow/pkg/retry"
)

// maxResponseBody bounds how much of a receiver's reply is kept.
const maxResponseBody = 4 << 10

// HeaderActingUser carries the user who triggered a manual delivery.
const HeaderActingUser = "X-Agentflow-Acting-User"

// WebhookProvider POSTs the action's body, signed when a secret is configured.
//
// Config keys: url (required), method, headers, secret, signature_style, body.
// A missing body sends the JSON-encoded template context.
type WebhookProvider struct {
	client *http.Client
	now    func() time.Time
}

// NewWebhookProvider creates a WebhookProvider with the given request timeout.
func NewWebhookProvider(timeout time.Duration) *WebhookProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookProvider{
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

func (p *WebhookProvider) Name() string { return "webhook" }

func (p *WebhookProvider) Execute(ctx context.Context, action *domain.OutputAction, vars map[string]any, actingUserID string) (Result, error) {
	ctx, span := otel.Tracer("actions").Start(ctx, "action.webhook")
	defer span.End()

	cfg := ResolveConfig(action.Config, vars)
	url := configString(cfg, "url")
	if url == "" {
		return Result{}, fail(span, "missing url", retry.Permanent(&domain.InvalidActionConfigError{ActionID: action.ID, Reason: "missing required field 'url'"}))
	}
	method := strings.ToUpper(configString(cfg, "method"))
	if method == "" {
		method = http.MethodPost
	}

	body, err := webhookBody(cfg, vars)
	if err != nil {
		return Result{}, fail(span, "encode body", retry.Permanent(&domain.InvalidActionConfigError{ActionID: action.ID, Reason: err.Error()}))
	}

	span.SetAttributes(
		attribute.String("webhook.url", url),
		attribute.String("webhook.method", method),
		attribute.String("action.id", action.ID),
	)

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fail(span, "build request failed", retry.Permanent(fmt.Errorf("build webhook request: %w", err)))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "agentflow-webhook/"+version.Version)
	if headers, ok := cfg["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, stringify(v))
		}
	}
	if actingUserID != "" {
		req.Header.Set(HeaderActingUser, actingUserID)
	}
	if secret := configString(cfg, "secret"); secret != "" {
		style := signature.Style(configString(cfg, "signature_style"))
		header, value, err := signature.Sign(style, body, []byte(secret), p.now())
		if err != nil {
			return Result{}, fail(span, "invalid signature style", retry.Permanent(&domain.InvalidActionConfigError{ActionID: action.ID, Reason: err.Error()}))
		}
		req.Header.Set(header, value)
	}

	return send(p.client, req, span)
}

func webhookBody(cfg, vars map[string]any) ([]byte, error) {
	switch b := cfg["body"].(type) {
	case string:
		if b != "" {
			return []byte(b), nil
		}
	case map[string]any, []any:
		return json.Marshal(b)
	}
	return json.Marshal(vars)
}

// send performs req and classifies the outcome: 4xx is permanent, 5xx and
// transport errors are worth retrying.
func send(client *http.Client, req *http.Request, span trace.Span) (Result, error) {
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fail(span, "http call failed", fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	res := Result{StatusCode: resp.StatusCode, Response: string(raw)}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return res, fail(span, "bad status code", fmt.Errorf("%s returned status %d", req.URL.Redacted(), resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		return res, fail(span, "rejected", retry.Permanent(fmt.Errorf("%s rejected delivery with status %d", req.URL.Redacted(), resp.StatusCode)))
	}
	return res, nil
}

func fail(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return err
}
