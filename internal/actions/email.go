package actions

import (
	"context"
	"fmt"
	"net/smtp"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	"github.com/ramiqadoumi/go-agent-flow/pkg/retry"
)

// EmailConfig holds SMTP connection details.
type EmailConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

const (
	defaultEmailSubject = "Execution {{ execution_id }}: {{ status }}"
	defaultEmailBody    = "{{ result }}"
)

// EmailProvider sends the outcome via SMTP.
//
// Config keys: to (required), subject, body.
type EmailProvider struct {
	cfg      EmailConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailProvider creates an EmailProvider from config.
func NewEmailProvider(cfg EmailConfig) *EmailProvider {
	return &EmailProvider{cfg: cfg, sendMail: smtp.SendMail}
}

func (p *EmailProvider) Name() string { return "email" }

func (p *EmailProvider) Execute(ctx context.Context, action *domain.OutputAction, vars map[string]any, _ string) (Result, error) {
	ctx, span := otel.Tracer("actions").Start(ctx, "action.email")
	defer span.End()

	cfg := ResolveConfig(action.Config, vars)
	to := configString(cfg, "to")
	if to == "" {
		return Result{}, fail(span, "missing 'to' field", retry.Permanent(&domain.InvalidActionConfigError{ActionID: action.ID, Reason: "missing required field 'to'"}))
	}
	subject := configString(cfg, "subject")
	if subject == "" {
		subject = Resolve(defaultEmailSubject, vars)
	}
	body, _ := cfg["body"].(string)
	if body == "" {
		body = Resolve(defaultEmailBody, vars)
	}

	span.SetAttributes(attribute.String("email.to", to), attribute.String("action.id", action.ID))

	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	msg := buildMIME(p.cfg.From, to, subject, body)

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}

	// net/smtp has no context support; race it against ctx.
	done := make(chan error, 1)
	go func() {
		done <- p.sendMail(addr, auth, p.cfg.From, []string{to}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return Result{}, fail(span, "smtp send failed", fmt.Errorf("smtp send to %s: %w", to, err))
		}
		return Result{Response: "sent to " + to}, nil
	case <-ctx.Done():
		return Result{}, fail(span, "timeout", fmt.Errorf("email send interrupted: %w", ctx.Err()))
	}
}

func buildMIME(from, to, subject, body string) []byte {
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		from, to, subject, body,
	)
	return []byte(msg)
}
