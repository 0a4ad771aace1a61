package actions

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
)

func TestEmailProvider_SendsResolvedMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string
	p := NewEmailProvider(EmailConfig{Host: "mail.local", Port: 2525, From: "bot@agentflow.dev"})
	p.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}

	action := &domain.OutputAction{ID: "e-1", Provider: "email", Config: map[string]any{
		"to":      "{{ owner_email }}",
		"subject": "Run {{ status }}",
	}}
	res, err := p.Execute(context.Background(), action, map[string]any{
		"owner_email": "ops@example.com",
		"status":      "success",
		"result":      "the answer",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, "mail.local:2525", gotAddr)
	assert.Equal(t, "bot@agentflow.dev", gotFrom)
	assert.Equal(t, []string{"ops@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Run success\r\n")
	assert.Contains(t, gotMsg, "\r\n\r\nthe answer")
	assert.Equal(t, "sent to ops@example.com", res.Response)
}

func TestEmailProvider_SMTPErrorIsRetryable(t *testing.T) {
	p := NewEmailProvider(EmailConfig{Host: "mail.local", Port: 25})
	p.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("421 try again later")
	}

	_, err := p.Execute(context.Background(), &domain.OutputAction{ID: "e-1", Config: map[string]any{"to": "a@b.c"}}, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "421")
}
