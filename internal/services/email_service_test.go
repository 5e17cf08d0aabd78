package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEmail(t *testing.T) {
	vars := map[string]string{
		"url":        "https://auth.example.com/auth/magic-link/abc123",
		"expires_in": "30 minutes",
	}

	email, err := renderEmail(TemplateMagicLink, vars)
	require.NoError(t, err)

	assert.Equal(t, "Your Magic Login Link", email.Subject)
	assert.Contains(t, email.HTML, `href="https://auth.example.com/auth/magic-link/abc123"`)
	assert.Contains(t, email.HTML, "30 minutes")
	assert.Contains(t, email.Text, "https://auth.example.com/auth/magic-link/abc123")
	assert.Contains(t, email.Text, "expires in 30 minutes")
}

func TestRenderEmail_EscapesHTML(t *testing.T) {
	email, err := renderEmail(TemplateVerifyEmail, map[string]string{
		"url":        "https://auth.example.com/auth/verify-email?token=<script>",
		"expires_in": "24 hours",
	})
	require.NoError(t, err)
	assert.NotContains(t, email.HTML, "<script>")
}

func TestRenderEmail_UnknownTemplate(t *testing.T) {
	_, err := renderEmail("welcome", nil)
	assert.Error(t, err)
}

func TestRenderEmail_PasswordReset(t *testing.T) {
	email, err := renderEmail(TemplatePasswordReset, map[string]string{
		"url":        "https://auth.example.com/auth/reset-password?token=abc123",
		"expires_in": "1 hour",
	})
	require.NoError(t, err)

	assert.Equal(t, "Reset your password", email.Subject)
	assert.Contains(t, email.HTML, "signs you out everywhere")
	assert.Contains(t, email.Text, "https://auth.example.com/auth/reset-password?token=abc123")
	assert.Contains(t, email.Text, "expire in 1 hour")
}

func TestLogEmailSender_RedactsLinkInProduction(t *testing.T) {
	vars := map[string]string{"url": "https://auth.example.com/auth/magic-link/secret-token", "expires_in": "30 minutes"}

	var dev bytes.Buffer
	require.NoError(t, NewLogEmailSender(slog.New(slog.NewJSONHandler(&dev, nil)), "development").
		Send(context.Background(), TemplateMagicLink, "alice@example.com", vars))
	assert.Contains(t, dev.String(), "secret-token")
	assert.NotContains(t, dev.String(), "alice@example.com")

	var prod bytes.Buffer
	require.NoError(t, NewLogEmailSender(slog.New(slog.NewJSONHandler(&prod, nil)), "production").
		Send(context.Background(), TemplateMagicLink, "alice@example.com", vars))
	assert.NotContains(t, prod.String(), "secret-token")
	assert.Contains(t, prod.String(), "[REDACTED]")
}

type funcSender func(ctx context.Context, templateID, recipient string, vars map[string]string) error

func (f funcSender) Send(ctx context.Context, templateID, recipient string, vars map[string]string) error {
	return f(ctx, templateID, recipient, vars)
}

func TestMailQueue_DeliversInBackground(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var delivered []string

	queue := NewMailQueue(funcSender(func(ctx context.Context, templateID, recipient string, vars map[string]string) error {
		<-release
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, recipient)
		return nil
	}), time.Second, testLogger())

	queue.Enqueue(TemplateMagicLink, "alice@example.com", nil)
	queue.Enqueue(TemplateMagicLink, "bob@example.com", nil)

	// Enqueue returned while both sends are still blocked
	mu.Lock()
	assert.Empty(t, delivered)
	mu.Unlock()

	close(release)
	queue.Wait()
	assert.ElementsMatch(t, []string{"alice@example.com", "bob@example.com"}, delivered)
}

func TestMailQueue_FailureIsLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	queue := NewMailQueue(funcSender(func(context.Context, string, string, map[string]string) error {
		return errors.New("ses throttled")
	}), time.Second, logger)

	queue.Enqueue(TemplateVerifyEmail, "alice@example.com", nil)
	queue.Wait()

	assert.Contains(t, buf.String(), "failed to deliver email")
	assert.Contains(t, buf.String(), "ses throttled")
}

func TestMailQueue_SendHasDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	queue := NewMailQueue(funcSender(func(ctx context.Context, _, _ string, _ map[string]string) error {
		deadline, ok = ctx.Deadline()
		return nil
	}), 5*time.Second, testLogger())

	queue.Enqueue(TemplateVerifyEmail, "alice@example.com", nil)
	queue.Wait()

	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)
}
