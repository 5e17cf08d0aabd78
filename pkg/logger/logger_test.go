package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/BradenHooton/warden/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizedEmail(t *testing.T) {
	assert.Equal(t, "a****@*******.com", logger.SanitizedEmail("alice@example.com"))
	assert.Equal(t, "[invalid-email]", logger.SanitizedEmail("not-an-email"))
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, logger.SanitizeQueryString("token=abc"))
	assert.True(t, logger.SanitizeQueryString("code=123&state=xyz"))
	assert.False(t, logger.SanitizeQueryString("page=2"))
}

func TestRedactedAttr(t *testing.T) {
	assert.Equal(t, "[REDACTED]", logger.RedactedAttr("link", "https://x/y", "production").Value.String())
	assert.Equal(t, "https://x/y", logger.RedactedAttr("link", "https://x/y", "development").Value.String())
}

func TestAuditLogger_LogSecurityEvent(t *testing.T) {
	var buf bytes.Buffer
	audit := logger.NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	audit.LogSecurityEvent(context.Background(), logger.AuditEvent{
		EventType:     "suspicious_login",
		UserID:        "acc-1",
		Email:         "alice@example.com",
		IPAddress:     "203.0.113.7",
		FailureReason: "login_throttled",
	})

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "audit", record["msg"])
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "security", record["audit_type"])
	assert.Equal(t, "a****@*******.com", record["email"])
	assert.Equal(t, "login_throttled", record["failure_reason"])
}

func TestAuditLogger_SuccessIsInfo(t *testing.T) {
	var buf bytes.Buffer
	audit := logger.NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	audit.LogAccountAction(context.Background(), "account_deleted", "acc-1", "", map[string]string{"method": "password"})

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "INFO", record["level"])
	assert.Equal(t, "password", record["method"])
}
