package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/BradenHooton/warden/internal/models"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEventStore struct {
	events []models.SecurityEvent
	err    error
}

func (s *recordingEventStore) Create(ctx context.Context, event models.SecurityEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func TestAuditService_EmitStoresAndLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	store := &recordingEventStore{}
	svc := NewAuditService(pkglogger.NewAuditLogger(logger), store, logger)

	event := models.NewSecurityEvent(models.EventSuspiciousLogin, "acc-1", models.ClientInfo{IPAddress: "203.0.113.10"})
	event.Reason = models.ReasonRecoveryCodeUsed
	svc.Emit(context.Background(), event)

	require.Len(t, store.events, 1)
	assert.Equal(t, event, store.events[0])
	assert.Contains(t, buf.String(), `"event_type":"suspicious_login"`)
	assert.Contains(t, buf.String(), `"failure_reason":"recovery_code_used"`)
}

func TestAuditService_StoreFailureIsOnlyLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	store := &recordingEventStore{err: errors.New("connection refused")}
	svc := NewAuditService(pkglogger.NewAuditLogger(logger), store, logger)

	svc.Emit(context.Background(), models.NewSecurityEvent(models.EventPasswordChanged, "acc-1", models.ClientInfo{}))

	assert.Contains(t, buf.String(), "failed to store security event")
	assert.Contains(t, buf.String(), `"event_type":"password_changed"`, "the audit log line is still written")
}

func TestAuditService_WithoutStore(t *testing.T) {
	svc := NewAuditService(pkglogger.NewAuditLogger(testLogger()), nil, testLogger())

	assert.NotPanics(t, func() {
		svc.Emit(context.Background(), models.NewSecurityEvent(models.EventTwoFactorEnabled, "acc-1", models.ClientInfo{}))
	})
}
