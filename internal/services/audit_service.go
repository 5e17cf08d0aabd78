package services

import (
	"context"
	"log/slog"

	"github.com/BradenHooton/warden/internal/models"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// AuditService writes security events and account actions as structured
// audit log records. It is the production SecurityEventSink. Security events
// are also kept in store when one is configured.
type AuditService struct {
	audit  *pkglogger.AuditLogger
	store  SecurityEventStore
	logger *slog.Logger
}

// NewAuditService creates a new AuditService. store may be nil.
func NewAuditService(audit *pkglogger.AuditLogger, store SecurityEventStore, logger *slog.Logger) *AuditService {
	return &AuditService{audit: audit, store: store, logger: logger}
}

// Emit implements SecurityEventSink. SuspiciousLogin is recorded as a failure.
// A store failure is logged and never reaches the operation that emitted.
func (s *AuditService) Emit(ctx context.Context, event models.SecurityEvent) {
	if s.store != nil {
		if err := s.store.Create(ctx, event); err != nil {
			s.logger.Error("failed to store security event",
				slog.String("event_type", string(event.Type)),
				slog.String("account_id", event.AccountID),
				slog.Any("error", err))
		}
	}

	s.audit.LogSecurityEvent(ctx, pkglogger.AuditEvent{
		EventType:     string(event.Type),
		UserID:        event.AccountID,
		Email:         event.Email,
		IPAddress:     event.IPAddress,
		UserAgent:     event.UserAgent,
		Success:       event.Type != models.EventSuspiciousLogin,
		FailureReason: event.Reason,
		OccurredAt:    event.OccurredAt,
	})
}

// RecordLogin records the outcome of one login step
func (s *AuditService) RecordLogin(ctx context.Context, method, accountID, email string, client models.ClientInfo, loginErr error) {
	event := pkglogger.AuditEvent{
		EventType: "login",
		UserID:    accountID,
		Email:     email,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Success:   loginErr == nil,
		Metadata:  map[string]string{"method": method},
	}
	if loginErr != nil {
		event.FailureReason = loginErr.Error()
	}
	s.audit.LogAuthAttempt(ctx, event)
}

// RecordAccountAction records a change made by the account owner
func (s *AuditService) RecordAccountAction(ctx context.Context, action, accountID string, client models.ClientInfo) {
	s.audit.LogAccountAction(ctx, action, accountID, client.IPAddress, nil)
}
