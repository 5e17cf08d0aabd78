package models

import "time"

// SecurityEventType names an event emitted to the security event sink.
type SecurityEventType string

const (
	EventTwoFactorEnabled  SecurityEventType = "two_factor_enabled"
	EventTwoFactorDisabled SecurityEventType = "two_factor_disabled"
	EventPasswordChanged   SecurityEventType = "password_changed"
	EventSuspiciousLogin   SecurityEventType = "suspicious_login"
)

// Reasons attached to EventSuspiciousLogin.
const (
	ReasonLoginThrottled        = "login_throttled"
	ReasonSecondFactorThrottled = "second_factor_throttled"
	ReasonRecoveryCodeUsed      = "recovery_code_used"
)

// ClientInfo describes the request that triggered an operation.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// SecurityEvent is a security-relevant state change. It never carries secrets.
type SecurityEvent struct {
	Type       SecurityEventType
	AccountID  string
	Email      string
	IPAddress  string
	UserAgent  string
	Reason     string
	OccurredAt time.Time
}

// NewSecurityEvent stamps an event with client details and the current time.
func NewSecurityEvent(eventType SecurityEventType, accountID string, client ClientInfo) SecurityEvent {
	return SecurityEvent{
		Type:       eventType,
		AccountID:  accountID,
		IPAddress:  client.IPAddress,
		UserAgent:  client.UserAgent,
		OccurredAt: time.Now().UTC(),
	}
}

// SecurityEventRecord is a stored SecurityEvent
type SecurityEventRecord struct {
	ID string
	SecurityEvent
}
