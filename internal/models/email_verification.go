package models

import "time"

// EmailVerificationToken proves control of an email address. Like MagicLink,
// only the digest of the emailed token is persisted.
type EmailVerificationToken struct {
	ID        string
	AccountID string
	Email     string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsValidAt reports whether the token is unused and unexpired at now.
func (t *EmailVerificationToken) IsValidAt(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
