package models

import "time"

// PasswordResetToken authorizes one password change for an account. Only the
// digest of the emailed token is stored.
type PasswordResetToken struct {
	ID        string
	AccountID string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsValidAt reports whether the token is unused and unexpired at now.
func (t *PasswordResetToken) IsValidAt(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
