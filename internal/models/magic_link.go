package models

import "time"

// MagicLink is a single-use passwordless login token. Only the SHA-256 digest
// of the bearer token is stored.
type MagicLink struct {
	ID        string
	Email     string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsUsed checks if the link has already been redeemed
func (m *MagicLink) IsUsed() bool {
	return m.UsedAt != nil
}

// IsValidAt reports whether the link can still be redeemed at the given instant.
func (m *MagicLink) IsValidAt(now time.Time) bool {
	return !m.IsUsed() && now.Before(m.ExpiresAt)
}
