// Package session holds the server-side session state that the login flow
// reads and writes. Sessions live in Redis and are addressed by an opaque
// random id carried in a cookie.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// Session is the explicit session-context handle passed to the orchestrator.
type Session struct {
	ID               string                     `json:"-"`
	AccountID        string                     `json:"account_id,omitempty"`
	Remember         bool                       `json:"remember,omitempty"`
	Method           string                     `json:"method,omitempty"`
	AuthenticatedAt  *time.Time                 `json:"authenticated_at,omitempty"`
	PendingChallenge *PendingTwoFactorChallenge `json:"pending_challenge,omitempty"`
	PendingSetup     *PendingTwoFactorSetup     `json:"pending_setup,omitempty"`
	CreatedAt        time.Time                  `json:"created_at"`
}

// PendingTwoFactorChallenge exists only between first factor success and
// second factor success.
type PendingTwoFactorChallenge struct {
	AccountID string    `json:"account_id"`
	Remember  bool      `json:"remember"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PendingTwoFactorSetup is an issued but uncommitted second factor secret.
type PendingTwoFactorSetup struct {
	SealedSecret string    `json:"sealed_secret"`
	IssuedAt     time.Time `json:"issued_at"`
}

// IsAuthenticated reports whether the session is fully established.
func (s *Session) IsAuthenticated() bool {
	return s.AccountID != ""
}

// IsEmpty reports whether the session carries nothing worth persisting.
func (s *Session) IsEmpty() bool {
	return s.AccountID == "" && s.PendingChallenge == nil && s.PendingSetup == nil
}

func (c *PendingTwoFactorChallenge) IsExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// newID returns a 256-bit random session id.
func newID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
