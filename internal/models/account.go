package models

import (
	"strings"
	"time"
)

// Account is the persisted identity record. Behaviour lives in the services;
// the capability interfaces below expose the parts each service needs.
type Account struct {
	ID               string
	Email            string
	Name             string
	PasswordHash     string // empty when the account has no local password
	EmailVerifiedAt  *time.Time
	TwoFactorEnabled bool
	TwoFactorSecret  string   // sealed with auth.SecretBox, never the raw Base32 secret
	RecoveryCodes    []string // SHA-256 digests of the remaining recovery codes
	Provider         *ProviderLink
	AvatarURL        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProviderLink is the federated identity linked to an account. Tokens are sealed.
type ProviderLink struct {
	Provider     string
	ExternalID   string
	AccessToken  string
	RefreshToken string
}

// Credentialed is implemented by records that may carry a local password.
type Credentialed interface {
	HasPassword() bool
	PasswordDigest() string
}

// SecondFactorCapable is implemented by records that can require a second factor.
type SecondFactorCapable interface {
	RequiresSecondFactor() bool
	SealedTwoFactorSecret() string
	RemainingRecoveryCodes() int
}

// FederatedIdentity is implemented by records that can be linked to an OAuth provider.
type FederatedIdentity interface {
	LinkedProvider() *ProviderLink
}

var (
	_ Credentialed        = (*Account)(nil)
	_ SecondFactorCapable = (*Account)(nil)
	_ FederatedIdentity   = (*Account)(nil)
)

func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

func (a *Account) PasswordDigest() string {
	return a.PasswordHash
}

// RequiresSecondFactor reports whether login must stop at the second-factor challenge.
// An enabled flag without a stored secret is treated as disabled.
func (a *Account) RequiresSecondFactor() bool {
	return a.TwoFactorEnabled && a.TwoFactorSecret != ""
}

func (a *Account) SealedTwoFactorSecret() string {
	return a.TwoFactorSecret
}

func (a *Account) RemainingRecoveryCodes() int {
	return len(a.RecoveryCodes)
}

func (a *Account) LinkedProvider() *ProviderLink {
	return a.Provider
}

// IsEmailVerified reports whether the email address has been confirmed.
func (a *Account) IsEmailVerified() bool {
	return a.EmailVerifiedAt != nil
}

// NormalizeEmail returns the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AccountResponse is the public view of an account.
type AccountResponse struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	EmailVerifiedAt  *time.Time `json:"email_verified_at,omitempty"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	Provider         string     `json:"provider,omitempty"`
	AvatarURL        string     `json:"avatar_url,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ToResponse strips every confidential field.
func (a *Account) ToResponse() AccountResponse {
	resp := AccountResponse{
		ID:               a.ID,
		Email:            a.Email,
		Name:             a.Name,
		EmailVerifiedAt:  a.EmailVerifiedAt,
		TwoFactorEnabled: a.RequiresSecondFactor(),
		AvatarURL:        a.AvatarURL,
		CreatedAt:        a.CreatedAt,
	}
	if a.Provider != nil {
		resp.Provider = a.Provider.Provider
	}
	return resp
}
