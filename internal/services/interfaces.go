package services

import (
	"context"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/session"
)

// AccountRepository defines the account storage operations used by the services
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByProvider(ctx context.Context, provider, externalID string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	UpdateProfile(ctx context.Context, id, name, email string) (*models.Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id string) error
	EnableTwoFactor(ctx context.Context, id, sealedSecret string, recoveryCodeHashes []string) error
	DisableTwoFactor(ctx context.Context, id string) error
	ConsumeRecoveryCode(ctx context.Context, id, codeHash string) (int, error)
	LinkProvider(ctx context.Context, id string, link models.ProviderLink, avatarURL string) error
	RefreshProviderTokens(ctx context.Context, id, accessToken, refreshToken, avatarURL string) error
	Delete(ctx context.Context, id string) error
}

// MagicLinkRepository defines storage for passwordless login tokens
type MagicLinkRepository interface {
	Replace(ctx context.Context, email, tokenHash string, expiresAt time.Time) (*models.MagicLink, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.MagicLink, error)
	MarkUsed(ctx context.Context, id string, now time.Time) error
}

// EmailVerificationRepository defines storage for email verification tokens
type EmailVerificationRepository interface {
	Create(ctx context.Context, accountID, tokenHash, email string, expiresAt time.Time) (*models.EmailVerificationToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error)
	MarkAsUsed(ctx context.Context, id string) error
}

// PasswordResetRepository defines storage for password reset tokens. Redeem
// consumes the token and stores the new hash atomically.
type PasswordResetRepository interface {
	Replace(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error)
	Redeem(ctx context.Context, id, passwordHash string) (string, error)
}

// RateLimiter counts attempts per key inside a fixed window. Implementations
// must be linearizable through their storage (Redis or Postgres).
//
// Reserve records an attempt only while the key is under maxAttempts and
// reports whether it did, in one atomic step.
type RateLimiter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int, error)
	Reserve(ctx context.Context, key string, maxAttempts int, window time.Duration) (int, bool, error)
	TooManyAttempts(ctx context.Context, key string, maxAttempts int) (bool, error)
	AvailableIn(ctx context.Context, key string) (time.Duration, error)
	Clear(ctx context.Context, key string) error
}

// SessionManager provides the session primitives used by the login flow
type SessionManager interface {
	Save(ctx context.Context, s *session.Session) error
	Establish(ctx context.Context, s *session.Session, accountID string, remember bool, method string) error
	Destroy(ctx context.Context, s *session.Session) error
	DestroyAll(ctx context.Context, accountID string) (int, error)
}

// SecurityEventSink receives security relevant state changes
type SecurityEventSink interface {
	Emit(ctx context.Context, event models.SecurityEvent)
}

// SecurityEventStore persists the security event trail
type SecurityEventStore interface {
	Create(ctx context.Context, event models.SecurityEvent) error
}

// BreachChecker reports how often a password appears in known breaches.
// Implementations fail open and return 0 when the lookup is unavailable.
type BreachChecker interface {
	CountBreaches(ctx context.Context, password string) int
}

// Mailer queues a templated email for delivery without blocking the caller
type Mailer interface {
	Enqueue(templateID, recipient string, vars map[string]string)
}
