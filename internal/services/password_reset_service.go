package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// PasswordResetRequestedMessage is the only response a reset request produces
const PasswordResetRequestedMessage = "If an account exists with this email, you will receive a password reset link."

// PasswordResetService emails single-use reset links and applies the new
// password. A completed reset signs the account out everywhere.
type PasswordResetService struct {
	tokens   PasswordResetRepository
	accounts AccountRepository
	hasher   *pkgauth.PasswordHasher
	policy   passwordPolicy
	sessions SessionManager
	mailer   Mailer
	throttle *Throttle
	timing   *auth.TimingDelay
	events   SecurityEventSink
	baseURL  string
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewPasswordResetService creates a new PasswordResetService. throttle limits
// reset emails per address; timing pads every request to the same floor.
func NewPasswordResetService(
	tokens PasswordResetRepository,
	accounts AccountRepository,
	hasher *pkgauth.PasswordHasher,
	breach BreachChecker,
	breachThreshold int,
	sessions SessionManager,
	mailer Mailer,
	throttle *Throttle,
	timing *auth.TimingDelay,
	events SecurityEventSink,
	baseURL string,
	ttl time.Duration,
	logger *slog.Logger,
) *PasswordResetService {
	return &PasswordResetService{
		tokens:   tokens,
		accounts: accounts,
		hasher:   hasher,
		policy:   passwordPolicy{breach: breach, threshold: breachThreshold, logger: logger},
		sessions: sessions,
		mailer:   mailer,
		throttle: throttle,
		timing:   timing,
		events:   events,
		baseURL:  baseURL,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// RequestReset emails a reset link when an account exists for email. The
// caller always answers with PasswordResetRequestedMessage; throttling and
// storage outages are the only errors.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)

	if _, err := s.throttle.Attempt(ctx, PasswordResetThrottleKey(email)); err != nil {
		if !errors.Is(err, models.ErrRateLimited) {
			s.logger.Error("failed to reserve password reset attempt", slog.Any("error", err))
		}
		return err
	}

	start := time.Now()
	defer s.timing.WaitFrom(start)

	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Error("failed to look up account for password reset", slog.Any("error", err))
		return fmt.Errorf("failed to look up account: %w", err)
	}

	token, err := pkgauth.GenerateToken()
	if err != nil {
		return err
	}
	if _, err := s.tokens.Replace(ctx, account.ID, pkgauth.HashToken(token), s.now().Add(s.ttl)); err != nil {
		s.logger.Error("failed to store password reset token",
			slog.String("account_id", account.ID),
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return err
	}

	s.mailer.Enqueue(TemplatePasswordReset, account.Email, map[string]string{
		"url":        s.baseURL + "/auth/reset-password?token=" + url.QueryEscape(token),
		"expires_in": formatTTL(s.ttl),
	})

	return nil
}

// ResetPassword checks the new password, consumes token and stores the new
// hash, then destroys every session of the account. The token survives a
// rejected password so the owner can try again.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string, client models.ClientInfo) error {
	if token == "" {
		return models.ErrInvalidOrExpiredToken
	}

	record, err := s.tokens.GetByTokenHash(ctx, pkgauth.HashToken(token))
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrInvalidOrExpiredToken
	}
	if err != nil {
		s.logger.Error("failed to look up password reset token", slog.Any("error", err))
		return fmt.Errorf("failed to look up password reset token: %w", err)
	}
	if !record.IsValidAt(s.now()) {
		return models.ErrInvalidOrExpiredToken
	}

	if err := s.policy.check(ctx, newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return err
	}

	// conditional update, a concurrent reset with the same token loses here
	accountID, err := s.tokens.Redeem(ctx, record.ID, hash)
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrInvalidOrExpiredToken
	}
	if err != nil {
		s.logger.Error("failed to redeem password reset token",
			slog.String("account_id", record.AccountID),
			slog.Any("error", err))
		return err
	}

	ended, err := s.sessions.DestroyAll(ctx, accountID)
	if err != nil {
		s.logger.Error("failed to end sessions after password reset",
			slog.String("account_id", accountID),
			slog.Any("error", err))
		return err
	}

	s.events.Emit(ctx, models.NewSecurityEvent(models.EventPasswordChanged, accountID, client))
	s.logger.Info("password reset",
		slog.String("account_id", accountID),
		slog.Int("sessions_ended", ended))

	return nil
}
