package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// EmailVerificationService handles email verification business logic
type EmailVerificationService struct {
	tokens   EmailVerificationRepository
	accounts AccountRepository
	mailer   Mailer
	throttle *Throttle
	baseURL  string
	tokenTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewEmailVerificationService creates a new EmailVerificationService. throttle
// limits resends per account.
func NewEmailVerificationService(
	tokens EmailVerificationRepository,
	accounts AccountRepository,
	mailer Mailer,
	throttle *Throttle,
	baseURL string,
	tokenTTL time.Duration,
	logger *slog.Logger,
) *EmailVerificationService {
	return &EmailVerificationService{
		tokens:   tokens,
		accounts: accounts,
		mailer:   mailer,
		throttle: throttle,
		baseURL:  baseURL,
		tokenTTL: tokenTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Send replaces any outstanding token for the account and emails a new link
func (s *EmailVerificationService) Send(ctx context.Context, accountID, email string) error {
	token, err := pkgauth.GenerateToken()
	if err != nil {
		return err
	}

	expiresAt := s.now().Add(s.tokenTTL)
	if _, err := s.tokens.Create(ctx, accountID, pkgauth.HashToken(token), email, expiresAt); err != nil {
		s.logger.Error("failed to create email verification token",
			slog.String("account_id", accountID),
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to create verification token: %w", err)
	}

	s.mailer.Enqueue(TemplateVerifyEmail, email, map[string]string{
		"url":        s.baseURL + "/auth/verify-email?token=" + url.QueryEscape(token),
		"expires_in": formatTTL(s.tokenTTL),
	})

	return nil
}

// Verify consumes token and marks the account's email as verified. A token
// issued for an address the account no longer uses is rejected.
func (s *EmailVerificationService) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", models.ErrInvalidOrExpiredToken
	}

	record, err := s.tokens.GetByTokenHash(ctx, pkgauth.HashToken(token))
	if errors.Is(err, models.ErrNotFound) {
		return "", models.ErrInvalidOrExpiredToken
	}
	if err != nil {
		s.logger.Error("failed to look up verification token", slog.Any("error", err))
		return "", fmt.Errorf("failed to look up verification token: %w", err)
	}
	if !record.IsValidAt(s.now()) {
		return "", models.ErrInvalidOrExpiredToken
	}

	account, err := s.accounts.GetByID(ctx, record.AccountID)
	if errors.Is(err, models.ErrNotFound) {
		return "", models.ErrAccountNotFound
	}
	if err != nil {
		s.logger.Error("failed to load account for verification",
			slog.String("account_id", record.AccountID),
			slog.Any("error", err))
		return "", fmt.Errorf("failed to load account: %w", err)
	}
	if account.Email != models.NormalizeEmail(record.Email) {
		return "", models.ErrInvalidOrExpiredToken
	}

	if err := s.tokens.MarkAsUsed(ctx, record.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", models.ErrInvalidOrExpiredToken
		}
		s.logger.Error("failed to mark verification token used",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return "", err
	}

	if err := s.accounts.MarkEmailVerified(ctx, account.ID); err != nil {
		s.logger.Error("failed to mark email verified",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return "", err
	}

	s.logger.Info("email verified", slog.String("account_id", account.ID))
	return account.ID, nil
}

// Resend emails a new link unless the email is already verified. Resends are
// throttled per account.
func (s *EmailVerificationService) Resend(ctx context.Context, accountID string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if account.IsEmailVerified() {
		return nil
	}

	if _, err := s.throttle.Attempt(ctx, VerificationThrottleKey(accountID)); err != nil {
		return err
	}

	return s.Send(ctx, account.ID, account.Email)
}
