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

// MagicLinkRequestedMessage is the only response a link request ever produces
const MagicLinkRequestedMessage = "If an account exists with this email, you will receive a magic link."

// MagicLinkService issues and redeems single-use passwordless login tokens.
// Only the SHA-256 digest of a token is stored.
type MagicLinkService struct {
	links    MagicLinkRepository
	accounts AccountRepository
	mailer   Mailer
	timing   *auth.TimingDelay
	baseURL  string
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewMagicLinkService creates a new MagicLinkService. timing pads every link
// request to the same floor whether or not the account exists.
func NewMagicLinkService(
	links MagicLinkRepository,
	accounts AccountRepository,
	mailer Mailer,
	timing *auth.TimingDelay,
	baseURL string,
	ttl time.Duration,
	logger *slog.Logger,
) *MagicLinkService {
	return &MagicLinkService{
		links:    links,
		accounts: accounts,
		mailer:   mailer,
		timing:   timing,
		baseURL:  baseURL,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Issue invalidates every unused token for email and returns a new one that
// expires after the configured TTL.
func (s *MagicLinkService) Issue(ctx context.Context, email string) (string, error) {
	token, err := pkgauth.GenerateToken()
	if err != nil {
		return "", err
	}

	expiresAt := s.now().Add(s.ttl)
	if _, err := s.links.Replace(ctx, email, pkgauth.HashToken(token), expiresAt); err != nil {
		s.logger.Error("failed to store magic link",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return "", err
	}

	return token, nil
}

// RequestLink issues and emails a link when an account exists for email. The
// caller always answers with MagicLinkRequestedMessage; only storage outages
// surface as errors.
func (s *MagicLinkService) RequestLink(ctx context.Context, email string) error {
	start := time.Now()
	defer s.timing.WaitFrom(start)

	email = models.NormalizeEmail(email)

	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Error("failed to look up account for magic link", slog.Any("error", err))
		return fmt.Errorf("failed to look up account: %w", err)
	}

	token, err := s.Issue(ctx, account.Email)
	if err != nil {
		return err
	}

	s.mailer.Enqueue(TemplateMagicLink, account.Email, map[string]string{
		"url":        s.baseURL + "/auth/magic-link/" + url.PathEscape(token),
		"expires_in": formatTTL(s.ttl),
	})

	return nil
}

// Redeem consumes token and returns the account it authenticates. A second
// redemption of the same token always fails with ErrInvalidOrExpiredToken.
func (s *MagicLinkService) Redeem(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", models.ErrInvalidOrExpiredToken
	}

	now := s.now()

	link, err := s.links.GetByTokenHash(ctx, pkgauth.HashToken(token))
	if errors.Is(err, models.ErrNotFound) {
		return "", models.ErrInvalidOrExpiredToken
	}
	if err != nil {
		s.logger.Error("failed to look up magic link", slog.Any("error", err))
		return "", fmt.Errorf("failed to look up magic link: %w", err)
	}
	if !link.IsValidAt(now) {
		return "", models.ErrInvalidOrExpiredToken
	}

	account, err := s.accounts.GetByEmail(ctx, link.Email)
	if errors.Is(err, models.ErrNotFound) {
		return "", models.ErrAccountNotFound
	}
	if err != nil {
		s.logger.Error("failed to look up account for magic link",
			slog.String("magic_link_id", link.ID),
			slog.Any("error", err))
		return "", fmt.Errorf("failed to look up account: %w", err)
	}

	// conditional update, a concurrent redemption loses here
	if err := s.links.MarkUsed(ctx, link.ID, now); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", models.ErrInvalidOrExpiredToken
		}
		s.logger.Error("failed to mark magic link used",
			slog.String("magic_link_id", link.ID),
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return "", err
	}

	return account.ID, nil
}

func formatTTL(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	case d >= time.Minute:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}
