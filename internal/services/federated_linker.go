package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// FederatedLinker maps an identity returned by an OAuth provider onto a local
// account. Provider tokens are sealed before they reach storage.
type FederatedLinker struct {
	accounts AccountRepository
	hasher   *pkgauth.PasswordHasher
	box      *auth.SecretBox
	logger   *slog.Logger
	now      func() time.Time
}

func NewFederatedLinker(accounts AccountRepository, hasher *pkgauth.PasswordHasher, box *auth.SecretBox, logger *slog.Logger) *FederatedLinker {
	return &FederatedLinker{
		accounts: accounts,
		hasher:   hasher,
		box:      box,
		logger:   logger,
		now:      time.Now,
	}
}

// Resolve returns the local account for identity.
//
// A known (provider, external id) pair gets its tokens refreshed. Otherwise an
// account with the same email is linked to the provider, trusting the
// provider's email verification. Otherwise a new account is created with an
// unusable password and a pre-verified email. A create that loses a race to a
// concurrent login for the same identity or email links to the winner.
func (l *FederatedLinker) Resolve(ctx context.Context, identity models.ExternalIdentity) (string, error) {
	accessToken, refreshToken, err := l.sealTokens(identity)
	if err != nil {
		return "", err
	}

	email := models.NormalizeEmail(identity.Email)
	link := models.ProviderLink{
		Provider:     identity.Provider,
		ExternalID:   identity.ExternalID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}

	accountID, err := l.linkExisting(ctx, identity, email, link)
	if err == nil || !errors.Is(err, models.ErrNotFound) {
		return accountID, err
	}
	if email == "" {
		return "", models.ErrProviderEmailMissing
	}

	placeholder, err := l.hasher.UnusableHash()
	if err != nil {
		return "", err
	}

	verifiedAt := l.now().UTC()
	created, err := l.accounts.Create(ctx, &models.Account{
		Email:           email,
		Name:            displayName(identity),
		PasswordHash:    placeholder,
		EmailVerifiedAt: &verifiedAt,
		Provider:        &link,
		AvatarURL:       identity.AvatarURL,
	})
	if errors.Is(err, models.ErrConflict) {
		l.logger.Info("federated account created concurrently, linking",
			slog.String("provider", identity.Provider),
			slog.String("email", pkglogger.SanitizedEmail(email)))
		accountID, err := l.linkExisting(ctx, identity, email, link)
		if errors.Is(err, models.ErrNotFound) {
			return "", models.ErrConflict
		}
		return accountID, err
	}
	if err != nil {
		l.logError("create federated account", "", identity.Provider, err)
		return "", err
	}

	l.logger.Info("account created from provider",
		slog.String("account_id", created.ID),
		slog.String("provider", identity.Provider),
		slog.String("email", pkglogger.SanitizedEmail(email)))

	return created.ID, nil
}

// linkExisting refreshes a known identity or links the account owning email.
// It returns ErrNotFound when neither exists.
func (l *FederatedLinker) linkExisting(ctx context.Context, identity models.ExternalIdentity, email string, link models.ProviderLink) (string, error) {
	account, err := l.accounts.GetByProvider(ctx, identity.Provider, identity.ExternalID)
	switch {
	case err == nil:
		if err := l.accounts.RefreshProviderTokens(ctx, account.ID, link.AccessToken, link.RefreshToken, identity.AvatarURL); err != nil {
			l.logError("refresh provider tokens", account.ID, identity.Provider, err)
			return "", err
		}
		return account.ID, nil
	case !errors.Is(err, models.ErrNotFound):
		l.logError("look up account by provider", "", identity.Provider, err)
		return "", fmt.Errorf("failed to look up account by provider: %w", err)
	}

	if email == "" {
		return "", models.ErrNotFound
	}

	account, err = l.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if err := l.accounts.LinkProvider(ctx, account.ID, link, identity.AvatarURL); err != nil {
			l.logError("link provider", account.ID, identity.Provider, err)
			return "", err
		}
		l.logger.Info("provider linked to existing account",
			slog.String("account_id", account.ID),
			slog.String("provider", identity.Provider))
		return account.ID, nil
	case errors.Is(err, models.ErrNotFound):
		return "", models.ErrNotFound
	default:
		l.logError("look up account by email", "", identity.Provider, err)
		return "", fmt.Errorf("failed to look up account: %w", err)
	}
}

func (l *FederatedLinker) sealTokens(identity models.ExternalIdentity) (string, string, error) {
	access, err := l.box.Seal(identity.AccessToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to seal access token: %w", err)
	}
	refresh, err := l.box.Seal(identity.RefreshToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to seal refresh token: %w", err)
	}
	return access, refresh, nil
}

func (l *FederatedLinker) logError(operation, accountID, provider string, err error) {
	l.logger.Error("federated login failed",
		slog.String("operation", operation),
		slog.String("account_id", accountID),
		slog.String("provider", provider),
		slog.Any("error", err))
}

func displayName(identity models.ExternalIdentity) string {
	if name := strings.TrimSpace(identity.DisplayName); name != "" {
		return name
	}
	local, _, _ := strings.Cut(identity.Email, "@")
	return local
}
