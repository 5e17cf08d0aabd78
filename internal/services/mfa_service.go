package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/session"
)

// BeginTwoFactorSetup issues a new secret for the signed in account and keeps
// it, sealed and uncommitted, on the session until a code confirms it.
func (o *AuthOrchestrator) BeginTwoFactorSetup(ctx context.Context, sess *session.Session) (*models.TwoFactorSetup, error) {
	if !sess.IsAuthenticated() {
		return nil, models.ErrUnauthorized
	}

	account, err := o.loadAccount(ctx, sess.AccountID, "begin two factor setup")
	if err != nil {
		return nil, err
	}
	if account.TwoFactorEnabled {
		return nil, models.ErrSecondFactorAlreadyEnabled
	}

	secret, err := o.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	uri, err := o.totp.ProvisioningURI(o.totp.Issuer(), account.Email, secret)
	if err != nil {
		return nil, err
	}
	qrCode, err := o.totp.QRCodeDataURL(uri)
	if err != nil {
		return nil, err
	}
	sealed, err := o.box.Seal(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to seal two factor secret: %w", err)
	}

	sess.PendingSetup = &session.PendingTwoFactorSetup{
		SealedSecret: sealed,
		IssuedAt:     o.now().UTC(),
	}
	if err := o.sessions.Save(ctx, sess); err != nil {
		o.logStorageError("save pending setup", account.ID, err)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	o.logger.Info("two factor setup started", slog.String("account_id", account.ID))

	return &models.TwoFactorSetup{
		Secret:          secret,
		ProvisioningURI: uri,
		QRCode:          qrCode,
	}, nil
}

// ConfirmTwoFactorSetup verifies code against the uncommitted secret. Only on
// success are the secret, fresh recovery codes and the enabled flag written,
// in one statement. The plaintext recovery codes are returned once.
func (o *AuthOrchestrator) ConfirmTwoFactorSetup(ctx context.Context, sess *session.Session, code string, client models.ClientInfo) ([]string, error) {
	if !sess.IsAuthenticated() {
		return nil, models.ErrUnauthorized
	}
	setup := sess.PendingSetup
	if setup == nil {
		return nil, models.ErrSecondFactorSetupNotStarted
	}

	key := SecondFactorThrottleKey(sess.AccountID)
	if _, err := o.throttle.Attempt(ctx, key); err != nil {
		return nil, err
	}

	secret, err := o.box.Open(setup.SealedSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to open pending secret: %w", err)
	}
	if !o.totp.Verify(secret, strings.TrimSpace(code)) {
		return nil, models.ErrInvalidSecondFactor
	}

	codes, hashes, err := o.vault.Generate()
	if err != nil {
		return nil, err
	}

	if err := o.accounts.EnableTwoFactor(ctx, sess.AccountID, setup.SealedSecret, hashes); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrSecondFactorAlreadyEnabled
		}
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrAccountNotFound
		}
		o.logStorageError("enable two factor", sess.AccountID, err)
		return nil, err
	}

	sess.PendingSetup = nil
	if err := o.sessions.Save(ctx, sess); err != nil {
		o.logStorageError("clear pending setup", sess.AccountID, err)
	}
	if err := o.throttle.Clear(ctx, key); err != nil {
		o.logStorageError("clear second factor throttle", sess.AccountID, err)
	}

	o.events.Emit(ctx, models.NewSecurityEvent(models.EventTwoFactorEnabled, sess.AccountID, client))

	return codes, nil
}

// DisableTwoFactor requires the current password. Secret, recovery codes and
// flag are cleared together.
func (o *AuthOrchestrator) DisableTwoFactor(ctx context.Context, sess *session.Session, password string, client models.ClientInfo) error {
	if !sess.IsAuthenticated() {
		return models.ErrUnauthorized
	}

	account, err := o.loadAccount(ctx, sess.AccountID, "disable two factor")
	if err != nil {
		return err
	}
	if !account.TwoFactorEnabled {
		return models.ErrSecondFactorNotEnabled
	}
	if err := reprovePassword(ctx, o.throttle, o.hasher, account, password); err != nil {
		if !errors.Is(err, models.ErrInvalidCredentials) && !errors.Is(err, models.ErrRateLimited) {
			o.logStorageError("reprove password", account.ID, err)
		}
		return err
	}

	if err := o.accounts.DisableTwoFactor(ctx, account.ID); err != nil {
		o.logStorageError("disable two factor", account.ID, err)
		return err
	}

	o.events.Emit(ctx, models.NewSecurityEvent(models.EventTwoFactorDisabled, account.ID, client))

	return nil
}

// TwoFactorStatus reports whether the second factor is on and how many
// recovery codes remain.
func (o *AuthOrchestrator) TwoFactorStatus(ctx context.Context, accountID string) (*models.TwoFactorStatus, error) {
	account, err := o.loadAccount(ctx, accountID, "two factor status")
	if err != nil {
		return nil, err
	}
	return twoFactorStatus(account), nil
}

func twoFactorStatus(account models.SecondFactorCapable) *models.TwoFactorStatus {
	return &models.TwoFactorStatus{
		Enabled:                account.RequiresSecondFactor(),
		RemainingRecoveryCodes: account.RemainingRecoveryCodes(),
	}
}
