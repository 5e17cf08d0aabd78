package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/session"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
)

var (
	secondFactorShape = regexp.MustCompile(`^[A-Za-z0-9]{6,}$`)
	totpCodeShape     = regexp.MustCompile(`^[0-9]{6}$`)
)

// AuthOrchestrator is the login state machine. A verified first factor either
// establishes the session directly or parks it in a pending second factor
// challenge; only a valid TOTP or recovery code completes the login.
//
// All state lives on the *session.Session handle passed to each call.
type AuthOrchestrator struct {
	accounts     AccountRepository
	sessions     SessionManager
	totp         *auth.TOTPManager
	vault        *RecoveryCodeVault
	box          *auth.SecretBox
	hasher       *pkgauth.PasswordHasher
	throttle     *Throttle
	events       SecurityEventSink
	challengeTTL time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewAuthOrchestrator creates a new AuthOrchestrator. throttle limits second
// factor attempts per account.
func NewAuthOrchestrator(
	accounts AccountRepository,
	sessions SessionManager,
	totp *auth.TOTPManager,
	vault *RecoveryCodeVault,
	box *auth.SecretBox,
	hasher *pkgauth.PasswordHasher,
	throttle *Throttle,
	events SecurityEventSink,
	challengeTTL time.Duration,
	logger *slog.Logger,
) *AuthOrchestrator {
	return &AuthOrchestrator{
		accounts:     accounts,
		sessions:     sessions,
		totp:         totp,
		vault:        vault,
		box:          box,
		hasher:       hasher,
		throttle:     throttle,
		events:       events,
		challengeTTL: challengeTTL,
		logger:       logger,
		now:          time.Now,
	}
}

// CompleteFirstFactor moves a session past a verified first factor.
func (o *AuthOrchestrator) CompleteFirstFactor(ctx context.Context, sess *session.Session, factor models.FirstFactor) (*models.LoginResult, error) {
	account, err := o.loadAccount(ctx, factor.AccountID, "complete first factor")
	if err != nil {
		return nil, err
	}

	if !account.RequiresSecondFactor() {
		if err := o.sessions.Establish(ctx, sess, account.ID, factor.Remember, factor.Method); err != nil {
			o.logStorageError("establish session", account.ID, err)
			return nil, fmt.Errorf("failed to establish session: %w", err)
		}
		return &models.LoginResult{State: models.LoginStateEstablished, AccountID: account.ID}, nil
	}

	// A half-authenticated browser must not keep an earlier login. Destroy also
	// moves the handle to a fresh id.
	if err := o.sessions.Destroy(ctx, sess); err != nil {
		o.logStorageError("destroy session", account.ID, err)
		return nil, fmt.Errorf("failed to reset session: %w", err)
	}

	sess.PendingChallenge = &session.PendingTwoFactorChallenge{
		AccountID: account.ID,
		Remember:  factor.Remember,
		Method:    factor.Method,
		ExpiresAt: o.now().Add(o.challengeTTL).UTC(),
	}
	if err := o.sessions.Save(ctx, sess); err != nil {
		o.logStorageError("save pending challenge", account.ID, err)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return &models.LoginResult{State: models.LoginStateAwaitingSecondFactor}, nil
}

// VerifySecondFactor completes a pending challenge with a TOTP code (exactly
// six digits) or a recovery code (any other alphanumeric code of six or more
// characters). Every rejection is ErrInvalidSecondFactor regardless of the kind
// of code that was tried.
func (o *AuthOrchestrator) VerifySecondFactor(ctx context.Context, sess *session.Session, code string, client models.ClientInfo) (*models.LoginResult, error) {
	challenge := sess.PendingChallenge
	if challenge == nil {
		return nil, models.ErrNoPendingChallenge
	}
	if challenge.IsExpiredAt(o.now()) {
		sess.PendingChallenge = nil
		if err := o.sessions.Save(ctx, sess); err != nil {
			o.logStorageError("clear expired challenge", challenge.AccountID, err)
		}
		return nil, models.ErrNoPendingChallenge
	}

	key := SecondFactorThrottleKey(challenge.AccountID)
	attempts, err := o.throttle.Attempt(ctx, key)
	if err != nil {
		if !errors.Is(err, models.ErrRateLimited) {
			o.logStorageError("reserve second factor attempt", challenge.AccountID, err)
		}
		return nil, err
	}

	ok, usedRecoveryCode, err := o.checkSecondFactor(ctx, challenge.AccountID, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if !ok {
		if attempts == o.throttle.MaxAttempts() {
			o.emitSuspicious(ctx, challenge.AccountID, models.ReasonSecondFactorThrottled, client)
		}
		return nil, models.ErrInvalidSecondFactor
	}

	if err := o.throttle.Clear(ctx, key); err != nil {
		o.logStorageError("clear second factor throttle", challenge.AccountID, err)
		return nil, err
	}
	if usedRecoveryCode {
		o.emitSuspicious(ctx, challenge.AccountID, models.ReasonRecoveryCodeUsed, client)
	}

	if err := o.sessions.Establish(ctx, sess, challenge.AccountID, challenge.Remember, challenge.Method); err != nil {
		o.logStorageError("establish session", challenge.AccountID, err)
		return nil, fmt.Errorf("failed to establish session: %w", err)
	}

	return &models.LoginResult{State: models.LoginStateEstablished, AccountID: sess.AccountID}, nil
}

// checkSecondFactor reports whether code is valid for the account and whether
// a recovery code was spent.
func (o *AuthOrchestrator) checkSecondFactor(ctx context.Context, accountID, code string) (bool, bool, error) {
	if !secondFactorShape.MatchString(code) {
		return false, false, nil
	}

	account, err := o.accounts.GetByID(ctx, accountID)
	if errors.Is(err, models.ErrNotFound) {
		return false, false, nil
	}
	if err != nil {
		o.logStorageError("load account", accountID, err)
		return false, false, fmt.Errorf("failed to load account: %w", err)
	}
	if !account.RequiresSecondFactor() {
		return false, false, nil
	}

	if totpCodeShape.MatchString(code) {
		valid, err := o.verifyTOTP(account, code)
		return valid, false, err
	}

	consumed, err := o.vault.Consume(ctx, account.ID, code)
	return consumed, consumed, err
}

func (o *AuthOrchestrator) verifyTOTP(account models.SecondFactorCapable, code string) (bool, error) {
	secret, err := o.box.Open(account.SealedTwoFactorSecret())
	if err != nil {
		return false, fmt.Errorf("failed to open two factor secret: %w", err)
	}
	return o.totp.Verify(secret, code), nil
}

// Logout destroys the server side session
func (o *AuthOrchestrator) Logout(ctx context.Context, sess *session.Session) error {
	accountID := sess.AccountID
	if err := o.sessions.Destroy(ctx, sess); err != nil {
		o.logStorageError("logout", accountID, err)
		return err
	}
	return nil
}

func (o *AuthOrchestrator) loadAccount(ctx context.Context, accountID, operation string) (*models.Account, error) {
	account, err := o.accounts.GetByID(ctx, accountID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		o.logStorageError(operation, accountID, err)
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return account, nil
}

func (o *AuthOrchestrator) emitSuspicious(ctx context.Context, accountID, reason string, client models.ClientInfo) {
	event := models.NewSecurityEvent(models.EventSuspiciousLogin, accountID, client)
	event.Reason = reason
	o.events.Emit(ctx, event)
}

func (o *AuthOrchestrator) logStorageError(operation, accountID string, err error) {
	o.logger.Error("auth storage failure",
		slog.String("operation", operation),
		slog.String("account_id", accountID),
		slog.Any("error", err))
}
