package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// PasswordVerifier checks email and password pairs. It never establishes a
// session itself; the caller hands the account id to the AuthOrchestrator.
type PasswordVerifier struct {
	accounts AccountRepository
	hasher   *pkgauth.PasswordHasher
	throttle *Throttle
	timing   *auth.TimingDelay
	events   SecurityEventSink
	logger   *slog.Logger
}

// NewPasswordVerifier creates a new PasswordVerifier
func NewPasswordVerifier(
	accounts AccountRepository,
	hasher *pkgauth.PasswordHasher,
	throttle *Throttle,
	timing *auth.TimingDelay,
	events SecurityEventSink,
	logger *slog.Logger,
) *PasswordVerifier {
	return &PasswordVerifier{
		accounts: accounts,
		hasher:   hasher,
		throttle: throttle,
		timing:   timing,
		events:   events,
		logger:   logger,
	}
}

// Authenticate returns the account id for a matching email and password.
//
// Every call first reserves an attempt on the (email, ip) key; a spent budget
// fails with a RateLimitedError before the account store is read. An unknown
// email and a wrong password both fail with ErrInvalidCredentials after the
// same padded delay. Success clears the key.
func (v *PasswordVerifier) Authenticate(ctx context.Context, email, password string, client models.ClientInfo) (string, error) {
	key := ThrottleKey(email, client.IPAddress)
	attempts, err := v.throttle.Attempt(ctx, key)
	if err != nil {
		if errors.Is(err, models.ErrRateLimited) {
			v.logger.Warn("login throttled",
				slog.String("email", pkglogger.SanitizedEmail(email)),
				slog.String("ip_address", client.IPAddress))
		} else {
			v.logger.Error("failed to reserve login attempt", slog.Any("error", err))
		}
		return "", err
	}

	start := time.Now()

	account, err := v.accounts.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		v.logger.Error("failed to look up account",
			slog.String("operation", "authenticate"),
			slog.Any("error", err))
		return "", fmt.Errorf("failed to look up account: %w", err)
	}

	if account == nil {
		// burn a bcrypt comparison so an unknown email costs the same
		v.hasher.Compare("", password)
		return "", v.reject(ctx, attempts, "", email, client, start)
	}
	if !matchesPassword(v.hasher, account, password) {
		return "", v.reject(ctx, attempts, account.ID, email, client, start)
	}

	if err := v.throttle.Clear(ctx, key); err != nil {
		v.logger.Error("failed to clear login throttle",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return "", err
	}

	return account.ID, nil
}

// reject reports the failure. The attempt was already counted, the call that
// spends the last one raises SuspiciousLogin.
func (v *PasswordVerifier) reject(ctx context.Context, attempts int, accountID, email string, client models.ClientInfo, start time.Time) error {
	if attempts == v.throttle.MaxAttempts() {
		event := models.NewSecurityEvent(models.EventSuspiciousLogin, accountID, client)
		event.Email = email
		event.Reason = models.ReasonLoginThrottled
		v.events.Emit(ctx, event)
	}

	v.timing.WaitFrom(start)
	return models.ErrInvalidCredentials
}

// reprovePassword checks the signed in owner's current password before a
// sensitive change. Each proof takes an attempt on the account's reauth key and
// a correct password clears it.
func reprovePassword(ctx context.Context, throttle *Throttle, hasher *pkgauth.PasswordHasher, account *models.Account, password string) error {
	key := ReauthThrottleKey(account.ID)
	if _, err := throttle.Attempt(ctx, key); err != nil {
		return err
	}
	if !matchesPassword(hasher, account, password) {
		return models.ErrInvalidCredentials
	}
	return throttle.Clear(ctx, key)
}

// matchesPassword compares against the stored digest. Accounts without a
// password never match.
func matchesPassword(hasher *pkgauth.PasswordHasher, account models.Credentialed, password string) bool {
	if !account.HasPassword() {
		hasher.Compare("", password)
		return false
	}
	return hasher.Compare(account.PasswordDigest(), password)
}
