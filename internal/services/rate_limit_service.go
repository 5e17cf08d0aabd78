package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/BradenHooton/warden/internal/models"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Throttle applies a fixed attempt budget per key on top of a RateLimiter.
// Every verification takes an attempt up front; success clears the key.
type Throttle struct {
	limiter     RateLimiter
	maxAttempts int
	decay       time.Duration
}

// NewThrottle creates a Throttle allowing maxAttempts hits per decay window
func NewThrottle(limiter RateLimiter, maxAttempts int, decay time.Duration) *Throttle {
	return &Throttle{
		limiter:     limiter,
		maxAttempts: maxAttempts,
		decay:       decay,
	}
}

func (t *Throttle) MaxAttempts() int {
	return t.maxAttempts
}

// Attempt reserves one attempt for key before the caller verifies anything
// and returns the attempt number inside the window. Once the budget is spent
// it returns a *models.RateLimitedError and records nothing, so concurrent
// callers can never get more than maxAttempts verifications per window.
func (t *Throttle) Attempt(ctx context.Context, key string) (int, error) {
	attempts, ok, err := t.limiter.Reserve(ctx, key, t.maxAttempts, t.decay)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve attempt: %w", err)
	}
	if ok {
		return attempts, nil
	}

	wait, err := t.limiter.AvailableIn(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read rate limit window: %w", err)
	}
	// The window can lapse between the two calls; report at least one second.
	if wait < time.Second {
		wait = time.Second
	}
	return 0, models.NewRateLimitedError(wait)
}

func (t *Throttle) Clear(ctx context.Context, key string) error {
	if err := t.limiter.Clear(ctx, key); err != nil {
		return fmt.Errorf("failed to clear rate limit: %w", err)
	}
	return nil
}

// ThrottleKey builds the login throttle key "<normalized email>|<ip>". The
// email is lower-cased and stripped of diacritics so visually equal addresses
// share one counter.
func ThrottleKey(email, ip string) string {
	return transliterate(models.NormalizeEmail(email)) + "|" + ip
}

// SecondFactorThrottleKey is the per-account key for challenge verification
func SecondFactorThrottleKey(accountID string) string {
	return "two-factor|" + accountID
}

// VerificationThrottleKey is the per-account key for verification email resends
func VerificationThrottleKey(accountID string) string {
	return "verification-notification|" + accountID
}

// ReauthThrottleKey is the per-account key for password re-proof on sensitive
// account changes
func ReauthThrottleKey(accountID string) string {
	return "reauth|" + accountID
}

// PasswordResetThrottleKey limits reset emails per normalized address
func PasswordResetThrottleKey(email string) string {
	return "password-reset|" + transliterate(models.NormalizeEmail(email))
}

func transliterate(s string) string {
	// transform.Chain keeps state, build one per call
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return strings.ToLower(out)
}
