package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testClient = models.ClientInfo{IPAddress: "203.0.113.7", UserAgent: "Mozilla/5.0"}

func newTestPasswordVerifier(t *testing.T, accounts AccountRepository) (*PasswordVerifier, *RecordingEventSink) {
	t.Helper()
	limiter, _ := newTestLimiter(t)
	sink := &RecordingEventSink{}
	verifier := NewPasswordVerifier(accounts, testHasher(), NewThrottle(limiter, 5, time.Minute), testTiming(), sink, testLogger())
	return verifier, sink
}

func TestPasswordVerifier_Success(t *testing.T) {
	account := newPasswordAccount(t, "alice@example.com")
	verifier, _ := newTestPasswordVerifier(t, NewMockAccountRepository(account))

	id, err := verifier.Authenticate(context.Background(), "Alice@Example.com", testPassword, testClient)
	require.NoError(t, err)
	assert.Equal(t, account.ID, id)
}

func TestPasswordVerifier_UnknownAccountAndWrongPasswordAreIndistinguishable(t *testing.T) {
	account := newPasswordAccount(t, "alice@example.com")
	verifier, _ := newTestPasswordVerifier(t, NewMockAccountRepository(account))
	ctx := context.Background()

	_, wrongPassword := verifier.Authenticate(ctx, "alice@example.com", "wrong-password", testClient)
	_, unknownAccount := verifier.Authenticate(ctx, "nobody@example.com", testPassword, testClient)

	assert.ErrorIs(t, wrongPassword, models.ErrInvalidCredentials)
	assert.ErrorIs(t, unknownAccount, models.ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownAccount.Error())
}

func TestPasswordVerifier_AccountWithoutPasswordNeverMatches(t *testing.T) {
	account := newPasswordAccount(t, "oauth@example.com")
	account.PasswordHash = ""
	verifier, _ := newTestPasswordVerifier(t, NewMockAccountRepository(account))

	_, err := verifier.Authenticate(context.Background(), "oauth@example.com", "", testClient)
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestPasswordVerifier_FiveFailuresBlockTheSixth(t *testing.T) {
	account := newPasswordAccount(t, "alice@example.com")
	verifier, sink := newTestPasswordVerifier(t, NewMockAccountRepository(account))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := verifier.Authenticate(ctx, "alice@example.com", "wrong-password", testClient)
		require.ErrorIs(t, err, models.ErrInvalidCredentials, "attempt %d", i+1)
	}

	// correct password is refused while blocked
	_, err := verifier.Authenticate(ctx, "alice@example.com", testPassword, testClient)
	require.ErrorIs(t, err, models.ErrRateLimited)

	var limited *models.RateLimitedError
	require.True(t, errors.As(err, &limited))
	assert.Greater(t, limited.Seconds(), 0)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSuspiciousLogin, events[0].Type)
	assert.Equal(t, models.ReasonLoginThrottled, events[0].Reason)
	assert.Equal(t, account.ID, events[0].AccountID)
}

func TestPasswordVerifier_BlockedKeyDoesNotTouchStore(t *testing.T) {
	lookups := 0
	accounts := NewMockAccountRepository()
	accounts.GetByEmailFunc = func(ctx context.Context, email string) (*models.Account, error) {
		lookups++
		return nil, models.ErrNotFound
	}
	limiter := &MockRateLimiter{
		ReserveFunc: func(context.Context, string, int, time.Duration) (int, bool, error) {
			return 5, false, nil
		},
		AvailableInFunc: func(context.Context, string) (time.Duration, error) { return 42 * time.Second, nil },
	}
	verifier := NewPasswordVerifier(accounts, testHasher(), NewThrottle(limiter, 5, time.Minute), testTiming(), &RecordingEventSink{}, testLogger())

	_, err := verifier.Authenticate(context.Background(), "alice@example.com", testPassword, testClient)

	var limited *models.RateLimitedError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, 42, limited.Seconds())
	assert.Zero(t, lookups)
}

func TestPasswordVerifier_SuccessClearsCounter(t *testing.T) {
	account := newPasswordAccount(t, "alice@example.com")
	verifier, _ := newTestPasswordVerifier(t, NewMockAccountRepository(account))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := verifier.Authenticate(ctx, "alice@example.com", "wrong-password", testClient)
		require.ErrorIs(t, err, models.ErrInvalidCredentials)
	}
	_, err := verifier.Authenticate(ctx, "alice@example.com", testPassword, testClient)
	require.NoError(t, err)

	// a full budget is available again
	for i := 0; i < 4; i++ {
		_, err := verifier.Authenticate(ctx, "alice@example.com", "wrong-password", testClient)
		require.ErrorIs(t, err, models.ErrInvalidCredentials)
	}
	_, err = verifier.Authenticate(ctx, "alice@example.com", testPassword, testClient)
	assert.NoError(t, err)
}

func TestPasswordVerifier_ThrottleIsPerIP(t *testing.T) {
	account := newPasswordAccount(t, "alice@example.com")
	verifier, _ := newTestPasswordVerifier(t, NewMockAccountRepository(account))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = verifier.Authenticate(ctx, "alice@example.com", "wrong-password", testClient)
	}

	other := models.ClientInfo{IPAddress: "198.51.100.9"}
	_, err := verifier.Authenticate(ctx, "alice@example.com", testPassword, other)
	assert.NoError(t, err)
}

func TestPasswordVerifier_StorageOutageIsFatal(t *testing.T) {
	outage := errors.New("connection reset")
	accounts := NewMockAccountRepository()
	accounts.GetByEmailFunc = func(ctx context.Context, email string) (*models.Account, error) {
		return nil, outage
	}
	verifier, _ := newTestPasswordVerifier(t, accounts)

	_, err := verifier.Authenticate(context.Background(), "alice@example.com", testPassword, testClient)
	require.Error(t, err)
	assert.ErrorIs(t, err, outage)
	assert.NotErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestPasswordVerifier_ConcurrentGuessesAreCappedAtBudget(t *testing.T) {
	account := newPasswordAccount(t, "alice@example.com")
	var verified atomic.Int32
	accounts := NewMockAccountRepository(account)
	accounts.GetByEmailFunc = func(ctx context.Context, email string) (*models.Account, error) {
		verified.Add(1)
		return accounts.Snapshot(account.ID), nil
	}
	verifier, sink := newTestPasswordVerifier(t, accounts)

	var limited atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := verifier.Authenticate(context.Background(), "alice@example.com", "wrong-password", testClient)
			if errors.Is(err, models.ErrRateLimited) {
				limited.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), verified.Load(), "only the reserved attempts reach the password check")
	assert.Equal(t, int32(25), limited.Load())
	assert.Len(t, sink.Events(), 1)
}

func TestPasswordVerifier_FailuresHonourTimingFloor(t *testing.T) {
	account := newPasswordAccount(t, "alice@example.com")
	limiter, _ := newTestLimiter(t)
	timing := auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 80})
	verifier := NewPasswordVerifier(NewMockAccountRepository(account), testHasher(), NewThrottle(limiter, 5, time.Minute), timing, &RecordingEventSink{}, testLogger())

	tests := []struct {
		name  string
		email string
	}{
		{"unknown account", "nobody@example.com"},
		{"wrong password", "alice@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			_, err := verifier.Authenticate(context.Background(), tt.email, "wrong-password", testClient)
			elapsed := time.Since(start)

			require.ErrorIs(t, err, models.ErrInvalidCredentials)
			assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
		})
	}
}
