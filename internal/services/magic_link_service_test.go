package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMagicLinkService(t *testing.T, accounts AccountRepository) (*MagicLinkService, *MockMagicLinkRepository, *RecordingMailer, *fakeClock) {
	t.Helper()
	links := NewMockMagicLinkRepository()
	mailer := &RecordingMailer{}
	clock := newFakeClock()
	svc := NewMagicLinkService(links, accounts, mailer, testTiming(), "https://auth.example.com", 30*time.Minute, testLogger())
	svc.now = clock.Now
	return svc, links, mailer, clock
}

func TestMagicLinkService_IssueAndRedeem(t *testing.T) {
	account := newPasswordAccount(t, "alice@example.com")
	svc, _, _, _ := newTestMagicLinkService(t, NewMockAccountRepository(account))
	ctx := context.Background()

	token, err := svc.Issue(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Len(t, token, 43) // 256 bits, base64 without padding

	id, err := svc.Redeem(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, account.ID, id)
}

func TestMagicLinkService_SecondRedemptionFails(t *testing.T) {
	account := newPasswordAccount(t, "alice@example.com")
	svc, _, _, _ := newTestMagicLinkService(t, NewMockAccountRepository(account))
	ctx := context.Background()

	token, err := svc.Issue(ctx, "alice@example.com")
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, token)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = svc.Redeem(ctx, token)
		assert.ErrorIs(t, err, models.ErrInvalidOrExpiredToken)
	}
}

func TestMagicLinkService_ExpiryBoundary(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{"fresh", 0, nil},
		{"29 minutes", 29 * time.Minute, nil},
		{"exactly 30 minutes", 30 * time.Minute, models.ErrInvalidOrExpiredToken},
		{"31 minutes", 31 * time.Minute, models.ErrInvalidOrExpiredToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := newPasswordAccount(t, "alice@example.com")
			svc, _, _, clock := newTestMagicLinkService(t, NewMockAccountRepository(account))
			ctx := context.Background()

			token, err := svc.Issue(ctx, "alice@example.com")
			require.NoError(t, err)

			clock.Advance(tt.elapsed)
			_, err = svc.Redeem(ctx, token)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestMagicLinkService_NewLinkInvalidatesPrevious(t *testing.T) {
	account := newPasswordAccount(t, "alice@example.com")
	svc, links, _, _ := newTestMagicLinkService(t, NewMockAccountRepository(account))
	ctx := context.Background()

	first, err := svc.Issue(ctx, "alice@example.com")
	require.NoError(t, err)
	second, err := svc.Issue(ctx, "Alice@Example.com")
	require.NoError(t, err)

	assert.Equal(t, 1, links.Count())

	_, err = svc.Redeem(ctx, first)
	assert.ErrorIs(t, err, models.ErrInvalidOrExpiredToken)

	id, err := svc.Redeem(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, account.ID, id)
}

func TestMagicLinkService_UnknownTokenFails(t *testing.T) {
	svc, _, _, _ := newTestMagicLinkService(t, NewMockAccountRepository())

	_, err := svc.Redeem(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, models.ErrInvalidOrExpiredToken)

	_, err = svc.Redeem(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrInvalidOrExpiredToken)
}

func TestMagicLinkService_VanishedAccount(t *testing.T) {
	account := newPasswordAccount(t, "alice@example.com")
	accounts := NewMockAccountRepository(account)
	svc, _, _, _ := newTestMagicLinkService(t, accounts)
	ctx := context.Background()

	token, err := svc.Issue(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, accounts.Delete(ctx, account.ID))

	_, err = svc.Redeem(ctx, token)
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestMagicLinkService_AccountCreatedAfterIssue(t *testing.T) {
	accounts := NewMockAccountRepository()
	svc, _, _, _ := newTestMagicLinkService(t, accounts)
	ctx := context.Background()

	token, err := svc.Issue(ctx, "late@example.com")
	require.NoError(t, err)

	created, err := accounts.Create(ctx, &models.Account{Email: "late@example.com", Name: "Late"})
	require.NoError(t, err)

	id, err := svc.Redeem(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, created.ID, id)
}

func TestMagicLinkService_ConcurrentRedemptionHasOneWinner(t *testing.T) {
	account := newPasswordAccount(t, "alice@example.com")
	svc, _, _, _ := newTestMagicLinkService(t, NewMockAccountRepository(account))
	ctx := context.Background()

	token, err := svc.Issue(ctx, "alice@example.com")
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Redeem(ctx, token); err == nil {
				wins.Add(1)
			} else if !errors.Is(err, models.ErrInvalidOrExpiredToken) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMagicLinkService_RequestLinkDoesNotLeakExistence(t *testing.T) {
	account := newPasswordAccount(t, "existing@example.com")
	svc, links, mailer, _ := newTestMagicLinkService(t, NewMockAccountRepository(account))
	ctx := context.Background()

	errExisting := svc.RequestLink(ctx, "existing@example.com")
	errMissing := svc.RequestLink(ctx, "nonexistent@example.com")

	assert.NoError(t, errExisting)
	assert.NoError(t, errMissing)

	// only the existing account gets a link and an email
	assert.Equal(t, 1, links.Count())
	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, TemplateMagicLink, sent[0].TemplateID)
	assert.Equal(t, "existing@example.com", sent[0].Recipient)
	assert.True(t, strings.HasPrefix(sent[0].Vars["url"], "https://auth.example.com/auth/magic-link/"))
	assert.Equal(t, "30 minutes", sent[0].Vars["expires_in"])
}

func TestMagicLinkService_RequestLinkHonoursTimingFloor(t *testing.T) {
	account := newPasswordAccount(t, "existing@example.com")
	svc, _, mailer, _ := newTestMagicLinkService(t, NewMockAccountRepository(account))
	svc.timing = auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 60})

	for _, email := range []string{"existing@example.com", "nonexistent@example.com"} {
		start := time.Now()
		require.NoError(t, svc.RequestLink(context.Background(), email))
		assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond, email)
	}
	assert.Len(t, mailer.Sent(), 1)
}

func TestMagicLinkService_EmailedLinkRedeems(t *testing.T) {
	account := newPasswordAccount(t, "alice@example.com")
	svc, _, mailer, _ := newTestMagicLinkService(t, NewMockAccountRepository(account))
	ctx := context.Background()

	require.NoError(t, svc.RequestLink(ctx, "alice@example.com"))
	sent := mailer.Sent()
	require.Len(t, sent, 1)

	token := strings.TrimPrefix(sent[0].Vars["url"], "https://auth.example.com/auth/magic-link/")
	id, err := svc.Redeem(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, account.ID, id)
}

func TestMagicLinkService_RequestLinkStorageOutage(t *testing.T) {
	accounts := NewMockAccountRepository()
	accounts.GetByEmailFunc = func(ctx context.Context, email string) (*models.Account, error) {
		return nil, errors.New("connection refused")
	}
	svc, _, mailer, _ := newTestMagicLinkService(t, accounts)

	err := svc.RequestLink(context.Background(), "alice@example.com")
	assert.Error(t, err)
	assert.Empty(t, mailer.Sent())
}

func TestFormatTTL(t *testing.T) {
	assert.Equal(t, "30 minutes", formatTTL(30*time.Minute))
	assert.Equal(t, "1 hour", formatTTL(time.Hour))
	assert.Equal(t, "24 hours", formatTTL(24*time.Hour))
	assert.Equal(t, "90 minutes", formatTTL(90*time.Minute))
}
