package services

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/ratelimit"
	"github.com/BradenHooton/warden/internal/session"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ============================================================================
// Fixtures
// ============================================================================

const testPassword = "C0rrect-Horse-Battery!"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHasher() *pkgauth.PasswordHasher {
	return pkgauth.NewPasswordHasher(bcrypt.MinCost)
}

func testSecretBox(t *testing.T) *auth.SecretBox {
	t.Helper()
	box, err := auth.NewSecretBox([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return box
}

func testTiming() *auth.TimingDelay {
	return auth.NewTimingDelay(auth.TimingConfig{})
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func newTestLimiter(t *testing.T) (*ratelimit.RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	client, mr := newTestRedis(t)
	return ratelimit.NewRedisLimiter(client), mr
}

func newTestSessionManager(t *testing.T) *session.Manager {
	t.Helper()
	client, _ := newTestRedis(t)
	return session.NewManager(session.NewRedisStore(client, "session"), 2*time.Hour, 30*24*time.Hour)
}

func newPasswordAccount(t *testing.T, email string) *models.Account {
	t.Helper()
	hash, err := testHasher().Hash(testPassword)
	require.NoError(t, err)
	return &models.Account{
		ID:            uuid.New().String(),
		Email:         email,
		Name:          "Test User",
		PasswordHash:  hash,
		RecoveryCodes: []string{},
	}
}
