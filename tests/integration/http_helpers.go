//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/handlers"
	middlewareCustom "github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/oauth"
	"github.com/BradenHooton/warden/internal/ratelimit"
	"github.com/BradenHooton/warden/internal/routes"
	"github.com/BradenHooton/warden/internal/services"
	"github.com/BradenHooton/warden/internal/session"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// SentEmail is one captured message
type SentEmail struct {
	Template  string
	Recipient string
	Vars      map[string]string
}

// RecordingEmailSender captures sent emails for test assertions
type RecordingEmailSender struct {
	mu   sync.Mutex
	sent []SentEmail
}

func (s *RecordingEmailSender) Send(ctx context.Context, templateID, recipient string, vars map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, SentEmail{Template: templateID, Recipient: recipient, Vars: vars})
	return nil
}

// Last returns the most recent email of the template sent to recipient
func (s *RecordingEmailSender) Last(templateID, recipient string) *SentEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].Template == templateID && s.sent[i].Recipient == recipient {
			email := s.sent[i]
			return &email
		}
	}
	return nil
}

func (s *RecordingEmailSender) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// TestServer runs the full router over the test database and an in-memory Redis
type TestServer struct {
	Server *httptest.Server
	Redis  *miniredis.Miniredis
	Emails *RecordingEmailSender
	Repos  Repositories

	mailQueue *services.MailQueue
}

// NewTestServer wires the application the way cmd/api does, with a recording
// email sender, no breach lookups and no timing delay
func NewTestServer(t *testing.T, db *TestDB) *TestServer {
	t.Helper()

	logger := discardLogger()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	repos := db.Repositories()
	limiter := ratelimit.NewRedisLimiter(redisClient)

	sessionManager := session.NewManager(session.NewRedisStore(redisClient, "warden:session"), 2*time.Hour, 30*24*time.Hour)
	sessionCookie := auth.CookieConfig{Name: "warden_session", SameSite: "lax"}
	stateCookie := auth.CookieConfig{Name: "warden_session_oauth_state", SameSite: "lax"}
	cookies := handlers.NewSessionCookies(sessionCookie, sessionManager)

	secretBox, err := auth.NewSecretBox([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	hasher := pkgauth.NewPasswordHasher(4)
	totpManager := auth.NewTOTPManager("Warden")
	stateSigner := auth.NewStateSigner("integration-state-secret-0123456789", 10*time.Minute)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{})
	audit := services.NewAuditService(pkglogger.NewAuditLogger(logger), repos.SecurityEvents, logger)

	emails := &RecordingEmailSender{}
	mailQueue := services.NewMailQueue(emails, 5*time.Second, logger)

	verification := services.NewEmailVerificationService(
		repos.Verification,
		repos.Accounts,
		mailQueue,
		services.NewThrottle(limiter, 6, time.Minute),
		"http://warden.test",
		time.Hour,
		logger,
	)
	orchestrator := services.NewAuthOrchestrator(
		repos.Accounts,
		sessionManager,
		totpManager,
		services.NewRecoveryCodeVault(repos.Accounts, logger),
		secretBox,
		hasher,
		services.NewThrottle(limiter, 5, time.Minute),
		audit,
		10*time.Minute,
		logger,
	)
	accounts := services.NewAccountService(
		repos.Accounts,
		hasher,
		services.DisabledBreachChecker{},
		1,
		services.NewThrottle(limiter, 5, time.Minute),
		verification,
		sessionManager,
		audit,
		audit,
		logger,
	)

	ipConfig := &pkghttp.IPConfig{}
	h := routes.Handlers{
		Auth: handlers.NewAuthHandler(
			services.NewPasswordVerifier(repos.Accounts, hasher, services.NewThrottle(limiter, 5, time.Minute), timingDelay, audit, logger),
			orchestrator, accounts, audit, cookies, ipConfig, logger,
		),
		MagicLink: handlers.NewMagicLinkHandler(
			services.NewMagicLinkService(repos.MagicLinks, repos.Accounts, mailQueue, timingDelay, "http://warden.test", 15*time.Minute, logger),
			orchestrator, audit, cookies, ipConfig, logger,
		),
		OAuth: handlers.NewOAuthHandler(
			oauth.NewRegistry(map[string]config.OAuthProviderConfig{}, 5*time.Second, logger),
			services.NewFederatedLinker(repos.Accounts, hasher, secretBox, logger),
			stateSigner,
			orchestrator,
			audit,
			cookies,
			stateCookie,
			10*time.Minute,
			ipConfig,
			logger,
		),
		TwoFactor: handlers.NewTwoFactorHandler(orchestrator, ipConfig, logger),
		Account:   handlers.NewAccountHandler(accounts, verification, cookies, ipConfig, logger),
		Reset: handlers.NewPasswordResetHandler(
			services.NewPasswordResetService(
				repos.PasswordResets,
				repos.Accounts,
				hasher,
				services.DisabledBreachChecker{},
				1,
				sessionManager,
				mailQueue,
				services.NewThrottle(limiter, 3, time.Minute),
				timingDelay,
				audit,
				"http://warden.test",
				time.Hour,
				logger,
			),
			ipConfig,
			logger,
		),
		Health: handlers.NewHealthHandler(map[string]handlers.HealthCheck{
			"database": db.DB.HealthCheck,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		}, 2*time.Second),
	}

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(chiMiddleware.Recoverer)
	routes.RegisterRoutes(router, h, sessionManager, sessionCookie, middlewareCustom.DefaultAuthRateLimit(1000, ipConfig), logger)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &TestServer{
		Server:    server,
		Redis:     mr,
		Emails:    emails,
		Repos:     repos,
		mailQueue: mailQueue,
	}
}

// FlushEmails waits until every queued email was handed to the sender
func (s *TestServer) FlushEmails() {
	s.mailQueue.Wait()
}

// Browser is an HTTP client with its own cookie jar that does not follow redirects
type Browser struct {
	t       *testing.T
	client  *http.Client
	baseURL string
}

func (s *TestServer) NewBrowser(t *testing.T) *Browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &Browser{
		t:       t,
		baseURL: s.Server.URL,
		client: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Request sends a JSON request and returns the response with its body read
func (b *Browser) Request(method, path string, body any) (*http.Response, []byte) {
	b.t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(b.t, err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, b.baseURL+path, reader)
	require.NoError(b.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp, data
}

// ParseJSONResponse decodes a response body into target
func ParseJSONResponse(t *testing.T, data []byte, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// PathFromURL strips the base URL used in emailed links
func PathFromURL(link string) string {
	return strings.TrimPrefix(link, "http://warden.test")
}

func describe(resp *http.Response, body []byte) string {
	return fmt.Sprintf("%d %s", resp.StatusCode, string(body))
}
