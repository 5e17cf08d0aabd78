package handlers_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type authFixture struct {
	handler      *handlers.AuthHandler
	verifier     *handlers.MockPasswordAuthenticator
	orchestrator *handlers.MockLoginOrchestrator
	registrar    *handlers.MockRegistrar
	audit        *handlers.RecordingLoginRecorder
}

func newAuthFixture() *authFixture {
	f := &authFixture{
		verifier:     &handlers.MockPasswordAuthenticator{},
		orchestrator: &handlers.MockLoginOrchestrator{},
		registrar:    &handlers.MockRegistrar{},
		audit:        &handlers.RecordingLoginRecorder{},
	}
	f.handler = handlers.NewAuthHandler(f.verifier, f.orchestrator, f.registrar, f.audit, handlers.NewTestSessionCookies(), nil, testLogger())
	return f
}

func TestLogin_Success(t *testing.T) {
	f := newAuthFixture()
	f.verifier.AuthenticateFunc = func(ctx context.Context, email, password string, client models.ClientInfo) (string, error) {
		assert.Equal(t, "user@example.com", email)
		assert.Equal(t, "192.0.2.1", client.IPAddress)
		return "acc-1", nil
	}

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "password123",
		Remember: true,
	})
	sess := handlers.AnonymousSession()
	w := httptest.NewRecorder()
	f.handler.Login(w, handlers.WithSession(req, sess))

	var resp handlers.LoginResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, models.LoginStateEstablished, resp.Status)
	assert.Equal(t, "acc-1", resp.AccountID)

	require.Len(t, f.orchestrator.Factors, 1)
	assert.Equal(t, models.FirstFactor{AccountID: "acc-1", Remember: true, Method: models.MethodPassword}, f.orchestrator.Factors[0])

	cookie := handlers.FindCookie(w, "warden_session")
	require.NotNil(t, cookie)
	assert.Equal(t, "established-acc-1", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, int((30 * 24 * time.Hour).Seconds()), cookie.MaxAge)

	require.Len(t, f.audit.Records, 1)
	assert.NoError(t, f.audit.Records[0].Err)
}

func TestLogin_AwaitingSecondFactor(t *testing.T) {
	f := newAuthFixture()
	f.verifier.AuthenticateFunc = func(context.Context, string, string, models.ClientInfo) (string, error) {
		return "acc-1", nil
	}
	f.orchestrator.CompleteFirstFactorFunc = func(ctx context.Context, sess *session.Session, factor models.FirstFactor) (*models.LoginResult, error) {
		sess.ID = "pending-session"
		sess.PendingChallenge = &session.PendingTwoFactorChallenge{AccountID: factor.AccountID, ExpiresAt: time.Now().Add(10 * time.Minute)}
		return &models.LoginResult{State: models.LoginStateAwaitingSecondFactor}, nil
	}

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/login", handlers.LoginRequest{Email: "user@example.com", Password: "password123"})
	w := httptest.NewRecorder()
	f.handler.Login(w, handlers.WithSession(req, handlers.AnonymousSession()))

	var resp handlers.LoginResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, models.LoginStateAwaitingSecondFactor, resp.Status)
	assert.Empty(t, resp.AccountID, "account is not revealed before the second factor")

	cookie := handlers.FindCookie(w, "warden_session")
	require.NotNil(t, cookie)
	assert.Equal(t, "pending-session", cookie.Value)
	assert.Zero(t, cookie.MaxAge, "pending sessions use a browser-session cookie")
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newAuthFixture()

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/login", handlers.LoginRequest{Email: "user@example.com", Password: "wrong"})
	w := httptest.NewRecorder()
	f.handler.Login(w, handlers.WithSession(req, handlers.AnonymousSession()))

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
	assert.Empty(t, f.orchestrator.Factors)
	assert.Nil(t, handlers.FindCookie(w, "warden_session"))
	require.Len(t, f.audit.Records, 1)
	assert.ErrorIs(t, f.audit.Records[0].Err, models.ErrInvalidCredentials)
}

func TestLogin_RateLimitedSetsRetryAfter(t *testing.T) {
	f := newAuthFixture()
	f.verifier.AuthenticateFunc = func(context.Context, string, string, models.ClientInfo) (string, error) {
		return "", models.NewRateLimitedError(42 * time.Second)
	}

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/login", handlers.LoginRequest{Email: "user@example.com", Password: "x"})
	w := httptest.NewRecorder()
	f.handler.Login(w, handlers.WithSession(req, handlers.AnonymousSession()))

	handlers.AssertErrorResponse(t, w, http.StatusTooManyRequests, "rate_limit_exceeded")
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
}

func TestLogin_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{name: "missing email", body: handlers.LoginRequest{Password: "x"}},
		{name: "invalid email", body: handlers.LoginRequest{Email: "not-an-email", Password: "x"}},
		{name: "missing password", body: handlers.LoginRequest{Email: "user@example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture()
			req := handlers.NewTestRequest(t, http.MethodPost, "/auth/login", tt.body)
			w := httptest.NewRecorder()
			f.handler.Login(w, handlers.WithSession(req, handlers.AnonymousSession()))

			handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
		})
	}
}

func TestLogin_StorageOutage(t *testing.T) {
	f := newAuthFixture()
	f.verifier.AuthenticateFunc = func(context.Context, string, string, models.ClientInfo) (string, error) {
		return "", errors.New("connection refused")
	}

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/login", handlers.LoginRequest{Email: "user@example.com", Password: "x"})
	w := httptest.NewRecorder()
	f.handler.Login(w, handlers.WithSession(req, handlers.AnonymousSession()))

	handlers.AssertErrorResponse(t, w, http.StatusInternalServerError, "internal_error")
}

func TestRegister_SignsIn(t *testing.T) {
	f := newAuthFixture()

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/register", handlers.RegisterRequest{
		Name:     " Alice ",
		Email:    "alice@example.com",
		Password: "C0rrect-Horse-Battery!",
	})
	w := httptest.NewRecorder()
	f.handler.Register(w, handlers.WithSession(req, handlers.AnonymousSession()))

	var resp models.AccountResponse
	handlers.AssertJSONResponse(t, w, http.StatusCreated, &resp)
	assert.Equal(t, "acc-new", resp.ID)
	assert.Equal(t, "Alice", resp.Name)
	require.Len(t, f.orchestrator.Factors, 1)
	assert.False(t, f.orchestrator.Factors[0].Remember)
	assert.NotNil(t, handlers.FindCookie(w, "warden_session"))
}

func TestRegister_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "duplicate email", err: models.ErrConflict, status: http.StatusConflict, code: "conflict"},
		{name: "weak password", err: models.ErrWeakPassword, status: http.StatusUnprocessableEntity, code: "unprocessable_entity"},
		{name: "breached password", err: models.ErrCompromisedPassword, status: http.StatusUnprocessableEntity, code: "unprocessable_entity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture()
			f.registrar.RegisterFunc = func(context.Context, string, string, string) (*models.Account, error) {
				return nil, tt.err
			}

			req := handlers.NewTestRequest(t, http.MethodPost, "/auth/register", handlers.RegisterRequest{
				Name: "Alice", Email: "alice@example.com", Password: "password",
			})
			w := httptest.NewRecorder()
			f.handler.Register(w, handlers.WithSession(req, handlers.AnonymousSession()))

			handlers.AssertErrorResponse(t, w, tt.status, tt.code)
			assert.Empty(t, f.orchestrator.Factors)
		})
	}
}

func TestTwoFactorChallenge_Completes(t *testing.T) {
	f := newAuthFixture()
	f.orchestrator.VerifySecondFactorFunc = func(ctx context.Context, sess *session.Session, code string, client models.ClientInfo) (*models.LoginResult, error) {
		assert.Equal(t, "123456", code)
		sess.ID = "established-session"
		sess.AccountID = sess.PendingChallenge.AccountID
		sess.Remember = sess.PendingChallenge.Remember
		sess.PendingChallenge = nil
		return &models.LoginResult{State: models.LoginStateEstablished, AccountID: sess.AccountID}, nil
	}

	sess := handlers.AnonymousSession()
	sess.PendingChallenge = &session.PendingTwoFactorChallenge{AccountID: "acc-1", Remember: true, Method: models.MethodPassword, ExpiresAt: time.Now().Add(time.Minute)}

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/two-factor/challenge", handlers.TwoFactorChallengeRequest{Code: " 123456 "})
	w := httptest.NewRecorder()
	f.handler.TwoFactorChallenge(w, handlers.WithSession(req, sess))

	var resp handlers.LoginResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "acc-1", resp.AccountID)

	cookie := handlers.FindCookie(w, "warden_session")
	require.NotNil(t, cookie)
	assert.Equal(t, "established-session", cookie.Value)
	assert.Positive(t, cookie.MaxAge, "remember flag carried through the challenge")

	require.Len(t, f.audit.Records, 1)
	assert.Equal(t, "password+two_factor", f.audit.Records[0].Method)
	assert.Equal(t, "acc-1", f.audit.Records[0].AccountID)
}

func TestTwoFactorChallenge_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid code", err: models.ErrInvalidSecondFactor, status: http.StatusUnprocessableEntity, code: "unprocessable_entity"},
		{name: "no challenge", err: models.ErrNoPendingChallenge, status: http.StatusUnauthorized, code: "unauthorized"},
		{name: "throttled", err: models.NewRateLimitedError(time.Minute), status: http.StatusTooManyRequests, code: "rate_limit_exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture()
			f.orchestrator.VerifySecondFactorFunc = func(context.Context, *session.Session, string, models.ClientInfo) (*models.LoginResult, error) {
				return nil, tt.err
			}

			req := handlers.NewTestRequest(t, http.MethodPost, "/auth/two-factor/challenge", handlers.TwoFactorChallengeRequest{Code: "654321"})
			w := httptest.NewRecorder()
			f.handler.TwoFactorChallenge(w, handlers.WithSession(req, handlers.AnonymousSession()))

			handlers.AssertErrorResponse(t, w, tt.status, tt.code)
		})
	}
}

func TestLogout_ClearsCookie(t *testing.T) {
	f := newAuthFixture()

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	w := httptest.NewRecorder()
	f.handler.Logout(w, handlers.WithSession(req, handlers.SignedInSession("acc-1")))

	handlers.AssertJSONResponse(t, w, http.StatusOK, nil)
	cookie := handlers.FindCookie(w, "warden_session")
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
}
