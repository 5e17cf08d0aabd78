package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/session"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// MessageResponse is the body of responses that only carry a message
type MessageResponse struct {
	Message string `json:"message"`
}

// LoginResponse reports where the login state machine stopped
type LoginResponse struct {
	Status    models.LoginState `json:"status"`
	AccountID string            `json:"account_id,omitempty"`
}

func loginResponse(result *models.LoginResult) LoginResponse {
	return LoginResponse{Status: result.State, AccountID: result.AccountID}
}

// SessionTTL reports how long a session lives in storage
type SessionTTL interface {
	TTL(s *session.Session) time.Duration
}

// SessionCookies keeps the session cookie in step with the session handle
// after a handler changed it.
type SessionCookies struct {
	config auth.CookieConfig
	ttl    SessionTTL
}

func NewSessionCookies(config auth.CookieConfig, ttl SessionTTL) *SessionCookies {
	return &SessionCookies{config: config, ttl: ttl}
}

// Config returns the cookie settings, for the session middleware
func (c *SessionCookies) Config() auth.CookieConfig {
	return c.config
}

// Write sets the cookie for sess, or clears it when nothing is stored.
// Remembered sessions get a persistent cookie, others a browser-session one.
func (c *SessionCookies) Write(w http.ResponseWriter, sess *session.Session) {
	if sess.IsEmpty() {
		auth.ClearSessionCookie(w, c.config)
		return
	}
	var maxAge time.Duration
	if sess.Remember {
		maxAge = c.ttl.TTL(sess)
	}
	auth.SetSessionCookie(w, sess.ID, maxAge, c.config)
}

func clientInfo(r *http.Request, ipConfig *pkghttp.IPConfig) models.ClientInfo {
	return models.ClientInfo{
		IPAddress: pkghttp.ExtractClientIP(r, ipConfig),
		UserAgent: r.UserAgent(),
	}
}

// writeServiceError maps domain errors to responses. Messages of the
// authentication errors are safe to show; anything unknown is logged and
// reported as a 500.
func writeServiceError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var limited *models.RateLimitedError
	switch {
	case errors.As(err, &limited):
		pkghttp.WriteRateLimited(w, limited.Seconds(), limited.Error())
	case errors.Is(err, models.ErrRateLimited):
		pkghttp.WriteTooManyRequests(w, err.Error())
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, models.ErrInvalidCredentials.Error())
	case errors.Is(err, models.ErrUnauthorized),
		errors.Is(err, models.ErrNoPendingChallenge):
		pkghttp.WriteUnauthorized(w, "Authentication required")
	case errors.Is(err, models.ErrInvalidSecondFactor):
		pkghttp.WriteUnprocessable(w, models.ErrInvalidSecondFactor.Error())
	case errors.Is(err, models.ErrWeakPassword),
		errors.Is(err, models.ErrCompromisedPassword),
		errors.Is(err, models.ErrProviderEmailMissing):
		pkghttp.WriteUnprocessable(w, err.Error())
	case errors.Is(err, models.ErrInvalidOrExpiredToken),
		errors.Is(err, models.ErrInvalidOAuthState),
		errors.Is(err, auth.ErrInvalidState),
		errors.Is(err, models.ErrSecondFactorSetupNotStarted):
		pkghttp.WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrSecondFactorAlreadyEnabled),
		errors.Is(err, models.ErrSecondFactorNotEnabled):
		pkghttp.WriteConflict(w, err.Error())
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "This email address is already registered")
	case errors.Is(err, models.ErrAccountNotFound),
		errors.Is(err, models.ErrProviderNotSupported):
		pkghttp.WriteNotFound(w, err.Error())
	case errors.Is(err, models.ErrExternalServiceUnavailable):
		pkghttp.WriteServiceUnavailable(w, "The login provider is unavailable, please try again")
	default:
		logger.Error("request failed", slog.String("error", err.Error()))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// requireSession returns the request session. Routes are mounted behind
// auth.SessionMiddleware, so a missing session is a wiring error.
func requireSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		pkghttp.WriteInternalError(w, "Session is not available")
		return nil, false
	}
	return sess, true
}
