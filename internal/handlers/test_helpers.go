package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/session"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSession attaches sess to the request the way the session middleware does
func WithSession(req *http.Request, sess *session.Session) *http.Request {
	return req.WithContext(auth.WithSession(req.Context(), sess))
}

// WithURLParam sets a chi route parameter on the request
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(req.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AnonymousSession returns an unauthenticated session handle
func AnonymousSession() *session.Session {
	return &session.Session{ID: "anonymous-session-id", CreatedAt: time.Now()}
}

// SignedInSession returns a session established for accountID
func SignedInSession(accountID string) *session.Session {
	now := time.Now()
	return &session.Session{ID: "signed-in-session-id", AccountID: accountID, AuthenticatedAt: &now, CreatedAt: now}
}

// FixedTTL implements SessionTTL with constant lifetimes
type FixedTTL struct {
	Idle     time.Duration
	Remember time.Duration
}

func (f FixedTTL) TTL(s *session.Session) time.Duration {
	if s.Remember {
		return f.Remember
	}
	return f.Idle
}

// NewTestSessionCookies returns cookie settings used across handler tests
func NewTestSessionCookies() *SessionCookies {
	return NewSessionCookies(auth.CookieConfig{Name: "warden_session", SameSite: "lax"}, FixedTTL{Idle: 2 * time.Hour, Remember: 30 * 24 * time.Hour})
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// FindCookie returns the named cookie set on the response, or nil
func FindCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// MockPasswordAuthenticator implements PasswordAuthenticator for testing
type MockPasswordAuthenticator struct {
	AuthenticateFunc func(ctx context.Context, email, password string, client models.ClientInfo) (string, error)
}

func (m *MockPasswordAuthenticator) Authenticate(ctx context.Context, email, password string, client models.ClientInfo) (string, error) {
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, email, password, client)
	}
	return "", models.ErrInvalidCredentials
}

// MockLoginOrchestrator implements LoginOrchestrator for testing. Without
// funcs it establishes every first factor.
type MockLoginOrchestrator struct {
	CompleteFirstFactorFunc func(ctx context.Context, sess *session.Session, factor models.FirstFactor) (*models.LoginResult, error)
	VerifySecondFactorFunc  func(ctx context.Context, sess *session.Session, code string, client models.ClientInfo) (*models.LoginResult, error)
	LogoutFunc              func(ctx context.Context, sess *session.Session) error

	Factors []models.FirstFactor
}

func (m *MockLoginOrchestrator) CompleteFirstFactor(ctx context.Context, sess *session.Session, factor models.FirstFactor) (*models.LoginResult, error) {
	m.Factors = append(m.Factors, factor)
	if m.CompleteFirstFactorFunc != nil {
		return m.CompleteFirstFactorFunc(ctx, sess, factor)
	}
	sess.ID = "established-" + factor.AccountID
	sess.AccountID = factor.AccountID
	sess.Remember = factor.Remember
	sess.Method = factor.Method
	return &models.LoginResult{State: models.LoginStateEstablished, AccountID: factor.AccountID}, nil
}

func (m *MockLoginOrchestrator) VerifySecondFactor(ctx context.Context, sess *session.Session, code string, client models.ClientInfo) (*models.LoginResult, error) {
	if m.VerifySecondFactorFunc != nil {
		return m.VerifySecondFactorFunc(ctx, sess, code, client)
	}
	return nil, models.ErrNoPendingChallenge
}

func (m *MockLoginOrchestrator) Logout(ctx context.Context, sess *session.Session) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, sess)
	}
	*sess = session.Session{ID: "fresh-session-id"}
	return nil
}

// MockRegistrar implements Registrar for testing
type MockRegistrar struct {
	RegisterFunc func(ctx context.Context, name, email, password string) (*models.Account, error)
}

func (m *MockRegistrar) Register(ctx context.Context, name, email, password string) (*models.Account, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, name, email, password)
	}
	return &models.Account{ID: "acc-new", Name: name, Email: models.NormalizeEmail(email)}, nil
}

// LoginRecord is one call to RecordingLoginRecorder
type LoginRecord struct {
	Method    string
	AccountID string
	Email     string
	Err       error
}

// RecordingLoginRecorder implements LoginRecorder for testing
type RecordingLoginRecorder struct {
	Records []LoginRecord
}

func (r *RecordingLoginRecorder) RecordLogin(_ context.Context, method, accountID, email string, _ models.ClientInfo, loginErr error) {
	r.Records = append(r.Records, LoginRecord{Method: method, AccountID: accountID, Email: email, Err: loginErr})
}

// MockMagicLinks implements MagicLinks for testing
type MockMagicLinks struct {
	RequestLinkFunc func(ctx context.Context, email string) error
	RedeemFunc      func(ctx context.Context, token string) (string, error)
}

func (m *MockMagicLinks) RequestLink(ctx context.Context, email string) error {
	if m.RequestLinkFunc != nil {
		return m.RequestLinkFunc(ctx, email)
	}
	return nil
}

func (m *MockMagicLinks) Redeem(ctx context.Context, token string) (string, error) {
	if m.RedeemFunc != nil {
		return m.RedeemFunc(ctx, token)
	}
	return "", models.ErrInvalidOrExpiredToken
}

// MockOAuthProviders implements OAuthProviders for testing
type MockOAuthProviders struct {
	AuthCodeURLFunc func(provider, state string) (string, error)
	ExchangeFunc    func(ctx context.Context, provider, code string) (models.ExternalIdentity, error)
}

func (m *MockOAuthProviders) AuthCodeURL(provider, state string) (string, error) {
	if m.AuthCodeURLFunc != nil {
		return m.AuthCodeURLFunc(provider, state)
	}
	return "https://provider.example.com/authorize?state=" + state, nil
}

func (m *MockOAuthProviders) Exchange(ctx context.Context, provider, code string) (models.ExternalIdentity, error) {
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, provider, code)
	}
	return models.ExternalIdentity{}, models.ErrExternalServiceUnavailable
}

// MockIdentityResolver implements IdentityResolver for testing
type MockIdentityResolver struct {
	ResolveFunc func(ctx context.Context, identity models.ExternalIdentity) (string, error)
}

func (m *MockIdentityResolver) Resolve(ctx context.Context, identity models.ExternalIdentity) (string, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, identity)
	}
	return "acc-oauth", nil
}

// MockTwoFactorManager implements TwoFactorManager for testing
type MockTwoFactorManager struct {
	BeginTwoFactorSetupFunc   func(ctx context.Context, sess *session.Session) (*models.TwoFactorSetup, error)
	ConfirmTwoFactorSetupFunc func(ctx context.Context, sess *session.Session, code string, client models.ClientInfo) ([]string, error)
	DisableTwoFactorFunc      func(ctx context.Context, sess *session.Session, password string, client models.ClientInfo) error
	TwoFactorStatusFunc       func(ctx context.Context, accountID string) (*models.TwoFactorStatus, error)
}

func (m *MockTwoFactorManager) BeginTwoFactorSetup(ctx context.Context, sess *session.Session) (*models.TwoFactorSetup, error) {
	if m.BeginTwoFactorSetupFunc != nil {
		return m.BeginTwoFactorSetupFunc(ctx, sess)
	}
	return nil, models.ErrUnauthorized
}

func (m *MockTwoFactorManager) ConfirmTwoFactorSetup(ctx context.Context, sess *session.Session, code string, client models.ClientInfo) ([]string, error) {
	if m.ConfirmTwoFactorSetupFunc != nil {
		return m.ConfirmTwoFactorSetupFunc(ctx, sess, code, client)
	}
	return nil, models.ErrSecondFactorSetupNotStarted
}

func (m *MockTwoFactorManager) DisableTwoFactor(ctx context.Context, sess *session.Session, password string, client models.ClientInfo) error {
	if m.DisableTwoFactorFunc != nil {
		return m.DisableTwoFactorFunc(ctx, sess, password, client)
	}
	return models.ErrSecondFactorNotEnabled
}

func (m *MockTwoFactorManager) TwoFactorStatus(ctx context.Context, accountID string) (*models.TwoFactorStatus, error) {
	if m.TwoFactorStatusFunc != nil {
		return m.TwoFactorStatusFunc(ctx, accountID)
	}
	return &models.TwoFactorStatus{}, nil
}

// MockAccountService implements AccountServiceInterface for testing
type MockAccountService struct {
	GetAccountFunc     func(ctx context.Context, id string) (*models.Account, error)
	UpdateProfileFunc  func(ctx context.Context, accountID, name, email string, client models.ClientInfo) (*models.Account, error)
	ChangePasswordFunc func(ctx context.Context, accountID, currentPassword, newPassword string, client models.ClientInfo) error
	DeleteFunc         func(ctx context.Context, sess *session.Session, password string, client models.ClientInfo) error
}

func (m *MockAccountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	if m.GetAccountFunc != nil {
		return m.GetAccountFunc(ctx, id)
	}
	return nil, models.ErrAccountNotFound
}

func (m *MockAccountService) UpdateProfile(ctx context.Context, accountID, name, email string, client models.ClientInfo) (*models.Account, error) {
	if m.UpdateProfileFunc != nil {
		return m.UpdateProfileFunc(ctx, accountID, name, email, client)
	}
	return nil, models.ErrAccountNotFound
}

func (m *MockAccountService) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string, client models.ClientInfo) error {
	if m.ChangePasswordFunc != nil {
		return m.ChangePasswordFunc(ctx, accountID, currentPassword, newPassword, client)
	}
	return nil
}

func (m *MockAccountService) Delete(ctx context.Context, sess *session.Session, password string, client models.ClientInfo) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, sess, password, client)
	}
	return nil
}

// MockEmailVerifier implements EmailVerifier for testing
type MockEmailVerifier struct {
	VerifyFunc func(ctx context.Context, token string) (string, error)
	ResendFunc func(ctx context.Context, accountID string) error
}

func (m *MockEmailVerifier) Verify(ctx context.Context, token string) (string, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, token)
	}
	return "", models.ErrInvalidOrExpiredToken
}

func (m *MockEmailVerifier) Resend(ctx context.Context, accountID string) error {
	if m.ResendFunc != nil {
		return m.ResendFunc(ctx, accountID)
	}
	return nil
}

// MockPasswordResetter implements PasswordResetter for testing
type MockPasswordResetter struct {
	RequestResetFunc  func(ctx context.Context, email string) error
	ResetPasswordFunc func(ctx context.Context, token, newPassword string, client models.ClientInfo) error
}

func (m *MockPasswordResetter) RequestReset(ctx context.Context, email string) error {
	if m.RequestResetFunc != nil {
		return m.RequestResetFunc(ctx, email)
	}
	return nil
}

func (m *MockPasswordResetter) ResetPassword(ctx context.Context, token, newPassword string, client models.ClientInfo) error {
	if m.ResetPasswordFunc != nil {
		return m.ResetPasswordFunc(ctx, token, newPassword, client)
	}
	return nil
}
