package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	LoadFunc func(ctx context.Context, id string) (*session.Session, error)
}

func (s *stubLoader) Load(ctx context.Context, id string) (*session.Session, error) {
	return s.LoadFunc(ctx, id)
}

var testCookies = CookieConfig{Name: "warden_session", SameSite: "lax"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSessionMiddleware_LoadsSessionFromCookie(t *testing.T) {
	var gotID string
	loader := &stubLoader{LoadFunc: func(ctx context.Context, id string) (*session.Session, error) {
		gotID = id
		return &session.Session{ID: id, AccountID: "acc-1"}, nil
	}}

	var seen *session.Session
	handler := SessionMiddleware(loader, testCookies, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SessionFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "warden_session", Value: "abc"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "abc", gotID)
	require.NotNil(t, seen)
	assert.Equal(t, "acc-1", seen.AccountID)
}

func TestSessionMiddleware_StoreFailure(t *testing.T) {
	loader := &stubLoader{LoadFunc: func(ctx context.Context, id string) (*session.Session, error) {
		return nil, errors.New("redis down")
	}}
	handler := SessionMiddleware(loader, testCookies, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequireAuthenticated(t *testing.T) {
	tests := []struct {
		name     string
		sess     *session.Session
		expected int
	}{
		{"no session", nil, http.StatusUnauthorized},
		{"anonymous", &session.Session{ID: "a"}, http.StatusUnauthorized},
		{
			"awaiting second factor",
			&session.Session{ID: "a", PendingChallenge: &session.PendingTwoFactorChallenge{AccountID: "acc-1", ExpiresAt: time.Now().Add(time.Minute)}},
			http.StatusUnauthorized,
		},
		{"authenticated", &session.Session{ID: "a", AccountID: "acc-1"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireAuthenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/account", nil)
			if tt.sess != nil {
				req = req.WithContext(WithSession(req.Context(), tt.sess))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.expected, w.Code)
		})
	}
}

func TestSessionCookies(t *testing.T) {
	w := httptest.NewRecorder()
	SetSessionCookie(w, "sid-1", time.Hour, testCookies)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid-1", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, 3600, cookies[0].MaxAge)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)

	w = httptest.NewRecorder()
	SetSessionCookie(w, "sid-2", 0, testCookies)
	assert.Equal(t, 0, w.Result().Cookies()[0].MaxAge)

	w = httptest.NewRecorder()
	ClearSessionCookie(w, testCookies)
	assert.Equal(t, -1, w.Result().Cookies()[0].MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, GetSessionCookie(req, testCookies))
	req.AddCookie(&http.Cookie{Name: "warden_session", Value: "sid-3"})
	assert.Equal(t, "sid-3", GetSessionCookie(req, testCookies))
}
