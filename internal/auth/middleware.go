package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/session"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SessionContextKey is the key for storing the request session in context
	SessionContextKey contextKey = "session"
)

// SessionLoader resolves the session addressed by a cookie value.
type SessionLoader interface {
	Load(ctx context.Context, id string) (*session.Session, error)
}

// SessionMiddleware loads the session named by the session cookie (or a fresh
// anonymous one) and stores it in the request context.
func SessionMiddleware(loader SessionLoader, cookies CookieConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := loader.Load(r.Context(), GetSessionCookie(r, cookies))
			if err != nil {
				logger.Error("failed to load session", slog.String("error", err.Error()))
				pkghttp.WriteServiceUnavailable(w, "Session storage is unavailable")
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuthenticated rejects requests whose session is not fully established.
// A session waiting for its second factor is not authenticated.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := SessionFromContext(r.Context())
		if sess == nil || !sess.IsAuthenticated() {
			pkghttp.WriteUnauthorized(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionFromContext returns the request session, or nil outside SessionMiddleware.
func SessionFromContext(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(SessionContextKey).(*session.Session)
	return sess
}

// WithSession returns a context carrying sess.
func WithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, SessionContextKey, sess)
}
