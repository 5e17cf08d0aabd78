package routes

import (
	"log/slog"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// Handlers groups every HTTP handler the router mounts
type Handlers struct {
	Auth      *handlers.AuthHandler
	MagicLink *handlers.MagicLinkHandler
	OAuth     *handlers.OAuthHandler
	TwoFactor *handlers.TwoFactorHandler
	Account   *handlers.AccountHandler
	Reset     *handlers.PasswordResetHandler
	Health    *handlers.HealthHandler
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	h Handlers,
	sessions auth.SessionLoader,
	cookies auth.CookieConfig,
	rateLimit middleware.RateLimitConfig,
	logger *slog.Logger,
) {
	router.Get("/health", h.Health.Health)

	router.Group(func(r chi.Router) {
		r.Use(auth.SessionMiddleware(sessions, cookies, logger))

		// Public routes - per-IP ceiling in front of the per-account throttles
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(rateLimit))

			r.Post("/auth/register", h.Auth.Register)
			r.Post("/auth/login", h.Auth.Login)
			r.Post("/auth/two-factor/challenge", h.Auth.TwoFactorChallenge)
			r.Post("/auth/magic-link", h.MagicLink.Request)
			r.Get("/auth/magic-link/{token}", h.MagicLink.Redeem)
			r.Get("/auth/oauth/{provider}", h.OAuth.Redirect)
			r.Get("/auth/oauth/{provider}/callback", h.OAuth.Callback)
			r.Get("/auth/verify-email", h.Account.VerifyEmail)
			r.Post("/auth/forgot-password", h.Reset.Forgot)
			r.Post("/auth/reset-password", h.Reset.Reset)
		})

		r.Post("/auth/logout", h.Auth.Logout)

		// Protected routes - a fully established session is required
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuthenticated)

			r.Get("/account", h.Account.Get)
			r.Patch("/account", h.Account.Update)
			r.Delete("/account", h.Account.Delete)
			r.Put("/account/password", h.Account.ChangePassword)
			r.Post("/account/email/verification-notification", h.Account.ResendVerification)

			r.Get("/account/two-factor", h.TwoFactor.Status)
			r.Post("/account/two-factor/setup", h.TwoFactor.Setup)
			r.Post("/account/two-factor/enable", h.TwoFactor.Enable)
			r.Post("/account/two-factor/disable", h.TwoFactor.Disable)
		})
	})
}
