package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/chi/v5"
)

// OAuthProviders runs the authorization code flow against a named provider
type OAuthProviders interface {
	AuthCodeURL(provider, state string) (string, error)
	Exchange(ctx context.Context, provider, code string) (models.ExternalIdentity, error)
}

// IdentityResolver maps an external identity to a local account
type IdentityResolver interface {
	Resolve(ctx context.Context, identity models.ExternalIdentity) (string, error)
}

// StateSigner issues and checks the OAuth state parameter
type StateSigner interface {
	Issue(provider, binding string) (string, error)
	Verify(state, provider, binding string) error
}

// OAuthHandler handles social login
type OAuthHandler struct {
	providers    OAuthProviders
	linker       IdentityResolver
	states       StateSigner
	orchestrator LoginOrchestrator
	audit        LoginRecorder
	cookies      *SessionCookies
	stateCookie  auth.CookieConfig
	stateTTL     time.Duration
	ipConfig     *pkghttp.IPConfig
	logger       *slog.Logger
}

// NewOAuthHandler creates a new OAuthHandler. stateCookie names the short
// lived cookie that binds the state parameter to the browser.
func NewOAuthHandler(
	providers OAuthProviders,
	linker IdentityResolver,
	states StateSigner,
	orchestrator LoginOrchestrator,
	audit LoginRecorder,
	cookies *SessionCookies,
	stateCookie auth.CookieConfig,
	stateTTL time.Duration,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) *OAuthHandler {
	return &OAuthHandler{
		providers:    providers,
		linker:       linker,
		states:       states,
		orchestrator: orchestrator,
		audit:        audit,
		cookies:      cookies,
		stateCookie:  stateCookie,
		stateTTL:     stateTTL,
		ipConfig:     ipConfig,
		logger:       logger,
	}
}

// Redirect sends the browser to the provider consent page
// @Summary Start social login
// @Param provider path string true "Provider name"
// @Success 302
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /auth/oauth/{provider} [get]
func (h *OAuthHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	binding, err := pkgauth.GenerateToken()
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	state, err := h.states.Issue(provider, binding)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	target, err := h.providers.AuthCodeURL(provider, state)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	auth.SetSessionCookie(w, binding, h.stateTTL, h.stateCookie)
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback finishes the code exchange, links or creates the account and
// signs it in. Social login sessions are remembered.
// @Summary Social login callback
// @Param provider path string true "Provider name"
// @Param code query string true "Authorization code"
// @Param state query string true "State"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 403 {object} pkghttp.ErrorResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /auth/oauth/{provider}/callback [get]
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	binding := auth.GetSessionCookie(r, h.stateCookie)
	auth.ClearSessionCookie(w, h.stateCookie)

	if msg := r.URL.Query().Get("error"); msg != "" {
		h.logger.Info("oauth login declined at provider",
			slog.String("provider", provider),
			slog.String("reason", msg))
		pkghttp.WriteForbidden(w, "Sign-in was cancelled at the provider")
		return
	}

	if err := h.states.Verify(r.URL.Query().Get("state"), provider, binding); err != nil {
		writeServiceError(w, models.ErrInvalidOAuthState, h.logger)
		return
	}

	client := clientInfo(r, h.ipConfig)
	identity, err := h.providers.Exchange(r.Context(), provider, r.URL.Query().Get("code"))
	if err != nil {
		h.audit.RecordLogin(r.Context(), models.MethodOAuth, "", "", client, err)
		writeServiceError(w, err, h.logger)
		return
	}

	accountID, err := h.linker.Resolve(r.Context(), identity)
	h.audit.RecordLogin(r.Context(), models.MethodOAuth, accountID, identity.Email, client, err)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	result, err := h.orchestrator.CompleteFirstFactor(r.Context(), sess, models.FirstFactor{
		AccountID: accountID,
		Remember:  true,
		Method:    models.MethodOAuth,
	})
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	h.cookies.Write(w, sess)
	pkghttp.WriteJSON(w, http.StatusOK, loginResponse(result))
}
