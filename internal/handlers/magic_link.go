package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/chi/v5"
)

// MagicLinks issues and redeems passwordless login links
type MagicLinks interface {
	RequestLink(ctx context.Context, email string) error
	Redeem(ctx context.Context, token string) (string, error)
}

// MagicLinkHandler handles passwordless email login
type MagicLinkHandler struct {
	links        MagicLinks
	orchestrator LoginOrchestrator
	audit        LoginRecorder
	cookies      *SessionCookies
	ipConfig     *pkghttp.IPConfig
	logger       *slog.Logger
}

func NewMagicLinkHandler(
	links MagicLinks,
	orchestrator LoginOrchestrator,
	audit LoginRecorder,
	cookies *SessionCookies,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) *MagicLinkHandler {
	return &MagicLinkHandler{
		links:        links,
		orchestrator: orchestrator,
		audit:        audit,
		cookies:      cookies,
		ipConfig:     ipConfig,
		logger:       logger,
	}
}

// MagicLinkRequest represents the request body for a magic link
type MagicLinkRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

// Request emails a login link. The response is identical whether or not an
// account exists for the address.
// @Summary Request magic link
// @Accept json
// @Param request body MagicLinkRequest true "Email"
// @Produce json
// @Success 200 {object} MessageResponse
// @Router /auth/magic-link [post]
func (h *MagicLinkHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req MagicLinkRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.links.RequestLink(r.Context(), req.Email); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: services.MagicLinkRequestedMessage})
}

// Redeem consumes the link and signs the account in. Magic link sessions are
// remembered.
// @Summary Redeem magic link
// @Param token path string true "Link token"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /auth/magic-link/{token} [get]
func (h *MagicLinkHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	client := clientInfo(r, h.ipConfig)
	accountID, err := h.links.Redeem(r.Context(), chi.URLParam(r, "token"))
	h.audit.RecordLogin(r.Context(), models.MethodMagicLink, accountID, "", client, err)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	result, err := h.orchestrator.CompleteFirstFactor(r.Context(), sess, models.FirstFactor{
		AccountID: accountID,
		Remember:  true,
		Method:    models.MethodMagicLink,
	})
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	h.cookies.Write(w, sess)
	pkghttp.WriteJSON(w, http.StatusOK, loginResponse(result))
}
