package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/session"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// AccountServiceInterface defines the account owner's own operations
type AccountServiceInterface interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	UpdateProfile(ctx context.Context, accountID, name, email string, client models.ClientInfo) (*models.Account, error)
	ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string, client models.ClientInfo) error
	Delete(ctx context.Context, sess *session.Session, password string, client models.ClientInfo) error
}

// EmailVerifier confirms email ownership
type EmailVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
	Resend(ctx context.Context, accountID string) error
}

// AccountHandler handles profile, password, deletion and email verification
type AccountHandler struct {
	accounts     AccountServiceInterface
	verification EmailVerifier
	cookies      *SessionCookies
	ipConfig     *pkghttp.IPConfig
	logger       *slog.Logger
}

func NewAccountHandler(
	accounts AccountServiceInterface,
	verification EmailVerifier,
	cookies *SessionCookies,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) *AccountHandler {
	return &AccountHandler{
		accounts:     accounts,
		verification: verification,
		cookies:      cookies,
		ipConfig:     ipConfig,
		logger:       logger,
	}
}

// UpdateProfileRequest represents the request body for a profile update
type UpdateProfileRequest struct {
	Name  string `json:"name" validate:"required,max=255"`
	Email string `json:"email" validate:"required,email,max=255"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	Password        string `json:"password" validate:"required"`
}

// DeleteAccountRequest requires the account password
type DeleteAccountRequest struct {
	Password string `json:"password"`
}

// Get returns the signed in account
// @Summary Current account
// @Produce json
// @Success 200 {object} models.AccountResponse
// @Router /account [get]
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), sess.AccountID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, account.ToResponse())
}

// Update changes name and email
// @Summary Update profile
// @Accept json
// @Param request body UpdateProfileRequest true "Profile"
// @Produce json
// @Success 200 {object} models.AccountResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /account [patch]
func (h *AccountHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	account, err := h.accounts.UpdateProfile(r.Context(), sess.AccountID, strings.TrimSpace(req.Name), req.Email, clientInfo(r, h.ipConfig))
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, account.ToResponse())
}

// ChangePassword replaces the password after re-proof of the current one
// @Summary Change password
// @Accept json
// @Param request body ChangePasswordRequest true "Passwords"
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 422 {object} pkghttp.ErrorResponse
// @Router /account/password [put]
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), sess.AccountID, req.CurrentPassword, req.Password, clientInfo(r, h.ipConfig)); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password updated"})
}

// Delete removes the account and ends the session
// @Summary Delete account
// @Accept json
// @Param request body DeleteAccountRequest true "Password"
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /account [delete]
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req DeleteAccountRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	if err := h.accounts.Delete(r.Context(), sess, req.Password, clientInfo(r, h.ipConfig)); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	h.cookies.Write(w, sess)
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Account deleted"})
}

// VerifyEmail consumes an emailed verification token
// @Summary Verify email
// @Param token query string true "Verification token"
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /auth/verify-email [get]
func (h *AccountHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	if _, err := h.verification.Verify(r.Context(), r.URL.Query().Get("token")); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Email address verified"})
}

// ResendVerification emails a new verification link
// @Summary Resend verification email
// @Produce json
// @Success 202 {object} MessageResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /account/email/verification-notification [post]
func (h *AccountHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	if err := h.verification.Resend(r.Context(), sess.AccountID); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: "verification-link-sent"})
}
