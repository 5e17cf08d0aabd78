package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// PasswordResetter emails reset links and applies reset passwords
type PasswordResetter interface {
	RequestReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string, client models.ClientInfo) error
}

// PasswordResetHandler handles the forgotten password flow
type PasswordResetHandler struct {
	resets   PasswordResetter
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

func NewPasswordResetHandler(resets PasswordResetter, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *PasswordResetHandler {
	return &PasswordResetHandler{
		resets:   resets,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// ForgotPasswordRequest represents the request body for a reset link
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

// ResetPasswordRequest represents the request body for a password reset
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Forgot emails a reset link. The response is identical whether or not an
// account exists for the address.
// @Summary Request password reset
// @Accept json
// @Param request body ForgotPasswordRequest true "Email"
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/forgot-password [post]
func (h *PasswordResetHandler) Forgot(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.resets.RequestReset(r.Context(), req.Email); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: services.PasswordResetRequestedMessage})
}

// Reset sets a new password with an emailed token. Every session of the
// account ends, so the owner signs in again afterwards.
// @Summary Reset password
// @Accept json
// @Param request body ResetPasswordRequest true "Token and new password"
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 422 {object} pkghttp.ErrorResponse
// @Router /auth/reset-password [post]
func (h *PasswordResetHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.resets.ResetPassword(r.Context(), req.Token, req.Password, clientInfo(r, h.ipConfig)); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password reset, please sign in again"})
}
