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

// TwoFactorManager enrols and removes the second factor of the signed in account
type TwoFactorManager interface {
	BeginTwoFactorSetup(ctx context.Context, sess *session.Session) (*models.TwoFactorSetup, error)
	ConfirmTwoFactorSetup(ctx context.Context, sess *session.Session, code string, client models.ClientInfo) ([]string, error)
	DisableTwoFactor(ctx context.Context, sess *session.Session, password string, client models.ClientInfo) error
	TwoFactorStatus(ctx context.Context, accountID string) (*models.TwoFactorStatus, error)
}

// TwoFactorHandler handles second factor management for the account owner
type TwoFactorHandler struct {
	manager  TwoFactorManager
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

func NewTwoFactorHandler(manager TwoFactorManager, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *TwoFactorHandler {
	return &TwoFactorHandler{
		manager:  manager,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// EnableTwoFactorRequest confirms enrolment with a code from the authenticator
type EnableTwoFactorRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// DisableTwoFactorRequest requires the account password
type DisableTwoFactorRequest struct {
	Password string `json:"password" validate:"required"`
}

// RecoveryCodesResponse is shown once, right after enrolment
type RecoveryCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

// Status reports whether a second factor is enabled
// @Summary Second factor status
// @Produce json
// @Success 200 {object} models.TwoFactorStatus
// @Router /account/two-factor [get]
func (h *TwoFactorHandler) Status(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	status, err := h.manager.TwoFactorStatus(r.Context(), sess.AccountID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// Setup issues a new secret. Nothing is stored on the account until Enable.
// @Summary Begin second factor setup
// @Produce json
// @Success 200 {object} models.TwoFactorSetup
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /account/two-factor/setup [post]
func (h *TwoFactorHandler) Setup(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	setup, err := h.manager.BeginTwoFactorSetup(r.Context(), sess)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, setup)
}

// Enable confirms the pending secret and returns the recovery codes
// @Summary Confirm second factor setup
// @Accept json
// @Param request body EnableTwoFactorRequest true "Code"
// @Produce json
// @Success 200 {object} RecoveryCodesResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 422 {object} pkghttp.ErrorResponse
// @Router /account/two-factor/enable [post]
func (h *TwoFactorHandler) Enable(w http.ResponseWriter, r *http.Request) {
	var req EnableTwoFactorRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	codes, err := h.manager.ConfirmTwoFactorSetup(r.Context(), sess, strings.TrimSpace(req.Code), clientInfo(r, h.ipConfig))
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, RecoveryCodesResponse{RecoveryCodes: codes})
}

// Disable removes the second factor after password re-proof
// @Summary Disable second factor
// @Accept json
// @Param request body DisableTwoFactorRequest true "Password"
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /account/two-factor/disable [post]
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	var req DisableTwoFactorRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	if err := h.manager.DisableTwoFactor(r.Context(), sess, req.Password, clientInfo(r, h.ipConfig)); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Two factor authentication disabled"})
}
