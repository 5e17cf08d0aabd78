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

// PasswordAuthenticator verifies an email and password pair
type PasswordAuthenticator interface {
	Authenticate(ctx context.Context, email, password string, client models.ClientInfo) (string, error)
}

// LoginOrchestrator drives the session through the login state machine
type LoginOrchestrator interface {
	CompleteFirstFactor(ctx context.Context, sess *session.Session, factor models.FirstFactor) (*models.LoginResult, error)
	VerifySecondFactor(ctx context.Context, sess *session.Session, code string, client models.ClientInfo) (*models.LoginResult, error)
	Logout(ctx context.Context, sess *session.Session) error
}

// Registrar creates password accounts
type Registrar interface {
	Register(ctx context.Context, name, email, password string) (*models.Account, error)
}

// LoginRecorder writes the audit record of a login step
type LoginRecorder interface {
	RecordLogin(ctx context.Context, method, accountID, email string, client models.ClientInfo, loginErr error)
}

// AuthHandler handles registration, password login, the second factor
// challenge and logout
type AuthHandler struct {
	verifier     PasswordAuthenticator
	orchestrator LoginOrchestrator
	registrar    Registrar
	audit        LoginRecorder
	cookies      *SessionCookies
	ipConfig     *pkghttp.IPConfig
	logger       *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	verifier PasswordAuthenticator,
	orchestrator LoginOrchestrator,
	registrar Registrar,
	audit LoginRecorder,
	cookies *SessionCookies,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		verifier:     verifier,
		orchestrator: orchestrator,
		registrar:    registrar,
		audit:        audit,
		cookies:      cookies,
		ipConfig:     ipConfig,
		logger:       logger,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Remember bool   `json:"remember"`
}

// TwoFactorChallengeRequest carries a six digit code or a recovery code
type TwoFactorChallengeRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

// Register handles account registration and signs the new account in
// @Summary Register
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 201 {object} models.AccountResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Failure 422 {object} pkghttp.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	account, err := h.registrar.Register(r.Context(), strings.TrimSpace(req.Name), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	// a brand new account has no second factor, so this always establishes
	if _, err := h.orchestrator.CompleteFirstFactor(r.Context(), sess, models.FirstFactor{
		AccountID: account.ID,
		Method:    models.MethodPassword,
	}); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	h.cookies.Write(w, sess)
	pkghttp.WriteJSON(w, http.StatusCreated, account.ToResponse())
}

// Login handles the password first factor
// @Summary Password login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	client := clientInfo(r, h.ipConfig)
	accountID, err := h.verifier.Authenticate(r.Context(), req.Email, req.Password, client)
	h.audit.RecordLogin(r.Context(), models.MethodPassword, accountID, req.Email, client, err)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	result, err := h.orchestrator.CompleteFirstFactor(r.Context(), sess, models.FirstFactor{
		AccountID: accountID,
		Remember:  req.Remember,
		Method:    models.MethodPassword,
	})
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	h.cookies.Write(w, sess)
	pkghttp.WriteJSON(w, http.StatusOK, loginResponse(result))
}

// TwoFactorChallenge completes a login that is waiting for its second factor
// @Summary Second factor challenge
// @Accept json
// @Param request body TwoFactorChallengeRequest true "Code"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 422 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/two-factor/challenge [post]
func (h *AuthHandler) TwoFactorChallenge(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorChallengeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	client := clientInfo(r, h.ipConfig)
	var pendingAccount, method string
	if sess.PendingChallenge != nil {
		pendingAccount = sess.PendingChallenge.AccountID
		method = sess.PendingChallenge.Method
	}

	result, err := h.orchestrator.VerifySecondFactor(r.Context(), sess, strings.TrimSpace(req.Code), client)
	if pendingAccount != "" {
		h.audit.RecordLogin(r.Context(), method+"+two_factor", pendingAccount, "", client, err)
	}
	if err != nil {
		// an expired challenge was cleared from the session
		h.cookies.Write(w, sess)
		writeServiceError(w, err, h.logger)
		return
	}

	h.cookies.Write(w, sess)
	pkghttp.WriteJSON(w, http.StatusOK, loginResponse(result))
}

// Logout destroys the session
// @Summary Logout
// @Produce json
// @Success 200 {object} MessageResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	if err := h.orchestrator.Logout(r.Context(), sess); err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	h.cookies.Write(w, sess)
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
}
