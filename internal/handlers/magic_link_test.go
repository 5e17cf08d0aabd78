package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMagicLinkRequest_IdenticalResponse(t *testing.T) {
	known := map[string]bool{"alice@example.com": true}
	links := &handlers.MockMagicLinks{
		RequestLinkFunc: func(ctx context.Context, email string) error {
			// the service decides whether to send; the handler never learns
			_ = known[email]
			return nil
		},
	}
	handler := handlers.NewMagicLinkHandler(links, &handlers.MockLoginOrchestrator{}, &handlers.RecordingLoginRecorder{}, handlers.NewTestSessionCookies(), nil, testLogger())

	var bodies []string
	for _, email := range []string{"alice@example.com", "nobody@example.com"} {
		req := handlers.NewTestRequest(t, http.MethodPost, "/auth/magic-link", handlers.MagicLinkRequest{Email: email})
		w := httptest.NewRecorder()
		handler.Request(w, req)

		var resp handlers.MessageResponse
		handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.Equal(t, services.MagicLinkRequestedMessage, resp.Message)
		bodies = append(bodies, w.Body.String())
	}
	assert.Equal(t, bodies[0], bodies[1])
}

func TestMagicLinkRequest_InvalidEmail(t *testing.T) {
	handler := handlers.NewMagicLinkHandler(&handlers.MockMagicLinks{}, &handlers.MockLoginOrchestrator{}, &handlers.RecordingLoginRecorder{}, handlers.NewTestSessionCookies(), nil, testLogger())

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/magic-link", handlers.MagicLinkRequest{Email: "not-an-email"})
	w := httptest.NewRecorder()
	handler.Request(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestMagicLinkRequest_StorageOutage(t *testing.T) {
	links := &handlers.MockMagicLinks{
		RequestLinkFunc: func(context.Context, string) error { return errors.New("db down") },
	}
	handler := handlers.NewMagicLinkHandler(links, &handlers.MockLoginOrchestrator{}, &handlers.RecordingLoginRecorder{}, handlers.NewTestSessionCookies(), nil, testLogger())

	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/magic-link", handlers.MagicLinkRequest{Email: "alice@example.com"})
	w := httptest.NewRecorder()
	handler.Request(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusInternalServerError, "internal_error")
}

func TestMagicLinkRedeem_SignsInRemembered(t *testing.T) {
	links := &handlers.MockMagicLinks{
		RedeemFunc: func(ctx context.Context, token string) (string, error) {
			assert.Equal(t, "tok-123", token)
			return "acc-1", nil
		},
	}
	orchestrator := &handlers.MockLoginOrchestrator{}
	audit := &handlers.RecordingLoginRecorder{}
	handler := handlers.NewMagicLinkHandler(links, orchestrator, audit, handlers.NewTestSessionCookies(), nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/auth/magic-link/tok-123", nil)
	req = handlers.WithURLParam(handlers.WithSession(req, handlers.AnonymousSession()), "token", "tok-123")
	w := httptest.NewRecorder()
	handler.Redeem(w, req)

	var resp handlers.LoginResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, models.LoginStateEstablished, resp.Status)

	require.Len(t, orchestrator.Factors, 1)
	assert.Equal(t, models.FirstFactor{AccountID: "acc-1", Remember: true, Method: models.MethodMagicLink}, orchestrator.Factors[0])
	require.Len(t, audit.Records, 1)
	assert.Equal(t, models.MethodMagicLink, audit.Records[0].Method)
}

func TestMagicLinkRedeem_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "expired or used", err: models.ErrInvalidOrExpiredToken, status: http.StatusBadRequest, code: "bad_request"},
		{name: "account gone", err: models.ErrAccountNotFound, status: http.StatusNotFound, code: "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			links := &handlers.MockMagicLinks{
				RedeemFunc: func(context.Context, string) (string, error) { return "", tt.err },
			}
			orchestrator := &handlers.MockLoginOrchestrator{}
			handler := handlers.NewMagicLinkHandler(links, orchestrator, &handlers.RecordingLoginRecorder{}, handlers.NewTestSessionCookies(), nil, testLogger())

			req := httptest.NewRequest(http.MethodGet, "/auth/magic-link/tok", nil)
			req = handlers.WithURLParam(handlers.WithSession(req, handlers.AnonymousSession()), "token", "tok")
			w := httptest.NewRecorder()
			handler.Redeem(w, req)

			handlers.AssertErrorResponse(t, w, tt.status, tt.code)
			assert.Empty(t, orchestrator.Factors)
		})
	}
}
