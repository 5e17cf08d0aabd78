package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(handler http.Handler, remoteAddr, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestRateLimitByIP_EnforcesLimit(t *testing.T) {
	handler := RateLimitByIP(DefaultAuthRateLimit(3, nil))(okHandler())

	for i := 0; i < 3; i++ {
		w := serve(handler, "192.0.2.10:5000", "")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := serve(handler, "192.0.2.10:5000", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rate_limit_exceeded", resp.Error)
}

func TestRateLimitByIP_IsolatesClients(t *testing.T) {
	handler := RateLimitByIP(DefaultAuthRateLimit(1, nil))(okHandler())

	assert.Equal(t, http.StatusOK, serve(handler, "192.0.2.10:5000", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "192.0.2.10:5001", "").Code)
	assert.Equal(t, http.StatusOK, serve(handler, "192.0.2.11:5000", "").Code)
}

func TestRateLimitByIP_IgnoresUntrustedForwardedFor(t *testing.T) {
	handler := RateLimitByIP(DefaultAuthRateLimit(1, &pkghttp.IPConfig{}))(okHandler())

	assert.Equal(t, http.StatusOK, serve(handler, "192.0.2.10:5000", "198.51.100.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "192.0.2.10:5000", "198.51.100.2").Code,
		"a forged header must not open a new bucket")
}

func TestRateLimitByIP_TrustedProxy(t *testing.T) {
	handler := RateLimitByIP(DefaultAuthRateLimit(1, &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}))(okHandler())

	assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.5:5000", "198.51.100.1").Code)
	assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.5:5000", "198.51.100.2").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "10.0.0.5:5000", "198.51.100.1").Code)
}

func TestDefaultAuthRateLimit_FallsBackOnZero(t *testing.T) {
	assert.Equal(t, 60, DefaultAuthRateLimit(0, nil).RequestsPerMinute)
}
