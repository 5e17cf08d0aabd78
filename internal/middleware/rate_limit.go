package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	IPConfig          *pkghttp.IPConfig
}

// DefaultAuthRateLimit returns the per-IP ceiling for the public auth endpoints.
// It sits in front of the per-account throttles in the services and only
// blunts request floods.
func DefaultAuthRateLimit(requestsPerMinute int, ipConfig *pkghttp.IPConfig) RateLimitConfig {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return RateLimitConfig{
		RequestsPerMinute: requestsPerMinute,
		IPConfig:          ipConfig,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP.
// The client IP honours the trusted proxy list, so a spoofed X-Forwarded-For
// cannot pick a fresh bucket.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests")
		}),
	)
}
