package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("resource already exists")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)

// Authentication failures. Each one is safe to show to the end user.
var (
	ErrInvalidCredentials          = errors.New("these credentials do not match our records")
	ErrRateLimited                 = errors.New("too many attempts")
	ErrInvalidOrExpiredToken       = errors.New("this link is invalid or has expired")
	ErrAccountNotFound             = errors.New("user not found")
	ErrInvalidSecondFactor         = errors.New("the provided two factor authentication code was invalid")
	ErrSecondFactorSetupNotStarted = errors.New("two factor authentication setup has not been started")
	ErrSecondFactorAlreadyEnabled  = errors.New("two factor authentication is already enabled")
	ErrSecondFactorNotEnabled      = errors.New("two factor authentication is not enabled")
	ErrNoPendingChallenge          = errors.New("no two factor challenge is pending")
	ErrExternalServiceUnavailable  = errors.New("external service unavailable")
	ErrCompromisedPassword         = errors.New("this password has appeared in a data breach, please choose a different password")
	ErrWeakPassword                = errors.New("password does not meet requirements")
	ErrProviderNotSupported        = errors.New("login provider is not supported")
	ErrProviderEmailMissing        = errors.New("login provider did not return an email address")
	ErrInvalidOAuthState           = errors.New("invalid oauth state")
)

// RateLimitedError reports how long the caller must wait before retrying.
// It matches ErrRateLimited with errors.Is.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many attempts, please try again in %d seconds", e.Seconds())
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// Seconds rounds the remaining wait up so a client never retries early.
func (e *RateLimitedError) Seconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// NewRateLimitedError builds a RateLimitedError for the given wait.
func NewRateLimitedError(retryAfter time.Duration) error {
	return &RateLimitedError{RetryAfter: retryAfter}
}
