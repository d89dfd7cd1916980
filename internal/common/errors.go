// Package common defines shared constants and sentinel errors used across
// the service layers. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"time"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal      = errors.New("internal error")
	ErrorUnauthorized  = errors.New("unauthorized")
	ErrorConfiguration = errors.New("configuration error")

	// Credential errors. Not-found and wrong-password both surface as
	// ErrInvalidCredentials so callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotVerified   = errors.New("email not verified")

	// Refresh-token lifecycle errors. The HTTP boundary collapses all three
	// into one invalid-refresh-token response; services distinguish them.
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenExpired  = errors.New("refresh token expired")
	ErrRefreshTokenRevoked  = errors.New("refresh token revoked")
	ErrInvalidRefreshToken  = errors.New("invalid refresh token")

	// Session errors.
	ErrSessionRevoked = errors.New("session already revoked")

	// One-time-code errors. Expired and not-found are reported identically
	// at the boundary; AlreadyUsed means a concurrent consumer won the race.
	ErrCodeNotFound    = errors.New("code not found")
	ErrCodeExpired     = errors.New("code expired")
	ErrCodeAlreadyUsed = errors.New("code already used")

	// Identity-linking errors.
	ErrNoEmailAvailable = errors.New("provider returned no usable email")

	// Throttling.
	ErrRateLimited = errors.New("rate limited")

	// Access-token errors.
	ErrInvalidToken = errors.New("invalid token")
)

// RateLimitError carries the wait until the next attempt may succeed.
// errors.Is(err, ErrRateLimited) matches it.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return "rate limited" }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
