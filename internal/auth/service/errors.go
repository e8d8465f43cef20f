package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/ratelimit"
)

var (
	ErrInvalidCredentials  = errors.New("invalid_credentials")
	ErrExpiredToken        = errors.New("expired_token")
	ErrMalformedToken      = errors.New("malformed_token")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrRevokedToken        = errors.New("revoked_token")
	ErrRevokedSession      = errors.New("revoked_session")
	ErrInvalidRefreshToken = errors.New("invalid_refresh_token")
	ErrRateLimitExceeded   = errors.New("rate_limit_exceeded")
	ErrDuplicateEmail      = errors.New("duplicate_email")
	ErrWeakPassword        = errors.New("weak_password")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidRole         = errors.New("invalid_role")
	ErrInvalidResetToken   = errors.New("invalid_reset_token")
	ErrInsufficientRole    = errors.New("insufficient_role")
	ErrStoreUnavailable    = errors.New("store_unavailable")
)

// RateLimitError carries the limiter decision so callers can surface the
// ceiling and reset time. It matches ErrRateLimitExceeded with errors.Is.
type RateLimitError struct {
	Category ratelimit.Category
	Result   ratelimit.Result
}

func (e *RateLimitError) Error() string {
	return ErrRateLimitExceeded.Error() + ": " + e.Result.Reason
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// PasswordPolicyError lists every rule the password broke. It matches
// ErrWeakPassword with errors.Is.
type PasswordPolicyError struct {
	Problems []string
}

func (e *PasswordPolicyError) Error() string {
	return ErrWeakPassword.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *PasswordPolicyError) Unwrap() error { return ErrWeakPassword }

// IsTrustBoundary reports whether err is a denial that must not reveal which
// check failed.
func IsTrustBoundary(err error) bool {
	for _, target := range []error{
		ErrInvalidCredentials,
		ErrExpiredToken,
		ErrMalformedToken,
		ErrInvalidSignature,
		ErrRevokedToken,
		ErrRevokedSession,
		ErrInvalidRefreshToken,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// DefaultStoreTimeout bounds every store round trip made by a service.
const DefaultStoreTimeout = 2 * time.Second

func storeContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// unavailable marks a store failure. Lookups that fail this way deny the
// request; a timeout is never treated as success.
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

type clock func() time.Time

func (c clock) now() time.Time {
	if c != nil {
		return c()
	}
	return time.Now()
}
