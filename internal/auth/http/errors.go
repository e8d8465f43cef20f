package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/ratelimit"
	"github.com/aussiebroadwan/atrium/internal/auth/service"
	"github.com/aussiebroadwan/atrium/pkg/authsdk"
	"github.com/aussiebroadwan/atrium/pkg/httpx"
	"github.com/aussiebroadwan/atrium/pkg/slogx"
)

// writeError maps a service error onto a response. Every trust boundary
// failure gets the same 401 body so a client cannot tell a wrong password
// from an unknown email or a revoked token from an expired one.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		rlErr     *service.RateLimitError
		policyErr *service.PasswordPolicyError
	)

	switch {
	case errors.As(err, &rlErr):
		writeRateLimitHeaders(w, rlErr.Result)
		httpx.SetRetryAfter(w, rlErr.Result.RetryAfter(time.Now()))
		authsdk.ErrRateLimited.WriteError(w)

	case errors.As(err, &policyErr):
		authsdk.NewAPIError(http.StatusBadRequest, authsdk.ErrorCodeWeakPassword,
			strings.Join(policyErr.Problems, "; ")).WriteError(w)

	case errors.Is(err, service.ErrInvalidEmail):
		authsdk.ErrInvalidEmail.WriteError(w)

	case errors.Is(err, service.ErrDuplicateEmail):
		authsdk.ErrDuplicateEmail.WriteError(w)

	case errors.Is(err, service.ErrInvalidRole):
		authsdk.NewAPIError(http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, "unknown role").WriteError(w)

	case errors.Is(err, service.ErrInvalidResetToken):
		authsdk.ErrInvalidResetToken.WriteError(w)

	case errors.Is(err, service.ErrInsufficientRole):
		authsdk.ErrInsufficientRole.WriteError(w)

	case service.IsTrustBoundary(err):
		authsdk.ErrUnauthorized.WriteError(w)

	case errors.Is(err, service.ErrStoreUnavailable):
		slogx.FromContext(r.Context()).Error("store unavailable", "error", err)
		authsdk.ErrServiceUnavailable.WriteError(w)

	default:
		slogx.FromContext(r.Context()).Error("unhandled error", "error", err)
		authsdk.ErrServerError.WriteError(w)
	}
}

// writeRateLimitHeaders copies a limiter decision onto the response. Results
// from requests that never reached the limiter are skipped.
func writeRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	if res.Limit == 0 {
		return
	}
	httpx.SetRateLimitHeaders(w, res.Limit, res.Remaining, res.ResetAt)
}
