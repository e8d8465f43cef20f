package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/atrium/internal/auth/service"
	"github.com/aussiebroadwan/atrium/pkg/authsdk"
	"github.com/aussiebroadwan/atrium/pkg/httpx"
)

// ResetRequestHandler serves POST /v1/auth/password-reset/request.
type ResetRequestHandler struct {
	AuthService *service.AuthService
	ClientKey   httpx.KeyExtractor
}

// ServeHTTP godoc
//
//	@Summary		Request a password reset
//	@Description	Sends a reset link if the email belongs to an account. The response is the same
//	@Description	whether or not it does.
//	@Tags			Password
//	@Accept			json
//	@Param			body	body	authsdk.PasswordResetRequest	true	"email"
//	@Success		202		"Accepted"
//	@Failure		429		{object}	authsdk.APIError	"rate limit exceeded"
//	@Router			/v1/auth/password-reset/request [post].
func (h *ResetRequestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.PasswordResetRequest
	if err := decodeJSON(w, r, &req, false); err != nil || req.Email == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	err := h.AuthService.RequestPasswordReset(ctx, req.Email, h.ClientKey(r))
	if errors.Is(err, service.ErrRateLimitExceeded) {
		writeError(w, r, err)
		return
	}
	// Anything else was logged by the service and must look like success.

	httpx.NoCache(w)
	w.WriteHeader(http.StatusAccepted)
}

// ResetConfirmHandler serves POST /v1/auth/password-reset/confirm.
type ResetConfirmHandler struct {
	AuthService *service.AuthService
}

// ServeHTTP godoc
//
//	@Summary		Confirm a password reset
//	@Description	Consumes the reset token, sets the new password and signs the user out everywhere.
//	@Tags			Password
//	@Accept			json
//	@Param			body	body	authsdk.PasswordResetConfirmRequest	true	"token, new_password"
//	@Success		204		"Password changed"
//	@Failure		400		{object}	authsdk.APIError	"invalid token or weak password"
//	@Failure		503		{object}	authsdk.APIError	"store unavailable"
//	@Router			/v1/auth/password-reset/confirm [post].
func (h *ResetConfirmHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.PasswordResetConfirmRequest
	if err := decodeJSON(w, r, &req, false); err != nil || req.Token == "" || req.NewPassword == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	if err := h.AuthService.ConfirmPasswordReset(ctx, req.Token, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}

	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

// ChangePasswordHandler serves POST /v1/auth/password for a signed in user.
type ChangePasswordHandler struct {
	AuthService *service.AuthService
}

// ServeHTTP godoc
//
//	@Summary		Change password
//	@Description	Replaces the password after checking the current one. Every session except the one
//	@Description	behind the request's refresh cookie is revoked.
//	@Tags			Password
//	@Accept			json
//	@Security		BearerAuth
//	@Param			body			body	authsdk.ChangePasswordRequest	true	"current_password, new_password"
//	@Param			X-CSRF-Token	header	string							true	"CSRF token"
//	@Success		204				"Password changed"
//	@Failure		400				{object}	authsdk.APIError	"weak password"
//	@Failure		401				{object}	authsdk.APIError	"wrong current password"
//	@Router			/v1/auth/password [post].
func (h *ChangePasswordHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, ok := httpx.PrincipalFromContext(ctx)
	if !ok {
		authsdk.ErrUnauthorized.WriteError(w)
		return
	}

	var req authsdk.ChangePasswordRequest
	if err := decodeJSON(w, r, &req, false); err != nil || req.CurrentPassword == "" || req.NewPassword == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	keep := currentSessionID(r, h.AuthService)
	if err := h.AuthService.ChangePassword(ctx, p, req.CurrentPassword, req.NewPassword, keep); err != nil {
		writeError(w, r, err)
		return
	}

	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}
