package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/atrium/internal/auth/service"
	"github.com/aussiebroadwan/atrium/pkg/authsdk"
	"github.com/aussiebroadwan/atrium/pkg/httpx"
	"github.com/aussiebroadwan/atrium/pkg/slogx"
)

// RefreshHandler serves POST /v1/auth/refresh.
type RefreshHandler struct {
	AuthService *service.AuthService
	Cookies     CookieConfig
}

// ServeHTTP godoc
//
//	@Summary		Refresh the access token
//	@Description	With a valid access token close to expiry a new one is minted; further away nothing
//	@Description	changes and refreshed is false. If the access token is missing or no longer valid the
//	@Description	refresh cookie is used to mint a new one from the session.
//	@Tags			Auth
//	@Produce		json
//	@Security		BearerAuth
//	@Param			X-CSRF-Token	header		string					true	"CSRF token"
//	@Success		200				{object}	authsdk.RefreshResponse	"refreshed, access_token, expires_at"
//	@Failure		401				{object}	authsdk.APIError		"no usable token or session"
//	@Failure		503				{object}	authsdk.APIError		"store unavailable"
//	@Router			/v1/auth/refresh [post].
func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	// 1. Try the access token first
	var err error = service.ErrMalformedToken
	if access := httpx.AccessToken(r); access != "" {
		var res service.RefreshResult
		res, err = h.AuthService.Refresh(ctx, access)
		switch {
		case err == nil && res.Status == service.RefreshNewToken:
			h.Cookies.setAccess(w, res.Token.Token, res.Token.ExpiresAt)
			httpx.WriteJSON(w, http.StatusOK, authsdk.RefreshResponse{
				Refreshed:   true,
				AccessToken: res.Token.Token,
				ExpiresAt:   &res.Token.ExpiresAt,
			})
			return
		case err == nil:
			httpx.WriteJSON(w, http.StatusOK, authsdk.RefreshResponse{Refreshed: false})
			return
		case errors.Is(err, service.ErrStoreUnavailable):
			writeError(w, r, err)
			return
		}
		log.Debug("access token not refreshable, trying session", "error", err)
	}

	// 2. Fall back to the session cookie
	rt := refreshToken(r)
	if rt == "" {
		writeError(w, r, err)
		return
	}
	res, err := h.AuthService.RefreshSession(ctx, rt)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Cookies.setAccess(w, res.AccessToken, res.AccessExpiresAt)
	httpx.WriteJSON(w, http.StatusOK, authsdk.RefreshResponse{
		Refreshed:   true,
		AccessToken: res.AccessToken,
		ExpiresAt:   &res.AccessExpiresAt,
	})
}
