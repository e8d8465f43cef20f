package http

import (
	"net/http"

	"github.com/aussiebroadwan/atrium/internal/auth/service"
	"github.com/aussiebroadwan/atrium/pkg/authsdk"
	"github.com/aussiebroadwan/atrium/pkg/httpx"
)

// LogoutHandler serves POST /v1/auth/logout. It does not require a valid
// access token: an expired one is simply not blacklisted, and the cookies are
// cleared either way.
type LogoutHandler struct {
	AuthService *service.AuthService
	Cookies     CookieConfig
}

// ServeHTTP godoc
//
//	@Summary		Sign out
//	@Description	Blacklists the presented access token until it expires and revokes the session behind
//	@Description	the refresh cookie. With all=true every session of the user is revoked.
//	@Tags			Auth
//	@Accept			json
//	@Param			body			body	authsdk.LogoutRequest	false	"all"
//	@Param			X-CSRF-Token	header	string					true	"CSRF token"
//	@Success		204				"Signed out"
//	@Failure		403				{object}	authsdk.APIError	"csrf mismatch"
//	@Failure		503				{object}	authsdk.APIError	"store unavailable"
//	@Router			/v1/auth/logout [post].
func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.LogoutRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	if err := h.AuthService.Logout(ctx, httpx.AccessToken(r), refreshToken(r), req.All); err != nil {
		writeError(w, r, err)
		return
	}

	h.Cookies.clear(w)
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}
