package http

import (
	"net/http"

	"github.com/aussiebroadwan/atrium/pkg/authsdk"
	"github.com/aussiebroadwan/atrium/pkg/httpx"
	"github.com/aussiebroadwan/atrium/pkg/slogx"
)

// CSRFHandler issues a CSRF token pair.
//
//	@Summary		Issue a CSRF token
//	@Description	Sets the csrf_token cookie and returns the token with its HMAC signature. Echo the token
//	@Description	in X-CSRF-Token on every state changing request, or send it with X-CSRF-Signature.
//	@Tags			Auth
//	@Produce		json
//	@Success		200	{object}	authsdk.CSRFResponse	"csrf_token, csrf_signature"
//	@Router			/v1/auth/csrf [get].
func CSRFHandler(guard *httpx.CSRFGuard, cookies CookieConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pair, err := guard.Issue()
		if err != nil {
			slogx.FromContext(r.Context()).Error("failed to issue csrf token", "error", err)
			authsdk.ErrServerError.WriteError(w)
			return
		}

		c := guard.Cookie(pair.Token, cookies.Secure)
		c.Domain = cookies.Domain
		http.SetCookie(w, c)
		httpx.WriteJSON(w, http.StatusOK, authsdk.CSRFResponse{
			CSRFToken:     pair.Token,
			CSRFSignature: pair.Signature,
		})
	}
}
