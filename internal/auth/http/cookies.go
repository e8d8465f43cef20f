package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/service"
	"github.com/aussiebroadwan/atrium/pkg/httpx"
)

const (
	// RefreshTokenCookie carries the opaque refresh token. It is scoped to the
	// auth endpoints so it never travels with ordinary API calls.
	RefreshTokenCookie = "refresh_token"
	refreshCookiePath  = "/v1/auth"
)

// CookieConfig controls the attributes of the session cookies. Secure should
// only be off for local development over plain http.
type CookieConfig struct {
	Secure bool
	Domain string
}

func (c CookieConfig) cookie(name, value, path string, expires time.Time) *http.Cookie {
	maxAge := int(time.Until(expires).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.Domain,
		MaxAge:   maxAge,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// setAccess sets the access token cookie. Its Max-Age matches the token TTL.
func (c CookieConfig) setAccess(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, c.cookie(httpx.AccessTokenCookie, token, "/", expiresAt))
}

// setSession sets both cookies after login or registration.
func (c CookieConfig) setSession(w http.ResponseWriter, res service.LoginResult) {
	c.setAccess(w, res.AccessToken, res.AccessExpiresAt)
	if res.RefreshToken != "" {
		http.SetCookie(w, c.cookie(RefreshTokenCookie, res.RefreshToken, refreshCookiePath, res.SessionExpiresAt))
	}
}

// clear expires both cookies.
func (c CookieConfig) clear(w http.ResponseWriter) {
	for _, ck := range []*http.Cookie{
		c.cookie(httpx.AccessTokenCookie, "", "/", time.Time{}),
		c.cookie(RefreshTokenCookie, "", refreshCookiePath, time.Time{}),
	} {
		http.SetCookie(w, ck)
	}
}

func refreshToken(r *http.Request) string {
	if c, err := r.Cookie(RefreshTokenCookie); err == nil {
		return c.Value
	}
	return ""
}
