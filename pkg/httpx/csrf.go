package httpx

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/atrium/pkg/cryptox"
	"github.com/aussiebroadwan/atrium/pkg/slogx"
)

const (
	CSRFCookie          = "csrf_token"
	CSRFHeader          = "X-CSRF-Token"
	CSRFSignatureHeader = "X-CSRF-Signature"
)

var ErrCSRFMismatch = errors.New("csrf_mismatch")

// CSRFTokenPair is handed to the client. Signature lets a client that cannot
// read the cookie prove the token was issued by this server.
type CSRFTokenPair struct {
	Token     string `json:"csrf_token"`
	Signature string `json:"csrf_signature"`
}

// CSRFGuard implements the double-submit cookie pattern, with an HMAC signed
// variant for clients without cookie access.
type CSRFGuard struct {
	Secret []byte
}

func NewCSRFGuard(secret []byte) *CSRFGuard {
	return &CSRFGuard{Secret: secret}
}

// Issue returns a fresh 256-bit token and its signature.
func (g *CSRFGuard) Issue() (CSRFTokenPair, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return CSRFTokenPair{}, err
	}
	return CSRFTokenPair{Token: token, Signature: cryptox.SignHMAC(g.Secret, token)}, nil
}

// Verify reports whether the cookie and header values are present and equal.
func (g *CSRFGuard) Verify(cookieToken, headerToken string) bool {
	if cookieToken == "" || headerToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) == 1
}

// VerifyWithSignature reports whether signature is this guard's HMAC of token.
func (g *CSRFGuard) VerifyWithSignature(token, signature string) bool {
	if token == "" || signature == "" {
		return false
	}
	return cryptox.VerifyHMAC(g.Secret, token, signature)
}

// Cookie builds the httpOnly cookie that carries the token. Clients read the
// value to echo from the /csrf response body, not from the cookie.
func (g *CSRFGuard) Cookie(token string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CSRFCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// CSRFMiddleware rejects state changing requests that fail both checks.
// GET, HEAD and OPTIONS are let through.
func CSRFMiddleware(g *CSRFGuard) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(CSRFHeader)

			var cookie string
			if c, err := r.Cookie(CSRFCookie); err == nil {
				cookie = c.Value
			}

			if g.Verify(cookie, header) || g.VerifyWithSignature(header, r.Header.Get(CSRFSignatureHeader)) {
				next.ServeHTTP(w, r)
				return
			}

			slogx.FromContext(r.Context()).Warn("csrf check failed",
				"method", r.Method,
				"path", r.URL.Path,
				"has_cookie", cookie != "",
				"has_header", header != "",
			)
			WriteError(w, http.StatusForbidden, ErrCSRFMismatch.Error(), "")
		})
	}
}
