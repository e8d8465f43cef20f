package httpx

import (
	"net/http"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
)

// RequireRole lets the request through when the authenticated caller holds at
// least minimum. It must run after AuthnMiddleware.
func RequireRole(minimum domain.Role) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeBearerError(w, "missing bearer token")
				return
			}
			if !p.Role.AtLeast(minimum) {
				WriteError(w, http.StatusForbidden, "insufficient_role", "requires role "+minimum.String())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
