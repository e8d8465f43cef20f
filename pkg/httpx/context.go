package httpx

import (
	"context"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
)

type ctxKey string

const (
	CtxKeyPrincipal ctxKey = "principal"
	CtxKeyToken     ctxKey = "access_token"
)

// WithPrincipal stores the authenticated caller and the token it presented.
func WithPrincipal(ctx context.Context, p domain.Principal, token string) context.Context {
	ctx = context.WithValue(ctx, CtxKeyPrincipal, p)
	ctx = context.WithValue(ctx, CtxKeyToken, token)
	return ctx
}

func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(CtxKeyPrincipal).(domain.Principal)
	return p, ok
}

// TokenFromContext returns the access token the principal was built from.
func TokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(CtxKeyToken).(string)
	return tok
}
