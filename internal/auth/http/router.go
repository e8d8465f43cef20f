package http

//go:generate swag init -g router.go -d ./,../../../pkg/authsdk -o ../../../api/auth --packageName auth --outputTypes go

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/aussiebroadwan/atrium/internal/auth/service"
	"github.com/aussiebroadwan/atrium/pkg/httpx"
	"github.com/aussiebroadwan/atrium/pkg/jwtx"
	"github.com/aussiebroadwan/atrium/pkg/slogx"

	_ "github.com/aussiebroadwan/atrium/api/auth" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeySet
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        Pinger

	AuthService *service.AuthService
	CSRF        *httpx.CSRFGuard
	Cookies     CookieConfig

	// ClientKey identifies the caller for rate limiting. Defaults to the
	// connection address, ignoring forwarding headers.
	ClientKey httpx.KeyExtractor

	// Token bucket profiles for the endpoints without a category limit.
	ModerateLimit httpx.RateLimitConfig
	PublicLimit   httpx.RateLimitConfig

	// Optional
	Metrics http.Handler
	Breaker Breaker
}

func NewRouter(
	keys *jwtx.KeySet,
	buildVersion string,
	st Pinger,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:           http.NewServeMux(),
		keys:          keys,
		buildVersion:  buildVersion,
		startTime:     time.Now(),
		store:         st,
		logger:        logger,
		ClientKey:     httpx.NewIPKeyExtractor(false),
		ModerateLimit: httpx.ModerateLimit,
		PublicLimit:   httpx.PublicLimit,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerPassword()
	r.registerSessions()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Atrium Authentication Service API
//	@version		0.1.0
//	@description	Session and token lifecycle for the Atrium platform: login, logout, refresh, registration,
//	@description	password reset and role checks. Access tokens are EdDSA signed JWTs, verifiable with the
//	@description	JWKS endpoint. Refresh tokens are opaque and only travel as HttpOnly cookies.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/atrium
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}". The access_token cookie is accepted too.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// byIP limits per client address.
func (r *Router) byIP(cfg httpx.RateLimitConfig) httpx.Middleware {
	return httpx.RateLimitMiddleware(cfg, r.ClientKey)
}

// byUser limits per authenticated user, and per address for anonymous callers.
func (r *Router) byUser(cfg httpx.RateLimitConfig) httpx.Middleware {
	return httpx.RateLimitMiddleware(cfg, httpx.CompositeKeyExtractor(":",
		httpx.UserIDKeyExtractor,
		r.ClientKey,
	))
}

// authn resolves the access token. Store failures answer 503, every other
// failure the generic 401.
func (r *Router) authn() httpx.Middleware {
	return httpx.AuthnMiddleware(r.AuthService, writeError)
}

func (r *Router) registerAuth() {
	// GET /csrf - public, issues the double submit cookie
	r.Mux.Handle("GET /v1/auth/csrf",
		httpx.Chain(CSRFHandler(r.CSRF, r.Cookies),
			r.byIP(r.PublicLimit),
		),
	)

	// Login and register carry their own fixed window limits per client.
	// No CSRF: there is no session to ride yet.
	r.Mux.Handle("POST /v1/auth/login", &LoginHandler{
		AuthService: r.AuthService,
		Cookies:     r.Cookies,
		ClientKey:   r.ClientKey,
	})
	r.Mux.Handle("POST /v1/auth/register", &RegisterHandler{
		AuthService: r.AuthService,
		Cookies:     r.Cookies,
		ClientKey:   r.ClientKey,
	})

	// POST /logout - CSRF protected, works with an expired access token
	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(&LogoutHandler{AuthService: r.AuthService, Cookies: r.Cookies},
			httpx.CSRFMiddleware(r.CSRF),
			r.byIP(r.ModerateLimit),
		),
	)

	// POST /refresh - CSRF protected, moderate limit by IP
	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(&RefreshHandler{AuthService: r.AuthService, Cookies: r.Cookies},
			httpx.CSRFMiddleware(r.CSRF),
			r.byIP(r.ModerateLimit),
		),
	)

	// GET /me - the principal lookup collaborators call on every request
	r.Mux.Handle("GET /v1/auth/me",
		httpx.Chain(MeHandler(),
			r.authn(),
			r.byUser(r.PublicLimit),
		),
	)
}

func (r *Router) registerPassword() {
	// POST /password-reset/request - fixed window limit inside the service
	r.Mux.Handle("POST /v1/auth/password-reset/request", &ResetRequestHandler{
		AuthService: r.AuthService,
		ClientKey:   r.ClientKey,
	})

	// POST /password-reset/confirm - moderate limit by IP against token guessing
	r.Mux.Handle("POST /v1/auth/password-reset/confirm",
		httpx.Chain(&ResetConfirmHandler{AuthService: r.AuthService},
			r.byIP(r.ModerateLimit),
		),
	)

	// POST /password - change password while signed in
	r.Mux.Handle("POST /v1/auth/password",
		httpx.Chain(&ChangePasswordHandler{AuthService: r.AuthService},
			httpx.CSRFMiddleware(r.CSRF),
			r.authn(),
			r.byUser(r.ModerateLimit),
		),
	)
}

func (r *Router) registerSessions() {
	r.Mux.Handle("GET /v1/auth/sessions",
		httpx.Chain(&SessionsHandler{AuthService: r.AuthService},
			r.authn(),
			r.byUser(r.ModerateLimit),
		),
	)

	// POST /users/{id}/revoke-sessions - admin only
	r.Mux.Handle("POST /v1/users/{id}/revoke-sessions",
		httpx.Chain(&RevokeSessionsHandler{AuthService: r.AuthService},
			httpx.CSRFMiddleware(r.CSRF),
			r.authn(),
			httpx.RequireRole(domain.RoleAdmin),
			r.byUser(r.ModerateLimit),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - public limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			r.byIP(r.PublicLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys, r.Breaker),
			r.byIP(r.PublicLimit),
		),
	)

	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.keys),
			r.byIP(r.PublicLimit),
		),
	)

	if r.Metrics != nil {
		r.Mux.Handle("GET /metrics",
			httpx.Chain(r.Metrics,
				r.byIP(r.PublicLimit),
			),
		)
	}
}
