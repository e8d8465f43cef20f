package http

import (
	"net/http"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/aussiebroadwan/atrium/internal/auth/service"
	"github.com/aussiebroadwan/atrium/pkg/authsdk"
	"github.com/aussiebroadwan/atrium/pkg/httpx"
)

// LoginHandler serves POST /v1/auth/login.
type LoginHandler struct {
	AuthService *service.AuthService
	Cookies     CookieConfig
	ClientKey   httpx.KeyExtractor
}

// ServeHTTP godoc
//
//	@Summary		Sign in
//	@Description	Checks the login rate limit for the client, then the credentials. On success the access
//	@Description	token is returned and set as a cookie, and the refresh token is set as an HttpOnly cookie.
//	@Description	The limit applies even when the password is correct.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.LoginRequest	true	"email, password, remember_me"
//	@Success		200		{object}	authsdk.LoginResponse	"access_token, expires_at, session_id, user"
//	@Failure		400		{object}	authsdk.APIError		"malformed body"
//	@Failure		401		{object}	authsdk.APIError		"invalid credentials"
//	@Failure		429		{object}	authsdk.APIError		"rate limit exceeded"
//	@Failure		503		{object}	authsdk.APIError		"store unavailable"
//	@Header			200		{integer}	X-RateLimit-Limit		"ceiling for the window"
//	@Header			200		{integer}	X-RateLimit-Remaining	"requests left in the window"
//	@Header			200		{integer}	X-RateLimit-Reset		"unix time the window resets"
//	@Router			/v1/auth/login [post].
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// 1. Parse the body
	var req authsdk.LoginRequest
	if err := decodeJSON(w, r, &req, false); err != nil || req.Email == "" || req.Password == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	// 2. Authenticate
	client := h.ClientKey(r)
	res, err := h.AuthService.Login(ctx, service.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		ClientKey:  client,
		UserAgent:  r.UserAgent(),
		IP:         client,
	})
	writeRateLimitHeaders(w, res.RateLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// 3. Hand out the cookies and the token
	h.Cookies.setSession(w, res)
	httpx.WriteJSON(w, http.StatusOK, toLoginResponse(res))
}

// RegisterHandler serves POST /v1/auth/register.
type RegisterHandler struct {
	AuthService *service.AuthService
	Cookies     CookieConfig
	ClientKey   httpx.KeyExtractor
}

// ServeHTTP godoc
//
//	@Summary		Create an account
//	@Description	Creates a viewer account and signs it in. Any requested role is ignored.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.RegisterRequest	true	"email, password, name"
//	@Success		201		{object}	authsdk.LoginResponse	"access_token, expires_at, session_id, user"
//	@Failure		400		{object}	authsdk.APIError		"invalid email or weak password"
//	@Failure		409		{object}	authsdk.APIError		"email already registered"
//	@Failure		429		{object}	authsdk.APIError		"rate limit exceeded"
//	@Router			/v1/auth/register [post].
func (h *RegisterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.RegisterRequest
	if err := decodeJSON(w, r, &req, false); err != nil || req.Email == "" || req.Password == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	client := h.ClientKey(r)
	res, err := h.AuthService.Register(ctx, service.RegisterRequest{
		Email:     req.Email,
		Password:  req.Password,
		Name:      req.Name,
		ClientKey: client,
		UserAgent: r.UserAgent(),
		IP:        client,
	})
	writeRateLimitHeaders(w, res.RateLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Cookies.setSession(w, res)
	httpx.WriteJSON(w, http.StatusCreated, toLoginResponse(res))
}

func toLoginResponse(res service.LoginResult) authsdk.LoginResponse {
	return authsdk.LoginResponse{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.AccessExpiresAt,
		SessionID:   res.SessionID,
		User:        toUserResponse(res.User),
	}
}

func toUserResponse(u domain.User) authsdk.UserResponse {
	return authsdk.UserResponse{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
		Role:  u.Role.String(),
	}
}
