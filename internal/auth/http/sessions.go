package http

import (
	"net/http"

	"github.com/aussiebroadwan/atrium/internal/auth/service"
	"github.com/aussiebroadwan/atrium/pkg/authsdk"
	"github.com/aussiebroadwan/atrium/pkg/httpx"
	"github.com/aussiebroadwan/atrium/pkg/slogx"
)

// MeHandler serves GET /v1/auth/me.
//
//	@Summary		Current principal
//	@Description	Returns the caller as resolved from the access token.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.PrincipalResponse	"user_id, email, role"
//	@Failure		401	{object}	authsdk.APIError			"missing, invalid or revoked token"
//	@Router			/v1/auth/me [get].
func MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := httpx.PrincipalFromContext(r.Context())
		if !ok {
			authsdk.ErrUnauthorized.WriteError(w)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, authsdk.PrincipalResponse{
			UserID: p.UserID,
			Email:  p.Email,
			Role:   p.Role.String(),
		})
	}
}

// SessionsHandler serves GET /v1/auth/sessions.
type SessionsHandler struct {
	AuthService *service.AuthService
}

// ServeHTTP godoc
//
//	@Summary		List sessions
//	@Description	Lists the caller's active sessions, newest first.
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.SessionsResponse	"sessions"
//	@Failure		401	{object}	authsdk.APIError			"not signed in"
//	@Router			/v1/auth/sessions [get].
func (h *SessionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, ok := httpx.PrincipalFromContext(ctx)
	if !ok {
		authsdk.ErrUnauthorized.WriteError(w)
		return
	}

	sessions, err := h.AuthService.ListSessions(ctx, p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	current := currentSessionID(r, h.AuthService)
	out := authsdk.SessionsResponse{Sessions: make([]authsdk.SessionInfo, 0, len(sessions))}
	for _, s := range sessions {
		out.Sessions = append(out.Sessions, authsdk.SessionInfo{
			ID:        s.ID,
			UserAgent: s.UserAgent,
			IP:        s.IP,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			Current:   s.ID == current,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// RevokeSessionsHandler serves POST /v1/users/{id}/revoke-sessions.
type RevokeSessionsHandler struct {
	AuthService *service.AuthService
}

// ServeHTTP godoc
//
//	@Summary		Sign a user out everywhere
//	@Description	Revokes every session of the user. Access tokens already issued stay valid until they expire.
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id				path		string							true	"User ID"
//	@Param			X-CSRF-Token	header		string							true	"CSRF token"
//	@Success		200				{object}	authsdk.RevokeSessionsResponse	"revoked"
//	@Failure		403				{object}	authsdk.APIError				"requires admin"
//	@Router			/v1/users/{id}/revoke-sessions [post].
func (h *RevokeSessionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := r.PathValue("id")
	if userID == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	n, err := h.AuthService.RevokeUserSessions(ctx, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slogx.FromContext(ctx).Info("user_sessions_revoked", "target_user_id", userID, "revoked", n)
	httpx.WriteJSON(w, http.StatusOK, authsdk.RevokeSessionsResponse{Revoked: n})
}

// currentSessionID resolves the session behind the refresh cookie, or "".
func currentSessionID(r *http.Request, auth *service.AuthService) string {
	rt := refreshToken(r)
	if rt == "" {
		return ""
	}
	s, err := auth.Sessions.GetSessionByRefreshToken(r.Context(), rt)
	if err != nil {
		return ""
	}
	return s.ID
}
