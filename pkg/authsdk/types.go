package authsdk

import (
	"time"

	"github.com/aussiebroadwan/atrium/pkg/jwtx"
)

// ============================================================================
// Authentication Types
// ============================================================================

// LoginRequest is the body of POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`

	// RememberMe selects the extended access token lifetime
	RememberMe bool `json:"remember_me,omitempty"`
}

// RegisterRequest is the body of POST /v1/auth/register. Self registered
// accounts always get the viewer role.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// LoginResponse is returned from login and register. The refresh token is
// only ever sent as an HttpOnly cookie.
type LoginResponse struct {
	// AccessToken is the JWT to send as "Authorization: Bearer ..."
	AccessToken string `json:"access_token"`

	// ExpiresAt is when the access token stops being accepted
	ExpiresAt time.Time `json:"expires_at"`

	// SessionID identifies the session behind the refresh cookie
	SessionID string `json:"session_id"`

	User UserResponse `json:"user"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
}

// LogoutRequest is the optional body of POST /v1/auth/logout.
type LogoutRequest struct {
	// All revokes every session of the user, not just this one
	All bool `json:"all,omitempty"`
}

// RefreshResponse is returned from POST /v1/auth/refresh. Refreshed is false
// when the current access token is still comfortably valid.
type RefreshResponse struct {
	Refreshed   bool       `json:"refreshed"`
	AccessToken string     `json:"access_token,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// PrincipalResponse is returned from GET /v1/auth/me.
type PrincipalResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// CSRFResponse is returned from GET /v1/auth/csrf. The token is also set as
// the csrf_token cookie.
type CSRFResponse struct {
	CSRFToken     string `json:"csrf_token"`
	CSRFSignature string `json:"csrf_signature"`
}

// ============================================================================
// Password Types
// ============================================================================

// PasswordResetRequest is the body of POST /v1/auth/password-reset/request.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// PasswordResetConfirmRequest is the body of POST /v1/auth/password-reset/confirm.
type PasswordResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ChangePasswordRequest is the body of POST /v1/auth/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ============================================================================
// Session Types
// ============================================================================

// SessionInfo describes one active session of the caller.
type SessionInfo struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Current is true for the session behind the request's refresh cookie
	Current bool `json:"current"`
}

// SessionsResponse is returned from GET /v1/auth/sessions.
type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// RevokeSessionsResponse is returned from POST /v1/users/{id}/revoke-sessions.
type RevokeSessionsResponse struct {
	Revoked int `json:"revoked"`
}

// ============================================================================
// Health Check Types
// ============================================================================

// HealthResponse represents the response structure for health check endpoints.
// Used by both /livez and /readyz endpoints (readyz includes additional Checks field).
type HealthResponse struct {
	// Status indicates the overall health status (e.g., "ok")
	Status string `json:"status"`

	// Uptime is the service uptime duration as a string (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	// Version is the service version string
	Version string `json:"version,omitempty"`

	// Checks contains the status of each dependency (readyz only)
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks represents the status of critical service dependencies.
type HealthChecks struct {
	// Database indicates the database connection status
	Database string `json:"database"`

	// Signer indicates the JWT signing capability status
	Signer string `json:"signer"`

	// RateLimiter is "ok" or "fallback" when the shared counter store is
	// unreachable and limits are enforced per process
	RateLimiter string `json:"rate_limiter,omitempty"`
}

// ============================================================================
// Key Discovery
// ============================================================================

// JWKSResponse contains the JSON Web Key Set.
// This is returned from the GET /.well-known/jwks.json endpoint and contains
// public keys used to verify JWT signatures.
type JWKSResponse jwtx.JWKS
