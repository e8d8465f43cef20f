package authsdk

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// refreshBuffer is how long before expiry the session asks for a new token.
const refreshBuffer = 30 * time.Second

// Session represents a signed in user with automatic access token refresh.
// The refresh token lives only in the client's cookie jar.
type Session struct {
	client *SDKClient

	mu          sync.RWMutex
	accessToken string
	expiresAt   time.Time
	sessionID   string
	user        UserResponse
	csrfToken   string
}

func newSession(client *SDKClient, resp LoginResponse) *Session {
	return &Session{
		client:      client,
		accessToken: resp.AccessToken,
		expiresAt:   resp.ExpiresAt.Add(-refreshBuffer),
		sessionID:   resp.SessionID,
		user:        resp.User,
	}
}

// AccessToken returns the current access token without checking expiration.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// SessionID returns the id of the server side session.
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// User returns the account as it was at login.
func (s *Session) User() UserResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Me returns the caller as the service sees it.
func (s *Session) Me(ctx context.Context) (*PrincipalResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/auth/me", nil)
	if err != nil {
		return nil, err
	}

	var out PrincipalResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh asks the service for a new access token. The service only mints
// one close to expiry, or from the refresh cookie once the old one lapsed.
func (s *Session) Refresh(ctx context.Context) (*RefreshResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) (*RefreshResponse, error) {
	csrf, err := s.csrfLocked(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.doRequest(ctx, http.MethodPost, "/v1/auth/refresh", nil, map[string]string{
		"Authorization": "Bearer " + s.accessToken,
		"X-CSRF-Token":  csrf,
	})
	if err != nil {
		return nil, err
	}

	var out RefreshResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	if out.Refreshed && out.AccessToken != "" {
		s.accessToken = out.AccessToken
		if out.ExpiresAt != nil {
			s.expiresAt = out.ExpiresAt.Add(-refreshBuffer)
		}
	}
	return &out, nil
}

// Logout ends this session. With all set every session of the user ends.
func (s *Session) Logout(ctx context.Context, all bool) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/auth/logout", LogoutRequest{All: all})
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil, http.StatusNoContent)
}

// ChangePassword replaces the password. Every other session is revoked.
func (s *Session) ChangePassword(ctx context.Context, current, next string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/auth/password", ChangePasswordRequest{
		CurrentPassword: current,
		NewPassword:     next,
	})
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil, http.StatusNoContent)
}

// ListSessions lists the caller's active sessions, newest first.
func (s *Session) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/auth/sessions", nil)
	if err != nil {
		return nil, err
	}

	var out SessionsResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// RevokeUserSessions signs another user out everywhere. Requires admin.
func (s *Session) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/users/"+userID+"/revoke-sessions", nil)
	if err != nil {
		return 0, err
	}

	var out RevokeSessionsResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return 0, err
	}
	return out.Revoked, nil
}

// getValidToken returns a valid access token, automatically refreshing if expired.
func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if time.Now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock (another goroutine may have refreshed)
	if time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}

	if _, err := s.refreshLocked(ctx); err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}
	return s.accessToken, nil
}

// csrfLocked returns the session's CSRF token, fetching one on first use.
func (s *Session) csrfLocked(ctx context.Context) (string, error) {
	if s.csrfToken != "" {
		return s.csrfToken, nil
	}
	pair, err := s.client.CSRF(ctx)
	if err != nil {
		return "", err
	}
	s.csrfToken = pair.CSRFToken
	return s.csrfToken, nil
}

// doAuthRequest performs a request with the session's access token. State
// changing methods also carry the CSRF header.
func (s *Session) doAuthRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := s.getValidToken(ctx)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{"Authorization": "Bearer " + token}
	if method != http.MethodGet && method != http.MethodHead {
		s.mu.Lock()
		csrf, err := s.csrfLocked(ctx)
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		headers["X-CSRF-Token"] = csrf
	}

	return s.client.doRequest(ctx, method, path, body, headers)
}
