package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/aussiebroadwan/atrium/internal/auth/store/memory"
	"github.com/aussiebroadwan/atrium/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestAuthService_Login(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	u := h.createUser(t, "ada@example.com", domain.RoleEditor)

	res := h.login(t, "Ada@Example.com", true)
	require.Equal(t, u.ID, res.User.ID)
	require.NotEmpty(t, res.RefreshToken)
	require.NotEmpty(t, res.SessionID)
	require.Equal(t, h.clock.Now().Add(jwtx.ExtendedAccessTokenTTL), res.AccessExpiresAt)
	require.True(t, res.RateLimit.Allowed)

	p, err := h.auth.Authenticate(ctx, res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, domain.Principal{UserID: u.ID, Email: u.Email, Role: domain.RoleEditor}, p)
}

func TestAuthService_LoginRateLimitAppliesToCorrectPassword(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.createUser(t, "ada@example.com", domain.RoleViewer)

	attempt := func(password string) error {
		_, err := h.auth.Login(ctx, LoginRequest{Email: "ada@example.com", Password: password, ClientKey: "203.0.113.5"})
		return err
	}

	for i := range 5 {
		require.ErrorIs(t, attempt("Wrong1Password"), ErrInvalidCredentials, "attempt %d", i+1)
	}

	err := attempt("Wrong1Password")
	require.ErrorIs(t, err, ErrRateLimitExceeded)
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	require.False(t, rl.Result.Allowed)
	require.Equal(t, h.clock.Now().Add(time.Hour), rl.Result.ResetAt)
	require.Contains(t, rl.Result.Reason, "login")

	require.ErrorIs(t, attempt(testPassword), ErrRateLimitExceeded, "correct password is still limited")

	// Another client is unaffected.
	_, err = h.auth.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword, ClientKey: "198.51.100.1"})
	require.NoError(t, err)

	// A new window opens after the hour.
	h.clock.Advance(time.Hour)
	require.NoError(t, attempt(testPassword))
}

func TestAuthService_LoginSuccessResetsCounter(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.createUser(t, "ada@example.com", domain.RoleViewer)

	for range 4 {
		_, err := h.auth.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "Wrong1Password", ClientKey: "c"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := h.auth.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword, ClientKey: "c"})
	require.NoError(t, err)

	res, err := h.auth.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword, ClientKey: "c"})
	require.NoError(t, err)
	require.Equal(t, 4, res.RateLimit.Remaining)
}

func TestAuthService_Register(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.auth.Register(ctx, RegisterRequest{
		Email:     "new@example.com",
		Password:  testPassword,
		Name:      "New",
		Role:      domain.RoleAdmin,
		ClientKey: "c",
	})
	require.NoError(t, err)
	require.Equal(t, domain.RoleViewer, res.User.Role, "requested role is ignored")

	p, err := h.auth.Authenticate(ctx, res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, domain.RoleViewer, p.Role)

	_, err = h.auth.Register(ctx, RegisterRequest{Email: "new@example.com", Password: testPassword, ClientKey: "c"})
	require.ErrorIs(t, err, ErrDuplicateEmail)

	_, err = h.auth.Register(ctx, RegisterRequest{Email: "third@example.com", Password: testPassword, ClientKey: "c"})
	require.NoError(t, err)

	_, err = h.auth.Register(ctx, RegisterRequest{Email: "fourth@example.com", Password: testPassword, ClientKey: "c"})
	require.ErrorIs(t, err, ErrRateLimitExceeded)
}

func TestAuthService_LogoutBlacklistsAccessToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.createUser(t, "ada@example.com", domain.RoleViewer)
	res := h.login(t, "ada@example.com", false)

	require.NoError(t, h.auth.Logout(ctx, res.AccessToken, res.RefreshToken, false))

	// The token still has a valid signature and expiry.
	_, err := h.auth.Tokens.Verify(ctx, res.AccessToken)
	require.NoError(t, err)

	_, err = h.auth.Authenticate(ctx, res.AccessToken)
	require.ErrorIs(t, err, ErrRevokedToken)

	_, err = h.auth.Refresh(ctx, res.AccessToken)
	require.ErrorIs(t, err, ErrRevokedToken)

	_, err = h.auth.RefreshSession(ctx, res.RefreshToken)
	require.ErrorIs(t, err, ErrRevokedSession)

	// The entry lasts until the token expires.
	h.clock.Advance(jwtx.DefaultAccessTokenTTL)
	_, err = h.auth.Authenticate(ctx, res.AccessToken)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestAuthService_LogoutIgnoresBadTokens(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.auth.Logout(ctx, "", "", false))
	require.NoError(t, h.auth.Logout(ctx, "garbage", "unknown-refresh", true))
}

func TestAuthService_LogoutAll(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.createUser(t, "ada@example.com", domain.RoleViewer)

	phone := h.login(t, "ada@example.com", false)
	laptop := h.login(t, "ada@example.com", false)

	require.NoError(t, h.auth.Logout(ctx, phone.AccessToken, phone.RefreshToken, true))

	_, err := h.auth.RefreshSession(ctx, laptop.RefreshToken)
	require.ErrorIs(t, err, ErrRevokedSession)

	// Sessions started after the call are not affected.
	tablet := h.login(t, "ada@example.com", false)
	_, err = h.auth.RefreshSession(ctx, tablet.RefreshToken)
	require.NoError(t, err)
}

func TestAuthService_LogoutAllFromRefreshTokenOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.createUser(t, "ada@example.com", domain.RoleViewer)

	phone := h.login(t, "ada@example.com", false)
	laptop := h.login(t, "ada@example.com", false)

	require.NoError(t, h.auth.Logout(ctx, "", phone.RefreshToken, true))
	_, err := h.auth.RefreshSession(ctx, laptop.RefreshToken)
	require.ErrorIs(t, err, ErrRevokedSession)
}

func TestAuthService_RefreshSessionUsesCurrentRole(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	u := h.createUser(t, "ada@example.com", domain.RoleAdmin)
	res := h.login(t, "ada@example.com", true)

	require.NoError(t, h.store.Users().UpdateRole(ctx, u.ID, domain.RoleViewer, h.clock.Now()))

	refreshed, err := h.auth.RefreshSession(ctx, res.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, res.SessionID, refreshed.SessionID)
	require.Empty(t, refreshed.RefreshToken, "the session is not rotated")
	require.Equal(t, h.clock.Now().Add(jwtx.DefaultAccessTokenTTL), refreshed.AccessExpiresAt)

	p, err := h.auth.Authenticate(ctx, refreshed.AccessToken)
	require.NoError(t, err)
	require.Equal(t, domain.RoleViewer, p.Role)
}

func TestAuthService_AuthenticateFailsClosed(t *testing.T) {
	t.Parallel()
	st := &brokenStore{Store: memory.NewStore()}
	h := newHarnessWithStore(t, st)
	h.createUser(t, "ada@example.com", domain.RoleViewer)
	res := h.login(t, "ada@example.com", false)

	st.blacklist = true
	_, err := h.auth.Authenticate(context.Background(), res.AccessToken)
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestAuthService_ChangePassword(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	u := h.createUser(t, "ada@example.com", domain.RoleViewer)
	current := h.login(t, "ada@example.com", false)
	other := h.login(t, "ada@example.com", false)
	p := domain.Principal{UserID: u.ID, Email: u.Email, Role: u.Role}

	err := h.auth.ChangePassword(ctx, p, "Wrong1Password", "Next1Password", current.SessionID)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, h.auth.ChangePassword(ctx, p, testPassword, "Next1Password", current.SessionID))

	_, err = h.auth.RefreshSession(ctx, current.RefreshToken)
	require.NoError(t, err, "the calling session survives")
	_, err = h.auth.RefreshSession(ctx, other.RefreshToken)
	require.ErrorIs(t, err, ErrRevokedSession)
}

func TestRequireRole(t *testing.T) {
	t.Parallel()
	editor := domain.Principal{UserID: "u", Role: domain.RoleEditor}

	require.NoError(t, RequireRole(editor, domain.RoleViewer))
	require.NoError(t, RequireRole(editor, domain.RoleEditor))
	require.ErrorIs(t, RequireRole(editor, domain.RoleAdmin), ErrInsufficientRole)
	require.ErrorIs(t, RequireRole(domain.Principal{}, domain.RoleViewer), ErrInsufficientRole)
}
