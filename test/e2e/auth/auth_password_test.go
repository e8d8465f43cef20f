//go:build e2e

package auth_test

import (
	"testing"

	"github.com/aussiebroadwan/atrium/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestPasswordResetRequest_DoesNotRevealAccounts checks known and unknown
// emails get the same answer.
func TestPasswordResetRequest_DoesNotRevealAccounts(t *testing.T) {
	c := setupAuthContainer(t)
	registerUser(t, c.client(), "known@example.com")

	require.NoError(t, c.client().RequestPasswordReset(t.Context(), "known@example.com"))
	require.NoError(t, c.client().RequestPasswordReset(t.Context(), "unknown@example.com"))
}

// TestPasswordResetConfirm_RejectsUnknownToken checks a guessed token fails.
func TestPasswordResetConfirm_RejectsUnknownToken(t *testing.T) {
	c := setupAuthContainer(t)

	err := c.client().ConfirmPasswordReset(t.Context(), "not-a-real-token", "Another1Password")
	assertAPIError(t, err, authsdk.ErrInvalidResetToken, "unknown reset token")
}

// TestChangePassword revokes other sessions and keeps the current one.
func TestChangePassword(t *testing.T) {
	c := setupAuthContainer(t)
	other := registerUser(t, c.client(), "changer@example.com")
	current := performLogin(t, c.client(), "changer@example.com", userPassword)

	err := current.ChangePassword(t.Context(), "Wrong1Password", "Another1Password")
	assertAPIError(t, err, authsdk.ErrUnauthorized, "wrong current password")

	err = current.ChangePassword(t.Context(), userPassword, "weak")
	assertAPIError(t, err, authsdk.ErrWeakPassword, "weak new password")

	require.NoError(t, current.ChangePassword(t.Context(), userPassword, "Another1Password"))

	sessions, err := current.ListSessions(t.Context())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, current.SessionID(), sessions[0].ID)
	require.NotEqual(t, other.SessionID(), sessions[0].ID)

	// Old password no longer works, the new one does.
	_, err = c.client().Login(t.Context(), authsdk.LoginRequest{Email: "changer@example.com", Password: userPassword})
	assertAPIError(t, err, authsdk.ErrUnauthorized, "old password")
	performLogin(t, c.client(), "changer@example.com", "Another1Password")
}
