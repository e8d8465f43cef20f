package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/atrium/internal/auth/app"
	"github.com/aussiebroadwan/atrium/internal/auth/domain"
)

// withTempDatabase points the service config at a fresh directory.
func withTempDatabase(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	db := filepath.Join(dir, "auth.db")
	t.Setenv("AUTH_DATABASE_FILE", db)
	t.Setenv("AUTH_PEPPER_FILE", filepath.Join(dir, "pepper"))
	t.Setenv("LOG_LEVEL", "error")
	return db
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	output, err := execute(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"serve", "migrate", "create-user"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestMigrateCommand(t *testing.T) {
	withTempDatabase(t)

	output, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, output, "Migrations completed successfully")

	// A second run is a no-op.
	_, err = execute(t, "migrate")
	require.NoError(t, err)
}

func TestCreateUserCommand(t *testing.T) {
	t.Run("generates a password", func(t *testing.T) {
		withTempDatabase(t)

		output, err := execute(t, "create-user", "--email", "Root@Example.com", "--name", "Root")
		require.NoError(t, err)
		assert.Contains(t, output, "Created admin root@example.com")

		var password string
		for _, line := range strings.Split(output, "\n") {
			if p, ok := strings.CutPrefix(line, "Password: "); ok {
				password = p
			}
		}
		require.Len(t, password, 16)

		// The printed password works against the same database and pepper.
		cfg := app.LoadConfig()
		db, err := app.OpenDatabase(cfg, app.NewLogger(cfg))
		require.NoError(t, err)
		defer db.Close()

		u, err := db.Users().GetUserByEmail(context.Background(), "root@example.com")
		require.NoError(t, err)
		require.Equal(t, domain.RoleAdmin, u.Role)

		hasher, err := app.NewHasher(cfg)
		require.NoError(t, err)
		require.NoError(t, hasher.Verify(password, u.PasswordHash))
	})

	t.Run("explicit password is not echoed", func(t *testing.T) {
		withTempDatabase(t)

		output, err := execute(t, "create-user", "--email", "ed@example.com", "--role", "editor", "--password", "Correct1Horse")
		require.NoError(t, err)
		assert.Contains(t, output, "Created editor ed@example.com")
		assert.NotContains(t, output, "Correct1Horse")
	})

	t.Run("rejects unknown role", func(t *testing.T) {
		withTempDatabase(t)

		_, err := execute(t, "create-user", "--email", "x@example.com", "--role", "owner")
		require.Error(t, err)
	})

	t.Run("rejects weak password", func(t *testing.T) {
		withTempDatabase(t)

		_, err := execute(t, "create-user", "--email", "x@example.com", "--password", "short")
		require.Error(t, err)
	})

	t.Run("email is required", func(t *testing.T) {
		withTempDatabase(t)

		_, err := execute(t, "create-user")
		require.ErrorContains(t, err, "email")
	})
}
