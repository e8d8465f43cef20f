//go:build e2e

package auth_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/aussiebroadwan/atrium/pkg/authsdk"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * Common constants and helper functions for auth service end-to-end tests.
 * This includes container setup, service operations, and assertions.
 */

const (
	testImageName = "atrium-auth-test:latest"

	adminEmail    = "admin@example.com"
	adminPassword = "Admin123Secret"
	userPassword  = "Correct1Horse"
)

// TestMain manages the test lifecycle, builds the Docker image once before
// all tests and cleans it up after all tests complete.
func TestMain(m *testing.M) {
	fmt.Fprintf(os.Stdout, "Building Auth Service Docker image...")

	// Build the Docker image once before all tests
	if err := buildDockerImage(); err != nil {
		fmt.Fprintf(os.Stderr, "\nFailed to build Docker image: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, " done\n")

	// Run all tests
	exitCode := m.Run()

	// Clean up the Docker image after all tests complete
	fmt.Fprintf(os.Stdout, "Cleaning up Auth Service Docker image...")
	cleanupDockerImage()
	fmt.Fprintf(os.Stdout, " done\n")

	os.Exit(exitCode)
}

// buildDockerImage builds the test Docker image if it doesn't exist.
func buildDockerImage() error {
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "docker", "build",
		"-t", testImageName,
		"-f", "../../../cmd/auth/Dockerfile",
		"../../../")
	cmd.Dir = "." // Ensure we're in the test directory
	cmd.Stdout = os.Stdout
	cmd.Stderr = nil

	return cmd.Run()
}

// cleanupDockerImage removes the test Docker image.
func cleanupDockerImage() {
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "docker", "rmi", "-f", testImageName)
	_ = cmd.Run() // Ignore errors - image might not exist
}

// authContainer is a running auth service.
type authContainer struct {
	container testcontainers.Container
	baseURL   string
}

// baseEnv is the container environment shared by every test.
func baseEnv() map[string]string {
	return map[string]string{
		"AUTH_ISSUER":        "atrium-e2e",
		"AUTH_AUDIENCE":      "atrium",
		"AUTH_CSRF_SECRET":   "e2e-csrf-secret-of-at-least-32-bytes",
		"AUTH_COOKIE_SECURE": "false", // plain http in tests
		"ENV":                "test",
		"LOG_LEVEL":          "info",
		"LOG_FORMAT":         "json",
	}
}

// relaxedLimits raises every limit so tests making many rapid requests do
// not trip them. Rate limit tests use the defaults instead.
func relaxedLimits(env map[string]string) map[string]string {
	for _, prefix := range []string{"LOGIN", "REGISTER", "PASSWORD_RESET", "MODERATE", "PUBLIC"} {
		env["RATELIMIT_"+prefix+"_REQUESTS"] = "1000"
	}
	env["RATELIMIT_MODERATE_BURST"] = "1000"
	return env
}

// setupAuthContainer starts the auth service with relaxed rate limits.
func setupAuthContainer(t *testing.T) *authContainer {
	t.Helper()
	return startAuthContainer(t, relaxedLimits(baseEnv()))
}

// setupAuthContainerWithDefaultRateLimits starts the auth service with DEFAULT rate limits.
func setupAuthContainerWithDefaultRateLimits(t *testing.T) *authContainer {
	t.Helper()
	return startAuthContainer(t, baseEnv())
}

func startAuthContainer(t *testing.T, env map[string]string) *authContainer {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        testImageName,
		ExposedPorts: []string{"8080/tcp"},
		Env:          env,
		WaitingFor: wait.ForHTTP("/livez").
			WithPort("8080/tcp").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	// Get the mapped port
	mappedPort, err := container.MappedPort(ctx, "8080")
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	return &authContainer{
		container: container,
		baseURL:   fmt.Sprintf("http://%s:%s", host, mappedPort.Port()),
	}
}

// client returns a fresh SDK client with its own cookie jar.
func (c *authContainer) client() *authsdk.SDKClient {
	return authsdk.NewSDKClient(c.baseURL)
}

// createAdmin runs the create-user command inside the container.
func (c *authContainer) createAdmin(t *testing.T) {
	t.Helper()
	code, out, err := c.container.Exec(t.Context(), []string{
		"/usr/local/bin/auth", "create-user",
		"--email", adminEmail,
		"--name", "Administrator",
		"--role", "admin",
		"--password", adminPassword,
	})
	require.NoError(t, err)
	output, _ := io.ReadAll(out)
	require.Zero(t, code, "create-user failed: %s", output)
}

// registerUser self registers a viewer and returns its session.
func registerUser(t *testing.T, client *authsdk.SDKClient, email string) *authsdk.Session {
	t.Helper()
	session, err := client.Register(t.Context(), authsdk.RegisterRequest{
		Email:    email,
		Password: userPassword,
		Name:     "Test User",
	})
	require.NoError(t, err, "Register should succeed")
	require.NotNil(t, session)
	return session
}

// performLogin signs in and returns a session.
func performLogin(t *testing.T, client *authsdk.SDKClient, email, password string) *authsdk.Session {
	t.Helper()
	session, err := client.Login(t.Context(), authsdk.LoginRequest{Email: email, Password: password})
	require.NoError(t, err, "Login should succeed")
	require.NotNil(t, session, "Session should not be nil")
	return session
}

// assertAPIError checks err is an *APIError matching want.
func assertAPIError(t *testing.T, err error, want *authsdk.APIError, context string) {
	t.Helper()
	require.Error(t, err, context)
	require.True(t, errors.Is(err, want), "%s - expected %s, got: %v", context, want.Code, err)
}

// assertHealthy verifies a health check response is OK.
func assertHealthy(t *testing.T, health *authsdk.HealthResponse, err error) {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, health)
	require.Equal(t, "ok", health.Status)
}
