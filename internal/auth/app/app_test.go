package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Issuer:               "atrium-test",
		Audience:             []string{"atrium"},
		NumKeys:              2,
		DatabaseFile:         filepath.Join(dir, "auth.db"),
		PepperFile:           filepath.Join(dir, "pepper"),
		AccessTTL:            15 * time.Minute,
		ExtendedAccessTTL:    24 * time.Hour,
		RefreshWindow:        5 * time.Minute,
		SessionTTL:           24 * time.Hour,
		ResetTTL:             time.Hour,
		StoreTimeout:         time.Second,
		CSRFSecret:           strings.Repeat("s", 32),
		RateLimitBackend:     RateLimitBackendSQLite,
		Env:                  "test",
		LogLevel:             "error",
		LogFormat:            "text",
		Port:                 0,
		ShutdownGracePeriod:  time.Second,
		HousekeepingInterval: time.Hour,
	}
}

func newTestApp(t *testing.T, cfg Config) *Application {
	t.Helper()
	app, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.closeStores() })
	return app
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimitBackend = "redis"

	_, err := New(cfg)
	require.ErrorContains(t, err, "invalid configuration")
}

func TestApplication_ServesHealthAndMetrics(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	for _, path := range []string{"/livez", "/readyz", "/.well-known/jwks.json"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	// A failed login shows up in the metrics.
	resp, err := http.Post(srv.URL+"/v1/auth/login", "application/json",
		strings.NewReader(`{"email":"nobody@example.com","password":"Wrong1Password"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "4", resp.Header.Get("X-RateLimit-Remaining"))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `atrium_login_attempts_total{outcome="invalid_credentials"} 1`)
}

func TestApplication_LoginWithSQLiteStore(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	ctx := context.Background()

	_, err := app.authService.Credentials.CreateUser(ctx, "ada@example.com", "Correct1Horse", domain.RoleAdmin, "Ada")
	require.NoError(t, err)

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/v1/auth/login", "application/json",
		strings.NewReader(`{"email":"ADA@example.com","password":"Correct1Horse"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	names := map[string]bool{}
	for _, c := range resp.Cookies() {
		names[c.Name] = true
	}
	require.True(t, names["access_token"])
	require.True(t, names["refresh_token"])
}

func TestApplication_SigningKeysSurviveRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.SigningKeyFile = filepath.Join(t.TempDir(), "keys.pem")

	first := newTestApp(t, cfg)
	firstJWKS := first.keyManager.KeySet.PublicJWKS()
	require.NoError(t, first.closeStores())

	second, err := New(cfg)
	require.NoError(t, err)
	defer second.closeStores()

	require.ElementsMatch(t, firstJWKS.Keys, second.keyManager.KeySet.PublicJWKS().Keys)
}

func TestApplication_BreakerWiredToReadyz(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	require.NotNil(t, app.breaker)
	require.False(t, app.breaker.Open())

	cfg := testConfig(t)
	cfg.RateLimitBackend = RateLimitBackendMemory
	mem := newTestApp(t, cfg)
	require.Nil(t, mem.breaker, "memory backend has nothing to fail over from")
}
