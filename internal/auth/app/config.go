package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/ratelimit"
	"github.com/aussiebroadwan/atrium/pkg/jwtx"
)

// Rate limit counter backends.
const (
	RateLimitBackendMemory   = "memory"
	RateLimitBackendSQLite   = "sqlite"
	RateLimitBackendPostgres = "postgres"
)

type Config struct {
	Issuer         string   // Optional: issuer claim for tokens (default: atrium-auth)
	Audience       []string // Optional: audience claim, comma separated in AUTH_AUDIENCE (default: atrium)
	NumKeys        int      // Optional: number of signing keys (default: 1, max: 10)
	SigningKeyFile string   // Optional: PEM file holding the signing keys; empty means ephemeral keys

	DatabaseFile string // Optional: path to SQLite database file (default: ./auth.db)
	PepperFile   string // Optional: path to file containing pepper for password hashing (default: ./pepper)

	AccessTTL         time.Duration // Optional: access token lifetime (default: 15m)
	ExtendedAccessTTL time.Duration // Optional: access token lifetime with remember me (default: 7d)
	RefreshWindow     time.Duration // Optional: how close to expiry a token may be refreshed (default: 5m)
	SessionTTL        time.Duration // Optional: refresh session lifetime (default: 30d)
	ResetTTL          time.Duration // Optional: reset token lifetime, at most 1h (default: 1h)
	StoreTimeout      time.Duration // Optional: bound on each store round trip (default: 2s)

	CSRFSecret   string // Optional: HMAC secret for CSRF signatures; random per process when empty
	CookieSecure bool   // Optional: mark cookies Secure (default: true outside dev)
	CookieDomain string // Optional: cookie Domain attribute
	TrustProxy   bool   // Optional: take the client address from X-Forwarded-For

	RateLimitBackend          string        // Optional: memory, sqlite or postgres (default: sqlite)
	RateLimitDatabaseURL      string        // Required for the postgres backend
	RateLimitFallbackCooldown time.Duration // Optional: how long the breaker stays open (default: 30s)
	RateLimitPolicies         ratelimit.Policies

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	env := getEnvOrDefault("ENV", "dev")

	cfg := Config{
		Issuer:         getEnvOrDefault("AUTH_ISSUER", "atrium-auth"),
		Audience:       splitList(getEnvOrDefault("AUTH_AUDIENCE", "atrium")),
		NumKeys:        getEnvIntOrDefault("AUTH_NUM_KEYS", 1),
		SigningKeyFile: os.Getenv("AUTH_SIGNING_KEY_FILE"),

		DatabaseFile: getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),
		PepperFile:   getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),

		AccessTTL:         getEnvDurationOrDefault("AUTH_ACCESS_TTL", jwtx.DefaultAccessTokenTTL),
		ExtendedAccessTTL: getEnvDurationOrDefault("AUTH_EXTENDED_ACCESS_TTL", jwtx.ExtendedAccessTokenTTL),
		RefreshWindow:     getEnvDurationOrDefault("AUTH_REFRESH_WINDOW", jwtx.DefaultRefreshWindow),
		SessionTTL:        getEnvDurationOrDefault("AUTH_SESSION_TTL", jwtx.DefaultSessionTTL),
		ResetTTL:          getEnvDurationOrDefault("AUTH_RESET_TTL", time.Hour),
		StoreTimeout:      getEnvDurationOrDefault("AUTH_STORE_TIMEOUT", 2*time.Second),

		CSRFSecret:   os.Getenv("AUTH_CSRF_SECRET"),
		CookieSecure: getEnvBoolOrDefault("AUTH_COOKIE_SECURE", env != "dev"),
		CookieDomain: os.Getenv("AUTH_COOKIE_DOMAIN"),
		TrustProxy:   getEnvBoolOrDefault("AUTH_TRUST_PROXY", false),

		RateLimitBackend:          strings.ToLower(getEnvOrDefault("RATELIMIT_BACKEND", RateLimitBackendSQLite)),
		RateLimitDatabaseURL:      os.Getenv("RATELIMIT_DATABASE_URL"),
		RateLimitFallbackCooldown: getEnvDurationOrDefault("RATELIMIT_FALLBACK_COOLDOWN", ratelimit.DefaultFailoverCooldown),
		RateLimitPolicies:         ratelimit.PoliciesFromEnv(ratelimit.DefaultPolicies()),

		Env:                  env,
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	return cfg
}

// Validate reports settings that would fail later at startup.
func (c Config) Validate() error {
	var errs []error

	switch c.RateLimitBackend {
	case RateLimitBackendMemory, RateLimitBackendSQLite:
	case RateLimitBackendPostgres:
		if c.RateLimitDatabaseURL == "" {
			errs = append(errs, errors.New("RATELIMIT_DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RATELIMIT_BACKEND %q", c.RateLimitBackend))
	}

	if c.ResetTTL > time.Hour {
		errs = append(errs, fmt.Errorf("AUTH_RESET_TTL %s exceeds 1h", c.ResetTTL))
	}
	if c.AccessTTL <= 0 || c.ExtendedAccessTTL < c.AccessTTL {
		errs = append(errs, errors.New("AUTH_EXTENDED_ACCESS_TTL must be at least AUTH_ACCESS_TTL"))
	}
	if len(c.CSRFSecret) > 0 && len(c.CSRFSecret) < 32 {
		errs = append(errs, errors.New("AUTH_CSRF_SECRET must be at least 32 bytes"))
	}

	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
