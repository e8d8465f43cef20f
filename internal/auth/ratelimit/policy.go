package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Category names an action that is limited separately.
type Category string

const (
	CategoryLogin         Category = "login"
	CategoryRegister      Category = "register"
	CategoryPasswordReset Category = "password_reset"
	CategoryAPI           Category = "api"
)

// Policy is a fixed window ceiling.
type Policy struct {
	// Limit is the number of requests allowed per window.
	Limit int
	// Window is the length of one counting window.
	Window time.Duration
}

type Policies map[Category]Policy

// DefaultPolicies returns the production ceilings. Login is much stricter than
// generic API traffic.
func DefaultPolicies() Policies {
	return Policies{
		CategoryLogin:         {Limit: 5, Window: time.Hour},
		CategoryRegister:      {Limit: 3, Window: time.Hour},
		CategoryPasswordReset: {Limit: 3, Window: time.Hour},
		CategoryAPI:           {Limit: 100, Window: time.Minute},
	}
}

// For returns the policy for c. Unknown categories are treated as api.
func (p Policies) For(c Category) (Category, Policy) {
	if pol, ok := p[c]; ok {
		return c, pol
	}
	if pol, ok := p[CategoryAPI]; ok {
		return CategoryAPI, pol
	}
	return CategoryAPI, DefaultPolicies()[CategoryAPI]
}

// PoliciesFromEnv overrides each policy in base from environment variables.
// Environment variables follow the pattern: RATELIMIT_{category}_{field}
// For example: RATELIMIT_LOGIN_REQUESTS, RATELIMIT_LOGIN_WINDOW_SEC
// Invalid or non-positive values are ignored.
func PoliciesFromEnv(base Policies) Policies {
	out := make(Policies, len(base))
	for c, pol := range base {
		prefix := "RATELIMIT_" + strings.ToUpper(string(c))

		if val := os.Getenv(prefix + "_REQUESTS"); val != "" {
			if n, err := strconv.Atoi(val); err == nil && n > 0 {
				pol.Limit = n
			}
		}
		if val := os.Getenv(prefix + "_WINDOW_SEC"); val != "" {
			if sec, err := strconv.Atoi(val); err == nil && sec > 0 {
				pol.Window = time.Duration(sec) * time.Second
			}
		}
		out[c] = pol
	}
	return out
}
