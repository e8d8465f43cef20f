package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default access token lifetimes. ExtendedAccessTokenTTL is used when the
// caller asked to be remembered on this device.
const (
	DefaultAccessTokenTTL   = 15 * time.Minute
	ExtendedAccessTokenTTL  = 7 * 24 * time.Hour
	DefaultRefreshWindow    = 5 * time.Minute
	DefaultSessionTTL       = 30 * 24 * time.Hour
	defaultJTIEntropyLength = 20
)

// Claims are the access-token claims. They are a snapshot of the user at
// issue time and deliberately separate from the stored user record.
type Claims struct {
	jwt.RegisteredClaims

	Email string `json:"email"`
	Role  string `json:"role"`

	// Extended is true when the long lifetime was chosen at login. A refresh
	// keeps the same choice.
	Extended bool `json:"ext,omitempty"`
}

// NewAccessClaims builds minimally-correct claims.
func NewAccessClaims(
	subject, email, role string,
	extended bool,
	ttl time.Duration,
	issuer string,
	audience []string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Email:    email,
		Role:     role,
		Extended: extended,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim. Two tokens
// issued in the same second for the same user still differ, which keeps
// blacklist entries per token rather than per user.
func NewJTI() string {
	var b [defaultJTIEntropyLength]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ExpiresIn returns how long the token has left at now. Tokens without an
// exp claim report zero.
func (c *Claims) ExpiresIn(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// ExpiryTime returns the exp claim or the zero time.
func (c *Claims) ExpiryTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
