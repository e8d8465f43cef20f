package domain

import "time"

// Session is the persisted half of a login. The opaque refresh token handed to
// the client is only stored as its fingerprint.
type Session struct {
	ID               string
	UserID           string
	Email            string
	Role             Role
	RefreshTokenHash string
	UserAgent        string
	IP               string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	Revoked          bool
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Active is true for sessions that are neither revoked nor expired.
func (s Session) Active(now time.Time) bool {
	return !s.Revoked && !s.Expired(now)
}

// BlacklistEntry denies an access token until its natural expiry.
type BlacklistEntry struct {
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// PasswordResetToken is single-use. ConsumedAt moves from nil to set exactly
// once.
type PasswordResetToken struct {
	TokenHash  string
	UserID     string
	Email      string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	ConsumedAt *time.Time
}

func (t PasswordResetToken) Consumed() bool { return t.ConsumedAt != nil }

// Usable is true while the token is unconsumed and unexpired.
func (t PasswordResetToken) Usable(now time.Time) bool {
	return !t.Consumed() && now.Before(t.ExpiresAt)
}

// RateLimitCounter is a fixed window counter. Key combines the action
// category and the client key.
type RateLimitCounter struct {
	Key           string
	Count         int
	WindowResetAt time.Time
}
