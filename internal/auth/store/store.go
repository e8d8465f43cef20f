package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (memory, sqlite)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable, and so a Tx can hand out the same repositories bound to the
// transaction.
//
// Methods that depend on the current time take it as an argument so the
// caller's clock is the only clock.
type Store interface {
	Users() Users
	Sessions() Sessions
	Blacklist() Blacklist
	PasswordResets() PasswordResets
	RateLimits() RateLimits

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
// Rollback after Commit is a no-op.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// CreateUser inserts a new user. Returns ErrAlreadyExists when the email is taken.
	CreateUser(ctx context.Context, u domain.User) error

	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail looks up a normalised (lower-case) email.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// UpdatePasswordHash sets the password hash and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error

	// UpdateRole changes the user's role and bumps updated_at.
	UpdateRole(ctx context.Context, userID string, role domain.Role, now time.Time) error

	// CountUsers returns the number of users.
	CountUsers(ctx context.Context) (int, error)
}

type Sessions interface {
	// CreateSession stores a new session. Returns ErrAlreadyExists when the
	// refresh token hash collides with an existing session.
	CreateSession(ctx context.Context, s domain.Session) error

	// GetSessionByID returns a session regardless of its state.
	GetSessionByID(ctx context.Context, id string) (domain.Session, error)

	// GetSessionByRefreshHash returns a session by refresh token fingerprint
	// regardless of its state.
	GetSessionByRefreshHash(ctx context.Context, hash string) (domain.Session, error)

	// RevokeSession flips revoked on a single session. It reports whether this
	// call changed the row, so repeat calls are harmless.
	RevokeSession(ctx context.Context, id string) (bool, error)

	// RevokeUserSessions revokes every currently active session of the user in
	// one statement and returns how many rows changed.
	RevokeUserSessions(ctx context.Context, userID string) (int, error)

	// ListActiveUserSessions returns unrevoked, unexpired sessions newest first.
	ListActiveUserSessions(ctx context.Context, userID string, now time.Time) ([]domain.Session, error)

	// DeleteExpiredSessions is housekeeping.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type Blacklist interface {
	// AddToBlacklist upserts an entry keyed by token hash.
	AddToBlacklist(ctx context.Context, e domain.BlacklistEntry) error

	// GetBlacklistEntry returns ErrNotFound when the hash is not listed.
	GetBlacklistEntry(ctx context.Context, hash string) (domain.BlacklistEntry, error)

	// DeleteBlacklistEntry removes one entry only if it has already expired at now.
	DeleteBlacklistEntry(ctx context.Context, hash string, now time.Time) error

	// DeleteExpiredBlacklist is housekeeping. Entries are never removed before
	// their expiry.
	DeleteExpiredBlacklist(ctx context.Context, now time.Time) (int64, error)
}

type PasswordResets interface {
	// CreatePasswordReset stores a new reset token. Existing tokens for the
	// same email are untouched.
	CreatePasswordReset(ctx context.Context, t domain.PasswordResetToken) error

	// GetPasswordReset returns a reset token by hash regardless of its state.
	GetPasswordReset(ctx context.Context, hash string) (domain.PasswordResetToken, error)

	// ConsumePasswordReset marks the token consumed if it is still usable at
	// now. Returns ErrNotFound when no usable token matched, which includes a
	// concurrent consume that won the race.
	ConsumePasswordReset(ctx context.Context, hash string, now time.Time) error

	// DeleteExpiredPasswordResets is housekeeping.
	DeleteExpiredPasswordResets(ctx context.Context, now time.Time) (int64, error)
}

type RateLimits interface {
	// IncrementRateLimit atomically adds one to the counter for key, starting
	// a fresh window of the given length when none is active at now.
	IncrementRateLimit(ctx context.Context, key string, now time.Time, window time.Duration) (domain.RateLimitCounter, error)

	// ResetRateLimit deletes the counter for key.
	ResetRateLimit(ctx context.Context, key string) error

	// DeleteExpiredRateLimits is housekeeping.
	DeleteExpiredRateLimits(ctx context.Context, now time.Time) (int64, error)
}
