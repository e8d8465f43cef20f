// Package storetest is the behavioural contract every store driver must pass.
// Driver packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/aussiebroadwan/atrium/internal/auth/store"
	"github.com/aussiebroadwan/atrium/pkg/cryptox"
	"github.com/aussiebroadwan/atrium/pkg/idx"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, migrated store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

// base is a millisecond aligned instant so drivers that store unix millis
// round-trip exactly.
var base = time.UnixMilli(1_760_000_000_000).UTC()

func Run(t *testing.T, newStore Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("SessionRevokeAll", func(t *testing.T) { testRevokeAll(t, newStore(t)) })
	t.Run("Blacklist", func(t *testing.T) { testBlacklist(t, newStore(t)) })
	t.Run("PasswordResets", func(t *testing.T) { testPasswordResets(t, newStore(t)) })
	t.Run("PasswordResetConcurrentConsume", func(t *testing.T) { testConcurrentConsume(t, newStore(t)) })
	t.Run("RateLimits", func(t *testing.T) { testRateLimits(t, newStore(t)) })
	t.Run("RateLimitsConcurrent", func(t *testing.T) { testRateLimitsConcurrent(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
	t.Run("TxCommit", func(t *testing.T) { testTxCommit(t, newStore(t)) })
}

// NewUser builds a user with a unique id for the given email.
func NewUser(email string, role domain.Role) domain.User {
	return domain.User{
		ID:           idx.New().String(),
		Email:        email,
		Name:         "Test User",
		PasswordHash: "$argon2id$v=19$m=19456,t=2,p=1$c2FsdA$aGFzaA",
		Role:         role,
		CreatedAt:    base,
		UpdatedAt:    base,
	}
}

// NewSession builds an active session for the user expiring after ttl.
func NewSession(userID string, ttl time.Duration) domain.Session {
	return domain.Session{
		ID:               idx.New().String(),
		UserID:           userID,
		Email:            "user@example.com",
		Role:             domain.RoleViewer,
		RefreshTokenHash: cryptox.FingerprintToken(idx.New().String()),
		UserAgent:        "storetest",
		IP:               "127.0.0.1",
		CreatedAt:        base,
		ExpiresAt:        base.Add(ttl),
	}
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser("ada@example.com", domain.RoleEditor)

	require.NoError(t, s.Users().CreateUser(ctx, u))

	dup := NewUser("ada@example.com", domain.RoleViewer)
	require.ErrorIs(t, s.Users().CreateUser(ctx, dup), store.ErrAlreadyExists)

	got, err := s.Users().GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, u, got)

	got, err = s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Email, got.Email)

	_, err = s.Users().GetUserByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Users().GetUserByID(ctx, idx.New().String())
	require.ErrorIs(t, err, store.ErrNotFound)

	later := base.Add(time.Hour)
	require.NoError(t, s.Users().UpdatePasswordHash(ctx, u.ID, "new-hash", later))
	require.NoError(t, s.Users().UpdateRole(ctx, u.ID, domain.RoleAdmin, later))
	got, err = s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "new-hash", got.PasswordHash)
	require.Equal(t, domain.RoleAdmin, got.Role)
	require.Equal(t, later, got.UpdatedAt)

	require.ErrorIs(t, s.Users().UpdatePasswordHash(ctx, "missing", "x", later), store.ErrNotFound)

	n, err := s.Users().CountUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func testSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser("sess@example.com", domain.RoleViewer)
	require.NoError(t, s.Users().CreateUser(ctx, u))

	sess := NewSession(u.ID, time.Hour)
	require.NoError(t, s.Sessions().CreateSession(ctx, sess))

	clash := NewSession(u.ID, time.Hour)
	clash.RefreshTokenHash = sess.RefreshTokenHash
	require.ErrorIs(t, s.Sessions().CreateSession(ctx, clash), store.ErrAlreadyExists)

	got, err := s.Sessions().GetSessionByRefreshHash(ctx, sess.RefreshTokenHash)
	require.NoError(t, err)
	require.Equal(t, sess, got)

	_, err = s.Sessions().GetSessionByRefreshHash(ctx, "unknown")
	require.ErrorIs(t, err, store.ErrNotFound)

	changed, err := s.Sessions().RevokeSession(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = s.Sessions().RevokeSession(ctx, sess.ID)
	require.NoError(t, err)
	require.False(t, changed, "second revoke is a no-op")

	changed, err = s.Sessions().RevokeSession(ctx, "missing")
	require.NoError(t, err)
	require.False(t, changed)

	got, err = s.Sessions().GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, got.Revoked)

	short := NewSession(u.ID, time.Minute)
	require.NoError(t, s.Sessions().CreateSession(ctx, short))
	n, err := s.Sessions().DeleteExpiredSessions(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	_, err = s.Sessions().GetSessionByID(ctx, short.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testRevokeAll(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice := NewUser("alice@example.com", domain.RoleViewer)
	bob := NewUser("bob@example.com", domain.RoleViewer)
	require.NoError(t, s.Users().CreateUser(ctx, alice))
	require.NoError(t, s.Users().CreateUser(ctx, bob))

	for range 3 {
		require.NoError(t, s.Sessions().CreateSession(ctx, NewSession(alice.ID, time.Hour)))
	}
	bobs := NewSession(bob.ID, time.Hour)
	require.NoError(t, s.Sessions().CreateSession(ctx, bobs))

	active, err := s.Sessions().ListActiveUserSessions(ctx, alice.ID, base)
	require.NoError(t, err)
	require.Len(t, active, 3)

	n, err := s.Sessions().RevokeUserSessions(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = s.Sessions().RevokeUserSessions(ctx, alice.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	active, err = s.Sessions().ListActiveUserSessions(ctx, alice.ID, base)
	require.NoError(t, err)
	require.Empty(t, active)

	got, err := s.Sessions().GetSessionByID(ctx, bobs.ID)
	require.NoError(t, err)
	require.False(t, got.Revoked, "other users are untouched")
}

func testBlacklist(t *testing.T, s store.Store) {
	ctx := context.Background()
	entry := domain.BlacklistEntry{TokenHash: "hash-1", ExpiresAt: base.Add(time.Minute), CreatedAt: base}

	_, err := s.Blacklist().GetBlacklistEntry(ctx, "hash-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Blacklist().AddToBlacklist(ctx, entry))
	require.NoError(t, s.Blacklist().AddToBlacklist(ctx, entry), "re-adding is an upsert")

	got, err := s.Blacklist().GetBlacklistEntry(ctx, "hash-1")
	require.NoError(t, err)
	require.Equal(t, entry.ExpiresAt, got.ExpiresAt)

	// Never evicted before expiry.
	require.NoError(t, s.Blacklist().DeleteBlacklistEntry(ctx, "hash-1", base))
	_, err = s.Blacklist().GetBlacklistEntry(ctx, "hash-1")
	require.NoError(t, err)

	n, err := s.Blacklist().DeleteExpiredBlacklist(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = s.Blacklist().DeleteExpiredBlacklist(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func testPasswordResets(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser("reset@example.com", domain.RoleViewer)
	require.NoError(t, s.Users().CreateUser(ctx, u))

	older := domain.PasswordResetToken{TokenHash: "older", UserID: u.ID, Email: u.Email, CreatedAt: base, ExpiresAt: base.Add(time.Hour)}
	newer := domain.PasswordResetToken{TokenHash: "newer", UserID: u.ID, Email: u.Email, CreatedAt: base, ExpiresAt: base.Add(time.Hour)}
	require.NoError(t, s.PasswordResets().CreatePasswordReset(ctx, older))
	require.NoError(t, s.PasswordResets().CreatePasswordReset(ctx, newer))

	got, err := s.PasswordResets().GetPasswordReset(ctx, "older")
	require.NoError(t, err)
	require.False(t, got.Consumed(), "issuing a newer token does not invalidate older ones")

	require.NoError(t, s.PasswordResets().ConsumePasswordReset(ctx, "older", base.Add(time.Minute)))
	require.ErrorIs(t, s.PasswordResets().ConsumePasswordReset(ctx, "older", base.Add(time.Minute)), store.ErrNotFound)

	got, err = s.PasswordResets().GetPasswordReset(ctx, "older")
	require.NoError(t, err)
	require.True(t, got.Consumed())
	require.Equal(t, base.Add(time.Minute), *got.ConsumedAt)

	require.ErrorIs(t, s.PasswordResets().ConsumePasswordReset(ctx, "newer", base.Add(time.Hour)), store.ErrNotFound, "expired")
	require.ErrorIs(t, s.PasswordResets().ConsumePasswordReset(ctx, "missing", base), store.ErrNotFound)

	n, err := s.PasswordResets().DeleteExpiredPasswordResets(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func testConcurrentConsume(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser("race@example.com", domain.RoleViewer)
	require.NoError(t, s.Users().CreateUser(ctx, u))
	require.NoError(t, s.PasswordResets().CreatePasswordReset(ctx, domain.PasswordResetToken{
		TokenHash: "race", UserID: u.ID, Email: u.Email, CreatedAt: base, ExpiresAt: base.Add(time.Hour),
	}))

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range workers {
		wg.Go(func() {
			err := s.PasswordResets().ConsumePasswordReset(ctx, "race", base)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, store.ErrNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
	wg.Wait()

	require.Equal(t, 1, wins, "a reset token is consumed exactly once")
}

func testRateLimits(t *testing.T, s store.Store) {
	ctx := context.Background()
	window := time.Minute

	for i := 1; i <= 3; i++ {
		c, err := s.RateLimits().IncrementRateLimit(ctx, "login:1.2.3.4", base.Add(time.Duration(i)*time.Second), window)
		require.NoError(t, err)
		require.Equal(t, i, c.Count)
		require.Equal(t, base.Add(time.Second).Add(window), c.WindowResetAt, "window anchored at first hit")
	}

	other, err := s.RateLimits().IncrementRateLimit(ctx, "login:5.6.7.8", base, window)
	require.NoError(t, err)
	require.Equal(t, 1, other.Count, "keys are independent")

	fresh, err := s.RateLimits().IncrementRateLimit(ctx, "login:1.2.3.4", base.Add(2*time.Minute), window)
	require.NoError(t, err)
	require.Equal(t, 1, fresh.Count, "new window after expiry")
	require.Equal(t, base.Add(3*time.Minute), fresh.WindowResetAt)

	require.NoError(t, s.RateLimits().ResetRateLimit(ctx, "login:1.2.3.4"))
	require.NoError(t, s.RateLimits().ResetRateLimit(ctx, "login:never-seen"))

	again, err := s.RateLimits().IncrementRateLimit(ctx, "login:1.2.3.4", base.Add(2*time.Minute), window)
	require.NoError(t, err)
	require.Equal(t, 1, again.Count)

	n, err := s.RateLimits().DeleteExpiredRateLimits(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func testRateLimitsConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	const workers = 20

	var wg sync.WaitGroup
	counts := make(chan int, workers)
	for range workers {
		wg.Go(func() {
			c, err := s.RateLimits().IncrementRateLimit(ctx, "api:same", base, time.Minute)
			if err != nil {
				t.Errorf("increment: %v", err)
				return
			}
			counts <- c.Count
		})
	}
	wg.Wait()
	close(counts)

	seen := make(map[int]bool, workers)
	for c := range counts {
		require.False(t, seen[c], "count %d observed twice: lost update", c)
		seen[c] = true
	}
	require.Len(t, seen, workers)

	final, err := s.RateLimits().IncrementRateLimit(ctx, "api:same", base, time.Minute)
	require.NoError(t, err)
	require.Equal(t, workers+1, final.Count)
}

func testTxRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser("tx@example.com", domain.RoleViewer)
	require.NoError(t, s.Users().CreateUser(ctx, u))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().UpdatePasswordHash(ctx, u.ID, "changed", base.Add(time.Minute)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.PasswordHash, got.PasswordHash, "rolled back")
}

func testTxCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := NewUser("commit@example.com", domain.RoleViewer)
	require.NoError(t, s.Users().CreateUser(ctx, u))
	require.NoError(t, s.PasswordResets().CreatePasswordReset(ctx, domain.PasswordResetToken{
		TokenHash: "commit", UserID: u.ID, Email: u.Email, CreatedAt: base, ExpiresAt: base.Add(time.Hour),
	}))

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.PasswordResets().ConsumePasswordReset(ctx, "commit", base); err != nil {
			return err
		}
		return tx.Users().UpdatePasswordHash(ctx, u.ID, "committed", base)
	})
	require.NoError(t, err)

	got, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "committed", got.PasswordHash)

	rt, err := s.PasswordResets().GetPasswordReset(ctx, "commit")
	require.NoError(t, err)
	require.True(t, rt.Consumed())
}
