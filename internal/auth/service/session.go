package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/aussiebroadwan/atrium/internal/auth/metrics"
	"github.com/aussiebroadwan/atrium/internal/auth/store"
	"github.com/aussiebroadwan/atrium/pkg/cryptox"
	"github.com/aussiebroadwan/atrium/pkg/idx"
	"github.com/aussiebroadwan/atrium/pkg/jwtx"
	"github.com/aussiebroadwan/atrium/pkg/slogx"
)

const (
	// MaxResetTTL caps the lifetime of a password reset token.
	MaxResetTTL = time.Hour

	createSessionAttempts = 3
)

type CreatedSession struct {
	SessionID    string
	RefreshToken string
	ExpiresAt    time.Time
}

type VerifiedReset struct {
	UserID string
	Email  string
}

// SessionManager owns refresh-token sessions and password reset tokens. Both
// are opaque 256-bit secrets of which only the SHA-256 fingerprint is stored.
type SessionManager struct {
	Store        store.Store
	SessionTTL   time.Duration
	ResetTTL     time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time
	Metrics      *metrics.Metrics
}

// CreateSession persists a new session and returns the refresh token, which
// is never stored in the clear.
func (m *SessionManager) CreateSession(ctx context.Context, userID, email string, role domain.Role, userAgent, ip string) (CreatedSession, error) {
	log := slogx.FromContext(ctx)
	now := clock(m.Now).now()

	for attempt := 1; ; attempt++ {
		token, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return CreatedSession{}, err
		}

		sess := domain.Session{
			ID:               idx.NewAt(now).String(),
			UserID:           userID,
			Email:            email,
			Role:             role,
			RefreshTokenHash: cryptox.FingerprintToken(token),
			UserAgent:        userAgent,
			IP:               ip,
			CreatedAt:        now,
			ExpiresAt:        now.Add(m.sessionTTL()),
		}

		sctx, cancel := storeContext(ctx, m.StoreTimeout)
		err = m.Store.Sessions().CreateSession(sctx, sess)
		cancel()

		switch {
		case err == nil:
			return CreatedSession{SessionID: sess.ID, RefreshToken: token, ExpiresAt: sess.ExpiresAt}, nil
		case errors.Is(err, store.ErrAlreadyExists) && attempt < createSessionAttempts:
			log.Warn("session token collision, retrying", slog.Int("attempt", attempt))
		case errors.Is(err, store.ErrAlreadyExists):
			return CreatedSession{}, fmt.Errorf("create session: %d collisions: %w", attempt, err)
		default:
			log.Error("failed to create session", slog.Any("error", err))
			return CreatedSession{}, unavailable(err)
		}
	}
}

// GetSessionByRefreshToken returns the active session for token. Revoked and
// expired sessions are reported with their own errors so the caller can log
// them, though all of them deny.
func (m *SessionManager) GetSessionByRefreshToken(ctx context.Context, token string) (domain.Session, error) {
	if token == "" {
		return domain.Session{}, ErrInvalidRefreshToken
	}

	sctx, cancel := storeContext(ctx, m.StoreTimeout)
	defer cancel()

	fp := cryptox.FingerprintToken(token)
	sess, err := m.Store.Sessions().GetSessionByRefreshHash(sctx, fp)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.Session{}, ErrInvalidRefreshToken
	case err != nil:
		slogx.FromContext(ctx).Error("session lookup failed", slog.Any("error", err))
		return domain.Session{}, unavailable(err)
	}

	// The index lookup above is not constant time; the fingerprint compare is.
	if !cryptox.EqualFingerprints(sess.RefreshTokenHash, fp) {
		return domain.Session{}, ErrInvalidRefreshToken
	}
	if sess.Revoked {
		return domain.Session{}, ErrRevokedSession
	}
	if sess.Expired(clock(m.Now).now()) {
		return domain.Session{}, ErrExpiredToken
	}
	return sess, nil
}

// RevokeSession marks one session revoked. Unknown and already revoked
// sessions are not an error.
func (m *SessionManager) RevokeSession(ctx context.Context, sessionID string) error {
	sctx, cancel := storeContext(ctx, m.StoreTimeout)
	defer cancel()

	changed, err := m.Store.Sessions().RevokeSession(sctx, sessionID)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to revoke session", slog.Any("error", err))
		return unavailable(err)
	}
	if changed {
		m.Metrics.Revoked(1)
		slogx.FromContext(ctx).Info("session_revoked", slog.String("session_id", sessionID))
	}
	return nil
}

// RevokeAllUserSessions revokes the sessions the user has at the moment of
// the call. It is one UPDATE and not linearizable against a login for the
// same user running at the same time: that new session may survive.
func (m *SessionManager) RevokeAllUserSessions(ctx context.Context, userID string) (int, error) {
	sctx, cancel := storeContext(ctx, m.StoreTimeout)
	defer cancel()

	n, err := m.Store.Sessions().RevokeUserSessions(sctx, userID)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to revoke user sessions", slog.Any("error", err))
		return 0, unavailable(err)
	}
	m.Metrics.Revoked(n)
	slogx.FromContext(ctx).Info("session_revoked",
		slog.String("user_id", userID),
		slog.Int("count", n),
		slog.Bool("all", true),
	)
	return n, nil
}

// ListSessions returns the user's active sessions, newest first.
func (m *SessionManager) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	sctx, cancel := storeContext(ctx, m.StoreTimeout)
	defer cancel()

	sessions, err := m.Store.Sessions().ListActiveUserSessions(sctx, userID, clock(m.Now).now())
	if err != nil {
		return nil, unavailable(err)
	}
	return sessions, nil
}

// DeleteExpired is housekeeping.
func (m *SessionManager) DeleteExpired(ctx context.Context) (int64, error) {
	sctx, cancel := storeContext(ctx, m.StoreTimeout)
	defer cancel()
	return m.Store.Sessions().DeleteExpiredSessions(sctx, clock(m.Now).now())
}

// GeneratePasswordResetToken stores a new single-use reset token for the user.
// Older unconsumed tokens stay valid until they expire or are used.
func (m *SessionManager) GeneratePasswordResetToken(ctx context.Context, userID, email string) (string, time.Time, error) {
	now := clock(m.Now).now()

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := now.Add(m.resetTTL())

	sctx, cancel := storeContext(ctx, m.StoreTimeout)
	defer cancel()

	err = m.Store.PasswordResets().CreatePasswordReset(sctx, domain.PasswordResetToken{
		TokenHash: cryptox.FingerprintToken(token),
		UserID:    userID,
		Email:     email,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	})
	if err != nil {
		return "", time.Time{}, unavailable(err)
	}
	return token, expiresAt, nil
}

// VerifyPasswordResetToken checks that token is unconsumed and unexpired. It
// does not consume it.
func (m *SessionManager) VerifyPasswordResetToken(ctx context.Context, token string) (VerifiedReset, error) {
	if token == "" {
		return VerifiedReset{}, ErrInvalidResetToken
	}

	sctx, cancel := storeContext(ctx, m.StoreTimeout)
	defer cancel()

	rt, err := m.Store.PasswordResets().GetPasswordReset(sctx, cryptox.FingerprintToken(token))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return VerifiedReset{}, ErrInvalidResetToken
	case err != nil:
		return VerifiedReset{}, unavailable(err)
	}
	if !rt.Usable(clock(m.Now).now()) {
		return VerifiedReset{}, ErrInvalidResetToken
	}
	return VerifiedReset{UserID: rt.UserID, Email: rt.Email}, nil
}

// ConsumePasswordResetToken marks token used inside tx. Of two concurrent
// consumers exactly one succeeds; the other gets ErrInvalidResetToken.
func (m *SessionManager) ConsumePasswordResetToken(ctx context.Context, tx store.Tx, token string) error {
	err := tx.PasswordResets().ConsumePasswordReset(ctx, cryptox.FingerprintToken(token), clock(m.Now).now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrInvalidResetToken
	case err != nil:
		return unavailable(err)
	}
	return nil
}

// DeleteExpiredResets is housekeeping.
func (m *SessionManager) DeleteExpiredResets(ctx context.Context) (int64, error) {
	sctx, cancel := storeContext(ctx, m.StoreTimeout)
	defer cancel()
	return m.Store.PasswordResets().DeleteExpiredPasswordResets(sctx, clock(m.Now).now())
}

func (m *SessionManager) sessionTTL() time.Duration {
	if m.SessionTTL > 0 {
		return m.SessionTTL
	}
	return jwtx.DefaultSessionTTL
}

func (m *SessionManager) resetTTL() time.Duration {
	if m.ResetTTL <= 0 || m.ResetTTL > MaxResetTTL {
		return MaxResetTTL
	}
	return m.ResetTTL
}
