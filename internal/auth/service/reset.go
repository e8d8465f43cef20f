package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/aussiebroadwan/atrium/internal/auth/metrics"
	"github.com/aussiebroadwan/atrium/internal/auth/ratelimit"
	"github.com/aussiebroadwan/atrium/internal/auth/store"
	"github.com/aussiebroadwan/atrium/pkg/slogx"
)

// PasswordResetNotice is handed to a ResetNotifier. Token is the raw reset
// token and must only reach the user.
type PasswordResetNotice struct {
	UserID    string
	Email     string
	Name      string
	Token     string
	ExpiresAt time.Time
}

// ResetNotifier delivers reset tokens, usually by email.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, notice PasswordResetNotice) error
}

// NotifierFunc adapts a function to ResetNotifier.
type NotifierFunc func(ctx context.Context, notice PasswordResetNotice) error

func (f NotifierFunc) SendPasswordReset(ctx context.Context, notice PasswordResetNotice) error {
	return f(ctx, notice)
}

// LogNotifier records that a reset was requested. It does not deliver
// anything and never logs the token.
type LogNotifier struct{}

func (LogNotifier) SendPasswordReset(ctx context.Context, notice PasswordResetNotice) error {
	slogx.FromContext(ctx).Info("password_reset_requested",
		slog.String("user_id", notice.UserID),
		slog.Time("expires_at", notice.ExpiresAt),
	)
	return nil
}

// ResetService runs the two halves of the password reset flow.
type ResetService struct {
	Store       store.Store
	Sessions    *SessionManager
	Credentials *CredentialService
	Limiter     *ratelimit.Limiter
	Notifier    ResetNotifier
	Metrics     *metrics.Metrics

	pending sync.WaitGroup
}

// DeliveryTimeout bounds token creation plus the notifier call.
const DeliveryTimeout = 30 * time.Second

// Request issues a reset token for email and hands it to the notifier. The
// result does not reveal whether the account exists: the only errors are the
// rate limit and a cancelled context. Token creation and delivery run in the
// background, so a known email answers as fast as an unknown one.
func (s *ResetService) Request(ctx context.Context, email, clientKey string) error {
	log := slogx.FromContext(ctx)

	if s.Limiter != nil {
		res := s.Limiter.Check(ctx, clientKey, ratelimit.CategoryPasswordReset)
		if !res.Allowed {
			return &RateLimitError{Category: ratelimit.CategoryPasswordReset, Result: res}
		}
	}

	user, err := s.Credentials.LookupUserByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Debug("password reset for unknown email")
		return ctx.Err()
	case err != nil:
		log.Error("password reset lookup failed", slog.Any("error", err))
		return ctx.Err()
	}

	s.pending.Add(1)
	go s.deliver(context.WithoutCancel(ctx), user)
	return ctx.Err()
}

// Wait blocks until every background delivery has finished.
func (s *ResetService) Wait() {
	s.pending.Wait()
}

func (s *ResetService) deliver(ctx context.Context, user domain.User) {
	defer s.pending.Done()
	ctx, cancel := context.WithTimeout(ctx, DeliveryTimeout)
	defer cancel()
	log := slogx.FromContext(ctx)

	token, expiresAt, err := s.Sessions.GeneratePasswordResetToken(ctx, user.ID, user.Email)
	if err != nil {
		log.Error("failed to create password reset token", slog.Any("error", err))
		return
	}
	s.Metrics.PasswordReset("requested")

	err = s.notifier().SendPasswordReset(ctx, PasswordResetNotice{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Token:     token,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		log.Error("failed to deliver password reset", slog.String("user_id", user.ID), slog.Any("error", err))
	}
}

// Confirm sets a new password with a reset token. The token is consumed and
// the password updated in one transaction, then every session of the user is
// revoked.
func (s *ResetService) Confirm(ctx context.Context, token, newPassword string) error {
	log := slogx.FromContext(ctx)

	// 1. Check the policy first so a weak password does not burn the token
	if err := CheckPasswordPolicy(newPassword); err != nil {
		return err
	}

	// 2. Resolve the token owner
	reset, err := s.Sessions.VerifyPasswordResetToken(ctx, token)
	if err != nil {
		return err
	}

	// 3. Consume and update together
	sctx, cancel := storeContext(ctx, s.Sessions.StoreTimeout)
	defer cancel()

	err = s.Store.WithTx(sctx, func(tx store.Tx) error {
		if err := s.Sessions.ConsumePasswordResetToken(sctx, tx, token); err != nil {
			return err
		}
		return s.Credentials.ChangePassword(sctx, tx, reset.UserID, newPassword)
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		// The user was deleted after the token was issued.
		return ErrInvalidResetToken
	case err != nil && !errors.Is(err, ErrInvalidResetToken) && !errors.Is(err, ErrStoreUnavailable):
		return unavailable(err)
	case err != nil:
		return err
	}
	s.Metrics.PasswordReset("confirmed")
	log.Info("password_reset_confirmed", slog.String("user_id", reset.UserID))

	// 4. Sign out everywhere. The password is already changed if this fails.
	if _, err := s.Sessions.RevokeAllUserSessions(ctx, reset.UserID); err != nil {
		log.Warn("failed to revoke sessions after password reset",
			slog.String("user_id", reset.UserID),
			slog.Any("error", err),
		)
	}
	return nil
}

func (s *ResetService) notifier() ResetNotifier {
	if s.Notifier != nil {
		return s.Notifier
	}
	return LogNotifier{}
}
