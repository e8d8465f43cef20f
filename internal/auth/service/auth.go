package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/aussiebroadwan/atrium/internal/auth/metrics"
	"github.com/aussiebroadwan/atrium/internal/auth/ratelimit"
	"github.com/aussiebroadwan/atrium/internal/auth/store"
	"github.com/aussiebroadwan/atrium/pkg/cryptox"
	"github.com/aussiebroadwan/atrium/pkg/slogx"
)

type LoginRequest struct {
	Email      string
	Password   string
	RememberMe bool
	ClientKey  string
	UserAgent  string
	IP         string
}

type RegisterRequest struct {
	Email    string
	Password string
	Name     string
	// Role is ignored. Self registration always grants domain.DefaultRole.
	Role      domain.Role
	ClientKey string
	UserAgent string
	IP        string
}

// LoginResult is everything a client needs after signing in.
type LoginResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	SessionID       string
	// SessionExpiresAt is when the refresh token stops working.
	SessionExpiresAt time.Time
	User             domain.User
	// RateLimit is the decision made for the request, for response headers.
	RateLimit ratelimit.Result
}

// AuthService is the entry point for collaborators. It composes the token,
// session, blacklist, credential and reset services.
type AuthService struct {
	Credentials *CredentialService
	Tokens      *TokenService
	Sessions    *SessionManager
	Blacklist   *Blacklist
	Resets      *ResetService
	Limiter     *ratelimit.Limiter
	Metrics     *metrics.Metrics
}

// Login checks the rate limit, then the credentials, and starts a session.
// The limit applies even when the password is correct.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	log := slogx.FromContext(ctx)

	// 1. Rate limit before touching credentials
	rl := s.Limiter.Check(ctx, req.ClientKey, ratelimit.CategoryLogin)
	if !rl.Allowed {
		s.Metrics.Login(metrics.OutcomeRateLimited)
		return LoginResult{RateLimit: rl}, &RateLimitError{Category: ratelimit.CategoryLogin, Result: rl}
	}

	// 2. Verify the password
	user, err := s.Credentials.ValidateCredentials(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.Metrics.Login(metrics.OutcomeInvalid)
			log.Warn("login_failed",
				slog.String("email_fp", cryptox.FingerprintToken(domain.NormaliseEmail(req.Email))[:16]),
				slog.String("ip", req.IP),
			)
		} else {
			s.Metrics.Login(metrics.OutcomeError)
		}
		return LoginResult{RateLimit: rl}, err
	}

	// 3. A successful login clears the counter
	if err := s.Limiter.Reset(ctx, req.ClientKey, ratelimit.CategoryLogin); err != nil {
		log.Warn("failed to reset login rate limit", slog.Any("error", err))
	}

	// 4. Issue the token pair
	res, err := s.startSession(ctx, user, req.RememberMe, req.UserAgent, req.IP)
	if err != nil {
		s.Metrics.Login(metrics.OutcomeError)
		return LoginResult{RateLimit: rl}, err
	}
	res.RateLimit = rl

	s.Metrics.Login(metrics.OutcomeSuccess)
	log.Info("login_succeeded",
		slog.String("user_id", user.ID),
		slog.String("session_id", res.SessionID),
		slog.Bool("remember_me", req.RememberMe),
	)
	return res, nil
}

// Register creates a viewer account and signs it in.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (LoginResult, error) {
	rl := s.Limiter.Check(ctx, req.ClientKey, ratelimit.CategoryRegister)
	if !rl.Allowed {
		return LoginResult{RateLimit: rl}, &RateLimitError{Category: ratelimit.CategoryRegister, Result: rl}
	}

	user, err := s.Credentials.CreateUser(ctx, req.Email, req.Password, domain.DefaultRole, req.Name)
	if err != nil {
		return LoginResult{RateLimit: rl}, err
	}
	slogx.FromContext(ctx).Info("user_registered", slog.String("user_id", user.ID))

	res, err := s.startSession(ctx, user, false, req.UserAgent, req.IP)
	if err != nil {
		return LoginResult{RateLimit: rl}, err
	}
	res.RateLimit = rl
	return res, nil
}

func (s *AuthService) startSession(ctx context.Context, user domain.User, extended bool, userAgent, ip string) (LoginResult, error) {
	issued, err := s.Tokens.Issue(ctx, user.ID, user.Email, user.Role, extended)
	if err != nil {
		return LoginResult{}, err
	}
	sess, err := s.Sessions.CreateSession(ctx, user.ID, user.Email, user.Role, userAgent, ip)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{
		AccessToken:      issued.Token,
		AccessExpiresAt:  issued.ExpiresAt,
		RefreshToken:     sess.RefreshToken,
		SessionID:        sess.SessionID,
		SessionExpiresAt: sess.ExpiresAt,
		User:             user,
	}, nil
}

// Logout ends the caller's session. Invalid or missing tokens are ignored so
// logout always succeeds from the client's point of view; only store failures
// are returned. With all set every session of the user is revoked.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string, all bool) error {
	log := slogx.FromContext(ctx)
	var userID string

	// 1. Deny the access token for the rest of its life
	if accessToken != "" {
		claims, err := s.Tokens.Verify(ctx, accessToken)
		if err == nil {
			userID = claims.Subject
			if err := s.Blacklist.Add(ctx, accessToken, claims.ExpiryTime()); err != nil {
				return err
			}
		}
	}

	// 2. Revoke the session behind the refresh token
	if refreshToken != "" {
		sess, err := s.Sessions.GetSessionByRefreshToken(ctx, refreshToken)
		switch {
		case err == nil:
			if userID == "" {
				userID = sess.UserID
			}
			if err := s.Sessions.RevokeSession(ctx, sess.ID); err != nil {
				return err
			}
		case errors.Is(err, ErrStoreUnavailable):
			return err
		default:
			log.Debug("logout with unusable refresh token", slog.Any("error", err))
		}
	}

	// 3. Everywhere else
	if all && userID != "" {
		if _, err := s.Sessions.RevokeAllUserSessions(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

// Refresh reissues an access token close to expiry. Blacklisted tokens are
// refused.
func (s *AuthService) Refresh(ctx context.Context, accessToken string) (RefreshResult, error) {
	if accessToken == "" {
		return RefreshResult{Status: RefreshInvalid}, ErrMalformedToken
	}
	listed, err := s.Blacklist.IsBlacklisted(ctx, accessToken)
	if err != nil {
		return RefreshResult{Status: RefreshInvalid}, err
	}
	if listed {
		return RefreshResult{Status: RefreshInvalid}, ErrRevokedToken
	}
	return s.Tokens.Refresh(ctx, accessToken)
}

// RefreshSession mints a short lived access token from a live session. The
// session itself is not rotated. Role and email come from the current user
// record so a demotion takes effect here.
func (s *AuthService) RefreshSession(ctx context.Context, refreshToken string) (LoginResult, error) {
	sess, err := s.Sessions.GetSessionByRefreshToken(ctx, refreshToken)
	if err != nil {
		return LoginResult{}, err
	}

	user, err := s.Credentials.LookupUser(ctx, sess.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return LoginResult{}, ErrInvalidRefreshToken
	case err != nil:
		return LoginResult{}, err
	}

	issued, err := s.Tokens.Issue(ctx, user.ID, user.Email, user.Role, false)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{
		AccessToken:      issued.Token,
		AccessExpiresAt:  issued.ExpiresAt,
		SessionID:        sess.ID,
		SessionExpiresAt: sess.ExpiresAt,
		User:             user,
	}, nil
}

// Authenticate turns an access token into a Principal. Store failures deny.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (domain.Principal, error) {
	claims, err := s.Tokens.Verify(ctx, accessToken)
	if err != nil {
		return domain.Principal{}, err
	}

	listed, err := s.Blacklist.IsBlacklisted(ctx, accessToken)
	if err != nil {
		return domain.Principal{}, err
	}
	if listed {
		return domain.Principal{}, ErrRevokedToken
	}

	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return domain.Principal{}, ErrMalformedToken
	}
	return domain.Principal{UserID: claims.Subject, Email: claims.Email, Role: role}, nil
}

func (s *AuthService) RequestPasswordReset(ctx context.Context, email, clientKey string) error {
	return s.Resets.Request(ctx, email, clientKey)
}

func (s *AuthService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	return s.Resets.Confirm(ctx, token, newPassword)
}

// ChangePassword replaces the password of a signed in user after checking the
// current one. Other sessions are revoked; keepSessionID survives.
func (s *AuthService) ChangePassword(ctx context.Context, p domain.Principal, currentPassword, newPassword, keepSessionID string) error {
	if _, err := s.Credentials.ValidateCredentials(ctx, p.Email, currentPassword); err != nil {
		return err
	}

	sctx, cancel := storeContext(ctx, s.Credentials.StoreTimeout)
	defer cancel()

	err := s.Credentials.Store.WithTx(sctx, func(tx store.Tx) error {
		return s.Credentials.ChangePassword(sctx, tx, p.UserID, newPassword)
	})
	switch {
	case errors.Is(err, ErrWeakPassword), errors.Is(err, ErrStoreUnavailable):
		return err
	case err != nil:
		return unavailable(err)
	}

	sessions, err := s.Sessions.ListSessions(ctx, p.UserID)
	if err != nil {
		slogx.FromContext(ctx).Warn("failed to list sessions after password change", slog.Any("error", err))
		return nil
	}
	for _, sess := range sessions {
		if sess.ID == keepSessionID {
			continue
		}
		if err := s.Sessions.RevokeSession(ctx, sess.ID); err != nil {
			slogx.FromContext(ctx).Warn("failed to revoke session after password change", slog.Any("error", err))
		}
	}
	return nil
}

func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	return s.Sessions.ListSessions(ctx, userID)
}

func (s *AuthService) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	return s.Sessions.RevokeAllUserSessions(ctx, userID)
}

// RequireRole reports ErrInsufficientRole unless p holds at least minimum.
func RequireRole(p domain.Principal, minimum domain.Role) error {
	if !p.Role.AtLeast(minimum) {
		return ErrInsufficientRole
	}
	return nil
}
