package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/aussiebroadwan/atrium/pkg/jwtx"
	"github.com/aussiebroadwan/atrium/pkg/slogx"
)

// IssuedToken is a signed access token and the claims inside it.
type IssuedToken struct {
	Token     string
	Claims    jwtx.Claims
	ExpiresAt time.Time
}

type RefreshStatus int

const (
	RefreshInvalid RefreshStatus = iota
	RefreshUnchanged
	RefreshNewToken
)

func (s RefreshStatus) String() string {
	switch s {
	case RefreshNewToken:
		return "new_token"
	case RefreshUnchanged:
		return "unchanged"
	default:
		return "invalid"
	}
}

type RefreshResult struct {
	Status RefreshStatus
	// Token is only set when Status is RefreshNewToken.
	Token IssuedToken
}

// TokenService issues and verifies stateless access tokens. Checking the
// blacklist is the caller's job; AuthService does it.
type TokenService struct {
	KeyManager    *jwtx.KeyManager
	Issuer        string
	Audience      []string
	ShortTTL      time.Duration
	LongTTL       time.Duration
	RefreshWindow time.Duration
	Now           func() time.Time
}

// Issue signs a new access token. extended selects the long lifetime.
func (s *TokenService) Issue(ctx context.Context, userID, email string, role domain.Role, extended bool) (IssuedToken, error) {
	now := clock(s.Now).now()

	ttl := s.ttl(extended)
	claims := jwtx.NewAccessClaims(userID, email, role.String(), extended, ttl, s.Issuer, s.Audience, now)

	signer := s.KeyManager.GetSigner()
	if signer == nil {
		return IssuedToken{}, jwtx.ErrNoKey
	}
	token, err := signer.Sign(claims)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to sign access token", "error", err)
		return IssuedToken{}, fmt.Errorf("sign access token: %w", err)
	}

	return IssuedToken{Token: token, Claims: claims, ExpiresAt: claims.ExpiryTime()}, nil
}

// Verify checks the signature and time window of token. Issuer, audience and
// key problems all read as ErrInvalidSignature.
func (s *TokenService) Verify(ctx context.Context, token string) (jwtx.Claims, error) {
	if token == "" {
		return jwtx.Claims{}, ErrMalformedToken
	}

	claims, err := s.KeyManager.Verifier.Verify(token)
	if err != nil {
		slogx.FromContext(ctx).Debug("access token rejected", "error", err)
		return jwtx.Claims{}, mapVerifyError(err)
	}
	return claims, nil
}

// Refresh reissues token when it is inside the refresh window. Tokens with
// more time left come back RefreshUnchanged. The new token keeps subject,
// email, role and lifetime choice.
func (s *TokenService) Refresh(ctx context.Context, token string) (RefreshResult, error) {
	claims, err := s.Verify(ctx, token)
	if err != nil {
		return RefreshResult{Status: RefreshInvalid}, err
	}

	now := clock(s.Now).now()
	if claims.ExpiresIn(now) > s.refreshWindow() {
		return RefreshResult{Status: RefreshUnchanged}, nil
	}

	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return RefreshResult{Status: RefreshInvalid}, ErrMalformedToken
	}

	issued, err := s.Issue(ctx, claims.Subject, claims.Email, role, claims.Extended)
	if err != nil {
		return RefreshResult{Status: RefreshInvalid}, err
	}
	return RefreshResult{Status: RefreshNewToken, Token: issued}, nil
}

func (s *TokenService) ttl(extended bool) time.Duration {
	if extended {
		if s.LongTTL > 0 {
			return s.LongTTL
		}
		return jwtx.ExtendedAccessTokenTTL
	}
	if s.ShortTTL > 0 {
		return s.ShortTTL
	}
	return jwtx.DefaultAccessTokenTTL
}

func (s *TokenService) refreshWindow() time.Duration {
	if s.RefreshWindow > 0 {
		return s.RefreshWindow
	}
	return jwtx.DefaultRefreshWindow
}

func mapVerifyError(err error) error {
	switch {
	case errors.Is(err, jwtx.ErrMalformed):
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	case errors.Is(err, jwtx.ErrExpired):
		return fmt.Errorf("%w: %w", ErrExpiredToken, err)
	default:
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
}
