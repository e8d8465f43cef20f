package service

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/aussiebroadwan/atrium/internal/auth/metrics"
	"github.com/aussiebroadwan/atrium/internal/auth/store"
	"github.com/aussiebroadwan/atrium/pkg/cryptox"
	"github.com/aussiebroadwan/atrium/pkg/slogx"
)

// Blacklist denies access tokens before their natural expiry. Only the token
// fingerprint is stored. Entries are never removed before they expire, since
// the token would verify again.
type Blacklist struct {
	Store        store.Store
	StoreTimeout time.Duration
	Now          func() time.Time
	Metrics      *metrics.Metrics
}

// Add records token until expiresAt. Tokens already past expiry are ignored.
func (b *Blacklist) Add(ctx context.Context, token string, expiresAt time.Time) error {
	now := clock(b.Now).now()
	if !expiresAt.After(now) {
		return nil
	}

	sctx, cancel := storeContext(ctx, b.StoreTimeout)
	defer cancel()

	err := b.Store.Blacklist().AddToBlacklist(sctx, domain.BlacklistEntry{
		TokenHash: cryptox.FingerprintToken(token),
		ExpiresAt: expiresAt,
		CreatedAt: now,
	})
	if err != nil {
		slogx.FromContext(ctx).Error("failed to blacklist token", "error", err)
		return unavailable(err)
	}
	b.Metrics.Blacklisted()
	return nil
}

// IsBlacklisted reports whether token is currently denied. An entry that has
// already expired is deleted on the way and reported as not listed.
func (b *Blacklist) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	sctx, cancel := storeContext(ctx, b.StoreTimeout)
	defer cancel()

	hash := cryptox.FingerprintToken(token)
	entry, err := b.Store.Blacklist().GetBlacklistEntry(sctx, hash)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	case err != nil:
		slogx.FromContext(ctx).Error("blacklist lookup failed", "error", err)
		return false, unavailable(err)
	}

	now := clock(b.Now).now()
	if now.Before(entry.ExpiresAt) {
		return true, nil
	}

	if err := b.Store.Blacklist().DeleteBlacklistEntry(sctx, hash, now); err != nil {
		slogx.FromContext(ctx).Warn("failed to purge expired blacklist entry", "error", err)
	}
	return false, nil
}

// DeleteExpired sweeps every expired entry.
func (b *Blacklist) DeleteExpired(ctx context.Context) (int64, error) {
	sctx, cancel := storeContext(ctx, b.StoreTimeout)
	defer cancel()
	return b.Store.Blacklist().DeleteExpiredBlacklist(sctx, clock(b.Now).now())
}
