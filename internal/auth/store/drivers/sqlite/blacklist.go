package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
)

type blacklistRepo struct {
	q querier
}

// AddToBlacklist keeps the later of the two expiries on conflict.
func (r *blacklistRepo) AddToBlacklist(ctx context.Context, e domain.BlacklistEntry) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO token_blacklist (token_hash, expires_at, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(token_hash) DO UPDATE SET expires_at = MAX(token_blacklist.expires_at, excluded.expires_at)`,
		e.TokenHash, millis(e.ExpiresAt), millis(e.CreatedAt),
	)
	if err != nil {
		return wrap("add_to_blacklist", err)
	}
	return nil
}

func (r *blacklistRepo) GetBlacklistEntry(ctx context.Context, hash string) (domain.BlacklistEntry, error) {
	var (
		e                domain.BlacklistEntry
		expires, created int64
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT token_hash, expires_at, created_at FROM token_blacklist WHERE token_hash = ?`, hash,
	).Scan(&e.TokenHash, &expires, &created)
	if err != nil {
		return domain.BlacklistEntry{}, mapNotFound("get_blacklist_entry", err)
	}
	e.ExpiresAt = fromMillis(expires)
	e.CreatedAt = fromMillis(created)
	return e, nil
}

func (r *blacklistRepo) DeleteBlacklistEntry(ctx context.Context, hash string, now time.Time) error {
	_, err := deleteWhere(ctx, r.q, "delete_blacklist_entry",
		`DELETE FROM token_blacklist WHERE token_hash = ? AND expires_at <= ?`, hash, millis(now))
	return err
}

func (r *blacklistRepo) DeleteExpiredBlacklist(ctx context.Context, now time.Time) (int64, error) {
	return deleteWhere(ctx, r.q, "delete_expired_blacklist",
		`DELETE FROM token_blacklist WHERE expires_at <= ?`, millis(now))
}
