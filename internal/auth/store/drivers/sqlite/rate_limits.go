package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
)

type rateLimitsRepo struct {
	q querier
}

// A window is live while window_reset_at > now. The CASE arms restart the
// count when the stored window has lapsed.
const incrementRateLimitSQL = `
INSERT INTO rate_limits (key, count, window_reset_at) VALUES (?, 1, ?)
ON CONFLICT(key) DO UPDATE SET
	count = CASE WHEN rate_limits.window_reset_at <= ? THEN 1 ELSE rate_limits.count + 1 END,
	window_reset_at = CASE WHEN rate_limits.window_reset_at <= ? THEN excluded.window_reset_at ELSE rate_limits.window_reset_at END
RETURNING count, window_reset_at`

func (r *rateLimitsRepo) IncrementRateLimit(ctx context.Context, key string, now time.Time, window time.Duration) (domain.RateLimitCounter, error) {
	nowMs := millis(now)
	var (
		c     = domain.RateLimitCounter{Key: key}
		reset int64
	)
	err := r.q.QueryRowContext(ctx, incrementRateLimitSQL, key, millis(now.Add(window)), nowMs, nowMs).
		Scan(&c.Count, &reset)
	if err != nil {
		return domain.RateLimitCounter{}, wrap("increment_rate_limit", err)
	}
	c.WindowResetAt = fromMillis(reset)
	return c, nil
}

func (r *rateLimitsRepo) ResetRateLimit(ctx context.Context, key string) error {
	_, err := deleteWhere(ctx, r.q, "reset_rate_limit", `DELETE FROM rate_limits WHERE key = ?`, key)
	return err
}

func (r *rateLimitsRepo) DeleteExpiredRateLimits(ctx context.Context, now time.Time) (int64, error) {
	return deleteWhere(ctx, r.q, "delete_expired_rate_limits",
		`DELETE FROM rate_limits WHERE window_reset_at <= ?`, millis(now))
}
