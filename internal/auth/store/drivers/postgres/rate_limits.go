// Package postgres holds the shared rate-limit counter store. Several auth
// replicas point at one database so their limits add up across the fleet.
package postgres

import (
	"context"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// pool is the subset of *pgxpool.Pool the store needs. pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS atrium_rate_limits (
	key             TEXT PRIMARY KEY,
	count           BIGINT NOT NULL,
	window_reset_at TIMESTAMPTZ NOT NULL
)`

const incrementSQL = `
INSERT INTO atrium_rate_limits (key, count, window_reset_at) VALUES ($1, 1, $2)
ON CONFLICT (key) DO UPDATE SET
	count = CASE WHEN atrium_rate_limits.window_reset_at <= $3 THEN 1 ELSE atrium_rate_limits.count + 1 END,
	window_reset_at = CASE WHEN atrium_rate_limits.window_reset_at <= $3 THEN EXCLUDED.window_reset_at ELSE atrium_rate_limits.window_reset_at END
RETURNING count, window_reset_at`

// RateLimitStore keeps fixed-window counters in PostgreSQL. Every increment
// is one upsert statement so concurrent replicas never lose an update.
type RateLimitStore struct {
	pool pool
}

func NewRateLimitStore(p pool) *RateLimitStore {
	return &RateLimitStore{pool: p}
}

// Connect opens a pgx pool for the given connection string and checks it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.In("postgres").Code("PG_CONNECT_FAILED").Wrap(err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, oops.In("postgres").Code("PG_CONNECT_FAILED").Wrap(err)
	}
	return p, nil
}

// EnsureSchema creates the counter table when it does not exist.
func (s *RateLimitStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return oops.In("postgres").Code("PG_SCHEMA_FAILED").
			With("operation", "create atrium_rate_limits").
			Wrap(err)
	}
	return nil
}

func (s *RateLimitStore) IncrementRateLimit(ctx context.Context, key string, now time.Time, window time.Duration) (domain.RateLimitCounter, error) {
	var (
		count int64
		reset time.Time
	)
	err := s.pool.QueryRow(ctx, incrementSQL, key, now.Add(window), now).Scan(&count, &reset)
	if err != nil {
		return domain.RateLimitCounter{}, oops.In("postgres").Code("RATELIMIT_INCREMENT_FAILED").
			With("operation", "upsert atrium_rate_limits").
			With("key", key).
			Wrap(err)
	}
	return domain.RateLimitCounter{Key: key, Count: int(count), WindowResetAt: reset}, nil
}

func (s *RateLimitStore) ResetRateLimit(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM atrium_rate_limits WHERE key = $1`, key); err != nil {
		return oops.In("postgres").Code("RATELIMIT_RESET_FAILED").
			With("operation", "delete atrium_rate_limits").
			With("key", key).
			Wrap(err)
	}
	return nil
}

func (s *RateLimitStore) DeleteExpiredRateLimits(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM atrium_rate_limits WHERE window_reset_at <= $1`, now)
	if err != nil {
		return 0, oops.In("postgres").Code("RATELIMIT_PURGE_FAILED").
			With("operation", "delete expired atrium_rate_limits").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// Ping reports whether the database is reachable.
func (s *RateLimitStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
