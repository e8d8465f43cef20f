package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/aussiebroadwan/atrium/internal/auth/metrics"
	"github.com/aussiebroadwan/atrium/pkg/slogx"
)

const (
	DefaultFailoverTimeout  = 2 * time.Second
	DefaultFailoverCooldown = 30 * time.Second
)

// FailoverStore serves counters from Primary and falls back to Fallback when
// Primary errors or exceeds Timeout. After a failure the breaker stays open
// for Cooldown and every call goes straight to Fallback. The first call after
// the cooldown probes Primary again.
//
// Only failures of Primary itself trip the breaker. A call whose caller
// context is already done returns the context error as is.
//
// Fallback counts are not shared between processes. While the breaker is open
// a client can make up to ceiling x replicas requests per window. Each
// transition into fallback is logged at WARN as ratelimit_fallback.
type FailoverStore struct {
	Primary  CounterStore
	Fallback CounterStore
	Timeout  time.Duration
	Cooldown time.Duration
	Now      func() time.Time
	Metrics  *metrics.Metrics

	mu        sync.Mutex
	openUntil time.Time
}

// Open reports whether the breaker is currently routing to Fallback.
func (f *FailoverStore) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now().Before(f.openUntil)
}

func (f *FailoverStore) IncrementRateLimit(ctx context.Context, key string, now time.Time, window time.Duration) (domain.RateLimitCounter, error) {
	if f.Open() {
		f.Metrics.Fallback("circuit_open")
		return f.Fallback.IncrementRateLimit(ctx, key, now, window)
	}

	pctx, cancel := context.WithTimeout(ctx, f.timeout())
	c, err := f.Primary.IncrementRateLimit(pctx, key, now, window)
	cancel()
	if err == nil {
		f.closeBreaker(ctx)
		return c, nil
	}
	// The caller went away, the primary did not fail.
	if cerr := ctx.Err(); cerr != nil {
		return domain.RateLimitCounter{}, cerr
	}

	f.trip(ctx, err)
	return f.Fallback.IncrementRateLimit(ctx, key, now, window)
}

// ResetRateLimit clears the key in both stores so a fallback count cannot
// outlive a successful login after recovery.
func (f *FailoverStore) ResetRateLimit(ctx context.Context, key string) error {
	ferr := f.Fallback.ResetRateLimit(ctx, key)
	if f.Open() {
		return ferr
	}

	pctx, cancel := context.WithTimeout(ctx, f.timeout())
	err := f.Primary.ResetRateLimit(pctx, key)
	cancel()
	if err != nil && ctx.Err() == nil {
		f.trip(ctx, err)
	}
	return ferr
}

func (f *FailoverStore) trip(ctx context.Context, err error) {
	reason := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	f.Metrics.Fallback(reason)

	f.mu.Lock()
	now := f.now()
	already := now.Before(f.openUntil)
	f.openUntil = now.Add(f.cooldown())
	f.mu.Unlock()

	if !already {
		slogx.FromContext(ctx).Warn("ratelimit_fallback",
			"reason", reason,
			"error", err,
			"cooldown", f.cooldown(),
			"note", "counts are per-process until the primary recovers",
		)
	}
}

func (f *FailoverStore) closeBreaker(ctx context.Context) {
	f.mu.Lock()
	wasTripped := !f.openUntil.IsZero()
	f.openUntil = time.Time{}
	f.mu.Unlock()

	if wasTripped {
		slogx.FromContext(ctx).Info("ratelimit_primary_recovered")
	}
}

func (f *FailoverStore) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *FailoverStore) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return DefaultFailoverTimeout
}

func (f *FailoverStore) cooldown() time.Duration {
	if f.Cooldown > 0 {
		return f.Cooldown
	}
	return DefaultFailoverCooldown
}
