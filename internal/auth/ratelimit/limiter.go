// Package ratelimit implements per category fixed window limits over an
// atomic counter store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/metrics"
	"github.com/aussiebroadwan/atrium/pkg/slogx"
)

// Result is the outcome of one Check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Reason is a human readable explanation, set when Allowed is false.
	Reason string
}

// RetryAfter is how long the caller should wait before the window reopens,
// rounded up to a whole second.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	return (d + time.Second - 1).Truncate(time.Second)
}

type Limiter struct {
	Store    CounterStore
	Policies Policies
	Now      func() time.Time
	Metrics  *metrics.Metrics
}

// Key is the counter key for a client within a category.
func Key(category Category, clientKey string) string {
	return string(category) + ":" + clientKey
}

// Check counts one request for clientKey in category and reports whether it
// is within the ceiling. The counter is incremented before the comparison so
// concurrent callers cannot both slip under it.
//
// Check fails open: if the store errors the request is allowed and the error
// is logged. Wrap the store in a FailoverStore to keep enforcing limits
// locally in that case. A cancelled caller is denied instead, since nothing
// was counted for it.
func (l *Limiter) Check(ctx context.Context, clientKey string, category Category) Result {
	category, pol := l.Policies.For(category)
	now := l.now()

	c, err := l.Store.IncrementRateLimit(ctx, Key(category, clientKey), now, pol.Window)
	if err != nil && ctx.Err() != nil {
		return Result{Limit: pol.Limit, ResetAt: now.Add(pol.Window), Reason: "request cancelled"}
	}
	if err != nil {
		slogx.FromContext(ctx).Error("rate limit store failed, allowing request",
			"category", category,
			"error", err,
		)
		return Result{Allowed: true, Limit: pol.Limit, Remaining: pol.Limit, ResetAt: now.Add(pol.Window)}
	}

	res := Result{
		Allowed:   c.Count <= pol.Limit,
		Limit:     pol.Limit,
		Remaining: max(pol.Limit-c.Count, 0),
		ResetAt:   c.WindowResetAt,
	}
	if !res.Allowed {
		res.Reason = fmt.Sprintf("too many %s attempts, try again in %s",
			humanCategory(category), res.RetryAfter(now))
		slogx.FromContext(ctx).Warn("rate_limited",
			"category", category,
			"count", c.Count,
			"limit", pol.Limit,
			"reset_at", res.ResetAt,
		)
	}
	l.Metrics.RateLimit(string(category), res.Allowed)
	return res
}

// Reset clears the counter for clientKey in category.
func (l *Limiter) Reset(ctx context.Context, clientKey string, category Category) error {
	category, _ = l.Policies.For(category)
	return l.Store.ResetRateLimit(ctx, Key(category, clientKey))
}

func (l *Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func humanCategory(c Category) string {
	switch c {
	case CategoryPasswordReset:
		return "password reset"
	case CategoryAPI:
		return "api"
	default:
		return string(c)
	}
}
