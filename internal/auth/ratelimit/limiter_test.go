package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/aussiebroadwan/atrium/internal/auth/store/memory"
	"github.com/stretchr/testify/require"
)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLimiter_CeilingAndReset(t *testing.T) {
	stores := map[string]func() CounterStore{
		"memory store": func() CounterStore { return NewMemoryStore() },
		"store/memory": func() CounterStore { return memory.NewStore().RateLimits() },
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clk := newClock()
			l := &Limiter{Store: newStore(), Policies: DefaultPolicies(), Now: clk.Now}

			for i := range 5 {
				res := l.Check(ctx, "10.0.0.1", CategoryLogin)
				require.True(t, res.Allowed, "attempt %d", i+1)
				require.Equal(t, 5, res.Limit)
				require.Equal(t, 4-i, res.Remaining)
			}

			res := l.Check(ctx, "10.0.0.1", CategoryLogin)
			require.False(t, res.Allowed)
			require.Zero(t, res.Remaining)
			require.Equal(t, clk.Now().Add(time.Hour), res.ResetAt)
			require.Contains(t, res.Reason, "too many login attempts")

			require.True(t, l.Check(ctx, "10.0.0.2", CategoryLogin).Allowed, "other clients unaffected")
			require.True(t, l.Check(ctx, "10.0.0.1", CategoryRegister).Allowed, "other categories unaffected")

			require.NoError(t, l.Reset(ctx, "10.0.0.1", CategoryLogin))
			res = l.Check(ctx, "10.0.0.1", CategoryLogin)
			require.True(t, res.Allowed)
			require.Equal(t, 4, res.Remaining)
		})
	}
}

func TestLimiter_WindowRollover(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	l := &Limiter{
		Store:    NewMemoryStore(),
		Policies: Policies{CategoryAPI: {Limit: 2, Window: time.Minute}},
		Now:      clk.Now,
	}

	require.True(t, l.Check(ctx, "k", CategoryAPI).Allowed)
	require.True(t, l.Check(ctx, "k", CategoryAPI).Allowed)
	require.False(t, l.Check(ctx, "k", CategoryAPI).Allowed)

	clk.Advance(time.Minute)
	require.True(t, l.Check(ctx, "k", CategoryAPI).Allowed)
}

func TestLimiter_UnknownCategoryUsesAPI(t *testing.T) {
	l := &Limiter{Store: NewMemoryStore(), Policies: DefaultPolicies()}
	res := l.Check(context.Background(), "k", Category("upload"))
	require.True(t, res.Allowed)
	require.Equal(t, 100, res.Limit)
}

func TestLimiter_ConcurrentExactCeiling(t *testing.T) {
	const (
		ceiling = 10
		callers = 64
	)
	stores := map[string]CounterStore{
		"memory store": NewMemoryStore(),
		"store/memory": memory.NewStore().RateLimits(),
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			l := &Limiter{Store: s, Policies: Policies{CategoryLogin: {Limit: ceiling, Window: time.Hour}}}

			var (
				wg      sync.WaitGroup
				allowed atomic.Int64
			)
			for range callers {
				wg.Go(func() {
					if l.Check(context.Background(), "same-key", CategoryLogin).Allowed {
						allowed.Add(1)
					}
				})
			}
			wg.Wait()

			require.Equal(t, int64(min(callers, ceiling)), allowed.Load())
		})
	}
}

type failingStore struct{}

func (failingStore) IncrementRateLimit(context.Context, string, time.Time, time.Duration) (domain.RateLimitCounter, error) {
	return domain.RateLimitCounter{}, errors.New("down")
}

func (failingStore) ResetRateLimit(context.Context, string) error { return errors.New("down") }

func TestLimiter_FailsOpen(t *testing.T) {
	l := &Limiter{Store: failingStore{}, Policies: DefaultPolicies()}
	res := l.Check(context.Background(), "k", CategoryLogin)
	require.True(t, res.Allowed)
	require.Equal(t, 5, res.Remaining)
}

func TestResult_RetryAfter(t *testing.T) {
	now := time.Unix(1000, 0)
	require.Equal(t, 10*time.Second, Result{ResetAt: now.Add(10 * time.Second)}.RetryAfter(now))
	require.Equal(t, 11*time.Second, Result{ResetAt: now.Add(10*time.Second + time.Millisecond)}.RetryAfter(now))
	require.Equal(t, time.Second, Result{ResetAt: now.Add(-time.Second)}.RetryAfter(now))
}

func TestMemoryStore_Prune(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	m := NewMemoryStore()

	_, err := m.IncrementRateLimit(ctx, "a", clk.Now(), time.Minute)
	require.NoError(t, err)
	_, err = m.IncrementRateLimit(ctx, "b", clk.Now(), time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())

	require.Equal(t, 1, m.Prune(clk.Now().Add(2*time.Minute)))
	require.Equal(t, 1, m.Len())
}

func TestPoliciesFromEnv(t *testing.T) {
	t.Setenv("RATELIMIT_LOGIN_REQUESTS", "1000")
	t.Setenv("RATELIMIT_LOGIN_WINDOW_SEC", "60")
	t.Setenv("RATELIMIT_REGISTER_REQUESTS", "-1")
	t.Setenv("RATELIMIT_PASSWORD_RESET_WINDOW_SEC", "nope")

	p := PoliciesFromEnv(DefaultPolicies())

	require.Equal(t, Policy{Limit: 1000, Window: time.Minute}, p[CategoryLogin])
	require.Equal(t, DefaultPolicies()[CategoryRegister], p[CategoryRegister])
	require.Equal(t, DefaultPolicies()[CategoryPasswordReset], p[CategoryPasswordReset])
	require.Equal(t, DefaultPolicies()[CategoryAPI], p[CategoryAPI])
}
