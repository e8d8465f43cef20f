package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
)

// CounterStore is an atomic fixed window counter. store.RateLimits from the
// sqlite and memory drivers, and postgres.RateLimitStore, all satisfy it.
type CounterStore interface {
	// IncrementRateLimit adds one to key, opening a new window of the given
	// length if none is live at now, and returns the post-increment value.
	IncrementRateLimit(ctx context.Context, key string, now time.Time, window time.Duration) (domain.RateLimitCounter, error)
	ResetRateLimit(ctx context.Context, key string) error
}

const defaultPruneEvery = time.Minute

// MemoryStore is the in-process CounterStore used as the failover target.
// Counts are local to this process, so with several replicas the effective
// ceiling is multiplied by the replica count while it is in use.
type MemoryStore struct {
	mu        sync.Mutex
	counters  map[string]domain.RateLimitCounter
	lastPrune time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]domain.RateLimitCounter)}
}

func (m *MemoryStore) IncrementRateLimit(ctx context.Context, key string, now time.Time, window time.Duration) (domain.RateLimitCounter, error) {
	if err := ctx.Err(); err != nil {
		return domain.RateLimitCounter{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastPrune) >= defaultPruneEvery {
		m.pruneLocked(now)
	}

	c, ok := m.counters[key]
	if !ok || !now.Before(c.WindowResetAt) {
		c = domain.RateLimitCounter{Key: key, WindowResetAt: now.Add(window)}
	}
	c.Count++
	m.counters[key] = c
	return c, nil
}

func (m *MemoryStore) ResetRateLimit(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.counters, key)
	m.mu.Unlock()
	return nil
}

// Prune drops every counter whose window has closed and returns how many.
func (m *MemoryStore) Prune(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pruneLocked(now)
}

func (m *MemoryStore) pruneLocked(now time.Time) int {
	n := 0
	for k, c := range m.counters {
		if !now.Before(c.WindowResetAt) {
			delete(m.counters, k)
			n++
		}
	}
	m.lastPrune = now
	return n
}

// Len is the number of live keys.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}
