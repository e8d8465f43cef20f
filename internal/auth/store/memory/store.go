// Package memory is the in-process store. All repositories share one mutex,
// which makes every single-row operation atomic and every transaction
// serialisable. It does not survive restarts and is not shared between
// processes.
package memory

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/aussiebroadwan/atrium/internal/auth/store"
)

var (
	ErrTxDone   = errors.New("memory: transaction already finished")
	ErrNestedTx = errors.New("memory: nested transactions are not supported")
)

type state struct {
	users        map[string]domain.User    // id -> user
	usersByEmail map[string]string         // email -> id
	sessions     map[string]domain.Session // id -> session
	sessionsByRT map[string]string         // refresh hash -> id
	blacklist    map[string]domain.BlacklistEntry
	resets       map[string]domain.PasswordResetToken
	rateLimits   map[string]domain.RateLimitCounter
}

func newState() *state {
	return &state{
		users:        make(map[string]domain.User),
		usersByEmail: make(map[string]string),
		sessions:     make(map[string]domain.Session),
		sessionsByRT: make(map[string]string),
		blacklist:    make(map[string]domain.BlacklistEntry),
		resets:       make(map[string]domain.PasswordResetToken),
		rateLimits:   make(map[string]domain.RateLimitCounter),
	}
}

func (s *state) clone() *state {
	return &state{
		users:        maps.Clone(s.users),
		usersByEmail: maps.Clone(s.usersByEmail),
		sessions:     maps.Clone(s.sessions),
		sessionsByRT: maps.Clone(s.sessionsByRT),
		blacklist:    maps.Clone(s.blacklist),
		resets:       maps.Clone(s.resets),
		rateLimits:   maps.Clone(s.rateLimits),
	}
}

type Store struct {
	mu   sync.Mutex
	data *state
}

func NewStore() *Store {
	return &Store{data: newState()}
}

// db is the handle the repositories work through. Outside a transaction every
// call takes the store lock; inside one the lock is already held by the Tx.
type db struct {
	s      *Store
	inTx   bool
	closed *bool
}

func (d db) lock() func() {
	if d.inTx {
		return func() {}
	}
	d.s.mu.Lock()
	return d.s.mu.Unlock
}

func (d db) check(ctx context.Context) error {
	if d.closed != nil && *d.closed {
		return ErrTxDone
	}
	return ctx.Err()
}

func (s *Store) handle() db { return db{s: s} }

func (s *Store) Users() store.Users                   { return &usersRepo{s.handle()} }
func (s *Store) Sessions() store.Sessions             { return &sessionsRepo{s.handle()} }
func (s *Store) Blacklist() store.Blacklist           { return &blacklistRepo{s.handle()} }
func (s *Store) PasswordResets() store.PasswordResets { return &resetsRepo{s.handle()} }
func (s *Store) RateLimits() store.RateLimits         { return &rateLimitsRepo{s.handle()} }

func (s *Store) ApplyMigrations() error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Tx locks the whole store until Commit or Rollback. Rollback restores the
// snapshot taken when the transaction began.
func (s *Store) Tx(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &txStore{s: s, snapshot: s.data.clone()}, nil
}

// WithTx executes fn within a transaction, automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type txStore struct {
	s        *Store
	snapshot *state
	done     bool
}

func (t *txStore) handle() db { return db{s: t.s, inTx: true, closed: &t.done} }

func (t *txStore) Users() store.Users                   { return &usersRepo{t.handle()} }
func (t *txStore) Sessions() store.Sessions             { return &sessionsRepo{t.handle()} }
func (t *txStore) Blacklist() store.Blacklist           { return &blacklistRepo{t.handle()} }
func (t *txStore) PasswordResets() store.PasswordResets { return &resetsRepo{t.handle()} }
func (t *txStore) RateLimits() store.RateLimits         { return &rateLimitsRepo{t.handle()} }

func (t *txStore) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.snapshot = nil
	t.s.mu.Unlock()
	return nil
}

func (t *txStore) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.data = t.snapshot
	t.s.mu.Unlock()
	return nil
}

func (t *txStore) ApplyMigrations() error { return nil }

func (t *txStore) Close() error { return nil }

func (t *txStore) Ping(ctx context.Context) error { return ctx.Err() }

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) { return nil, ErrNestedTx }

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error { return ErrNestedTx }
