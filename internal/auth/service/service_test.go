package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/aussiebroadwan/atrium/internal/auth/ratelimit"
	"github.com/aussiebroadwan/atrium/internal/auth/store"
	"github.com/aussiebroadwan/atrium/internal/auth/store/memory"
	"github.com/aussiebroadwan/atrium/pkg/cryptox"
	"github.com/aussiebroadwan/atrium/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const testPassword = "Correct1Horse"

// testClock starts on a whole second; JWT dates have second precision.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Unix(1_760_000_000, 0).UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// cheapHasher keeps argon2 fast enough for tests.
func cheapHasher() *cryptox.Hasher {
	return &cryptox.Hasher{
		Params: cryptox.Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, KeyLength: 32, SaltLength: 16},
		Pepper: "test-pepper",
	}
}

type harness struct {
	clock *testClock
	store store.Store
	auth  *AuthService
	sent  []PasswordResetNotice
	mu    sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, memory.NewStore())
}

func newHarnessWithStore(t *testing.T, st store.Store) *harness {
	t.Helper()

	h := &harness{clock: newTestClock(), store: st}

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		VerifyOptions: jwtx.VerifyOptions{
			Issuer:   "atrium-test",
			Audience: []string{"atrium"},
			Now:      h.clock.Now,
		},
	})
	require.NoError(t, err)

	creds := &CredentialService{Store: st, Hasher: cheapHasher(), Now: h.clock.Now}
	tokens := &TokenService{
		KeyManager: km,
		Issuer:     "atrium-test",
		Audience:   []string{"atrium"},
		Now:        h.clock.Now,
	}
	sessions := &SessionManager{Store: st, Now: h.clock.Now}
	limiter := &ratelimit.Limiter{
		Store:    ratelimit.NewMemoryStore(),
		Policies: ratelimit.DefaultPolicies(),
		Now:      h.clock.Now,
	}

	h.auth = &AuthService{
		Credentials: creds,
		Tokens:      tokens,
		Sessions:    sessions,
		Blacklist:   &Blacklist{Store: st, Now: h.clock.Now},
		Limiter:     limiter,
		Resets: &ResetService{
			Store:       st,
			Sessions:    sessions,
			Credentials: creds,
			Limiter:     limiter,
			Notifier: NotifierFunc(func(_ context.Context, n PasswordResetNotice) error {
				h.mu.Lock()
				h.sent = append(h.sent, n)
				h.mu.Unlock()
				return nil
			}),
		},
	}
	return h
}

func (h *harness) createUser(t *testing.T, email string, role domain.Role) domain.User {
	t.Helper()
	u, err := h.auth.Credentials.CreateUser(context.Background(), email, testPassword, role, "Test User")
	require.NoError(t, err)
	return u
}

func (h *harness) login(t *testing.T, email string, rememberMe bool) LoginResult {
	t.Helper()
	res, err := h.auth.Login(context.Background(), LoginRequest{
		Email:      email,
		Password:   testPassword,
		RememberMe: rememberMe,
		ClientKey:  "198.51.100.7",
		UserAgent:  "go-test",
		IP:         "198.51.100.7",
	})
	require.NoError(t, err)
	return res
}

func (h *harness) lastNotice(t *testing.T) PasswordResetNotice {
	t.Helper()
	h.auth.Resets.Wait()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.sent, "no reset notice was sent")
	return h.sent[len(h.sent)-1]
}

var errStoreDown = errors.New("database is locked")

// brokenStore fails every call on the repositories it overrides.
type brokenStore struct {
	store.Store
	users, sessions, blacklist bool
}

func (b *brokenStore) Users() store.Users {
	if b.users {
		return brokenUsers{b.Store.Users()}
	}
	return b.Store.Users()
}

func (b *brokenStore) Sessions() store.Sessions {
	if b.sessions {
		return brokenSessions{b.Store.Sessions()}
	}
	return b.Store.Sessions()
}

func (b *brokenStore) Blacklist() store.Blacklist {
	if b.blacklist {
		return brokenBlacklist{b.Store.Blacklist()}
	}
	return b.Store.Blacklist()
}

type brokenUsers struct{ store.Users }

func (brokenUsers) GetUserByEmail(context.Context, string) (domain.User, error) {
	return domain.User{}, errStoreDown
}

type brokenSessions struct{ store.Sessions }

func (brokenSessions) GetSessionByRefreshHash(context.Context, string) (domain.Session, error) {
	return domain.Session{}, errStoreDown
}

func (brokenSessions) RevokeUserSessions(context.Context, string) (int, error) {
	return 0, errStoreDown
}

type brokenBlacklist struct{ store.Blacklist }

func (brokenBlacklist) GetBlacklistEntry(context.Context, string) (domain.BlacklistEntry, error) {
	return domain.BlacklistEntry{}, errStoreDown
}

func (brokenBlacklist) AddToBlacklist(context.Context, domain.BlacklistEntry) error {
	return errStoreDown
}
