package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/aussiebroadwan/atrium/internal/auth/store"
)

type usersRepo struct{ db }

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	defer r.lock()()

	d := r.s.data
	if _, ok := d.usersByEmail[u.Email]; ok {
		return store.ErrAlreadyExists
	}
	if _, ok := d.users[u.ID]; ok {
		return store.ErrAlreadyExists
	}
	d.users[u.ID] = u
	d.usersByEmail[u.Email] = u.ID
	return nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	if err := r.check(ctx); err != nil {
		return domain.User{}, err
	}
	defer r.lock()()

	u, ok := r.s.data.users[id]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return u, nil
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	if err := r.check(ctx); err != nil {
		return domain.User{}, err
	}
	defer r.lock()()

	id, ok := r.s.data.usersByEmail[email]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return r.s.data.users[id], nil
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	return r.update(ctx, userID, func(u *domain.User) {
		u.PasswordHash = hash
		u.UpdatedAt = now
	})
}

func (r *usersRepo) UpdateRole(ctx context.Context, userID string, role domain.Role, now time.Time) error {
	return r.update(ctx, userID, func(u *domain.User) {
		u.Role = role
		u.UpdatedAt = now
	})
}

func (r *usersRepo) update(ctx context.Context, userID string, fn func(*domain.User)) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	defer r.lock()()

	u, ok := r.s.data.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	fn(&u)
	r.s.data.users[userID] = u
	return nil
}

func (r *usersRepo) CountUsers(ctx context.Context) (int, error) {
	if err := r.check(ctx); err != nil {
		return 0, err
	}
	defer r.lock()()
	return len(r.s.data.users), nil
}

type sessionsRepo struct{ db }

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	defer r.lock()()

	d := r.s.data
	if _, ok := d.sessionsByRT[s.RefreshTokenHash]; ok {
		return store.ErrAlreadyExists
	}
	if _, ok := d.sessions[s.ID]; ok {
		return store.ErrAlreadyExists
	}
	d.sessions[s.ID] = s
	d.sessionsByRT[s.RefreshTokenHash] = s.ID
	return nil
}

func (r *sessionsRepo) GetSessionByID(ctx context.Context, id string) (domain.Session, error) {
	if err := r.check(ctx); err != nil {
		return domain.Session{}, err
	}
	defer r.lock()()

	s, ok := r.s.data.sessions[id]
	if !ok {
		return domain.Session{}, store.ErrNotFound
	}
	return s, nil
}

func (r *sessionsRepo) GetSessionByRefreshHash(ctx context.Context, hash string) (domain.Session, error) {
	if err := r.check(ctx); err != nil {
		return domain.Session{}, err
	}
	defer r.lock()()

	id, ok := r.s.data.sessionsByRT[hash]
	if !ok {
		return domain.Session{}, store.ErrNotFound
	}
	return r.s.data.sessions[id], nil
}

func (r *sessionsRepo) RevokeSession(ctx context.Context, id string) (bool, error) {
	if err := r.check(ctx); err != nil {
		return false, err
	}
	defer r.lock()()

	s, ok := r.s.data.sessions[id]
	if !ok || s.Revoked {
		return false, nil
	}
	s.Revoked = true
	r.s.data.sessions[id] = s
	return true, nil
}

func (r *sessionsRepo) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	if err := r.check(ctx); err != nil {
		return 0, err
	}
	defer r.lock()()

	n := 0
	for id, s := range r.s.data.sessions {
		if s.UserID == userID && !s.Revoked {
			s.Revoked = true
			r.s.data.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (r *sessionsRepo) ListActiveUserSessions(ctx context.Context, userID string, now time.Time) ([]domain.Session, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	defer r.lock()()

	var out []domain.Session
	for _, s := range r.s.data.sessions {
		if s.UserID == userID && s.Active(now) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b domain.Session) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	return out, nil
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	if err := r.check(ctx); err != nil {
		return 0, err
	}
	defer r.lock()()

	var n int64
	for id, s := range r.s.data.sessions {
		if s.Expired(now) {
			delete(r.s.data.sessions, id)
			delete(r.s.data.sessionsByRT, s.RefreshTokenHash)
			n++
		}
	}
	return n, nil
}

type blacklistRepo struct{ db }

func (r *blacklistRepo) AddToBlacklist(ctx context.Context, e domain.BlacklistEntry) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	defer r.lock()()

	if existing, ok := r.s.data.blacklist[e.TokenHash]; ok && existing.ExpiresAt.After(e.ExpiresAt) {
		e.ExpiresAt = existing.ExpiresAt
	}
	r.s.data.blacklist[e.TokenHash] = e
	return nil
}

func (r *blacklistRepo) GetBlacklistEntry(ctx context.Context, hash string) (domain.BlacklistEntry, error) {
	if err := r.check(ctx); err != nil {
		return domain.BlacklistEntry{}, err
	}
	defer r.lock()()

	e, ok := r.s.data.blacklist[hash]
	if !ok {
		return domain.BlacklistEntry{}, store.ErrNotFound
	}
	return e, nil
}

func (r *blacklistRepo) DeleteBlacklistEntry(ctx context.Context, hash string, now time.Time) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	defer r.lock()()

	if e, ok := r.s.data.blacklist[hash]; ok && !now.Before(e.ExpiresAt) {
		delete(r.s.data.blacklist, hash)
	}
	return nil
}

func (r *blacklistRepo) DeleteExpiredBlacklist(ctx context.Context, now time.Time) (int64, error) {
	if err := r.check(ctx); err != nil {
		return 0, err
	}
	defer r.lock()()

	var n int64
	for hash, e := range r.s.data.blacklist {
		if !now.Before(e.ExpiresAt) {
			delete(r.s.data.blacklist, hash)
			n++
		}
	}
	return n, nil
}

type resetsRepo struct{ db }

func (r *resetsRepo) CreatePasswordReset(ctx context.Context, t domain.PasswordResetToken) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	defer r.lock()()

	if _, ok := r.s.data.resets[t.TokenHash]; ok {
		return store.ErrAlreadyExists
	}
	r.s.data.resets[t.TokenHash] = t
	return nil
}

func (r *resetsRepo) GetPasswordReset(ctx context.Context, hash string) (domain.PasswordResetToken, error) {
	if err := r.check(ctx); err != nil {
		return domain.PasswordResetToken{}, err
	}
	defer r.lock()()

	t, ok := r.s.data.resets[hash]
	if !ok {
		return domain.PasswordResetToken{}, store.ErrNotFound
	}
	return t, nil
}

func (r *resetsRepo) ConsumePasswordReset(ctx context.Context, hash string, now time.Time) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	defer r.lock()()

	t, ok := r.s.data.resets[hash]
	if !ok || !t.Usable(now) {
		return store.ErrNotFound
	}
	consumedAt := now
	t.ConsumedAt = &consumedAt
	r.s.data.resets[hash] = t
	return nil
}

func (r *resetsRepo) DeleteExpiredPasswordResets(ctx context.Context, now time.Time) (int64, error) {
	if err := r.check(ctx); err != nil {
		return 0, err
	}
	defer r.lock()()

	var n int64
	for hash, t := range r.s.data.resets {
		if !now.Before(t.ExpiresAt) {
			delete(r.s.data.resets, hash)
			n++
		}
	}
	return n, nil
}

type rateLimitsRepo struct{ db }

func (r *rateLimitsRepo) IncrementRateLimit(ctx context.Context, key string, now time.Time, window time.Duration) (domain.RateLimitCounter, error) {
	if err := r.check(ctx); err != nil {
		return domain.RateLimitCounter{}, err
	}
	defer r.lock()()

	c, ok := r.s.data.rateLimits[key]
	if !ok || !now.Before(c.WindowResetAt) {
		c = domain.RateLimitCounter{Key: key, WindowResetAt: now.Add(window)}
	}
	c.Count++
	r.s.data.rateLimits[key] = c
	return c, nil
}

func (r *rateLimitsRepo) ResetRateLimit(ctx context.Context, key string) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	defer r.lock()()

	delete(r.s.data.rateLimits, key)
	return nil
}

func (r *rateLimitsRepo) DeleteExpiredRateLimits(ctx context.Context, now time.Time) (int64, error) {
	if err := r.check(ctx); err != nil {
		return 0, err
	}
	defer r.lock()()

	var n int64
	for key, c := range r.s.data.rateLimits {
		if !now.Before(c.WindowResetAt) {
			delete(r.s.data.rateLimits, key)
			n++
		}
	}
	return n, nil
}
