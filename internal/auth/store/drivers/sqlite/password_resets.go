package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/aussiebroadwan/atrium/internal/auth/store"
)

type passwordResetsRepo struct {
	q querier
}

func (r *passwordResetsRepo) CreatePasswordReset(ctx context.Context, t domain.PasswordResetToken) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO password_resets (token_hash, user_id, email, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.TokenHash, t.UserID, t.Email, millis(t.ExpiresAt), millis(t.CreatedAt),
	)
	if err != nil {
		return mapConstraint("create_password_reset", err)
	}
	return nil
}

func (r *passwordResetsRepo) GetPasswordReset(ctx context.Context, hash string) (domain.PasswordResetToken, error) {
	var (
		t                domain.PasswordResetToken
		expires, created int64
		consumed         sql.NullInt64
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT token_hash, user_id, email, expires_at, created_at, consumed_at
		 FROM password_resets WHERE token_hash = ?`, hash,
	).Scan(&t.TokenHash, &t.UserID, &t.Email, &expires, &created, &consumed)
	if err != nil {
		return domain.PasswordResetToken{}, mapNotFound("get_password_reset", err)
	}
	t.ExpiresAt = fromMillis(expires)
	t.CreatedAt = fromMillis(created)
	t.ConsumedAt = mapNullMillis(consumed)
	return t, nil
}

// ConsumePasswordReset is a single conditional UPDATE, so of two concurrent
// callers exactly one sees a changed row.
func (r *passwordResetsRepo) ConsumePasswordReset(ctx context.Context, hash string, now time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE password_resets SET consumed_at = ?
		 WHERE token_hash = ? AND consumed_at IS NULL AND expires_at > ?`,
		millis(now), hash, millis(now),
	)
	if err != nil {
		return wrap("consume_password_reset", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("consume_password_reset", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *passwordResetsRepo) DeleteExpiredPasswordResets(ctx context.Context, now time.Time) (int64, error) {
	return deleteWhere(ctx, r.q, "delete_expired_password_resets",
		`DELETE FROM password_resets WHERE expires_at <= ?`, millis(now))
}
