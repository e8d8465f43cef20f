package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
)

const sessionColumns = `id, user_id, email, role, refresh_token_hash, user_agent, ip, created_at, expires_at, revoked`

type sessionsRepo struct {
	q querier
}

func scanSession(row scanner) (domain.Session, error) {
	var (
		s                domain.Session
		role             string
		created, expires int64
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Email, &role, &s.RefreshTokenHash,
		&s.UserAgent, &s.IP, &created, &expires, &s.Revoked)
	if err != nil {
		return domain.Session{}, err
	}
	s.Role = domain.Role(role)
	s.CreatedAt = fromMillis(created)
	s.ExpiresAt = fromMillis(expires)
	return s, nil
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.Email, string(s.Role), s.RefreshTokenHash,
		s.UserAgent, s.IP, millis(s.CreatedAt), millis(s.ExpiresAt), s.Revoked,
	)
	if err != nil {
		return mapConstraint("create_session", err)
	}
	return nil
}

func (r *sessionsRepo) GetSessionByID(ctx context.Context, id string) (domain.Session, error) {
	s, err := scanSession(r.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err != nil {
		return domain.Session{}, mapNotFound("get_session_by_id", err)
	}
	return s, nil
}

func (r *sessionsRepo) GetSessionByRefreshHash(ctx context.Context, hash string) (domain.Session, error) {
	s, err := scanSession(r.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_hash = ?`, hash))
	if err != nil {
		return domain.Session{}, mapNotFound("get_session_by_refresh_hash", err)
	}
	return s, nil
}

func (r *sessionsRepo) RevokeSession(ctx context.Context, id string) (bool, error) {
	res, err := r.q.ExecContext(ctx, `UPDATE sessions SET revoked = 1 WHERE id = ? AND revoked = 0`, id)
	if err != nil {
		return false, wrap("revoke_session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("revoke_session", err)
	}
	return n > 0, nil
}

func (r *sessionsRepo) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	res, err := r.q.ExecContext(ctx, `UPDATE sessions SET revoked = 1 WHERE user_id = ? AND revoked = 0`, userID)
	if err != nil {
		return 0, wrap("revoke_user_sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("revoke_user_sessions", err)
	}
	return int(n), nil
}

func (r *sessionsRepo) ListActiveUserSessions(ctx context.Context, userID string, now time.Time) ([]domain.Session, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = ? AND revoked = 0 AND expires_at > ?
		 ORDER BY created_at DESC, id DESC`,
		userID, millis(now))
	if err != nil {
		return nil, wrap("list_active_user_sessions", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, wrap("list_active_user_sessions", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list_active_user_sessions", err)
	}
	return out, nil
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return deleteWhere(ctx, r.q, "delete_expired_sessions",
		`DELETE FROM sessions WHERE expires_at <= ?`, millis(now))
}

func deleteWhere(ctx context.Context, q querier, op, query string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap(op, err)
	}
	return n, nil
}
