package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRateLimitStore_IncrementRateLimit(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantCount int
		wantReset time.Time
		wantErr   string
	}{
		{
			name: "first hit opens a window",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`INSERT INTO atrium_rate_limits`).
					WithArgs("login:1.2.3.4", now.Add(time.Hour), now).
					WillReturnRows(pgxmock.NewRows([]string{"count", "window_reset_at"}).
						AddRow(int64(1), now.Add(time.Hour)))
			},
			wantCount: 1,
			wantReset: now.Add(time.Hour),
		},
		{
			name: "existing window keeps its reset",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`INSERT INTO atrium_rate_limits`).
					WithArgs("login:1.2.3.4", now.Add(time.Hour), now).
					WillReturnRows(pgxmock.NewRows([]string{"count", "window_reset_at"}).
						AddRow(int64(4), now.Add(10*time.Minute)))
			},
			wantCount: 4,
			wantReset: now.Add(10 * time.Minute),
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`INSERT INTO atrium_rate_limits`).
					WithArgs("login:1.2.3.4", now.Add(time.Hour), now).
					WillReturnError(errors.New("connection refused"))
			},
			wantErr: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			s := NewRateLimitStore(mock)
			got, err := s.IncrementRateLimit(context.Background(), "login:1.2.3.4", now, time.Hour)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "login:1.2.3.4", got.Key)
				assert.Equal(t, tt.wantCount, got.Count)
				assert.Equal(t, tt.wantReset, got.WindowResetAt)
			}

			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestRateLimitStore_ResetRateLimit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM atrium_rate_limits WHERE key`).
		WithArgs("register:1.2.3.4").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, NewRateLimitStore(mock).ResetRateLimit(context.Background(), "register:1.2.3.4"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimitStore_DeleteExpiredRateLimits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM atrium_rate_limits WHERE window_reset_at`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := NewRateLimitStore(mock).DeleteExpiredRateLimits(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimitStore_EnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS atrium_rate_limits`).
		WillReturnError(errors.New("permission denied"))

	err = NewRateLimitStore(mock).EnsureSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}
