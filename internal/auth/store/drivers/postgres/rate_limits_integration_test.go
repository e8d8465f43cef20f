//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "atrium",
				"POSTGRES_PASSWORD": "atrium",
				"POSTGRES_DB":       "atrium",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://atrium:atrium@%s:%s/atrium?sslmode=disable", host, port.Port())
}

func TestRateLimitStore_Postgres(t *testing.T) {
	ctx := context.Background()
	p, err := Connect(ctx, startPostgres(t))
	require.NoError(t, err)
	defer p.Close()

	s := NewRateLimitStore(p)
	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.EnsureSchema(ctx))

	base := time.Now().UTC().Truncate(time.Millisecond)

	const workers = 25
	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			if _, err := s.IncrementRateLimit(ctx, "api:shared", base, time.Minute); err != nil {
				t.Errorf("increment: %v", err)
			}
		})
	}
	wg.Wait()

	c, err := s.IncrementRateLimit(ctx, "api:shared", base, time.Minute)
	require.NoError(t, err)
	require.Equal(t, workers+1, c.Count)

	fresh, err := s.IncrementRateLimit(ctx, "api:shared", base.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, fresh.Count)

	require.NoError(t, s.ResetRateLimit(ctx, "api:shared"))
	n, err := s.DeleteExpiredRateLimits(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)
}
