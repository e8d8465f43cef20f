package slogx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNew_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Service: "auth", Version: "test", Env: "test", Level: "debug", Output: &buf})

	logger.Info("login", "email", "ada@example.com", "password", "hunter2", "refresh_token", "abc")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	require.Equal(t, "ada@example.com", lines[0]["email"])
	require.Equal(t, redacted, lines[0]["password"])
	require.Equal(t, redacted, lines[0]["refresh_token"])
	require.Equal(t, "auth", lines[0]["service"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, parseLevel("warning"))
	require.Equal(t, slog.LevelError, parseLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}

func TestFromContext_DefaultsToSlogDefault(t *testing.T) {
	require.Equal(t, slog.Default(), FromContext(context.Background()))

	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	require.Equal(t, l, FromContext(WithContext(context.Background(), l)))
}

func TestHTTPMiddleware(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	var seenLogger *slog.Logger
	h := HTTPMiddleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenLogger = FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("propagates caller request id", func(t *testing.T) {
		buf.Reset()
		req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
		req.Header.Set(HeaderRequestID, "req-123")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		require.Equal(t, "req-123", rec.Header().Get(HeaderRequestID))
		require.NotNil(t, seenLogger)

		lines := decodeLines(t, &buf)
		require.Len(t, lines, 1)
		require.Equal(t, "http_request", lines[0]["msg"])
		require.Equal(t, "WARN", lines[0]["level"])
		require.Equal(t, float64(http.StatusTeapot), lines[0]["status"])
		require.Equal(t, "req-123", lines[0]["req_id"])
	})

	t.Run("generates id when missing or oversized", func(t *testing.T) {
		for _, in := range []string{"", strings.Repeat("x", 100)} {
			req := httptest.NewRequest(http.MethodGet, "/livez", nil)
			if in != "" {
				req.Header.Set(HeaderRequestID, in)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get(HeaderRequestID)
			require.NotEmpty(t, got)
			require.NotEqual(t, in, got)
			require.Len(t, got, 26, "ULID")
		}
	})
}
