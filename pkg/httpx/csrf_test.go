package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/atrium/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func TestCSRFGuard_IssueAndVerify(t *testing.T) {
	t.Parallel()
	g := httpx.NewCSRFGuard([]byte("secret"))

	pair, err := g.Issue()
	require.NoError(t, err)
	require.Len(t, pair.Token, 43)

	require.True(t, g.Verify(pair.Token, pair.Token))
	require.False(t, g.Verify(pair.Token, pair.Token+"x"))
	require.False(t, g.Verify("", ""))

	require.True(t, g.VerifyWithSignature(pair.Token, pair.Signature))
	require.False(t, g.VerifyWithSignature(pair.Token, "bogus"))
	require.False(t, httpx.NewCSRFGuard([]byte("other")).VerifyWithSignature(pair.Token, pair.Signature))

	next, err := g.Issue()
	require.NoError(t, err)
	require.NotEqual(t, pair.Token, next.Token)
}

func TestCSRFGuard_Cookie(t *testing.T) {
	t.Parallel()
	g := httpx.NewCSRFGuard([]byte("secret"))

	c := g.Cookie("tok", true)
	require.Equal(t, httpx.CSRFCookie, c.Name)
	require.Equal(t, "tok", c.Value)
	require.True(t, c.HttpOnly)
	require.True(t, c.Secure)
	require.Equal(t, http.SameSiteStrictMode, c.SameSite)
}

func TestCSRFMiddleware(t *testing.T) {
	t.Parallel()
	g := httpx.NewCSRFGuard([]byte("secret"))
	pair, err := g.Issue()
	require.NoError(t, err)

	handler := httpx.CSRFMiddleware(g)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name      string
		method    string
		cookie    string
		header    string
		signature string
		want      int
	}{
		{"GET is exempt", http.MethodGet, "", "", "", http.StatusNoContent},
		{"HEAD is exempt", http.MethodHead, "", "", "", http.StatusNoContent},
		{"OPTIONS is exempt", http.MethodOptions, "", "", "", http.StatusNoContent},
		{"POST without token", http.MethodPost, "", "", "", http.StatusForbidden},
		{"POST with matching cookie", http.MethodPost, pair.Token, pair.Token, "", http.StatusNoContent},
		{"POST with mismatched cookie", http.MethodPost, pair.Token, "forged", "", http.StatusForbidden},
		{"POST with cookie only", http.MethodPost, pair.Token, "", "", http.StatusForbidden},
		{"POST with signature", http.MethodPost, "", pair.Token, pair.Signature, http.StatusNoContent},
		{"POST with bad signature", http.MethodPost, "", pair.Token, "forged", http.StatusForbidden},
		{"DELETE is checked", http.MethodDelete, "", "", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/v1/auth/logout", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: httpx.CSRFCookie, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(httpx.CSRFHeader, tt.header)
			}
			if tt.signature != "" {
				req.Header.Set(httpx.CSRFSignatureHeader, tt.signature)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusForbidden {
				require.JSONEq(t, `{"error":"csrf_mismatch"}`, rec.Body.String())
			}
		})
	}
}
