package jwtx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/atrium/pkg/cryptox"
	"github.com/aussiebroadwan/atrium/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const exampleIssuer = "atrium-test"

func newTestSigner(t *testing.T, kid string) (jwtx.Signer, *jwtx.KeySet) {
	t.Helper()
	pemKey, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)

	signer, err := jwtx.NewSignerEdDSA(kid, pemKey)
	require.NoError(t, err)

	keyset := jwtx.NewKeySet()
	require.NoError(t, keyset.AddSigner(signer))
	return signer, keyset
}

func TestEdDSASignAndVerify(t *testing.T) {
	signer, keyset := newTestSigner(t, "test-key-eddsa")
	require.NoError(t, signer.Validate())
	require.Equal(t, "EdDSA", signer.Alg())
	require.Equal(t, "test-key-eddsa", signer.KID())

	now := time.Now().UTC()
	claims := jwtx.NewAccessClaims("user-456", "ada@example.com", "editor", true, 5*time.Minute, exampleIssuer, []string{"atrium"}, now)

	token, err := signer.Sign(claims)
	require.NoError(t, err)

	jwks := keyset.PublicJWKS()
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, "OKP", jwks.Keys[0].Kty)
	require.Equal(t, "Ed25519", jwks.Keys[0].Crv)

	verifier := jwtx.NewVerifierEdDSA(keyset, jwtx.VerifyOptions{Issuer: exampleIssuer, Audience: []string{"atrium"}})
	parsed, err := verifier.Verify(token)
	require.NoError(t, err)

	require.Equal(t, claims.Subject, parsed.Subject)
	require.Equal(t, claims.Email, parsed.Email)
	require.Equal(t, claims.Role, parsed.Role)
	require.True(t, parsed.Extended)
	require.Equal(t, claims.ID, parsed.ID)
	require.Equal(t, claims.ExpiresAt.Unix(), parsed.ExpiresAt.Unix())
}

func TestEdDSAVerify_Failures(t *testing.T) {
	signer, keyset := newTestSigner(t, "k1")
	now := time.Unix(1_700_000_000, 0).UTC()
	clock := func() time.Time { return now }

	sign := func(c jwtx.Claims) string {
		token, err := signer.Sign(c)
		require.NoError(t, err)
		return token
	}
	valid := sign(jwtx.NewAccessClaims("user-1", "a@example.com", "viewer", false, time.Minute, exampleIssuer, nil, now))

	otherSigner, _ := newTestSigner(t, "k2")
	foreign, err := otherSigner.Sign(jwtx.NewAccessClaims("user-1", "a@example.com", "viewer", false, time.Minute, exampleIssuer, nil, now))
	require.NoError(t, err)

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtx.NewAccessClaims("user-1", "a@example.com", "admin", false, time.Minute, exampleIssuer, nil, now))
	hs.Header["kid"] = "k1"
	hsToken, err := hs.SignedString([]byte("guess"))
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	sigBytes := []byte(parts[2])
	if sigBytes[0] == 'A' {
		sigBytes[0] = 'B'
	} else {
		sigBytes[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sigBytes)

	tests := []struct {
		name    string
		token   string
		opts    jwtx.VerifyOptions
		wantErr error
	}{
		{"garbage", "not-a-jwt", jwtx.VerifyOptions{Now: clock}, jwtx.ErrMalformed},
		{"empty", "", jwtx.VerifyOptions{Now: clock}, jwtx.ErrMalformed},
		{"tampered signature", tampered, jwtx.VerifyOptions{Now: clock}, jwtx.ErrInvalidSig},
		{"wrong algorithm", hsToken, jwtx.VerifyOptions{Now: clock}, jwtx.ErrInvalidSig},
		{"unknown kid", foreign, jwtx.VerifyOptions{Now: clock}, jwtx.ErrUnknownKID},
		{"expired", valid, jwtx.VerifyOptions{Now: func() time.Time { return now.Add(2 * time.Minute) }}, jwtx.ErrExpired},
		{"not yet valid", valid, jwtx.VerifyOptions{Now: func() time.Time { return now.Add(-time.Hour) }}, jwtx.ErrNotYetValid},
		{"wrong issuer", valid, jwtx.VerifyOptions{Issuer: "someone-else", Now: clock}, jwtx.ErrIssuer},
		{"wrong audience", valid, jwtx.VerifyOptions{Audience: []string{"billing"}, Now: clock}, jwtx.ErrAudience},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := jwtx.NewVerifierEdDSA(keyset, tt.opts).Verify(tt.token)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("leeway tolerates skew", func(t *testing.T) {
		v := jwtx.NewVerifierEdDSA(keyset, jwtx.VerifyOptions{
			Leeway: 30 * time.Second,
			Now:    func() time.Time { return now.Add(time.Minute + 10*time.Second) },
		})
		_, err := v.Verify(valid)
		require.NoError(t, err)
	})
}

func TestEdDSAValidateFailsForInvalidKey(t *testing.T) {
	_, err := jwtx.NewSignerEdDSA("test", []byte("not-a-pem-key"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid PEM")
}

func TestClaims_ExpiresIn(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	c := jwtx.NewAccessClaims("u", "e", "viewer", false, 10*time.Minute, exampleIssuer, nil, now)

	require.Equal(t, 10*time.Minute, c.ExpiresIn(now))
	require.Equal(t, -time.Minute, c.ExpiresIn(now.Add(11*time.Minute)))
	require.Equal(t, now.Add(10*time.Minute), c.ExpiryTime())

	var empty jwtx.Claims
	require.Zero(t, empty.ExpiresIn(now))
	require.True(t, empty.ExpiryTime().IsZero())
}

func TestNewJTI_Unique(t *testing.T) {
	seen := make(map[string]bool, 100)
	for range 100 {
		jti := jwtx.NewJTI()
		require.NotContains(t, seen, jti)
		seen[jti] = true
	}
}
