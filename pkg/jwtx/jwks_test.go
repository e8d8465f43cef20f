package jwtx

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJWK_PEM_Ed25519(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	jwk := NewEd25519JWK("test-key-id", "sig", "EdDSA", pub)

	pemStr, err := jwk.PEM()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(pemStr, "-----BEGIN PUBLIC KEY-----"))

	block, _ := pem.Decode([]byte(pemStr))
	require.NotNil(t, block, "PEM block should be valid")

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(t, err)
	require.Equal(t, pub, parsed.(ed25519.PublicKey))
}

func TestKeySet_AddJWK(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	ks := NewKeySet()
	require.False(t, ks.IsReady())

	require.NoError(t, ks.AddJWK(NewEd25519JWK("k1", "sig", "EdDSA", pub)))
	require.True(t, ks.IsReady())

	got, err := ks.Get("k1")
	require.NoError(t, err)
	require.Equal(t, pub, got)

	_, err = ks.Get("missing")
	require.ErrorIs(t, err, ErrNoKey)

	require.Error(t, ks.AddJWK(NewEd25519JWK("k1", "sig", "EdDSA", pub)), "duplicate kid")
}

func TestKeySet_RejectsUnsupportedKeys(t *testing.T) {
	tests := []struct {
		name string
		jwk  JWK
	}{
		{"rsa", JWK{Kty: "RSA", Kid: "r"}},
		{"wrong curve", JWK{Kty: "OKP", Crv: "X25519", Kid: "x", X: "AAAA"}},
		{"bad base64", JWK{Kty: "OKP", Crv: "Ed25519", Kid: "b", X: "!!!"}},
		{"short key", JWK{Kty: "OKP", Crv: "Ed25519", Kid: "s", X: "AAAA"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, NewKeySet().AddJWK(tt.jwk))
			_, err := tt.jwk.PEM()
			require.Error(t, err)
		})
	}
}
