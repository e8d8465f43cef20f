package jwtx

import "github.com/aussiebroadwan/atrium/pkg/cryptox"

// Signer mints access tokens with one key of the KeySet.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
	PublicJWK() JWK
	Validate() error
}

// NewSignerEdDSA builds a signer from a PKCS8 PEM Ed25519 key, as written by
// the signing key file.
func NewSignerEdDSA(kid string, pemKey []byte) (Signer, error) {
	key, err := cryptox.ParseEd25519Key(pemKey)
	if err != nil {
		return nil, err
	}
	return newEdDSASigner(kid, key), nil
}
