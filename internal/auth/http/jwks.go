package http

import (
	"encoding/json"
	"net/http"

	"github.com/aussiebroadwan/atrium/pkg/authsdk"
	"github.com/aussiebroadwan/atrium/pkg/jwtx"
)

// JWKSHandler exposes the public signing keys so collaborators can verify
// access tokens locally. Local verification skips the blacklist; call
// /v1/auth/me when revocation matters.
//
//	@Summary		Get JWKS
//	@Description	Returns the Ed25519 public keys used to sign access tokens.
//	@Tags			well-known
//	@Produce		json
//	@Success		200	{object}	authsdk.JWKSResponse	"The JSON Web Key Set"
//	@Router			/.well-known/jwks.json [get].
func JWKSHandler(keys *jwtx.KeySet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=300")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(authsdk.JWKSResponse(keys.PublicJWKS()))
	}
}
