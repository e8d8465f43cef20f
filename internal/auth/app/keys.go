package app

import (
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/atrium/pkg/jwtx"
)

// InitAuthKeys creates the KeyManager for the configured key source.
//
// Key sources:
//   - no AUTH_SIGNING_KEY_FILE: keys are generated on startup and held only
//     in memory. Every issued access token becomes invalid on restart.
//   - AUTH_SIGNING_KEY_FILE set: keys are read from the PEM file, or generated
//     and written there on first start. Tokens survive restarts.
//
// Several keys may be active; each token is signed by one picked at random and
// all of them are published in the JWKS.
func InitAuthKeys(cfg Config, logger *slog.Logger) (*jwtx.KeyManager, error) {
	opts := jwtx.KeyManagerOptions{
		VerifyOptions: jwtx.VerifyOptions{
			Issuer:   cfg.Issuer,
			Audience: cfg.Audience,
		},
		NumKeys: cfg.NumKeys,
	}

	if cfg.SigningKeyFile == "" {
		keyManager, err := jwtx.NewEphemeralKeyManager(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ephemeral key manager: %w", err)
		}

		logger.Info("generated ephemeral signing keys",
			"num_keys", keyManager.NumSigners(),
			"issuer", cfg.Issuer,
		)
		logger.Warn("all existing tokens are now invalid due to key rotation on startup")
		return keyManager, nil
	}

	keyManager, err := jwtx.NewFileKeyManager(opts, cfg.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key manager from file: %w", err)
	}

	logger.Info("signing keys loaded",
		"num_keys", keyManager.NumSigners(),
		"issuer", cfg.Issuer,
		"path", cfg.SigningKeyFile,
	)
	return keyManager, nil
}
