package jwtx

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"

	"github.com/aussiebroadwan/atrium/pkg/cryptox"
)

// KeyManager manages the EdDSA signing and verification keys for an instance.
// Several signing keys may be active at once; one is picked at random for
// each token while all of them stay in the KeySet for verification.
type KeyManager struct {
	Verifier Verifier
	KeySet   *KeySet

	signers []Signer
	mu      sync.RWMutex
}

// KeyManagerOptions configures the KeyManager.
type KeyManagerOptions struct {
	VerifyOptions

	// NumKeys specifies how many signing keys to generate.
	// Defaults to 1 if not specified, capped at 10.
	NumKeys int
}

// NewEphemeralKeyManager creates a KeyManager with keys that only exist in
// memory. Every issued access token becomes invalid when the process restarts.
func NewEphemeralKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	pems, err := generateKeys(normaliseNumKeys(opts.NumKeys))
	if err != nil {
		return nil, err
	}
	return newKeyManager(opts, pems)
}

// NewFileKeyManager loads PEM encoded Ed25519 keys from path, generating and
// writing them (0600) on first start. Tokens survive restarts as long as the
// file does.
func NewFileKeyManager(opts KeyManagerOptions, path string) (*KeyManager, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		pems, err := splitPEM(data)
		if err != nil {
			return nil, fmt.Errorf("jwtx: read key file %s: %w", path, err)
		}
		return newKeyManager(opts, pems)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("jwtx: read key file: %w", err)
	}

	pems, err := generateKeys(normaliseNumKeys(opts.NumKeys))
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(filepath.Clean(path)), 0o750); err != nil {
		return nil, fmt.Errorf("jwtx: create key dir: %w", err)
	}
	var bundle []byte
	for _, p := range pems {
		bundle = append(bundle, p...)
	}
	if err := os.WriteFile(path, bundle, 0o600); err != nil {
		return nil, fmt.Errorf("jwtx: write key file: %w", err)
	}

	return newKeyManager(opts, pems)
}

func newKeyManager(opts KeyManagerOptions, pems [][]byte) (*KeyManager, error) {
	if opts.Issuer == "" {
		return nil, errors.New("jwtx: Issuer is required")
	}
	if len(pems) == 0 {
		return nil, errors.New("jwtx: no signing keys")
	}

	keyset := NewKeySet()
	signers := make([]Signer, 0, len(pems))
	for i, p := range pems {
		kid, err := keyIDFromPEM(p)
		if err != nil {
			return nil, fmt.Errorf("jwtx: key %d: %w", i+1, err)
		}
		signer, err := NewSignerEdDSA(kid, p)
		if err != nil {
			return nil, fmt.Errorf("jwtx: key %d: %w", i+1, err)
		}
		if err := keyset.AddSigner(signer); err != nil {
			return nil, fmt.Errorf("jwtx: failed to add signer %d to keyset: %w", i+1, err)
		}
		signers = append(signers, signer)
	}

	return &KeyManager{
		Verifier: NewVerifierEdDSA(keyset, opts.VerifyOptions),
		KeySet:   keyset,
		signers:  signers,
	}, nil
}

// IsReady returns true if the KeyManager has valid keys loaded.
func (km *KeyManager) IsReady() bool {
	return km.KeySet.IsReady()
}

// GetSigner returns a randomly selected signer from the active signing keys.
func (km *KeyManager) GetSigner() Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()

	switch len(km.signers) {
	case 0:
		return nil
	case 1:
		return km.signers[0]
	default:
		return km.signers[rand.IntN(len(km.signers))]
	}
}

// NumSigners returns the number of active signing keys.
func (km *KeyManager) NumSigners() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.signers)
}

func normaliseNumKeys(n int) int {
	switch {
	case n <= 0:
		return 1
	case n > 10:
		return 10
	default:
		return n
	}
}

func generateKeys(n int) ([][]byte, error) {
	pems := make([][]byte, 0, n)
	for i := range n {
		p, err := cryptox.GenerateEd25519Key()
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to generate signer %d: %w", i+1, err)
		}
		pems = append(pems, p)
	}
	return pems, nil
}

func splitPEM(data []byte) ([][]byte, error) {
	var out [][]byte
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		out = append(out, pem.EncodeToMemory(block))
	}
	if len(out) == 0 {
		return nil, errors.New("no PEM blocks found")
	}
	return out, nil
}

// keyIDFromPEM derives a stable kid from the public key so persisted keys keep
// the same kid across restarts. Format: "atrium-" + 16 chars of the SHA-256
// thumbprint.
func keyIDFromPEM(p []byte) (string, error) {
	key, err := cryptox.ParseEd25519Key(p)
	if err != nil {
		return "", err
	}
	pub, _ := key.Public().(ed25519.PublicKey)
	sum := sha256.Sum256(pub)
	return "atrium-" + base64.RawURLEncoding.EncodeToString(sum[:])[:16], nil
}
