package didtest

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/nodeledger/dwn-core/pkg/auth"
	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
)

// AlgorithmEdDSA names the only signature scheme this reference
// resolver supports.
const AlgorithmEdDSA = "EdDSA"

type keyEntry struct {
	pub ed25519.PublicKey
}

// Registry maps DIDs to ed25519 public keys. A single key per DID is
// enough here; key rotation and multi-key DID documents are out of
// scope for a test double.
type Registry struct {
	mu   sync.RWMutex
	keys map[string]keyEntry
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{keys: make(map[string]keyEntry)}
}

func (r *Registry) register(did string, pub ed25519.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[did] = keyEntry{pub: pub}
}

// ResolveVerificationKey implements auth.DIDResolver.
func (r *Registry) ResolveVerificationKey(_ context.Context, did, _ string) (auth.PublicKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.keys[did]
	if !ok {
		return auth.PublicKey{}, dwnerrors.New(dwnerrors.CodeDidResolutionFailed,
			fmt.Sprintf("didtest: no key registered for %q", did))
	}
	return auth.PublicKey{Algorithm: AlgorithmEdDSA, Raw: append([]byte(nil), entry.pub...)}, nil
}

// Verify implements auth.Verifier using ed25519.
func (r *Registry) Verify(algorithm string, key auth.PublicKey, payload, signature []byte) (bool, error) {
	if algorithm != AlgorithmEdDSA || key.Algorithm != AlgorithmEdDSA {
		return false, fmt.Errorf("didtest: unsupported algorithm %q", algorithm)
	}
	if len(key.Raw) != ed25519.PublicKeySize {
		return false, fmt.Errorf("didtest: malformed public key")
	}
	return ed25519.Verify(ed25519.PublicKey(key.Raw), payload, signature), nil
}
