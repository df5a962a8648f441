package auth

import "context"

// PublicKey is a resolved verification key: the signature algorithm it
// is valid for, and its raw key material. The authenticator never
// interprets Raw itself — it hands it, together with Algorithm, to a
// Verifier.
type PublicKey struct {
	Algorithm string
	Raw       []byte
}

// DIDResolver produces a verification key for a (DID, key fragment)
// pair. Resolution is an external collaborator: this core never
// implements a DID method, only consumes one.
type DIDResolver interface {
	ResolveVerificationKey(ctx context.Context, did, keyID string) (PublicKey, error)
}

// Verifier checks a signature over a payload using a resolved key.
// Cryptographic primitives are an external collaborator; this
// interface is the seam the authenticator calls through.
type Verifier interface {
	Verify(algorithm string, key PublicKey, payload, signature []byte) (bool, error)
}
