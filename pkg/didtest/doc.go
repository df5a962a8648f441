// Package didtest is a deterministic, in-memory stand-in for a DID
// method: a keypair registry that resolves verification keys and
// verifies signatures, implementing pkg/auth's DIDResolver and
// Verifier interfaces. It is not a DID method (key resolution and
// cryptographic primitives are external collaborators of the core)
// and exists only so tests and cmd/dwn's process-message convenience
// signing have something concrete to sign and verify against.
package didtest
