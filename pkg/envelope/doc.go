// Package envelope implements the message envelope and CID component:
// canonical (core-deterministic) CBOR encoding and the content-addressed
// identifiers derived from it. Every descriptor and every full message
// gets a CID the same way — encode deterministically, hash with SHA-256,
// wrap as a CIDv1 with a base32-lowercase text form — so that
// descriptorCid and messageCid are computed by the same two functions
// regardless of what's being addressed.
package envelope
