// Package auth implements the authenticator: verifying the
// signature chain over a message's authorization envelope without
// deciding whether the signer is allowed to do what the message asks
// (that's pkg/authz's job). DID resolution and raw signature
// verification are external collaborators, reached through the
// DIDResolver and Verifier interfaces this package defines.
package auth
