// Package authz decides whether an authenticated message's signer is
// allowed to do what the message asks. It sits downstream of pkg/auth:
// authentication proves who signed, authorization decides whether that
// signer may act — base permission-grant validation, Records protocol
// rule-set evaluation over the ancestor chain, and delegated-grant
// scope checks, all read back out of the same message store the
// records being authorized live in.
package authz
