// Package protocol defines the protocol definition tree: the recursive
// rule-set structure that the authorization engine walks to decide
// whether an action is permitted at a given protocol path, plus the
// structural validation ProtocolsConfigure runs before a definition is
// accepted. See builtin.go for the DWN's own internal permissions
// protocol, used to model grants and revocations as ordinary records.
package protocol
