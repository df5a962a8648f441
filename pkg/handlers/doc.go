// Package handlers implements the per-(interface, method) procedures
// that turn an authenticated message into a persisted effect: RecordsWrite's
// integrity/authorization/conflict-resolution pipeline, RecordsRead/Query/
// Subscribe's visibility rules, RecordsDelete's prune-and-tombstone
// sequence, ProtocolsConfigure's overwrite precedence, and the remaining
// standard parse/authenticate/authorize/serve operations. Each handler
// composes the lower packages (messagestore, blobstore, eventlog,
// eventstream, auth, authz) rather than owning its own storage.
package handlers
