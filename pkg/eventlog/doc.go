// Package eventlog implements the append-only event log: every
// accepted message is recorded in strict append order alongside the
// index properties it was filed under, so getEvents/queryEvents can
// replay or filter history without re-deriving it from the message
// store. Ordering here is the log's own monotonic sequence, not a
// sorted secondary index, which is why this package keeps its own
// storage rather than building entirely on pkg/index.
package eventlog
