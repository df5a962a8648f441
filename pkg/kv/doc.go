/*
Package kv provides the ordered, byte-keyed storage engine every other
store in this module is built on: content-addressed blobs, the message
store, secondary indexes, and the event log all go through an Engine.

# Architecture

The engine wraps BoltDB (bbolt) for embedded, transactional storage with
no external service dependency:

	┌──────────────────────── KV ENGINE ───────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │                Engine                        │          │
	│  │  - File: <dataDir>/dwn.db                    │          │
	│  │  - Format: B+tree with MVCC                  │          │
	│  │  - Transactions: ACID with fsync             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Partitions                      │          │
	│  │  Nested buckets keyed by path segment:       │          │
	│  │  {tenant}/messages/{messageCid}              │          │
	│  │  {tenant}/__{indexName}__/{value}\x00{id}    │          │
	│  │  {tenant}/index/{messageCid}                 │          │
	│  │  {tenant}/data/{recordId}\x00{dataCid}       │          │
	│  │  {tenant}/blob/{dataCid}\x00{chunk}          │          │
	│  │  {tenant}/events/log/{seq}                   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Batch / Iterator                    │          │
	│  │  - Batch: db.Update across partitions        │          │
	│  │  - Iterator: bucket Cursor with gt/gte/lt/lte│          │
	│  │  - Abort: context.Context checked per step   │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

A partition name is a slash-separated path; each segment becomes a nested
bucket. This is how tenant isolation and named sublevels (index names,
"messages", "blob", "data", "events") are expressed; composite keys
(recordId then dataCid) are joined with a \x00 separator inside a
single bucket.
*/
package kv
