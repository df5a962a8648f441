// Package messagestore implements the message store: messages
// are persisted by their canonical-CBOR CID and coupled to pkg/index
// for queryability. Sorting is delegated to the index, which orders by
// the sort property and breaks ties by messageCid; this package decodes
// the matching messages, drops unpublished ones when sorting by
// datePublished, and applies the messageCid cursor and page limit.
package messagestore
