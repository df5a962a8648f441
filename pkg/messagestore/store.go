package messagestore

import (
	"context"
	"fmt"

	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/index"
	"github.com/nodeledger/dwn-core/pkg/kv"
	"github.com/nodeledger/dwn-core/pkg/message"
	"github.com/nodeledger/dwn-core/pkg/metrics"
)

func messagePartition(tenant string) string { return tenant + "/messages" }

// Record pairs a decoded message with the CID it is stored under.
type Record struct {
	Message message.Message
	Cid     string
}

// SortOptions names the property messages are ordered by and the
// direction; Property defaults to "messageTimestamp" when empty.
type SortOptions struct {
	Property  string
	Direction index.Direction
}

// Pagination locates a page by the last message returned on the
// previous page: a query result is sliced starting
// just after MessageCid, up to Limit entries.
type Pagination struct {
	MessageCid string
	Limit      int
}

// Store persists canonical-encoded messages keyed by CID and keeps
// them queryable through an index store.
type Store struct {
	engine *kv.Engine
	idx    *index.Store
}

// New builds a message store over an already-open KV engine and its
// paired index store.
func New(engine *kv.Engine, idx *index.Store) *Store {
	return &Store{engine: engine, idx: idx}
}

// Put canonically encodes msg, derives its CID, and persists both the
// message bytes and its index entries. Putting the same message twice
// is idempotent: the second call is a no-op beyond confirming the CID,
// it doesn't re-index or duplicate storage.
func (s *Store) Put(ctx context.Context, tenant string, msg message.Message, indexes map[string]any) (string, error) {
	cid, err := msg.Cid()
	if err != nil {
		return "", fmt.Errorf("messagestore: compute cid: %w", err)
	}
	cidStr := cid.String()

	_, exists, err := s.engine.Get(ctx, messagePartition(tenant), []byte(cidStr))
	if err != nil {
		return "", err
	}
	if exists {
		return cidStr, nil
	}

	encoded, err := envelope.EncodeCanonical(msg)
	if err != nil {
		return "", fmt.Errorf("messagestore: encode: %w", err)
	}

	if err := s.engine.Put(ctx, messagePartition(tenant), []byte(cidStr), encoded); err != nil {
		return "", err
	}

	entries := make(map[string]any, len(indexes)+1)
	for k, v := range indexes {
		entries[k] = v
	}
	entries["tenant"] = tenant

	if err := s.idx.Put(ctx, tenant, cidStr, entries); err != nil {
		return "", err
	}
	metrics.MessageStoreSize.WithLabelValues(tenant).Inc()
	return cidStr, nil
}

// Get decodes and returns the message stored under cid, or ok=false if
// absent.
func (s *Store) Get(ctx context.Context, tenant, cid string) (*message.Message, bool, error) {
	raw, ok, err := s.engine.Get(ctx, messagePartition(tenant), []byte(cid))
	if err != nil || !ok {
		return nil, false, err
	}
	var msg message.Message
	if err := envelope.Decode(raw, &msg); err != nil {
		return nil, false, fmt.Errorf("messagestore: decode %s: %w", cid, err)
	}
	return &msg, true, nil
}

// Delete removes a message and its index entries. Deleting a message
// that isn't stored is a no-op.
func (s *Store) Delete(ctx context.Context, tenant, cid string) error {
	_, existed, err := s.engine.Get(ctx, messagePartition(tenant), []byte(cid))
	if err != nil {
		return err
	}
	if err := s.idx.Delete(ctx, tenant, cid); err != nil {
		return err
	}
	if err := s.engine.Delete(ctx, messagePartition(tenant), []byte(cid)); err != nil {
		return err
	}
	if existed {
		metrics.MessageStoreSize.WithLabelValues(tenant).Dec()
	}
	return nil
}

// Reindex replaces cid's index entries wholesale, leaving its persisted
// message bytes untouched. RecordsWrite's conflict resolution uses this
// to flip a superseded write's isLatestBaseState to false: the message
// itself never changes, only the property a later query filters on.
func (s *Store) Reindex(ctx context.Context, tenant, cid string, indexes map[string]any) error {
	if err := s.idx.Delete(ctx, tenant, cid); err != nil {
		return err
	}
	entries := make(map[string]any, len(indexes)+1)
	for k, v := range indexes {
		entries[k] = v
	}
	entries[message.IndexTenant] = tenant
	return s.idx.Put(ctx, tenant, cid, entries)
}

// Query resolves matching itemIds via the index, loads and decodes
// each message, applies the datePublished-only filter when sorting by
// datePublished, and finally paginates.
func (s *Store) Query(ctx context.Context, tenant string, filters []index.Filter, sort SortOptions, pagination Pagination) ([]Record, error) {
	property := sort.Property
	if property == "" {
		property = "messageTimestamp"
	}

	items, err := s.idx.Query(ctx, tenant, filters, index.QueryOptions{
		SortProperty: property,
		Direction:    sort.Direction,
	})
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(items))
	for _, item := range items {
		if property == "datePublished" {
			if published, ok := item.Indexes["published"].(bool); !ok || !published {
				continue
			}
		}
		msg, ok, err := s.Get(ctx, tenant, item.ItemId)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		records = append(records, Record{Message: *msg, Cid: item.ItemId})
	}

	return paginate(records, pagination), nil
}

func paginate(records []Record, p Pagination) []Record {
	start := 0
	if p.MessageCid != "" {
		found := -1
		for i, r := range records {
			if r.Cid == p.MessageCid {
				found = i
				break
			}
		}
		if found == -1 {
			return []Record{}
		}
		start = found + 1
	}
	if start >= len(records) {
		return []Record{}
	}
	end := len(records)
	if p.Limit > 0 && start+p.Limit < end {
		end = start + p.Limit
	}
	return append([]Record{}, records[start:end]...)
}
