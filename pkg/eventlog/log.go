package eventlog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/nodeledger/dwn-core/pkg/index"
	"github.com/nodeledger/dwn-core/pkg/kv"
)

func logPartition(tenant string) string  { return tenant + "/events/log" }
func metaPartition(tenant string) string { return tenant + "/events/meta" }
func cidPartition(tenant string) string  { return tenant + "/events/bycid" }

const seqKeyWidth = 20

func formatSeq(seq uint64) []byte {
	return []byte(fmt.Sprintf("%0*d", seqKeyWidth, seq))
}

// Store is the per-engine event log; like pkg/index, a single Store
// serves every tenant, selected by the tenant argument on each call.
type Store struct {
	engine *kv.Engine
}

// New wraps an open KV engine as an event log.
func New(engine *kv.Engine) *Store {
	return &Store{engine: engine}
}

type entry struct {
	MessageCid string         `json:"messageCid"`
	Indexes    map[string]any `json:"indexes"`
}

func (s *Store) nextSeq(ctx context.Context, tenant string) (uint64, error) {
	raw, ok, err := s.engine.Get(ctx, metaPartition(tenant), []byte("seq"))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	return binary.BigEndian.Uint64(raw) + 1, nil
}

// Append adds messageCid to the log with its index properties,
// returning the log entry's sequence number. Appending the same
// messageCid twice is idempotent: the second call returns the
// existing sequence without creating a new entry.
func (s *Store) Append(ctx context.Context, tenant, messageCid string, indexes map[string]any) (uint64, error) {
	if existing, ok, err := s.engine.Get(ctx, cidPartition(tenant), []byte(messageCid)); err != nil {
		return 0, err
	} else if ok {
		return binary.BigEndian.Uint64(existing), nil
	}

	seq, err := s.nextSeq(ctx, tenant)
	if err != nil {
		return 0, err
	}

	value, err := json.Marshal(entry{MessageCid: messageCid, Indexes: indexes})
	if err != nil {
		return 0, fmt.Errorf("eventlog: marshal: %w", err)
	}

	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, seq)

	ops := []kv.Op{
		{Type: kv.OpPut, Partition: logPartition(tenant), Key: formatSeq(seq), Value: value},
		{Type: kv.OpPut, Partition: metaPartition(tenant), Key: []byte("seq"), Value: seqBytes},
		{Type: kv.OpPut, Partition: cidPartition(tenant), Key: []byte(messageCid), Value: seqBytes},
	}
	if err := s.engine.Batch(ctx, ops); err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Store) cursorStartKey(ctx context.Context, tenant, cursor string) ([]byte, bool, error) {
	raw, ok, err := s.engine.Get(ctx, cidPartition(tenant), []byte(cursor))
	if err != nil || !ok {
		return nil, ok, err
	}
	seq := binary.BigEndian.Uint64(raw)
	return formatSeq(seq), true, nil
}

func (s *Store) scan(ctx context.Context, tenant, cursor string, filters []index.Filter) ([]string, error) {
	opts := kv.IteratorOptions{}
	if cursor != "" {
		startKey, ok, err := s.cursorStartKey(ctx, tenant, cursor)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []string{}, nil
		}
		opts.GT = startKey
	}

	var out []string
	err := s.engine.Iterate(ctx, logPartition(tenant), opts, func(kvPair kv.KV) (bool, error) {
		var e entry
		if err := json.Unmarshal(kvPair.Value, &e); err != nil {
			return false, fmt.Errorf("eventlog: unmarshal entry: %w", err)
		}
		if index.MatchesAny(filters, e.Indexes) {
			out = append(out, e.MessageCid)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// GetEvents returns every messageCid in append order, strictly after
// cursor if non-empty. An unknown cursor yields an empty result
// rather than an error, matching Query's cursor-not-found behavior.
func (s *Store) GetEvents(ctx context.Context, tenant, cursor string) ([]string, error) {
	return s.scan(ctx, tenant, cursor, nil)
}

// QueryEvents returns messageCids in append order whose indexed
// properties satisfy the OR-union of filters, strictly after cursor
// if non-empty.
func (s *Store) QueryEvents(ctx context.Context, tenant string, filters []index.Filter, cursor string) ([]string, error) {
	return s.scan(ctx, tenant, cursor, filters)
}

// DeleteEventsByCid bulk-prunes log entries by messageCid, used when
// conflict resolution removes older duplicate writes from the
// message store and the event log together.
func (s *Store) DeleteEventsByCid(ctx context.Context, tenant string, cids []string) error {
	ops := make([]kv.Op, 0, len(cids)*2)
	for _, cid := range cids {
		raw, ok, err := s.engine.Get(ctx, cidPartition(tenant), []byte(cid))
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		seq := binary.BigEndian.Uint64(raw)
		ops = append(ops,
			kv.Op{Type: kv.OpDelete, Partition: logPartition(tenant), Key: formatSeq(seq)},
			kv.Op{Type: kv.OpDelete, Partition: cidPartition(tenant), Key: []byte(cid)},
		)
	}
	if len(ops) == 0 {
		return nil
	}
	return s.engine.Batch(ctx, ops)
}
