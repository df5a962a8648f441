package kv

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"
)

// Engine is the ordered, byte-keyed storage engine described in the
// KV engine adapter component: partitions compose via nested buckets,
// batches are atomic, and iteration supports range bounds and reverse
// order. All mutating and iterating calls accept a context so callers
// can cancel before any side effect is committed.
type Engine struct {
	db *bolt.DB
}

// Open opens (creating if absent) the engine's backing file under dataDir.
func Open(dataDir, fileName string) (*Engine, error) {
	path := filepath.Join(dataDir, fileName)
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", path, err)
	}
	return &Engine{db: db}, nil
}

// Close closes the underlying database file.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Clear removes every top-level partition.
func (e *Engine) Clear() error {
	return e.db.Update(func(tx *bolt.Tx) error {
		var names [][]byte
		if err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, append([]byte(nil), name...))
			return nil
		}); err != nil {
			return err
		}
		for _, name := range names {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func splitPartition(name string) []string {
	return strings.Split(strings.Trim(name, "/"), "/")
}

func bucketChain(tx *bolt.Tx, segments []string, create bool) (*bolt.Bucket, error) {
	if len(segments) == 0 || segments[0] == "" {
		return nil, fmt.Errorf("kv: empty partition name")
	}
	var b *bolt.Bucket
	for i, seg := range segments {
		key := []byte(seg)
		if i == 0 {
			if create {
				tb, err := tx.CreateBucketIfNotExists(key)
				if err != nil {
					return nil, err
				}
				b = tb
			} else {
				b = tx.Bucket(key)
			}
		} else {
			if create {
				tb, err := b.CreateBucketIfNotExists(key)
				if err != nil {
					return nil, err
				}
				b = tb
			} else {
				b = b.Bucket(key)
			}
		}
		if b == nil {
			return nil, nil
		}
	}
	return b, nil
}

// OpType distinguishes a Put from a Delete within a Batch.
type OpType int

const (
	OpPut OpType = iota
	OpDelete
)

// Op is a single mutation targeting a partition.
type Op struct {
	Type      OpType
	Partition string
	Key       []byte
	Value     []byte
}

// Batch applies every op atomically: either all commit or none do. A
// context already cancelled before the call rejects without any side
// effect; cancellation observed mid-batch aborts the whole transaction.
func (e *Engine) Batch(ctx context.Context, ops []Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.db.Update(func(tx *bolt.Tx) error {
		for _, op := range ops {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := bucketChain(tx, splitPartition(op.Partition), true)
			if err != nil {
				return err
			}
			switch op.Type {
			case OpPut:
				if err := b.Put(op.Key, op.Value); err != nil {
					return err
				}
			case OpDelete:
				if err := b.Delete(op.Key); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Put is a single-op convenience wrapper around Batch.
func (e *Engine) Put(ctx context.Context, partition string, key, value []byte) error {
	return e.Batch(ctx, []Op{{Type: OpPut, Partition: partition, Key: key, Value: value}})
}

// Delete is a single-op convenience wrapper around Batch.
func (e *Engine) Delete(ctx context.Context, partition string, key []byte) error {
	return e.Batch(ctx, []Op{{Type: OpDelete, Partition: partition, Key: key}})
}

// Get reads a single key from a partition. Returns (nil, false, nil) if
// the partition or key doesn't exist.
func (e *Engine) Get(ctx context.Context, partition string, key []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var out []byte
	var found bool
	err := e.db.View(func(tx *bolt.Tx) error {
		b, err := bucketChain(tx, splitPartition(partition), false)
		if err != nil || b == nil {
			return err
		}
		v := b.Get(key)
		if v == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		found = true
		return nil
	})
	return out, found, err
}

// IteratorOptions bounds and orders a range scan of a partition.
type IteratorOptions struct {
	GT, GTE, LT, LTE []byte
	Reverse          bool
	Limit            int
}

// KV is a single key/value pair yielded by Iterate.
type KV struct {
	Key   []byte
	Value []byte
}

// Iterate walks a partition's keys in lexicographic order (or reverse),
// invoking fn for each matching pair until fn returns false, the limit
// is reached, or ctx is cancelled. A partition that does not exist
// yields zero pairs, not an error.
func (e *Engine) Iterate(ctx context.Context, partition string, opts IteratorOptions, fn func(KV) (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.db.View(func(tx *bolt.Tx) error {
		b, err := bucketChain(tx, splitPartition(partition), false)
		if err != nil {
			return err
		}
		if b == nil {
			return nil
		}
		c := b.Cursor()
		count := 0

		within := func(k []byte) bool {
			if opts.GT != nil && bytesCompare(k, opts.GT) <= 0 {
				return false
			}
			if opts.GTE != nil && bytesCompare(k, opts.GTE) < 0 {
				return false
			}
			if opts.LT != nil && bytesCompare(k, opts.LT) >= 0 {
				return false
			}
			if opts.LTE != nil && bytesCompare(k, opts.LTE) > 0 {
				return false
			}
			return true
		}

		var k, v []byte
		if opts.Reverse {
			if opts.LTE != nil {
				k, v = c.Seek(opts.LTE)
				if k == nil || bytesCompare(k, opts.LTE) > 0 {
					k, v = c.Prev()
				}
			} else if opts.LT != nil {
				k, v = c.Seek(opts.LT)
				k, v = c.Prev()
			} else {
				k, v = c.Last()
			}
			for ; k != nil; k, v = c.Prev() {
				if err := ctx.Err(); err != nil {
					return err
				}
				if !within(k) {
					if opts.GT != nil || opts.GTE != nil {
						break
					}
					continue
				}
				cont, err := fn(KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
				if err != nil {
					return err
				}
				count++
				if !cont || (opts.Limit > 0 && count >= opts.Limit) {
					return nil
				}
			}
			return nil
		}

		switch {
		case opts.GT != nil:
			k, v = c.Seek(opts.GT)
			for k != nil && bytesCompare(k, opts.GT) <= 0 {
				k, v = c.Next()
			}
		case opts.GTE != nil:
			k, v = c.Seek(opts.GTE)
		default:
			k, v = c.First()
		}
		for ; k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !within(k) {
				if opts.LT != nil || opts.LTE != nil {
					break
				}
				continue
			}
			cont, err := fn(KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
			if err != nil {
				return err
			}
			count++
			if !cont || (opts.Limit > 0 && count >= opts.Limit) {
				return nil
			}
		}
		return nil
	})
}

// ForEach walks an entire partition in forward order, equivalent to
// Iterate with no bounds and no limit. Convenience for full scans.
func (e *Engine) ForEach(ctx context.Context, partition string, fn func(KV) (bool, error)) error {
	return e.Iterate(ctx, partition, IteratorOptions{}, fn)
}

func bytesCompare(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}
