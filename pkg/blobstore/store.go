package blobstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/kv"
	"github.com/nodeledger/dwn-core/pkg/metrics"
)

// ChunkSize bounds how many bytes of a blob are stored per KV value.
// Keeping individual values small avoids handing the KV engine single
// oversized writes for large payloads.
const ChunkSize = 256 * 1024

// linkagePartition holds, per tenant, which (recordId, dataCid) pairs
// exist: key = recordId + "\x00" + dataCid, value = empty marker.
func linkagePartition(tenant string) string { return tenant + "/data" }

// blobPartition holds the shared, deduplicated blob bytes for a
// tenant: key = dataCid + "\x00" + chunk index (big-endian uint32),
// plus a "\x00size" key carrying the total byte length.
func blobPartition(tenant string) string { return tenant + "/blob" }

// refPartition tracks how many records in a tenant reference a given
// dataCid, so Delete can reclaim the shared blob exactly when the last
// reference is removed.
func refPartition(tenant string) string { return tenant + "/blobrefs" }

// Store is the content-addressed blob store for a single KV engine,
// shared by every tenant (the engine itself partitions by tenant).
type Store struct {
	engine *kv.Engine
}

// New wraps an open KV engine as a blob store.
func New(engine *kv.Engine) *Store {
	return &Store{engine: engine}
}

func linkageKey(recordId, dataCid string) []byte {
	return []byte(recordId + "\x00" + dataCid)
}

func sizeKey(dataCid string) []byte {
	return []byte(dataCid + "\x00size")
}

func chunkKey(dataCid string, idx uint32) []byte {
	buf := make([]byte, len(dataCid)+1+4)
	n := copy(buf, dataCid)
	buf[n] = 0
	binary.BigEndian.PutUint32(buf[n+1:], idx)
	return buf
}

// Put streams data into chunked storage under the tenant's shared blob
// area and records a (recordId, dataCid) linkage. It recomputes the
// CID of the bytes actually read and returns it alongside the byte
// count; callers (RecordsWrite) compare both against the descriptor's
// claimed dataCid/dataSize and reject a mismatch themselves.
//
// Writing the same dataCid for the same (tenant, recordId) twice is a
// no-op on the second call: the blob bytes are only (re)written if
// they aren't already present, and the reference count is only
// incremented the first time this (recordId, dataCid) pair is linked.
func (s *Store) Put(ctx context.Context, tenant, recordId, dataCid string, r io.Reader) (actualCid string, size int64, err error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, fmt.Errorf("blobstore: read: %w", err)
	}
	computed, err := envelope.ComputeCID(data)
	if err != nil {
		return "", 0, fmt.Errorf("blobstore: hash: %w", err)
	}

	_, linked, err := s.engine.Get(ctx, linkagePartition(tenant), linkageKey(recordId, dataCid))
	if err != nil {
		return "", 0, err
	}

	ops := []kv.Op{
		{Type: kv.OpPut, Partition: linkagePartition(tenant), Key: linkageKey(recordId, dataCid), Value: []byte{1}},
	}

	_, blobExists, err := s.engine.Get(ctx, blobPartition(tenant), sizeKey(dataCid))
	if err != nil {
		return "", 0, err
	}
	if !blobExists {
		ops = append(ops, kv.Op{
			Type: kv.OpPut, Partition: blobPartition(tenant), Key: sizeKey(dataCid),
			Value: []byte(fmt.Sprintf("%d", len(data))),
		})
		for i := 0; i*ChunkSize < len(data) || (len(data) == 0 && i == 0); i++ {
			start := i * ChunkSize
			end := start + ChunkSize
			if end > len(data) {
				end = len(data)
			}
			ops = append(ops, kv.Op{
				Type: kv.OpPut, Partition: blobPartition(tenant), Key: chunkKey(dataCid, uint32(i)),
				Value: append([]byte(nil), data[start:end]...),
			})
			if end == len(data) {
				break
			}
		}
	}

	if !linked {
		count := s.refCount(ctx, tenant, dataCid)
		ops = append(ops, kv.Op{
			Type: kv.OpPut, Partition: refPartition(tenant), Key: []byte(dataCid),
			Value: []byte(fmt.Sprintf("%d", count+1)),
		})
	}

	if err := s.engine.Batch(ctx, ops); err != nil {
		return "", 0, err
	}
	if !blobExists {
		metrics.BlobBytesWrittenTotal.WithLabelValues(tenant).Add(float64(len(data)))
	}
	return computed.String(), int64(len(data)), nil
}

func (s *Store) refCount(ctx context.Context, tenant, dataCid string) int {
	v, ok, err := s.engine.Get(ctx, refPartition(tenant), []byte(dataCid))
	if err != nil || !ok {
		return 0
	}
	var n int
	fmt.Sscanf(string(v), "%d", &n)
	return n
}

// Get returns the blob's bytes, or ok=false if the (recordId, dataCid)
// linkage doesn't exist or the shared blob itself is missing.
func (s *Store) Get(ctx context.Context, tenant, recordId, dataCid string) (io.Reader, bool, error) {
	_, linked, err := s.engine.Get(ctx, linkagePartition(tenant), linkageKey(recordId, dataCid))
	if err != nil || !linked {
		return nil, false, err
	}

	sizeBytes, ok, err := s.engine.Get(ctx, blobPartition(tenant), sizeKey(dataCid))
	if err != nil || !ok {
		return nil, false, err
	}
	var total int
	fmt.Sscanf(string(sizeBytes), "%d", &total)

	var buf bytes.Buffer
	for i := uint32(0); buf.Len() < total; i++ {
		chunk, ok, err := s.engine.Get(ctx, blobPartition(tenant), chunkKey(dataCid, i))
		if err != nil {
			return nil, false, err
		}
		if !ok {
			break
		}
		buf.Write(chunk)
		if len(chunk) == 0 {
			break
		}
	}
	return &buf, true, nil
}

// Delete removes the (recordId, dataCid) linkage and, if that was the
// last tenant record referencing dataCid, reclaims the shared blob and
// its chunks. Deleting a linkage that doesn't exist is a no-op.
func (s *Store) Delete(ctx context.Context, tenant, recordId, dataCid string) error {
	_, linked, err := s.engine.Get(ctx, linkagePartition(tenant), linkageKey(recordId, dataCid))
	if err != nil {
		return err
	}
	if !linked {
		return nil
	}

	ops := []kv.Op{
		{Type: kv.OpDelete, Partition: linkagePartition(tenant), Key: linkageKey(recordId, dataCid)},
	}

	count := s.refCount(ctx, tenant, dataCid)
	remaining := count - 1
	if remaining <= 0 {
		ops = append(ops, kv.Op{Type: kv.OpDelete, Partition: refPartition(tenant), Key: []byte(dataCid)})
		ops = append(ops, kv.Op{Type: kv.OpDelete, Partition: blobPartition(tenant), Key: sizeKey(dataCid)})
		sizeBytes, ok, err := s.engine.Get(ctx, blobPartition(tenant), sizeKey(dataCid))
		total := 0
		if err == nil && ok {
			fmt.Sscanf(string(sizeBytes), "%d", &total)
		}
		chunks := total/ChunkSize + 1
		for i := 0; i < chunks; i++ {
			ops = append(ops, kv.Op{Type: kv.OpDelete, Partition: blobPartition(tenant), Key: chunkKey(dataCid, uint32(i))})
		}
		metrics.BlobBytesReclaimedTotal.WithLabelValues(tenant).Add(float64(total))
	} else {
		ops = append(ops, kv.Op{
			Type: kv.OpPut, Partition: refPartition(tenant), Key: []byte(dataCid),
			Value: []byte(fmt.Sprintf("%d", remaining)),
		})
	}

	return s.engine.Batch(ctx, ops)
}
