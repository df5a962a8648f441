package blobstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	e, err := kv.Open(t.TempDir(), "blob.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return New(e)
}

// cidOf computes the dataCid a descriptor would declare for payload;
// Put stores under the declared cid and only reports the recomputed
// one back for the caller to compare.
func cidOf(t *testing.T, payload []byte) string {
	t.Helper()
	c, err := envelope.ComputeCID(payload)
	require.NoError(t, err)
	return c.String()
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload := []byte("hello world")
	cid := cidOf(t, payload)
	computed, size, err := s.Put(ctx, "tenant1", "rec1", cid, bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)
	assert.Equal(t, cid, computed)

	r, ok, err := s.Get(ctx, "tenant1", "rec1", cid)
	require.NoError(t, err)
	require.True(t, ok)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestPutReportsMismatchedCid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload := []byte("actual bytes")
	computed, _, err := s.Put(ctx, "t", "rec1", "declared-but-wrong", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.NotEqual(t, "declared-but-wrong", computed,
		"the recomputed cid is what the caller compares against the descriptor's claim")
}

func TestGetMissingLinkage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, ok, err := s.Get(ctx, "tenant1", "rec1", "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteReclaimsUnreferencedBlob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload := []byte("data")
	cid := cidOf(t, payload)
	_, _, err := s.Put(ctx, "t", "rec1", cid, bytes.NewReader(payload))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "t", "rec1", cid))

	_, ok, err := s.Get(ctx, "t", "rec1", cid)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteKeepsSharedBlobWhileReferenced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload := []byte("shared")
	cid := cidOf(t, payload)
	_, _, err := s.Put(ctx, "t", "rec1", cid, bytes.NewReader(payload))
	require.NoError(t, err)
	_, _, err = s.Put(ctx, "t", "rec2", cid, bytes.NewReader(payload))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "t", "rec1", cid))

	r, ok, err := s.Get(ctx, "t", "rec2", cid)
	require.NoError(t, err)
	require.True(t, ok)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(data))

	require.NoError(t, s.Delete(ctx, "t", "rec2", cid))
	_, ok, err = s.Get(ctx, "t", "rec2", cid)
	require.NoError(t, err)
	assert.False(t, ok, "last reference removed, blob reclaimed")
}

func TestPutChunksLargeBlob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("x"), ChunkSize*2+100)
	cid := cidOf(t, payload)
	_, size, err := s.Put(ctx, "t", "rec1", cid, bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)

	r, ok, err := s.Get(ctx, "t", "rec1", cid)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestPutIsIdempotentForSameLinkage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload := []byte("v1")
	cid := cidOf(t, payload)
	cid1, _, err := s.Put(ctx, "t", "rec1", cid, bytes.NewReader(payload))
	require.NoError(t, err)
	cid2, _, err := s.Put(ctx, "t", "rec1", cid, bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, cid1, cid2)

	require.NoError(t, s.Delete(ctx, "t", "rec1", cid))
	_, ok, err := s.Get(ctx, "t", "rec1", cid)
	require.NoError(t, err)
	assert.False(t, ok, "single delete reclaims since the duplicate put didn't bump the ref count")
}
