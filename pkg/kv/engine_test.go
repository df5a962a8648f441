package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(t.TempDir(), "test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEnginePutGet(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, "tenant1/messages", []byte("cid1"), []byte("hello")))

	v, ok, err := e.Get(ctx, "tenant1/messages", []byte("cid1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(v))

	_, ok, err = e.Get(ctx, "tenant1/messages", []byte("missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = e.Get(ctx, "tenant2/messages", []byte("cid1"))
	require.NoError(t, err)
	assert.False(t, ok, "partitions must not leak across tenants")
}

func TestEngineBatchAtomic(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	ops := []Op{
		{Type: OpPut, Partition: "t/a", Key: []byte("k1"), Value: []byte("v1")},
		{Type: OpPut, Partition: "t/b", Key: []byte("k2"), Value: []byte("v2")},
	}
	require.NoError(t, e.Batch(ctx, ops))

	_, ok, _ := e.Get(ctx, "t/a", []byte("k1"))
	assert.True(t, ok)
	_, ok, _ = e.Get(ctx, "t/b", []byte("k2"))
	assert.True(t, ok)
}

func TestEngineBatchRejectsCancelledContext(t *testing.T) {
	e := openTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Put(ctx, "t/a", []byte("k"), []byte("v"))
	assert.ErrorIs(t, err, context.Canceled)

	_, ok, _ := e.Get(context.Background(), "t/a", []byte("k"))
	assert.False(t, ok, "no side effects from a pre-cancelled batch")
}

func TestEngineDelete(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Put(ctx, "t/a", []byte("k"), []byte("v")))
	require.NoError(t, e.Delete(ctx, "t/a", []byte("k")))
	_, ok, _ := e.Get(ctx, "t/a", []byte("k"))
	assert.False(t, ok)
}

func TestEngineIterateForward(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, e.Put(ctx, "t/sorted", []byte(k), []byte(k)))
	}

	var got []string
	err := e.Iterate(ctx, "t/sorted", IteratorOptions{GT: []byte("a")}, func(kv KV) (bool, error) {
		got = append(got, string(kv.Key))
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, got)
}

func TestEngineIterateReverseWithLimit(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, e.Put(ctx, "t/sorted", []byte(k), []byte(k)))
	}

	var got []string
	err := e.Iterate(ctx, "t/sorted", IteratorOptions{Reverse: true, Limit: 2}, func(kv KV) (bool, error) {
		got = append(got, string(kv.Key))
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c"}, got)
}

func TestEngineIterateMissingPartitionIsEmpty(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	var got []string
	err := e.ForEach(ctx, "nope/nope", func(kv KV) (bool, error) {
		got = append(got, string(kv.Key))
		return true, nil
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}
