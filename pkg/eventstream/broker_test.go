package eventstream

import (
	"context"
	"testing"
	"time"

	"github.com/nodeledger/dwn-core/pkg/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesMatchingEvents(t *testing.T) {
	b := New()
	sub := b.Subscribe("tenant1", []index.Filter{{"recordId": index.Equal("r1")}})
	defer sub.Close()

	ctx := context.Background()
	require.NoError(t, b.Emit(ctx, "tenant1", "cidMismatch", map[string]any{"recordId": "other"}))
	require.NoError(t, b.Emit(ctx, "tenant1", "cidMatch", map[string]any{"recordId": "r1"}))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "cidMatch", ev.MessageCid)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for matching event")
	}

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected second event: %+v", ev)
	default:
	}
}

func TestSubscribeEmptyFiltersMatchesEverything(t *testing.T) {
	b := New()
	sub := b.Subscribe("t", nil)
	defer sub.Close()

	require.NoError(t, b.Emit(context.Background(), "t", "cid1", map[string]any{"anything": true}))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "cid1", ev.MessageCid)
	case <-time.After(time.Second):
		t.Fatal("expected delivery with no filters")
	}
}

func TestEmitDoesNotCrossTenants(t *testing.T) {
	b := New()
	subA := b.Subscribe("tenantA", nil)
	defer subA.Close()
	subB := b.Subscribe("tenantB", nil)
	defer subB.Close()

	require.NoError(t, b.Emit(context.Background(), "tenantA", "cidA", map[string]any{}))

	select {
	case ev := <-subA.Events():
		assert.Equal(t, "cidA", ev.MessageCid)
	case <-time.After(time.Second):
		t.Fatal("expected tenantA subscriber to receive its event")
	}

	select {
	case ev := <-subB.Events():
		t.Fatalf("tenantB subscriber should not see tenantA's event, got %+v", ev)
	default:
	}
}

func TestCloseDetachesSubscription(t *testing.T) {
	b := New()
	sub := b.Subscribe("t", nil)
	sub.Close()

	require.NoError(t, b.Emit(context.Background(), "t", "cid1", map[string]any{}))

	select {
	case ev, ok := <-sub.Events():
		if ok {
			t.Fatalf("closed subscription should not receive events, got %+v", ev)
		}
	default:
	}
}

func TestDeliveryOrderMatchesEmissionOrder(t *testing.T) {
	b := New()
	sub := b.Subscribe("t", nil)
	defer sub.Close()

	ctx := context.Background()
	for _, cid := range []string{"cid1", "cid2", "cid3"} {
		require.NoError(t, b.Emit(ctx, "t", cid, map[string]any{}))
	}

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case ev := <-sub.Events():
			got = append(got, ev.MessageCid)
		case <-time.After(time.Second):
			t.Fatal("timed out collecting events")
		}
	}
	assert.Equal(t, []string{"cid1", "cid2", "cid3"}, got)
}
