package eventstream

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nodeledger/dwn-core/pkg/index"
	"github.com/nodeledger/dwn-core/pkg/log"
	"github.com/nodeledger/dwn-core/pkg/metrics"
)

// Event is what a subscription receives: the message's CID and the
// index properties it was filed under, the same pair the event log
// records.
type Event struct {
	MessageCid string
	Indexes    map[string]any
}

const subscriptionBuffer = 32

// Subscription is a live registration returned by Broker.Subscribe.
// Events arrive on the channel returned by Events(); Close detaches
// the subscription so no further event is queued to it.
type Subscription struct {
	id      string
	tenant  string
	filters []index.Filter
	ch      chan Event

	broker *Broker
}

// Events returns the channel this subscription receives matching
// events on, in emission order.
func (s *Subscription) Events() <-chan Event { return s.ch }

// ID returns the subscription's identifier, assigned at Subscribe
// time.
func (s *Subscription) ID() string { return s.id }

// Close detaches the subscription. It takes effect before the next
// Emit call on this subscription's tenant; an Emit already iterating
// subscriptions when Close runs may still deliver one more event.
func (s *Subscription) Close() {
	s.broker.remove(s.tenant, s.id)
	metrics.EventStreamSubscribersGauge.WithLabelValues(s.tenant).Dec()
	log.WithComponent("eventstream").WithTenant(s.tenant).Info().Str("subscriptionId", s.id).Msg("subscription closed")
}

// Broker is the per-tenant pub/sub hub: subscriptions are kept in a
// per-tenant collection guarded by a single mutex, and Emit delivers
// to each tenant's subscriptions serially, in registration-independent
// emission order, without crossing tenants while holding the lock.
type Broker struct {
	mu    sync.Mutex
	byTen map[string]map[string]*Subscription
}

// New builds an empty broker.
func New() *Broker {
	return &Broker{byTen: make(map[string]map[string]*Subscription)}
}

// Subscribe registers a subscription for tenant matching the
// OR-union of filters (an empty filter list matches every event).
func (b *Broker) Subscribe(tenant string, filters []index.Filter) *Subscription {
	id := uuid.NewString()
	sub := &Subscription{
		id:      id,
		tenant:  tenant,
		filters: filters,
		ch:      make(chan Event, subscriptionBuffer),
		broker:  b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.byTen[tenant]
	if !ok {
		subs = make(map[string]*Subscription)
		b.byTen[tenant] = subs
	}
	subs[id] = sub
	metrics.EventStreamSubscribersGauge.WithLabelValues(tenant).Inc()
	log.WithComponent("eventstream").WithTenant(tenant).Info().Str("subscriptionId", id).Msg("subscription opened")
	return sub
}

func (b *Broker) remove(tenant, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.byTen[tenant]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.byTen, tenant)
	}
}

func (b *Broker) snapshot(tenant string) []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.byTen[tenant]
	if !ok {
		return nil
	}
	out := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}

// Emit synchronously delivers ev to every subscription on tenant
// whose filters match indexes, in the same order for every surviving
// subscription: within a tenant, delivery order equals emission
// order. A subscription
// closed after the snapshot is taken but before its turn still has the
// event queued to its channel (see Close); it is never reinserted.
func (b *Broker) Emit(ctx context.Context, tenant, messageCid string, indexes map[string]any) error {
	subs := b.snapshot(tenant)
	if len(subs) == 0 {
		return nil
	}

	ev := Event{MessageCid: messageCid, Indexes: indexes}
	for _, sub := range subs {
		if !index.MatchesAny(sub.filters, indexes) {
			continue
		}
		select {
		case sub.ch <- ev:
			metrics.EventsEmittedTotal.WithLabelValues(tenant).Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
