// Package eventstream implements the in-process event stream:
// tenant-scoped pub/sub over accepted messages. Subscriptions are
// message-channel senders rather than callbacks, delivered serially
// per subscription, so a subscriber reads its
// own channel instead of registering a function the emitter calls
// back into — the same shape pkg/events used for cluster events,
// adapted here to per-tenant scoping, filter matching, and a strict
// per-subscription delivery-order guarantee instead of best-effort
// drop-on-full-buffer fan-out.
package eventstream
