package handlers

import (
	"context"

	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
	"github.com/nodeledger/dwn-core/pkg/index"
	"github.com/nodeledger/dwn-core/pkg/message"
	"github.com/nodeledger/dwn-core/pkg/protocol"
)

// MessagesGet fetches one or more messages by CID.
// The tenant sees everything; a non-owner must cite a permissions
// grant scoped to (Messages, Get), and when that grant further narrows
// to a protocol, every requested message must belong to it — for a
// RecordsWrite, its own protocol field; for a ProtocolsConfigure, the
// definition's protocol URL.
func (h *Handlers) MessagesGet(ctx context.Context, tenant string, msg message.Message) (Reply, error) {
	typed, err := msg.TypedDescriptor()
	if err != nil {
		return Reply{}, dwnerrors.Wrap(dwnerrors.CodeInvalidDescriptor, "decode MessagesGet descriptor", err)
	}
	desc, ok := typed.(message.MessagesGetDescriptor)
	if !ok {
		return Reply{}, dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "descriptor is not a MessagesGet")
	}

	signer, err := h.authenticate(ctx, tenant, msg)
	if err != nil {
		return Reply{}, err
	}

	var grantProtocol string
	hasGrantProtocol := false
	if signer != tenant {
		payload, err := msg.SignaturePayload()
		if err != nil {
			return Reply{}, err
		}
		if payload.PermissionGrantId == "" {
			return Reply{}, dwnerrors.New(dwnerrors.CodeUnauthorized, "a non-tenant author requires a permissions grant to get messages")
		}
		incoming, err := messageTimestamp(msg)
		if err != nil {
			return Reply{}, err
		}
		scope := protocol.GrantScope{Interface: string(message.InterfaceMessages), Method: string(message.MethodGet)}
		data, err := h.Authz.ValidateGrant(ctx, tenant, payload.PermissionGrantId, signer, incoming, scope)
		if err != nil {
			return Reply{}, err
		}
		if data.Scope.Protocol != "" {
			grantProtocol, hasGrantProtocol = data.Scope.Protocol, true
		}
	}

	entries := make([]Entry, 0, len(desc.MessageCids))
	for _, cid := range desc.MessageCids {
		rec, ok, err := h.Messages.Get(ctx, tenant, cid)
		if err != nil {
			return Reply{}, dwnerrors.Wrap(dwnerrors.CodeInternal, "fetch message", err)
		}
		if !ok {
			continue
		}
		if hasGrantProtocol {
			recProtocol, err := h.messageProtocol(ctx, tenant, *rec)
			if err != nil {
				return Reply{}, err
			}
			if recProtocol != grantProtocol {
				continue
			}
		}
		entries = append(entries, Entry{Message: stripAuthorization(*rec)})
	}

	recordMetric(tenant, string(message.InterfaceMessages), string(message.MethodGet), 200)
	return Reply{Status: Status{Code: 200}, Entries: entries}, nil
}

// messageProtocol resolves the protocol a message belongs to: a
// RecordsWrite's own protocol field, or a ProtocolsConfigure's
// definition URL. Any other interface/method has no protocol
// association and resolves to "".
func (h *Handlers) messageProtocol(ctx context.Context, tenant string, msg message.Message) (string, error) {
	typed, err := msg.TypedDescriptor()
	if err != nil {
		return "", err
	}
	switch d := typed.(type) {
	case message.RecordsWriteDescriptor:
		if d.Protocol != nil {
			return *d.Protocol, nil
		}
	case message.ProtocolsConfigureDescriptor:
		return d.Definition.Protocol, nil
	}
	return "", nil
}

// MessagesSubscribe opens a live stream across every
// interface/method, narrowed by an OR-union of MessagesFilter. Only
// the tenant may open this stream: unlike RecordsSubscribe, events
// here carry no per-record visibility narrowing, so exposing it to a
// non-owner would leak every message the tenant stores. Once admitted,
// delivery is unfiltered by authorization; a caller wanting
// read-authorized visibility re-checks per message via MessagesGet.
func (h *Handlers) MessagesSubscribe(ctx context.Context, tenant string, msg message.Message) (Reply, error) {
	typed, err := msg.TypedDescriptor()
	if err != nil {
		return Reply{}, dwnerrors.Wrap(dwnerrors.CodeInvalidDescriptor, "decode MessagesSubscribe descriptor", err)
	}
	desc, ok := typed.(message.MessagesSubscribeDescriptor)
	if !ok {
		return Reply{}, dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "descriptor is not a MessagesSubscribe")
	}

	if h.Stream == nil {
		return Reply{}, dwnerrors.New(dwnerrors.CodeSubscriptionsNotSupported, "this node has no event stream configured")
	}

	signer, err := h.authenticate(ctx, tenant, msg)
	if err != nil {
		return Reply{}, err
	}
	if signer != tenant {
		return Reply{}, dwnerrors.New(dwnerrors.CodeUnauthorized, "only the tenant may open a messages subscription")
	}

	filters := make([]index.Filter, 0, len(desc.Filters))
	if len(desc.Filters) == 0 {
		filters = append(filters, index.Filter{})
	}
	for _, mf := range desc.Filters {
		f := index.Filter{}
		if mf.Interface != nil {
			f[message.IndexInterface] = index.Equal(string(*mf.Interface))
		}
		if mf.Method != nil {
			f[message.IndexMethod] = index.Equal(string(*mf.Method))
		}
		if mf.Protocol != nil {
			f[message.IndexProtocol] = index.Equal(*mf.Protocol)
		}
		filters = append(filters, f)
	}

	sub := h.Stream.Subscribe(tenant, filters)

	recordMetric(tenant, string(message.InterfaceMessages), string(message.MethodSubscribe), 200)
	return Reply{Status: Status{Code: 200}, Subscription: &Subscription{ID: sub.ID(), Events: sub.Events(), Close: sub.Close}}, nil
}
