package handlers

import (
	"fmt"

	"context"

	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/index"
	"github.com/nodeledger/dwn-core/pkg/message"
	"github.com/nodeledger/dwn-core/pkg/messagestore"
	"github.com/nodeledger/dwn-core/pkg/protocol"
)

// ProtocolsConfigure installs a protocol definition: validate its
// structural well-formedness, authorize (tenant always passes; a
// foreign author needs a matching permissions grant), and resolve the
// overwrite race against any existing configuration for the same
// protocol URL by (messageTimestamp, messageCid).
func (h *Handlers) ProtocolsConfigure(ctx context.Context, tenant string, msg message.Message) (Reply, error) {
	typed, err := msg.TypedDescriptor()
	if err != nil {
		return Reply{}, dwnerrors.Wrap(dwnerrors.CodeInvalidDescriptor, "decode ProtocolsConfigure descriptor", err)
	}
	desc, ok := typed.(message.ProtocolsConfigureDescriptor)
	if !ok {
		return Reply{}, dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "descriptor is not a ProtocolsConfigure")
	}

	if !protocol.IsNormalizedURL(desc.Definition.Protocol) {
		return Reply{}, dwnerrors.New(dwnerrors.CodeUrlProtocolNotNormalized, fmt.Sprintf("protocol %q is not normalized", desc.Definition.Protocol))
	}
	if err := protocol.Validate(desc.Definition); err != nil {
		return Reply{}, err
	}

	signer, err := h.authenticate(ctx, tenant, msg)
	if err != nil {
		return Reply{}, err
	}

	if signer != tenant {
		payload, err := msg.SignaturePayload()
		if err != nil {
			return Reply{}, err
		}
		incoming, err := messageTimestamp(msg)
		if err != nil {
			return Reply{}, err
		}
		scope := protocol.GrantScope{Interface: string(message.InterfaceProtocols), Method: string(message.MethodConfigure), Protocol: desc.Definition.Protocol}
		if payload.PermissionGrantId == "" {
			return Reply{}, dwnerrors.New(dwnerrors.CodeUnauthorized, "a non-tenant author requires a permissions grant to configure a protocol")
		}
		if _, err := h.Authz.ValidateGrant(ctx, tenant, payload.PermissionGrantId, signer, incoming, scope); err != nil {
			return Reply{}, err
		}
	}

	incomingCid, err := msg.Cid()
	if err != nil {
		return Reply{}, err
	}

	existing, err := h.Messages.Query(ctx, tenant, []index.Filter{{
		message.IndexInterface: index.Equal(string(message.InterfaceProtocols)),
		message.IndexMethod:    index.Equal(string(message.MethodConfigure)),
		message.IndexProtocol:  index.Equal(desc.Definition.Protocol),
	}}, messagestore.SortOptions{Property: message.IndexMessageTimestamp, Direction: index.Descending}, messagestore.Pagination{})
	if err != nil {
		return Reply{}, err
	}

	for _, rec := range existing {
		existingDesc, err := rec.Message.TypedDescriptor()
		if err != nil {
			return Reply{}, err
		}
		pd, ok := existingDesc.(message.ProtocolsConfigureDescriptor)
		if !ok {
			continue
		}
		if !configureWins(desc.MessageTimestamp, pd.MessageTimestamp, incomingCid.String(), rec.Cid) {
			return Reply{}, dwnerrors.New(dwnerrors.CodeConflict, "a newer or tied-with-larger-cid protocol configuration already exists")
		}
	}

	entries := map[string]any{
		message.IndexInterface:        string(message.InterfaceProtocols),
		message.IndexMethod:           string(message.MethodConfigure),
		message.IndexProtocol:         desc.Definition.Protocol,
		message.IndexMessageTimestamp: string(desc.MessageTimestamp),
	}
	if _, err := h.Messages.Put(ctx, tenant, msg, entries); err != nil {
		return Reply{}, dwnerrors.Wrap(dwnerrors.CodeInternal, "persist protocol configuration", err)
	}

	var toDeleteCids []string
	for _, rec := range existing {
		// Re-submitting the surviving configuration is idempotent.
		if rec.Cid == incomingCid.String() {
			continue
		}
		if err := h.Messages.Delete(ctx, tenant, rec.Cid); err != nil {
			return Reply{}, err
		}
		toDeleteCids = append(toDeleteCids, rec.Cid)
	}
	if len(toDeleteCids) > 0 {
		if err := h.EventLog.DeleteEventsByCid(ctx, tenant, toDeleteCids); err != nil {
			return Reply{}, err
		}
	}

	if _, err := h.EventLog.Append(ctx, tenant, incomingCid.String(), entries); err != nil {
		return Reply{}, dwnerrors.Wrap(dwnerrors.CodeInternal, "append event log", err)
	}
	if h.Stream != nil {
		if err := h.Stream.Emit(ctx, tenant, incomingCid.String(), entries); err != nil {
			return Reply{}, err
		}
	}

	recordMetric(tenant, string(message.InterfaceProtocols), string(message.MethodConfigure), 202)
	return okReply(202), nil
}

// configureWins applies the same (messageTimestamp, messageCid)
// tie-break RecordsWrite conflict resolution uses: newer
// messageTimestamp wins, ties broken by larger messageCid.
func configureWins(incomingTs, currentTs envelope.Timestamp, incomingCid, currentCid string) bool {
	return writeWins(incomingTs, currentTs, incomingCid, currentCid)
}

// ProtocolsQuery fetches the currently configured
// definition(s) for the tenant, optionally narrowed to a single
// protocol URL.
func (h *Handlers) ProtocolsQuery(ctx context.Context, tenant string, msg message.Message) (Reply, error) {
	typed, err := msg.TypedDescriptor()
	if err != nil {
		return Reply{}, dwnerrors.Wrap(dwnerrors.CodeInvalidDescriptor, "decode ProtocolsQuery descriptor", err)
	}
	desc, ok := typed.(message.ProtocolsQueryDescriptor)
	if !ok {
		return Reply{}, dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "descriptor is not a ProtocolsQuery")
	}

	if _, err := h.authenticate(ctx, tenant, msg); err != nil {
		return Reply{}, err
	}

	filter := index.Filter{
		message.IndexInterface: index.Equal(string(message.InterfaceProtocols)),
		message.IndexMethod:    index.Equal(string(message.MethodConfigure)),
	}
	if desc.Filter.Protocol != "" {
		filter[message.IndexProtocol] = index.Equal(desc.Filter.Protocol)
	}

	records, err := h.Messages.Query(ctx, tenant, []index.Filter{filter},
		messagestore.SortOptions{Property: message.IndexMessageTimestamp, Direction: index.Ascending}, messagestore.Pagination{})
	if err != nil {
		return Reply{}, err
	}

	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, Entry{Message: stripAuthorization(rec.Message)})
	}

	recordMetric(tenant, string(message.InterfaceProtocols), string(message.MethodQuery), 200)
	return Reply{Status: Status{Code: 200}, Entries: entries}, nil
}
