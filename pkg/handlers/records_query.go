package handlers

import (
	"context"

	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
	"github.com/nodeledger/dwn-core/pkg/index"
	"github.com/nodeledger/dwn-core/pkg/message"
	"github.com/nodeledger/dwn-core/pkg/messagestore"
	"github.com/nodeledger/dwn-core/pkg/protocol"
)

// RecordsQuery lists records matching a filter: resolve
// visibility, optionally authorize against a protocol's rule tree, run
// the query and strip authorization from every returned entry.
func (h *Handlers) RecordsQuery(ctx context.Context, tenant string, msg message.Message) (Reply, error) {
	typed, err := msg.TypedDescriptor()
	if err != nil {
		return Reply{}, dwnerrors.Wrap(dwnerrors.CodeInvalidDescriptor, "decode RecordsQuery descriptor", err)
	}
	desc, ok := typed.(message.RecordsQueryDescriptor)
	if !ok {
		return Reply{}, dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "descriptor is not a RecordsQuery")
	}

	signer, anonymous, err := h.authenticateOptional(ctx, tenant, msg)
	if err != nil {
		return Reply{}, err
	}

	if desc.Filter.Protocol != nil && !anonymous {
		// A query isn't anchored to one record the way a write is, so
		// there is no record of its own to prepend to the ancestor
		// chain; the chain starts at the filter's parent, when one is
		// named, and of-anchored rules resolve from there.
		if err := h.authorizeRecordsAction(ctx, tenant, msg, recordAuthContext{
			Protocol:     desc.Filter.Protocol,
			ProtocolPath: desc.Filter.ProtocolPath,
			ParentId:     desc.Filter.ParentId,
			ContextId:    desc.Filter.ContextId,
			Recipient:    desc.Filter.Recipient,
			Schema:       desc.Filter.Schema,
			Candidate:    []protocol.Action{protocol.ActionQuery},
			IsWrite:      true,
		}); err != nil {
			return Reply{}, err
		}
	}

	filters := visibilityFilters(tenant, signer, anonymous, desc.Filter)

	direction := index.Descending
	sortProperty := message.IndexMessageTimestamp
	if desc.DateSort == "createdAscending" || desc.DateSort == "publishedAscending" {
		direction = index.Ascending
	}
	if desc.DateSort == "publishedAscending" || desc.DateSort == "publishedDescending" {
		sortProperty = message.IndexDatePublished
	}

	records, err := h.Messages.Query(ctx, tenant, filters,
		messagestore.SortOptions{Property: sortProperty, Direction: direction},
		messagestore.Pagination{MessageCid: desc.PaginationCid, Limit: desc.PaginationLimit})
	if err != nil {
		return Reply{}, err
	}

	entries := make([]Entry, 0, len(records))
	var cursor string
	for _, rec := range records {
		entries = append(entries, Entry{Message: stripAuthorization(rec.Message)})
		cursor = rec.Cid
	}

	recordMetric(tenant, string(message.InterfaceRecords), string(message.MethodQuery), 200)
	return Reply{Status: Status{Code: 200}, Entries: entries, Cursor: cursor}, nil
}

// RecordsSubscribe is the live-query counterpart of RecordsQuery: the same
// visibility and protocol-scoped authorization rules as RecordsQuery,
// registering a broker subscription instead of running a one-shot
// query.
func (h *Handlers) RecordsSubscribe(ctx context.Context, tenant string, msg message.Message) (Reply, error) {
	typed, err := msg.TypedDescriptor()
	if err != nil {
		return Reply{}, dwnerrors.Wrap(dwnerrors.CodeInvalidDescriptor, "decode RecordsSubscribe descriptor", err)
	}
	desc, ok := typed.(message.RecordsSubscribeDescriptor)
	if !ok {
		return Reply{}, dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "descriptor is not a RecordsSubscribe")
	}

	if h.Stream == nil {
		return Reply{}, dwnerrors.New(dwnerrors.CodeSubscriptionsNotSupported, "this node has no event stream configured")
	}

	signer, anonymous, err := h.authenticateOptional(ctx, tenant, msg)
	if err != nil {
		return Reply{}, err
	}

	if desc.Filter.Protocol != nil && !anonymous {
		// Same chain shape as RecordsQuery: no record of its own to
		// prepend, the filter's parent anchors any of-rules.
		if err := h.authorizeRecordsAction(ctx, tenant, msg, recordAuthContext{
			Protocol:     desc.Filter.Protocol,
			ProtocolPath: desc.Filter.ProtocolPath,
			ParentId:     desc.Filter.ParentId,
			ContextId:    desc.Filter.ContextId,
			Recipient:    desc.Filter.Recipient,
			Schema:       desc.Filter.Schema,
			Candidate:    []protocol.Action{protocol.ActionSubscribe},
			IsWrite:      true,
		}); err != nil {
			return Reply{}, err
		}
	}

	filters := visibilityFilters(tenant, signer, anonymous, desc.Filter)
	sub := h.Stream.Subscribe(tenant, filters)

	recordMetric(tenant, string(message.InterfaceRecords), string(message.MethodSubscribe), 200)
	return Reply{Status: Status{Code: 200}, Subscription: &Subscription{ID: sub.ID(), Events: sub.Events(), Close: sub.Close}}, nil
}

// authenticateOptional runs authentication when the message carries a
// signature, and reports anonymous=true (skipping it) when it
// doesn't: RecordsQuery and RecordsSubscribe are the only operations
// an unauthenticated caller may invoke, restricted to published data.
func (h *Handlers) authenticateOptional(ctx context.Context, tenant string, msg message.Message) (signer string, anonymous bool, err error) {
	if msg.Authorization == nil || len(msg.Authorization.Signature.Signatures) == 0 {
		return "", true, nil
	}
	signer, err = h.authenticate(ctx, tenant, msg)
	return signer, false, err
}

// visibilityFilters expresses who may see which records as an
// OR-union of filters: the tenant sees everything; an anonymous caller
// sees only published records; an authenticated non-owner sees
// published records plus their own unpublished recipient/author
// records.
func visibilityFilters(tenant, signer string, anonymous bool, rf message.RecordsFilter) []index.Filter {
	base := index.Filter{
		message.IndexIsLatestBaseState: index.Equal(true),
	}
	if rf.RecordId != nil {
		base[message.IndexRecordId] = index.Equal(*rf.RecordId)
	}
	if rf.Protocol != nil {
		base[message.IndexProtocol] = index.Equal(*rf.Protocol)
	}
	if rf.ProtocolPath != nil {
		base[message.IndexProtocolPath] = index.Equal(*rf.ProtocolPath)
	}
	if rf.ContextId != nil {
		base[message.IndexContextId] = index.Equal(*rf.ContextId)
	}
	if rf.ParentId != nil {
		base[message.IndexParentId] = index.Equal(*rf.ParentId)
	}
	if rf.Schema != nil {
		base[message.IndexSchema] = index.Equal(*rf.Schema)
	}
	if rf.DataFormat != nil {
		base[message.IndexDataFormat] = index.Equal(*rf.DataFormat)
	}
	if rf.Published != nil {
		base[message.IndexPublished] = index.Equal(*rf.Published)
	}
	if rf.Recipient != nil {
		base[message.IndexRecipient] = index.Equal(*rf.Recipient)
	}

	if !anonymous && signer == tenant {
		return []index.Filter{base}
	}

	published := cloneFilter(base)
	published[message.IndexPublished] = index.Equal(true)

	if anonymous {
		return []index.Filter{published}
	}

	ownRecipient := cloneFilter(base)
	ownRecipient[message.IndexRecipient] = index.Equal(signer)

	ownAuthor := cloneFilter(base)
	ownAuthor[message.IndexAuthor] = index.Equal(signer)

	return []index.Filter{published, ownRecipient, ownAuthor}
}

func cloneFilter(f index.Filter) index.Filter {
	out := make(index.Filter, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	return out
}
