package handlers

import (
	"context"

	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
	"github.com/nodeledger/dwn-core/pkg/message"
	"github.com/nodeledger/dwn-core/pkg/protocol"
)

// RecordsRead fetches one record: authorize via owner/protocol/grant,
// then return the latest write — plus the initial write too, when it
// isn't the same message — together with a data stream from the blob
// store.
func (h *Handlers) RecordsRead(ctx context.Context, tenant string, msg message.Message) (Reply, error) {
	typed, err := msg.TypedDescriptor()
	if err != nil {
		return Reply{}, dwnerrors.Wrap(dwnerrors.CodeInvalidDescriptor, "decode RecordsRead descriptor", err)
	}
	desc, ok := typed.(message.RecordsReadDescriptor)
	if !ok {
		return Reply{}, dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "descriptor is not a RecordsRead")
	}
	if desc.Filter.RecordId == nil || *desc.Filter.RecordId == "" {
		return Reply{}, dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "filter.recordId is required")
	}
	recordId := *desc.Filter.RecordId

	if _, err := h.authenticate(ctx, tenant, msg); err != nil {
		return Reply{}, err
	}

	latestDesc, latestRec, ok, err := h.latestWrite(ctx, tenant, recordId)
	if err != nil {
		return Reply{}, err
	}
	if !ok {
		return Reply{}, dwnerrors.New(dwnerrors.CodeNotFound, "record not found")
	}

	if err := h.authorizeRecordsAction(ctx, tenant, msg, recordAuthContext{
		RecordId: recordId, ParentId: latestDesc.ParentId, ContextId: latestRec.Message.ContextId,
		Recipient: latestDesc.Recipient, Protocol: latestDesc.Protocol, ProtocolPath: latestDesc.ProtocolPath,
		Schema: latestDesc.Schema, Candidate: []protocol.Action{protocol.ActionRead},
	}); err != nil {
		return Reply{}, err
	}

	entries := []Entry{{Message: stripAuthorization(latestRec.Message)}}

	all, err := h.allWrites(ctx, tenant, recordId)
	if err != nil {
		return Reply{}, err
	}
	_, _, initialCid, haveInitial, err := findInitialWrite(all, recordId)
	if err != nil {
		return Reply{}, err
	}
	if haveInitial && initialCid != latestRec.Cid {
		for _, rec := range all {
			if rec.Cid == initialCid {
				entries = append([]Entry{{Message: stripAuthorization(rec.Message)}}, entries...)
				break
			}
		}
	}

	data, hasData, err := h.Blobs.Get(ctx, tenant, recordId, latestDesc.DataCid)
	if err != nil {
		return Reply{}, dwnerrors.Wrap(dwnerrors.CodeInternal, "fetch data", err)
	}
	if hasData {
		entries[len(entries)-1].Data = data
	}

	recordMetric(tenant, string(message.InterfaceRecords), string(message.MethodRead), 200)
	return Reply{Status: Status{Code: 200}, Entries: entries, Record: &entries[len(entries)-1]}, nil
}

