package handlers

import (
	"context"

	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
	"github.com/nodeledger/dwn-core/pkg/message"
	"github.com/nodeledger/dwn-core/pkg/messagestore"
	"github.com/nodeledger/dwn-core/pkg/protocol"
)

// RecordsDelete tombstones a record: locate its latest write,
// authorize the delete action against it, persist the tombstone,
// purge every prior write's indexes except the initial write's,
// reclaim the record's blobs, and emit the event. Runs under the same
// per-(tenant,recordId) lock as RecordsWrite.
func (h *Handlers) RecordsDelete(ctx context.Context, tenant string, msg message.Message) (Reply, error) {
	typed, err := msg.TypedDescriptor()
	if err != nil {
		return Reply{}, dwnerrors.Wrap(dwnerrors.CodeInvalidDescriptor, "decode RecordsDelete descriptor", err)
	}
	desc, ok := typed.(message.RecordsDeleteDescriptor)
	if !ok {
		return Reply{}, dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "descriptor is not a RecordsDelete")
	}
	if desc.RecordId == "" {
		return Reply{}, dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "recordId is required")
	}

	if _, err := h.authenticate(ctx, tenant, msg); err != nil {
		return Reply{}, err
	}

	unlock := h.locks.Lock(tenant, desc.RecordId)
	defer unlock()

	latestDesc, latestRec, ok, err := h.latestWrite(ctx, tenant, desc.RecordId)
	if err != nil {
		return Reply{}, err
	}
	if !ok {
		return Reply{}, dwnerrors.New(dwnerrors.CodeGetInitialWriteNotFound, "no latest write found for record")
	}

	if err := h.authorizeRecordsAction(ctx, tenant, msg, recordAuthContext{
		RecordId: desc.RecordId, ParentId: latestDesc.ParentId, ContextId: latestRec.Message.ContextId,
		Recipient: latestDesc.Recipient, Protocol: latestDesc.Protocol, ProtocolPath: latestDesc.ProtocolPath,
		Schema: latestDesc.Schema, Candidate: []protocol.Action{protocol.ActionDelete},
	}); err != nil {
		return Reply{}, err
	}

	incomingCid, err := msg.Cid()
	if err != nil {
		return Reply{}, err
	}

	priorWrites, err := h.allWrites(ctx, tenant, desc.RecordId)
	if err != nil {
		return Reply{}, err
	}
	_, _, initialCid, haveInitial, err := findInitialWrite(priorWrites, desc.RecordId)
	if err != nil {
		return Reply{}, err
	}

	entries := deleteIndexes(tenant, desc.RecordId, latestDesc, latestRec.Message)
	if _, err := h.Messages.Put(ctx, tenant, msg, entries); err != nil {
		return Reply{}, dwnerrors.Wrap(dwnerrors.CodeInternal, "persist delete", err)
	}

	var toDeleteCids []string
	seenDataCids := map[string]bool{}
	for _, rec := range priorWrites {
		if writeDesc, ok, err := recordWriteDescriptor(rec); err != nil {
			return Reply{}, err
		} else if ok && !seenDataCids[writeDesc.DataCid] {
			seenDataCids[writeDesc.DataCid] = true
			if err := h.Blobs.Delete(ctx, tenant, desc.RecordId, writeDesc.DataCid); err != nil {
				return Reply{}, dwnerrors.Wrap(dwnerrors.CodeInternal, "reclaim blob", err)
			}
		}

		if haveInitial && rec.Cid == initialCid {
			reindexed, err := reindexAsSuperseded(rec, tenant)
			if err != nil {
				return Reply{}, err
			}
			if err := h.Messages.Reindex(ctx, tenant, rec.Cid, reindexed); err != nil {
				return Reply{}, err
			}
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

	recordMetric(tenant, string(message.InterfaceRecords), string(message.MethodDelete), 202)
	return okReply(202), nil
}

// recordWriteDescriptor decodes rec's typed descriptor as a
// RecordsWriteDescriptor, reporting ok=false (not an error) for a
// record that happens not to be a write.
func recordWriteDescriptor(rec messagestore.Record) (message.RecordsWriteDescriptor, bool, error) {
	typed, err := rec.Message.TypedDescriptor()
	if err != nil {
		return message.RecordsWriteDescriptor{}, false, err
	}
	d, ok := typed.(message.RecordsWriteDescriptor)
	return d, ok, nil
}

// deleteIndexes builds the tombstone's own index entries, carrying
// over the protocol/path/recipient facts from the record's latest
// write so a RecordsSubscribe/MessagesSubscribe watching this
// protocol path still observes the deletion.
func deleteIndexes(tenant, recordId string, latest message.RecordsWriteDescriptor, latestMsg message.Message) map[string]any {
	idx := map[string]any{
		message.IndexInterface:         string(message.InterfaceRecords),
		message.IndexMethod:            string(message.MethodDelete),
		message.IndexRecordId:          recordId,
		message.IndexIsLatestBaseState: false,
	}
	if latest.Protocol != nil {
		idx[message.IndexProtocol] = *latest.Protocol
	}
	if latest.ProtocolPath != nil {
		idx[message.IndexProtocolPath] = *latest.ProtocolPath
	}
	if latest.Recipient != nil {
		idx[message.IndexRecipient] = *latest.Recipient
	}
	if latest.ParentId != nil {
		idx[message.IndexParentId] = *latest.ParentId
	}
	if latestMsg.ContextId != nil {
		idx[message.IndexContextId] = *latestMsg.ContextId
	}
	return idx
}
