package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/nodeledger/dwn-core/pkg/authz"
	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/index"
	"github.com/nodeledger/dwn-core/pkg/log"
	"github.com/nodeledger/dwn-core/pkg/message"
	"github.com/nodeledger/dwn-core/pkg/messagestore"
	"github.com/nodeledger/dwn-core/pkg/metrics"
	"github.com/nodeledger/dwn-core/pkg/protocol"
)

// RecordsWrite ingests a write: structural validation, integrity
// checks against the record's prior writes, data persistence,
// authorization and conflict resolution, all under the per-(tenant,
// recordId) lock serializing this critical section.
func (h *Handlers) RecordsWrite(ctx context.Context, tenant string, msg message.Message, data io.Reader) (Reply, error) {
	typed, err := msg.TypedDescriptor()
	if err != nil {
		return Reply{}, dwnerrors.Wrap(dwnerrors.CodeInvalidDescriptor, "decode RecordsWrite descriptor", err)
	}
	desc, ok := typed.(message.RecordsWriteDescriptor)
	if !ok {
		return Reply{}, dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "descriptor is not a RecordsWrite")
	}

	if err := validateWriteShape(msg, desc, data); err != nil {
		return Reply{}, err
	}

	if _, err := h.authenticate(ctx, tenant, msg); err != nil {
		return Reply{}, err
	}

	recordId := msg.RecordId
	if recordId == "" {
		return Reply{}, dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "recordId is required")
	}

	unlock := h.locks.Lock(tenant, recordId)
	defer unlock()

	priorWrites, err := h.allWrites(ctx, tenant, recordId)
	if err != nil {
		return Reply{}, err
	}

	author, err := msg.Author()
	if err != nil {
		return Reply{}, err
	}
	descCid, err := msg.DescriptorCid()
	if err != nil {
		return Reply{}, err
	}
	incomingCid, err := msg.Cid()
	if err != nil {
		return Reply{}, err
	}

	initialDesc, initialAuthor, initialCid, haveInitial, err := findInitialWrite(priorWrites, recordId)
	if err != nil {
		return Reply{}, err
	}

	isInitialWrite := !haveInitial
	if isInitialWrite {
		entryId, err := message.EntryId(descCid.String(), author)
		if err != nil {
			return Reply{}, err
		}
		if entryId != recordId {
			return Reply{}, dwnerrors.New(dwnerrors.CodeRecordIdMismatch, "recordId is not deterministic from descriptorCid and author")
		}
		initialDesc, initialAuthor, initialCid = desc, author, incomingCid.String()
	} else if err := checkImmutableProperties(initialDesc, desc); err != nil {
		return Reply{}, err
	}

	if desc.Protocol != nil {
		wantContextId, err := h.expectedContextId(ctx, tenant, desc, recordId)
		if err != nil {
			return Reply{}, err
		}
		if msg.ContextId == nil || *msg.ContextId != wantContextId {
			return Reply{}, dwnerrors.New(dwnerrors.CodeContextIdMismatch, "contextId is not deterministic from parent and recordId")
		}
	}

	if err := h.persistData(ctx, tenant, recordId, desc, msg, data, priorWrites); err != nil {
		return Reply{}, err
	}

	candidate := writeCandidateActions(isInitialWrite, author, initialAuthor)
	if err := h.authorizeRecordsAction(ctx, tenant, msg, recordAuthContext{
		RecordId: recordId, ParentId: desc.ParentId, ContextId: msg.ContextId, Recipient: desc.Recipient,
		Protocol: desc.Protocol, ProtocolPath: desc.ProtocolPath, Schema: desc.Schema, Candidate: candidate, IsWrite: true,
	}); err != nil {
		metrics.AuthorizationDenialsTotal.WithLabelValues(string(codeOf(err))).Inc()
		return Reply{}, err
	}

	if desc.Protocol != nil {
		if err := h.Authz.ValidateWritePreconditions(ctx, authz.WritePreconditions{
			Tenant:       tenant,
			Protocol:     derefStr(desc.Protocol),
			ProtocolPath: derefStr(desc.ProtocolPath),
			ParentId:     desc.ParentId,
			ContextId:    msg.ContextId,
			Recipient:    desc.Recipient,
			DataFormat:   desc.DataFormat,
			DataSize:     desc.DataSize,
		}); err != nil {
			return Reply{}, err
		}
	}

	if haveInitial {
		currentDesc, currentCid, err := pickNewest(priorWrites)
		if err != nil {
			return Reply{}, err
		}
		if !writeWins(desc.MessageTimestamp, currentDesc.MessageTimestamp, incomingCid.String(), currentCid) {
			metrics.RecordsWriteConflictsTotal.WithLabelValues(tenant).Inc()
			log.WithMessageCID(incomingCid.String()).WithTenant(tenant).
				Debug().Str("recordId", recordId).Str("currentCid", currentCid).
				Msg("conflict: incoming write is not newer than the current latest")
			return Reply{}, dwnerrors.New(dwnerrors.CodeConflict, "a newer or tied-with-larger-cid write already exists for this record")
		}
	}

	entries := writeIndexes(tenant, msg, desc, recordId, author, true, isInitialWrite)
	if _, err := h.Messages.Put(ctx, tenant, msg, entries); err != nil {
		return Reply{}, dwnerrors.Wrap(dwnerrors.CodeInternal, "persist write", err)
	}

	var toDeleteCids []string
	for _, rec := range priorWrites {
		// Re-submitting the current latest write is idempotent: the
		// store already holds it, and it must not be swept up with the
		// superseded writes.
		if rec.Cid == incomingCid.String() {
			continue
		}
		if rec.Cid == initialCid {
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
		log.WithMessageCID(incomingCid.String()).WithTenant(tenant).
			Info().Str("recordId", recordId).Int("superseded", len(toDeleteCids)).
			Msg("conflict resolved: prior writes superseded")
	}

	if _, err := h.EventLog.Append(ctx, tenant, incomingCid.String(), entries); err != nil {
		return Reply{}, dwnerrors.Wrap(dwnerrors.CodeInternal, "append event log", err)
	}
	if h.Stream != nil {
		if err := h.Stream.Emit(ctx, tenant, incomingCid.String(), entries); err != nil {
			return Reply{}, err
		}
	}

	recordMetric(tenant, string(message.InterfaceRecords), string(message.MethodWrite), 202)
	return okReply(202), nil
}

func validateWriteShape(msg message.Message, desc message.RecordsWriteDescriptor, data io.Reader) error {
	if msg.EncodedData != nil && data != nil {
		return dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "a write may carry encodedData or a data stream, not both")
	}
	if desc.DataCid == "" {
		return dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "dataCid is required")
	}
	if (desc.Protocol != nil) != (desc.ProtocolPath != nil) {
		return dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "protocol and protocolPath must be specified together")
	}
	if desc.ParentId != nil && *desc.ParentId != "" && (msg.ContextId == nil || *msg.ContextId == "") {
		return dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "a write with a parentId must declare a contextId")
	}
	if desc.Protocol != nil && !protocol.IsNormalizedURL(*desc.Protocol) {
		return dwnerrors.New(dwnerrors.CodeUrlProtocolNotNormalized, fmt.Sprintf("protocol %q is not normalized", *desc.Protocol))
	}
	if desc.Schema != nil && !protocol.IsNormalizedURL(*desc.Schema) {
		return dwnerrors.New(dwnerrors.CodeUrlSchemaNotNormalized, fmt.Sprintf("schema %q is not normalized", *desc.Schema))
	}
	return nil
}

// checkImmutableProperties enforces that the properties every
// subsequent write must agree with the initial write on haven't
// changed.
func checkImmutableProperties(initial, incoming message.RecordsWriteDescriptor) error {
	switch {
	case initial.DateCreated != incoming.DateCreated:
		return dwnerrors.New(dwnerrors.CodeImmutablePropertyChanged, "dateCreated may not change across writes")
	case !strPtrEqual(initial.Schema, incoming.Schema):
		return dwnerrors.New(dwnerrors.CodeImmutablePropertyChanged, "schema may not change across writes")
	case !strPtrEqual(initial.Protocol, incoming.Protocol):
		return dwnerrors.New(dwnerrors.CodeImmutablePropertyChanged, "protocol may not change across writes")
	case !strPtrEqual(initial.ProtocolPath, incoming.ProtocolPath):
		return dwnerrors.New(dwnerrors.CodeImmutablePropertyChanged, "protocolPath may not change across writes")
	case !strPtrEqual(initial.Recipient, incoming.Recipient):
		return dwnerrors.New(dwnerrors.CodeImmutablePropertyChanged, "recipient may not change across writes")
	case !strPtrEqual(initial.ParentId, incoming.ParentId):
		return dwnerrors.New(dwnerrors.CodeImmutablePropertyChanged, "parentId may not change across writes")
	}
	return nil
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// findInitialWrite locates, among a record's prior writes, the one
// whose descriptorCid+author is deterministically equal to recordId —
// the structural definition of "the initial write", independent of
// storage order.
func findInitialWrite(priorWrites []messagestore.Record, recordId string) (message.RecordsWriteDescriptor, string, string, bool, error) {
	for _, rec := range priorWrites {
		typed, err := rec.Message.TypedDescriptor()
		if err != nil {
			return message.RecordsWriteDescriptor{}, "", "", false, err
		}
		d, ok := typed.(message.RecordsWriteDescriptor)
		if !ok {
			continue
		}
		a, err := rec.Message.Author()
		if err != nil {
			return message.RecordsWriteDescriptor{}, "", "", false, err
		}
		descCid, err := rec.Message.DescriptorCid()
		if err != nil {
			return message.RecordsWriteDescriptor{}, "", "", false, err
		}
		entryId, err := message.EntryId(descCid.String(), a)
		if err != nil {
			return message.RecordsWriteDescriptor{}, "", "", false, err
		}
		if entryId == recordId {
			return d, a, rec.Cid, true, nil
		}
	}
	return message.RecordsWriteDescriptor{}, "", "", false, nil
}

func writeCandidateActions(isInitialWrite bool, author, initialAuthor string) []protocol.Action {
	if isInitialWrite {
		return []protocol.Action{protocol.ActionCreate}
	}
	if author == initialAuthor {
		return []protocol.Action{protocol.ActionCreate, protocol.ActionUpdate}
	}
	return []protocol.Action{protocol.ActionUpdate}
}

// expectedContextId computes the deterministic contextId a protocol
// record must declare: its own recordId at the root of a protocol
// tree, or the parent's contextId with recordId appended.
func (h *Handlers) expectedContextId(ctx context.Context, tenant string, desc message.RecordsWriteDescriptor, recordId string) (string, error) {
	if desc.ParentId == nil || *desc.ParentId == "" {
		return message.ContextIdFor(nil, recordId), nil
	}
	_, parentRec, ok, err := h.latestWrite(ctx, tenant, *desc.ParentId)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", dwnerrors.New(dwnerrors.CodeParentNotFound, fmt.Sprintf("parent %q not found", *desc.ParentId))
	}
	return message.ContextIdFor(parentRec.Message.ContextId, recordId), nil
}

// allWrites returns every RecordsWrite message stored for recordId,
// regardless of isLatestBaseState — conflict resolution and
// initial-write detection both need the full set, not just the
// current latest.
func (h *Handlers) allWrites(ctx context.Context, tenant, recordId string) ([]messagestore.Record, error) {
	return h.Messages.Query(ctx, tenant, []index.Filter{{
		message.IndexRecordId:  index.Equal(recordId),
		message.IndexInterface: index.Equal(string(message.InterfaceRecords)),
		message.IndexMethod:    index.Equal(string(message.MethodWrite)),
	}}, messagestore.SortOptions{Property: message.IndexMessageTimestamp, Direction: index.Descending}, messagestore.Pagination{})
}

// latestWrite returns the record's current isLatestBaseState write.
func (h *Handlers) latestWrite(ctx context.Context, tenant, recordId string) (message.RecordsWriteDescriptor, messagestore.Record, bool, error) {
	recs, err := h.Messages.Query(ctx, tenant, []index.Filter{{
		message.IndexRecordId:          index.Equal(recordId),
		message.IndexIsLatestBaseState: index.Equal(true),
	}}, messagestore.SortOptions{Property: message.IndexMessageTimestamp, Direction: index.Descending}, messagestore.Pagination{Limit: 1})
	if err != nil {
		return message.RecordsWriteDescriptor{}, messagestore.Record{}, false, err
	}
	if len(recs) == 0 {
		return message.RecordsWriteDescriptor{}, messagestore.Record{}, false, nil
	}
	typed, err := recs[0].Message.TypedDescriptor()
	if err != nil {
		return message.RecordsWriteDescriptor{}, messagestore.Record{}, false, err
	}
	desc, ok := typed.(message.RecordsWriteDescriptor)
	if !ok {
		return message.RecordsWriteDescriptor{}, messagestore.Record{}, false, fmt.Errorf("handlers: record %q latest write is not a RecordsWrite", recordId)
	}
	return desc, recs[0], true, nil
}

// writeWins reports whether an incoming write at (incomingTs,
// incomingCid) supersedes the current newest at (currentTs,
// currentCid): later timestamp wins; on a
// timestamp tie, the lexicographically larger messageCid wins.
func writeWins(incomingTs, currentTs envelope.Timestamp, incomingCid, currentCid string) bool {
	switch incomingTs.Compare(currentTs) {
	case 1:
		return true
	case -1:
		return false
	default:
		return incomingCid >= currentCid
	}
}

// pickNewest finds the current newest write among a record's prior
// writes by the same (messageTimestamp, messageCid) tie-break
// writeWins applies, independent of the order the store returned
// them in.
func pickNewest(priorWrites []messagestore.Record) (message.RecordsWriteDescriptor, string, error) {
	var bestDesc message.RecordsWriteDescriptor
	var bestCid string
	set := false
	for _, rec := range priorWrites {
		typed, err := rec.Message.TypedDescriptor()
		if err != nil {
			return message.RecordsWriteDescriptor{}, "", err
		}
		d, ok := typed.(message.RecordsWriteDescriptor)
		if !ok {
			continue
		}
		if !set || writeWins(d.MessageTimestamp, bestDesc.MessageTimestamp, rec.Cid, bestCid) {
			bestDesc, bestCid, set = d, rec.Cid, true
		}
	}
	return bestDesc, bestCid, nil
}

// persistData streams data into the blob store and
// verify it against the descriptor's claims, decode inline
// encodedData and verify it the same way, or require the dataCid to
// already be linked to this record from a prior write.
func (h *Handlers) persistData(ctx context.Context, tenant, recordId string, desc message.RecordsWriteDescriptor, msg message.Message, data io.Reader, priorWrites []messagestore.Record) error {
	if data != nil {
		computedCid, size, err := h.Blobs.Put(ctx, tenant, recordId, desc.DataCid, data)
		if err != nil {
			return dwnerrors.Wrap(dwnerrors.CodeInternal, "store data", err)
		}
		if computedCid != desc.DataCid {
			return dwnerrors.New(dwnerrors.CodeDataCidMismatch, fmt.Sprintf("computed dataCid %q does not match descriptor %q", computedCid, desc.DataCid))
		}
		if size != desc.DataSize {
			return dwnerrors.New(dwnerrors.CodeDataSizeMismatch, fmt.Sprintf("computed dataSize %d does not match descriptor %d", size, desc.DataSize))
		}
		return nil
	}

	if msg.EncodedData != nil {
		raw, err := base64.RawURLEncoding.DecodeString(*msg.EncodedData)
		if err != nil {
			return dwnerrors.Wrap(dwnerrors.CodeInvalidDescriptor, "decode encodedData", err)
		}
		computed, err := envelope.ComputeCID(raw)
		if err != nil {
			return dwnerrors.Wrap(dwnerrors.CodeInternal, "hash encodedData", err)
		}
		if computed.String() != desc.DataCid {
			return dwnerrors.New(dwnerrors.CodeDataCidMismatch, fmt.Sprintf("computed dataCid %q does not match descriptor %q", computed.String(), desc.DataCid))
		}
		if int64(len(raw)) != desc.DataSize {
			return dwnerrors.New(dwnerrors.CodeDataSizeMismatch, fmt.Sprintf("computed dataSize %d does not match descriptor %d", len(raw), desc.DataSize))
		}
		if _, _, err := h.Blobs.Put(ctx, tenant, recordId, desc.DataCid, bytes.NewReader(raw)); err != nil {
			return dwnerrors.Wrap(dwnerrors.CodeInternal, "store encodedData", err)
		}
		return nil
	}

	for _, rec := range priorWrites {
		typed, err := rec.Message.TypedDescriptor()
		if err != nil {
			continue
		}
		if d, ok := typed.(message.RecordsWriteDescriptor); ok && d.DataCid == desc.DataCid {
			return nil
		}
	}
	return dwnerrors.New(dwnerrors.CodeMissingDataInPrevious, "dataCid does not match any prior write and no data was provided")
}

func writeIndexes(tenant string, msg message.Message, desc message.RecordsWriteDescriptor, recordId, author string, isLatest, isInitial bool) map[string]any {
	idx := map[string]any{
		message.IndexInterface:        string(message.InterfaceRecords),
		message.IndexMethod:           string(message.MethodWrite),
		message.IndexRecordId:         recordId,
		message.IndexAuthor:           author,
		message.IndexDataFormat:       desc.DataFormat,
		message.IndexDataCid:          desc.DataCid,
		message.IndexDataSize:         desc.DataSize,
		message.IndexMessageTimestamp: string(desc.MessageTimestamp),
		message.IndexDateCreated:      string(desc.DateCreated),
		message.IndexIsLatestBaseState: isLatest,
		message.IndexIsInitialWrite:    isInitial,
	}
	if desc.Protocol != nil {
		idx[message.IndexProtocol] = *desc.Protocol
	}
	if desc.ProtocolPath != nil {
		idx[message.IndexProtocolPath] = *desc.ProtocolPath
	}
	if desc.Schema != nil {
		idx[message.IndexSchema] = *desc.Schema
	}
	if desc.Recipient != nil {
		idx[message.IndexRecipient] = *desc.Recipient
	}
	if desc.ParentId != nil {
		idx[message.IndexParentId] = *desc.ParentId
	}
	if msg.ContextId != nil {
		idx[message.IndexContextId] = *msg.ContextId
	}
	if desc.Published != nil {
		idx[message.IndexPublished] = *desc.Published
	}
	if desc.DatePublished != nil {
		idx[message.IndexDatePublished] = string(*desc.DatePublished)
	}
	return idx
}

// reindexAsSuperseded rebuilds rec's index entries with
// isLatestBaseState flipped to false, leaving every other property
// (including isInitialWrite, which is true for this record by
// construction — it's only reindexed instead of deleted because it's
// the initial write) unchanged.
func reindexAsSuperseded(rec messagestore.Record, tenant string) (map[string]any, error) {
	typed, err := rec.Message.TypedDescriptor()
	if err != nil {
		return nil, err
	}
	desc, ok := typed.(message.RecordsWriteDescriptor)
	if !ok {
		return nil, fmt.Errorf("handlers: %q is not a RecordsWrite", rec.Cid)
	}
	author, err := rec.Message.Author()
	if err != nil {
		return nil, err
	}
	return writeIndexes(tenant, rec.Message, desc, rec.Message.RecordId, author, false, true), nil
}

func codeOf(err error) dwnerrors.Code {
	if e, ok := dwnerrors.As(err); ok {
		return e.Code
	}
	return dwnerrors.CodeInternal
}
