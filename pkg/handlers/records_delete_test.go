package handlers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodeledger/dwn-core/pkg/didtest"
	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/message"
)

func TestRecordsDeleteTombstonesLatestWrite(t *testing.T) {
	h := newHarness(t)
	tenant := "did:test:tenant"
	owner, err := didtest.NewSigner(h.Registry, tenant)
	require.NoError(t, err)

	_, recordId := writeRecord(t, h, tenant, owner, message.RecordsWriteDescriptor{}, nil, []byte(`{"hello":"world"}`))

	desc := message.RecordsDeleteDescriptor{RecordId: recordId}
	desc.Interface = message.InterfaceRecords
	desc.Method = message.MethodDelete
	desc.MessageTimestamp = envelope.Now()

	descMap, err := message.ToDescriptorMap(desc)
	require.NoError(t, err)
	msg := message.Message{Descriptor: descMap}
	require.NoError(t, owner.AuthorizeMessage(&msg, message.SignaturePayload{}))

	reply, err := h.Handlers.RecordsDelete(context.Background(), tenant, msg)
	require.NoError(t, err)
	require.Equal(t, 202, reply.Status.Code)

	dataCid, err := envelope.ComputeCID([]byte(`{"hello":"world"}`))
	require.NoError(t, err)
	_, ok, err := h.Handlers.Blobs.Get(context.Background(), tenant, recordId, dataCid.String())
	require.NoError(t, err)
	require.False(t, ok, "blob should have been reclaimed on delete")

	// A fresh write referencing the same dataCid must arrive with its
	// data: a write without data is accepted only when a prior write of
	// the same record already links that dataCid.
	rewrite := message.RecordsWriteDescriptor{DataFormat: "application/json"}
	rewrite.Interface = message.InterfaceRecords
	rewrite.Method = message.MethodWrite
	rewrite.MessageTimestamp = envelope.Now()
	rewrite.DateCreated = rewrite.MessageTimestamp
	rewrite.DataCid = dataCid.String()
	rewrite.DataSize = int64(len(`{"hello":"world"}`))

	rewriteMap, err := message.ToDescriptorMap(rewrite)
	require.NoError(t, err)
	rewriteDescCid, err := envelope.CIDOf(rewriteMap)
	require.NoError(t, err)
	rewriteId, err := message.EntryId(rewriteDescCid.String(), owner.DID)
	require.NoError(t, err)
	rewriteMsg := message.Message{Descriptor: rewriteMap, RecordId: rewriteId}
	require.NoError(t, owner.AuthorizeMessage(&rewriteMsg, message.SignaturePayload{RecordId: rewriteId}))

	_, err = h.Handlers.RecordsWrite(context.Background(), tenant, rewriteMsg, nil)
	require.Error(t, err)
	e, asOk := dwnerrors.As(err)
	require.True(t, asOk)
	require.Equal(t, dwnerrors.CodeMissingDataInPrevious, e.Code)
}

func TestRecordsDeleteRejectsUnknownRecord(t *testing.T) {
	h := newHarness(t)
	tenant := "did:test:tenant"
	owner, err := didtest.NewSigner(h.Registry, tenant)
	require.NoError(t, err)

	desc := message.RecordsDeleteDescriptor{RecordId: "does-not-exist"}
	desc.Interface = message.InterfaceRecords
	desc.Method = message.MethodDelete
	desc.MessageTimestamp = envelope.Now()

	descMap, err := message.ToDescriptorMap(desc)
	require.NoError(t, err)
	msg := message.Message{Descriptor: descMap}
	require.NoError(t, owner.AuthorizeMessage(&msg, message.SignaturePayload{}))

	_, err = h.Handlers.RecordsDelete(context.Background(), tenant, msg)
	require.Error(t, err)
}

func TestRecordsDeleteRejectsNonOwnerWithoutProtocol(t *testing.T) {
	h := newHarness(t)
	tenant := "did:test:tenant"
	owner, err := didtest.NewSigner(h.Registry, tenant)
	require.NoError(t, err)
	stranger, err := didtest.NewSigner(h.Registry, "did:test:stranger")
	require.NoError(t, err)

	_, recordId := writeRecord(t, h, tenant, owner, message.RecordsWriteDescriptor{}, nil, []byte(`{}`))

	desc := message.RecordsDeleteDescriptor{RecordId: recordId}
	desc.Interface = message.InterfaceRecords
	desc.Method = message.MethodDelete
	desc.MessageTimestamp = envelope.Now()

	descMap, err := message.ToDescriptorMap(desc)
	require.NoError(t, err)
	msg := message.Message{Descriptor: descMap}
	require.NoError(t, stranger.AuthorizeMessage(&msg, message.SignaturePayload{}))

	_, err = h.Handlers.RecordsDelete(context.Background(), tenant, msg)
	require.Error(t, err)
}
