package handlers_test

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodeledger/dwn-core/pkg/didtest"
	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/handlers"
	"github.com/nodeledger/dwn-core/pkg/message"
)

// buildSubsequentWrite constructs (but does not submit) a write message
// targeting an already-assigned recordId, the shape a RecordsWrite
// update takes once the record's initial write has been accepted: the
// recordId is inherited rather than derived from this message's own
// descriptor.
func buildSubsequentWrite(t *testing.T, signer *didtest.Signer, recordId string, messageTimestamp, dateCreated envelope.Timestamp, payload []byte) message.Message {
	t.Helper()

	desc := message.RecordsWriteDescriptor{DateCreated: dateCreated, DataFormat: "application/json"}
	desc.Interface = message.InterfaceRecords
	desc.Method = message.MethodWrite
	desc.MessageTimestamp = messageTimestamp

	cid, err := envelope.ComputeCID(payload)
	require.NoError(t, err)
	desc.DataCid = cid.String()
	desc.DataSize = int64(len(payload))

	descMap, err := message.ToDescriptorMap(desc)
	require.NoError(t, err)

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	msg := message.Message{Descriptor: descMap, RecordId: recordId, EncodedData: &encoded}
	require.NoError(t, signer.AuthorizeMessage(&msg, message.SignaturePayload{RecordId: recordId}))
	return msg
}

func submitWrite(t *testing.T, h *harness, tenant string, msg message.Message) (handlers.Reply, error) {
	t.Helper()
	return h.Handlers.RecordsWrite(context.Background(), tenant, msg, nil)
}

func codeOf(t *testing.T, err error) dwnerrors.Code {
	t.Helper()
	e, ok := dwnerrors.As(err)
	require.True(t, ok, "expected a classified error, got %v", err)
	return e.Code
}

// TestRecordsWriteOverwriteSupersedesPriorAndRejectsStale puts W1,
// then W2 for the same record; the latest read
// reflects W2, and resubmitting the now-stale W1 fails with a
// conflict.
func TestRecordsWriteOverwriteSupersedesPriorAndRejectsStale(t *testing.T) {
	h := newHarness(t)
	tenant := "did:test:tenant"
	owner, err := didtest.NewSigner(h.Registry, tenant)
	require.NoError(t, err)

	t1 := envelope.Timestamp("2024-01-01T00:00:00.000000Z")
	t2 := envelope.Timestamp("2024-01-02T00:00:00.000000Z")

	initial := message.RecordsWriteDescriptor{}
	initial.MessageTimestamp = t1
	w1, recordId := writeRecord(t, h, tenant, owner, initial, nil, []byte(`{"v":1}`))
	require.Equal(t, 202, w1.Status.Code)

	w2 := buildSubsequentWrite(t, owner, recordId, t2, t1, []byte(`{"v":2}`))
	reply, err := submitWrite(t, h, tenant, w2)
	require.NoError(t, err)
	require.Equal(t, 202, reply.Status.Code)

	readDesc := message.RecordsReadDescriptor{Filter: message.RecordsFilter{RecordId: &recordId}}
	readDesc.Interface = message.InterfaceRecords
	readDesc.Method = message.MethodRead
	readDesc.MessageTimestamp = envelope.Now()
	readDescMap, err := message.ToDescriptorMap(readDesc)
	require.NoError(t, err)
	readMsg := message.Message{Descriptor: readDescMap}
	require.NoError(t, owner.AuthorizeMessage(&readMsg, message.SignaturePayload{}))

	readReply, err := h.Handlers.RecordsRead(context.Background(), tenant, readMsg)
	require.NoError(t, err)
	require.Equal(t, 200, readReply.Status.Code)
	latest, err := readReply.Record.Message.TypedDescriptor()
	require.NoError(t, err)
	require.Equal(t, t2, latest.GetMessageTimestamp())

	// Resubmitting the original, now-superseded write must be rejected;
	// the latest write must still be W2.
	w1Resubmit := buildSubsequentWrite(t, owner, recordId, t1, t1, []byte(`{"v":1}`))
	_, err = submitWrite(t, h, tenant, w1Resubmit)
	require.Error(t, err)
	require.Equal(t, dwnerrors.CodeConflict, codeOf(t, err))

	readReply, err = h.Handlers.RecordsRead(context.Background(), tenant, readMsg)
	require.NoError(t, err)
	latest, err = readReply.Record.Message.TypedDescriptor()
	require.NoError(t, err)
	require.Equal(t, t2, latest.GetMessageTimestamp())
}

// TestRecordsWriteLexicographicTieBreak checks that two
// updates to the same record sharing a messageTimestamp are resolved
// by messageCid, larger wins.
func TestRecordsWriteLexicographicTieBreak(t *testing.T) {
	h := newHarness(t)
	tenant := "did:test:tenant"
	owner, err := didtest.NewSigner(h.Registry, tenant)
	require.NoError(t, err)

	t0 := envelope.Timestamp("2024-01-01T00:00:00.000000Z")
	tie := envelope.Timestamp("2024-01-02T00:00:00.000000Z")

	initial := message.RecordsWriteDescriptor{}
	initial.MessageTimestamp = t0
	_, recordId := writeRecord(t, h, tenant, owner, initial, nil, []byte(`{"v":0}`))

	a := buildSubsequentWrite(t, owner, recordId, tie, t0, []byte(`{"v":"a"}`))
	b := buildSubsequentWrite(t, owner, recordId, tie, t0, []byte(`{"v":"b"}`))

	aCid, err := a.Cid()
	require.NoError(t, err)
	bCid, err := b.Cid()
	require.NoError(t, err)
	require.NotEqual(t, aCid.String(), bCid.String(), "test fixtures must hash to distinct cids")

	winner, loser := a, b
	if bCid.String() > aCid.String() {
		winner, loser = b, a
	}

	reply, err := submitWrite(t, h, tenant, winner)
	require.NoError(t, err)
	require.Equal(t, 202, reply.Status.Code)

	_, err = submitWrite(t, h, tenant, loser)
	require.Error(t, err)
	require.Equal(t, dwnerrors.CodeConflict, codeOf(t, err))
}
