package handlers_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodeledger/dwn-core/pkg/didtest"
	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/index"
	"github.com/nodeledger/dwn-core/pkg/message"
	"github.com/nodeledger/dwn-core/pkg/messagestore"
)

func buildMessagesGetMsg(t *testing.T, signer *didtest.Signer, cids []string, extra message.SignaturePayload) message.Message {
	t.Helper()
	desc := message.MessagesGetDescriptor{MessageCids: cids}
	desc.Interface = message.InterfaceMessages
	desc.Method = message.MethodGet
	desc.MessageTimestamp = envelope.Now()

	descMap, err := message.ToDescriptorMap(desc)
	require.NoError(t, err)
	msg := message.Message{Descriptor: descMap}
	require.NoError(t, signer.AuthorizeMessage(&msg, extra))
	return msg
}

func buildMessagesSubscribeMsg(t *testing.T, signer *didtest.Signer, filters []message.MessagesFilter) message.Message {
	t.Helper()
	desc := message.MessagesSubscribeDescriptor{Filters: filters}
	desc.Interface = message.InterfaceMessages
	desc.Method = message.MethodSubscribe
	desc.MessageTimestamp = envelope.Now()

	descMap, err := message.ToDescriptorMap(desc)
	require.NoError(t, err)
	msg := message.Message{Descriptor: descMap}
	require.NoError(t, signer.AuthorizeMessage(&msg, message.SignaturePayload{}))
	return msg
}

// storedCidForRecord resolves the messageCid of a record's latest
// write through the message store, the way a client holding only the
// recordId would via a query.
func storedCidForRecord(t *testing.T, h *harness, tenant, recordId string) string {
	t.Helper()
	records, err := h.Handlers.Messages.Query(context.Background(), tenant,
		[]index.Filter{{message.IndexRecordId: index.Equal(recordId)}},
		messagestore.SortOptions{Property: message.IndexMessageTimestamp},
		messagestore.Pagination{Limit: 1})
	require.NoError(t, err)
	require.Len(t, records, 1)
	return records[0].Cid
}

// TestMessagesGetReturnsStoredMessage checks that the tenant can fetch
// a persisted message by CID, unknown CIDs are silently skipped, and
// returned entries carry no authorization.
func TestMessagesGetReturnsStoredMessage(t *testing.T) {
	h := newHarness(t)
	tenant := "did:test:tenant"
	owner, err := didtest.NewSigner(h.Registry, tenant)
	require.NoError(t, err)

	reply, recordId := writeRecord(t, h, tenant, owner, message.RecordsWriteDescriptor{}, nil, []byte(`{"x":1}`))
	require.Equal(t, 202, reply.Status.Code)
	cid := storedCidForRecord(t, h, tenant, recordId)

	getReply, err := h.Handlers.MessagesGet(context.Background(), tenant,
		buildMessagesGetMsg(t, owner, []string{cid, "unknown-cid"}, message.SignaturePayload{}))
	require.NoError(t, err)
	require.Equal(t, 200, getReply.Status.Code)
	require.Len(t, getReply.Entries, 1)
	require.Equal(t, recordId, getReply.Entries[0].Message.RecordId)
	require.Nil(t, getReply.Entries[0].Message.Authorization)
}

// TestMessagesGetNonOwnerRequiresGrant checks that a foreign caller
// without a permissions grant is rejected.
func TestMessagesGetNonOwnerRequiresGrant(t *testing.T) {
	h := newHarness(t)
	tenant := "did:test:tenant"
	owner, err := didtest.NewSigner(h.Registry, tenant)
	require.NoError(t, err)
	alice, err := didtest.NewSigner(h.Registry, "did:test:alice")
	require.NoError(t, err)

	reply, recordId := writeRecord(t, h, tenant, owner, message.RecordsWriteDescriptor{}, nil, []byte(`{}`))
	require.Equal(t, 202, reply.Status.Code)
	cid := storedCidForRecord(t, h, tenant, recordId)

	_, err = h.Handlers.MessagesGet(context.Background(), tenant,
		buildMessagesGetMsg(t, alice, []string{cid}, message.SignaturePayload{}))
	require.Error(t, err)
	e, ok := dwnerrors.As(err)
	require.True(t, ok)
	require.Equal(t, dwnerrors.CodeUnauthorized, e.Code)
	require.Equal(t, 401, e.Code.HTTPStatus())
}

// TestMessagesSubscribeOwnerOnly checks that only the tenant may open
// a messages stream.
func TestMessagesSubscribeOwnerOnly(t *testing.T) {
	h := newHarness(t)
	tenant := "did:test:tenant"
	_, err := didtest.NewSigner(h.Registry, tenant)
	require.NoError(t, err)
	alice, err := didtest.NewSigner(h.Registry, "did:test:alice")
	require.NoError(t, err)

	_, err = h.Handlers.MessagesSubscribe(context.Background(), tenant,
		buildMessagesSubscribeMsg(t, alice, nil))
	require.Error(t, err)
	require.Equal(t, dwnerrors.CodeUnauthorized, codeOf(t, err))
}

// TestMessagesSubscribeReceivesFilteredEvents checks that an
// interface-filtered stream delivers matching message events.
func TestMessagesSubscribeReceivesFilteredEvents(t *testing.T) {
	h := newHarness(t)
	tenant := "did:test:tenant"
	owner, err := didtest.NewSigner(h.Registry, tenant)
	require.NoError(t, err)

	ifc := message.InterfaceRecords
	subReply, err := h.Handlers.MessagesSubscribe(context.Background(), tenant,
		buildMessagesSubscribeMsg(t, owner, []message.MessagesFilter{{Interface: &ifc}}))
	require.NoError(t, err)
	require.Equal(t, 200, subReply.Status.Code)
	require.NotNil(t, subReply.Subscription)
	defer subReply.Subscription.Close()

	reply, recordId := writeRecord(t, h, tenant, owner, message.RecordsWriteDescriptor{}, nil, []byte(`{"live":1}`))
	require.Equal(t, 202, reply.Status.Code)

	select {
	case ev := <-subReply.Subscription.Events:
		require.Equal(t, storedCidForRecord(t, h, tenant, recordId), ev.MessageCid)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the message event")
	}
}
