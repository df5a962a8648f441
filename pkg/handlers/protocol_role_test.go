package handlers_test

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodeledger/dwn-core/pkg/didtest"
	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/message"
	"github.com/nodeledger/dwn-core/pkg/protocol"
)

// buildProtocolWrite constructs a RecordsWrite message under a protocol
// tree, computing the deterministic recordId and contextId the way a
// real client would: descriptorCid+author for the id, parent's
// contextId (nil at a tree root) with that id appended for the
// context.
func buildProtocolWrite(t *testing.T, signer *didtest.Signer, protocolURL, protocolPath string, parentId, parentContextId *string, recipient *string, extra message.SignaturePayload, payload []byte) (message.Message, string) {
	t.Helper()

	desc := message.RecordsWriteDescriptor{
		Protocol:     &protocolURL,
		ProtocolPath: &protocolPath,
		ParentId:     parentId,
		Recipient:    recipient,
		DataFormat:   "application/json",
	}
	desc.Interface = message.InterfaceRecords
	desc.Method = message.MethodWrite
	desc.MessageTimestamp = envelope.Now()
	desc.DateCreated = desc.MessageTimestamp

	cid, err := envelope.ComputeCID(payload)
	require.NoError(t, err)
	desc.DataCid = cid.String()
	desc.DataSize = int64(len(payload))

	descMap, err := message.ToDescriptorMap(desc)
	require.NoError(t, err)
	descCid, err := envelope.CIDOf(descMap)
	require.NoError(t, err)
	recordId, err := message.EntryId(descCid.String(), signer.DID)
	require.NoError(t, err)
	contextId := message.ContextIdFor(parentContextId, recordId)

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	msg := message.Message{Descriptor: descMap, RecordId: recordId, ContextId: &contextId, EncodedData: &encoded}

	extra.RecordId = recordId
	extra.ContextId = contextId
	require.NoError(t, signer.AuthorizeMessage(&msg, extra))
	return msg, recordId
}

func contextRoleDefinition(protocolURL string) protocol.Definition {
	return protocol.Definition{
		Protocol:  protocolURL,
		Published: false,
		Types: map[string]protocol.TypeDefinition{
			"thread":      {DataFormats: []string{"application/json"}},
			"participant": {DataFormats: []string{"application/json"}},
			"chat":        {DataFormats: []string{"application/json"}},
		},
		Structure: map[string]*protocol.RuleSet{
			"thread": {
				Actions: []protocol.ActionRule{
					{Who: protocol.WhoAnyone, Can: []protocol.Action{protocol.ActionCreate, protocol.ActionRead}},
				},
				Children: map[string]*protocol.RuleSet{
					"participant": {
						Role: protocol.RoleContext,
						Actions: []protocol.ActionRule{
							{Who: protocol.WhoAnyone, Can: []protocol.Action{protocol.ActionCreate}},
						},
					},
					"chat": {
						Actions: []protocol.ActionRule{
							{Role: "thread/participant", Can: []protocol.Action{protocol.ActionCreate, protocol.ActionRead}},
						},
					},
				},
			},
		},
	}
}

// TestRecordsWriteContextRoleGatesChatWrite checks that a
// $contextRole participant record grants bob the right to write
// thread/chat; carol, who never received that role, is rejected.
func TestRecordsWriteContextRoleGatesChatWrite(t *testing.T) {
	h := newHarness(t)
	tenant := "did:test:tenant"
	owner, err := didtest.NewSigner(h.Registry, tenant)
	require.NoError(t, err)
	bob, err := didtest.NewSigner(h.Registry, "did:test:bob")
	require.NoError(t, err)
	carol, err := didtest.NewSigner(h.Registry, "did:test:carol")
	require.NoError(t, err)

	protocolURL := "https://dwn.test/chatroom"
	configureProtocol(t, h, tenant, owner, contextRoleDefinition(protocolURL))

	threadMsg, threadId := buildProtocolWrite(t, owner, protocolURL, "thread", nil, nil, nil, message.SignaturePayload{}, []byte(`{"topic":"general"}`))
	reply, err := h.Handlers.RecordsWrite(context.Background(), tenant, threadMsg, nil)
	require.NoError(t, err)
	require.Equal(t, 202, reply.Status.Code)
	threadContextId := threadId

	participantMsg, _ := buildProtocolWrite(t, owner, protocolURL, "thread/participant", &threadId, &threadContextId, &bob.DID, message.SignaturePayload{}, []byte(`{"role":"participant"}`))
	reply, err = h.Handlers.RecordsWrite(context.Background(), tenant, participantMsg, nil)
	require.NoError(t, err)
	require.Equal(t, 202, reply.Status.Code)

	bobChat, _ := buildProtocolWrite(t, bob, protocolURL, "thread/chat", &threadId, &threadContextId, nil,
		message.SignaturePayload{ProtocolRole: "thread/participant"}, []byte(`{"text":"hi"}`))
	reply, err = h.Handlers.RecordsWrite(context.Background(), tenant, bobChat, nil)
	require.NoError(t, err)
	require.Equal(t, 202, reply.Status.Code)

	carolChat, _ := buildProtocolWrite(t, carol, protocolURL, "thread/chat", &threadId, &threadContextId, nil,
		message.SignaturePayload{ProtocolRole: "thread/participant"}, []byte(`{"text":"intrusion"}`))
	_, err = h.Handlers.RecordsWrite(context.Background(), tenant, carolChat, nil)
	require.Error(t, err)
	e, ok := dwnerrors.As(err)
	require.True(t, ok)
	require.Equal(t, dwnerrors.CodeMissingRole, e.Code)
	require.Equal(t, 401, e.Code.HTTPStatus())
}
