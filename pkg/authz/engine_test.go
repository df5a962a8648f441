package authz_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/nodeledger/dwn-core/pkg/authz"
	"github.com/nodeledger/dwn-core/pkg/didtest"
	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/index"
	"github.com/nodeledger/dwn-core/pkg/kv"
	"github.com/nodeledger/dwn-core/pkg/message"
	"github.com/nodeledger/dwn-core/pkg/messagestore"
	"github.com/nodeledger/dwn-core/pkg/protocol"
	"github.com/stretchr/testify/require"
)

const testProtocol = "https://dwn.test/chat"

func testDefinition() protocol.Definition {
	return protocol.Definition{
		Protocol:  testProtocol,
		Published: true,
		Types: map[string]protocol.TypeDefinition{
			"thread": {DataFormats: []string{"application/json"}},
			"chat":   {DataFormats: []string{"application/json"}},
		},
		Structure: map[string]*protocol.RuleSet{
			"thread": {
				Actions: []protocol.ActionRule{
					{Who: protocol.WhoAnyone, Can: []protocol.Action{protocol.ActionCreate, protocol.ActionRead}},
				},
				Children: map[string]*protocol.RuleSet{
					"chat": {
						Actions: []protocol.ActionRule{
							{Who: protocol.WhoRecipient, Of: "thread", Can: []protocol.Action{protocol.ActionCreate, protocol.ActionRead}},
						},
					},
				},
			},
		},
	}
}

func newHarness(t *testing.T) (*messagestore.Store, *authz.Engine, *didtest.Registry) {
	t.Helper()
	e, err := kv.Open(t.TempDir(), "authz.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	ms := messagestore.New(e, index.New(e))
	registry := didtest.NewRegistry()
	return ms, authz.New(ms), registry
}

func putWrite(t *testing.T, ms *messagestore.Store, signer *didtest.Signer, tenant string, desc message.RecordsWriteDescriptor, recordId string, contextId *string) string {
	t.Helper()
	descMap, err := message.ToDescriptorMap(desc)
	require.NoError(t, err)

	msg := message.Message{Descriptor: descMap, RecordId: recordId, ContextId: contextId}
	require.NoError(t, signer.AuthorizeMessage(&msg, message.SignaturePayload{RecordId: recordId}))

	indexes := map[string]any{
		message.IndexInterface:         "Records",
		message.IndexMethod:            "Write",
		message.IndexRecordId:          recordId,
		message.IndexProtocol:          derefOr(desc.Protocol),
		message.IndexProtocolPath:      derefOr(desc.ProtocolPath),
		message.IndexRecipient:         derefOr(desc.Recipient),
		message.IndexMessageTimestamp:  string(desc.MessageTimestamp),
		message.IndexIsLatestBaseState: true,
	}
	if desc.ParentId != nil {
		indexes[message.IndexParentId] = *desc.ParentId
	}

	cid, err := ms.Put(context.Background(), tenant, msg, indexes)
	require.NoError(t, err)
	return cid
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }

func TestAuthorizeRecordsActionAnyoneCreate(t *testing.T) {
	ms, engine, registry := newHarness(t)
	alice, err := didtest.NewSigner(registry, "did:test:alice")
	require.NoError(t, err)

	tenant := "did:test:tenant"
	require.NoError(t, configureProtocol(ms, tenant, registry))

	err = engine.AuthorizeRecordsAction(context.Background(), authz.ActionContext{
		Tenant:       tenant,
		Protocol:     testProtocol,
		ProtocolPath: "thread",
		RecordId:     "thread1",
		Author:       alice.DID,
		Candidate:    []protocol.Action{protocol.ActionCreate},
		IsWrite:      true,
	})
	require.NoError(t, err)
}

func TestAuthorizeRecordsActionRecipientOfAncestor(t *testing.T) {
	ms, engine, registry := newHarness(t)
	alice, err := didtest.NewSigner(registry, "did:test:alice")
	require.NoError(t, err)
	bob, err := didtest.NewSigner(registry, "did:test:bob")
	require.NoError(t, err)

	tenant := "did:test:tenant"
	require.NoError(t, configureProtocol(ms, tenant, registry))

	threadId := "thread1"
	threadDesc := message.RecordsWriteDescriptor{
		Protocol:     strPtr(testProtocol),
		ProtocolPath: strPtr("thread"),
		Recipient:    strPtr(bob.DID),
		DataFormat:   "application/json",
		DateCreated:  envelope.Now(),
	}
	threadDesc.Interface = message.InterfaceRecords
	threadDesc.Method = message.MethodWrite
	threadDesc.MessageTimestamp = envelope.Now()
	putWrite(t, ms, alice, tenant, threadDesc, threadId, nil)

	// Bob, the thread's recipient, may create a chat under it.
	err = engine.AuthorizeRecordsAction(context.Background(), authz.ActionContext{
		Tenant:       tenant,
		Protocol:     testProtocol,
		ProtocolPath: "thread/chat",
		RecordId:     "chat1",
		ParentId:     &threadId,
		Author:       bob.DID,
		Candidate:    []protocol.Action{protocol.ActionCreate},
		IsWrite:      true,
	})
	require.NoError(t, err)

	// Alice is not the thread's recipient, so she may not.
	err = engine.AuthorizeRecordsAction(context.Background(), authz.ActionContext{
		Tenant:       tenant,
		Protocol:     testProtocol,
		ProtocolPath: "thread/chat",
		RecordId:     "chat2",
		ParentId:     &threadId,
		Author:       alice.DID,
		Candidate:    []protocol.Action{protocol.ActionCreate},
		IsWrite:      true,
	})
	require.Error(t, err)
}

func TestValidateGrantSuccess(t *testing.T) {
	ms, engine, registry := newHarness(t)
	tenant, err := didtest.NewSigner(registry, "did:test:tenant")
	require.NoError(t, err)
	alice, err := didtest.NewSigner(registry, "did:test:alice")
	require.NoError(t, err)

	grantId := putGrant(t, ms, tenant, tenant.DID, alice.DID, protocol.GrantScope{Interface: "Records", Method: "Write"}, farFuture(), false)

	data, err := engine.ValidateGrant(context.Background(), tenant.DID, grantId, alice.DID, envelope.Now(),
		protocol.GrantScope{Interface: "Records", Method: "Write"})
	require.NoError(t, err)
	require.False(t, data.Delegated)
}

func TestValidateGrantExpired(t *testing.T) {
	ms, engine, registry := newHarness(t)
	tenant, err := didtest.NewSigner(registry, "did:test:tenant")
	require.NoError(t, err)
	alice, err := didtest.NewSigner(registry, "did:test:alice")
	require.NoError(t, err)

	grantId := putGrant(t, ms, tenant, tenant.DID, alice.DID, protocol.GrantScope{Interface: "Records", Method: "Write"}, envelope.Timestamp("2020-01-01T00:00:00.000000Z"), false)

	_, err = engine.ValidateGrant(context.Background(), tenant.DID, grantId, alice.DID, envelope.Now(),
		protocol.GrantScope{Interface: "Records", Method: "Write"})
	require.Error(t, err)
}

func TestValidateGrantWrongGrantee(t *testing.T) {
	ms, engine, registry := newHarness(t)
	tenant, err := didtest.NewSigner(registry, "did:test:tenant")
	require.NoError(t, err)
	alice, err := didtest.NewSigner(registry, "did:test:alice")
	require.NoError(t, err)
	_, err = didtest.NewSigner(registry, "did:test:mallory")
	require.NoError(t, err)

	grantId := putGrant(t, ms, tenant, tenant.DID, alice.DID, protocol.GrantScope{Interface: "Records", Method: "Write"}, farFuture(), false)

	_, err = engine.ValidateGrant(context.Background(), tenant.DID, grantId, "did:test:mallory", envelope.Now(),
		protocol.GrantScope{Interface: "Records", Method: "Write"})
	require.Error(t, err)
}

func configureProtocol(ms *messagestore.Store, tenant string, registry *didtest.Registry) error {
	signer, err := didtest.NewSigner(registry, tenant)
	if err != nil {
		return err
	}
	desc := message.ProtocolsConfigureDescriptor{Definition: testDefinition()}
	desc.Interface = message.InterfaceProtocols
	desc.Method = message.MethodConfigure
	desc.MessageTimestamp = envelope.Now()

	descMap, err := message.ToDescriptorMap(desc)
	if err != nil {
		return err
	}
	msg := message.Message{Descriptor: descMap}
	if err := signer.AuthorizeMessage(&msg, message.SignaturePayload{}); err != nil {
		return err
	}

	_, err = ms.Put(context.Background(), tenant, msg, map[string]any{
		message.IndexInterface:        "Protocols",
		message.IndexMethod:           "Configure",
		message.IndexProtocol:         testProtocol,
		message.IndexMessageTimestamp: string(desc.MessageTimestamp),
	})
	return err
}

func putGrant(t *testing.T, ms *messagestore.Store, author *didtest.Signer, tenant, grantedTo string, scope protocol.GrantScope, expires envelope.Timestamp, delegated bool) string {
	t.Helper()

	data := protocol.GrantData{DateExpires: expires, Scope: scope, Delegated: delegated}
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	encoded := base64.RawURLEncoding.EncodeToString(raw)

	desc := message.RecordsWriteDescriptor{
		Protocol:     strPtr(protocol.PermissionsProtocolURL),
		ProtocolPath: strPtr(protocol.PathGrant),
		Recipient:    strPtr(grantedTo),
		DataFormat:   "application/json",
		DataCid:      "bogus",
		DataSize:     int64(len(raw)),
		DateCreated:  envelope.Now(),
	}
	desc.Interface = message.InterfaceRecords
	desc.Method = message.MethodWrite
	desc.MessageTimestamp = envelope.Now()

	descMap, err := message.ToDescriptorMap(desc)
	require.NoError(t, err)

	recordId := "grant-" + grantedTo
	msg := message.Message{Descriptor: descMap, RecordId: recordId, EncodedData: &encoded}
	require.NoError(t, author.AuthorizeMessage(&msg, message.SignaturePayload{RecordId: recordId}))

	cid, err := ms.Put(context.Background(), tenant, msg, map[string]any{
		message.IndexInterface:         "Records",
		message.IndexMethod:            "Write",
		message.IndexRecordId:          recordId,
		message.IndexProtocol:          protocol.PermissionsProtocolURL,
		message.IndexProtocolPath:      protocol.PathGrant,
		message.IndexRecipient:         grantedTo,
		message.IndexMessageTimestamp:  string(desc.MessageTimestamp),
		message.IndexIsLatestBaseState: true,
	})
	require.NoError(t, err)
	return cid
}

func farFuture() envelope.Timestamp {
	t, _ := envelope.Timestamp("2999-01-01T00:00:00.000000Z").Time()
	return envelope.NewTimestamp(t)
}
