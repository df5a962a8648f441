package handlers_test

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodeledger/dwn-core/pkg/auth"
	"github.com/nodeledger/dwn-core/pkg/authz"
	"github.com/nodeledger/dwn-core/pkg/blobstore"
	"github.com/nodeledger/dwn-core/pkg/didtest"
	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/eventlog"
	"github.com/nodeledger/dwn-core/pkg/eventstream"
	"github.com/nodeledger/dwn-core/pkg/handlers"
	"github.com/nodeledger/dwn-core/pkg/index"
	"github.com/nodeledger/dwn-core/pkg/kv"
	"github.com/nodeledger/dwn-core/pkg/message"
	"github.com/nodeledger/dwn-core/pkg/messagestore"
	"github.com/nodeledger/dwn-core/pkg/protocol"
)

// harness bundles one test's open collaborators, mirroring what
// cmd/dwn's openNode wires in production.
type harness struct {
	Handlers *handlers.Handlers
	Registry *didtest.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	e, err := kv.Open(t.TempDir(), "handlers.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	idx := index.New(e)
	messages := messagestore.New(e, idx)
	blobs := blobstore.New(e)
	eventLog := eventlog.New(e)
	stream := eventstream.New()
	registry := didtest.NewRegistry()
	authn := auth.New(registry, registry)
	authzEngine := authz.New(messages)

	return &harness{
		Handlers: handlers.New(messages, blobs, eventLog, stream, authn, authzEngine),
		Registry: registry,
	}
}

// writeRecord builds and authorizes a RecordsWrite message for an
// initial write, carrying payload inline as encodedData, and processes
// it through h.RecordsWrite. Returns the resulting reply and the
// recordId minted for it.
func writeRecord(t *testing.T, h *harness, tenant string, signer *didtest.Signer, desc message.RecordsWriteDescriptor, contextId *string, payload []byte) (handlers.Reply, string) {
	t.Helper()

	desc.Interface = message.InterfaceRecords
	desc.Method = message.MethodWrite
	if desc.MessageTimestamp == "" {
		desc.MessageTimestamp = envelope.Now()
	}
	if desc.DateCreated == "" {
		desc.DateCreated = desc.MessageTimestamp
	}
	if desc.DataFormat == "" {
		desc.DataFormat = "application/json"
	}

	cid, err := envelope.ComputeCID(payload)
	require.NoError(t, err)
	desc.DataCid = cid.String()
	desc.DataSize = int64(len(payload))

	descMap, err := message.ToDescriptorMap(desc)
	require.NoError(t, err)

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	msg := message.Message{Descriptor: descMap, ContextId: contextId, EncodedData: &encoded}

	descCid, err := msg.DescriptorCid()
	require.NoError(t, err)
	recordId, err := message.EntryId(descCid.String(), signer.DID)
	require.NoError(t, err)
	msg.RecordId = recordId

	require.NoError(t, signer.AuthorizeMessage(&msg, message.SignaturePayload{RecordId: recordId}))

	reply, err := h.Handlers.RecordsWrite(context.Background(), tenant, msg, nil)
	require.NoError(t, err)
	return reply, recordId
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

// buildWrite constructs (but does not submit) an initial write from a
// fully prepared descriptor: data fields are filled from payload, the
// recordId is derived, a protocol record's contextId is computed from
// parentContextId, and extra correlation fields (permissionGrantId,
// protocolRole, ...) ride the signature payload.
func buildWrite(t *testing.T, signer *didtest.Signer, desc message.RecordsWriteDescriptor, parentContextId *string, extra message.SignaturePayload, payload []byte) (message.Message, string) {
	t.Helper()

	desc.Interface = message.InterfaceRecords
	desc.Method = message.MethodWrite
	if desc.MessageTimestamp == "" {
		desc.MessageTimestamp = envelope.Now()
	}
	if desc.DateCreated == "" {
		desc.DateCreated = desc.MessageTimestamp
	}
	if desc.DataFormat == "" {
		desc.DataFormat = "application/json"
	}

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

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	msg := message.Message{Descriptor: descMap, RecordId: recordId, EncodedData: &encoded}
	if desc.Protocol != nil {
		contextId := message.ContextIdFor(parentContextId, recordId)
		msg.ContextId = &contextId
		extra.ContextId = contextId
	}
	extra.RecordId = recordId
	require.NoError(t, signer.AuthorizeMessage(&msg, extra))
	return msg, recordId
}

// configureProtocol installs def for tenant, signed by tenant's own
// signer (which always passes authorization for ProtocolsConfigure).
func configureProtocol(t *testing.T, h *harness, tenant string, signer *didtest.Signer, def protocol.Definition) {
	t.Helper()

	desc := message.ProtocolsConfigureDescriptor{Definition: def}
	desc.Interface = message.InterfaceProtocols
	desc.Method = message.MethodConfigure
	desc.MessageTimestamp = envelope.Now()

	descMap, err := message.ToDescriptorMap(desc)
	require.NoError(t, err)

	msg := message.Message{Descriptor: descMap}
	require.NoError(t, signer.AuthorizeMessage(&msg, message.SignaturePayload{}))

	reply, err := h.Handlers.ProtocolsConfigure(context.Background(), tenant, msg)
	require.NoError(t, err)
	require.Equal(t, 202, reply.Status.Code)
}

func testProtocolDefinition(url string) protocol.Definition {
	return protocol.Definition{
		Protocol:  url,
		Published: true,
		Types: map[string]protocol.TypeDefinition{
			"note": {DataFormats: []string{"application/json"}},
		},
		Structure: map[string]*protocol.RuleSet{
			"note": {
				Actions: []protocol.ActionRule{
					{Who: protocol.WhoAnyone, Can: []protocol.Action{protocol.ActionCreate, protocol.ActionRead, protocol.ActionDelete}},
				},
			},
		},
	}
}
