package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
	"github.com/nodeledger/dwn-core/pkg/message"
	"github.com/nodeledger/dwn-core/pkg/protocol"
)

// Permissions operations are ordinary RecordsWrite messages under the
// built-in permissions protocol: PermissionsRequest/Grant/Revoke each
// pin the protocol URL and protocolPath a plain RecordsWrite would
// otherwise have to restate, and validate that the record's encoded
// data payload actually decodes as the expected shape, before
// delegating to the same write pipeline every other protocol record
// goes through.

// PermissionsRequest ingests a capability request: a record at
// protocolPath "request" whose data is a protocol.RequestData payload.
func (h *Handlers) PermissionsRequest(ctx context.Context, tenant string, msg message.Message, data io.Reader) (Reply, error) {
	if _, err := requirePermissionsPath(msg, protocol.PathRequest); err != nil {
		return Reply{}, err
	}
	var payload protocol.RequestData
	if err := decodeEncodedPayload(msg, &payload); err != nil {
		return Reply{}, err
	}
	reply, err := h.RecordsWrite(ctx, tenant, msg, data)
	if err == nil {
		recordMetric(tenant, string(message.InterfacePermissions), string(message.MethodRequest), reply.Status.Code)
	}
	return reply, err
}

// PermissionsGrant ingests a capability grant: a record at
// protocolPath "grant" whose data is a protocol.GrantData payload.
// The grant's own message CID is its capability id, so no separate
// identifier is minted here.
func (h *Handlers) PermissionsGrant(ctx context.Context, tenant string, msg message.Message, data io.Reader) (Reply, error) {
	if _, err := requirePermissionsPath(msg, protocol.PathGrant); err != nil {
		return Reply{}, err
	}
	var payload protocol.GrantData
	if err := decodeEncodedPayload(msg, &payload); err != nil {
		return Reply{}, err
	}
	reply, err := h.RecordsWrite(ctx, tenant, msg, data)
	if err == nil {
		recordMetric(tenant, string(message.InterfacePermissions), string(message.MethodGrant), reply.Status.Code)
	}
	return reply, err
}

// PermissionsRevoke ingests a revocation: a record at protocolPath
// "grant/revocation", a child of the grant it revokes.
func (h *Handlers) PermissionsRevoke(ctx context.Context, tenant string, msg message.Message, data io.Reader) (Reply, error) {
	desc, err := requirePermissionsPath(msg, protocol.PathGrantRevocation)
	if err != nil {
		return Reply{}, err
	}
	if desc.ParentId == nil || *desc.ParentId == "" {
		return Reply{}, dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "a revocation must name the grant it revokes as its parentId")
	}
	var payload protocol.RevocationData
	if err := decodeEncodedPayload(msg, &payload); err != nil {
		return Reply{}, err
	}
	reply, err := h.RecordsWrite(ctx, tenant, msg, data)
	if err == nil {
		recordMetric(tenant, string(message.InterfacePermissions), string(message.MethodRevoke), reply.Status.Code)
	}
	return reply, err
}

func requirePermissionsPath(msg message.Message, wantPath string) (message.RecordsWriteDescriptor, error) {
	typed, err := msg.TypedDescriptor()
	if err != nil {
		return message.RecordsWriteDescriptor{}, dwnerrors.Wrap(dwnerrors.CodeInvalidDescriptor, "decode permissions descriptor", err)
	}
	desc, ok := typed.(message.RecordsWriteDescriptor)
	if !ok {
		return message.RecordsWriteDescriptor{}, dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "permissions descriptor is not a RecordsWrite")
	}
	if desc.Protocol == nil || *desc.Protocol != protocol.PermissionsProtocolURL {
		return message.RecordsWriteDescriptor{}, dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "permissions record must declare the built-in permissions protocol")
	}
	if desc.ProtocolPath == nil || *desc.ProtocolPath != wantPath {
		return message.RecordsWriteDescriptor{}, dwnerrors.New(dwnerrors.CodeInvalidDescriptor, fmt.Sprintf("permissions record must be at protocolPath %q", wantPath))
	}
	return desc, nil
}

func decodeEncodedPayload(msg message.Message, out any) error {
	if msg.EncodedData == nil {
		return dwnerrors.New(dwnerrors.CodeInvalidDescriptor, "permissions record must carry its payload as encodedData")
	}
	raw, err := base64.RawURLEncoding.DecodeString(*msg.EncodedData)
	if err != nil {
		return dwnerrors.Wrap(dwnerrors.CodeInvalidDescriptor, "decode permissions payload", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return dwnerrors.Wrap(dwnerrors.CodeInvalidDescriptor, "unmarshal permissions payload", err)
	}
	return nil
}
