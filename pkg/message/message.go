package message

import (
	"encoding/json"
	"fmt"

	"github.com/nodeledger/dwn-core/pkg/envelope"
)

// Message is the wire/canonical form every interface handler receives
// and every store persists: a descriptor plus its authorization
// envelope, with RecordsWrite-specific fields present only when
// applicable. Descriptor is kept generic (a JSON-shaped map) rather
// than a concrete struct because hashing and re-dispatch both need the
// exact bytes the client sent; TypedDescriptor reconstructs the
// concrete variant once Interface/Method are known.
type Message struct {
	Descriptor    map[string]any `cbor:"descriptor" json:"descriptor"`
	Authorization *Authorization `cbor:"authorization,omitempty" json:"authorization,omitempty"`

	RecordId    string       `cbor:"recordId,omitempty" json:"recordId,omitempty"`
	ContextId   *string      `cbor:"contextId,omitempty" json:"contextId,omitempty"`
	Attestation *Attestation `cbor:"attestation,omitempty" json:"attestation,omitempty"`
	Encryption  *Encryption  `cbor:"encryption,omitempty" json:"encryption,omitempty"`
	EncodedData *string      `cbor:"encodedData,omitempty" json:"encodedData,omitempty"`
}

// Attestation is an additional signature over the descriptor attesting
// to its contents independent of the authorizing signature; its inner
// shape mirrors Authorization's signature block.
type Attestation struct {
	Signature SignatureEnvelope `cbor:"signature" json:"signature"`
}

// Encryption describes how EncodedData (or the referenced data stream)
// is encrypted. Cryptographic operations are an external collaborator;
// this struct only carries enough metadata for a client to decrypt,
// opaque to the core.
type Encryption struct {
	Algorithm        string `cbor:"algorithm" json:"algorithm"`
	InitializationVector string `cbor:"initializationVector" json:"initializationVector"`
	KeyEncryption    []byte `cbor:"keyEncryption,omitempty" json:"keyEncryption,omitempty"`
}

// Authorization wraps the signature(s) over a message. Signature is
// required; OwnerSignature, AuthorDelegatedGrant and OwnerDelegatedGrant
// are present only when the corresponding delegation or tenant
// endorsement path is used.
type Authorization struct {
	Signature            SignatureEnvelope `cbor:"signature" json:"signature"`
	OwnerSignature        *SignatureEnvelope `cbor:"ownerSignature,omitempty" json:"ownerSignature,omitempty"`
	AuthorDelegatedGrant  *Message          `cbor:"authorDelegatedGrant,omitempty" json:"authorDelegatedGrant,omitempty"`
	OwnerDelegatedGrant   *Message          `cbor:"ownerDelegatedGrant,omitempty" json:"ownerDelegatedGrant,omitempty"`
}

// SignatureEnvelope carries the signer blocks over the same payload.
// The authenticator accepts exactly one and rejects an envelope with
// more (AuthenticationMoreThanOneSignatureNotSupported).
type SignatureEnvelope struct {
	Signatures []SignerBlock `cbor:"signatures" json:"signatures"`
}

// SignerBlock is a single signature: the payload it covers, the DID
// (and optional key fragment) that produced it, and the raw signature
// bytes. Algorithm names the signature scheme so verification can pick
// the right primitive without inspecting the resolved key.
type SignerBlock struct {
	Payload   SignaturePayload `cbor:"payload" json:"payload"`
	SignerDid string           `cbor:"signerDid" json:"signerDid"`
	KeyId     string           `cbor:"keyId,omitempty" json:"keyId,omitempty"`
	Algorithm string           `cbor:"algorithm" json:"algorithm"`
	Signature []byte           `cbor:"signature" json:"signature"`
}

// SignaturePayload is what a SignerBlock actually signs: the
// descriptor's CID plus whichever optional correlation fields apply to
// this message. Authenticator.Verify recomputes DescriptorCid and
// rejects a mismatch (AuthenticateDescriptorCidMismatch); authorization
// consults the rest.
type SignaturePayload struct {
	DescriptorCid     string `cbor:"descriptorCid" json:"descriptorCid"`
	RecordId          string `cbor:"recordId,omitempty" json:"recordId,omitempty"`
	ContextId         string `cbor:"contextId,omitempty" json:"contextId,omitempty"`
	AttestationCid    string `cbor:"attestationCid,omitempty" json:"attestationCid,omitempty"`
	EncryptionCid     string `cbor:"encryptionCid,omitempty" json:"encryptionCid,omitempty"`
	PermissionGrantId string `cbor:"permissionGrantId,omitempty" json:"permissionGrantId,omitempty"`
	ProtocolRole      string `cbor:"protocolRole,omitempty" json:"protocolRole,omitempty"`
	DelegatedGrantId  string `cbor:"delegatedGrantId,omitempty" json:"delegatedGrantId,omitempty"`
}

// DescriptorCid canonically encodes and hashes m.Descriptor.
func (m Message) DescriptorCid() (envelope.CID, error) {
	return envelope.CIDOf(m.Descriptor)
}

// Cid canonically encodes and hashes the whole message; this is the
// messageCid used as a message store key. A record's RecordId is not
// this CID but EntryId of the initial write's descriptor CID and author.
func (m Message) Cid() (envelope.CID, error) {
	return envelope.CIDOf(m)
}

// Author returns the DID that produced the primary authorization
// signature — the signer of record for every message, delegated or
// not. Authorization and at least one signature are required to reach
// the authenticator in the first place, so a missing signature here
// signals a caller that skipped authentication.
func (m Message) Author() (string, error) {
	if m.Authorization == nil || len(m.Authorization.Signature.Signatures) == 0 {
		return "", fmt.Errorf("message: no authorization signature present")
	}
	return m.Authorization.Signature.Signatures[0].SignerDid, nil
}

// OwnerSigner returns the DID that produced the ownerSignature, and
// whether one is present.
func (m Message) OwnerSigner() (string, bool) {
	if m.Authorization == nil || m.Authorization.OwnerSignature == nil || len(m.Authorization.OwnerSignature.Signatures) == 0 {
		return "", false
	}
	return m.Authorization.OwnerSignature.Signatures[0].SignerDid, true
}

// SignaturePayload returns the payload carried by the primary
// signature, the one authorization and authorization consult for
// recordId/contextId/permissionGrantId/protocolRole/delegatedGrantId.
func (m Message) SignaturePayload() (SignaturePayload, error) {
	if m.Authorization == nil || len(m.Authorization.Signature.Signatures) == 0 {
		return SignaturePayload{}, fmt.Errorf("message: no authorization signature present")
	}
	return m.Authorization.Signature.Signatures[0].Payload, nil
}

// InterfaceMethod reads the (interface, method) pair out of the
// generic descriptor without fully decoding it, for routing purposes.
func (m Message) InterfaceMethod() (Interface, Method, error) {
	ifc, ok := m.Descriptor["interface"].(string)
	if !ok {
		return "", "", fmt.Errorf("message: descriptor missing interface")
	}
	meth, ok := m.Descriptor["method"].(string)
	if !ok {
		return "", "", fmt.Errorf("message: descriptor missing method")
	}
	return Interface(ifc), Method(meth), nil
}

// TypedDescriptor decodes m.Descriptor into the concrete variant named
// by its (interface, method) pair. Round-tripping through encoding/json
// rather than reflecting the map directly keeps one conversion rule
// (struct tags) instead of duplicating field-by-field assignment for
// every variant.
func (m Message) TypedDescriptor() (Descriptor, error) {
	ifc, meth, err := m.InterfaceMethod()
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(m.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("message: remarshal descriptor: %w", err)
	}

	var out Descriptor
	switch {
	case ifc == InterfaceRecords && meth == MethodWrite:
		var d RecordsWriteDescriptor
		err = json.Unmarshal(raw, &d)
		out = d
	case ifc == InterfaceRecords && meth == MethodDelete:
		var d RecordsDeleteDescriptor
		err = json.Unmarshal(raw, &d)
		out = d
	case ifc == InterfaceRecords && meth == MethodRead:
		var d RecordsReadDescriptor
		err = json.Unmarshal(raw, &d)
		out = d
	case ifc == InterfaceRecords && meth == MethodQuery:
		var d RecordsQueryDescriptor
		err = json.Unmarshal(raw, &d)
		out = d
	case ifc == InterfaceRecords && meth == MethodSubscribe:
		var d RecordsSubscribeDescriptor
		err = json.Unmarshal(raw, &d)
		out = d
	case ifc == InterfaceProtocols && meth == MethodConfigure:
		var d ProtocolsConfigureDescriptor
		err = json.Unmarshal(raw, &d)
		out = d
	case ifc == InterfaceProtocols && meth == MethodQuery:
		var d ProtocolsQueryDescriptor
		err = json.Unmarshal(raw, &d)
		out = d
	case ifc == InterfaceMessages && meth == MethodGet:
		var d MessagesGetDescriptor
		err = json.Unmarshal(raw, &d)
		out = d
	case ifc == InterfaceMessages && meth == MethodSubscribe:
		var d MessagesSubscribeDescriptor
		err = json.Unmarshal(raw, &d)
		out = d
	case ifc == InterfacePermissions && (meth == MethodRequest || meth == MethodGrant || meth == MethodRevoke):
		// Permissions operations are RecordsWrite messages under the
		// built-in permissions protocol; the descriptor on the wire is
		// a RecordsWrite shape with interface/method overridden for
		// routing. Decode as RecordsWrite and restore interface="Records"
		// here; the method keeps its Permissions name.
		var d RecordsWriteDescriptor
		err = json.Unmarshal(raw, &d)
		d.Interface = InterfaceRecords
		out = d
	default:
		return nil, fmt.Errorf("message: unrecognized (interface=%s, method=%s)", ifc, meth)
	}
	if err != nil {
		return nil, fmt.Errorf("message: decode %s.%s descriptor: %w", ifc, meth, err)
	}
	return out, nil
}

// ToDescriptorMap re-encodes a concrete descriptor variant back into
// the generic map form Message.Descriptor expects, the inverse of
// TypedDescriptor. Handlers building a reply message or an embedded
// delegated grant call this after constructing a typed descriptor.
func ToDescriptorMap(d Descriptor) (map[string]any, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("message: encode descriptor: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("message: remarshal descriptor: %w", err)
	}
	return out, nil
}
