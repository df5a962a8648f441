package didtest

import (
	"crypto/ed25519"
	"fmt"

	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/message"
)

// Signer is a single keypair registered under a DID, able to produce
// the SignerBlock any authorization path (primary, owner, delegated
// grant) needs.
type Signer struct {
	DID   string
	KeyID string

	priv ed25519.PrivateKey
}

// NewSigner generates a fresh ed25519 keypair, registers its public
// half under did in registry, and returns a Signer able to produce
// signatures that resolve back to it.
func NewSigner(registry *Registry, did string) (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("didtest: generate key: %w", err)
	}
	registry.register(did, pub)
	return &Signer{DID: did, KeyID: did + "#key-1", priv: priv}, nil
}

// SignPayload canonically encodes payload and signs it, returning a
// complete SignerBlock.
func (s *Signer) SignPayload(payload message.SignaturePayload) (message.SignerBlock, error) {
	raw, err := envelope.EncodeCanonical(payload)
	if err != nil {
		return message.SignerBlock{}, fmt.Errorf("didtest: encode payload: %w", err)
	}
	return message.SignerBlock{
		Payload:   payload,
		SignerDid: s.DID,
		KeyId:     s.KeyID,
		Algorithm: AlgorithmEdDSA,
		Signature: ed25519.Sign(s.priv, raw),
	}, nil
}

// AuthorizeMessage computes msg's descriptorCid, layers it onto extra
// (whose DescriptorCid field is overwritten), signs the result as the
// primary author signature, and installs it as msg.Authorization.
// Correlation fields the message needs (RecordId, ContextId,
// PermissionGrantId, ProtocolRole, DelegatedGrantId, ...) are supplied
// by the caller via extra.
func (s *Signer) AuthorizeMessage(msg *message.Message, extra message.SignaturePayload) error {
	cid, err := msg.DescriptorCid()
	if err != nil {
		return err
	}
	extra.DescriptorCid = cid.String()
	block, err := s.SignPayload(extra)
	if err != nil {
		return err
	}
	if msg.Authorization == nil {
		msg.Authorization = &message.Authorization{}
	}
	msg.Authorization.Signature = message.SignatureEnvelope{Signatures: []message.SignerBlock{block}}
	return nil
}

// CounterSignAsOwner adds an ownerSignature over msg's descriptorCid,
// used when a tenant endorses a foreign author's write.
func (s *Signer) CounterSignAsOwner(msg *message.Message) error {
	if msg.Authorization == nil {
		return fmt.Errorf("didtest: message has no primary authorization to counter-sign")
	}
	cid, err := msg.DescriptorCid()
	if err != nil {
		return err
	}
	block, err := s.SignPayload(message.SignaturePayload{DescriptorCid: cid.String()})
	if err != nil {
		return err
	}
	msg.Authorization.OwnerSignature = &message.SignatureEnvelope{Signatures: []message.SignerBlock{block}}
	return nil
}
