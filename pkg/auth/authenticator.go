package auth

import (
	"context"
	"fmt"

	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/message"
)

// Authenticator verifies the signature chain over a message's
// authorization envelope: the primary signature, an optional
// ownerSignature, and the signature chains of any embedded delegated
// grants.
type Authenticator struct {
	resolver DIDResolver
	verifier Verifier
}

// New builds an Authenticator over a DID resolver and a signature
// verifier, both external collaborators supplied by the host
// application (see pkg/didtest for a reference implementation used by
// tests and the cmd/dwn CLI).
func New(resolver DIDResolver, verifier Verifier) *Authenticator {
	return &Authenticator{resolver: resolver, verifier: verifier}
}

// Authenticate verifies msg's signature(s). tenant is the owning DWN's
// identifier, used to check an ownerSignature's signer against it.
// Authenticate never mutates or persists anything — including for an
// embedded authorDelegatedGrant/ownerDelegatedGrant, whose own
// signature chain is verified recursively but never stored.
func (a *Authenticator) Authenticate(ctx context.Context, tenant string, msg message.Message) error {
	if msg.Authorization == nil {
		return dwnerrors.New(dwnerrors.CodeInvalidSignature, "message has no authorization envelope")
	}

	if err := a.verifyEnvelope(ctx, msg, msg.Authorization.Signature, ""); err != nil {
		return err
	}

	if msg.Authorization.OwnerSignature != nil {
		if err := a.verifyEnvelope(ctx, msg, *msg.Authorization.OwnerSignature, tenant); err != nil {
			return err
		}
	}

	if msg.Authorization.AuthorDelegatedGrant != nil {
		if err := a.Authenticate(ctx, tenant, *msg.Authorization.AuthorDelegatedGrant); err != nil {
			return fmt.Errorf("authenticate authorDelegatedGrant: %w", err)
		}
	}
	if msg.Authorization.OwnerDelegatedGrant != nil {
		if err := a.Authenticate(ctx, tenant, *msg.Authorization.OwnerDelegatedGrant); err != nil {
			return fmt.Errorf("authenticate ownerDelegatedGrant: %w", err)
		}
	}
	return nil
}

// verifyEnvelope verifies a single SignatureEnvelope against msg.
// expectedSigner, when non-empty, pins who must have produced the
// signature (used for ownerSignature, which must come from tenant).
func (a *Authenticator) verifyEnvelope(ctx context.Context, msg message.Message, env message.SignatureEnvelope, expectedSigner string) error {
	if len(env.Signatures) == 0 {
		return dwnerrors.New(dwnerrors.CodeInvalidSignature, "signature envelope has no signatures")
	}
	if len(env.Signatures) > 1 {
		return dwnerrors.New(dwnerrors.CodeMoreThanOneSignature, "only a single signer per envelope is supported")
	}
	block := env.Signatures[0]

	if expectedSigner != "" && block.SignerDid != expectedSigner {
		return dwnerrors.New(dwnerrors.CodeInvalidSignature,
			fmt.Sprintf("expected signer %q, got %q", expectedSigner, block.SignerDid))
	}

	key, err := a.resolver.ResolveVerificationKey(ctx, block.SignerDid, block.KeyId)
	if err != nil {
		return dwnerrors.Wrap(dwnerrors.CodeDidResolutionFailed,
			fmt.Sprintf("resolve verification key for %q", block.SignerDid), err)
	}
	if key.Algorithm != block.Algorithm {
		return dwnerrors.New(dwnerrors.CodeInvalidSignature,
			fmt.Sprintf("signer key algorithm %q does not match signature algorithm %q", key.Algorithm, block.Algorithm))
	}

	payload, err := envelope.EncodeCanonical(block.Payload)
	if err != nil {
		return fmt.Errorf("auth: encode signature payload: %w", err)
	}

	ok, err := a.verifier.Verify(block.Algorithm, key, payload, block.Signature)
	if err != nil {
		return dwnerrors.Wrap(dwnerrors.CodeInvalidSignature, "signature verification error", err)
	}
	if !ok {
		return dwnerrors.New(dwnerrors.CodeInvalidSignature, "signature does not verify")
	}

	descriptorCid, err := msg.DescriptorCid()
	if err != nil {
		return fmt.Errorf("auth: compute descriptorCid: %w", err)
	}
	if block.Payload.DescriptorCid != descriptorCid.String() {
		return dwnerrors.New(dwnerrors.CodeDescriptorCidMismatch,
			fmt.Sprintf("signature payload descriptorCid %q does not match recomputed %q",
				block.Payload.DescriptorCid, descriptorCid.String()))
	}
	return nil
}
