package auth_test

import (
	"context"
	"testing"

	"github.com/nodeledger/dwn-core/pkg/auth"
	"github.com/nodeledger/dwn-core/pkg/didtest"
	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/message"
	"github.com/stretchr/testify/require"
)

func descriptorFor(t *testing.T) map[string]any {
	t.Helper()
	desc := message.RecordsDeleteDescriptor{}
	m, err := message.ToDescriptorMap(desc)
	require.NoError(t, err)
	m["interface"] = "Records"
	m["method"] = "Delete"
	m["messageTimestamp"] = string(envelope.Now())
	return m
}

func TestAuthenticateValidSignature(t *testing.T) {
	registry := didtest.NewRegistry()
	signer, err := didtest.NewSigner(registry, "did:test:alice")
	require.NoError(t, err)

	msg := message.Message{Descriptor: descriptorFor(t)}
	require.NoError(t, signer.AuthorizeMessage(&msg, message.SignaturePayload{}))

	a := auth.New(registry, registry)
	require.NoError(t, a.Authenticate(context.Background(), "did:test:tenant", msg))
}

func TestAuthenticateRejectsTamperedDescriptor(t *testing.T) {
	registry := didtest.NewRegistry()
	signer, err := didtest.NewSigner(registry, "did:test:alice")
	require.NoError(t, err)

	msg := message.Message{Descriptor: descriptorFor(t)}
	require.NoError(t, signer.AuthorizeMessage(&msg, message.SignaturePayload{}))

	msg.Descriptor["method"] = "Write"

	a := auth.New(registry, registry)
	err = a.Authenticate(context.Background(), "did:test:tenant", msg)
	require.Error(t, err)
}

func TestAuthenticateOwnerSignatureWrongSigner(t *testing.T) {
	registry := didtest.NewRegistry()
	alice, err := didtest.NewSigner(registry, "did:test:alice")
	require.NoError(t, err)
	mallory, err := didtest.NewSigner(registry, "did:test:mallory")
	require.NoError(t, err)

	msg := message.Message{Descriptor: descriptorFor(t)}
	require.NoError(t, alice.AuthorizeMessage(&msg, message.SignaturePayload{}))
	require.NoError(t, mallory.CounterSignAsOwner(&msg))

	a := auth.New(registry, registry)
	err = a.Authenticate(context.Background(), "did:test:tenant", msg)
	require.Error(t, err)
}

func TestAuthenticateOwnerSignatureCorrectSigner(t *testing.T) {
	registry := didtest.NewRegistry()
	alice, err := didtest.NewSigner(registry, "did:test:alice")
	require.NoError(t, err)
	tenant, err := didtest.NewSigner(registry, "did:test:tenant")
	require.NoError(t, err)

	msg := message.Message{Descriptor: descriptorFor(t)}
	require.NoError(t, alice.AuthorizeMessage(&msg, message.SignaturePayload{}))
	require.NoError(t, tenant.CounterSignAsOwner(&msg))

	a := auth.New(registry, registry)
	require.NoError(t, a.Authenticate(context.Background(), "did:test:tenant", msg))
}

func TestAuthenticateMoreThanOneSignature(t *testing.T) {
	registry := didtest.NewRegistry()
	alice, err := didtest.NewSigner(registry, "did:test:alice")
	require.NoError(t, err)

	msg := message.Message{Descriptor: descriptorFor(t)}
	require.NoError(t, alice.AuthorizeMessage(&msg, message.SignaturePayload{}))
	block := msg.Authorization.Signature.Signatures[0]
	msg.Authorization.Signature.Signatures = append(msg.Authorization.Signature.Signatures, block)

	a := auth.New(registry, registry)
	err = a.Authenticate(context.Background(), "did:test:tenant", msg)
	require.Error(t, err)
}
