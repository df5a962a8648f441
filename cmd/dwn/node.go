package main

import (
	"fmt"

	"github.com/nodeledger/dwn-core/pkg/auth"
	"github.com/nodeledger/dwn-core/pkg/authz"
	"github.com/nodeledger/dwn-core/pkg/blobstore"
	"github.com/nodeledger/dwn-core/pkg/didtest"
	"github.com/nodeledger/dwn-core/pkg/dispatcher"
	"github.com/nodeledger/dwn-core/pkg/eventlog"
	"github.com/nodeledger/dwn-core/pkg/eventstream"
	"github.com/nodeledger/dwn-core/pkg/handlers"
	"github.com/nodeledger/dwn-core/pkg/index"
	"github.com/nodeledger/dwn-core/pkg/kv"
	"github.com/nodeledger/dwn-core/pkg/messagestore"
)

// node bundles one data directory's open collaborators plus the
// dispatcher built over them. The CLI has no DID infrastructure of its
// own, so Registry doubles as both the DIDResolver and Verifier the
// authenticator needs — real key resolution is out of scope for this
// in-process entrypoint. Every signer the CLI mints is registered
// into the same Registry before it signs anything, so authentication
// within a single invocation always resolves.
type node struct {
	Engine     *kv.Engine
	Registry   *didtest.Registry
	Dispatcher *dispatcher.Dispatcher

	handlers *handlers.Handlers
}

// openNode opens dataDir's bbolt files and wires every store, the
// authenticator, the authorization engine and the dispatcher over
// them for single-node operation.
func openNode(dataDir string) (*node, error) {
	engine, err := kv.Open(dataDir, "dwn.db")
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	idx := index.New(engine)
	messages := messagestore.New(engine, idx)
	blobs := blobstore.New(engine)
	eventLog := eventlog.New(engine)
	stream := eventstream.New()

	registry := didtest.NewRegistry()
	authn := auth.New(registry, registry)
	authzEngine := authz.New(messages)

	h := handlers.New(messages, blobs, eventLog, stream, authn, authzEngine)

	return &node{
		Engine:     engine,
		Registry:   registry,
		Dispatcher: dispatcher.New(h),
		handlers:   h,
	}, nil
}

func (n *node) Close() error {
	return n.Engine.Close()
}
