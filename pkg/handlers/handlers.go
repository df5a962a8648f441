package handlers

import (
	"context"
	"io"
	"sync"

	"github.com/nodeledger/dwn-core/pkg/auth"
	"github.com/nodeledger/dwn-core/pkg/authz"
	"github.com/nodeledger/dwn-core/pkg/blobstore"
	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/eventlog"
	"github.com/nodeledger/dwn-core/pkg/eventstream"
	"github.com/nodeledger/dwn-core/pkg/log"
	"github.com/nodeledger/dwn-core/pkg/message"
	"github.com/nodeledger/dwn-core/pkg/messagestore"
	"github.com/nodeledger/dwn-core/pkg/metrics"
	"github.com/nodeledger/dwn-core/pkg/protocol"
)

// Handlers wires the lower-level stores into one procedure per
// (interface, method) pair. It owns no storage of its own beyond the
// per-(tenant, recordId) lock manager the conflict-resolution critical
// section in RecordsWrite/RecordsDelete needs.
type Handlers struct {
	Messages *messagestore.Store
	Blobs    *blobstore.Store
	EventLog *eventlog.Store
	Stream   *eventstream.Broker
	Authn    *auth.Authenticator
	Authz    *authz.Engine

	locks *recordLocker
}

// New builds Handlers over already-open collaborators.
func New(messages *messagestore.Store, blobs *blobstore.Store, eventLog *eventlog.Store, stream *eventstream.Broker, authn *auth.Authenticator, authz *authz.Engine) *Handlers {
	return &Handlers{
		Messages: messages,
		Blobs:    blobs,
		EventLog: eventLog,
		Stream:   stream,
		Authn:    authn,
		Authz:    authz,
		locks:    newRecordLocker(),
	}
}

// recordLocker hands out a per-(tenant,recordId) mutex so the
// conflict-resolution and persistence critical section of RecordsWrite
// and RecordsDelete is serialized, while distinct records (and
// distinct tenants) proceed concurrently.
type recordLocker struct {
	mu    sync.Mutex
	byKey map[string]*sync.Mutex
}

func newRecordLocker() *recordLocker {
	return &recordLocker{byKey: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for (tenant, recordId) and returns a function
// that releases it.
func (l *recordLocker) Lock(tenant, recordId string) func() {
	key := tenant + "\x00" + recordId
	l.mu.Lock()
	m, ok := l.byKey[key]
	if !ok {
		m = &sync.Mutex{}
		l.byKey[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Status is a reply's outcome: an HTTP-shaped code plus an optional
// human-readable detail.
type Status struct {
	Code   int
	Detail string
}

// Entry is one record surfaced in a reply: the message with its
// authorization stripped, paired with its data stream when the caller
// asked for one.
type Entry struct {
	Message message.Message
	Data    io.Reader
}

// Subscription is the handler-facing view of an open event-stream
// registration.
type Subscription struct {
	ID     string
	Events <-chan eventstream.Event
	Close  func()
}

// Reply is the shape every handler returns:
// {status, entries?, record?, subscription?, cursor?}.
type Reply struct {
	Status       Status
	Entries      []Entry
	Record       *Entry
	Subscription *Subscription
	Cursor       string
}

func okReply(code int) Reply { return Reply{Status: Status{Code: code}} }

// errReply translates a classified error into a reply; the
// dispatcher uses this same translation for the top-level catch, but
// handlers that want to short-circuit without propagating an error up
// (none currently do) could use it directly too.
func errReply(err error) Reply {
	if e, ok := dwnerrors.As(err); ok {
		return Reply{Status: Status{Code: e.Code.HTTPStatus(), Detail: e.Error()}}
	}
	return Reply{Status: Status{Code: 500, Detail: err.Error()}}
}

func stripAuthorization(msg message.Message) message.Message {
	out := msg
	out.Authorization = nil
	return out
}

// authenticate runs signature verification and returns the message's
// primary signer DID.
func (h *Handlers) authenticate(ctx context.Context, tenant string, msg message.Message) (string, error) {
	if err := h.Authn.Authenticate(ctx, tenant, msg); err != nil {
		return "", err
	}
	return msg.Author()
}

// recordAuthContext names the facts authorizeRecordsAction needs beyond
// what it can read off the message itself.
type recordAuthContext struct {
	RecordId     string
	ParentId     *string
	ContextId    *string
	Recipient    *string
	Protocol     *string
	ProtocolPath *string
	Schema       *string
	Candidate    []protocol.Action
	IsWrite      bool
}

// authorizeRecordsAction is the three-way authorization split every
// Records operation goes through: the tenant authoring its own record
// always passes; a directly-cited permission grant is validated and,
// when valid, authorizes the action by itself; everything else goes
// through the protocol rule-tree walk, where an embedded delegated
// grant, once validated, makes its grantor the author the rules are
// evaluated for. A message with neither a directly-cited grant nor a
// protocol is rejected.
func (h *Handlers) authorizeRecordsAction(ctx context.Context, tenant string, msg message.Message, ac recordAuthContext) error {
	signer, err := msg.Author()
	if err != nil {
		return err
	}
	if signer == tenant {
		return nil
	}

	payload, err := msg.SignaturePayload()
	if err != nil {
		return err
	}

	method := string(protocolMethodFor(ac.Candidate))
	author := signer

	if msg.Authorization != nil && msg.Authorization.AuthorDelegatedGrant != nil {
		scope := protocol.GrantScope{
			Interface:    string(message.InterfaceRecords),
			Method:       method,
			Protocol:     derefStr(ac.Protocol),
			ContextId:    derefStr(ac.ContextId),
			ProtocolPath: derefStr(ac.ProtocolPath),
		}
		grantedBy, err := h.Authz.ValidateDelegatedGrant(*msg.Authorization.AuthorDelegatedGrant, signer, scope, payload.DelegatedGrantId)
		if err != nil {
			return err
		}
		author = grantedBy
	} else if payload.PermissionGrantId != "" {
		scope := protocol.GrantScope{
			Interface: string(message.InterfaceRecords), Method: method,
			Protocol: derefStr(ac.Protocol), Schema: derefStr(ac.Schema),
		}
		incoming, err := messageTimestamp(msg)
		if err != nil {
			return err
		}
		if _, err := h.Authz.ValidateGrant(ctx, tenant, payload.PermissionGrantId, signer, incoming, scope); err != nil {
			return err
		}
		return nil
	}

	if ac.Protocol == nil || *ac.Protocol == "" {
		return dwnerrors.New(dwnerrors.CodeActionNotAllowed, "no protocol, grant or ownership basis for this action")
	}

	return h.Authz.AuthorizeRecordsAction(ctx, authz.ActionContext{
		Tenant:       tenant,
		Protocol:     *ac.Protocol,
		ProtocolPath: derefStr(ac.ProtocolPath),
		RecordId:     ac.RecordId,
		ParentId:     ac.ParentId,
		ContextId:    ac.ContextId,
		Recipient:    ac.Recipient,
		Author:       author,
		ProtocolRole: payload.ProtocolRole,
		Candidate:    ac.Candidate,
		IsWrite:      ac.IsWrite,
	})
}

func protocolMethodFor(candidate []protocol.Action) message.Method {
	if len(candidate) == 0 {
		return ""
	}
	switch candidate[0] {
	case protocol.ActionCreate, protocol.ActionUpdate:
		return message.MethodWrite
	case protocol.ActionDelete:
		return message.MethodDelete
	case protocol.ActionRead:
		return message.MethodRead
	case protocol.ActionQuery:
		return message.MethodQuery
	case protocol.ActionSubscribe:
		return message.MethodSubscribe
	default:
		return ""
	}
}

func messageTimestamp(msg message.Message) (envelope.Timestamp, error) {
	typed, err := msg.TypedDescriptor()
	if err != nil {
		return "", err
	}
	return typed.GetMessageTimestamp(), nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// recordMetric increments the ingestion counter and logs the terminal
// lifecycle event for a handled message.
func recordMetric(tenant, iface, method string, status int) {
	metrics.MessagesIngestedTotal.WithLabelValues(iface, method, statusLabel(status)).Inc()

	l := log.WithInterface(iface, method).WithTenant(tenant)
	if status >= 400 {
		l.Info().Int("status", status).Msg("message rejected")
	} else {
		l.Info().Int("status", status).Msg("message accepted")
	}
}

func statusLabel(code int) string {
	switch code {
	case 200:
		return "200"
	case 202:
		return "202"
	case 400:
		return "400"
	case 401:
		return "401"
	case 404:
		return "404"
	case 409:
		return "409"
	case 501:
		return "501"
	default:
		return "500"
	}
}
