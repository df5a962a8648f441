package authz

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/index"
	"github.com/nodeledger/dwn-core/pkg/message"
	"github.com/nodeledger/dwn-core/pkg/messagestore"
	"github.com/nodeledger/dwn-core/pkg/protocol"
)

// Engine evaluates base permission-grant validation, protocol
// rule-set authorization over the ancestor chain, and delegated-grant
// scope checks. It reads whatever it needs (protocol definitions,
// ancestor writes, role records, grants, revocations) directly from
// the message store rather than through a bespoke repository
// interface — every fact the engine needs is itself just a message
// that was authorized and persisted earlier.
type Engine struct {
	messages *messagestore.Store
}

// New builds an authorization engine over an already-open message
// store.
func New(messages *messagestore.Store) *Engine {
	return &Engine{messages: messages}
}

// ancestorEntry is one step of a Records ancestor chain: the protocol
// path, author (logical, post-delegation) and recipient of the latest
// write at that step.
type ancestorEntry struct {
	ProtocolPath string
	Author       string
	Recipient    *string
	ContextId    *string
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// fetchLatestWrite returns the latest RecordsWrite for recordId, its
// typed descriptor, and its logical author.
func (e *Engine) fetchLatestWrite(ctx context.Context, tenant, recordId string) (message.RecordsWriteDescriptor, *message.Message, string, bool, error) {
	records, err := e.messages.Query(ctx, tenant, []index.Filter{{
		message.IndexRecordId:          index.Equal(recordId),
		message.IndexIsLatestBaseState: index.Equal(true),
	}}, messagestore.SortOptions{Property: message.IndexMessageTimestamp, Direction: index.Descending}, messagestore.Pagination{Limit: 1})
	if err != nil {
		return message.RecordsWriteDescriptor{}, nil, "", false, err
	}
	if len(records) == 0 {
		return message.RecordsWriteDescriptor{}, nil, "", false, nil
	}
	rec := records[0]
	typed, err := rec.Message.TypedDescriptor()
	if err != nil {
		return message.RecordsWriteDescriptor{}, nil, "", false, err
	}
	desc, ok := typed.(message.RecordsWriteDescriptor)
	if !ok {
		return message.RecordsWriteDescriptor{}, nil, "", false, fmt.Errorf("authz: record %q latest entry is not a RecordsWrite", recordId)
	}
	author, err := rec.Message.Author()
	if err != nil {
		return message.RecordsWriteDescriptor{}, nil, "", false, err
	}
	msg := rec.Message
	return desc, &msg, author, true, nil
}

// fetchProtocolDefinition returns the configured definition for
// protocolURL. ProtocolsConfigure overwrite resolution keeps
// at most one survivor per protocol URL, so any match is the current
// definition.
func (e *Engine) fetchProtocolDefinition(ctx context.Context, tenant, protocolURL string) (*protocol.Definition, bool, error) {
	records, err := e.messages.Query(ctx, tenant, []index.Filter{{
		message.IndexInterface: index.Equal("Protocols"),
		message.IndexMethod:    index.Equal("Configure"),
		message.IndexProtocol:  index.Equal(protocolURL),
	}}, messagestore.SortOptions{Property: message.IndexMessageTimestamp, Direction: index.Descending}, messagestore.Pagination{Limit: 1})
	if err != nil {
		return nil, false, err
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	typed, err := records[0].Message.TypedDescriptor()
	if err != nil {
		return nil, false, err
	}
	desc, ok := typed.(message.ProtocolsConfigureDescriptor)
	if !ok {
		return nil, false, fmt.Errorf("authz: protocol %q entry is not a ProtocolsConfigure", protocolURL)
	}
	return &desc.Definition, true, nil
}

// ancestorChain walks from recordId/parentId up to the protocol tree
// root, reversing so index 0 is the root. When isWrite is false the
// record's own latest write is prepended first (the incoming message
// has no write of its own to describe its position).
func (e *Engine) ancestorChain(ctx context.Context, tenant, recordId string, parentId *string, isWrite bool) ([]ancestorEntry, error) {
	var chain []ancestorEntry
	current := parentId

	if !isWrite {
		desc, msg, author, ok, err := e.fetchLatestWrite(ctx, tenant, recordId)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, dwnerrors.New(dwnerrors.CodeParentNotFound, fmt.Sprintf("record %q not found constructing ancestor chain", recordId))
		}
		chain = append(chain, ancestorEntry{ProtocolPath: derefStr(desc.ProtocolPath), Author: author, Recipient: desc.Recipient, ContextId: msg.ContextId})
		current = desc.ParentId
	}

	for current != nil && *current != "" {
		desc, msg, author, ok, err := e.fetchLatestWrite(ctx, tenant, *current)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, dwnerrors.New(dwnerrors.CodeParentNotFound, fmt.Sprintf("parent %q not found constructing ancestor chain", *current))
		}
		chain = append(chain, ancestorEntry{ProtocolPath: derefStr(desc.ProtocolPath), Author: author, Recipient: desc.Recipient, ContextId: msg.ContextId})
		current = desc.ParentId
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func findAncestor(chain []ancestorEntry, path string) *ancestorEntry {
	for i := range chain {
		if chain[i].ProtocolPath == path {
			return &chain[i]
		}
	}
	return nil
}

// ActionContext names everything AuthorizeRecordsAction needs to
// evaluate a single Records operation's candidate actions against a
// protocol's rule tree.
type ActionContext struct {
	Tenant       string
	Protocol     string
	ProtocolPath string
	RecordId     string
	ParentId     *string
	ContextId    *string
	Recipient    *string
	Author       string
	ProtocolRole string
	Candidate    []protocol.Action
	IsWrite      bool
}

// AuthorizeRecordsAction runs the action-authorization procedure for
// a Records operation: fetch the protocol, build the ancestor chain, resolve an
// optional protocolRole, and walk the rule set's $actions looking for
// one that grants any candidate action to ac.Author.
func (e *Engine) AuthorizeRecordsAction(ctx context.Context, ac ActionContext) error {
	def, ok, err := e.fetchProtocolDefinition(ctx, ac.Tenant, ac.Protocol)
	if err != nil {
		return err
	}
	if !ok {
		return dwnerrors.New(dwnerrors.CodeProtocolNotFound, fmt.Sprintf("protocol %q not configured", ac.Protocol))
	}

	chain, err := e.ancestorChain(ctx, ac.Tenant, ac.RecordId, ac.ParentId, ac.IsWrite)
	if err != nil {
		return err
	}

	ruleSet := def.RuleSetAt(ac.ProtocolPath)
	if ruleSet == nil {
		return dwnerrors.New(dwnerrors.CodeMissingRuleSet, fmt.Sprintf("no rule set declared at %q", ac.ProtocolPath))
	}

	satisfiedRole := ""
	if ac.ProtocolRole != "" {
		roleRuleSet := def.RuleSetAt(ac.ProtocolRole)
		if roleRuleSet == nil || roleRuleSet.Role == protocol.RoleNone {
			return dwnerrors.New(dwnerrors.CodeNotARole, fmt.Sprintf("%q is not a declared role", ac.ProtocolRole))
		}
		hasRole, err := e.hasRoleRecord(ctx, ac.Tenant, ac.ProtocolRole, ac.Author, roleRuleSet.Role, derefStr(ac.ContextId))
		if err != nil {
			return err
		}
		if !hasRole {
			return dwnerrors.New(dwnerrors.CodeMissingRole, fmt.Sprintf("no role record grants %q the role %q", ac.Author, ac.ProtocolRole))
		}
		satisfiedRole = ac.ProtocolRole
	}

	for _, rule := range ruleSet.Actions {
		allowed := false
		for _, want := range ac.Candidate {
			if rule.Allows(want) {
				allowed = true
				break
			}
		}
		if !allowed {
			continue
		}

		if rule.Role != "" {
			if satisfiedRole == rule.Role {
				return nil
			}
			continue
		}

		switch rule.Who {
		case protocol.WhoAnyone:
			return nil
		case protocol.WhoRecipient:
			if rule.Of == "" {
				if ac.Recipient != nil && *ac.Recipient == ac.Author {
					return nil
				}
				continue
			}
			if anc := findAncestor(chain, rule.Of); anc != nil && anc.Recipient != nil && *anc.Recipient == ac.Author {
				return nil
			}
		case protocol.WhoAuthor:
			if rule.Of == "" {
				continue
			}
			if anc := findAncestor(chain, rule.Of); anc != nil && anc.Author == ac.Author {
				return nil
			}
		}
	}

	return dwnerrors.New(dwnerrors.CodeActionNotAllowed,
		fmt.Sprintf("no action rule at %q grants %v to %q", ac.ProtocolPath, ac.Candidate, ac.Author))
}

// hasRoleRecord reports whether a latest, non-deleted write at rolePath
// names recipient as its recipient. A $contextRole additionally
// requires actingContextId to descend from the role record's own
// parent context — the role and the record being authorized are
// siblings (or acting is a deeper descendant) under the same context
// subtree, the same parent-contextId prefix the role-record
// uniqueness check scopes by.
func (e *Engine) hasRoleRecord(ctx context.Context, tenant, rolePath, recipient string, kind protocol.RoleKind, actingContextId string) (bool, error) {
	records, err := e.messages.Query(ctx, tenant, []index.Filter{{
		message.IndexProtocolPath:      index.Equal(rolePath),
		message.IndexRecipient:         index.Equal(recipient),
		message.IndexIsLatestBaseState: index.Equal(true),
	}}, messagestore.SortOptions{Property: message.IndexMessageTimestamp}, messagestore.Pagination{})
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if kind != protocol.RoleContext {
			return true, nil
		}
		if rec.Message.ContextId != nil && strings.HasPrefix(actingContextId, parentContextPrefix(*rec.Message.ContextId)) {
			return true, nil
		}
	}
	return false, nil
}

// WritePreconditions names the structural facts a protocol-scoped
// RecordsWrite must establish before action authorization runs.
type WritePreconditions struct {
	Tenant       string
	Protocol     string
	ProtocolPath string
	ParentId     *string
	ContextId    *string
	Recipient    *string
	DataFormat   string
	DataSize     int64
}

// ValidateWritePreconditions checks a protocol write's structure:
// protocolPath resolves to a declared type, the parent (if any) is
// latest/same-protocol/path-prefixed, dataFormat is allowed, dataSize
// lies within the rule set's $size, and role-record uniqueness holds.
func (e *Engine) ValidateWritePreconditions(ctx context.Context, wp WritePreconditions) error {
	def, ok, err := e.fetchProtocolDefinition(ctx, wp.Tenant, wp.Protocol)
	if err != nil {
		return err
	}
	if !ok {
		return dwnerrors.New(dwnerrors.CodeProtocolNotFound, fmt.Sprintf("protocol %q not configured", wp.Protocol))
	}

	typeName := protocol.TypeNameAt(wp.ProtocolPath)
	typeDef, ok := def.Types[typeName]
	if !ok {
		return dwnerrors.New(dwnerrors.CodeMissingRuleSet, fmt.Sprintf("type %q not declared by protocol %q", typeName, wp.Protocol))
	}

	if wp.ParentId != nil && *wp.ParentId != "" {
		parentDesc, _, _, ok, err := e.fetchLatestWrite(ctx, wp.Tenant, *wp.ParentId)
		if err != nil {
			return err
		}
		if !ok {
			return dwnerrors.New(dwnerrors.CodeParentNotFound, fmt.Sprintf("parent %q not found", *wp.ParentId))
		}
		if parentDesc.Protocol == nil || *parentDesc.Protocol != wp.Protocol {
			return dwnerrors.New(dwnerrors.CodeMissingRuleSet, "parent record belongs to a different protocol")
		}
		wantPath := protocol.ParentPath(wp.ProtocolPath)
		if parentDesc.ProtocolPath == nil || *parentDesc.ProtocolPath != wantPath {
			return dwnerrors.New(dwnerrors.CodeMissingRuleSet, "protocolPath does not extend its parent's protocolPath")
		}
	} else if wp.ProtocolPath != typeName {
		return dwnerrors.New(dwnerrors.CodeMissingRuleSet, "a root record's protocolPath must equal its type name")
	}

	ruleSet := def.RuleSetAt(wp.ProtocolPath)
	if ruleSet == nil {
		return dwnerrors.New(dwnerrors.CodeMissingRuleSet, fmt.Sprintf("no rule set declared at %q", wp.ProtocolPath))
	}

	if len(typeDef.DataFormats) > 0 && !containsStr(typeDef.DataFormats, wp.DataFormat) {
		return dwnerrors.New(dwnerrors.CodeSchemaValidationFailed,
			fmt.Sprintf("dataFormat %q not allowed for type %q", wp.DataFormat, typeName))
	}

	if ruleSet.Size != nil {
		if ruleSet.Size.Min != nil && wp.DataSize < *ruleSet.Size.Min {
			return dwnerrors.New(dwnerrors.CodeSizeOutOfRange, fmt.Sprintf("dataSize %d below minimum %d", wp.DataSize, *ruleSet.Size.Min))
		}
		if ruleSet.Size.Max != nil && wp.DataSize > *ruleSet.Size.Max {
			return dwnerrors.New(dwnerrors.CodeSizeOutOfRange, fmt.Sprintf("dataSize %d above maximum %d", wp.DataSize, *ruleSet.Size.Max))
		}
	}

	if ruleSet.Role == protocol.RoleGlobal || ruleSet.Role == protocol.RoleContext {
		unique, err := e.roleRecipientIsUnique(ctx, wp.Tenant, wp.ProtocolPath, derefStr(wp.Recipient), ruleSet.Role, derefStr(wp.ContextId))
		if err != nil {
			return err
		}
		if !unique {
			return dwnerrors.New(dwnerrors.CodeDuplicateRoleRecord,
				fmt.Sprintf("a role record already grants %q at %q", derefStr(wp.Recipient), wp.ProtocolPath))
		}
	}
	return nil
}

func (e *Engine) roleRecipientIsUnique(ctx context.Context, tenant, rolePath, recipient string, kind protocol.RoleKind, contextId string) (bool, error) {
	records, err := e.messages.Query(ctx, tenant, []index.Filter{{
		message.IndexProtocolPath:      index.Equal(rolePath),
		message.IndexRecipient:         index.Equal(recipient),
		message.IndexIsLatestBaseState: index.Equal(true),
	}}, messagestore.SortOptions{Property: message.IndexMessageTimestamp}, messagestore.Pagination{})
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if kind != protocol.RoleContext {
			return false, nil
		}
		if rec.Message.ContextId != nil && parentContextPrefix(*rec.Message.ContextId) == parentContextPrefix(contextId) {
			return false, nil
		}
	}
	return true, nil
}

// parentContextPrefix returns the contextId with its last path
// segment removed, the prefix $contextRole uniqueness is scoped by.
func parentContextPrefix(contextId string) string {
	idx := strings.LastIndex(contextId, "/")
	if idx < 0 {
		return ""
	}
	return contextId[:idx]
}

func containsStr(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// ValidateGrant runs the base grant-validation procedure for a
// directly cited permissionGrantId. An embedded delegated grant is
// checked by ValidateDelegatedGrant instead.
func (e *Engine) ValidateGrant(ctx context.Context, tenant, grantId, author string, incomingTimestamp envelope.Timestamp, scope protocol.GrantScope) (*protocol.GrantData, error) {
	grantMsg, ok, err := e.messages.Get(ctx, tenant, grantId)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dwnerrors.New(dwnerrors.CodeGrantMissing, fmt.Sprintf("no grant %q found", grantId))
	}

	typed, err := grantMsg.TypedDescriptor()
	if err != nil {
		return nil, err
	}
	writeDesc, ok := typed.(message.RecordsWriteDescriptor)
	if !ok || writeDesc.ProtocolPath == nil || *writeDesc.ProtocolPath != protocol.PathGrant {
		return nil, dwnerrors.New(dwnerrors.CodeGrantMissing, fmt.Sprintf("message %q is not a permissions grant", grantId))
	}

	grantedTo := derefStr(writeDesc.Recipient)
	if grantedTo != author {
		return nil, dwnerrors.New(dwnerrors.CodeGrantNotGrantedToAuthor, fmt.Sprintf("grant %q was not granted to %q", grantId, author))
	}
	grantedBy, err := grantMsg.Author()
	if err != nil {
		return nil, err
	}
	if grantedBy != tenant {
		return nil, dwnerrors.New(dwnerrors.CodeGrantNotGrantedForTenant, fmt.Sprintf("grant %q was not granted by tenant %q", grantId, tenant))
	}

	var data protocol.GrantData
	if err := decodeEncodedData(grantMsg, &data); err != nil {
		return nil, err
	}

	if incomingTimestamp.Before(writeDesc.MessageTimestamp) {
		return nil, dwnerrors.New(dwnerrors.CodeGrantNotYetActive, fmt.Sprintf("grant %q is not yet active", grantId))
	}
	if !incomingTimestamp.Before(data.DateExpires) {
		return nil, dwnerrors.New(dwnerrors.CodeGrantExpired, fmt.Sprintf("grant %q has expired", grantId))
	}

	// A revocation is a child record of the grant, so its parentId
	// carries the grant's recordId, not the message CID the grant is
	// cited by.
	revoked, err := e.findRevocation(ctx, tenant, grantMsg.RecordId, incomingTimestamp)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, dwnerrors.New(dwnerrors.CodeGrantRevoked, fmt.Sprintf("grant %q was revoked", grantId))
	}

	if data.Scope.Interface != scope.Interface {
		return nil, dwnerrors.New(dwnerrors.CodeInterfaceMismatch, fmt.Sprintf("grant scoped to interface %q, incoming is %q", data.Scope.Interface, scope.Interface))
	}
	if data.Scope.Method != scope.Method {
		return nil, dwnerrors.New(dwnerrors.CodeMethodMismatch, fmt.Sprintf("grant scoped to method %q, incoming is %q", data.Scope.Method, scope.Method))
	}
	if scope.Interface == string(message.InterfaceRecords) && !data.Scope.Covers(scope) {
		return nil, dwnerrors.New(dwnerrors.CodeGrantScopeMismatch,
			fmt.Sprintf("grant %q scoped to protocol=%q schema=%q does not cover the incoming request", grantId, data.Scope.Protocol, data.Scope.Schema))
	}

	return &data, nil
}

// findRevocation reports whether a grant/revocation child of the
// record grantRecordId exists with a messageTimestamp at or before
// before.
func (e *Engine) findRevocation(ctx context.Context, tenant, grantRecordId string, before envelope.Timestamp) (bool, error) {
	records, err := e.messages.Query(ctx, tenant, []index.Filter{{
		message.IndexParentId:     index.Equal(grantRecordId),
		message.IndexProtocolPath: index.Equal(protocol.PathGrantRevocation),
	}}, messagestore.SortOptions{Property: message.IndexMessageTimestamp}, messagestore.Pagination{})
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		typed, err := rec.Message.TypedDescriptor()
		if err != nil {
			return false, err
		}
		desc, ok := typed.(message.RecordsWriteDescriptor)
		if !ok {
			continue
		}
		if !before.Before(desc.MessageTimestamp) {
			return true, nil
		}
	}
	return false, nil
}

// ValidateDelegatedGrant checks an embedded delegated grant: it must be
// delegated, its grantedTo must equal the message's actual signer, its
// scope must cover incomingScope, and the delegatedGrantId the signer
// claimed must equal the embedded grant's own CID. Returns the
// grantor's DID, the logical author for the rest of authorization.
func (e *Engine) ValidateDelegatedGrant(grantMsg message.Message, signerDid string, incomingScope protocol.GrantScope, claimedGrantId string) (string, error) {
	typed, err := grantMsg.TypedDescriptor()
	if err != nil {
		return "", err
	}
	writeDesc, ok := typed.(message.RecordsWriteDescriptor)
	if !ok || writeDesc.ProtocolPath == nil || *writeDesc.ProtocolPath != protocol.PathGrant {
		return "", dwnerrors.New(dwnerrors.CodeNotADelegatedGrant, "embedded message is not a permissions grant")
	}

	var data protocol.GrantData
	if err := decodeEncodedData(&grantMsg, &data); err != nil {
		return "", err
	}
	if !data.Delegated {
		return "", dwnerrors.New(dwnerrors.CodeNotADelegatedGrant, "embedded grant does not set delegated=true")
	}

	grantedTo := derefStr(writeDesc.Recipient)
	if grantedTo != signerDid {
		return "", dwnerrors.New(dwnerrors.CodeGrantedToAndSignerMismatch,
			fmt.Sprintf("delegated grant was granted to %q but signed by %q", grantedTo, signerDid))
	}

	if !data.Scope.Covers(incomingScope) {
		return "", dwnerrors.New(dwnerrors.CodeInterfaceMismatch, "delegated grant scope does not cover the incoming message")
	}

	grantCid, err := grantMsg.Cid()
	if err != nil {
		return "", err
	}
	if claimedGrantId != grantCid.String() {
		return "", dwnerrors.New(dwnerrors.CodeGrantCidMismatch,
			fmt.Sprintf("signature payload delegatedGrantId %q does not match embedded grant cid %q", claimedGrantId, grantCid.String()))
	}

	return grantMsg.Author()
}

func decodeEncodedData(msg *message.Message, out any) error {
	if msg.EncodedData == nil {
		return fmt.Errorf("authz: message has no encodedData payload to decode")
	}
	raw, err := base64.RawURLEncoding.DecodeString(*msg.EncodedData)
	if err != nil {
		return fmt.Errorf("authz: decode encodedData: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("authz: unmarshal encodedData: %w", err)
	}
	return nil
}
