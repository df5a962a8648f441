package protocol

import "github.com/nodeledger/dwn-core/pkg/envelope"

// PermissionsProtocolURL identifies the DWN's own internal protocol
// used to model grants, requests and revocations as ordinary records
// rather than inventing a side channel for permission plumbing.
const PermissionsProtocolURL = "https://tbd.website/dwn/permissions"

// MaxPermissionsRecordSize is the data size cap (10 KB) the built-in
// protocol's $size constraint enforces on request/grant/revocation
// records.
const MaxPermissionsRecordSize = 10 * 1024

// Permissions protocolPath segments, referenced by handlers building
// or inspecting these records directly rather than through the
// general rule-set machinery.
const (
	PathRequest          = "request"
	PathGrant            = "grant"
	PathGrantRevocation  = "grant/revocation"
)

// BuiltinPermissionsDefinition returns the structure governing the
// permissions protocol: a request type anyone may create, a grant type
// anyone may create (grant issuance is enforced by the authorization
// engine's owner/delegate checks, not by the rule tree), and a
// revocation nested under grant so its ancestor chain resolves back to
// the grant it revokes.
func BuiltinPermissionsDefinition() Definition {
	size := int64(MaxPermissionsRecordSize)
	return Definition{
		Protocol:  PermissionsProtocolURL,
		Published: false,
		Types: map[string]TypeDefinition{
			"request":  {DataFormats: []string{"application/json"}},
			"grant":    {DataFormats: []string{"application/json"}},
			"revocation": {DataFormats: []string{"application/json"}},
		},
		Structure: map[string]*RuleSet{
			"request": {
				Size: &SizeRange{Max: &size},
				Actions: []ActionRule{
					{Who: WhoAnyone, Can: []Action{ActionCreate, ActionRead}},
				},
			},
			"grant": {
				Size: &SizeRange{Max: &size},
				Actions: []ActionRule{
					{Who: WhoAnyone, Can: []Action{ActionCreate, ActionRead, ActionQuery}},
				},
				Children: map[string]*RuleSet{
					"revocation": {
						Size: &SizeRange{Max: &size},
						Actions: []ActionRule{
							{Who: WhoAnyone, Can: []Action{ActionCreate, ActionRead}},
						},
					},
				},
			},
		},
	}
}

// GrantScope is the capability a permission grant conveys: the
// (interface, method) it covers, narrowed optionally by protocol,
// schema or contextId. Plain strings rather than the message package's
// enums, since pkg/message imports pkg/protocol for Definition and a
// reverse import would cycle.
type GrantScope struct {
	Interface    string `json:"interface"`
	Method       string `json:"method"`
	Protocol     string `json:"protocol,omitempty"`
	Schema       string `json:"schema,omitempty"`
	ContextId    string `json:"contextId,omitempty"`
	ProtocolPath string `json:"protocolPath,omitempty"`
}

// Covers reports whether g is broad enough to authorize a request
// scoped to other: interface and method must match exactly; every
// non-empty field set on g must also be set and equal on other.
func (g GrantScope) Covers(other GrantScope) bool {
	if g.Interface != other.Interface || g.Method != other.Method {
		return false
	}
	if g.Protocol != "" && g.Protocol != other.Protocol {
		return false
	}
	if g.Schema != "" && g.Schema != other.Schema {
		return false
	}
	if g.ContextId != "" && g.ContextId != other.ContextId {
		return false
	}
	if g.ProtocolPath != "" && g.ProtocolPath != other.ProtocolPath {
		return false
	}
	return true
}

// GrantConditions are optional restrictions beyond scope. Only
// publication is modeled: a grant may require writes it authorizes to
// be published.
type GrantConditions struct {
	PublicationRequired bool `json:"publicationRequired,omitempty"`
}

// GrantData is the JSON payload of a grant record (a RecordsWrite at
// protocolPath "grant" under PermissionsProtocolURL).
type GrantData struct {
	DateExpires envelope.Timestamp `json:"dateExpires"`
	RequestId   string          `json:"requestId,omitempty"`
	Description string          `json:"description,omitempty"`
	Delegated   bool            `json:"delegated,omitempty"`
	Scope       GrantScope      `json:"scope"`
	Conditions  GrantConditions `json:"conditions,omitempty"`
}

// RequestData is the JSON payload of a request record (protocolPath
// "request").
type RequestData struct {
	Description string     `json:"description,omitempty"`
	Delegated   bool        `json:"delegated,omitempty"`
	Scope       GrantScope `json:"scope"`
}

// RevocationData is the JSON payload of a revocation record
// (protocolPath "grant/revocation"); its parentId names the grant it
// revokes.
type RevocationData struct {
	Description string `json:"description,omitempty"`
}
