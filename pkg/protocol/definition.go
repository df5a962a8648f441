package protocol

import "encoding/json"

// Action is one of the six verbs an action rule can grant.
type Action string

const (
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionDelete    Action = "delete"
	ActionRead      Action = "read"
	ActionQuery     Action = "query"
	ActionSubscribe Action = "subscribe"
)

// Who names the actor an action rule applies to when the rule isn't
// role-gated.
type Who string

const (
	WhoAnyone    Who = "anyone"
	WhoAuthor    Who = "author"
	WhoRecipient Who = "recipient"
)

// RoleKind distinguishes the two role scopes a rule set can declare.
// A rule set with RoleKind != RoleNone is itself a role: records
// written at its path grant the action authority roles in the tree
// reference by protocolPath.
type RoleKind string

const (
	RoleNone    RoleKind = ""
	RoleGlobal  RoleKind = "globalRole"
	RoleContext RoleKind = "contextRole"
)

// SizeRange bounds a RecordsWrite's dataSize, inclusive at both ends
// when set.
type SizeRange struct {
	Min *int64 `json:"min,omitempty"`
	Max *int64 `json:"max,omitempty"`
}

// ActionRule grants Can to Who (or to bearers of Role) at this rule
// set's path, optionally anchored to an ancestor named by Of.
type ActionRule struct {
	Who  Who      `json:"who,omitempty"`
	Of   string   `json:"of,omitempty"`
	Role string   `json:"role,omitempty"`
	Can  []Action `json:"can"`
}

// Allows reports whether a wants to be one of the actions this rule
// grants.
func (r ActionRule) Allows(want Action) bool {
	for _, c := range r.Can {
		if c == want {
			return true
		}
	}
	return false
}

// RuleSet is the node at a single protocolPath: the rules governing
// records of that type, plus the nested rule sets for child types. A
// protocol definition's structure tree nests a child type's own rule
// set directly under that type's name at the same level as the
// `$`-prefixed keys, so RuleSet carries custom (Un)MarshalJSON rather
// than struct tags to fold Children back into that shape.
type RuleSet struct {
	Size     *SizeRange
	Actions  []ActionRule
	Role     RoleKind
	Children map[string]*RuleSet
}

// MarshalJSON writes Size/Actions/Role under their `$size`/`$actions`/
// `$role` keys and every child rule set under its own type-name key, so
// the tree survives the message store's descriptor round-trip
// (ToDescriptorMap/TypedDescriptor) instead of being dropped.
func (r RuleSet) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Children)+3)
	if r.Size != nil {
		raw, err := json.Marshal(r.Size)
		if err != nil {
			return nil, err
		}
		out["$size"] = raw
	}
	if len(r.Actions) > 0 {
		raw, err := json.Marshal(r.Actions)
		if err != nil {
			return nil, err
		}
		out["$actions"] = raw
	}
	if r.Role != RoleNone {
		raw, err := json.Marshal(r.Role)
		if err != nil {
			return nil, err
		}
		out["$role"] = raw
	}
	for name, child := range r.Children {
		raw, err := json.Marshal(child)
		if err != nil {
			return nil, err
		}
		out[name] = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON is MarshalJSON's inverse: it peels off the
// `$`-prefixed keys and treats every remaining key as a nested type's
// rule set.
func (r *RuleSet) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["$size"]; ok {
		var size SizeRange
		if err := json.Unmarshal(v, &size); err != nil {
			return err
		}
		r.Size = &size
		delete(raw, "$size")
	}
	if v, ok := raw["$actions"]; ok {
		var actions []ActionRule
		if err := json.Unmarshal(v, &actions); err != nil {
			return err
		}
		r.Actions = actions
		delete(raw, "$actions")
	}
	if v, ok := raw["$role"]; ok {
		var role RoleKind
		if err := json.Unmarshal(v, &role); err != nil {
			return err
		}
		r.Role = role
		delete(raw, "$role")
	}

	if len(raw) == 0 {
		r.Children = nil
		return nil
	}
	r.Children = make(map[string]*RuleSet, len(raw))
	for name, v := range raw {
		child := &RuleSet{}
		if err := json.Unmarshal(v, child); err != nil {
			return err
		}
		r.Children[name] = child
	}
	return nil
}

// TypeDefinition constrains the records declared under a type name:
// an optional schema URL and/or an allow-list of data formats.
type TypeDefinition struct {
	Schema      string   `json:"schema,omitempty"`
	DataFormats []string `json:"dataFormats,omitempty"`
}

// Definition is an entire protocol: its declared types and the rule
// tree governing how records of those types compose and who may act
// on them. Definitions are immutable once configured; the
// authorization engine holds a shared reference rather than copying.
type Definition struct {
	Protocol  string                     `json:"protocol"`
	Published bool                       `json:"published"`
	Types     map[string]TypeDefinition  `json:"types"`
	Structure map[string]*RuleSet        `json:"structure"`
}

// RuleSetAt walks a slash-separated protocolPath ("thread/chat") from
// the definition's root and returns the rule set at that path, or nil
// if no such path is declared.
func (d Definition) RuleSetAt(path string) *RuleSet {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil
	}
	rs, ok := d.Structure[segments[0]]
	if !ok {
		return nil
	}
	for _, seg := range segments[1:] {
		if rs.Children == nil {
			return nil
		}
		next, ok := rs.Children[seg]
		if !ok {
			return nil
		}
		rs = next
	}
	return rs
}

// TypeNameAt returns the last path segment, the declared type name a
// rule set at path governs.
func TypeNameAt(path string) string {
	segments := splitPath(path)
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

// ParentPath returns path with its last segment removed, or "" if path
// is already a root segment.
func ParentPath(path string) string {
	segments := splitPath(path)
	if len(segments) <= 1 {
		return ""
	}
	return joinPath(segments[:len(segments)-1])
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			if i > start {
				out = append(out, path[start:i])
			}
			start = i + 1
		}
	}
	if start < len(path) {
		out = append(out, path[start:])
	}
	return out
}

func joinPath(segments []string) string {
	out := ""
	for i, s := range segments {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}
