package protocol

import (
	"fmt"
	"strings"

	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
)

// Validate checks structural well-formedness of a definition before
// ProtocolsConfigure accepts it: no duplicate action rules within a
// rule set, no duplicate role declarations, every action rule's Of
// resolves to a declared ancestor path, update/delete actions require
// an accompanying create rule, and no contextRole is declared at the
// tree root, where there is no parent context to scope it to (a
// globalRole may be declared at any level).
func Validate(def Definition) error {
	if err := walk(def, "", def.Structure, nil); err != nil {
		return err
	}
	return nil
}

func walk(def Definition, parentPath string, level map[string]*RuleSet, seenRoles map[string]bool) error {
	if seenRoles == nil {
		seenRoles = map[string]bool{}
	}
	for typeName, rs := range level {
		path := typeName
		if parentPath != "" {
			path = parentPath + "/" + typeName
		}

		if rs.Role != RoleNone {
			if parentPath == "" && rs.Role == RoleContext {
				return dwnerrors.New(dwnerrors.CodeInvalidRolePlacement,
					fmt.Sprintf("contextRole %q declared at tree root has no context to scope to", path))
			}
			if seenRoles[path] {
				return dwnerrors.New(dwnerrors.CodeDuplicateRoleRecord,
					fmt.Sprintf("role %q declared more than once", path))
			}
			seenRoles[path] = true
		}

		if err := validateActions(path, rs.Actions); err != nil {
			return err
		}
		for _, rule := range rs.Actions {
			if rule.Of == "" {
				continue
			}
			if def.RuleSetAt(rule.Of) == nil || !strings.HasPrefix(path, rule.Of+"/") {
				return dwnerrors.New(dwnerrors.CodeInvalidActionOf,
					fmt.Sprintf("action rule at %q references %q, which is not a declared ancestor path", path, rule.Of))
			}
		}

		if err := walk(def, path, rs.Children, seenRoles); err != nil {
			return err
		}
	}
	return nil
}

// validateActions enforces: no two rules share the same
// (who, of, role) triple, and any rule granting update or delete is
// accompanied by a rule (possibly the same one) granting create.
func validateActions(path string, rules []ActionRule) error {
	seen := map[string]bool{}
	hasCreate := false
	needsCreate := false

	for _, rule := range rules {
		key := fmt.Sprintf("%s|%s|%s", rule.Who, rule.Of, rule.Role)
		if seen[key] {
			return dwnerrors.New(dwnerrors.CodeDuplicateActionRule,
				fmt.Sprintf("duplicate action rule at %q for who=%s of=%s role=%s", path, rule.Who, rule.Of, rule.Role))
		}
		seen[key] = true

		if rule.Allows(ActionCreate) {
			hasCreate = true
		}
		if rule.Allows(ActionUpdate) || rule.Allows(ActionDelete) {
			needsCreate = true
		}
	}

	if needsCreate && !hasCreate {
		return dwnerrors.New(dwnerrors.CodeMissingCreateAction,
			fmt.Sprintf("rule set at %q grants update/delete without an accompanying create rule", path))
	}
	return nil
}
