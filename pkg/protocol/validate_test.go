package protocol

import (
	"testing"

	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsBuiltinPermissions(t *testing.T) {
	require.NoError(t, Validate(BuiltinPermissionsDefinition()))
}

func TestValidateRejectsDuplicateActionRule(t *testing.T) {
	def := Definition{
		Protocol: "https://example.com/p",
		Structure: map[string]*RuleSet{
			"thread": {
				Actions: []ActionRule{
					{Who: WhoAnyone, Can: []Action{ActionCreate}},
					{Who: WhoAnyone, Can: []Action{ActionRead}},
				},
			},
		},
	}
	err := Validate(def)
	require.Error(t, err)
	e, ok := dwnerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, dwnerrors.CodeDuplicateActionRule, e.Code)
}

func TestValidateRejectsUpdateWithoutCreate(t *testing.T) {
	def := Definition{
		Protocol: "https://example.com/p",
		Structure: map[string]*RuleSet{
			"thread": {
				Actions: []ActionRule{
					{Who: WhoAuthor, Can: []Action{ActionUpdate}},
				},
			},
		},
	}
	err := Validate(def)
	require.Error(t, err)
	e, ok := dwnerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, dwnerrors.CodeMissingCreateAction, e.Code)
}

func TestValidateRejectsDanglingActionOf(t *testing.T) {
	def := Definition{
		Protocol: "https://example.com/p",
		Structure: map[string]*RuleSet{
			"thread": {
				Children: map[string]*RuleSet{
					"chat": {
						Actions: []ActionRule{
							{Who: WhoRecipient, Of: "thread/nonexistent", Can: []Action{ActionCreate}},
						},
					},
				},
			},
		},
	}
	err := Validate(def)
	require.Error(t, err)
	e, ok := dwnerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, dwnerrors.CodeInvalidActionOf, e.Code)
}

func TestRuleSetAtWalksNestedPath(t *testing.T) {
	def := BuiltinPermissionsDefinition()
	rs := def.RuleSetAt(PathGrantRevocation)
	require.NotNil(t, rs)
	assert.Equal(t, MaxPermissionsRecordSize, int(*rs.Size.Max))
}

func TestGrantScopeCovers(t *testing.T) {
	broad := GrantScope{Interface: "Records", Method: "Write"}
	narrow := GrantScope{Interface: "Records", Method: "Write", Protocol: "https://example.com/p"}
	assert.True(t, broad.Covers(narrow))
	assert.False(t, narrow.Covers(broad))
}
