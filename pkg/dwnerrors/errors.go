// Package dwnerrors classifies the failures the core can produce so the
// dispatcher can translate them into reply statuses without leaking
// internals: parse/schema and integrity failures map to 400, authentication
// to 401, authorization to 401, conflicts to 409, unimplemented surfaces to
// 501, and anything unclassified to 500.
package dwnerrors

import (
	"errors"
	"fmt"
)

// Code identifies a specific failure reason: a component prefix
// (Authenticate, Grant, Protocol, Action, Index, Url, Data, Record)
// followed by the specific condition.
type Code string

const (
	// Parse / schema — 400
	CodeInvalidDescriptor       Code = "InvalidDescriptor"
	CodeSchemaValidationFailed  Code = "SchemaValidationFailed"
	CodeUrlProtocolNotNormalized Code = "UrlProtocolNotNormalized"
	CodeUrlSchemaNotNormalized  Code = "UrlSchemaNotNormalized"
	CodeDuplicateActionRule      Code = "ProtocolDuplicateActionRule"
	CodeInvalidActionOf          Code = "ProtocolInvalidActionOf"
	CodeMissingCreateAction      Code = "ProtocolMissingCreateAction"
	CodeInvalidRolePlacement     Code = "ProtocolInvalidRolePlacement"

	// Integrity — 400
	CodeDescriptorCidMismatch   Code = "AuthenticateDescriptorCidMismatch"
	CodeDataCidMismatch         Code = "DataCidMismatch"
	CodeDataSizeMismatch        Code = "DataSizeMismatch"
	CodeRecordIdMismatch        Code = "RecordIdMismatch"
	CodeContextIdMismatch       Code = "ContextIdMismatch"
	CodeImmutablePropertyChanged Code = "ImmutablePropertyChanged"
	CodeMissingDataInPrevious   Code = "MissingDataInPrevious"
	CodeIndexInvalidSortProperty Code = "IndexInvalidSortProperty"
	CodeIndexInvalidCursorValueType Code = "IndexInvalidCursorValueType"
	CodeIndexNoIndexableProperties Code = "IndexNoIndexableProperties"

	// Authentication — 401
	CodeMoreThanOneSignature Code = "AuthenticationMoreThanOneSignatureNotSupported"
	CodeInvalidSignature     Code = "AuthenticationInvalidSignature"
	CodeDidResolutionFailed  Code = "AuthenticationDidResolutionFailed"

	// Authorization — 401
	CodeGrantMissing              Code = "GrantAuthorizationGrantMissing"
	CodeGrantNotGrantedToAuthor   Code = "GrantAuthorizationNotGrantedToAuthor"
	CodeGrantNotGrantedForTenant  Code = "GrantAuthorizationNotGrantedForTenant"
	CodeGrantNotYetActive         Code = "GrantNotYetActive"
	CodeGrantExpired              Code = "GrantExpired"
	CodeGrantRevoked              Code = "GrantRevoked"
	CodeInterfaceMismatch         Code = "InterfaceMismatch"
	CodeMethodMismatch            Code = "MethodMismatch"
	CodeGrantScopeMismatch        Code = "GrantScopeMismatch"
	CodeNotADelegatedGrant        Code = "NotADelegatedGrant"
	CodeGrantedToAndSignerMismatch Code = "GrantedToAndSignerMismatch"
	CodeGrantCidMismatch          Code = "GrantCidMismatch"
	CodeProtocolNotFound          Code = "ProtocolNotFound"
	CodeMissingRuleSet            Code = "MissingRuleSet"
	CodeActionNotAllowed          Code = "ActionNotAllowed"
	CodeNotARole                  Code = "NotARole"
	CodeMissingRole               Code = "MissingRole"
	CodeParentNotFound            Code = "ParentNotFoundConstructingAncestorChain"
	CodeDuplicateRoleRecord       Code = "DuplicateRoleRecord"
	CodeSizeOutOfRange            Code = "RecordSizeOutOfRange"
	CodeUnauthorized              Code = "Unauthorized"

	// Not found — 404
	CodeNotFound           Code = "NotFound"
	CodeGetInitialWriteNotFound Code = "GetInitialWriteNotFound"

	// Conflict — 409
	CodeConflict Code = "Conflict"

	// Unavailable — 501
	CodeSubscriptionsNotSupported Code = "SubscriptionsNotSupported"

	// Internal — 500
	CodeInternal Code = "Internal"
)

// Error is a classified failure carrying enough information for the
// dispatcher to build a reply without inspecting arbitrary error chains.
type Error struct {
	Code    Code
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New creates a classified error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Wrapped: err}
}

// As reports whether err (or something it wraps) is a *Error, returning it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps a code to its reply status code. Unrecognized codes
// are treated as internal errors.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidDescriptor, CodeSchemaValidationFailed,
		CodeUrlProtocolNotNormalized, CodeUrlSchemaNotNormalized,
		CodeDescriptorCidMismatch, CodeDataCidMismatch, CodeDataSizeMismatch,
		CodeRecordIdMismatch, CodeContextIdMismatch, CodeImmutablePropertyChanged,
		CodeMissingDataInPrevious, CodeIndexInvalidSortProperty,
		CodeIndexInvalidCursorValueType, CodeDuplicateActionRule,
		CodeInvalidActionOf, CodeMissingCreateAction, CodeInvalidRolePlacement,
		CodeIndexNoIndexableProperties:
		return 400
	case CodeMoreThanOneSignature, CodeInvalidSignature, CodeDidResolutionFailed:
		return 401
	case CodeGrantMissing, CodeGrantNotGrantedToAuthor, CodeGrantNotGrantedForTenant,
		CodeGrantNotYetActive, CodeGrantExpired, CodeGrantRevoked,
		CodeInterfaceMismatch, CodeMethodMismatch, CodeGrantScopeMismatch, CodeNotADelegatedGrant,
		CodeGrantedToAndSignerMismatch, CodeGrantCidMismatch, CodeProtocolNotFound,
		CodeMissingRuleSet, CodeActionNotAllowed, CodeNotARole, CodeMissingRole,
		CodeParentNotFound, CodeDuplicateRoleRecord, CodeSizeOutOfRange,
		CodeUnauthorized:
		return 401
	case CodeNotFound, CodeGetInitialWriteNotFound:
		return 404
	case CodeConflict:
		return 409
	case CodeSubscriptionsNotSupported:
		return 501
	default:
		return 500
	}
}
