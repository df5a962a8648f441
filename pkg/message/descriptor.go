package message

import (
	"github.com/nodeledger/dwn-core/pkg/envelope"
	"github.com/nodeledger/dwn-core/pkg/protocol"
)

// Interface names the four top-level interfaces a message can target.
type Interface string

const (
	InterfaceRecords     Interface = "Records"
	InterfaceProtocols   Interface = "Protocols"
	InterfaceMessages    Interface = "Messages"
	InterfacePermissions Interface = "Permissions"
)

// Method names a method within an interface. Method values are not
// unique across interfaces (both Protocols and Records have "Query"),
// so callers key on (Interface, Method) pairs, never Method alone.
type Method string

const (
	MethodWrite     Method = "Write"
	MethodRead      Method = "Read"
	MethodQuery     Method = "Query"
	MethodSubscribe Method = "Subscribe"
	MethodDelete    Method = "Delete"
	MethodConfigure Method = "Configure"
	MethodGet       Method = "Get"
	MethodRequest   Method = "Request"
	MethodGrant     Method = "Grant"
	MethodRevoke    Method = "Revoke"
)

// Descriptor is implemented by every concrete descriptor variant. It is
// the sum type's common interface: enough to route a message without
// knowing its precise shape.
type Descriptor interface {
	GetInterface() Interface
	GetMethod() Method
	GetMessageTimestamp() envelope.Timestamp
}

// base carries the fields every descriptor variant shares. Embedded,
// never used standalone.
type base struct {
	Interface        Interface          `cbor:"interface" json:"interface"`
	Method           Method             `cbor:"method" json:"method"`
	MessageTimestamp envelope.Timestamp `cbor:"messageTimestamp" json:"messageTimestamp"`
}

func (b base) GetInterface() Interface                     { return b.Interface }
func (b base) GetMethod() Method                            { return b.Method }
func (b base) GetMessageTimestamp() envelope.Timestamp      { return b.MessageTimestamp }

// SizeRange bounds inline data size, mirrored from a protocol rule
// set's $size during RecordsWrite validation.
type SizeRange struct {
	Min *int64 `cbor:"min,omitempty" json:"min,omitempty"`
	Max *int64 `cbor:"max,omitempty" json:"max,omitempty"`
}

// RecordsWriteDescriptor describes a write (initial or subsequent) of a
// record. Protocol, ProtocolPath, Recipient, Schema, ParentId and
// DateCreated are immutable across every write of the same RecordId.
type RecordsWriteDescriptor struct {
	base

	Protocol      *string             `cbor:"protocol,omitempty" json:"protocol,omitempty"`
	ProtocolPath  *string             `cbor:"protocolPath,omitempty" json:"protocolPath,omitempty"`
	Recipient     *string             `cbor:"recipient,omitempty" json:"recipient,omitempty"`
	Schema        *string             `cbor:"schema,omitempty" json:"schema,omitempty"`
	ParentId      *string             `cbor:"parentId,omitempty" json:"parentId,omitempty"`
	DataFormat    string              `cbor:"dataFormat" json:"dataFormat"`
	DataCid       string              `cbor:"dataCid" json:"dataCid"`
	DataSize      int64               `cbor:"dataSize" json:"dataSize"`
	DateCreated   envelope.Timestamp  `cbor:"dateCreated" json:"dateCreated"`
	Published     *bool               `cbor:"published,omitempty" json:"published,omitempty"`
	DatePublished *envelope.Timestamp `cbor:"datePublished,omitempty" json:"datePublished,omitempty"`
}

// RecordsDeleteDescriptor tombstones a record.
type RecordsDeleteDescriptor struct {
	base

	RecordId string `cbor:"recordId" json:"recordId"`
}

// RecordsReadDescriptor fetches a single record by id or by filter.
type RecordsReadDescriptor struct {
	base

	Filter RecordsFilter `cbor:"filter" json:"filter"`
}

// RecordsQueryDescriptor lists records matching a filter, sorted and
// paginated.
type RecordsQueryDescriptor struct {
	base

	Filter         RecordsFilter `cbor:"filter" json:"filter"`
	DateSort       string        `cbor:"dateSort,omitempty" json:"dateSort,omitempty"`
	PaginationCid  string        `cbor:"paginationMessageCid,omitempty" json:"paginationMessageCid,omitempty"`
	PaginationLimit int          `cbor:"paginationLimit,omitempty" json:"paginationLimit,omitempty"`
}

// RecordsSubscribeDescriptor is the live-query counterpart of
// RecordsQueryDescriptor; it carries the same filter shape and no
// pagination (subscriptions are unbounded streams).
type RecordsSubscribeDescriptor struct {
	base

	Filter RecordsFilter `cbor:"filter" json:"filter"`
}

// RecordsFilter is the filter algebra RecordsRead/Query/Subscribe
// share: any populated field further constrains the
// match, all populated fields AND together.
type RecordsFilter struct {
	RecordId     *string `cbor:"recordId,omitempty" json:"recordId,omitempty"`
	Protocol     *string `cbor:"protocol,omitempty" json:"protocol,omitempty"`
	ProtocolPath *string `cbor:"protocolPath,omitempty" json:"protocolPath,omitempty"`
	ContextId    *string `cbor:"contextId,omitempty" json:"contextId,omitempty"`
	ParentId     *string `cbor:"parentId,omitempty" json:"parentId,omitempty"`
	Schema       *string `cbor:"schema,omitempty" json:"schema,omitempty"`
	Recipient    *string `cbor:"recipient,omitempty" json:"recipient,omitempty"`
	DataFormat   *string `cbor:"dataFormat,omitempty" json:"dataFormat,omitempty"`
	Published    *bool   `cbor:"published,omitempty" json:"published,omitempty"`
}

// ProtocolsConfigureDescriptor installs or updates a protocol
// definition. Overwrite precedence is by (MessageTimestamp,
// messageCid) pair, decided at the handler, not here.
type ProtocolsConfigureDescriptor struct {
	base

	Definition protocol.Definition `cbor:"definition" json:"definition"`
}

// ProtocolsQueryDescriptor looks up a configured protocol by URL.
type ProtocolsQueryDescriptor struct {
	base

	Filter ProtocolsFilter `cbor:"filter" json:"filter"`
}

// ProtocolsFilter narrows a ProtocolsQuery. An empty Protocol matches
// every protocol configured for the tenant.
type ProtocolsFilter struct {
	Protocol string `cbor:"protocol,omitempty" json:"protocol,omitempty"`
}

// MessagesGetDescriptor fetches one or more messages by CID.
type MessagesGetDescriptor struct {
	base

	MessageCids []string `cbor:"messageCids" json:"messageCids"`
}

// MessagesFilter narrows a MessagesSubscribe stream, independent of the
// RecordsFilter shape since Messages events span every interface.
type MessagesFilter struct {
	Interface *Interface `cbor:"interface,omitempty" json:"interface,omitempty"`
	Method    *Method    `cbor:"method,omitempty" json:"method,omitempty"`
	Protocol  *string    `cbor:"protocol,omitempty" json:"protocol,omitempty"`
}

// MessagesSubscribeDescriptor opens a live stream of message events
// across interfaces, narrowed by an OR-union of MessagesFilter.
type MessagesSubscribeDescriptor struct {
	base

	Filters []MessagesFilter `cbor:"filters,omitempty" json:"filters,omitempty"`
}

var (
	_ Descriptor = RecordsWriteDescriptor{}
	_ Descriptor = RecordsDeleteDescriptor{}
	_ Descriptor = RecordsReadDescriptor{}
	_ Descriptor = RecordsQueryDescriptor{}
	_ Descriptor = RecordsSubscribeDescriptor{}
	_ Descriptor = ProtocolsConfigureDescriptor{}
	_ Descriptor = ProtocolsQueryDescriptor{}
	_ Descriptor = MessagesGetDescriptor{}
	_ Descriptor = MessagesSubscribeDescriptor{}
)
