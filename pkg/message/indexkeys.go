package message

// Index property names. Every store that indexes a message (via
// pkg/messagestore, ultimately pkg/index) and every reader that
// queries it (pkg/authz, pkg/handlers) agree on these names so a
// filter built in one package matches entries written by another.
const (
	IndexInterface        = "interface"
	IndexMethod           = "method"
	IndexRecordId         = "recordId"
	IndexContextId        = "contextId"
	IndexParentId         = "parentId"
	IndexProtocol         = "protocol"
	IndexProtocolPath     = "protocolPath"
	IndexSchema           = "schema"
	IndexRecipient        = "recipient"
	IndexDataFormat       = "dataFormat"
	IndexDataCid          = "dataCid"
	IndexDataSize         = "dataSize"
	IndexPublished        = "published"
	IndexDateCreated      = "dateCreated"
	IndexDatePublished    = "datePublished"
	IndexMessageTimestamp = "messageTimestamp"
	IndexAuthor           = "author"
	IndexIsLatestBaseState = "isLatestBaseState"
	IndexIsInitialWrite   = "isInitialWrite"
	IndexTenant           = "tenant"
)
