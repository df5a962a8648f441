package message

import "github.com/nodeledger/dwn-core/pkg/envelope"

// EntryId computes the deterministic recordId for an initial write:
// the CID of its descriptor paired with the author who signed it. Two
// authors submitting byte-identical descriptors get different record
// ids, preventing an impersonation collision.
func EntryId(descriptorCid string, author string) (string, error) {
	c, err := envelope.CIDOf(map[string]any{
		"descriptorCid": descriptorCid,
		"author":        author,
	})
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// ContextIdFor computes a protocol record's contextId: the parent's
// contextId with this record's id appended, or just the record's own
// id at the root of a protocol tree.
func ContextIdFor(parentContextId *string, recordId string) string {
	if parentContextId == nil || *parentContextId == "" {
		return recordId
	}
	return *parentContextId + "/" + recordId
}
