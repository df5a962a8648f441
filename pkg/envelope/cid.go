package envelope

import (
	"fmt"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// CID is the content identifier this module uses everywhere a messageCid
// or descriptorCid is needed: a CIDv1 over a raw-codec SHA-256 multihash,
// rendered in its default (base32, lowercase) text form.
type CID struct {
	inner gocid.Cid
}

// String returns the base32-lowercase text form.
func (c CID) String() string {
	return c.inner.String()
}

// Equal reports whether two CIDs address the same bytes.
func (c CID) Equal(other CID) bool {
	return c.inner.Equals(other.inner)
}

// IsZero reports whether c is the zero value (no CID computed).
func (c CID) IsZero() bool {
	return !c.inner.Defined()
}

// ComputeCID hashes bytes exactly as given into a CID, without encoding
// them first. Used directly when the caller already has the bytes to
// address in hand (record data in pkg/blobstore, or bytes that were
// already canonically encoded).
func ComputeCID(data []byte) (CID, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return CID{}, fmt.Errorf("envelope: hash: %w", err)
	}
	return CID{inner: gocid.NewCidV1(gocid.Raw, mh)}, nil
}

// CIDOf canonically encodes v and computes its CID in one step. This is
// the function descriptorCid and messageCid are both built from — the
// only difference between them is what value is passed in (the
// descriptor alone, or the full message).
func CIDOf(v any) (CID, error) {
	data, err := EncodeCanonical(v)
	if err != nil {
		return CID{}, fmt.Errorf("envelope: encode: %w", err)
	}
	return ComputeCID(data)
}

// ParseCID parses a CID's text form back into structural form.
func ParseCID(s string) (CID, error) {
	c, err := gocid.Decode(s)
	if err != nil {
		return CID{}, fmt.Errorf("envelope: parse cid %q: %w", s, err)
	}
	return CID{inner: c}, nil
}
