package envelope

import (
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var (
	encModeOnce sync.Once
	encMode     cbor.EncMode
	encModeErr  error
)

// canonicalEncMode lazily builds the RFC 8949 core-deterministic encoder:
// sorted map keys, shortest-form integers and floats, no indefinite-length
// items. Two calls to Encode with equal input always produce equal bytes,
// which is the property descriptorCid/messageCid depend on.
func canonicalEncMode() (cbor.EncMode, error) {
	encModeOnce.Do(func() {
		encMode, encModeErr = cbor.CoreDetEncOptions().EncMode()
	})
	return encMode, encModeErr
}

// EncodeCanonical serializes v as core-deterministic CBOR.
func EncodeCanonical(v any) ([]byte, error) {
	mode, err := canonicalEncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(v)
}

// Decode deserializes CBOR bytes into v. Decoding is not required to be
// canonical — only encoding (for hashing) is.
func Decode(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
