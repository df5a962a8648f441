package index

import (
	"encoding/json"
	"fmt"
)

// maxSafeInteger mirrors the wire contract's Number.MAX_SAFE_INTEGER
// reference point (2^53-1): negative numbers encode as that constant
// plus the value, so that even the most negative supported integer
// still produces a non-negative, fixed-width digit string that sorts
// before every non-negative encoding.
const maxSafeInteger = int64(1)<<53 - 1

// EncodeValue renders a scalar index value into the fixed-width string
// form whose lexicographic order matches the value's natural order:
// strings are JSON-quoted (so "1" sorts apart from the number 1),
// non-negative numbers are 16-digit zero-padded decimal, negative
// numbers are "!" followed by 16-digit zero-padded (maxSafeInteger+n),
// and booleans are the literal strings "true"/"false".
//
// Only integer-valued numbers are supported (a fractional part is
// truncated); the numeric properties the core indexes (sizes) are
// integral, and timestamps are indexed as strings.
func EncodeValue(v any) (string, error) {
	switch val := v.(type) {
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("index: encode string: %w", err)
		}
		return string(b), nil
	case bool:
		if val {
			return "true", nil
		}
		return "false", nil
	case int:
		return encodeNumber(int64(val))
	case int32:
		return encodeNumber(int64(val))
	case int64:
		return encodeNumber(val)
	case float32:
		return encodeNumber(int64(val))
	case float64:
		return encodeNumber(int64(val))
	default:
		return "", fmt.Errorf("index: unsupported value type %T", v)
	}
}

func encodeNumber(n int64) (string, error) {
	if n < 0 {
		shifted := maxSafeInteger + n
		if shifted < 0 {
			return "", fmt.Errorf("index: value %d out of encodable range", n)
		}
		return fmt.Sprintf("!%016d", shifted), nil
	}
	return fmt.Sprintf("%016d", n), nil
}

// CompareValues orders two scalar index values the same way their
// encoded forms would sort: -1 if a<b, 0 if equal, 1 if a>b.
func CompareValues(a, b any) (int, error) {
	ea, err := EncodeValue(a)
	if err != nil {
		return 0, err
	}
	eb, err := EncodeValue(b)
	if err != nil {
		return 0, err
	}
	switch {
	case ea < eb:
		return -1, nil
	case ea > eb:
		return 1, nil
	default:
		return 0, nil
	}
}

// ValuesEqual reports whether a and b encode identically.
func ValuesEqual(a, b any) bool {
	ea, err1 := EncodeValue(a)
	eb, err2 := EncodeValue(b)
	return err1 == nil && err2 == nil && ea == eb
}
