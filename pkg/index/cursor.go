package index

// CursorValue is a typed sum: a string or a number, never an opaque
// interface{} a caller could hand back with the wrong underlying
// type.
type CursorValue struct {
	str *string
	num *float64
}

// StringCursorValue wraps a string sort-property value.
func StringCursorValue(s string) CursorValue { return CursorValue{str: &s} }

// NumberCursorValue wraps a numeric sort-property value.
func NumberCursorValue(n float64) CursorValue { return CursorValue{num: &n} }

// Raw returns the underlying string or float64, or nil if the zero
// value (no cursor).
func (c CursorValue) Raw() any {
	switch {
	case c.str != nil:
		return *c.str
	case c.num != nil:
		return *c.num
	default:
		return nil
	}
}

// IsString reports whether this cursor value holds a string.
func (c CursorValue) IsString() bool { return c.str != nil }

// IsNumber reports whether this cursor value holds a number.
func (c CursorValue) IsNumber() bool { return c.num != nil }

// SameKindAs reports whether v is the same Go kind (string vs number)
// this cursor value holds — used to surface IndexInvalidCursorValueType
// instead of silently comparing apples to oranges.
func (c CursorValue) SameKindAs(v any) bool {
	switch v.(type) {
	case string:
		return c.IsString()
	case int, int32, int64, float32, float64:
		return c.IsNumber()
	default:
		return false
	}
}

// Cursor identifies the last item returned by a previous page: the
// item's value on the sort property, and the item's id as a
// tie-breaker (the same role recordId/messageCid plays in forward
// index keys).
type Cursor struct {
	Value  CursorValue
	ItemId string
}
