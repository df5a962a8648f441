package envelope

import (
	"fmt"
	"time"
)

// TimestampLayout is the ISO-8601-with-microseconds form every
// messageTimestamp, dateCreated and dateExpires uses on the wire. Using
// a fixed string representation (rather than letting the CBOR/JSON
// codec pick a time encoding) keeps canonical encoding byte-for-byte
// reproducible across codec versions.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Timestamp is a wire-format instant: a plain string so it round-trips
// through canonical CBOR identically regardless of codec defaults, with
// microsecond precision as required by the wire format.
type Timestamp string

// NewTimestamp formats t at microsecond precision in UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp(t.UTC().Format(TimestampLayout))
}

// Now returns the current instant as a Timestamp.
func Now() Timestamp {
	return NewTimestamp(time.Now())
}

// Time parses the timestamp back into a time.Time.
func (t Timestamp) Time() (time.Time, error) {
	parsed, err := time.Parse(TimestampLayout, string(t))
	if err != nil {
		return time.Time{}, fmt.Errorf("envelope: parse timestamp %q: %w", t, err)
	}
	return parsed, nil
}

// IsZero reports whether t is the empty string.
func (t Timestamp) IsZero() bool {
	return t == ""
}

// Before reports whether t chronologically precedes other. Safe to use
// for unparsed comparison too since the fixed-width layout sorts
// lexicographically the same as chronologically, but this parses to
// guard against malformed input rather than trusting that invariant.
func (t Timestamp) Before(other Timestamp) bool {
	tt, err1 := t.Time()
	ot, err2 := other.Time()
	if err1 != nil || err2 != nil {
		return string(t) < string(other)
	}
	return tt.Before(ot)
}

// Compare returns -1, 0 or 1 as t is before, equal to, or after other.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t == other:
		return 0
	case t.Before(other):
		return -1
	default:
		return 1
	}
}

// UnixMicro parses t and returns microseconds since the Unix epoch.
// Index properties do not use this form: handlers index a timestamp as
// its string, whose fixed-width layout sorts chronologically.
func (t Timestamp) UnixMicro() (int64, error) {
	parsed, err := t.Time()
	if err != nil {
		return 0, err
	}
	return parsed.UnixMicro(), nil
}
