package index

import "fmt"

// Predicate constrains a single property's value within a Filter.
type Predicate interface {
	matches(v any) bool
	// boundsKind distinguishes Equal/OneOf (point lookups, cheap to
	// prefix-scan) from Range (needs a bounded scan), used by the
	// in-memory paging strategy to pick the most selective property.
	boundsKind() boundsKind
}

type boundsKind int

const (
	boundsPoint boundsKind = iota
	boundsRange
)

// EqualPredicate matches a single scalar value.
type EqualPredicate struct{ Value any }

// Equal builds a predicate matching exactly v.
func Equal(v any) Predicate { return EqualPredicate{Value: v} }

func (p EqualPredicate) matches(v any) bool   { return ValuesEqual(p.Value, v) }
func (p EqualPredicate) boundsKind() boundsKind { return boundsPoint }

// OneOfPredicate matches any of several scalar values (an OR within a
// single property).
type OneOfPredicate struct{ Values []any }

// OneOf builds a predicate matching any of vals.
func OneOf(vals ...any) Predicate { return OneOfPredicate{Values: vals} }

func (p OneOfPredicate) matches(v any) bool {
	for _, want := range p.Values {
		if ValuesEqual(want, v) {
			return true
		}
	}
	return false
}
func (p OneOfPredicate) boundsKind() boundsKind { return boundsPoint }

// RangePredicate matches values within the bounds that are set. At
// least one of GT/GTE/LT/LTE must be non-nil; NewRange enforces this.
type RangePredicate struct {
	GT, GTE, LT, LTE *any
}

// NewRange builds a range predicate. Passing nil for every bound is an
// error: a range filter must constrain at least one side.
func NewRange(gt, gte, lt, lte *any) (Predicate, error) {
	if gt == nil && gte == nil && lt == nil && lte == nil {
		return nil, fmt.Errorf("index: range predicate requires at least one bound")
	}
	return RangePredicate{GT: gt, GTE: gte, LT: lt, LTE: lte}, nil
}

func (p RangePredicate) matches(v any) bool {
	if p.GT != nil {
		if c, err := CompareValues(v, *p.GT); err != nil || c <= 0 {
			return false
		}
	}
	if p.GTE != nil {
		if c, err := CompareValues(v, *p.GTE); err != nil || c < 0 {
			return false
		}
	}
	if p.LT != nil {
		if c, err := CompareValues(v, *p.LT); err != nil || c >= 0 {
			return false
		}
	}
	if p.LTE != nil {
		if c, err := CompareValues(v, *p.LTE); err != nil || c > 0 {
			return false
		}
	}
	return true
}
func (p RangePredicate) boundsKind() boundsKind { return boundsRange }

// Filter AND-composes predicates over named properties; every key
// present must match the corresponding property on a candidate item
// (a property the filter names but the item lacks never matches).
type Filter map[string]Predicate

func (f Filter) matches(indexes map[string]any) bool {
	for name, pred := range f {
		v, ok := indexes[name]
		if !ok {
			return false
		}
		if !pred.matches(v) {
			return false
		}
	}
	return true
}

func matchesAny(filters []Filter, indexes map[string]any) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.matches(indexes) {
			return true
		}
	}
	return false
}

// MatchesAny reports whether indexes satisfies the OR-union of
// filters (each Filter itself AND-composed), the same algebra Query
// uses. Exported so other stores needing this predicate language
// without full secondary-index paging (the event log's append-order
// scan, notably) don't reimplement it.
func MatchesAny(filters []Filter, indexes map[string]any) bool {
	return matchesAny(filters, indexes)
}
