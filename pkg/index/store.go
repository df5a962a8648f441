package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
	"github.com/nodeledger/dwn-core/pkg/kv"
	"github.com/nodeledger/dwn-core/pkg/metrics"
)

// DefaultConciseProperties names the Records correlation properties
// whose presence in a filter (absent a cursor) is expected to narrow
// the result set enough that in-memory paging beats iterator paging —
// mirrors the property set message store queries typically key on.
var DefaultConciseProperties = []string{"protocolPath", "contextId", "parentId", "schema"}

// IndexedItem is one matched entry: its id and its full property bag.
type IndexedItem struct {
	ItemId  string
	Indexes map[string]any
}

// Direction orders a sorted query result.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// QueryOptions controls sort, pagination and strategy selection for
// Query.
type QueryOptions struct {
	SortProperty string
	Direction    Direction
	Limit        int
	Cursor       *Cursor
}

// Store is the per-engine index store; every method is scoped by an
// explicit tenant argument rather than per-tenant construction, since
// a single KV engine backs every tenant.
type Store struct {
	engine *kv.Engine
}

// New wraps an open KV engine as an index store.
func New(engine *kv.Engine) *Store {
	return &Store{engine: engine}
}

type itemRecord struct {
	ItemId  string         `json:"itemId"`
	Indexes map[string]any `json:"indexes"`
}

func forwardPartition(tenant, property string) string { return tenant + "/__" + property + "__" }
func reversePartition(tenant string) string            { return tenant + "/index" }

// Put indexes itemId under every (name, value) pair in indexes. At
// least one indexable property is required. Put is atomic: either
// every forward entry and the reverse lookup land, or none do.
func (s *Store) Put(ctx context.Context, tenant, itemId string, indexes map[string]any) error {
	if len(indexes) == 0 {
		return dwnerrors.New(dwnerrors.CodeIndexNoIndexableProperties,
			fmt.Sprintf("item %q has no indexable properties", itemId))
	}

	rec := itemRecord{ItemId: itemId, Indexes: indexes}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("index: marshal: %w", err)
	}

	ops := make([]kv.Op, 0, len(indexes)+1)
	for name, v := range indexes {
		encoded, err := EncodeValue(v)
		if err != nil {
			return fmt.Errorf("index: property %q: %w", name, err)
		}
		ops = append(ops, kv.Op{
			Type:      kv.OpPut,
			Partition: forwardPartition(tenant, name),
			Key:       []byte(encoded + "\x00" + itemId),
			Value:     value,
		})
	}
	ops = append(ops, kv.Op{
		Type: kv.OpPut, Partition: reversePartition(tenant), Key: []byte(itemId), Value: value,
	})

	return s.engine.Batch(ctx, ops)
}

// Delete removes every forward entry for itemId, found via its
// reverse lookup. A missing reverse entry is a no-op.
func (s *Store) Delete(ctx context.Context, tenant, itemId string) error {
	raw, ok, err := s.engine.Get(ctx, reversePartition(tenant), []byte(itemId))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var rec itemRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("index: unmarshal reverse entry for %q: %w", itemId, err)
	}

	ops := make([]kv.Op, 0, len(rec.Indexes)+1)
	for name, v := range rec.Indexes {
		encoded, err := EncodeValue(v)
		if err != nil {
			continue
		}
		ops = append(ops, kv.Op{
			Type: kv.OpDelete, Partition: forwardPartition(tenant, name), Key: []byte(encoded + "\x00" + itemId),
		})
	}
	ops = append(ops, kv.Op{Type: kv.OpDelete, Partition: reversePartition(tenant), Key: []byte(itemId)})

	return s.engine.Batch(ctx, ops)
}

// Query evaluates the OR-union of filters, sorted by opts.SortProperty
// and paginated per opts.Cursor/opts.Limit. The strategy (in-memory vs
// iterator paging) is chosen once for the whole query: if any filter is
// non-concise, every filter is evaluated via iterator paging.
func (s *Store) Query(ctx context.Context, tenant string, filters []Filter, opts QueryOptions) ([]IndexedItem, error) {
	if opts.SortProperty == "" {
		return nil, fmt.Errorf("index: sortProperty is required")
	}

	concise := true
	for _, f := range filters {
		if !isConciseFilter(f, opts.Cursor != nil) {
			concise = false
			break
		}
	}

	strategy := "concise"
	if !concise {
		strategy = "iterator"
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.IndexQueryDuration, strategy)

	if concise {
		return s.queryInMemory(ctx, tenant, filters, opts)
	}
	return s.queryIterator(ctx, tenant, filters, opts)
}

func isConciseFilter(f Filter, hasCursor bool) bool {
	if _, ok := f["recordId"]; ok {
		return true
	}
	if hasCursor {
		return false
	}
	for _, name := range DefaultConciseProperties {
		if _, ok := f[name]; ok {
			return true
		}
	}
	return false
}

// mostSelective picks the property to prefix/range-scan for a filter:
// prefer an Equal/OneOf predicate (point lookup) over a Range
// predicate (bounded scan), since point lookups return fewer
// candidates to verify against the rest of the filter.
func mostSelective(f Filter) (string, Predicate, bool) {
	var rangeName string
	var rangePred Predicate
	haveRange := false
	for name, pred := range f {
		if pred.boundsKind() == boundsPoint {
			return name, pred, true
		}
		if !haveRange {
			rangeName, rangePred, haveRange = name, pred, true
		}
	}
	if haveRange {
		return rangeName, rangePred, true
	}
	return "", nil, false
}

func (s *Store) queryInMemory(ctx context.Context, tenant string, filters []Filter, opts QueryOptions) ([]IndexedItem, error) {
	candidates := map[string]map[string]any{}

	for _, f := range filters {
		name, pred, ok := mostSelective(f)
		if !ok {
			continue
		}
		entries, err := s.scanProperty(ctx, tenant, name, pred)
		if err != nil {
			return nil, err
		}
		for _, rec := range entries {
			if f.matches(rec.Indexes) {
				candidates[rec.ItemId] = rec.Indexes
			}
		}
	}

	items := make([]IndexedItem, 0, len(candidates))
	for id, idx := range candidates {
		items = append(items, IndexedItem{ItemId: id, Indexes: idx})
	}

	sorted, err := sortItems(items, opts.SortProperty, opts.Direction)
	if err != nil {
		return nil, err
	}

	return paginateInMemory(sorted, opts)
}

// scanProperty returns every indexed record whose value on name
// satisfies pred, scanning only the portion of that property's
// partition the predicate's bounds require.
func (s *Store) scanProperty(ctx context.Context, tenant, name string, pred Predicate) ([]itemRecord, error) {
	partition := forwardPartition(tenant, name)
	var out []itemRecord

	collect := func(opts kv.IteratorOptions) error {
		return s.engine.Iterate(ctx, partition, opts, func(entry kv.KV) (bool, error) {
			var rec itemRecord
			if err := json.Unmarshal(entry.Value, &rec); err != nil {
				return false, fmt.Errorf("index: unmarshal forward entry: %w", err)
			}
			out = append(out, rec)
			return true, nil
		})
	}

	switch p := pred.(type) {
	case EqualPredicate:
		if err := scanPoint(collect, p.Value); err != nil {
			return nil, err
		}
	case OneOfPredicate:
		for _, v := range p.Values {
			if err := scanPoint(collect, v); err != nil {
				return nil, err
			}
		}
	case RangePredicate:
		if err := scanRange(collect, p); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("index: unknown predicate type %T", pred)
	}
	return out, nil
}

func scanPoint(collect func(kv.IteratorOptions) error, value any) error {
	encoded, err := EncodeValue(value)
	if err != nil {
		return err
	}
	gte := []byte(encoded + "\x00")
	lt := []byte(encoded + "\x01")
	return collect(kv.IteratorOptions{GTE: gte, LT: lt})
}

func scanRange(collect func(kv.IteratorOptions) error, p RangePredicate) error {
	opts := kv.IteratorOptions{}
	if p.GT != nil {
		encoded, err := EncodeValue(*p.GT)
		if err != nil {
			return err
		}
		opts.GT = []byte(encoded + "\xff")
	}
	if p.GTE != nil {
		encoded, err := EncodeValue(*p.GTE)
		if err != nil {
			return err
		}
		opts.GTE = []byte(encoded)
	}
	if p.LT != nil {
		encoded, err := EncodeValue(*p.LT)
		if err != nil {
			return err
		}
		opts.LT = []byte(encoded)
	}
	if p.LTE != nil {
		encoded, err := EncodeValue(*p.LTE)
		if err != nil {
			return err
		}
		opts.LT = []byte(encoded + "\xff")
	}
	return collect(opts)
}

func sortItems(items []IndexedItem, sortProperty string, dir Direction) ([]IndexedItem, error) {
	type keyed struct {
		item IndexedItem
		key  string
	}
	keyedItems := make([]keyed, 0, len(items))
	for _, it := range items {
		v, ok := it.Indexes[sortProperty]
		if !ok {
			return nil, dwnerrors.New(dwnerrors.CodeIndexInvalidSortProperty,
				fmt.Sprintf("item %q matched a filter but has no value for sort property %q", it.ItemId, sortProperty))
		}
		encoded, err := EncodeValue(v)
		if err != nil {
			return nil, dwnerrors.Wrap(dwnerrors.CodeIndexInvalidSortProperty, "encode sort property", err)
		}
		keyedItems = append(keyedItems, keyed{item: it, key: encoded + it.ItemId})
	}
	sort.Slice(keyedItems, func(i, j int) bool {
		if dir == Descending {
			return keyedItems[i].key > keyedItems[j].key
		}
		return keyedItems[i].key < keyedItems[j].key
	})
	out := make([]IndexedItem, len(keyedItems))
	for i, k := range keyedItems {
		out[i] = k.item
	}
	return out, nil
}

func paginateInMemory(sorted []IndexedItem, opts QueryOptions) ([]IndexedItem, error) {
	start := 0
	if opts.Cursor != nil {
		found := -1
		for i, it := range sorted {
			if it.ItemId == opts.Cursor.ItemId {
				found = i
				break
			}
		}
		if found == -1 {
			return []IndexedItem{}, nil
		}
		if !opts.Cursor.Value.SameKindAs(sorted[found].Indexes[opts.SortProperty]) {
			return nil, dwnerrors.New(dwnerrors.CodeIndexInvalidCursorValueType,
				fmt.Sprintf("cursor value type does not match sort property %q", opts.SortProperty))
		}
		start = found + 1
	}

	if start > len(sorted) {
		return []IndexedItem{}, nil
	}
	end := len(sorted)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return append([]IndexedItem{}, sorted[start:end]...), nil
}

func (s *Store) queryIterator(ctx context.Context, tenant string, filters []Filter, opts QueryOptions) ([]IndexedItem, error) {
	partition := forwardPartition(tenant, opts.SortProperty)

	iterOpts := kv.IteratorOptions{Limit: opts.Limit}
	if opts.Direction == Descending {
		iterOpts.Reverse = true
	}

	if opts.Cursor != nil {
		raw, ok, err := s.engine.Get(ctx, reversePartition(tenant), []byte(opts.Cursor.ItemId))
		if err != nil {
			return nil, err
		}
		if !ok {
			return []IndexedItem{}, nil
		}
		var rec itemRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("index: unmarshal cursor item: %w", err)
		}
		sortValue, ok := rec.Indexes[opts.SortProperty]
		if !ok {
			return []IndexedItem{}, nil
		}
		if !opts.Cursor.Value.SameKindAs(sortValue) {
			return nil, dwnerrors.New(dwnerrors.CodeIndexInvalidCursorValueType,
				fmt.Sprintf("cursor value type does not match sort property %q", opts.SortProperty))
		}
		if !matchesAny(filters, rec.Indexes) {
			return []IndexedItem{}, nil
		}
		encoded, err := EncodeValue(sortValue)
		if err != nil {
			return nil, err
		}
		startKey := []byte(encoded + "\x00" + opts.Cursor.ItemId)
		if opts.Direction == Descending {
			iterOpts.LT = startKey
		} else {
			iterOpts.GT = startKey
		}
	}

	var out []IndexedItem
	err := s.engine.Iterate(ctx, partition, kv.IteratorOptions{GT: iterOpts.GT, LT: iterOpts.LT, Reverse: iterOpts.Reverse}, func(entry kv.KV) (bool, error) {
		var rec itemRecord
		if err := json.Unmarshal(entry.Value, &rec); err != nil {
			return false, fmt.Errorf("index: unmarshal entry: %w", err)
		}
		if matchesAny(filters, rec.Indexes) {
			out = append(out, IndexedItem{ItemId: rec.ItemId, Indexes: rec.Indexes})
			if opts.Limit > 0 && len(out) >= opts.Limit {
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []IndexedItem{}
	}
	return out, nil
}
