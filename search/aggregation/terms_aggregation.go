package aggregation

import (
	"cmp"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/hatlonely/aggx/search/fielddata"
)

// TermsAggregation 按字段的每个不同值分桶
type TermsAggregation struct {
	BucketAggregation
	Size int `cfg:"size" def:"10" validate:"gte=0"`
	// ShardSize 分片上保留的桶数，为 0 时多分片取 Size*3/2+10，单分片取 Size
	ShardSize   int               `cfg:"shardSize" validate:"gte=0"`
	MinDocCount *int64            `cfg:"minDocCount" def:"1" validate:"gte=0"`
	Order       map[string]string `cfg:"order"`
	Include     *TermsFilter      `cfg:"include"`
	Exclude     *TermsFilter      `cfg:"exclude"`
}

// TermsFilter 正则（仅字符串字段）或精确值列表，二选一
type TermsFilter struct {
	Pattern string        `cfg:"pattern"`
	Values  []interface{} `cfg:"values"`
}

func (a *TermsAggregation) Type() AggregationType {
	return AggTypeTerms
}

func (a *TermsAggregation) ToES() map[string]interface{} {
	terms := map[string]interface{}{
		"field": a.Field,
	}
	if a.Size > 0 {
		terms["size"] = a.Size
	}
	if a.ShardSize > 0 {
		terms["shard_size"] = a.ShardSize
	}
	if a.MinDocCount != nil {
		terms["min_doc_count"] = *a.MinDocCount
	}
	if len(a.Order) > 0 {
		terms["order"] = a.Order
	}
	if a.Include != nil {
		terms["include"] = a.Include.toES()
	}
	if a.Exclude != nil {
		terms["exclude"] = a.Exclude.toES()
	}
	return withSubAggregations(map[string]interface{}{"terms": terms}, a.SubAggregations)
}

func (f *TermsFilter) toES() interface{} {
	if f.Pattern != "" {
		return f.Pattern
	}
	return f.Values
}

func (a *TermsAggregation) needsSource() bool {
	return true
}

func (a *TermsAggregation) valueType() fielddata.ValueType {
	return fielddata.ValueTypeAny
}

func (a *TermsAggregation) prepare(t *Tree, idx int) (func() Aggregator, error) {
	if a.Size > MaxBucketSize {
		return nil, configError(a.AggName, "size %d exceeds %d", a.Size, MaxBucketSize)
	}
	if a.ShardSize > MaxBucketSize {
		return nil, configError(a.AggName, "shard size %d exceeds %d", a.ShardSize, MaxBucketSize)
	}
	order, err := parseOrder(a.AggName, a.Order, OrderCountDesc)
	if err != nil {
		return nil, err
	}
	if err := t.validateOrder(idx, order); err != nil {
		return nil, err
	}

	proto := termsMeta{
		name:        a.AggName,
		order:       order,
		size:        a.Size,
		shardSize:   a.shardSize(t.final()),
		minDocCount: *a.MinDocCount,
	}

	n := t.nodes[idx]
	if n.unmapped {
		return func() Aggregator {
			return &unmappedAggregator{name: a.AggName, empty: func() InternalAggregation { return newInternalTerms[string](proto, 0, nil) }}
		}, nil
	}

	switch src := n.source.(type) {
	case fielddata.NumericValuesSource:
		numeric := func(v float64) bool { return true }
		if a.hasFilter() {
			if numeric, err = a.numericFilter(); err != nil {
				return nil, err
			}
		}
		if src.IsFloatingPoint() {
			return newTermsAggregatorFunc(t, idx, proto, src.Key(), src.Doubles, restrictNumeric(src.Key(), numeric, a.hasFilter())), nil
		}
		return newTermsAggregatorFunc(t, idx, proto, src.Key(), src.Longs, restrictNumeric(src.Key(), numeric, a.hasFilter())), nil
	case fielddata.BytesValuesSource:
		bytes := func(v string) bool { return true }
		if a.hasFilter() {
			if bytes, err = a.bytesFilter(); err != nil {
				return nil, err
			}
		}
		return newTermsAggregatorFunc(t, idx, proto, src.Key(), src.Bytes, restrictBytes(src.Key(), bytes, a.hasFilter())), nil
	}
	return nil, configError(a.AggName, "terms aggregation does not support %s field [%s]", n.source.Type(), n.source.Key())
}

func (a *TermsAggregation) shardSize(final bool) int {
	size := a.ShardSize
	if size == 0 {
		size = a.Size
		if !final {
			size = min(a.Size*3/2+10, MaxBucketSize)
		}
	}
	return max(size, a.Size)
}

func (a *TermsAggregation) hasFilter() bool {
	return a.Include != nil || a.Exclude != nil
}

func (a *TermsAggregation) numericFilter() (func(float64) bool, error) {
	compile := func(f *TermsFilter) (func(float64) bool, error) {
		if f == nil {
			return nil, nil
		}
		if f.Pattern != "" {
			return nil, configError(a.AggName, "regular expression include/exclude requires a string field")
		}
		set := make(map[float64]struct{}, len(f.Values))
		for _, v := range f.Values {
			fv, err := toFloat(v)
			if err != nil {
				return nil, configError(a.AggName, "include/exclude value: %v", err)
			}
			set[fv] = struct{}{}
		}
		return func(v float64) bool {
			_, ok := set[v]
			return ok
		}, nil
	}
	include, err := compile(a.Include)
	if err != nil {
		return nil, err
	}
	exclude, err := compile(a.Exclude)
	if err != nil {
		return nil, err
	}
	return combineFilters(include, exclude), nil
}

func (a *TermsAggregation) bytesFilter() (func(string) bool, error) {
	compile := func(f *TermsFilter) (func(string) bool, error) {
		if f == nil {
			return nil, nil
		}
		if f.Pattern != "" {
			re, err := regexp.Compile("^(?:" + f.Pattern + ")$")
			if err != nil {
				return nil, configError(a.AggName, "invalid include/exclude pattern: %v", err)
			}
			return re.MatchString, nil
		}
		set := make(map[string]struct{}, len(f.Values))
		for _, v := range f.Values {
			set[fmt.Sprint(v)] = struct{}{}
		}
		return func(v string) bool {
			_, ok := set[v]
			return ok
		}, nil
	}
	include, err := compile(a.Include)
	if err != nil {
		return nil, err
	}
	exclude, err := compile(a.Exclude)
	if err != nil {
		return nil, err
	}
	return combineFilters(include, exclude), nil
}

func combineFilters[V any](include, exclude func(V) bool) func(V) bool {
	return func(v V) bool {
		if include != nil && !include(v) {
			return false
		}
		return exclude == nil || !exclude(v)
	}
}

// restrictNumeric include/exclude 作为一层约束叠加在外层约束上，同字段的子聚合也只能看到被接受的值
func restrictNumeric(key string, accept func(float64) bool, enabled bool) func(*ValueSpace) *ValueSpace {
	if !enabled {
		return func(space *ValueSpace) *ValueSpace { return space }
	}
	return func(space *ValueSpace) *ValueSpace { return space.NarrowNumeric(key, accept) }
}

func restrictBytes(key string, accept func(string) bool, enabled bool) func(*ValueSpace) *ValueSpace {
	if !enabled {
		return func(space *ValueSpace) *ValueSpace { return space }
	}
	return func(space *ValueSpace) *ValueSpace { return space.NarrowBytes(key, accept) }
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	}
	return 0, fmt.Errorf("%v (%T) is not a number", v, v)
}

// termsMeta 结果上携带的聚合参数，合并时使用
type termsMeta struct {
	name        string
	order       BucketOrder
	size        int
	shardSize   int
	minDocCount int64
}

func newTermsAggregatorFunc[K TermsKey](t *Tree, idx int, meta termsMeta, key string, values func(doc int) []K, restrict func(*ValueSpace) *ValueSpace) func() Aggregator {
	final := t.final()
	return func() Aggregator {
		return &termsAggregator[K]{
			tree:     t,
			idx:      idx,
			meta:     meta,
			final:    final,
			key:      key,
			values:   values,
			restrict: restrict,
			buckets:  map[K]*bucketCollector{},
			seen:     map[K]struct{}{},
		}
	}
}

type termsAggregator[K TermsKey] struct {
	tree     *Tree
	idx      int
	meta     termsMeta
	final    bool
	key      string
	values   func(doc int) []K
	restrict func(*ValueSpace) *ValueSpace
	buckets  map[K]*bucketCollector
	seen     map[K]struct{}
}

func (a *termsAggregator[K]) Name() string {
	return a.meta.name
}

// Collect 同一篇文档的重复值只计一次
func (a *termsAggregator[K]) Collect(doc int, space *ValueSpace) {
	values := a.values(doc)
	if len(values) == 0 {
		return
	}
	space = a.restrict(space)
	clear(a.seen)
	for _, k := range values {
		// NaN 不等于自身，不能作为桶的键
		if k != k {
			continue
		}
		if _, ok := a.seen[k]; ok {
			continue
		}
		a.seen[k] = struct{}{}
		if !acceptKey(space, a.key, k) {
			continue
		}
		b, ok := a.buckets[k]
		if !ok {
			b = a.tree.newBucketCollector(a.idx)
			a.buckets[k] = b
		}
		b.collect(doc, narrowKey(space, a.key, k))
	}
}

func (a *termsAggregator[K]) PostCollection() {
	for _, b := range a.buckets {
		b.postCollection()
	}
}

func (a *termsAggregator[K]) BuildAggregation() (InternalAggregation, error) {
	candidates := make([]*TermsBucket[K], 0, len(a.buckets))
	for k, b := range a.buckets {
		aggs, err := b.build()
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, &TermsBucket[K]{Key: k, DocCount: b.docCount, Aggregations: aggs})
	}
	return selectTerms(a.meta, 0, candidates, a.final), nil
}

// selectTerms 按排序选出前 size 个桶，没选中的桶的文档数计入 SumOtherDocCount
//
// final 时按 size 截断并按 minDocCount 过滤，否则按 shardSize 截断
func selectTerms[K TermsKey](meta termsMeta, sumOther int64, candidates []*TermsBucket[K], final bool) *InternalTerms[K] {
	size := meta.shardSize
	if final {
		size = meta.size
		kept := candidates[:0]
		for _, b := range candidates {
			if b.DocCount >= meta.minDocCount {
				kept = append(kept, b)
			}
		}
		candidates = kept
	}

	selected := Select(candidates, size, termsComparator[K](meta.order))
	for _, b := range candidates {
		sumOther += b.DocCount
	}
	for _, b := range selected {
		sumOther -= b.DocCount
	}
	return newInternalTerms(meta, sumOther, selected)
}

func termsComparator[K TermsKey](o BucketOrder) func(a, b *TermsBucket[K]) int {
	return comparator(o, func(a, b *TermsBucket[K]) int { return cmp.Compare(a.Key, b.Key) })
}

func acceptKey[K TermsKey](space *ValueSpace, key string, k K) bool {
	switch v := any(k).(type) {
	case string:
		return space.AcceptBytes(key, v)
	case int64:
		return space.AcceptNumeric(key, float64(v))
	case float64:
		return space.AcceptNumeric(key, v)
	}
	return false
}

// narrowKey 桶 k 内的子聚合在同一字段上只能看到 k
func narrowKey[K TermsKey](space *ValueSpace, key string, k K) *ValueSpace {
	switch v := any(k).(type) {
	case string:
		return space.NarrowBytes(key, func(s string) bool { return s == v })
	case int64:
		f := float64(v)
		return space.NarrowNumeric(key, func(x float64) bool { return x == f })
	case float64:
		if math.IsNaN(v) {
			return space.NarrowNumeric(key, math.IsNaN)
		}
		return space.NarrowNumeric(key, func(x float64) bool { return x == v })
	}
	return space
}
