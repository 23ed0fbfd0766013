package aggregation

import (
	"github.com/hatlonely/aggx/search/fielddata"
	"github.com/hatlonely/aggx/search/query"
)

// FilterAggregation 只有一个桶，包含满足 Filter 的文档
type FilterAggregation struct {
	BucketAggregation
	Filter query.Query `cfg:"-" validate:"required"`
}

func (a *FilterAggregation) Type() AggregationType {
	return AggTypeFilter
}

func (a *FilterAggregation) ToES() map[string]interface{} {
	return withSubAggregations(map[string]interface{}{"filter": a.Filter.ToES()}, a.SubAggregations)
}

func (a *FilterAggregation) needsSource() bool {
	return false
}

func (a *FilterAggregation) valueType() fielddata.ValueType {
	return fielddata.ValueTypeAny
}

func (a *FilterAggregation) prepare(t *Tree, idx int) (func() Aggregator, error) {
	matcher, err := a.Filter.Compile(t.fd)
	if err != nil {
		return nil, configError(a.AggName, "filter: %v", err)
	}
	return func() Aggregator {
		return &filterAggregator{name: a.AggName, matcher: matcher, bucket: t.newBucketCollector(idx)}
	}, nil
}

type filterAggregator struct {
	name    string
	matcher query.Matcher
	bucket  *bucketCollector
}

func (a *filterAggregator) Name() string {
	return a.name
}

func (a *filterAggregator) Collect(doc int, space *ValueSpace) {
	if a.matcher(doc) {
		a.bucket.collect(doc, space)
	}
}

func (a *filterAggregator) PostCollection() {
	a.bucket.postCollection()
}

func (a *filterAggregator) BuildAggregation() (InternalAggregation, error) {
	aggs, err := a.bucket.build()
	if err != nil {
		return nil, err
	}
	return &InternalFilter{AggName: a.name, DocCount: a.bucket.docCount, Aggregations: aggs}, nil
}

// FiltersAggregation 每个命名过滤条件一个桶，桶之间可以重叠
type FiltersAggregation struct {
	BucketAggregation
	Filters []NamedFilter `cfg:"-" validate:"required,min=1"`
	Keyed   bool          `cfg:"keyed"`
	// OtherBucketKey 非空时额外输出一个桶，包含不满足任何条件的文档
	OtherBucketKey string `cfg:"otherBucketKey"`
}

type NamedFilter struct {
	Key    string
	Filter query.Query
}

func (a *FiltersAggregation) Type() AggregationType {
	return AggTypeFilters
}

func (a *FiltersAggregation) ToES() map[string]interface{} {
	filters := make(map[string]interface{}, len(a.Filters))
	for _, f := range a.Filters {
		filters[f.Key] = f.Filter.ToES()
	}
	body := map[string]interface{}{"filters": filters}
	if a.OtherBucketKey != "" {
		body["other_bucket_key"] = a.OtherBucketKey
	}
	if a.Keyed {
		body["keyed"] = true
	}
	return withSubAggregations(map[string]interface{}{"filters": body}, a.SubAggregations)
}

func (a *FiltersAggregation) needsSource() bool {
	return false
}

func (a *FiltersAggregation) valueType() fielddata.ValueType {
	return fielddata.ValueTypeAny
}

func (a *FiltersAggregation) prepare(t *Tree, idx int) (func() Aggregator, error) {
	if len(a.Filters) > MaxBucketSize {
		return nil, configError(a.AggName, "%d filters exceed %d", len(a.Filters), MaxBucketSize)
	}
	keys := make([]string, 0, len(a.Filters)+1)
	matchers := make([]query.Matcher, 0, len(a.Filters))
	seen := map[string]struct{}{}
	for _, f := range a.Filters {
		if f.Key == "" || f.Filter == nil {
			return nil, configError(a.AggName, "filters need a key and a query")
		}
		if _, ok := seen[f.Key]; ok {
			return nil, configError(a.AggName, "duplicate filter key %q", f.Key)
		}
		seen[f.Key] = struct{}{}
		matcher, err := f.Filter.Compile(t.fd)
		if err != nil {
			return nil, configError(a.AggName, "filter [%s]: %v", f.Key, err)
		}
		keys = append(keys, f.Key)
		matchers = append(matchers, matcher)
	}
	if a.OtherBucketKey != "" {
		if _, ok := seen[a.OtherBucketKey]; ok {
			return nil, configError(a.AggName, "other bucket key %q collides with a filter key", a.OtherBucketKey)
		}
		keys = append(keys, a.OtherBucketKey)
	}

	return func() Aggregator {
		agg := &filtersAggregator{name: a.AggName, keyed: a.Keyed, keys: keys, matchers: matchers, other: a.OtherBucketKey != ""}
		agg.buckets = make([]*bucketCollector, len(keys))
		for i := range keys {
			agg.buckets[i] = t.newBucketCollector(idx)
		}
		return agg
	}, nil
}

// filtersAggregator other 为 true 时最后一个桶是其他文档桶
type filtersAggregator struct {
	name     string
	keyed    bool
	keys     []string
	matchers []query.Matcher
	other    bool
	buckets  []*bucketCollector
}

func (a *filtersAggregator) Name() string {
	return a.name
}

func (a *filtersAggregator) Collect(doc int, space *ValueSpace) {
	matched := false
	for i, m := range a.matchers {
		if m(doc) {
			matched = true
			a.buckets[i].collect(doc, space)
		}
	}
	if !matched && a.other {
		a.buckets[len(a.buckets)-1].collect(doc, space)
	}
}

func (a *filtersAggregator) PostCollection() {
	for _, b := range a.buckets {
		b.postCollection()
	}
}

func (a *filtersAggregator) BuildAggregation() (InternalAggregation, error) {
	result := &InternalFilters{AggName: a.name, Keyed: a.keyed, Buckets: make([]*FiltersBucket, 0, len(a.keys))}
	for i, key := range a.keys {
		aggs, err := a.buckets[i].build()
		if err != nil {
			return nil, err
		}
		result.Buckets = append(result.Buckets, &FiltersBucket{Key: key, DocCount: a.buckets[i].docCount, Aggregations: aggs})
	}
	return result, nil
}
