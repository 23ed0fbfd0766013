package aggregation

import (
	"cmp"
	"math"
	"slices"
	"strconv"

	"github.com/hatlonely/aggx/search/fielddata"
)

// RangeAggregation 按 [From, To) 区间分桶，每个区间都会出现在结果中
type RangeAggregation struct {
	BucketAggregation
	Ranges []Range `cfg:"ranges" validate:"required,min=1"`
	Keyed  bool    `cfg:"keyed"`
}

// Range From/To 为 nil 表示无界，Key 为空时使用 "from-to" 标签
type Range struct {
	Key  string   `cfg:"key"`
	From *float64 `cfg:"from"`
	To   *float64 `cfg:"to"`
}

func (r Range) bounds() (float64, float64) {
	from, to := math.Inf(-1), math.Inf(1)
	if r.From != nil {
		from = *r.From
	}
	if r.To != nil {
		to = *r.To
	}
	return from, to
}

// rangeLabel "10-20"，无界的一端为 "*"
func rangeLabel(from, to float64) string {
	format := func(v float64) string {
		if math.IsInf(v, 0) {
			return "*"
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return format(from) + "-" + format(to)
}

func (a *RangeAggregation) Type() AggregationType {
	return AggTypeRange
}

func (a *RangeAggregation) ToES() map[string]interface{} {
	ranges := make([]interface{}, 0, len(a.Ranges))
	for _, r := range a.Ranges {
		item := map[string]interface{}{}
		if r.Key != "" {
			item["key"] = r.Key
		}
		if r.From != nil {
			item["from"] = *r.From
		}
		if r.To != nil {
			item["to"] = *r.To
		}
		ranges = append(ranges, item)
	}
	body := map[string]interface{}{
		"field":  a.Field,
		"ranges": ranges,
	}
	if a.Keyed {
		body["keyed"] = true
	}
	return withSubAggregations(map[string]interface{}{"range": body}, a.SubAggregations)
}

func (a *RangeAggregation) needsSource() bool {
	return true
}

func (a *RangeAggregation) valueType() fielddata.ValueType {
	return fielddata.ValueTypeNumeric
}

type rangeSpec struct {
	key      string
	from, to float64
}

func (r rangeSpec) contains(v float64) bool {
	return v >= r.from && v < r.to
}

func compareRangeSpecs(a, b rangeSpec) int {
	if c := cmp.Compare(a.from, b.from); c != 0 {
		return c
	}
	if c := cmp.Compare(a.to, b.to); c != 0 {
		return c
	}
	return cmp.Compare(a.key, b.key)
}

func (a *RangeAggregation) prepare(t *Tree, idx int) (func() Aggregator, error) {
	if len(a.Ranges) > MaxBucketSize {
		return nil, configError(a.AggName, "%d ranges exceed %d", len(a.Ranges), MaxBucketSize)
	}
	specs := make([]rangeSpec, 0, len(a.Ranges))
	keys := map[string]struct{}{}
	for _, r := range a.Ranges {
		from, to := r.bounds()
		if math.IsNaN(from) || math.IsNaN(to) {
			return nil, configError(a.AggName, "range bound is NaN")
		}
		key := r.Key
		if key == "" {
			key = rangeLabel(from, to)
		}
		if _, ok := keys[key]; ok {
			return nil, configError(a.AggName, "duplicate range key %q", key)
		}
		keys[key] = struct{}{}
		specs = append(specs, rangeSpec{key: key, from: from, to: to})
	}
	slices.SortFunc(specs, compareRangeSpecs)

	n := t.nodes[idx]
	var source fielddata.NumericValuesSource
	if !n.unmapped {
		source = n.source.(fielddata.NumericValuesSource)
	}
	return func() Aggregator {
		agg := &rangeAggregator{name: a.AggName, keyed: a.Keyed, source: source, specs: specs}
		agg.buckets = make([]*bucketCollector, len(specs))
		for i := range specs {
			agg.buckets[i] = t.newBucketCollector(idx)
		}
		return agg
	}, nil
}

// rangeAggregator 字段未映射时 source 为 nil，仍然输出全部区间
type rangeAggregator struct {
	name    string
	keyed   bool
	source  fielddata.NumericValuesSource
	specs   []rangeSpec
	buckets []*bucketCollector
}

func (a *rangeAggregator) Name() string {
	return a.name
}

// Collect 一篇文档有任一值落在区间内就计入该区间一次
func (a *rangeAggregator) Collect(doc int, space *ValueSpace) {
	if a.source == nil {
		return
	}
	values := a.source.Doubles(doc)
	if len(values) == 0 {
		return
	}
	key := a.source.Key()
	for i, spec := range a.specs {
		for _, v := range values {
			if spec.contains(v) && space.AcceptNumeric(key, v) {
				a.buckets[i].collect(doc, space.NarrowNumeric(key, spec.contains))
				break
			}
		}
	}
}

func (a *rangeAggregator) PostCollection() {
	for _, b := range a.buckets {
		b.postCollection()
	}
}

func (a *rangeAggregator) BuildAggregation() (InternalAggregation, error) {
	result := &InternalRange{AggName: a.name, Keyed: a.keyed, Buckets: make([]*RangeBucket, 0, len(a.specs))}
	for i, spec := range a.specs {
		aggs, err := a.buckets[i].build()
		if err != nil {
			return nil, err
		}
		result.Buckets = append(result.Buckets, &RangeBucket{
			Key:          spec.key,
			From:         spec.from,
			To:           spec.to,
			DocCount:     a.buckets[i].docCount,
			Aggregations: aggs,
		})
	}
	return result, nil
}
