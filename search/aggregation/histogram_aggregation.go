package aggregation

import (
	"math"
	"slices"

	"github.com/hatlonely/aggx/search/fielddata"
)

// HistogramAggregation 数值直方图，值按 Interval 分到等宽的槽位
type HistogramAggregation struct {
	BucketAggregation
	Interval    float64           `cfg:"interval" validate:"gt=0"`
	Offset      float64           `cfg:"offset"`
	MinDocCount *int64            `cfg:"minDocCount" def:"1" validate:"gte=0"`
	Order       map[string]string `cfg:"order"`
	Keyed       bool              `cfg:"keyed"`
}

func (a *HistogramAggregation) Type() AggregationType {
	return AggTypeHistogram
}

func (a *HistogramAggregation) ToES() map[string]interface{} {
	histogram := map[string]interface{}{
		"field":    a.Field,
		"interval": a.Interval,
	}
	if a.Offset != 0 {
		histogram["offset"] = a.Offset
	}
	if a.MinDocCount != nil {
		histogram["min_doc_count"] = *a.MinDocCount
	}
	if len(a.Order) > 0 {
		histogram["order"] = a.Order
	}
	if a.Keyed {
		histogram["keyed"] = true
	}
	return withSubAggregations(map[string]interface{}{"histogram": histogram}, a.SubAggregations)
}

func (a *HistogramAggregation) needsSource() bool {
	return true
}

func (a *HistogramAggregation) valueType() fielddata.ValueType {
	return fielddata.ValueTypeNumeric
}

func (a *HistogramAggregation) prepare(t *Tree, idx int) (func() Aggregator, error) {
	if math.IsInf(a.Interval, 0) || math.IsNaN(a.Interval) {
		return nil, configError(a.AggName, "invalid interval %v", a.Interval)
	}
	proto := &InternalHistogram{
		AggName:     a.AggName,
		Interval:    a.Interval,
		Offset:      a.Offset,
		MinDocCount: *a.MinDocCount,
		Keyed:       a.Keyed,
	}
	return t.prepareHistogram(idx, proto, a.Order, fixedRounding{interval: a.Interval, offset: a.Offset})
}

// DateHistogramAggregation 日期直方图，值为毫秒时间戳
type DateHistogramAggregation struct {
	BucketAggregation
	// Interval 形如 "1d"、"90m"、"month"
	Interval    string            `cfg:"interval" validate:"required"`
	TimeZone    string            `cfg:"timeZone"`
	Offset      string            `cfg:"offset"`
	Format      string            `cfg:"format"`
	MinDocCount *int64            `cfg:"minDocCount" def:"1" validate:"gte=0"`
	Order       map[string]string `cfg:"order"`
	Keyed       bool              `cfg:"keyed"`
}

func (a *DateHistogramAggregation) Type() AggregationType {
	return AggTypeDateHisto
}

func (a *DateHistogramAggregation) ToES() map[string]interface{} {
	histogram := map[string]interface{}{
		"field":    a.Field,
		"interval": a.Interval,
	}
	if a.TimeZone != "" {
		histogram["time_zone"] = a.TimeZone
	}
	if a.Offset != "" {
		histogram["offset"] = a.Offset
	}
	if a.Format != "" {
		histogram["format"] = a.Format
	}
	if a.MinDocCount != nil {
		histogram["min_doc_count"] = *a.MinDocCount
	}
	if len(a.Order) > 0 {
		histogram["order"] = a.Order
	}
	if a.Keyed {
		histogram["keyed"] = true
	}
	return withSubAggregations(map[string]interface{}{"date_histogram": histogram}, a.SubAggregations)
}

func (a *DateHistogramAggregation) needsSource() bool {
	return true
}

func (a *DateHistogramAggregation) valueType() fielddata.ValueType {
	return fielddata.ValueTypeNumeric
}

func (a *DateHistogramAggregation) prepare(t *Tree, idx int) (func() Aggregator, error) {
	offset, err := parseDateOffset(a.Offset)
	if err != nil {
		return nil, configError(a.AggName, "%v", err)
	}
	r, err := newDateRounding(a.Interval, a.TimeZone, offset)
	if err != nil {
		return nil, configError(a.AggName, "%v", err)
	}
	proto := &InternalHistogram{
		AggName:      a.AggName,
		DateInterval: a.Interval,
		TimeZone:     a.TimeZone,
		Offset:       offset,
		Format:       a.Format,
		MinDocCount:  *a.MinDocCount,
		Keyed:        a.Keyed,
	}
	return t.prepareHistogram(idx, proto, a.Order, r)
}

// prepareHistogram 两种直方图共用的聚合器，proto 提供结果上携带的参数
func (t *Tree) prepareHistogram(idx int, proto *InternalHistogram, order map[string]string, r rounding) (func() Aggregator, error) {
	o, err := parseOrder(proto.AggName, order, OrderKeyAsc)
	if err != nil {
		return nil, err
	}
	if err := t.validateOrder(idx, o); err != nil {
		return nil, err
	}
	proto.Order = o

	n := t.nodes[idx]
	final := t.final()
	if n.unmapped {
		return func() Aggregator {
			return &unmappedAggregator{name: proto.AggName, empty: func() InternalAggregation { return proto.withBuckets(nil) }}
		}, nil
	}
	source := n.source.(fielddata.NumericValuesSource)
	return func() Aggregator {
		return &histogramAggregator{
			tree:     t,
			idx:      idx,
			proto:    proto,
			rounding: r,
			final:    final,
			source:   source,
			buckets:  map[float64]*bucketCollector{},
			seen:     map[float64]struct{}{},
		}
	}, nil
}

type histogramAggregator struct {
	tree     *Tree
	idx      int
	proto    *InternalHistogram
	rounding rounding
	final    bool
	source   fielddata.NumericValuesSource
	buckets  map[float64]*bucketCollector
	seen     map[float64]struct{}
}

func (a *histogramAggregator) Name() string {
	return a.proto.AggName
}

// Collect 同一篇文档落在同一槽位的多个值只计一次
func (a *histogramAggregator) Collect(doc int, space *ValueSpace) {
	values := a.source.Doubles(doc)
	if len(values) == 0 {
		return
	}
	key := a.source.Key()
	clear(a.seen)
	for _, v := range values {
		if math.IsNaN(v) || !space.AcceptNumeric(key, v) {
			continue
		}
		slot := a.rounding.round(v)
		if _, ok := a.seen[slot]; ok {
			continue
		}
		a.seen[slot] = struct{}{}
		b, ok := a.buckets[slot]
		if !ok {
			b = a.tree.newBucketCollector(a.idx)
			a.buckets[slot] = b
		}
		b.collect(doc, space.NarrowNumeric(key, func(x float64) bool { return a.rounding.round(x) == slot }))
	}
}

func (a *histogramAggregator) PostCollection() {
	for _, b := range a.buckets {
		b.postCollection()
	}
}

func (a *histogramAggregator) BuildAggregation() (InternalAggregation, error) {
	buckets := make([]*HistogramBucket, 0, len(a.buckets))
	for key, b := range a.buckets {
		aggs, err := b.build()
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, &HistogramBucket{Key: key, DocCount: b.docCount, Aggregations: aggs})
	}
	slices.SortFunc(buckets, compareHistogramKeys)

	result := a.proto.withBuckets(nilIfEmpty(buckets))
	if a.proto.MinDocCount == 0 {
		empty, err := a.tree.emptySubAggregations(a.idx)
		if err != nil {
			return nil, err
		}
		result.EmptySubAggregations = empty
	}
	if !a.final {
		return result, nil
	}
	return result.finalize(a.rounding)
}
