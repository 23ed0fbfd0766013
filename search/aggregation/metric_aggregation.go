package aggregation

import (
	"math"

	"github.com/hatlonely/aggx/search/fielddata"
)

type SumAggregation struct {
	MetricAggregation
}

func (a *SumAggregation) Type() AggregationType {
	return AggTypeSum
}

func (a *SumAggregation) ToES() map[string]interface{} {
	return a.toES(AggTypeSum)
}

func (a *SumAggregation) properties() []string {
	return singleValueProperties
}

func (a *SumAggregation) prepare(t *Tree, idx int) (func() Aggregator, error) {
	return t.prepareMetric(idx, func(name string, acc metricAccumulator) InternalAggregation {
		return &InternalSum{AggName: name, Value: acc.sum}
	}), nil
}

type MinAggregation struct {
	MetricAggregation
}

func (a *MinAggregation) Type() AggregationType {
	return AggTypeMin
}

func (a *MinAggregation) ToES() map[string]interface{} {
	return a.toES(AggTypeMin)
}

func (a *MinAggregation) properties() []string {
	return singleValueProperties
}

func (a *MinAggregation) prepare(t *Tree, idx int) (func() Aggregator, error) {
	return t.prepareMetric(idx, func(name string, acc metricAccumulator) InternalAggregation {
		return &InternalMin{AggName: name, Value: acc.min}
	}), nil
}

type MaxAggregation struct {
	MetricAggregation
}

func (a *MaxAggregation) Type() AggregationType {
	return AggTypeMax
}

func (a *MaxAggregation) ToES() map[string]interface{} {
	return a.toES(AggTypeMax)
}

func (a *MaxAggregation) properties() []string {
	return singleValueProperties
}

func (a *MaxAggregation) prepare(t *Tree, idx int) (func() Aggregator, error) {
	return t.prepareMetric(idx, func(name string, acc metricAccumulator) InternalAggregation {
		return &InternalMax{AggName: name, Value: acc.max}
	}), nil
}

type AvgAggregation struct {
	MetricAggregation
}

func (a *AvgAggregation) Type() AggregationType {
	return AggTypeAvg
}

func (a *AvgAggregation) ToES() map[string]interface{} {
	return a.toES(AggTypeAvg)
}

func (a *AvgAggregation) properties() []string {
	return singleValueProperties
}

func (a *AvgAggregation) prepare(t *Tree, idx int) (func() Aggregator, error) {
	return t.prepareMetric(idx, func(name string, acc metricAccumulator) InternalAggregation {
		return &InternalAvg{AggName: name, Sum: acc.sum, Count: acc.count}
	}), nil
}

// ValueCountAggregation 统计值的个数，任意类型的字段都可以
type ValueCountAggregation struct {
	MetricAggregation
}

func (a *ValueCountAggregation) Type() AggregationType {
	return AggTypeValueCount
}

func (a *ValueCountAggregation) ToES() map[string]interface{} {
	return a.toES(AggTypeValueCount)
}

func (a *ValueCountAggregation) valueType() fielddata.ValueType {
	return fielddata.ValueTypeAny
}

func (a *ValueCountAggregation) properties() []string {
	return singleValueProperties
}

func (a *ValueCountAggregation) prepare(t *Tree, idx int) (func() Aggregator, error) {
	return t.prepareMetric(idx, func(name string, acc metricAccumulator) InternalAggregation {
		return &InternalValueCount{AggName: name, Value: acc.count}
	}), nil
}

// StatsAggregation 一次给出 count/min/max/avg/sum，排序路径形如 "stats.max"
type StatsAggregation struct {
	MetricAggregation
}

func (a *StatsAggregation) Type() AggregationType {
	return AggTypeStats
}

func (a *StatsAggregation) ToES() map[string]interface{} {
	return a.toES(AggTypeStats)
}

func (a *StatsAggregation) properties() []string {
	return statsProperties
}

func (a *StatsAggregation) prepare(t *Tree, idx int) (func() Aggregator, error) {
	return t.prepareMetric(idx, func(name string, acc metricAccumulator) InternalAggregation {
		return &InternalStats{AggName: name, Count: acc.count, Sum: acc.sum, Min: acc.min, Max: acc.max}
	}), nil
}

var (
	singleValueProperties = []string{"", "value"}
	statsProperties       = []string{"count", "min", "max", "avg", "sum"}
)

type metricAccumulator struct {
	count    int64
	sum      float64
	min, max float64
}

func newMetricAccumulator() metricAccumulator {
	return metricAccumulator{min: math.Inf(1), max: math.Inf(-1)}
}

func (acc *metricAccumulator) add(v float64) {
	acc.count++
	acc.sum += v
	acc.min = math.Min(acc.min, v)
	acc.max = math.Max(acc.max, v)
}

// prepareMetric 指标聚合共用的聚合器，result 把累加结果转成具体的结果类型
func (t *Tree) prepareMetric(idx int, result func(name string, acc metricAccumulator) InternalAggregation) func() Aggregator {
	n := t.nodes[idx]
	name := n.agg.Name()
	if n.unmapped {
		return func() Aggregator {
			return &unmappedAggregator{name: name, empty: func() InternalAggregation { return result(name, newMetricAccumulator()) }}
		}
	}
	return func() Aggregator {
		return &metricAggregator{name: name, source: n.source, acc: newMetricAccumulator(), result: result}
	}
}

type metricAggregator struct {
	name   string
	source fielddata.ValuesSource
	acc    metricAccumulator
	result func(name string, acc metricAccumulator) InternalAggregation
}

func (a *metricAggregator) Name() string {
	return a.name
}

// Collect 多值字段的每个值都计入指标
func (a *metricAggregator) Collect(doc int, space *ValueSpace) {
	key := a.source.Key()
	switch src := a.source.(type) {
	case fielddata.NumericValuesSource:
		for _, v := range src.Doubles(doc) {
			if space.AcceptNumeric(key, v) {
				a.acc.add(v)
			}
		}
	case fielddata.BytesValuesSource:
		for _, v := range src.Bytes(doc) {
			if space.AcceptBytes(key, v) {
				a.acc.count++
			}
		}
	case fielddata.GeoPointValuesSource:
		a.acc.count += int64(len(src.GeoPoints(doc)))
	}
}

func (a *metricAggregator) PostCollection() {}

func (a *metricAggregator) BuildAggregation() (InternalAggregation, error) {
	return a.result(a.name, a.acc), nil
}
