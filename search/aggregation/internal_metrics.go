package aggregation

import (
	"math"

	"github.com/pkg/errors"
)

const (
	tagSum         = "sum"
	tagMin         = "min"
	tagMax         = "max"
	tagAvg         = "avg"
	tagValueCount  = "value_count"
	tagStats       = "stats"
	tagSimpleValue = "simple_value"
)

func init() {
	RegisterVariant(tagSum, readSum)
	RegisterVariant(tagMin, readMin)
	RegisterVariant(tagMax, readMax)
	RegisterVariant(tagAvg, readAvg)
	RegisterVariant(tagValueCount, readValueCount)
	RegisterVariant(tagStats, readStats)
	RegisterVariant(tagSimpleValue, readSimpleValue)
}

// renderValue NaN 和无穷大渲染为 null
func renderValue(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func singleValue(name string, property string, v float64) (float64, error) {
	if property != "" && property != "value" {
		return math.NaN(), errors.Errorf("aggregation [%s]: unknown property %q", name, property)
	}
	return v, nil
}

type InternalSum struct {
	AggName string
	Value   float64
}

func (a *InternalSum) Name() string {
	return a.AggName
}

func (a *InternalSum) Type() string {
	return tagSum
}

func (a *InternalSum) GetValue(property string) (float64, error) {
	return singleValue(a.AggName, property, a.Value)
}

func (a *InternalSum) Reduce(ctx *ReduceContext) (InternalAggregation, error) {
	sums, err := castAll[*InternalSum](ctx)
	if err != nil {
		return nil, err
	}
	result := &InternalSum{AggName: a.AggName}
	for _, s := range sums {
		result.Value += s.Value
	}
	return result, nil
}

func (a *InternalSum) EncodeFields(w *FieldWriter) {
	w.WriteFloat64(a.Value)
}

func (a *InternalSum) Render() map[string]interface{} {
	return map[string]interface{}{"value": renderValue(a.Value)}
}

func readSum(name string, r *FieldReader) (InternalAggregation, error) {
	return &InternalSum{AggName: name, Value: r.ReadFloat64()}, nil
}

// InternalMin 没有值时为 +Inf
type InternalMin struct {
	AggName string
	Value   float64
}

func (a *InternalMin) Name() string {
	return a.AggName
}

func (a *InternalMin) Type() string {
	return tagMin
}

func (a *InternalMin) GetValue(property string) (float64, error) {
	return singleValue(a.AggName, property, a.Value)
}

func (a *InternalMin) Reduce(ctx *ReduceContext) (InternalAggregation, error) {
	mins, err := castAll[*InternalMin](ctx)
	if err != nil {
		return nil, err
	}
	result := &InternalMin{AggName: a.AggName, Value: math.Inf(1)}
	for _, m := range mins {
		result.Value = math.Min(result.Value, m.Value)
	}
	return result, nil
}

func (a *InternalMin) EncodeFields(w *FieldWriter) {
	w.WriteFloat64(a.Value)
}

func (a *InternalMin) Render() map[string]interface{} {
	return map[string]interface{}{"value": renderValue(a.Value)}
}

func readMin(name string, r *FieldReader) (InternalAggregation, error) {
	return &InternalMin{AggName: name, Value: r.ReadFloat64()}, nil
}

// InternalMax 没有值时为 -Inf
type InternalMax struct {
	AggName string
	Value   float64
}

func (a *InternalMax) Name() string {
	return a.AggName
}

func (a *InternalMax) Type() string {
	return tagMax
}

func (a *InternalMax) GetValue(property string) (float64, error) {
	return singleValue(a.AggName, property, a.Value)
}

func (a *InternalMax) Reduce(ctx *ReduceContext) (InternalAggregation, error) {
	maxs, err := castAll[*InternalMax](ctx)
	if err != nil {
		return nil, err
	}
	result := &InternalMax{AggName: a.AggName, Value: math.Inf(-1)}
	for _, m := range maxs {
		result.Value = math.Max(result.Value, m.Value)
	}
	return result, nil
}

func (a *InternalMax) EncodeFields(w *FieldWriter) {
	w.WriteFloat64(a.Value)
}

func (a *InternalMax) Render() map[string]interface{} {
	return map[string]interface{}{"value": renderValue(a.Value)}
}

func readMax(name string, r *FieldReader) (InternalAggregation, error) {
	return &InternalMax{AggName: name, Value: r.ReadFloat64()}, nil
}

// InternalAvg 保存和与个数，合并后再相除
type InternalAvg struct {
	AggName string
	Sum     float64
	Count   int64
}

func (a *InternalAvg) Name() string {
	return a.AggName
}

func (a *InternalAvg) Type() string {
	return tagAvg
}

// Avg 没有值时为 NaN
func (a *InternalAvg) Avg() float64 {
	if a.Count == 0 {
		return math.NaN()
	}
	return a.Sum / float64(a.Count)
}

func (a *InternalAvg) GetValue(property string) (float64, error) {
	return singleValue(a.AggName, property, a.Avg())
}

func (a *InternalAvg) Reduce(ctx *ReduceContext) (InternalAggregation, error) {
	avgs, err := castAll[*InternalAvg](ctx)
	if err != nil {
		return nil, err
	}
	result := &InternalAvg{AggName: a.AggName}
	for _, avg := range avgs {
		result.Sum += avg.Sum
		result.Count += avg.Count
	}
	return result, nil
}

func (a *InternalAvg) EncodeFields(w *FieldWriter) {
	w.WriteFloat64(a.Sum)
	w.WriteInt64(a.Count)
}

func (a *InternalAvg) Render() map[string]interface{} {
	return map[string]interface{}{"value": renderValue(a.Avg())}
}

func readAvg(name string, r *FieldReader) (InternalAggregation, error) {
	sum := r.ReadFloat64()
	count := r.ReadInt64()
	return &InternalAvg{AggName: name, Sum: sum, Count: count}, nil
}

type InternalValueCount struct {
	AggName string
	Value   int64
}

func (a *InternalValueCount) Name() string {
	return a.AggName
}

func (a *InternalValueCount) Type() string {
	return tagValueCount
}

func (a *InternalValueCount) GetValue(property string) (float64, error) {
	return singleValue(a.AggName, property, float64(a.Value))
}

func (a *InternalValueCount) Reduce(ctx *ReduceContext) (InternalAggregation, error) {
	counts, err := castAll[*InternalValueCount](ctx)
	if err != nil {
		return nil, err
	}
	result := &InternalValueCount{AggName: a.AggName}
	for _, c := range counts {
		result.Value += c.Value
	}
	return result, nil
}

func (a *InternalValueCount) EncodeFields(w *FieldWriter) {
	w.WriteInt64(a.Value)
}

func (a *InternalValueCount) Render() map[string]interface{} {
	return map[string]interface{}{"value": a.Value}
}

func readValueCount(name string, r *FieldReader) (InternalAggregation, error) {
	return &InternalValueCount{AggName: name, Value: r.ReadInt64()}, nil
}

type InternalStats struct {
	AggName string
	Count   int64
	Sum     float64
	Min     float64
	Max     float64
}

func (a *InternalStats) Name() string {
	return a.AggName
}

func (a *InternalStats) Type() string {
	return tagStats
}

func (a *InternalStats) Avg() float64 {
	if a.Count == 0 {
		return math.NaN()
	}
	return a.Sum / float64(a.Count)
}

func (a *InternalStats) GetValue(property string) (float64, error) {
	switch property {
	case "count":
		return float64(a.Count), nil
	case "sum":
		return a.Sum, nil
	case "min":
		return a.Min, nil
	case "max":
		return a.Max, nil
	case "avg":
		return a.Avg(), nil
	}
	return math.NaN(), errors.Errorf("aggregation [%s]: unknown property %q", a.AggName, property)
}

func (a *InternalStats) Reduce(ctx *ReduceContext) (InternalAggregation, error) {
	stats, err := castAll[*InternalStats](ctx)
	if err != nil {
		return nil, err
	}
	result := &InternalStats{AggName: a.AggName, Min: math.Inf(1), Max: math.Inf(-1)}
	for _, s := range stats {
		result.Count += s.Count
		result.Sum += s.Sum
		result.Min = math.Min(result.Min, s.Min)
		result.Max = math.Max(result.Max, s.Max)
	}
	return result, nil
}

func (a *InternalStats) EncodeFields(w *FieldWriter) {
	w.WriteInt64(a.Count)
	w.WriteFloat64(a.Sum)
	w.WriteFloat64(a.Min)
	w.WriteFloat64(a.Max)
}

func (a *InternalStats) Render() map[string]interface{} {
	if a.Count == 0 {
		return map[string]interface{}{"count": int64(0), "min": nil, "max": nil, "avg": nil, "sum": 0.0}
	}
	return map[string]interface{}{
		"count": a.Count,
		"min":   a.Min,
		"max":   a.Max,
		"avg":   a.Avg(),
		"sum":   a.Sum,
	}
}

func readStats(name string, r *FieldReader) (InternalAggregation, error) {
	count := r.ReadInt64()
	sum := r.ReadFloat64()
	minValue := r.ReadFloat64()
	maxValue := r.ReadFloat64()
	return &InternalStats{AggName: name, Count: count, Sum: sum, Min: minValue, Max: maxValue}, nil
}

// InternalSimpleValue 管道聚合算出的单个值，只出现在最终结果里
type InternalSimpleValue struct {
	AggName string
	Value   float64
}

func (a *InternalSimpleValue) Name() string {
	return a.AggName
}

func (a *InternalSimpleValue) Type() string {
	return tagSimpleValue
}

func (a *InternalSimpleValue) GetValue(property string) (float64, error) {
	return singleValue(a.AggName, property, a.Value)
}

// Reduce 管道的值由合并后的来源重新计算，不能直接合并
func (a *InternalSimpleValue) Reduce(ctx *ReduceContext) (InternalAggregation, error) {
	if len(ctx.Aggregations) == 1 {
		return a, nil
	}
	return nil, errors.Wrapf(ErrReduce, "aggregation [%s]: simple_value cannot be reduced", a.AggName)
}

func (a *InternalSimpleValue) EncodeFields(w *FieldWriter) {
	w.WriteFloat64(a.Value)
}

func (a *InternalSimpleValue) Render() map[string]interface{} {
	return map[string]interface{}{"value": renderValue(a.Value)}
}

func readSimpleValue(name string, r *FieldReader) (InternalAggregation, error) {
	return &InternalSimpleValue{AggName: name, Value: r.ReadFloat64()}, nil
}
