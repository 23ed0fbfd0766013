package aggregation

// InternalAggregation 一个聚合在某个分片上的结果或合并后的结果，构造后不再修改
type InternalAggregation interface {
	Name() string
	// Type 稳定的类型标签，编码时写在最前面，解码时据此选择 ReaderFunc
	Type() string
	// Reduce 合并 ctx.Aggregations（包含自身，名字和类型相同），返回新结果
	Reduce(ctx *ReduceContext) (InternalAggregation, error)
	// EncodeFields 写出类型标签和名字之后的字段
	EncodeFields(w *FieldWriter)
	Render() map[string]interface{}
}

// NumericMetric 可以按属性读取数值的指标结果，单值指标的属性为 "" 或 "value"
type NumericMetric interface {
	InternalAggregation
	GetValue(property string) (float64, error)
}

// nilIfEmpty 空列表统一为 nil，和解码结果保持一致
func nilIfEmpty[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return s
}

// InternalAggregations 同一层的聚合结果，保持定义顺序
type InternalAggregations []InternalAggregation

// Get 按名字查找，找不到返回 nil
func (aggs InternalAggregations) Get(name string) InternalAggregation {
	for _, agg := range aggs {
		if agg.Name() == name {
			return agg
		}
	}
	return nil
}
