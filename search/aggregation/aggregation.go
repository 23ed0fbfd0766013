package aggregation

import (
	"github.com/hatlonely/aggx/search/fielddata"
)

// AggregationType 聚合类型
type AggregationType string

const (
	AggTypeSum        AggregationType = "sum"
	AggTypeAvg        AggregationType = "avg"
	AggTypeMax        AggregationType = "max"
	AggTypeMin        AggregationType = "min"
	AggTypeValueCount AggregationType = "value_count"
	AggTypeStats      AggregationType = "stats"
	AggTypeTerms      AggregationType = "terms"
	AggTypeHistogram  AggregationType = "histogram"
	AggTypeDateHisto  AggregationType = "date_histogram"
	AggTypeRange      AggregationType = "range"
	AggTypeFilter     AggregationType = "filter"
	AggTypeFilters    AggregationType = "filters"
)

// Aggregation 聚合定义，由请求解析层构造，NewTree 把它绑定到一份字段数据上
type Aggregation interface {
	Type() AggregationType
	Name() string
	// ToES 以 ES DSL 的形式描述聚合（含子聚合），用于日志和请求缓存键
	ToES() map[string]interface{}

	subAggregations() []Aggregation
	field() string
	// valueType 需要的值来源类型，needsSource 为 false 时忽略
	valueType() fielddata.ValueType
	needsSource() bool
	// prepare 在值来源解析完成后校验参数，返回该节点的聚合器构造函数
	prepare(t *Tree, idx int) (func() Aggregator, error)
}

// BucketAggregation 分桶聚合的公共字段
type BucketAggregation struct {
	AggName         string        `cfg:"name" validate:"required"`
	Field           string        `cfg:"field"`
	SubAggregations []Aggregation `cfg:"-"`
}

func (a *BucketAggregation) Name() string {
	return a.AggName
}

func (a *BucketAggregation) subAggregations() []Aggregation {
	return a.SubAggregations
}

func (a *BucketAggregation) field() string {
	return a.Field
}

// MetricAggregation 指标聚合的公共字段，Field 为空时使用祖先的值来源
type MetricAggregation struct {
	AggName string `cfg:"name" validate:"required"`
	Field   string `cfg:"field"`
}

func (a *MetricAggregation) Name() string {
	return a.AggName
}

func (a *MetricAggregation) subAggregations() []Aggregation {
	return nil
}

func (a *MetricAggregation) field() string {
	return a.Field
}

func (a *MetricAggregation) needsSource() bool {
	return true
}

func (a *MetricAggregation) valueType() fielddata.ValueType {
	return fielddata.ValueTypeNumeric
}

func (a *MetricAggregation) toES(typ AggregationType) map[string]interface{} {
	body := map[string]interface{}{}
	if a.Field != "" {
		body["field"] = a.Field
	}
	return map[string]interface{}{string(typ): body}
}

// buildSubAggregations 子聚合的 ES 描述
func buildSubAggregations(subAggs []Aggregation) map[string]interface{} {
	if len(subAggs) == 0 {
		return nil
	}
	result := make(map[string]interface{}, len(subAggs))
	for _, agg := range subAggs {
		result[agg.Name()] = agg.ToES()
	}
	return result
}

// withSubAggregations 把子聚合挂到 body 上
func withSubAggregations(body map[string]interface{}, subAggs []Aggregation) map[string]interface{} {
	if aggs := buildSubAggregations(subAggs); aggs != nil {
		body["aggs"] = aggs
	}
	return body
}

// Aggregator 一个分片上某个聚合节点的运行时状态，只被一个 goroutine 使用
type Aggregator interface {
	Name() string
	// Collect 每篇匹配文档调用一次，space 为外层桶对值的约束
	Collect(doc int, space *ValueSpace)
	// PostCollection 最后一篇文档之后调用一次，先子后父
	PostCollection()
	BuildAggregation() (InternalAggregation, error)
}
