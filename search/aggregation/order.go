package aggregation

import (
	"cmp"
	"math"
	"strings"
)

const (
	OrderKeyCount = "_count"
	OrderKeyKey   = "_key"
)

// BucketOrder 桶排序方式：按文档数、按键或按子指标（如 "price_stats.max"）
//
// 主排序键相同时按桶的键升序，保证结果确定
type BucketOrder struct {
	Key string
	Asc bool
}

var (
	OrderCountDesc = BucketOrder{Key: OrderKeyCount}
	OrderKeyAsc    = BucketOrder{Key: OrderKeyKey, Asc: true}
)

func (o BucketOrder) String() string {
	if o.Asc {
		return o.Key + ":asc"
	}
	return o.Key + ":desc"
}

// parseOrder 解析 {"_count": "desc"} 形式的排序，只允许一个键
func parseOrder(aggName string, order map[string]string, dflt BucketOrder) (BucketOrder, error) {
	if len(order) == 0 {
		return dflt, nil
	}
	if len(order) > 1 {
		return BucketOrder{}, configError(aggName, "order accepts exactly one key, got %d", len(order))
	}
	for key, dir := range order {
		if key == "_term" {
			key = OrderKeyKey
		}
		switch strings.ToLower(dir) {
		case "asc":
			return BucketOrder{Key: key, Asc: true}, nil
		case "desc":
			return BucketOrder{Key: key}, nil
		}
		return BucketOrder{}, configError(aggName, "unknown order direction %q", dir)
	}
	return dflt, nil
}

// validateOrder 按子指标排序时，指标必须是 idx 的直接子聚合
func (t *Tree) validateOrder(idx int, o BucketOrder) error {
	if o.Key == OrderKeyCount || o.Key == OrderKeyKey {
		return nil
	}
	aggName := t.nodes[idx].agg.Name()
	name, property := splitMetricPath(o.Key)
	child, ok := t.child(idx, name)
	if !ok {
		return configError(aggName, "order path [%s] does not name a sub-aggregation", o.Key)
	}
	metric, ok := child.agg.(interface{ properties() []string })
	if !ok {
		return configError(aggName, "order path [%s] points to a non metric aggregation", o.Key)
	}
	for _, p := range metric.properties() {
		if p == property {
			return nil
		}
	}
	return configError(aggName, "order path [%s]: unknown metric property %q", o.Key, property)
}

func splitMetricPath(path string) (string, string) {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}

// MetricValue 按路径读取子指标的值，例如 "avg_price" 或 "price_stats.max"
func MetricValue(aggs InternalAggregations, path string) (float64, bool) {
	name, property := splitMetricPath(path)
	metric, ok := aggs.Get(name).(NumericMetric)
	if !ok {
		return math.NaN(), false
	}
	v, err := metric.GetValue(property)
	if err != nil {
		return math.NaN(), false
	}
	return v, true
}

// Bucket 可排序的桶
type Bucket interface {
	GetDocCount() int64
	GetAggregations() InternalAggregations
}

// comparator 构造全序比较函数，keyCmp 比较桶的键（升序）
func comparator[B Bucket](o BucketOrder, keyCmp func(a, b B) int) func(a, b B) int {
	var primary func(a, b B) int
	switch o.Key {
	case OrderKeyKey:
		primary = keyCmp
	case OrderKeyCount:
		primary = func(a, b B) int { return cmp.Compare(a.GetDocCount(), b.GetDocCount()) }
	default:
		path := o.Key
		primary = func(a, b B) int {
			va, _ := MetricValue(a.GetAggregations(), path)
			vb, _ := MetricValue(b.GetAggregations(), path)
			return cmp.Compare(va, vb)
		}
	}

	return func(a, b B) int {
		c := primary(a, b)
		if !o.Asc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return keyCmp(a, b)
	}
}
