package aggregation

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Render 以 ES 响应的形式输出，键为聚合名
func (aggs InternalAggregations) Render() map[string]interface{} {
	result := make(map[string]interface{}, len(aggs))
	for _, agg := range aggs {
		result[agg.Name()] = agg.Render()
	}
	return result
}

// RenderJSON Render 的 JSON 形式，NaN 和无穷大已经被渲染为 null
func RenderJSON(aggs InternalAggregations) ([]byte, error) {
	buf, err := json.Marshal(aggs.Render())
	if err != nil {
		return nil, errors.Wrap(err, "json.Marshal failed")
	}
	return buf, nil
}

// renderSubAggregations 子聚合和桶的其他字段放在同一层
func renderSubAggregations(bucket map[string]interface{}, aggs InternalAggregations) {
	for _, agg := range aggs {
		bucket[agg.Name()] = agg.Render()
	}
}
