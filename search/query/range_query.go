package query

import (
	"github.com/hatlonely/aggx/search/fielddata"
	"github.com/pkg/errors"
)

// RangeQuery 范围查询，数值字段按数值比较，字符串字段按字典序比较
type RangeQuery struct {
	Field string      `json:"field"`
	Gt    interface{} `json:"gt,omitempty"`
	Gte   interface{} `json:"gte,omitempty"`
	Lt    interface{} `json:"lt,omitempty"`
	Lte   interface{} `json:"lte,omitempty"`
}

func (q *RangeQuery) Type() QueryType {
	return QueryTypeRange
}

func (q *RangeQuery) ToES() map[string]interface{} {
	rangeQuery := make(map[string]interface{})
	if q.Gt != nil {
		rangeQuery["gt"] = q.Gt
	}
	if q.Gte != nil {
		rangeQuery["gte"] = q.Gte
	}
	if q.Lt != nil {
		rangeQuery["lt"] = q.Lt
	}
	if q.Lte != nil {
		rangeQuery["lte"] = q.Lte
	}

	return map[string]interface{}{
		"range": map[string]interface{}{
			q.Field: rangeQuery,
		},
	}
}

func (q *RangeQuery) Compile(fd fielddata.FieldData) (Matcher, error) {
	vs, ok := fd.ValuesSource(q.Field)
	if !ok {
		return matchNone, nil
	}

	switch src := vs.(type) {
	case fielddata.NumericValuesSource:
		var preds []func(float64) bool
		for _, bound := range []struct {
			value interface{}
			pred  func(v, b float64) bool
		}{
			{q.Gt, func(v, b float64) bool { return v > b }},
			{q.Gte, func(v, b float64) bool { return v >= b }},
			{q.Lt, func(v, b float64) bool { return v < b }},
			{q.Lte, func(v, b float64) bool { return v <= b }},
		} {
			if bound.value == nil {
				continue
			}
			b, err := toFloat(bound.value)
			if err != nil {
				return nil, errors.WithMessagef(err, "range on field %s", q.Field)
			}
			pred := bound.pred
			preds = append(preds, func(v float64) bool { return pred(v, b) })
		}
		return anyNumeric(src, func(v float64) bool {
			for _, pred := range preds {
				if !pred(v) {
					return false
				}
			}
			return true
		}), nil
	case fielddata.BytesValuesSource:
		var preds []func(string) bool
		for _, bound := range []struct {
			value interface{}
			pred  func(v, b string) bool
		}{
			{q.Gt, func(v, b string) bool { return v > b }},
			{q.Gte, func(v, b string) bool { return v >= b }},
			{q.Lt, func(v, b string) bool { return v < b }},
			{q.Lte, func(v, b string) bool { return v <= b }},
		} {
			if bound.value == nil {
				continue
			}
			b, ok := bound.value.(string)
			if !ok {
				return nil, errors.Errorf("range on field %s: expected string bound, got %T", q.Field, bound.value)
			}
			pred := bound.pred
			preds = append(preds, func(v string) bool { return pred(v, b) })
		}
		return anyBytes(src, func(v string) bool {
			for _, pred := range preds {
				if !pred(v) {
					return false
				}
			}
			return true
		}), nil
	}
	return nil, errors.Errorf("range on field %s: unsupported field type %s", q.Field, vs.Type())
}
