package query

import (
	"github.com/hatlonely/aggx/search/fielddata"
)

// ExistsQuery 字段存在查询，至少有一个值即存在
type ExistsQuery struct {
	Field string `json:"field"`
}

func (q *ExistsQuery) Type() QueryType {
	return QueryTypeExists
}

func (q *ExistsQuery) ToES() map[string]interface{} {
	return map[string]interface{}{
		"exists": map[string]interface{}{
			"field": q.Field,
		},
	}
}

func (q *ExistsQuery) Compile(fd fielddata.FieldData) (Matcher, error) {
	vs, ok := fd.ValuesSource(q.Field)
	if !ok {
		return matchNone, nil
	}
	switch src := vs.(type) {
	case fielddata.NumericValuesSource:
		return func(doc int) bool { return len(src.Longs(doc)) > 0 }, nil
	case fielddata.BytesValuesSource:
		return func(doc int) bool { return len(src.Bytes(doc)) > 0 }, nil
	case fielddata.GeoPointValuesSource:
		return func(doc int) bool { return len(src.GeoPoints(doc)) > 0 }, nil
	}
	return matchNone, nil
}
