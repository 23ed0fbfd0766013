package query

import (
	"github.com/hatlonely/aggx/search/fielddata"
	"github.com/pkg/errors"
)

// TermQuery 精确匹配查询
type TermQuery struct {
	Field string      `json:"field"`
	Value interface{} `json:"value"`
}

func (q *TermQuery) Type() QueryType {
	return QueryTypeTerm
}

func (q *TermQuery) ToES() map[string]interface{} {
	return map[string]interface{}{
		"term": map[string]interface{}{
			q.Field: q.Value,
		},
	}
}

func (q *TermQuery) Compile(fd fielddata.FieldData) (Matcher, error) {
	vs, ok := fd.ValuesSource(q.Field)
	if !ok {
		return matchNone, nil
	}
	return compileTerms(q.Field, vs, []interface{}{q.Value})
}

// compileTerms 任一文档值等于 values 中任一值即匹配
func compileTerms(field string, vs fielddata.ValuesSource, values []interface{}) (Matcher, error) {
	switch src := vs.(type) {
	case fielddata.NumericValuesSource:
		set := make(map[float64]struct{}, len(values))
		for _, value := range values {
			f, err := toFloat(value)
			if err != nil {
				return nil, errors.WithMessagef(err, "term on field %s", field)
			}
			set[f] = struct{}{}
		}
		return anyNumeric(src, func(v float64) bool {
			_, ok := set[v]
			return ok
		}), nil
	case fielddata.BytesValuesSource:
		set := make(map[string]struct{}, len(values))
		for _, value := range values {
			s, ok := value.(string)
			if !ok {
				return nil, errors.Errorf("term on field %s: expected string, got %T", field, value)
			}
			set[s] = struct{}{}
		}
		return anyBytes(src, func(v string) bool {
			_, ok := set[v]
			return ok
		}), nil
	}
	return nil, errors.Errorf("term on field %s: unsupported field type %s", field, vs.Type())
}
