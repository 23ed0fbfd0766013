package query

import (
	"strings"

	"github.com/hatlonely/aggx/search/fielddata"
	"github.com/pkg/errors"
)

// PrefixQuery 前缀匹配，只用于字符串字段
type PrefixQuery struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (q *PrefixQuery) Type() QueryType {
	return QueryTypePrefix
}

func (q *PrefixQuery) ToES() map[string]interface{} {
	return map[string]interface{}{
		"prefix": map[string]interface{}{
			q.Field: q.Value,
		},
	}
}

func (q *PrefixQuery) Compile(fd fielddata.FieldData) (Matcher, error) {
	vs, ok := fd.ValuesSource(q.Field)
	if !ok {
		return matchNone, nil
	}
	src, ok := vs.(fielddata.BytesValuesSource)
	if !ok {
		return nil, errors.Errorf("prefix on field %s: expected bytes field, got %s", q.Field, vs.Type())
	}
	prefix := q.Value
	return anyBytes(src, func(v string) bool { return strings.HasPrefix(v, prefix) }), nil
}
