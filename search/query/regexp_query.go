package query

import (
	"regexp"

	"github.com/hatlonely/aggx/search/fielddata"
	"github.com/pkg/errors"
)

// RegexpQuery 正则匹配，整个值都要匹配
type RegexpQuery struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (q *RegexpQuery) Type() QueryType {
	return QueryTypeRegexp
}

func (q *RegexpQuery) ToES() map[string]interface{} {
	return map[string]interface{}{
		"regexp": map[string]interface{}{
			q.Field: q.Value,
		},
	}
}

func (q *RegexpQuery) Compile(fd fielddata.FieldData) (Matcher, error) {
	re, err := regexp.Compile("^(?:" + q.Value + ")$")
	if err != nil {
		return nil, errors.Wrapf(err, "regexp on field %s", q.Field)
	}
	vs, ok := fd.ValuesSource(q.Field)
	if !ok {
		return matchNone, nil
	}
	src, ok := vs.(fielddata.BytesValuesSource)
	if !ok {
		return nil, errors.Errorf("regexp on field %s: expected bytes field, got %s", q.Field, vs.Type())
	}
	return anyBytes(src, re.MatchString), nil
}
