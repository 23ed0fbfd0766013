package query

import (
	"github.com/hatlonely/aggx/search/fielddata"
)

// TermsQuery 匹配任一值
type TermsQuery struct {
	Field  string        `json:"field"`
	Values []interface{} `json:"values"`
}

func (q *TermsQuery) Type() QueryType {
	return QueryTypeTerms
}

func (q *TermsQuery) ToES() map[string]interface{} {
	return map[string]interface{}{
		"terms": map[string]interface{}{
			q.Field: q.Values,
		},
	}
}

func (q *TermsQuery) Compile(fd fielddata.FieldData) (Matcher, error) {
	vs, ok := fd.ValuesSource(q.Field)
	if !ok || len(q.Values) == 0 {
		return matchNone, nil
	}
	return compileTerms(q.Field, vs, q.Values)
}
