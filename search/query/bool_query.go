package query

import (
	"github.com/hatlonely/aggx/search/fielddata"
)

// BoolQuery 布尔查询
//
// 没有 must/filter 时至少要满足一个 should；MinShouldMatch 显式指定时以它为准
type BoolQuery struct {
	Must           []Query `json:"must,omitempty"`
	Should         []Query `json:"should,omitempty"`
	MustNot        []Query `json:"must_not,omitempty"`
	Filter         []Query `json:"filter,omitempty"`
	MinShouldMatch *int    `json:"minimum_should_match,omitempty"`
}

func (q *BoolQuery) Type() QueryType {
	return QueryTypeBool
}

func (q *BoolQuery) ToES() map[string]interface{} {
	boolQuery := make(map[string]interface{})
	for _, clause := range []struct {
		name    string
		queries []Query
	}{
		{"must", q.Must},
		{"should", q.Should},
		{"must_not", q.MustNot},
		{"filter", q.Filter},
	} {
		if len(clause.queries) == 0 {
			continue
		}
		items := make([]interface{}, len(clause.queries))
		for i, query := range clause.queries {
			items[i] = query.ToES()
		}
		boolQuery[clause.name] = items
	}
	if q.MinShouldMatch != nil {
		boolQuery["minimum_should_match"] = *q.MinShouldMatch
	}

	return map[string]interface{}{
		"bool": boolQuery,
	}
}

func (q *BoolQuery) Compile(fd fielddata.FieldData) (Matcher, error) {
	must, err := compileAll(fd, append(append([]Query{}, q.Must...), q.Filter...))
	if err != nil {
		return nil, err
	}
	should, err := compileAll(fd, q.Should)
	if err != nil {
		return nil, err
	}
	mustNot, err := compileAll(fd, q.MustNot)
	if err != nil {
		return nil, err
	}

	minShould := 0
	if q.MinShouldMatch != nil {
		minShould = *q.MinShouldMatch
	} else if len(must) == 0 && len(should) > 0 {
		minShould = 1
	}

	return func(doc int) bool {
		for _, m := range must {
			if !m(doc) {
				return false
			}
		}
		for _, m := range mustNot {
			if m(doc) {
				return false
			}
		}
		if minShould == 0 {
			return true
		}
		matched := 0
		for _, m := range should {
			if m(doc) {
				matched++
				if matched >= minShould {
					return true
				}
			}
		}
		return false
	}, nil
}

func compileAll(fd fielddata.FieldData, queries []Query) ([]Matcher, error) {
	matchers := make([]Matcher, 0, len(queries))
	for _, q := range queries {
		m, err := q.Compile(fd)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	return matchers, nil
}
