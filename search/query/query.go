package query

import (
	"time"

	"github.com/hatlonely/aggx/search/fielddata"
	"github.com/pkg/errors"
)

// QueryType 查询类型
type QueryType string

const (
	QueryTypeBool   QueryType = "bool"
	QueryTypeTerm   QueryType = "term"
	QueryTypeTerms  QueryType = "terms"
	QueryTypeRange  QueryType = "range"
	QueryTypeExists QueryType = "exists"
	QueryTypePrefix QueryType = "prefix"
	QueryTypeRegexp QueryType = "regexp"
	QueryTypeAll    QueryType = "match_all"
)

// Query 文档过滤条件，filter/filters 聚合用它划分桶
type Query interface {
	Type() QueryType
	// ToES 以 ES DSL 的形式描述查询，也用作请求缓存键的一部分
	ToES() map[string]interface{}
	// Compile 绑定到一份字段数据，字段未映射时返回永不匹配的 Matcher
	Compile(fd fielddata.FieldData) (Matcher, error)
}

// Matcher 判断文档是否匹配
type Matcher func(doc int) bool

func matchNone(int) bool { return false }

func matchAll(int) bool { return true }

// MatchAllQuery 匹配所有文档
type MatchAllQuery struct{}

func (q *MatchAllQuery) Type() QueryType {
	return QueryTypeAll
}

func (q *MatchAllQuery) ToES() map[string]interface{} {
	return map[string]interface{}{"match_all": map[string]interface{}{}}
}

func (q *MatchAllQuery) Compile(fielddata.FieldData) (Matcher, error) {
	return matchAll, nil
}

// toFloat 把查询里的数值或日期转成 float64，日期为毫秒时间戳
func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case time.Time:
		return float64(x.UnixMilli()), nil
	case string:
		t, err := time.Parse(time.RFC3339, x)
		if err != nil {
			return 0, errors.Errorf("%q is neither a number nor an RFC3339 date", x)
		}
		return float64(t.UnixMilli()), nil
	}
	return 0, errors.Errorf("cannot use %T as a numeric value", v)
}

// anyNumeric 文档任一数值满足 pred 即匹配
func anyNumeric(vs fielddata.NumericValuesSource, pred func(float64) bool) Matcher {
	return func(doc int) bool {
		for _, v := range vs.Doubles(doc) {
			if pred(v) {
				return true
			}
		}
		return false
	}
}

// anyBytes 文档任一字符串值满足 pred 即匹配
func anyBytes(vs fielddata.BytesValuesSource, pred func(string) bool) Matcher {
	return func(doc int) bool {
		for _, v := range vs.Bytes(doc) {
			if pred(v) {
				return true
			}
		}
		return false
	}
}
