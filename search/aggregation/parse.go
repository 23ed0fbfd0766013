package aggregation

import (
	"sort"
	"strconv"
	"strings"

	"github.com/hatlonely/aggx/cfg"
	"github.com/hatlonely/aggx/search/query"
	"github.com/pkg/errors"
)

// Parse 解析 ES DSL 中 "aggs" 部分，同层聚合按名字排序
//
//	{"by_status": {"terms": {"field": "status"}, "aggs": {"avg_price": {"avg": {"field": "price"}}}}}
//
// 参数名同时接受 ES 的 snake_case 和结构体 cfg tag 的写法
func Parse(body map[string]interface{}) ([]Aggregation, error) {
	names := make([]string, 0, len(body))
	for name := range body {
		names = append(names, name)
	}
	sort.Strings(names)

	aggs := make([]Aggregation, 0, len(names))
	for _, name := range names {
		def, ok := body[name].(map[string]interface{})
		if !ok {
			return nil, configError(name, "expected object, got %T", body[name])
		}
		agg, err := parseOne(name, def)
		if err != nil {
			return nil, err
		}
		aggs = append(aggs, agg)
	}
	return aggs, nil
}

func parseOne(name string, def map[string]interface{}) (Aggregation, error) {
	var (
		typ     string
		params  map[string]interface{}
		subBody map[string]interface{}
	)
	for key, v := range def {
		switch key {
		case "aggs", "aggregations":
			m, ok := v.(map[string]interface{})
			if !ok {
				return nil, configError(name, "%s: expected object, got %T", key, v)
			}
			subBody = m
		default:
			if typ != "" {
				return nil, configError(name, "found two aggregation types [%s] and [%s]", typ, key)
			}
			m, ok := v.(map[string]interface{})
			if !ok {
				return nil, configError(name, "%s: expected object, got %T", key, v)
			}
			typ, params = key, m
		}
	}
	if typ == "" {
		return nil, configError(name, "missing aggregation type")
	}

	var subs []Aggregation
	if subBody != nil {
		var err error
		if subs, err = Parse(subBody); err != nil {
			return nil, err
		}
	}

	bucket := BucketAggregation{AggName: name, SubAggregations: subs}
	metric := MetricAggregation{AggName: name}
	var agg Aggregation
	switch AggregationType(typ) {
	case AggTypeTerms:
		agg = &TermsAggregation{BucketAggregation: bucket}
		params = termsParams(params)
	case AggTypeHistogram:
		agg = &HistogramAggregation{BucketAggregation: bucket}
	case AggTypeDateHisto:
		agg = &DateHistogramAggregation{BucketAggregation: bucket}
		params = dateHistogramParams(params)
	case AggTypeRange:
		agg = &RangeAggregation{BucketAggregation: bucket}
	case AggTypeFilter:
		q, err := query.Parse(params)
		if err != nil {
			return nil, configError(name, "filter: %v", err)
		}
		return &FilterAggregation{BucketAggregation: bucket, Filter: q}, nil
	case AggTypeFilters:
		return parseFilters(bucket, params)
	case AggTypeSum:
		agg = &SumAggregation{MetricAggregation: metric}
	case AggTypeMin:
		agg = &MinAggregation{MetricAggregation: metric}
	case AggTypeMax:
		agg = &MaxAggregation{MetricAggregation: metric}
	case AggTypeAvg:
		agg = &AvgAggregation{MetricAggregation: metric}
	case AggTypeValueCount:
		agg = &ValueCountAggregation{MetricAggregation: metric}
	case AggTypeStats:
		agg = &StatsAggregation{MetricAggregation: metric}
	default:
		return nil, configError(name, "unknown aggregation type [%s]", typ)
	}
	if len(subs) > 0 && len(agg.subAggregations()) == 0 {
		return nil, configError(name, "%s aggregation cannot have sub-aggregations", typ)
	}

	if err := cfg.NewValue(normalizeKeys(params)).ConvertTo(agg); err != nil {
		return nil, configError(name, "%v", err)
	}
	return agg, nil
}

// normalizeKeys 去掉顶层参数名中的下划线，cfg 按忽略大小写匹配字段
func normalizeKeys(params map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(params))
	for k, v := range params {
		result[strings.ReplaceAll(k, "_", "")] = v
	}
	return result
}

// termsParams include/exclude 可以是正则字符串或值数组
func termsParams(params map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(params))
	for k, v := range params {
		if k == "include" || k == "exclude" {
			switch x := v.(type) {
			case string:
				v = map[string]interface{}{"pattern": x}
			case []interface{}:
				v = map[string]interface{}{"values": x}
			}
		}
		result[k] = v
	}
	return result
}

// dateHistogramParams calendar_interval 和 fixed_interval 都当作 interval
func dateHistogramParams(params map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(params))
	for k, v := range params {
		if k == "calendar_interval" || k == "fixed_interval" {
			k = "interval"
		}
		result[k] = v
	}
	return result
}

// parseFilters filters 可以是命名对象或匿名数组，匿名时键为下标
func parseFilters(bucket BucketAggregation, params map[string]interface{}) (Aggregation, error) {
	name := bucket.AggName
	agg := &FiltersAggregation{BucketAggregation: bucket}
	for key, v := range params {
		switch key {
		case "keyed":
			keyed, ok := v.(bool)
			if !ok {
				return nil, configError(name, "keyed: expected bool, got %T", v)
			}
			agg.Keyed = keyed
		case "other_bucket_key", "otherBucketKey":
			s, ok := v.(string)
			if !ok {
				return nil, configError(name, "%s: expected string, got %T", key, v)
			}
			agg.OtherBucketKey = s
		case "other_bucket":
			if other, ok := v.(bool); ok && other && agg.OtherBucketKey == "" {
				agg.OtherBucketKey = "_other_"
			}
		case "filters":
		default:
			return nil, configError(name, "unknown filters parameter [%s]", key)
		}
	}

	switch filters := params["filters"].(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(filters))
		for k := range filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			q, err := parseFilter(name, k, filters[k])
			if err != nil {
				return nil, err
			}
			agg.Filters = append(agg.Filters, NamedFilter{Key: k, Filter: q})
		}
		agg.Keyed = agg.Keyed || params["keyed"] == nil
	case []interface{}:
		for i, item := range filters {
			key := strconv.Itoa(i)
			q, err := parseFilter(name, key, item)
			if err != nil {
				return nil, err
			}
			agg.Filters = append(agg.Filters, NamedFilter{Key: key, Filter: q})
		}
	default:
		return nil, configError(name, "filters: expected object or array, got %T", params["filters"])
	}
	return agg, nil
}

func parseFilter(aggName string, key string, v interface{}) (query.Query, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, configError(aggName, "filter [%s]: expected object, got %T", key, v)
	}
	q, err := query.Parse(m)
	if err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "aggregation [%s]: filter [%s]: %v", aggName, key, err)
	}
	return q, nil
}
