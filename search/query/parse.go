package query

import (
	"github.com/pkg/errors"
)

// Parse 解析 ES DSL 形式的查询，例如 {"term": {"status": "active"}}
func Parse(body map[string]interface{}) (Query, error) {
	if len(body) != 1 {
		return nil, errors.Errorf("query must have exactly one type, got %d", len(body))
	}
	for typ, v := range body {
		switch QueryType(typ) {
		case QueryTypeAll:
			return &MatchAllQuery{}, nil
		case QueryTypeBool:
			return parseBool(v)
		case QueryTypeExists:
			m, ok := v.(map[string]interface{})
			if !ok {
				return nil, errors.Errorf("exists: expected object, got %T", v)
			}
			field, ok := m["field"].(string)
			if !ok || field == "" {
				return nil, errors.New("exists: field is required")
			}
			return &ExistsQuery{Field: field}, nil
		}

		field, value, err := fieldClause(typ, v)
		if err != nil {
			return nil, err
		}
		switch QueryType(typ) {
		case QueryTypeTerm:
			return &TermQuery{Field: field, Value: unwrapValue(value)}, nil
		case QueryTypeTerms:
			values, ok := value.([]interface{})
			if !ok {
				return nil, errors.Errorf("terms: expected array for field %s, got %T", field, value)
			}
			return &TermsQuery{Field: field, Values: values}, nil
		case QueryTypeRange:
			bounds, ok := value.(map[string]interface{})
			if !ok {
				return nil, errors.Errorf("range: expected object for field %s, got %T", field, value)
			}
			q := &RangeQuery{Field: field, Gt: bounds["gt"], Gte: bounds["gte"], Lt: bounds["lt"], Lte: bounds["lte"]}
			if q.Gt == nil && q.Gte == nil && q.Lt == nil && q.Lte == nil {
				return nil, errors.Errorf("range: no bound for field %s", field)
			}
			return q, nil
		case QueryTypePrefix, QueryTypeRegexp:
			s, ok := unwrapValue(value).(string)
			if !ok {
				return nil, errors.Errorf("%s: expected string for field %s", typ, field)
			}
			if QueryType(typ) == QueryTypePrefix {
				return &PrefixQuery{Field: field, Value: s}, nil
			}
			return &RegexpQuery{Field: field, Value: s}, nil
		}
		return nil, errors.Errorf("unknown query type %q", typ)
	}
	return nil, nil
}

// fieldClause {"field": value} 形式的子句
func fieldClause(typ string, v interface{}) (string, interface{}, error) {
	m, ok := v.(map[string]interface{})
	if !ok || len(m) != 1 {
		return "", nil, errors.Errorf("%s: expected a single field", typ)
	}
	for field, value := range m {
		return field, value, nil
	}
	return "", nil, nil
}

// unwrapValue 支持 {"value": x} 的完整写法
func unwrapValue(v interface{}) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		if inner, ok := m["value"]; ok {
			return inner
		}
	}
	return v
}

func parseBool(v interface{}) (Query, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("bool: expected object, got %T", v)
	}
	q := &BoolQuery{}
	for key, clause := range m {
		if key == "minimum_should_match" {
			n, err := toFloat(clause)
			if err != nil {
				return nil, errors.Wrap(err, "bool: minimum_should_match")
			}
			minShould := int(n)
			q.MinShouldMatch = &minShould
			continue
		}
		queries, err := parseClauses(clause)
		if err != nil {
			return nil, errors.WithMessagef(err, "bool.%s", key)
		}
		switch key {
		case "must":
			q.Must = queries
		case "should":
			q.Should = queries
		case "must_not":
			q.MustNot = queries
		case "filter":
			q.Filter = queries
		default:
			return nil, errors.Errorf("bool: unknown clause %q", key)
		}
	}
	return q, nil
}

// parseClauses 单个查询或查询数组
func parseClauses(v interface{}) ([]Query, error) {
	switch c := v.(type) {
	case map[string]interface{}:
		q, err := Parse(c)
		if err != nil {
			return nil, err
		}
		return []Query{q}, nil
	case []interface{}:
		queries := make([]Query, 0, len(c))
		for _, item := range c {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, errors.Errorf("expected query object, got %T", item)
			}
			q, err := Parse(m)
			if err != nil {
				return nil, err
			}
			queries = append(queries, q)
		}
		return queries, nil
	}
	return nil, errors.Errorf("expected query object or array, got %T", v)
}
