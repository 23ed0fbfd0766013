package fielddata

import (
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Document 一篇文档的原始字段，值可以是单值或切片
type Document map[string]interface{}

// Memory 内存中的列式字段数据，用于测试和演示
type Memory struct {
	numDocs int
	fields  map[string]ValuesSource
}

// NewMemory 按映射把文档转成列式存储，映射之外的字段被忽略
//
// long 字段接受整数、time.Time 和 RFC3339 字符串（转成毫秒时间戳）
func NewMemory(mapping map[string]ValueType, docs []Document) (*Memory, error) {
	m := &Memory{numDocs: len(docs), fields: map[string]ValuesSource{}}

	for field, typ := range mapping {
		switch typ {
		case ValueTypeLong:
			col := &longColumn{field: field, values: make([][]int64, len(docs))}
			for i, doc := range docs {
				vals, err := toLongs(doc[field])
				if err != nil {
					return nil, errors.WithMessagef(err, "doc %d field %s", i, field)
				}
				col.values[i] = vals
			}
			m.fields[field] = col
		case ValueTypeDouble:
			col := &doubleColumn{field: field, values: make([][]float64, len(docs))}
			for i, doc := range docs {
				vals, err := toDoubles(doc[field])
				if err != nil {
					return nil, errors.WithMessagef(err, "doc %d field %s", i, field)
				}
				col.values[i] = vals
			}
			m.fields[field] = col
		case ValueTypeBytes:
			col := &bytesColumn{field: field, values: make([][]string, len(docs))}
			for i, doc := range docs {
				vals, err := toStrings(doc[field])
				if err != nil {
					return nil, errors.WithMessagef(err, "doc %d field %s", i, field)
				}
				col.values[i] = vals
			}
			m.fields[field] = col
		case ValueTypeGeoPoint:
			col := &geoColumn{field: field, values: make([][]GeoPoint, len(docs))}
			for i, doc := range docs {
				vals, err := toGeoPoints(doc[field])
				if err != nil {
					return nil, errors.WithMessagef(err, "doc %d field %s", i, field)
				}
				col.values[i] = vals
			}
			m.fields[field] = col
		default:
			return nil, errors.Errorf("field %s: cannot map type %s", field, typ)
		}
	}
	return m, nil
}

func (m *Memory) ValuesSource(field string) (ValuesSource, bool) {
	vs, ok := m.fields[field]
	return vs, ok
}

func (m *Memory) NumDocs() int {
	return m.numDocs
}

// AllDocs 返回全部文档编号，相当于 match_all
func (m *Memory) AllDocs() []int {
	docs := make([]int, m.numDocs)
	for i := range docs {
		docs[i] = i
	}
	return docs
}

// Fields 已映射的字段名，按字典序排列
func (m *Memory) Fields() []string {
	fields := make([]string, 0, len(m.fields))
	for field := range m.fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

type longColumn struct {
	field  string
	values [][]int64
}

func (c *longColumn) Key() string           { return c.field }
func (c *longColumn) Type() ValueType       { return ValueTypeLong }
func (c *longColumn) IsFloatingPoint() bool { return false }
func (c *longColumn) Longs(doc int) []int64 { return c.values[doc] }

func (c *longColumn) Doubles(doc int) []float64 {
	longs := c.values[doc]
	if len(longs) == 0 {
		return nil
	}
	doubles := make([]float64, len(longs))
	for i, v := range longs {
		doubles[i] = float64(v)
	}
	return doubles
}

type doubleColumn struct {
	field  string
	values [][]float64
}

func (c *doubleColumn) Key() string               { return c.field }
func (c *doubleColumn) Type() ValueType           { return ValueTypeDouble }
func (c *doubleColumn) IsFloatingPoint() bool     { return true }
func (c *doubleColumn) Doubles(doc int) []float64 { return c.values[doc] }

func (c *doubleColumn) Longs(doc int) []int64 {
	doubles := c.values[doc]
	if len(doubles) == 0 {
		return nil
	}
	longs := make([]int64, len(doubles))
	for i, v := range doubles {
		longs[i] = int64(v)
	}
	return longs
}

type bytesColumn struct {
	field  string
	values [][]string
}

func (c *bytesColumn) Key() string            { return c.field }
func (c *bytesColumn) Type() ValueType        { return ValueTypeBytes }
func (c *bytesColumn) Bytes(doc int) []string { return c.values[doc] }

type geoColumn struct {
	field  string
	values [][]GeoPoint
}

func (c *geoColumn) Key() string                  { return c.field }
func (c *geoColumn) Type() ValueType              { return ValueTypeGeoPoint }
func (c *geoColumn) GeoPoints(doc int) []GeoPoint { return c.values[doc] }

// flatten 把单值和各种切片统一成 []interface{}
func flatten(v interface{}) []interface{} {
	switch vs := v.(type) {
	case nil:
		return nil
	case []interface{}:
		return vs
	case []string:
		out := make([]interface{}, len(vs))
		for i := range vs {
			out[i] = vs[i]
		}
		return out
	case []int:
		out := make([]interface{}, len(vs))
		for i := range vs {
			out[i] = vs[i]
		}
		return out
	case []int64:
		out := make([]interface{}, len(vs))
		for i := range vs {
			out[i] = vs[i]
		}
		return out
	case []float64:
		out := make([]interface{}, len(vs))
		for i := range vs {
			out[i] = vs[i]
		}
		return out
	case []GeoPoint:
		out := make([]interface{}, len(vs))
		for i := range vs {
			out[i] = vs[i]
		}
		return out
	}
	return []interface{}{v}
}

func toLongs(v interface{}) ([]int64, error) {
	items := flatten(v)
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		switch x := item.(type) {
		case int:
			out = append(out, int64(x))
		case int32:
			out = append(out, int64(x))
		case int64:
			out = append(out, x)
		case uint64:
			out = append(out, int64(x))
		case float64:
			if x != float64(int64(x)) {
				return nil, errors.Errorf("%v is not an integer", x)
			}
			out = append(out, int64(x))
		case time.Time:
			out = append(out, x.UnixMilli())
		case string:
			t, err := time.Parse(time.RFC3339, x)
			if err != nil {
				return nil, errors.Wrapf(err, "cannot parse %q as date", x)
			}
			out = append(out, t.UnixMilli())
		default:
			return nil, errors.Errorf("cannot convert %T to long", item)
		}
	}
	return out, nil
}

func toDoubles(v interface{}) ([]float64, error) {
	items := flatten(v)
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		switch x := item.(type) {
		case int:
			out = append(out, float64(x))
		case int64:
			out = append(out, float64(x))
		case float32:
			out = append(out, float64(x))
		case float64:
			out = append(out, x)
		default:
			return nil, errors.Errorf("cannot convert %T to double", item)
		}
	}
	return out, nil
}

func toStrings(v interface{}) ([]string, error) {
	items := flatten(v)
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, errors.Errorf("cannot convert %T to bytes", item)
		}
		out = append(out, s)
	}
	return out, nil
}

func toGeoPoints(v interface{}) ([]GeoPoint, error) {
	items := flatten(v)
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]GeoPoint, 0, len(items))
	for _, item := range items {
		switch x := item.(type) {
		case GeoPoint:
			out = append(out, x)
		case map[string]interface{}:
			lat, ok1 := x["lat"].(float64)
			lon, ok2 := x["lon"].(float64)
			if !ok1 || !ok2 {
				return nil, errors.Errorf("geo point needs numeric lat and lon, got %v", x)
			}
			out = append(out, GeoPoint{Lat: lat, Lon: lon})
		default:
			return nil, errors.Errorf("cannot convert %T to geo_point", item)
		}
	}
	return out, nil
}
