package fielddata

import (
	"fmt"
)

// ValueType 字段值类型
type ValueType int

const (
	// ValueTypeAny 不限制类型，只能用于声明需求
	ValueTypeAny ValueType = iota
	// ValueTypeNumeric long 或 double，只能用于声明需求
	ValueTypeNumeric
	ValueTypeLong
	ValueTypeDouble
	ValueTypeBytes
	ValueTypeGeoPoint
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeAny:
		return "any"
	case ValueTypeNumeric:
		return "numeric"
	case ValueTypeLong:
		return "long"
	case ValueTypeDouble:
		return "double"
	case ValueTypeBytes:
		return "bytes"
	case ValueTypeGeoPoint:
		return "geo_point"
	}
	return fmt.Sprintf("ValueType(%d)", int(t))
}

// Accepts 判断 other 类型的字段能否满足 t 的需求
func (t ValueType) Accepts(other ValueType) bool {
	switch t {
	case ValueTypeAny:
		return true
	case ValueTypeNumeric:
		return other == ValueTypeLong || other == ValueTypeDouble || other == ValueTypeNumeric
	}
	return t == other
}

// ParseValueType 解析映射中声明的字段类型
func ParseValueType(s string) (ValueType, error) {
	switch s {
	case "long", "integer", "date":
		return ValueTypeLong, nil
	case "double", "float":
		return ValueTypeDouble, nil
	case "keyword", "string", "bytes":
		return ValueTypeBytes, nil
	case "geo_point":
		return ValueTypeGeoPoint, nil
	}
	return ValueTypeAny, fmt.Errorf("unknown value type %q", s)
}

type GeoPoint struct {
	Lat float64 `json:"lat" msgpack:"lat"`
	Lon float64 `json:"lon" msgpack:"lon"`
}

// ValuesSource 按文档读取一个字段的全部值
type ValuesSource interface {
	// Key 值来源的标识，同一字段的不同实例 Key 相同
	Key() string
	Type() ValueType
}

// NumericValuesSource long 和 double 字段都以 float64 读出，long 字段另外提供精确值
type NumericValuesSource interface {
	ValuesSource
	Doubles(doc int) []float64
	Longs(doc int) []int64
	IsFloatingPoint() bool
}

type BytesValuesSource interface {
	ValuesSource
	Bytes(doc int) []string
}

type GeoPointValuesSource interface {
	ValuesSource
	GeoPoints(doc int) []GeoPoint
}

// FieldData 一个分片（或段）上所有已映射字段的值
type FieldData interface {
	// ValuesSource 字段未映射时返回 false
	ValuesSource(field string) (ValuesSource, bool)
}
