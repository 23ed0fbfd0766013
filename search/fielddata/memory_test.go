package fielddata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemory(t *testing.T) {
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	m, err := NewMemory(map[string]ValueType{
		"tag":      ValueTypeBytes,
		"price":    ValueTypeDouble,
		"ts":       ValueTypeLong,
		"location": ValueTypeGeoPoint,
	}, []Document{
		{"tag": []string{"a", "a", "b"}, "price": 1.5, "ts": ts, "location": GeoPoint{Lat: 1, Lon: 2}},
		{"tag": "c", "price": []interface{}{2, 3.5}, "ts": "2024-03-02T00:00:00Z"},
		{"ignored": true},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, m.NumDocs())
	assert.Equal(t, []int{0, 1, 2}, m.AllDocs())
	assert.Equal(t, []string{"location", "price", "tag", "ts"}, m.Fields())

	vs, ok := m.ValuesSource("tag")
	require.True(t, ok)
	assert.Equal(t, "tag", vs.Key())
	assert.Equal(t, []string{"a", "a", "b"}, vs.(BytesValuesSource).Bytes(0))
	assert.Empty(t, vs.(BytesValuesSource).Bytes(2))

	vs, _ = m.ValuesSource("price")
	assert.Equal(t, []float64{2, 3.5}, vs.(NumericValuesSource).Doubles(1))
	assert.True(t, vs.(NumericValuesSource).IsFloatingPoint())

	vs, _ = m.ValuesSource("ts")
	assert.Equal(t, []int64{ts.UnixMilli()}, vs.(NumericValuesSource).Longs(0))
	assert.Equal(t, []float64{float64(ts.Add(24 * time.Hour).UnixMilli())}, vs.(NumericValuesSource).Doubles(1))

	vs, _ = m.ValuesSource("location")
	assert.Equal(t, []GeoPoint{{Lat: 1, Lon: 2}}, vs.(GeoPointValuesSource).GeoPoints(0))

	_, ok = m.ValuesSource("ignored")
	assert.False(t, ok)
}

func TestNewMemoryErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		mapping map[string]ValueType
		doc     Document
	}{
		{"long 字段是小数", map[string]ValueType{"n": ValueTypeLong}, Document{"n": 1.5}},
		{"long 字段是非法日期", map[string]ValueType{"n": ValueTypeLong}, Document{"n": "yesterday"}},
		{"double 字段是字符串", map[string]ValueType{"n": ValueTypeDouble}, Document{"n": "1"}},
		{"bytes 字段是数字", map[string]ValueType{"n": ValueTypeBytes}, Document{"n": 1}},
		{"geo 缺少经度", map[string]ValueType{"n": ValueTypeGeoPoint}, Document{"n": map[string]interface{}{"lat": 1.0}}},
		{"不能映射的类型", map[string]ValueType{"n": ValueTypeNumeric}, Document{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMemory(tc.mapping, []Document{tc.doc})
			assert.Error(t, err)
		})
	}
}

func TestValueType(t *testing.T) {
	assert.True(t, ValueTypeAny.Accepts(ValueTypeBytes))
	assert.True(t, ValueTypeNumeric.Accepts(ValueTypeLong))
	assert.True(t, ValueTypeNumeric.Accepts(ValueTypeDouble))
	assert.False(t, ValueTypeNumeric.Accepts(ValueTypeBytes))
	assert.False(t, ValueTypeLong.Accepts(ValueTypeDouble))
	assert.Equal(t, "geo_point", ValueTypeGeoPoint.String())

	typ, err := ParseValueType("date")
	require.NoError(t, err)
	assert.Equal(t, ValueTypeLong, typ)
	_, err = ParseValueType("object")
	assert.Error(t, err)
}
