package cfg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load 根据文件后缀选择解码方式加载配置，随后依次设置默认值、校验
//
//	.json -> encoding/json
//	.yaml/.yml -> gopkg.in/yaml.v3
//	.toml -> github.com/BurntSushi/toml
func Load(filename string, object interface{}) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return Decode(data, strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."), object)
}

// Decode 按指定格式解码配置数据到 object
func Decode(data []byte, format string, object interface{}) error {
	var raw interface{}
	switch format {
	case "json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("failed to decode JSON: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("failed to decode YAML: %w", err)
		}
	case "toml":
		var m map[string]interface{}
		if _, err := toml.Decode(string(data), &m); err != nil {
			return fmt.Errorf("failed to decode TOML: %w", err)
		}
		raw = m
	default:
		return fmt.Errorf("unsupported config format: %q", format)
	}

	if err := NewValue(raw).ConvertTo(object); err != nil {
		return err
	}
	if err := SetDefaults(object); err != nil {
		return err
	}
	return Validate(object)
}

// Value 解码后尚未绑定到具体类型的配置数据
// 目标字段类型为 interface{} 时保存 Value，由使用方（例如 ref.New）再次 ConvertTo
type Value struct {
	data interface{}
}

func NewValue(data interface{}) *Value {
	return &Value{data: data}
}

func (v *Value) Data() interface{} {
	return v.data
}

// ConvertTo 将配置数据绑定到 object 指向的结构体、map、slice 或基础类型
func (v *Value) ConvertTo(object interface{}) error {
	rv := reflect.ValueOf(object)
	if !rv.IsValid() || rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("object must be a non-nil pointer, got %T", object)
	}
	return convert(v.data, rv.Elem(), "")
}

func convert(data interface{}, rv reflect.Value, path string) error {
	if data == nil {
		return nil
	}

	if rv.Kind() == reflect.Interface {
		if rv.NumMethod() > 0 {
			return fmt.Errorf("%s: cannot bind to non-empty interface %v", path, rv.Type())
		}
		if _, isMap := data.(map[string]interface{}); isMap {
			rv.Set(reflect.ValueOf(NewValue(data)))
			return nil
		}
		if _, isSlice := data.([]interface{}); isSlice {
			rv.Set(reflect.ValueOf(NewValue(data)))
			return nil
		}
		rv.Set(reflect.ValueOf(data))
		return nil
	}

	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		return convert(data, rv.Elem(), path)
	}

	if rv.Type() == durationType {
		switch d := data.(type) {
		case string:
			parsed, err := time.ParseDuration(d)
			if err != nil {
				return fmt.Errorf("%s: invalid duration %q", path, d)
			}
			rv.SetInt(int64(parsed))
			return nil
		case time.Duration:
			rv.SetInt(int64(d))
			return nil
		}
	}

	switch rv.Kind() {
	case reflect.Struct:
		m, ok := data.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%s: expected object, got %T", path, data)
		}
		return convertStruct(m, rv, path)
	case reflect.Map:
		m, ok := data.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%s: expected object, got %T", path, data)
		}
		if rv.IsNil() {
			rv.Set(reflect.MakeMapWithSize(rv.Type(), len(m)))
		}
		for k, item := range m {
			elem := reflect.New(rv.Type().Elem()).Elem()
			if err := convert(item, elem, join(path, k)); err != nil {
				return err
			}
			rv.SetMapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()), elem)
		}
		return nil
	case reflect.Slice:
		items, ok := data.([]interface{})
		if !ok {
			return fmt.Errorf("%s: expected array, got %T", path, data)
		}
		slice := reflect.MakeSlice(rv.Type(), len(items), len(items))
		for i, item := range items {
			if err := convert(item, slice.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		rv.Set(slice)
		return nil
	case reflect.String:
		s, ok := data.(string)
		if !ok {
			return fmt.Errorf("%s: expected string, got %T", path, data)
		}
		rv.SetString(s)
		return nil
	}

	dv := reflect.ValueOf(data)
	if dv.Type().ConvertibleTo(rv.Type()) && isScalar(dv.Kind()) && isScalar(rv.Kind()) {
		rv.Set(dv.Convert(rv.Type()))
		return nil
	}
	return fmt.Errorf("%s: cannot convert %T to %v", path, data, rv.Type())
}

func convertStruct(m map[string]interface{}, rv reflect.Value, path string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			if err := convertStruct(m, rv.Field(i), path); err != nil {
				return err
			}
			continue
		}
		name := field.Tag.Get("cfg")
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}
		item, ok := lookup(m, name)
		if !ok {
			continue
		}
		if err := convert(item, rv.Field(i), join(path, name)); err != nil {
			return err
		}
	}
	return nil
}

// lookup 先精确匹配，再忽略大小写匹配
func lookup(m map[string]interface{}, name string) (interface{}, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func isScalar(k reflect.Kind) bool {
	switch k {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
