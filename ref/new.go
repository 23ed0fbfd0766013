package ref

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// TypeOptions 通过 namespace + type 定位一个已注册的构造函数
type TypeOptions struct {
	Namespace string `cfg:"namespace" yaml:"namespace" json:"namespace"`
	Type      string `cfg:"type" yaml:"type" json:"type"`
	Options   any    `cfg:"options" yaml:"options" json:"options"`
}

type constructor struct {
	fn           reflect.Value
	paramType    reflect.Type // 无参构造函数为 nil
	returnsError bool
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// newConstructor 校验构造函数签名：0/1 个参数，返回 T 或 (T, error)
func newConstructor(newFunc any) (*constructor, error) {
	fv := reflect.ValueOf(newFunc)
	if fv.Kind() != reflect.Func {
		return nil, fmt.Errorf("newFunc must be a function, got %T", newFunc)
	}

	ft := fv.Type()
	if ft.NumIn() > 1 {
		return nil, fmt.Errorf("newFunc must have 0 or 1 input parameters, got %d", ft.NumIn())
	}
	if ft.NumOut() != 1 && ft.NumOut() != 2 {
		return nil, fmt.Errorf("newFunc must have 1 or 2 return values, got %d", ft.NumOut())
	}
	if ft.NumOut() == 2 && !ft.Out(1).Implements(errorType) {
		return nil, fmt.Errorf("second return value must be error type")
	}

	c := &constructor{fn: fv, returnsError: ft.NumOut() == 2}
	if ft.NumIn() == 1 {
		c.paramType = ft.In(0)
	}
	return c, nil
}

func (c *constructor) call(options any) (any, error) {
	var args []reflect.Value
	if c.paramType != nil {
		arg, err := c.argument(options)
		if err != nil {
			return nil, err
		}
		args = []reflect.Value{arg}
	}

	results := c.fn.Call(args)
	if c.returnsError && !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}
	return results[0].Interface(), nil
}

// Convertable 尚未绑定类型的配置数据（例如从配置文件解码出的对象）
// 作为 options 传入时会被转换成构造函数的参数类型
type Convertable interface {
	ConvertTo(object interface{}) error
}

// argument 把 options 转成构造函数需要的参数类型
// nil 会被替换成参数类型的零值（指针类型则分配一个新对象）
func (c *constructor) argument(options any) (reflect.Value, error) {
	if options == nil {
		if c.paramType.Kind() == reflect.Ptr {
			return reflect.New(c.paramType.Elem()), nil
		}
		return reflect.Zero(c.paramType), nil
	}

	if convertable, ok := options.(Convertable); ok {
		target := c.paramType
		if target.Kind() == reflect.Ptr {
			target = target.Elem()
		}
		ptr := reflect.New(target)
		if err := convertable.ConvertTo(ptr.Interface()); err != nil {
			return reflect.Value{}, fmt.Errorf("failed to convert options to %v: %w", c.paramType, err)
		}
		if c.paramType.Kind() == reflect.Ptr {
			return ptr, nil
		}
		return ptr.Elem(), nil
	}

	ov := reflect.ValueOf(options)
	switch {
	case ov.Type().AssignableTo(c.paramType):
		return ov, nil
	case c.paramType.Kind() == reflect.Ptr && ov.Type().AssignableTo(c.paramType.Elem()):
		ptr := reflect.New(c.paramType.Elem())
		ptr.Elem().Set(ov)
		return ptr, nil
	case ov.Kind() == reflect.Ptr && !ov.IsNil() && ov.Elem().Type().AssignableTo(c.paramType):
		return ov.Elem(), nil
	}
	return reflect.Value{}, fmt.Errorf("options type %T is not assignable to %v", options, c.paramType)
}

var (
	mu           sync.RWMutex
	constructors = map[string]*constructor{}
)

func key(namespace, type_ string) string {
	return namespace + ":" + type_
}

// Register 注册构造函数，同一个 key 重复注册相同函数会被忽略，注册不同函数返回错误
func Register(namespace string, type_ string, newFunc any) error {
	c, err := newConstructor(newFunc)
	if err != nil {
		return fmt.Errorf("failed to create constructor for %s: %w", key(namespace, type_), err)
	}

	mu.Lock()
	defer mu.Unlock()

	if existing, ok := constructors[key(namespace, type_)]; ok {
		if existing.fn.Pointer() == c.fn.Pointer() {
			return nil
		}
		return fmt.Errorf("constructor for %s already registered with different function", key(namespace, type_))
	}
	constructors[key(namespace, type_)] = c
	return nil
}

func MustRegister(namespace string, type_ string, newFunc any) {
	if err := Register(namespace, type_, newFunc); err != nil {
		panic(err)
	}
}

// New 根据 namespace 和 type 创建对象
func New(namespace string, type_ string, options any) (any, error) {
	mu.RLock()
	c, ok := constructors[key(namespace, type_)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("constructor not found for %s", key(namespace, type_))
	}
	return c.call(options)
}

// NewT 创建对象并断言为 T
func NewT[T any](options *TypeOptions) (T, error) {
	var zero T
	if options == nil {
		return zero, fmt.Errorf("type options cannot be nil")
	}
	obj, err := New(options.Namespace, options.Type, options.Options)
	if err != nil {
		return zero, err
	}
	t, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("%s created %T, which is not %v", key(options.Namespace, options.Type), obj, reflect.TypeOf((*T)(nil)).Elem())
	}
	return t, nil
}

// Registered 返回 namespace 下已注册的类型名，按字典序排列
func Registered(namespace string) []string {
	mu.RLock()
	defer mu.RUnlock()

	var types []string
	prefix := namespace + ":"
	for k := range constructors {
		if strings.HasPrefix(k, prefix) {
			types = append(types, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(types)
	return types
}
