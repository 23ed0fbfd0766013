package serializer

import (
	"reflect"

	"github.com/hatlonely/aggx/ref"
	"github.com/pkg/errors"
)

// Namespace 序列化器在 ref 中的注册空间
const Namespace = "github.com/hatlonely/aggx/kv/serializer"

type Serializer[F, T any] interface {
	Serialize(from F) (T, error)
	Deserialize(to T) (F, error)
}

// TypeName 泛型序列化器的注册名，例如 MsgPackSerializer[string]
func TypeName[T any](kind string) string {
	return kind + "[" + reflect.TypeOf((*T)(nil)).Elem().String() + "]"
}

// NewByteSerializerWithOptions 按配置创建序列化器，options 为 nil 时使用 msgpack
func NewByteSerializerWithOptions[T any](options *ref.TypeOptions) (Serializer[T, []byte], error) {
	// 泛型实例只能在使用时注册
	_ = ref.Register(Namespace, TypeName[T]("JSONSerializer"), NewJSONSerializer[T])
	_ = ref.Register(Namespace, TypeName[T]("MsgPackSerializer"), NewMsgPackSerializer[T])

	if options == nil {
		options = &ref.TypeOptions{Type: TypeName[T]("MsgPackSerializer")}
	}
	namespace := options.Namespace
	if namespace == "" {
		namespace = Namespace
	}

	obj, err := ref.New(namespace, options.Type, options.Options)
	if err != nil {
		return nil, errors.WithMessage(err, "ref.New failed")
	}
	s, ok := obj.(Serializer[T, []byte])
	if !ok {
		return nil, errors.Errorf("%T is not a Serializer[%s, []byte]", obj, reflect.TypeOf((*T)(nil)).Elem())
	}
	return s, nil
}
