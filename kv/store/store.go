package store

import (
	"context"
	"reflect"
	"time"

	"github.com/hatlonely/aggx/ref"
	"github.com/pkg/errors"
)

// Namespace 存储在 ref 中的注册空间
const Namespace = "github.com/hatlonely/aggx/kv/store"

var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrConditionFailed = errors.New("condition failed")
)

// setOptions 用于设置 KV 数据时的选项
type setOptions struct {
	Expiration time.Duration
	IfNotExist bool
}

type setOption func(*setOptions)

func WithExpiration(expiration time.Duration) setOption {
	return func(options *setOptions) {
		options.Expiration = expiration
	}
}

func WithIfNotExist() setOption {
	return func(options *setOptions) {
		options.IfNotExist = true
	}
}

type Store[K, V any] interface {
	// Set 设置键值对，WithIfNotExist 时键存在则返回 ErrConditionFailed
	Set(ctx context.Context, key K, value V, opts ...setOption) error
	// Get 获取键对应的值，键不存在时返回 ErrKeyNotFound
	Get(ctx context.Context, key K) (V, error)
	// Del 删除键，键不存在时也返回成功
	Del(ctx context.Context, key K) error
	// BatchSet 批量设置，返回每个键的操作结果
	BatchSet(ctx context.Context, keys []K, vals []V, opts ...setOption) ([]error, error)
	// BatchGet 批量获取，返回每个键的值和错误
	BatchGet(ctx context.Context, keys []K) ([]V, []error, error)
	// BatchDel 批量删除，返回每个键的操作结果
	BatchDel(ctx context.Context, keys []K) ([]error, error)
	Close() error
}

// typeName 泛型实例的注册名，例如 SyncMapStore[string,[]uint8]
func typeName[K, V any](kind string) string {
	return kind + "[" + reflect.TypeOf((*K)(nil)).Elem().String() + "," + reflect.TypeOf((*V)(nil)).Elem().String() + "]"
}

// NewStoreWithOptions 按配置创建存储，options 为 nil 时使用 SyncMapStore
// 本包内置的类型只需写 SyncMapStore/FreeCacheStore，不用带类型参数
func NewStoreWithOptions[K comparable, V any](options *ref.TypeOptions) (Store[K, V], error) {
	_ = ref.Register(Namespace, typeName[K, V]("SyncMapStore"), NewSyncMapStoreWithOptions[K, V])
	_ = ref.Register(Namespace, typeName[K, V]("FreeCacheStore"), NewFreeCacheStoreWithOptions[K, V])

	if options == nil {
		options = &ref.TypeOptions{Type: "SyncMapStore"}
	}
	namespace, type_ := options.Namespace, options.Type
	if namespace == "" || namespace == Namespace {
		namespace, type_ = Namespace, typeName[K, V](type_)
	}

	obj, err := ref.New(namespace, type_, options.Options)
	if err != nil {
		return nil, errors.WithMessage(err, "ref.New failed")
	}
	s, ok := obj.(Store[K, V])
	if !ok {
		return nil, errors.Errorf("%T is not a Store", obj)
	}
	return s, nil
}
