package store

import (
	"context"
	"sync"
)

// SyncMapStore 进程内存储，不支持过期
type SyncMapStore[K comparable, V any] struct {
	m sync.Map
}

func NewSyncMapStoreWithOptions[K comparable, V any]() *SyncMapStore[K, V] {
	return &SyncMapStore[K, V]{}
}

func (s *SyncMapStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := &setOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return s.set(key, value, options)
}

func (s *SyncMapStore[K, V]) set(key K, value V, options *setOptions) error {
	if !options.IfNotExist {
		s.m.Store(key, value)
		return nil
	}
	if _, loaded := s.m.LoadOrStore(key, value); loaded {
		return ErrConditionFailed
	}
	return nil
}

func (s *SyncMapStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	value, ok := s.m.Load(key)
	if !ok {
		var zero V
		return zero, ErrKeyNotFound
	}
	return value.(V), nil
}

func (s *SyncMapStore[K, V]) Del(ctx context.Context, key K) error {
	s.m.Delete(key)
	return nil
}

func (s *SyncMapStore[K, V]) BatchSet(ctx context.Context, keys []K, vals []V, opts ...setOption) ([]error, error) {
	if len(keys) != len(vals) {
		return nil, ErrConditionFailed
	}

	options := &setOptions{}
	for _, opt := range opts {
		opt(options)
	}

	errs := make([]error, len(keys))
	for i, key := range keys {
		errs[i] = s.set(key, vals[i], options)
	}
	return errs, nil
}

func (s *SyncMapStore[K, V]) BatchGet(ctx context.Context, keys []K) ([]V, []error, error) {
	vals := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		vals[i], errs[i] = s.Get(ctx, key)
	}
	return vals, errs, nil
}

func (s *SyncMapStore[K, V]) BatchDel(ctx context.Context, keys []K) ([]error, error) {
	for _, key := range keys {
		s.m.Delete(key)
	}
	return make([]error, len(keys)), nil
}

// Range 遍历所有键值，fn 返回 false 时停止
func (s *SyncMapStore[K, V]) Range(fn func(key K, value V) bool) {
	s.m.Range(func(key, value any) bool {
		return fn(key.(K), value.(V))
	})
}

func (s *SyncMapStore[K, V]) Close() error {
	s.m.Clear()
	return nil
}
