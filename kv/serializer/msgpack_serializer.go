package serializer

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// MsgPackSerializer 默认的序列化器
//
// map 的键按顺序编码，同一个值总是得到相同的字节，可以直接作为缓存的键
type MsgPackSerializer[T any] struct{}

func NewMsgPackSerializer[T any]() *MsgPackSerializer[T] {
	return &MsgPackSerializer[T]{}
}

func (s *MsgPackSerializer[T]) Serialize(from T) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(from); err != nil {
		return nil, errors.Wrap(err, "msgpack.Encode failed")
	}
	return buf.Bytes(), nil
}

func (s *MsgPackSerializer[T]) Deserialize(to []byte) (T, error) {
	var result T
	dec := msgpack.NewDecoder(bytes.NewReader(to))
	dec.DisallowUnknownFields(true)
	if err := dec.Decode(&result); err != nil {
		return result, errors.Wrap(err, "msgpack.Decode failed")
	}
	return result, nil
}
