package serializer

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// JSONSerializer 可读的编码，适合排查缓存内容
//
// 解码拒绝未知字段，旧版本写入的缓存条目会被当作错误而不是悄悄补零值
type JSONSerializer[T any] struct{}

func NewJSONSerializer[T any]() *JSONSerializer[T] {
	return &JSONSerializer[T]{}
}

func (s *JSONSerializer[T]) Serialize(from T) ([]byte, error) {
	buf, err := json.Marshal(from)
	if err != nil {
		return nil, errors.Wrap(err, "json.Marshal failed")
	}
	return buf, nil
}

func (s *JSONSerializer[T]) Deserialize(to []byte) (T, error) {
	var result T
	dec := json.NewDecoder(bytes.NewReader(to))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&result); err != nil {
		return result, errors.Wrap(err, "json.Decode failed")
	}
	if dec.More() {
		return result, errors.New("trailing data after json value")
	}
	return result, nil
}
