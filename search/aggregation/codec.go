package aggregation

import (
	"bytes"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// ReaderFunc 读取类型标签和名字之后的字段
type ReaderFunc func(name string, r *FieldReader) (InternalAggregation, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]ReaderFunc{}
)

// RegisterVariant 注册类型标签的解码函数，通常在 init 中调用
//
// 同一标签重复注册相同函数会被忽略，注册不同函数会 panic
func RegisterVariant(tag string, reader ReaderFunc) {
	if tag == "" || reader == nil {
		panic("aggregation: RegisterVariant requires a tag and a reader")
	}
	registryMu.Lock()
	defer registryMu.Unlock()

	if existing, ok := registry[tag]; ok {
		if reflect.ValueOf(existing).Pointer() == reflect.ValueOf(reader).Pointer() {
			return
		}
		panic("aggregation: variant " + tag + " already registered with a different reader")
	}
	registry[tag] = reader
}

// RegisteredVariants 已注册的类型标签
func RegisteredVariants() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	tags := make([]string, 0, len(registry))
	for tag := range registry {
		tags = append(tags, tag)
	}
	return tags
}

func lookupVariant(tag string) (ReaderFunc, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reader, ok := registry[tag]
	return reader, ok
}

// Encode 编码单个结果
func Encode(agg InternalAggregation) ([]byte, error) {
	var buf bytes.Buffer
	w := NewFieldWriter(msgpack.NewEncoder(&buf))
	w.WriteAggregation(agg)
	if err := w.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode 解码 Encode 的输出，多余的字节视为错误
func Decode(data []byte) (InternalAggregation, error) {
	rd := bytes.NewReader(data)
	r := NewFieldReader(rd)
	agg := r.ReadAggregation()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if rd.Len() != 0 {
		return nil, errors.Wrapf(ErrDecode, "%d trailing bytes", rd.Len())
	}
	return agg, nil
}

// Marshal 编码一组结果，分片把整棵树的结果一次发给协调者
func Marshal(aggs InternalAggregations) ([]byte, error) {
	var buf bytes.Buffer
	w := NewFieldWriter(msgpack.NewEncoder(&buf))
	w.WriteAggregations(aggs)
	if err := w.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(data []byte) (InternalAggregations, error) {
	rd := bytes.NewReader(data)
	r := NewFieldReader(rd)
	aggs := r.ReadAggregations()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if rd.Len() != 0 {
		return nil, errors.Wrapf(ErrDecode, "%d trailing bytes", rd.Len())
	}
	return aggs, nil
}

// FieldWriter 包装 msgpack.Encoder，记录第一个错误，之后的写入全部跳过
type FieldWriter struct {
	enc *msgpack.Encoder
	err error
}

func NewFieldWriter(enc *msgpack.Encoder) *FieldWriter {
	return &FieldWriter{enc: enc}
}

func (w *FieldWriter) Err() error {
	return w.err
}

func (w *FieldWriter) do(fn func() error) {
	if w.err != nil {
		return
	}
	if err := fn(); err != nil {
		w.err = errors.Wrap(err, "encode aggregation")
	}
}

func (w *FieldWriter) WriteString(s string) {
	w.do(func() error { return w.enc.EncodeString(s) })
}

func (w *FieldWriter) WriteInt64(v int64) {
	w.do(func() error { return w.enc.EncodeInt(v) })
}

func (w *FieldWriter) WriteFloat64(v float64) {
	w.do(func() error { return w.enc.EncodeFloat64(v) })
}

func (w *FieldWriter) WriteBool(v bool) {
	w.do(func() error { return w.enc.EncodeBool(v) })
}

func (w *FieldWriter) WriteLen(n int) {
	w.do(func() error { return w.enc.EncodeArrayLen(n) })
}

func (w *FieldWriter) WriteOrder(o BucketOrder) {
	w.WriteString(o.Key)
	w.WriteBool(o.Asc)
}

// WriteAggregation 写出类型标签、名字和字段
func (w *FieldWriter) WriteAggregation(agg InternalAggregation) {
	if w.err != nil {
		return
	}
	if _, ok := lookupVariant(agg.Type()); !ok {
		w.err = errors.Wrapf(ErrUnknownType, "encode %q", agg.Type())
		return
	}
	w.WriteString(agg.Type())
	w.WriteString(agg.Name())
	agg.EncodeFields(w)
}

// WriteAggregations 写出长度和每个结果，nil 和空列表编码相同
func (w *FieldWriter) WriteAggregations(aggs InternalAggregations) {
	w.WriteLen(len(aggs))
	for _, agg := range aggs {
		w.WriteAggregation(agg)
	}
}

// FieldReader 包装 msgpack.Decoder，记录第一个错误，之后的读取返回零值
type FieldReader struct {
	input *bytes.Reader
	dec   *msgpack.Decoder
	err   error
}

func NewFieldReader(input *bytes.Reader) *FieldReader {
	return &FieldReader{input: input, dec: msgpack.NewDecoder(input)}
}

func (r *FieldReader) Err() error {
	return r.err
}

func (r *FieldReader) fail(err error, what string) {
	if r.err == nil {
		r.err = errors.Wrapf(ErrDecode, "read %s: %v", what, err)
	}
}

func (r *FieldReader) ReadString() string {
	if r.err != nil {
		return ""
	}
	s, err := r.dec.DecodeString()
	if err != nil {
		r.fail(err, "string")
	}
	return s
}

func (r *FieldReader) ReadInt64() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.DecodeInt64()
	if err != nil {
		r.fail(err, "int")
	}
	return v
}

func (r *FieldReader) ReadFloat64() float64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.DecodeFloat64()
	if err != nil {
		r.fail(err, "float")
	}
	return v
}

func (r *FieldReader) ReadBool() bool {
	if r.err != nil {
		return false
	}
	v, err := r.dec.DecodeBool()
	if err != nil {
		r.fail(err, "bool")
	}
	return v
}

// ReadLen 读取列表长度，负数（nil 列表）按 0 处理
//
// 每个元素至少占一个字节，长度超过剩余字节数的输入是损坏的
func (r *FieldReader) ReadLen() int {
	if r.err != nil {
		return 0
	}
	n, err := r.dec.DecodeArrayLen()
	if err != nil {
		r.fail(err, "array length")
		return 0
	}
	if n < 0 {
		return 0
	}
	if n > r.input.Len() {
		r.err = errors.Wrapf(ErrDecode, "array length %d exceeds %d remaining bytes", n, r.input.Len())
		return 0
	}
	return n
}

func (r *FieldReader) ReadOrder() BucketOrder {
	key := r.ReadString()
	asc := r.ReadBool()
	return BucketOrder{Key: key, Asc: asc}
}

// Fail 由 ReaderFunc 报告字段语义错误
func (r *FieldReader) Fail(format string, args ...interface{}) {
	if r.err == nil {
		r.err = errors.Wrapf(ErrDecode, format, args...)
	}
}

// ReadAggregation 读取类型标签，交给注册的 ReaderFunc
func (r *FieldReader) ReadAggregation() InternalAggregation {
	tag := r.ReadString()
	name := r.ReadString()
	if r.err != nil {
		return nil
	}
	reader, ok := lookupVariant(tag)
	if !ok {
		r.err = errors.Wrapf(ErrUnknownType, "tag %q", tag)
		return nil
	}
	agg, err := reader(name, r)
	if r.err != nil {
		return nil
	}
	if err != nil {
		r.err = errors.Wrapf(ErrDecode, "variant %s: %v", tag, err)
		return nil
	}
	return agg
}

// ReadAggregations 读取结果列表，空列表返回 nil
func (r *FieldReader) ReadAggregations() InternalAggregations {
	n := r.ReadLen()
	if n == 0 {
		return nil
	}
	aggs := make(InternalAggregations, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		aggs = append(aggs, r.ReadAggregation())
	}
	if r.err != nil {
		return nil
	}
	return aggs
}
