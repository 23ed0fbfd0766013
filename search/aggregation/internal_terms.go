package aggregation

import (
	"slices"
)

const (
	tagStringTerms = "sterms"
	tagLongTerms   = "lterms"
	tagDoubleTerms = "dterms"
)

func init() {
	RegisterVariant(tagStringTerms, readTerms[string])
	RegisterVariant(tagLongTerms, readTerms[int64])
	RegisterVariant(tagDoubleTerms, readTerms[float64])
}

// TermsKey 字符串、long、double 三种 terms 的键类型
type TermsKey interface {
	string | int64 | float64
}

type TermsBucket[K TermsKey] struct {
	Key          K
	DocCount     int64
	Aggregations InternalAggregations
}

func (b *TermsBucket[K]) GetDocCount() int64 {
	return b.DocCount
}

func (b *TermsBucket[K]) GetAggregations() InternalAggregations {
	return b.Aggregations
}

// InternalTerms terms 聚合的结果，桶按 Order 排列
type InternalTerms[K TermsKey] struct {
	AggName     string
	Order       BucketOrder
	Size        int
	MinDocCount int64
	// SumOtherDocCount 没有返回的桶的文档数之和
	SumOtherDocCount int64
	Buckets          []*TermsBucket[K]
}

func newInternalTerms[K TermsKey](meta termsMeta, sumOther int64, buckets []*TermsBucket[K]) *InternalTerms[K] {
	return &InternalTerms[K]{
		AggName:          meta.name,
		Order:            meta.order,
		Size:             meta.size,
		MinDocCount:      meta.minDocCount,
		SumOtherDocCount: sumOther,
		Buckets:          buckets,
	}
}

func (a *InternalTerms[K]) meta() termsMeta {
	return termsMeta{name: a.AggName, order: a.Order, size: a.Size, minDocCount: a.MinDocCount}
}

func (a *InternalTerms[K]) Name() string {
	return a.AggName
}

func (a *InternalTerms[K]) Type() string {
	var zero K
	switch any(zero).(type) {
	case int64:
		return tagLongTerms
	case float64:
		return tagDoubleTerms
	}
	return tagStringTerms
}

// empty 未映射字段产生的结果，合并时可以和其他键类型的 terms 放在一起
func (a *InternalTerms[K]) empty() bool {
	return len(a.Buckets) == 0 && a.SumOtherDocCount == 0
}

// Bucket 按键查找桶
func (a *InternalTerms[K]) Bucket(key K) (*TermsBucket[K], bool) {
	for _, b := range a.Buckets {
		if b.Key == key {
			return b, true
		}
	}
	return nil, false
}

// Reduce 按键合并各分片的桶，子聚合按名字递归合并
func (a *InternalTerms[K]) Reduce(ctx *ReduceContext) (InternalAggregation, error) {
	partials, err := castAll[*InternalTerms[K]](ctx)
	if err != nil {
		return nil, err
	}

	var (
		keys     []K
		sumOther int64
		grouped  = map[K][]*TermsBucket[K]{}
	)
	for _, p := range partials {
		sumOther += p.SumOtherDocCount
		for _, b := range p.Buckets {
			if _, ok := grouped[b.Key]; !ok {
				keys = append(keys, b.Key)
			}
			grouped[b.Key] = append(grouped[b.Key], b)
		}
	}

	merged := make([]*TermsBucket[K], 0, len(keys))
	for _, k := range keys {
		b, err := reduceTermsBuckets(grouped[k], ctx.Final)
		if err != nil {
			return nil, err
		}
		merged = append(merged, b)
	}

	if ctx.Final {
		return selectTerms(a.meta(), sumOther, merged, true), nil
	}
	slices.SortFunc(merged, termsComparator[K](a.Order))
	return newInternalTerms(a.meta(), sumOther, nilIfEmpty(merged)), nil
}

func reduceTermsBuckets[K TermsKey](buckets []*TermsBucket[K], final bool) (*TermsBucket[K], error) {
	result := &TermsBucket[K]{Key: buckets[0].Key}
	lists := make([]InternalAggregations, 0, len(buckets))
	for _, b := range buckets {
		result.DocCount += b.DocCount
		lists = append(lists, b.Aggregations)
	}
	aggs, err := ReduceAggregations(lists, final)
	if err != nil {
		return nil, err
	}
	result.Aggregations = aggs
	return result, nil
}

func (a *InternalTerms[K]) EncodeFields(w *FieldWriter) {
	w.WriteOrder(a.Order)
	w.WriteInt64(int64(a.Size))
	w.WriteInt64(a.MinDocCount)
	w.WriteInt64(a.SumOtherDocCount)
	w.WriteLen(len(a.Buckets))
	for _, b := range a.Buckets {
		writeTermsKey(w, b.Key)
		w.WriteInt64(b.DocCount)
		w.WriteAggregations(b.Aggregations)
	}
}

func writeTermsKey[K TermsKey](w *FieldWriter, k K) {
	switch v := any(k).(type) {
	case string:
		w.WriteString(v)
	case int64:
		w.WriteInt64(v)
	case float64:
		w.WriteFloat64(v)
	}
}

func readTermsKey[K TermsKey](r *FieldReader) K {
	var k K
	switch p := any(&k).(type) {
	case *string:
		*p = r.ReadString()
	case *int64:
		*p = r.ReadInt64()
	case *float64:
		*p = r.ReadFloat64()
	}
	return k
}

func readTerms[K TermsKey](name string, r *FieldReader) (InternalAggregation, error) {
	a := &InternalTerms[K]{AggName: name}
	a.Order = r.ReadOrder()
	a.Size = int(r.ReadInt64())
	a.MinDocCount = r.ReadInt64()
	a.SumOtherDocCount = r.ReadInt64()
	n := r.ReadLen()
	if n > 0 {
		a.Buckets = make([]*TermsBucket[K], 0, n)
	}
	for i := 0; i < n && r.Err() == nil; i++ {
		b := &TermsBucket[K]{Key: readTermsKey[K](r)}
		b.DocCount = r.ReadInt64()
		b.Aggregations = r.ReadAggregations()
		a.Buckets = append(a.Buckets, b)
	}
	return a, nil
}

func (a *InternalTerms[K]) Render() map[string]interface{} {
	buckets := make([]interface{}, 0, len(a.Buckets))
	for _, b := range a.Buckets {
		bucket := map[string]interface{}{
			"key":       b.Key,
			"doc_count": b.DocCount,
		}
		renderSubAggregations(bucket, b.Aggregations)
		buckets = append(buckets, bucket)
	}
	return map[string]interface{}{
		"doc_count_error_upper_bound": 0,
		"sum_other_doc_count":         a.SumOtherDocCount,
		"buckets":                     buckets,
	}
}
