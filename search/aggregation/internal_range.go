package aggregation

import (
	"math"
	"slices"
)

const tagRange = "range"

func init() {
	RegisterVariant(tagRange, readRange)
}

// RangeBucket From/To 为 ±Inf 表示无界
type RangeBucket struct {
	Key          string
	From         float64
	To           float64
	DocCount     int64
	Aggregations InternalAggregations
}

func (b *RangeBucket) GetDocCount() int64 {
	return b.DocCount
}

func (b *RangeBucket) GetAggregations() InternalAggregations {
	return b.Aggregations
}

// InternalRange 桶按 (From, To, Key) 排列
type InternalRange struct {
	AggName string
	Keyed   bool
	Buckets []*RangeBucket
}

func (a *InternalRange) Name() string {
	return a.AggName
}

func (a *InternalRange) Type() string {
	return tagRange
}

func (a *InternalRange) Bucket(key string) (*RangeBucket, bool) {
	for _, b := range a.Buckets {
		if b.Key == key {
			return b, true
		}
	}
	return nil, false
}

// Reduce 按 Key 合并，不依赖桶在各分片上的位置
func (a *InternalRange) Reduce(ctx *ReduceContext) (InternalAggregation, error) {
	partials, err := castAll[*InternalRange](ctx)
	if err != nil {
		return nil, err
	}

	var keys []string
	grouped := map[string][]*RangeBucket{}
	for _, p := range partials {
		for _, b := range p.Buckets {
			if _, ok := grouped[b.Key]; !ok {
				keys = append(keys, b.Key)
			}
			grouped[b.Key] = append(grouped[b.Key], b)
		}
	}

	merged := make([]*RangeBucket, 0, len(keys))
	for _, k := range keys {
		group := grouped[k]
		b := &RangeBucket{Key: k, From: group[0].From, To: group[0].To}
		lists := make([]InternalAggregations, 0, len(group))
		for _, g := range group {
			b.DocCount += g.DocCount
			lists = append(lists, g.Aggregations)
		}
		if b.Aggregations, err = ReduceAggregations(lists, ctx.Final); err != nil {
			return nil, err
		}
		merged = append(merged, b)
	}
	slices.SortFunc(merged, func(x, y *RangeBucket) int {
		return compareRangeSpecs(rangeSpec{key: x.Key, from: x.From, to: x.To}, rangeSpec{key: y.Key, from: y.From, to: y.To})
	})
	return &InternalRange{AggName: a.AggName, Keyed: a.Keyed, Buckets: nilIfEmpty(merged)}, nil
}

func (a *InternalRange) EncodeFields(w *FieldWriter) {
	w.WriteBool(a.Keyed)
	w.WriteLen(len(a.Buckets))
	for _, b := range a.Buckets {
		w.WriteString(b.Key)
		w.WriteFloat64(b.From)
		w.WriteFloat64(b.To)
		w.WriteInt64(b.DocCount)
		w.WriteAggregations(b.Aggregations)
	}
}

func readRange(name string, r *FieldReader) (InternalAggregation, error) {
	a := &InternalRange{AggName: name, Keyed: r.ReadBool()}
	n := r.ReadLen()
	if n > 0 {
		a.Buckets = make([]*RangeBucket, 0, n)
	}
	for i := 0; i < n && r.Err() == nil; i++ {
		b := &RangeBucket{Key: r.ReadString()}
		b.From = r.ReadFloat64()
		b.To = r.ReadFloat64()
		b.DocCount = r.ReadInt64()
		b.Aggregations = r.ReadAggregations()
		a.Buckets = append(a.Buckets, b)
	}
	return a, nil
}

func (a *InternalRange) Render() map[string]interface{} {
	list := make([]interface{}, 0, len(a.Buckets))
	keyed := map[string]interface{}{}
	for _, b := range a.Buckets {
		bucket := map[string]interface{}{"key": b.Key, "doc_count": b.DocCount}
		if !math.IsInf(b.From, -1) {
			bucket["from"] = b.From
		}
		if !math.IsInf(b.To, 1) {
			bucket["to"] = b.To
		}
		renderSubAggregations(bucket, b.Aggregations)
		if a.Keyed {
			keyed[b.Key] = bucket
		} else {
			list = append(list, bucket)
		}
	}
	if a.Keyed {
		return map[string]interface{}{"buckets": keyed}
	}
	return map[string]interface{}{"buckets": list}
}
