package aggregation

import (
	"cmp"
	"slices"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const (
	tagHistogram     = "histogram"
	tagDateHistogram = "date_histogram"

	// DefaultDateFormat 日期直方图 key_as_string 的默认格式
	DefaultDateFormat = "2006-01-02T15:04:05.000Z07:00"
)

func init() {
	RegisterVariant(tagHistogram, readHistogram)
	RegisterVariant(tagDateHistogram, readHistogram)
}

type HistogramBucket struct {
	Key          float64
	DocCount     int64
	Aggregations InternalAggregations
}

func (b *HistogramBucket) GetDocCount() int64 {
	return b.DocCount
}

func (b *HistogramBucket) GetAggregations() InternalAggregations {
	return b.Aggregations
}

func compareHistogramKeys(a, b *HistogramBucket) int {
	return cmp.Compare(a.Key, b.Key)
}

// InternalHistogram 数值直方图和日期直方图的结果，DateInterval 为空表示数值直方图
//
// 部分结果的桶按键升序；最终结果按 Order 排列，MinDocCount 为 0 时补齐最小和最大键之间的空桶
type InternalHistogram struct {
	AggName      string
	DateInterval string
	TimeZone     string
	Interval     float64
	Offset       float64
	Format       string
	MinDocCount  int64
	Order        BucketOrder
	Keyed        bool
	// EmptySubAggregations 补空桶时使用的子聚合结果，只在 MinDocCount 为 0 时存在
	EmptySubAggregations InternalAggregations
	Buckets              []*HistogramBucket
}

func (a *InternalHistogram) withBuckets(buckets []*HistogramBucket) *InternalHistogram {
	c := *a
	c.Buckets = buckets
	return &c
}

func (a *InternalHistogram) Name() string {
	return a.AggName
}

func (a *InternalHistogram) Type() string {
	if a.IsDate() {
		return tagDateHistogram
	}
	return tagHistogram
}

func (a *InternalHistogram) IsDate() bool {
	return a.DateInterval != ""
}

func (a *InternalHistogram) rounding() (rounding, error) {
	if a.IsDate() {
		return newDateRounding(a.DateInterval, a.TimeZone, a.Offset)
	}
	if !(a.Interval > 0) {
		return nil, errors.Errorf("invalid interval %v", a.Interval)
	}
	return fixedRounding{interval: a.Interval, offset: a.Offset}, nil
}

// NextKeyFunc 返回计算下一个槽位起点的函数，供管道聚合识别缺失的槽位
func (a *InternalHistogram) NextKeyFunc() (func(key float64) float64, error) {
	r, err := a.rounding()
	if err != nil {
		return nil, err
	}
	return r.next, nil
}

// Bucket 按键查找桶
func (a *InternalHistogram) Bucket(key float64) (*HistogramBucket, bool) {
	for _, b := range a.Buckets {
		if b.Key == key {
			return b, true
		}
	}
	return nil, false
}

func (a *InternalHistogram) Reduce(ctx *ReduceContext) (InternalAggregation, error) {
	partials, err := castAll[*InternalHistogram](ctx)
	if err != nil {
		return nil, err
	}

	var keys []float64
	grouped := map[float64][]*HistogramBucket{}
	for _, p := range partials {
		for _, b := range p.Buckets {
			if _, ok := grouped[b.Key]; !ok {
				keys = append(keys, b.Key)
			}
			grouped[b.Key] = append(grouped[b.Key], b)
		}
	}

	merged := make([]*HistogramBucket, 0, len(keys))
	for _, k := range keys {
		group := grouped[k]
		b := &HistogramBucket{Key: k}
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
	slices.SortFunc(merged, compareHistogramKeys)

	result := a.withBuckets(nilIfEmpty(merged))
	if !ctx.Final {
		return result, nil
	}
	r, err := a.rounding()
	if err != nil {
		return nil, errors.Wrapf(ErrReduce, "aggregation [%s]: %v", a.AggName, err)
	}
	return result.finalize(r)
}

// finalize 补空桶、按 MinDocCount 过滤、按 Order 排序，桶必须已按键升序
func (a *InternalHistogram) finalize(r rounding) (*InternalHistogram, error) {
	buckets := a.Buckets
	if a.MinDocCount == 0 {
		filled, err := a.fillGaps(r)
		if err != nil {
			return nil, err
		}
		buckets = filled
	}

	kept := make([]*HistogramBucket, 0, len(buckets))
	for _, b := range buckets {
		if b.DocCount >= a.MinDocCount {
			kept = append(kept, b)
		}
	}
	if a.Order != OrderKeyAsc {
		slices.SortFunc(kept, comparator(a.Order, compareHistogramKeys))
	}
	return a.withBuckets(nilIfEmpty(kept)), nil
}

func (a *InternalHistogram) fillGaps(r rounding) ([]*HistogramBucket, error) {
	if len(a.Buckets) == 0 {
		return nil, nil
	}
	filled := make([]*HistogramBucket, 0, len(a.Buckets))
	for i, b := range a.Buckets {
		if i > 0 {
			for key := r.next(a.Buckets[i-1].Key); key < b.Key; {
				if len(filled) >= MaxBucketSize {
					return nil, errors.Wrapf(ErrTooManyBuckets, "aggregation [%s]: more than %d buckets", a.AggName, MaxBucketSize)
				}
				filled = append(filled, &HistogramBucket{Key: key, Aggregations: a.EmptySubAggregations})
				next := r.next(key)
				if next <= key {
					break
				}
				key = next
			}
		}
		if len(filled) >= MaxBucketSize {
			return nil, errors.Wrapf(ErrTooManyBuckets, "aggregation [%s]: more than %d buckets", a.AggName, MaxBucketSize)
		}
		filled = append(filled, b)
	}
	return filled, nil
}

func (a *InternalHistogram) EncodeFields(w *FieldWriter) {
	w.WriteString(a.DateInterval)
	w.WriteString(a.TimeZone)
	w.WriteFloat64(a.Interval)
	w.WriteFloat64(a.Offset)
	w.WriteString(a.Format)
	w.WriteInt64(a.MinDocCount)
	w.WriteOrder(a.Order)
	w.WriteBool(a.Keyed)
	w.WriteAggregations(a.EmptySubAggregations)
	w.WriteLen(len(a.Buckets))
	for _, b := range a.Buckets {
		w.WriteFloat64(b.Key)
		w.WriteInt64(b.DocCount)
		w.WriteAggregations(b.Aggregations)
	}
}

func readHistogram(name string, r *FieldReader) (InternalAggregation, error) {
	a := &InternalHistogram{AggName: name}
	a.DateInterval = r.ReadString()
	a.TimeZone = r.ReadString()
	a.Interval = r.ReadFloat64()
	a.Offset = r.ReadFloat64()
	a.Format = r.ReadString()
	a.MinDocCount = r.ReadInt64()
	a.Order = r.ReadOrder()
	a.Keyed = r.ReadBool()
	a.EmptySubAggregations = r.ReadAggregations()
	n := r.ReadLen()
	if n > 0 {
		a.Buckets = make([]*HistogramBucket, 0, n)
	}
	for i := 0; i < n && r.Err() == nil; i++ {
		b := &HistogramBucket{Key: r.ReadFloat64()}
		b.DocCount = r.ReadInt64()
		b.Aggregations = r.ReadAggregations()
		a.Buckets = append(a.Buckets, b)
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	if _, err := a.rounding(); err != nil {
		return nil, err
	}
	return a, nil
}

// KeyAsString 日期直方图按 Format 和时区格式化键，数值直方图输出十进制
func (a *InternalHistogram) KeyAsString(key float64) string {
	if !a.IsDate() {
		return strconv.FormatFloat(key, 'f', -1, 64)
	}
	loc, err := loadLocation(a.TimeZone)
	if err != nil {
		loc = time.UTC
	}
	layout := a.Format
	if layout == "" {
		layout = DefaultDateFormat
	}
	return time.UnixMilli(int64(key)).In(loc).Format(layout)
}

func (a *InternalHistogram) Render() map[string]interface{} {
	var list []interface{}
	keyed := map[string]interface{}{}
	for _, b := range a.Buckets {
		bucket := map[string]interface{}{"doc_count": b.DocCount}
		if a.IsDate() {
			bucket["key"] = int64(b.Key)
			bucket["key_as_string"] = a.KeyAsString(b.Key)
		} else {
			bucket["key"] = b.Key
		}
		renderSubAggregations(bucket, b.Aggregations)
		if a.Keyed {
			keyed[a.KeyAsString(b.Key)] = bucket
		} else {
			list = append(list, bucket)
		}
	}
	if a.Keyed {
		return map[string]interface{}{"buckets": keyed}
	}
	if list == nil {
		list = []interface{}{}
	}
	return map[string]interface{}{"buckets": list}
}
