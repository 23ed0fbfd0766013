package aggregation

const (
	tagFilter  = "filter"
	tagFilters = "filters"
)

func init() {
	RegisterVariant(tagFilter, readFilter)
	RegisterVariant(tagFilters, readFilters)
}

// InternalFilter 单桶结果
type InternalFilter struct {
	AggName      string
	DocCount     int64
	Aggregations InternalAggregations
}

func (a *InternalFilter) Name() string {
	return a.AggName
}

func (a *InternalFilter) Type() string {
	return tagFilter
}

func (a *InternalFilter) GetDocCount() int64 {
	return a.DocCount
}

func (a *InternalFilter) GetAggregations() InternalAggregations {
	return a.Aggregations
}

func (a *InternalFilter) Reduce(ctx *ReduceContext) (InternalAggregation, error) {
	partials, err := castAll[*InternalFilter](ctx)
	if err != nil {
		return nil, err
	}
	result := &InternalFilter{AggName: a.AggName}
	lists := make([]InternalAggregations, 0, len(partials))
	for _, p := range partials {
		result.DocCount += p.DocCount
		lists = append(lists, p.Aggregations)
	}
	if result.Aggregations, err = ReduceAggregations(lists, ctx.Final); err != nil {
		return nil, err
	}
	return result, nil
}

func (a *InternalFilter) EncodeFields(w *FieldWriter) {
	w.WriteInt64(a.DocCount)
	w.WriteAggregations(a.Aggregations)
}

func readFilter(name string, r *FieldReader) (InternalAggregation, error) {
	a := &InternalFilter{AggName: name}
	a.DocCount = r.ReadInt64()
	a.Aggregations = r.ReadAggregations()
	return a, nil
}

func (a *InternalFilter) Render() map[string]interface{} {
	body := map[string]interface{}{"doc_count": a.DocCount}
	renderSubAggregations(body, a.Aggregations)
	return body
}

type FiltersBucket struct {
	Key          string
	DocCount     int64
	Aggregations InternalAggregations
}

func (b *FiltersBucket) GetDocCount() int64 {
	return b.DocCount
}

func (b *FiltersBucket) GetAggregations() InternalAggregations {
	return b.Aggregations
}

// InternalFilters 桶保持定义顺序
type InternalFilters struct {
	AggName string
	Keyed   bool
	Buckets []*FiltersBucket
}

func (a *InternalFilters) Name() string {
	return a.AggName
}

func (a *InternalFilters) Type() string {
	return tagFilters
}

func (a *InternalFilters) Bucket(key string) (*FiltersBucket, bool) {
	for _, b := range a.Buckets {
		if b.Key == key {
			return b, true
		}
	}
	return nil, false
}

func (a *InternalFilters) Reduce(ctx *ReduceContext) (InternalAggregation, error) {
	partials, err := castAll[*InternalFilters](ctx)
	if err != nil {
		return nil, err
	}

	var keys []string
	grouped := map[string][]*FiltersBucket{}
	for _, p := range partials {
		for _, b := range p.Buckets {
			if _, ok := grouped[b.Key]; !ok {
				keys = append(keys, b.Key)
			}
			grouped[b.Key] = append(grouped[b.Key], b)
		}
	}

	result := &InternalFilters{AggName: a.AggName, Keyed: a.Keyed}
	for _, k := range keys {
		b := &FiltersBucket{Key: k}
		lists := make([]InternalAggregations, 0, len(grouped[k]))
		for _, g := range grouped[k] {
			b.DocCount += g.DocCount
			lists = append(lists, g.Aggregations)
		}
		if b.Aggregations, err = ReduceAggregations(lists, ctx.Final); err != nil {
			return nil, err
		}
		result.Buckets = append(result.Buckets, b)
	}
	return result, nil
}

func (a *InternalFilters) EncodeFields(w *FieldWriter) {
	w.WriteBool(a.Keyed)
	w.WriteLen(len(a.Buckets))
	for _, b := range a.Buckets {
		w.WriteString(b.Key)
		w.WriteInt64(b.DocCount)
		w.WriteAggregations(b.Aggregations)
	}
}

func readFilters(name string, r *FieldReader) (InternalAggregation, error) {
	a := &InternalFilters{AggName: name, Keyed: r.ReadBool()}
	n := r.ReadLen()
	if n > 0 {
		a.Buckets = make([]*FiltersBucket, 0, n)
	}
	for i := 0; i < n && r.Err() == nil; i++ {
		b := &FiltersBucket{Key: r.ReadString()}
		b.DocCount = r.ReadInt64()
		b.Aggregations = r.ReadAggregations()
		a.Buckets = append(a.Buckets, b)
	}
	return a, nil
}

func (a *InternalFilters) Render() map[string]interface{} {
	if a.Keyed {
		keyed := make(map[string]interface{}, len(a.Buckets))
		for _, b := range a.Buckets {
			bucket := map[string]interface{}{"doc_count": b.DocCount}
			renderSubAggregations(bucket, b.Aggregations)
			keyed[b.Key] = bucket
		}
		return map[string]interface{}{"buckets": keyed}
	}
	list := make([]interface{}, 0, len(a.Buckets))
	for _, b := range a.Buckets {
		bucket := map[string]interface{}{"key": b.Key, "doc_count": b.DocCount}
		renderSubAggregations(bucket, b.Aggregations)
		list = append(list, bucket)
	}
	return map[string]interface{}{"buckets": list}
}
