package movavg

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/hatlonely/aggx/cfg"
	"github.com/hatlonely/aggx/search/aggregation"
	"github.com/pkg/errors"
)

const (
	GapPolicyInsertZeros = "insert_zeros"
	GapPolicySkip        = "skip"

	tagMovingAvg = "moving_avg"
)

func init() {
	aggregation.RegisterVariant(tagMovingAvg, readMovingAvg)
}

// Options 移动平均管道的配置
type Options struct {
	// Name 输出到每个桶里的 simple_value 指标名，配置了 Metric 时文档数的移动平均输出为 Name_doc_count
	Name string `cfg:"name" validate:"required"`
	// Histogram 输入直方图（或已经计算过移动平均的直方图）的名字
	Histogram string `cfg:"histogram" validate:"required"`
	// Metric 桶内指标路径，例如 "avg_price" 或 "price_stats.max"，为空时使用文档数
	Metric    string                 `cfg:"metric"`
	Window    *int                   `cfg:"window" def:"5" validate:"gt=0"`
	Model     string                 `cfg:"model" def:"simple"`
	Settings  map[string]interface{} `cfg:"settings"`
	GapPolicy string                 `cfg:"gapPolicy" def:"skip" validate:"oneof=insert_zeros skip"`
}

// pipeline 计算移动平均需要的参数，会随结果一起编码
type pipeline struct {
	name      string
	metric    string
	window    int
	model     string
	settings  map[string]float64
	gapPolicy string
}

// MovingAvg 在最终合并后的直方图上计算移动平均
type MovingAvg struct {
	histogram string
	pipeline  pipeline
}

func New(options *Options) (*MovingAvg, error) {
	if options == nil {
		return nil, errors.Wrap(aggregation.ErrConfiguration, "moving average options cannot be nil")
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, errors.Wrapf(aggregation.ErrConfiguration, "moving average [%s]: %v", options.Name, err)
	}
	if err := cfg.Validate(options); err != nil {
		return nil, errors.Wrapf(aggregation.ErrConfiguration, "moving average [%s]: %v", options.Name, err)
	}

	var settings map[string]float64
	for k, v := range options.Settings {
		f, err := toFloat(v)
		if err != nil {
			return nil, errors.Wrapf(aggregation.ErrConfiguration, "moving average [%s]: setting [%s]: %v", options.Name, k, err)
		}
		if settings == nil {
			settings = map[string]float64{}
		}
		settings[k] = f
	}

	p := pipeline{
		name:      options.Name,
		metric:    options.Metric,
		window:    *options.Window,
		model:     options.Model,
		settings:  settings,
		gapPolicy: options.GapPolicy,
	}
	if _, err := p.newModel(); err != nil {
		return nil, errors.Wrapf(aggregation.ErrConfiguration, "moving average [%s]: %v", options.Name, err)
	}
	return &MovingAvg{histogram: options.Histogram, pipeline: p}, nil
}

func (p pipeline) newModel() (Model, error) {
	settings := make(map[string]interface{}, len(p.settings))
	for k, v := range p.settings {
		settings[k] = v
	}
	return NewModel(p.model, settings)
}

// Apply 用 InternalMovingAvg 替换 aggs 中的输入直方图，其他结果保持不变
func (m *MovingAvg) Apply(aggs aggregation.InternalAggregations) (aggregation.InternalAggregations, error) {
	result := make(aggregation.InternalAggregations, len(aggs))
	found := false
	for i, agg := range aggs {
		result[i] = agg
		if agg.Name() != m.histogram {
			continue
		}
		switch agg.(type) {
		case *aggregation.InternalHistogram, *InternalMovingAvg:
		default:
			return nil, errors.Wrapf(aggregation.ErrConfiguration, "moving average [%s]: [%s] is %s, not a histogram", m.pipeline.name, m.histogram, agg.Type())
		}
		movingAvg, err := newInternalMovingAvg(agg, m.pipeline)
		if err != nil {
			return nil, err
		}
		result[i] = movingAvg
		found = true
	}
	if !found {
		return nil, errors.Wrapf(aggregation.ErrConfiguration, "moving average [%s]: histogram [%s] not found", m.pipeline.name, m.histogram)
	}
	return result, nil
}

// ApplyAll 依次应用多个移动平均，后面的可以引用前面的结果
func ApplyAll(aggs aggregation.InternalAggregations, pipelines ...*MovingAvg) (aggregation.InternalAggregations, error) {
	var err error
	for _, m := range pipelines {
		if aggs, err = m.Apply(aggs); err != nil {
			return nil, err
		}
	}
	return aggs, nil
}

// InternalMovingAvg 带移动平均值的直方图
//
// Source 是输入直方图（或另一个 InternalMovingAvg），合并时先合并 Source 再重新计算 Buckets
type InternalMovingAvg struct {
	Source    aggregation.InternalAggregation
	Pipeline  string
	Metric    string
	Window    int
	Model     string
	Settings  map[string]float64
	GapPolicy string
	// Buckets 输入的桶加上名为 Pipeline 的 simple_value，配置了 Metric 时还有 DocCountName 的 simple_value
	Buckets []*aggregation.HistogramBucket
}

func newInternalMovingAvg(source aggregation.InternalAggregation, p pipeline) (*InternalMovingAvg, error) {
	m := &InternalMovingAvg{
		Source:    source,
		Pipeline:  p.name,
		Metric:    p.metric,
		Window:    p.window,
		Model:     p.model,
		Settings:  p.settings,
		GapPolicy: p.gapPolicy,
	}
	buckets, err := m.compute()
	if err != nil {
		return nil, err
	}
	m.Buckets = buckets
	return m, nil
}

func (m *InternalMovingAvg) pipeline() pipeline {
	return pipeline{name: m.Pipeline, metric: m.Metric, window: m.Window, model: m.Model, settings: m.Settings, gapPolicy: m.GapPolicy}
}

func (m *InternalMovingAvg) Name() string {
	return m.Source.Name()
}

func (m *InternalMovingAvg) Type() string {
	return tagMovingAvg
}

// Histogram 最底层的输入直方图
func (m *InternalMovingAvg) Histogram() *aggregation.InternalHistogram {
	switch src := m.Source.(type) {
	case *aggregation.InternalHistogram:
		return src
	case *InternalMovingAvg:
		return src.Histogram()
	}
	return nil
}

func sourceBuckets(source aggregation.InternalAggregation) []*aggregation.HistogramBucket {
	switch src := source.(type) {
	case *aggregation.InternalHistogram:
		return src.Buckets
	case *InternalMovingAvg:
		return src.Buckets
	}
	return nil
}

// compute 按键的顺序把桶的值放入窗口，输出的桶保持输入的顺序
func (m *InternalMovingAvg) compute() ([]*aggregation.HistogramBucket, error) {
	histogram := m.Histogram()
	if histogram == nil {
		return nil, errors.Errorf("moving average [%s]: source %T is not a histogram", m.Pipeline, m.Source)
	}
	if m.Window <= 0 {
		return nil, errors.Wrapf(aggregation.ErrConfiguration, "moving average [%s]: window must be positive", m.Pipeline)
	}
	model, err := m.pipeline().newModel()
	if err != nil {
		return nil, errors.Wrapf(aggregation.ErrConfiguration, "moving average [%s]: %v", m.Pipeline, err)
	}
	next, err := histogram.NextKeyFunc()
	if err != nil {
		return nil, err
	}

	input := sourceBuckets(m.Source)
	sorted := slices.Clone(input)
	slices.SortFunc(sorted, func(a, b *aggregation.HistogramBucket) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})

	docModel, err := m.pipeline().newModel()
	if err != nil {
		return nil, errors.Wrapf(aggregation.ErrConfiguration, "moving average [%s]: %v", m.Pipeline, err)
	}

	// 文档数总是有自己的窗口，指标没有值的桶不影响文档数的窗口
	w, docs := newWindow(m.Window), newWindow(m.Window)
	averages := make(map[float64]float64, len(sorted))
	docAverages := make(map[float64]float64, len(sorted))
	for i, b := range sorted {
		if i > 0 && m.GapPolicy == GapPolicyInsertZeros {
			// 窗口满了之后再插入 0 不会改变结果
			for k, n := next(sorted[i-1].Key), 0; k < b.Key && n < m.Window; k, n = next(k), n+1 {
				w.push(0)
				docs.push(0)
			}
		}
		docs.push(float64(b.DocCount))
		docAverages[b.Key] = docModel.Next(docs.values())
		if m.Metric == "" {
			averages[b.Key] = docAverages[b.Key]
			continue
		}
		v, err := m.value(b)
		if err != nil {
			return nil, err
		}
		switch {
		case !math.IsNaN(v):
			w.push(v)
		case m.GapPolicy == GapPolicyInsertZeros:
			w.push(0)
		}
		averages[b.Key] = model.Next(w.values())
	}

	if len(input) == 0 {
		return nil, nil
	}
	docName := m.DocCountName()
	output := make([]*aggregation.HistogramBucket, 0, len(input))
	for _, b := range input {
		if b.Aggregations.Get(m.Pipeline) != nil || (docName != "" && b.Aggregations.Get(docName) != nil) {
			return nil, errors.Wrapf(aggregation.ErrConfiguration, "moving average [%s]: bucket already has an aggregation with the same name", m.Pipeline)
		}
		aggs := make(aggregation.InternalAggregations, 0, len(b.Aggregations)+2)
		aggs = append(aggs, b.Aggregations...)
		aggs = append(aggs, &aggregation.InternalSimpleValue{AggName: m.Pipeline, Value: averages[b.Key]})
		if docName != "" {
			aggs = append(aggs, &aggregation.InternalSimpleValue{AggName: docName, Value: docAverages[b.Key]})
		}
		output = append(output, &aggregation.HistogramBucket{Key: b.Key, DocCount: b.DocCount, Aggregations: aggs})
	}
	return output, nil
}

// DocCountName 文档数移动平均的名字，没有配置指标时 Pipeline 本身就是文档数的移动平均，返回空
func (m *InternalMovingAvg) DocCountName() string {
	if m.Metric == "" {
		return ""
	}
	return m.Pipeline + "_doc_count"
}

// value 桶的指标值，指标不存在时返回配置错误，指标没有值时返回 NaN
func (m *InternalMovingAvg) value(b *aggregation.HistogramBucket) (float64, error) {
	v, ok := aggregation.MetricValue(b.Aggregations, m.Metric)
	if !ok {
		return 0, errors.Wrapf(aggregation.ErrConfiguration, "moving average [%s]: bucket has no metric [%s]", m.Pipeline, m.Metric)
	}
	if math.IsInf(v, 0) {
		return math.NaN(), nil
	}
	return v, nil
}

func (m *InternalMovingAvg) Reduce(ctx *aggregation.ReduceContext) (aggregation.InternalAggregation, error) {
	sources := make([]aggregation.InternalAggregation, 0, len(ctx.Aggregations))
	for _, agg := range ctx.Aggregations {
		other, ok := agg.(*InternalMovingAvg)
		if !ok {
			return nil, errors.Wrapf(aggregation.ErrReduce, "aggregation [%s]: unexpected %T", agg.Name(), agg)
		}
		sources = append(sources, other.Source)
	}

	reduce := aggregation.ReducePartial
	if ctx.Final {
		reduce = aggregation.Reduce
	}
	source, err := reduce(m.Name(), sources)
	if err != nil {
		return nil, err
	}
	return newInternalMovingAvg(source, m.pipeline())
}

func (m *InternalMovingAvg) EncodeFields(w *aggregation.FieldWriter) {
	w.WriteAggregation(m.Source)
	w.WriteString(m.Pipeline)
	w.WriteString(m.Metric)
	w.WriteInt64(int64(m.Window))
	w.WriteString(m.Model)
	w.WriteString(m.GapPolicy)

	keys := make([]string, 0, len(m.Settings))
	for k := range m.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.WriteLen(len(keys))
	for _, k := range keys {
		w.WriteString(k)
		w.WriteFloat64(m.Settings[k])
	}
}

// readMovingAvg 只解码输入和参数，桶重新计算
func readMovingAvg(name string, r *aggregation.FieldReader) (aggregation.InternalAggregation, error) {
	source := r.ReadAggregation()
	p := pipeline{}
	p.name = r.ReadString()
	p.metric = r.ReadString()
	p.window = int(r.ReadInt64())
	p.model = r.ReadString()
	p.gapPolicy = r.ReadString()
	n := r.ReadLen()
	for i := 0; i < n && r.Err() == nil; i++ {
		if p.settings == nil {
			p.settings = make(map[string]float64, n)
		}
		k := r.ReadString()
		p.settings[k] = r.ReadFloat64()
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	if source.Name() != name {
		return nil, errors.Errorf("source [%s] does not match [%s]", source.Name(), name)
	}
	return newInternalMovingAvg(source, p)
}

func (m *InternalMovingAvg) Render() map[string]interface{} {
	histogram := *m.Histogram()
	histogram.Buckets = m.Buckets
	return histogram.Render()
}

// window 容量固定的窗口，满了之后丢弃最旧的值
type window struct {
	size int
	buf  []float64
}

func newWindow(size int) *window {
	return &window{size: size, buf: make([]float64, 0, size)}
}

func (w *window) push(v float64) {
	if len(w.buf) == w.size {
		copy(w.buf, w.buf[1:])
		w.buf = w.buf[:len(w.buf)-1]
	}
	w.buf = append(w.buf, v)
}

func (w *window) values() []float64 {
	return w.buf
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	}
	return 0, fmt.Errorf("%v (%T) is not a number", v, v)
}
