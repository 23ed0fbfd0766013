package movavg

import (
	"testing"

	"github.com/hatlonely/aggx/search/aggregation"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func intPtr(v int) *int {
	return &v
}

func priceBucket(key float64, docCount int64, sum float64) *aggregation.HistogramBucket {
	return &aggregation.HistogramBucket{
		Key:          key,
		DocCount:     docCount,
		Aggregations: aggregation.InternalAggregations{&aggregation.InternalAvg{AggName: "price", Sum: sum, Count: docCount}},
	}
}

func priceHistogram(buckets ...*aggregation.HistogramBucket) *aggregation.InternalHistogram {
	return &aggregation.InternalHistogram{
		AggName:     "prices",
		Interval:    1,
		MinDocCount: 1,
		Order:       aggregation.OrderKeyAsc,
		Buckets:     buckets,
	}
}

func movingValues(aggs aggregation.InternalAggregations, name string) []float64 {
	var values []float64
	for _, b := range aggs.Get("prices").(*InternalMovingAvg).Buckets {
		values = append(values, b.Aggregations.Get(name).(*aggregation.InternalSimpleValue).Value)
	}
	return values
}

func TestModels(t *testing.T) {
	Convey("移动平均模型", t, func() {
		So(Models(), ShouldResemble, []string{"ewma", "holt", "linear", "median", "simple"})

		Convey("median", func() {
			m, err := NewModel("median", nil)
			So(err, ShouldBeNil)
			So(m.Next([]float64{4, 1, 3, 2}), ShouldEqual, 2.5)
			So(m.Next([]float64{3, 1, 2}), ShouldEqual, 2)
			So(m.Next([]float64{5}), ShouldEqual, 5)
		})

		Convey("simple 和 linear", func() {
			simple, err := NewModel("simple", nil)
			So(err, ShouldBeNil)
			So(simple.Next([]float64{1, 2, 3}), ShouldEqual, 2)

			linear, err := NewModel("linear", map[string]interface{}{})
			So(err, ShouldBeNil)
			So(linear.Next([]float64{3, 6}), ShouldEqual, 5)
		})

		Convey("ewma 和 holt", func() {
			ewma, err := NewModel("ewma", map[string]interface{}{"alpha": 0.5})
			So(err, ShouldBeNil)
			So(ewma.Next([]float64{2, 4}), ShouldEqual, 3)

			holt, err := NewModel("holt", nil)
			So(err, ShouldBeNil)
			So(holt.Next([]float64{7}), ShouldEqual, 7)
			// 上升序列上 holt 跟踪趋势，比相同 alpha 的 ewma 更接近最新值
			plain, err := NewModel("ewma", nil)
			So(err, ShouldBeNil)
			rising := []float64{1, 2, 3, 4}
			So(holt.Next(rising), ShouldBeGreaterThan, plain.Next(rising))
			So(holt.Next(rising), ShouldBeLessThan, 4)
		})

		Convey("窗口为空时返回 0", func() {
			for _, name := range Models() {
				m, err := NewModel(name, nil)
				So(err, ShouldBeNil)
				So(m.Next(nil), ShouldEqual, 0)
			}
		})

		Convey("参数错误", func() {
			_, err := NewModel("simple", map[string]interface{}{"alpha": 0.5})
			So(err, ShouldNotBeNil)
			_, err = NewModel("ewma", map[string]interface{}{"alpha": 2})
			So(err, ShouldNotBeNil)
			_, err = NewModel("unknown", nil)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestNew(t *testing.T) {
	Convey("配置校验", t, func() {
		m, err := New(&Options{Name: "smooth", Histogram: "prices"})
		So(err, ShouldBeNil)
		So(m.pipeline.window, ShouldEqual, 5)
		So(m.pipeline.model, ShouldEqual, "simple")
		So(m.pipeline.gapPolicy, ShouldEqual, GapPolicySkip)

		for _, options := range []*Options{
			nil,
			{Histogram: "prices"},
			{Name: "smooth"},
			{Name: "smooth", Histogram: "prices", Window: intPtr(0)},
			{Name: "smooth", Histogram: "prices", Model: "unknown"},
			{Name: "smooth", Histogram: "prices", GapPolicy: "fill"},
			{Name: "smooth", Histogram: "prices", Model: "ewma", Settings: map[string]interface{}{"gamma": 0.1}},
			{Name: "smooth", Histogram: "prices", Model: "ewma", Settings: map[string]interface{}{"alpha": "high"}},
		} {
			_, err := New(options)
			So(errors.Is(err, aggregation.ErrConfiguration), ShouldBeTrue)
		}
	})
}

func TestApply(t *testing.T) {
	Convey("计算移动平均", t, func() {
		histogram := priceHistogram(
			priceBucket(0, 1, 10),
			priceBucket(1, 1, 20),
			priceBucket(2, 1, 30),
			priceBucket(4, 1, 40),
		)
		aggs := aggregation.InternalAggregations{histogram, &aggregation.InternalSum{AggName: "total", Value: 100}}

		Convey("skip 跳过缺失的槽位", func() {
			m, err := New(&Options{Name: "smooth", Histogram: "prices", Metric: "price", Window: intPtr(2)})
			So(err, ShouldBeNil)
			result, err := m.Apply(aggs)
			So(err, ShouldBeNil)
			So(movingValues(result, "smooth"), ShouldResemble, []float64{10, 15, 25, 35})
			So(result.Get("total"), ShouldEqual, aggs.Get("total"))
			So(histogram.Buckets[0].Aggregations, ShouldHaveLength, 1)
		})

		Convey("insert_zeros 为缺失的槽位插入 0", func() {
			m, err := New(&Options{Name: "smooth", Histogram: "prices", Metric: "price", Window: intPtr(2), GapPolicy: GapPolicyInsertZeros})
			So(err, ShouldBeNil)
			result, err := m.Apply(aggs)
			So(err, ShouldBeNil)
			So(movingValues(result, "smooth"), ShouldResemble, []float64{10, 15, 25, 20})
		})

		Convey("指标没有值", func() {
			empty := priceHistogram(priceBucket(0, 1, 10), priceBucket(1, 0, 0), priceBucket(2, 1, 30))
			in := aggregation.InternalAggregations{empty}

			m, err := New(&Options{Name: "smooth", Histogram: "prices", Metric: "price", Window: intPtr(3)})
			So(err, ShouldBeNil)
			result, err := m.Apply(in)
			So(err, ShouldBeNil)
			So(movingValues(result, "smooth"), ShouldResemble, []float64{10, 10, 20})

			m, err = New(&Options{Name: "smooth", Histogram: "prices", Metric: "price", Window: intPtr(3), GapPolicy: GapPolicyInsertZeros})
			So(err, ShouldBeNil)
			result, err = m.Apply(in)
			So(err, ShouldBeNil)
			So(movingValues(result, "smooth"), ShouldResemble, []float64{10, 5, float64(40) / 3})
		})

		Convey("配置指标时同时输出文档数的移动平均", func() {
			m, err := New(&Options{Name: "smooth", Histogram: "prices", Metric: "price", Window: intPtr(2), GapPolicy: GapPolicyInsertZeros})
			So(err, ShouldBeNil)
			result, err := m.Apply(aggs)
			So(err, ShouldBeNil)
			So(movingValues(result, "smooth"), ShouldResemble, []float64{10, 15, 25, 20})
			So(movingValues(result, "smooth_doc_count"), ShouldResemble, []float64{1, 1, 1, 0.5})

			// 指标没有值的桶仍然计入文档数的窗口
			empty := priceHistogram(priceBucket(0, 1, 10), priceBucket(1, 0, 0), priceBucket(2, 1, 30))
			m, err = New(&Options{Name: "smooth", Histogram: "prices", Metric: "price", Window: intPtr(3)})
			So(err, ShouldBeNil)
			result, err = m.Apply(aggregation.InternalAggregations{empty})
			So(err, ShouldBeNil)
			So(movingValues(result, "smooth"), ShouldResemble, []float64{10, 10, 20})
			So(movingValues(result, "smooth_doc_count"), ShouldResemble, []float64{1, 0.5, float64(2) / 3})

			buckets := result[0].Render()["buckets"].([]interface{})
			So(buckets[1].(map[string]interface{})["smooth_doc_count"], ShouldResemble, map[string]interface{}{"value": 0.5})
		})

		Convey("默认使用文档数", func() {
			m, err := New(&Options{Name: "smooth", Histogram: "prices", Window: intPtr(3)})
			So(err, ShouldBeNil)
			result, err := m.Apply(aggs)
			So(err, ShouldBeNil)
			So(movingValues(result, "smooth"), ShouldResemble, []float64{1, 1, 1, 1})
			So(result.Get("prices").(*InternalMovingAvg).Buckets[0].Aggregations.Get("smooth_doc_count"), ShouldBeNil)
		})

		Convey("串联两个移动平均", func() {
			first, err := New(&Options{Name: "smooth", Histogram: "prices", Metric: "price", Window: intPtr(2)})
			So(err, ShouldBeNil)
			second, err := New(&Options{Name: "smoother", Histogram: "prices", Metric: "smooth", Window: intPtr(2)})
			So(err, ShouldBeNil)
			result, err := ApplyAll(aggs, first, second)
			So(err, ShouldBeNil)
			So(movingValues(result, "smooth"), ShouldResemble, []float64{10, 15, 25, 35})
			So(movingValues(result, "smoother"), ShouldResemble, []float64{10, 12.5, 20, 30})
		})

		Convey("配置错误", func() {
			m, err := New(&Options{Name: "smooth", Histogram: "missing"})
			So(err, ShouldBeNil)
			_, err = m.Apply(aggs)
			So(errors.Is(err, aggregation.ErrConfiguration), ShouldBeTrue)

			m, err = New(&Options{Name: "smooth", Histogram: "total"})
			So(err, ShouldBeNil)
			_, err = m.Apply(aggs)
			So(errors.Is(err, aggregation.ErrConfiguration), ShouldBeTrue)

			m, err = New(&Options{Name: "smooth", Histogram: "prices", Metric: "volume"})
			So(err, ShouldBeNil)
			_, err = m.Apply(aggs)
			So(errors.Is(err, aggregation.ErrConfiguration), ShouldBeTrue)

			m, err = New(&Options{Name: "price", Histogram: "prices"})
			So(err, ShouldBeNil)
			_, err = m.Apply(aggs)
			So(errors.Is(err, aggregation.ErrConfiguration), ShouldBeTrue)
		})
	})
}

func TestInternalMovingAvg(t *testing.T) {
	Convey("编码和合并", t, func() {
		m, err := New(&Options{
			Name:      "smooth",
			Histogram: "prices",
			Metric:    "price",
			Window:    intPtr(2),
			Model:     "ewma",
			Settings:  map[string]interface{}{"alpha": 0.5},
			GapPolicy: GapPolicyInsertZeros,
		})
		So(err, ShouldBeNil)

		shardA := priceHistogram(priceBucket(0, 1, 10), priceBucket(2, 1, 30))
		shardB := priceHistogram(priceBucket(1, 1, 20), priceBucket(2, 1, 50), priceBucket(4, 1, 40))

		Convey("编码后重新计算得到相同的结果", func() {
			result, err := m.Apply(aggregation.InternalAggregations{shardA})
			So(err, ShouldBeNil)
			data, err := aggregation.Marshal(result)
			So(err, ShouldBeNil)
			decoded, err := aggregation.Unmarshal(data)
			So(err, ShouldBeNil)
			So(decoded, ShouldResemble, result)
		})

		Convey("合并来源后重新计算", func() {
			a, err := m.Apply(aggregation.InternalAggregations{shardA})
			So(err, ShouldBeNil)
			b, err := m.Apply(aggregation.InternalAggregations{shardB})
			So(err, ShouldBeNil)
			reduced, err := aggregation.Reduce("prices", []aggregation.InternalAggregation{a[0], b[0]})
			So(err, ShouldBeNil)

			merged, err := aggregation.Reduce("prices", []aggregation.InternalAggregation{shardA, shardB})
			So(err, ShouldBeNil)
			expected, err := m.Apply(aggregation.InternalAggregations{merged})
			So(err, ShouldBeNil)
			So(reduced, ShouldResemble, expected[0])

			avg := reduced.(*InternalMovingAvg).Buckets[2].Aggregations.Get("price").(*aggregation.InternalAvg)
			So(avg.Avg(), ShouldEqual, 40)
		})

		Convey("渲染", func() {
			result, err := m.Apply(aggregation.InternalAggregations{shardA})
			So(err, ShouldBeNil)
			rendered := result[0].Render()
			buckets := rendered["buckets"].([]interface{})
			So(buckets, ShouldHaveLength, 2)
			smooth := buckets[1].(map[string]interface{})["smooth"].(map[string]interface{})
			So(smooth["value"], ShouldEqual, 15.0)
		})
	})
}
