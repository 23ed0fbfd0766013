package aggregation

import (
	"context"
	"math"
	"testing"

	"github.com/hatlonely/aggx/search/fielddata"
	"github.com/hatlonely/aggx/search/query"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	day20240101 = 1704067200000
	day20240102 = 1704153600000
	day20240103 = 1704240000000
	day20240201 = 1706745600000
	day20240215 = 1707955200000
)

func newTestFieldData() *fielddata.Memory {
	fd, err := fielddata.NewMemory(map[string]fielddata.ValueType{
		"category": fielddata.ValueTypeBytes,
		"tags":     fielddata.ValueTypeBytes,
		"price":    fielddata.ValueTypeDouble,
		"qty":      fielddata.ValueTypeLong,
		"ts":       fielddata.ValueTypeLong,
		"location": fielddata.ValueTypeGeoPoint,
	}, []fielddata.Document{
		{"category": "book", "tags": []string{"a", "b", "a"}, "price": 10.0, "qty": 1, "ts": "2024-01-01T00:00:00Z"},
		{"category": "book", "tags": "b", "price": 20.0, "qty": 2, "ts": "2024-01-01T12:00:00Z"},
		{"category": "food", "tags": "a", "price": 5.0, "qty": 3, "ts": "2024-01-03T00:00:00Z"},
		{"category": "toy", "price": []float64{30, 35}, "qty": 1, "ts": "2024-02-15T00:00:00Z"},
		{"category": "food", "price": 15.0, "qty": 2},
		{},
	})
	if err != nil {
		panic(err)
	}
	return fd
}

func int64Ptr(v int64) *int64 {
	return &v
}

func float64Ptr(v float64) *float64 {
	return &v
}

func execute(aggs []Aggregation, opts ...TreeOption) InternalAggregations {
	fd := newTestFieldData()
	tree, err := NewTree(fd, aggs, opts...)
	So(err, ShouldBeNil)
	result, err := tree.Execute(context.Background(), fd.AllDocs())
	So(err, ShouldBeNil)
	return result
}

func termsKeys[K TermsKey](agg InternalAggregation) ([]K, []int64) {
	terms, ok := agg.(*InternalTerms[K])
	So(ok, ShouldBeTrue)
	var keys []K
	var counts []int64
	for _, b := range terms.Buckets {
		keys = append(keys, b.Key)
		counts = append(counts, b.DocCount)
	}
	return keys, counts
}

func TestTermsAggregation(t *testing.T) {
	Convey("terms 聚合", t, func() {
		Convey("多值字段同一文档的重复值只计一次", func() {
			result := execute([]Aggregation{
				&TermsAggregation{BucketAggregation: BucketAggregation{AggName: "by_tag", Field: "tags"}},
			})
			keys, counts := termsKeys[string](result.Get("by_tag"))
			So(keys, ShouldResemble, []string{"a", "b"})
			So(counts, ShouldResemble, []int64{2, 2})
		})

		Convey("默认按文档数降序，文档数相同按键升序", func() {
			result := execute([]Aggregation{
				&TermsAggregation{BucketAggregation: BucketAggregation{
					AggName: "by_category",
					Field:   "category",
					SubAggregations: []Aggregation{
						&SumAggregation{MetricAggregation: MetricAggregation{AggName: "total", Field: "price"}},
					},
				}},
			})
			terms := result.Get("by_category").(*InternalTerms[string])
			keys, counts := termsKeys[string](terms)
			So(keys, ShouldResemble, []string{"book", "food", "toy"})
			So(counts, ShouldResemble, []int64{2, 2, 1})

			toy, ok := terms.Bucket("toy")
			So(ok, ShouldBeTrue)
			So(toy.Aggregations.Get("total").(*InternalSum).Value, ShouldEqual, 65)
			So(terms.SumOtherDocCount, ShouldEqual, 0)
		})

		Convey("按子指标排序", func() {
			result := execute([]Aggregation{
				&TermsAggregation{
					BucketAggregation: BucketAggregation{
						AggName: "by_category",
						Field:   "category",
						SubAggregations: []Aggregation{
							&SumAggregation{MetricAggregation: MetricAggregation{AggName: "total", Field: "price"}},
						},
					},
					Order: map[string]string{"total": "desc"},
				},
			})
			keys, _ := termsKeys[string](result.Get("by_category"))
			So(keys, ShouldResemble, []string{"toy", "book", "food"})
		})

		Convey("按 size 截断并统计其他桶的文档数", func() {
			result := execute([]Aggregation{
				&TermsAggregation{BucketAggregation: BucketAggregation{AggName: "by_category", Field: "category"}, Size: 1},
			})
			terms := result.Get("by_category").(*InternalTerms[string])
			So(terms.Buckets, ShouldHaveLength, 1)
			So(terms.Buckets[0].Key, ShouldEqual, "book")
			So(terms.SumOtherDocCount, ShouldEqual, 3)
		})

		Convey("同字段的子聚合只能看到所在桶的值", func() {
			result := execute([]Aggregation{
				&TermsAggregation{BucketAggregation: BucketAggregation{
					AggName: "by_price",
					Field:   "price",
					SubAggregations: []Aggregation{
						&SumAggregation{MetricAggregation: MetricAggregation{AggName: "price_sum"}},
					},
				}, Order: map[string]string{"_key": "asc"}},
			})
			terms := result.Get("by_price").(*InternalTerms[float64])
			So(terms.Type(), ShouldEqual, "dterms")
			So(terms.Buckets, ShouldHaveLength, 6)
			for _, b := range terms.Buckets {
				So(b.Aggregations.Get("price_sum").(*InternalSum).Value, ShouldEqual, b.Key)
			}
		})

		Convey("long 字段产生 lterms，include/exclude 过滤", func() {
			result := execute([]Aggregation{
				&TermsAggregation{
					BucketAggregation: BucketAggregation{AggName: "by_qty", Field: "qty"},
					Exclude:           &TermsFilter{Values: []interface{}{3}},
				},
			})
			keys, counts := termsKeys[int64](result.Get("by_qty"))
			So(keys, ShouldResemble, []int64{1, 2})
			So(counts, ShouldResemble, []int64{2, 2})
		})

		Convey("字符串字段正则 include", func() {
			result := execute([]Aggregation{
				&TermsAggregation{
					BucketAggregation: BucketAggregation{AggName: "by_category", Field: "category"},
					Include:           &TermsFilter{Pattern: "b.*|t.y"},
				},
			})
			keys, _ := termsKeys[string](result.Get("by_category"))
			So(keys, ShouldResemble, []string{"book", "toy"})
		})

		Convey("minDocCount 过滤", func() {
			result := execute([]Aggregation{
				&TermsAggregation{BucketAggregation: BucketAggregation{AggName: "by_category", Field: "category"}, MinDocCount: int64Ptr(2)},
			})
			keys, _ := termsKeys[string](result.Get("by_category"))
			So(keys, ShouldResemble, []string{"book", "food"})
		})

		Convey("未映射的字段返回空结果", func() {
			result := execute([]Aggregation{
				&TermsAggregation{BucketAggregation: BucketAggregation{
					AggName: "missing",
					Field:   "no_such_field",
					SubAggregations: []Aggregation{
						&AvgAggregation{MetricAggregation: MetricAggregation{AggName: "avg"}},
					},
				}},
			})
			terms := result.Get("missing").(*InternalTerms[string])
			So(terms.Buckets, ShouldBeNil)
			So(terms.empty(), ShouldBeTrue)
		})

		Convey("double 字段的 NaN 不产生桶", func() {
			fd, err := fielddata.NewMemory(map[string]fielddata.ValueType{"score": fielddata.ValueTypeDouble}, []fielddata.Document{
				{"score": []float64{math.NaN(), 1.5, math.NaN()}},
				{"score": math.NaN()},
				{"score": 1.5},
			})
			So(err, ShouldBeNil)
			tree, err := NewTree(fd, []Aggregation{
				&TermsAggregation{BucketAggregation: BucketAggregation{AggName: "by_score", Field: "score"}},
			})
			So(err, ShouldBeNil)
			result, err := tree.Execute(context.Background(), fd.AllDocs())
			So(err, ShouldBeNil)
			keys, counts := termsKeys[float64](result.Get("by_score"))
			So(keys, ShouldResemble, []float64{1.5})
			So(counts, ShouldResemble, []int64{2})
		})

		Convey("构造聚合树不修改调用方的定义", func() {
			agg := &TermsAggregation{
				BucketAggregation: BucketAggregation{
					AggName: "by_category",
					Field:   "category",
					SubAggregations: []Aggregation{
						&HistogramAggregation{BucketAggregation: BucketAggregation{AggName: "prices", Field: "price"}, Interval: 10},
					},
				},
				Size: 2,
			}
			before := agg.ToES()
			result := execute([]Aggregation{agg})
			So(agg.ToES(), ShouldResemble, before)
			So(agg.MinDocCount, ShouldBeNil)
			So(agg.SubAggregations[0].(*HistogramAggregation).MinDocCount, ShouldBeNil)

			keys, _ := termsKeys[string](result.Get("by_category"))
			So(keys, ShouldResemble, []string{"book", "food"})
		})

		Convey("多分片时按 shardSize 截断，不过滤 minDocCount", func() {
			agg := &TermsAggregation{BucketAggregation: BucketAggregation{AggName: "by_category", Field: "category"}, Size: 1, MinDocCount: int64Ptr(2)}
			result := execute([]Aggregation{agg}, WithShardCount(2))
			terms := result.Get("by_category").(*InternalTerms[string])
			So(terms.Buckets, ShouldHaveLength, 3)
			So(agg.shardSize(false), ShouldEqual, 11)
			So(agg.shardSize(true), ShouldEqual, 1)
		})
	})
}

func TestHistogramAggregation(t *testing.T) {
	Convey("直方图", t, func() {
		Convey("同一文档落在同一槽位的多个值只计一次", func() {
			result := execute([]Aggregation{
				&HistogramAggregation{BucketAggregation: BucketAggregation{AggName: "prices", Field: "price"}, Interval: 10},
			})
			histogram := result.Get("prices").(*InternalHistogram)
			So(histogram.Type(), ShouldEqual, "histogram")
			var keys []float64
			var counts []int64
			for _, b := range histogram.Buckets {
				keys = append(keys, b.Key)
				counts = append(counts, b.DocCount)
			}
			So(keys, ShouldResemble, []float64{0, 10, 20, 30})
			So(counts, ShouldResemble, []int64{1, 2, 1, 1})
		})

		Convey("minDocCount 为 0 时补齐空桶", func() {
			result := execute([]Aggregation{
				&HistogramAggregation{
					BucketAggregation: BucketAggregation{
						AggName: "prices",
						Field:   "price",
						SubAggregations: []Aggregation{
							&MaxAggregation{MetricAggregation: MetricAggregation{AggName: "max"}},
						},
					},
					Interval:    5,
					MinDocCount: int64Ptr(0),
				},
			})
			histogram := result.Get("prices").(*InternalHistogram)
			So(histogram.Buckets, ShouldHaveLength, 7)
			gap, ok := histogram.Bucket(25)
			So(ok, ShouldBeTrue)
			So(gap.DocCount, ShouldEqual, 0)
			So(math.IsInf(gap.Aggregations.Get("max").(*InternalMax).Value, -1), ShouldBeTrue)
		})

		Convey("offset", func() {
			result := execute([]Aggregation{
				&HistogramAggregation{BucketAggregation: BucketAggregation{AggName: "prices", Field: "price"}, Interval: 10, Offset: 5},
			})
			histogram := result.Get("prices").(*InternalHistogram)
			So(histogram.Buckets[0].Key, ShouldEqual, 5)
			So(histogram.Buckets[0].DocCount, ShouldEqual, 2)
		})

		Convey("按自然日分桶", func() {
			result := execute([]Aggregation{
				&DateHistogramAggregation{BucketAggregation: BucketAggregation{AggName: "per_day", Field: "ts"}, Interval: "1d"},
			})
			histogram := result.Get("per_day").(*InternalHistogram)
			So(histogram.Type(), ShouldEqual, "date_histogram")
			So(histogram.Buckets, ShouldHaveLength, 3)
			So(histogram.Buckets[0].Key, ShouldEqual, day20240101)
			So(histogram.Buckets[0].DocCount, ShouldEqual, 2)
			So(histogram.Buckets[1].Key, ShouldEqual, day20240103)
			So(histogram.Buckets[2].Key, ShouldEqual, day20240215)
			So(histogram.KeyAsString(histogram.Buckets[0].Key), ShouldEqual, "2024-01-01T00:00:00.000Z")
		})

		Convey("按月分桶并补齐", func() {
			result := execute([]Aggregation{
				&DateHistogramAggregation{BucketAggregation: BucketAggregation{AggName: "per_day", Field: "ts"}, Interval: "day", MinDocCount: int64Ptr(0), Format: "2006-01-02"},
				&DateHistogramAggregation{BucketAggregation: BucketAggregation{AggName: "per_month", Field: "ts"}, Interval: "month"},
			})
			perDay := result.Get("per_day").(*InternalHistogram)
			So(perDay.Buckets, ShouldHaveLength, 46)
			So(perDay.Buckets[1].Key, ShouldEqual, day20240102)
			So(perDay.KeyAsString(perDay.Buckets[1].Key), ShouldEqual, "2024-01-02")

			perMonth := result.Get("per_month").(*InternalHistogram)
			So(perMonth.Buckets, ShouldHaveLength, 2)
			So(perMonth.Buckets[0].DocCount, ShouldEqual, 3)
			So(perMonth.Buckets[1].Key, ShouldEqual, day20240201)
		})

		Convey("非法间隔", func() {
			_, err := NewTree(newTestFieldData(), []Aggregation{
				&DateHistogramAggregation{BucketAggregation: BucketAggregation{AggName: "bad", Field: "ts"}, Interval: "3M"},
			})
			So(errors.Is(err, ErrConfiguration), ShouldBeTrue)

			_, err = NewTree(newTestFieldData(), []Aggregation{
				&HistogramAggregation{BucketAggregation: BucketAggregation{AggName: "bad", Field: "price"}},
			})
			So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
		})
	})
}

func TestRangeAndFilterAggregation(t *testing.T) {
	Convey("range 聚合", t, func() {
		result := execute([]Aggregation{
			&RangeAggregation{
				BucketAggregation: BucketAggregation{AggName: "price_ranges", Field: "price"},
				Ranges: []Range{
					{To: float64Ptr(10)},
					{From: float64Ptr(20)},
					{Key: "mid", From: float64Ptr(10), To: float64Ptr(20)},
					{From: float64Ptr(100), To: float64Ptr(200)},
				},
			},
		})
		ranges := result.Get("price_ranges").(*InternalRange)
		var keys []string
		var counts []int64
		for _, b := range ranges.Buckets {
			keys = append(keys, b.Key)
			counts = append(counts, b.DocCount)
		}
		So(keys, ShouldResemble, []string{"*-10", "mid", "20-*", "100-200"})
		So(counts, ShouldResemble, []int64{1, 2, 2, 0})

		Convey("重复的区间键", func() {
			_, err := NewTree(newTestFieldData(), []Aggregation{
				&RangeAggregation{
					BucketAggregation: BucketAggregation{AggName: "dup", Field: "price"},
					Ranges:            []Range{{To: float64Ptr(10)}, {Key: "*-10", From: float64Ptr(1)}},
				},
			})
			So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
		})
	})

	Convey("filter/filters 聚合", t, func() {
		result := execute([]Aggregation{
			&FilterAggregation{
				BucketAggregation: BucketAggregation{
					AggName: "books",
					SubAggregations: []Aggregation{
						&AvgAggregation{MetricAggregation: MetricAggregation{AggName: "avg_price", Field: "price"}},
					},
				},
				Filter: &query.TermQuery{Field: "category", Value: "book"},
			},
			&FiltersAggregation{
				BucketAggregation: BucketAggregation{AggName: "groups"},
				Filters: []NamedFilter{
					{Key: "cheap", Filter: &query.RangeQuery{Field: "price", Lt: 12}},
					{Key: "books", Filter: &query.TermQuery{Field: "category", Value: "book"}},
				},
				OtherBucketKey: "rest",
			},
		})

		books := result.Get("books").(*InternalFilter)
		So(books.DocCount, ShouldEqual, 2)
		avg, ok := MetricValue(books.Aggregations, "avg_price")
		So(ok, ShouldBeTrue)
		So(avg, ShouldEqual, 15)

		groups := result.Get("groups").(*InternalFilters)
		So(groups.Buckets, ShouldHaveLength, 3)
		for key, count := range map[string]int64{"cheap": 2, "books": 2, "rest": 3} {
			b, ok := groups.Bucket(key)
			So(ok, ShouldBeTrue)
			So(b.DocCount, ShouldEqual, count)
		}
	})
}

func TestMetricAggregation(t *testing.T) {
	Convey("指标聚合", t, func() {
		result := execute([]Aggregation{
			&StatsAggregation{MetricAggregation: MetricAggregation{AggName: "price_stats", Field: "price"}},
			&ValueCountAggregation{MetricAggregation: MetricAggregation{AggName: "tag_count", Field: "tags"}},
			&MinAggregation{MetricAggregation: MetricAggregation{AggName: "min_qty", Field: "qty"}},
			&SumAggregation{MetricAggregation: MetricAggregation{AggName: "missing", Field: "no_such_field"}},
		})

		stats := result.Get("price_stats").(*InternalStats)
		So(stats.Count, ShouldEqual, 6)
		So(stats.Sum, ShouldEqual, 115)
		So(stats.Min, ShouldEqual, 5)
		So(stats.Max, ShouldEqual, 35)

		v, ok := MetricValue(result, "price_stats.max")
		So(ok, ShouldBeTrue)
		So(v, ShouldEqual, 35)
		_, ok = MetricValue(result, "price_stats.median")
		So(ok, ShouldBeFalse)

		So(result.Get("tag_count").(*InternalValueCount).Value, ShouldEqual, 5)
		So(result.Get("min_qty").(*InternalMin).Value, ShouldEqual, 1)
		So(result.Get("missing").(*InternalSum).Value, ShouldEqual, 0)

		rendered := result.Render()
		So(rendered["price_stats"].(map[string]interface{})["avg"], ShouldAlmostEqual, 115.0/6)
	})
}

func TestNewTreeErrors(t *testing.T) {
	Convey("构造聚合树失败", t, func() {
		fd := newTestFieldData()

		Convey("没有字段也没有合适的祖先值来源", func() {
			tree, err := NewTree(fd, []Aggregation{
				&FilterAggregation{
					BucketAggregation: BucketAggregation{
						AggName: "all",
						SubAggregations: []Aggregation{
							&AvgAggregation{MetricAggregation: MetricAggregation{AggName: "orphan_avg"}},
						},
					},
					Filter: &query.MatchAllQuery{},
				},
			})
			So(tree, ShouldBeNil)
			So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
			var resolutionErr *ResolutionError
			So(errors.As(err, &resolutionErr), ShouldBeTrue)
			So(resolutionErr.AggName, ShouldEqual, "orphan_avg")
			So(err.Error(), ShouldContainSubstring, "orphan_avg")
		})

		Convey("祖先的值来源类型不满足", func() {
			_, err := NewTree(fd, []Aggregation{
				&TermsAggregation{BucketAggregation: BucketAggregation{
					AggName: "by_category",
					Field:   "category",
					SubAggregations: []Aggregation{
						&SumAggregation{MetricAggregation: MetricAggregation{AggName: "sum"}},
					},
				}},
			})
			var resolutionErr *ResolutionError
			So(errors.As(err, &resolutionErr), ShouldBeTrue)
			So(resolutionErr.AggName, ShouldEqual, "sum")
		})

		Convey("字段类型不满足", func() {
			_, err := NewTree(fd, []Aggregation{
				&AvgAggregation{MetricAggregation: MetricAggregation{AggName: "avg", Field: "category"}},
			})
			var resolutionErr *ResolutionError
			So(errors.As(err, &resolutionErr), ShouldBeTrue)
			So(resolutionErr.Field, ShouldEqual, "category")
			So(resolutionErr.Actual, ShouldEqual, fielddata.ValueTypeBytes)
		})

		Convey("同层重名", func() {
			_, err := NewTree(fd, []Aggregation{
				&SumAggregation{MetricAggregation: MetricAggregation{AggName: "x", Field: "price"}},
				&MaxAggregation{MetricAggregation: MetricAggregation{AggName: "x", Field: "price"}},
			})
			So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
		})

		Convey("size 超过上限", func() {
			_, err := NewTree(fd, []Aggregation{
				&TermsAggregation{BucketAggregation: BucketAggregation{AggName: "t", Field: "category"}, Size: MaxBucketSize + 1},
			})
			So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
		})

		Convey("按不存在的指标排序", func() {
			_, err := NewTree(fd, []Aggregation{
				&TermsAggregation{BucketAggregation: BucketAggregation{AggName: "t", Field: "category"}, Order: map[string]string{"nope": "asc"}},
			})
			So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "nope")
		})

		Convey("缺少名字", func() {
			_, err := NewTree(fd, []Aggregation{
				&SumAggregation{MetricAggregation: MetricAggregation{Field: "price"}},
			})
			So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
		})
	})
}

func TestExecuteCancel(t *testing.T) {
	Convey("ctx 取消后不构造结果", t, func() {
		fd := newTestFieldData()
		tree, err := NewTree(fd, []Aggregation{
			&TermsAggregation{BucketAggregation: BucketAggregation{AggName: "t", Field: "category"}},
		})
		So(err, ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		result, err := tree.Execute(ctx, fd.AllDocs())
		So(result, ShouldBeNil)
		So(errors.Is(err, context.Canceled), ShouldBeTrue)
	})
}
