package aggregation

import (
	"bytes"
	"testing"

	"github.com/hatlonely/aggx/search/query"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/vmihailenco/msgpack/v5"
)

func allVariants() []Aggregation {
	return []Aggregation{
		&TermsAggregation{
			BucketAggregation: BucketAggregation{
				AggName: "by_category",
				Field:   "category",
				SubAggregations: []Aggregation{
					&TermsAggregation{BucketAggregation: BucketAggregation{AggName: "by_qty", Field: "qty"}},
					&StatsAggregation{MetricAggregation: MetricAggregation{AggName: "price_stats", Field: "price"}},
				},
			},
			Order: map[string]string{"price_stats.max": "desc"},
		},
		&TermsAggregation{BucketAggregation: BucketAggregation{AggName: "by_price", Field: "price"}},
		&TermsAggregation{BucketAggregation: BucketAggregation{AggName: "unmapped", Field: "no_such_field"}},
		&HistogramAggregation{
			BucketAggregation: BucketAggregation{
				AggName: "prices",
				Field:   "price",
				SubAggregations: []Aggregation{
					&AvgAggregation{MetricAggregation: MetricAggregation{AggName: "avg"}},
				},
			},
			Interval:    5,
			MinDocCount: int64Ptr(0),
		},
		&DateHistogramAggregation{BucketAggregation: BucketAggregation{AggName: "per_month", Field: "ts"}, Interval: "1M", TimeZone: "Asia/Shanghai", Format: "2006-01"},
		&RangeAggregation{
			BucketAggregation: BucketAggregation{
				AggName: "price_ranges",
				Field:   "price",
				SubAggregations: []Aggregation{
					&ValueCountAggregation{MetricAggregation: MetricAggregation{AggName: "count"}},
				},
			},
			Ranges: []Range{{To: float64Ptr(10)}, {From: float64Ptr(10)}},
		},
		&FilterAggregation{
			BucketAggregation: BucketAggregation{
				AggName: "books",
				SubAggregations: []Aggregation{
					&MinAggregation{MetricAggregation: MetricAggregation{AggName: "min", Field: "price"}},
					&MaxAggregation{MetricAggregation: MetricAggregation{AggName: "max", Field: "no_such_field"}},
				},
			},
			Filter: &query.TermQuery{Field: "category", Value: "book"},
		},
		&FiltersAggregation{
			BucketAggregation: BucketAggregation{AggName: "groups"},
			Filters:           []NamedFilter{{Key: "vip", Filter: &query.TermQuery{Field: "tags", Value: "vip"}}},
			OtherBucketKey:    "rest",
			Keyed:             true,
		},
		&SumAggregation{MetricAggregation: MetricAggregation{AggName: "sum", Field: "qty"}},
	}
}

type unregistered struct{}

func (unregistered) Name() string                                       { return "x" }
func (unregistered) Type() string                                       { return "unregistered" }
func (unregistered) Reduce(*ReduceContext) (InternalAggregation, error) { return nil, nil }
func (unregistered) EncodeFields(*FieldWriter)                          {}
func (unregistered) Render() map[string]interface{}                     { return nil }

func TestCodec(t *testing.T) {
	Convey("编解码", t, func() {
		Convey("最终结果往返一致", func() {
			result := execute(allVariants())
			buf, err := Marshal(result)
			So(err, ShouldBeNil)
			decoded, err := Unmarshal(buf)
			So(err, ShouldBeNil)
			So(decoded, ShouldResemble, result)
		})

		Convey("分片结果往返一致", func() {
			result := execute(allVariants(), WithShardCount(3))
			for _, agg := range result {
				buf, err := Encode(agg)
				So(err, ShouldBeNil)
				decoded, err := Decode(buf)
				So(err, ShouldBeNil)
				So(decoded, ShouldResemble, agg)
			}
		})

		Convey("空列表解码为 nil", func() {
			for _, aggs := range []InternalAggregations{nil, {}} {
				buf, err := Marshal(aggs)
				So(err, ShouldBeNil)
				decoded, err := Unmarshal(buf)
				So(err, ShouldBeNil)
				So(decoded, ShouldBeNil)
			}

			buf, err := Encode(&InternalTerms[int64]{AggName: "t", Order: OrderCountDesc, Size: 10, MinDocCount: 1})
			So(err, ShouldBeNil)
			decoded, err := Decode(buf)
			So(err, ShouldBeNil)
			So(decoded.(*InternalTerms[int64]).Buckets, ShouldBeNil)
		})

		Convey("未注册的类型标签", func() {
			var buf bytes.Buffer
			enc := msgpack.NewEncoder(&buf)
			So(enc.EncodeArrayLen(1), ShouldBeNil)
			So(enc.EncodeString("bogus"), ShouldBeNil)
			So(enc.EncodeString("x"), ShouldBeNil)

			_, err := Unmarshal(buf.Bytes())
			So(errors.Is(err, ErrUnknownType), ShouldBeTrue)
			So(errors.Is(err, ErrDecode), ShouldBeTrue)

			_, err = Encode(unregistered{})
			So(errors.Is(err, ErrUnknownType), ShouldBeTrue)
		})

		Convey("截断和多余的字节", func() {
			buf, err := Encode(&InternalStats{AggName: "s", Count: 1, Sum: 2, Min: 2, Max: 2})
			So(err, ShouldBeNil)

			_, err = Decode(buf[:len(buf)-3])
			So(errors.Is(err, ErrDecode), ShouldBeTrue)

			_, err = Decode(append(buf, 0xc0))
			So(errors.Is(err, ErrDecode), ShouldBeTrue)
		})

		Convey("长度超过剩余字节", func() {
			buf, err := Encode(&InternalHistogram{AggName: "h", Interval: 1, Order: OrderKeyAsc})
			So(err, ShouldBeNil)
			So(buf[len(buf)-1], ShouldEqual, byte(0x90))

			huge := append(append([]byte{}, buf[:len(buf)-1]...), 0xdd, 0x7f, 0xff, 0xff, 0xff)
			_, err = Decode(huge)
			So(errors.Is(err, ErrDecode), ShouldBeTrue)

			_, err = Unmarshal([]byte{0xdd, 0x7f, 0xff, 0xff, 0xff})
			So(errors.Is(err, ErrDecode), ShouldBeTrue)
		})

		Convey("非法的直方图间隔", func() {
			buf, err := Encode(&InternalHistogram{AggName: "h", DateInterval: "7M", Order: OrderKeyAsc})
			So(err, ShouldBeNil)
			_, err = Decode(buf)
			So(errors.Is(err, ErrDecode), ShouldBeTrue)
		})

		Convey("重复注册", func() {
			So(func() { RegisterVariant(tagSum, readSum) }, ShouldNotPanic)
			So(func() { RegisterVariant(tagSum, readMin) }, ShouldPanic)
			So(RegisteredVariants(), ShouldContain, tagStringTerms)
		})
	})
}
