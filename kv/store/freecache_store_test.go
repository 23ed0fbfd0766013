package store

import (
	"context"
	"testing"

	"github.com/hatlonely/aggx/kv/serializer"
	"github.com/hatlonely/aggx/ref"
	. "github.com/smartystreets/goconvey/convey"
)

func TestFreeCacheStore(t *testing.T) {
	Convey("FreeCacheStore", t, func() {
		ctx := context.Background()

		Convey("构造函数", func() {
			Convey("nil 配置使用默认值", func() {
				s, err := NewFreeCacheStoreWithOptions[string, []byte](nil)
				So(err, ShouldBeNil)
				defer s.Close()
				So(s.defaultTTL, ShouldEqual, 0)
				So(s.Set(ctx, "k", []byte("v")), ShouldBeNil)
				So(s.cache.EntryCount(), ShouldEqual, 1)
			})

			Convey("指定 JSON 序列化器", func() {
				s, err := NewFreeCacheStoreWithOptions[string, string](&FreeCacheStoreOptions{
					Size: 1024 * 1024,
					ValSerializer: &ref.TypeOptions{
						Namespace: serializer.Namespace,
						Type:      "JSONSerializer[string]",
					},
				})
				So(err, ShouldBeNil)
				defer s.Close()

				So(s.Set(ctx, "shard-0/req-1", `{"sterms":"by_category"}`), ShouldBeNil)
				val, err := s.Get(ctx, "shard-0/req-1")
				So(err, ShouldBeNil)
				So(val, ShouldEqual, `{"sterms":"by_category"}`)
			})

			Convey("未知序列化器", func() {
				_, err := NewFreeCacheStoreWithOptions[string, string](&FreeCacheStoreOptions{
					Size:          1024 * 1024,
					KeySerializer: &ref.TypeOptions{Type: "GobSerializer[string]"},
				})
				So(err, ShouldNotBeNil)
			})
		})

		s, err := NewFreeCacheStoreWithOptions[string, []byte](&FreeCacheStoreOptions{Size: 1024 * 1024})
		So(err, ShouldBeNil)
		defer s.Close()

		Convey("Set 和 Get", func() {
			So(s.Set(ctx, "shard-0/req-1", []byte{0x93, 0x01}), ShouldBeNil)
			val, err := s.Get(ctx, "shard-0/req-1")
			So(err, ShouldBeNil)
			So(val, ShouldResemble, []byte{0x93, 0x01})
		})

		Convey("获取不存在的键", func() {
			_, err := s.Get(ctx, "missing")
			So(err, ShouldEqual, ErrKeyNotFound)
		})

		Convey("删除", func() {
			So(s.Set(ctx, "k", []byte("v")), ShouldBeNil)
			So(s.Del(ctx, "k"), ShouldBeNil)
			_, err := s.Get(ctx, "k")
			So(err, ShouldEqual, ErrKeyNotFound)
			So(s.Del(ctx, "k"), ShouldBeNil)
		})

		Convey("IfNotExist", func() {
			So(s.Set(ctx, "k", []byte("v1"), WithIfNotExist()), ShouldBeNil)
			So(s.Set(ctx, "k", []byte("v2"), WithIfNotExist()), ShouldEqual, ErrConditionFailed)
			val, _ := s.Get(ctx, "k")
			So(string(val), ShouldEqual, "v1")
		})

		Convey("批量操作", func() {
			keys := []string{"a", "b", "c"}
			errs, err := s.BatchSet(ctx, keys, [][]byte{[]byte("1"), []byte("2"), []byte("3")})
			So(err, ShouldBeNil)
			So(errs, ShouldResemble, []error{nil, nil, nil})

			vals, errs, err := s.BatchGet(ctx, []string{"a", "x", "c"})
			So(err, ShouldBeNil)
			So(string(vals[0]), ShouldEqual, "1")
			So(errs[1], ShouldEqual, ErrKeyNotFound)
			So(string(vals[2]), ShouldEqual, "3")

			_, err = s.BatchDel(ctx, keys)
			So(err, ShouldBeNil)
			_, err = s.Get(ctx, "b")
			So(err, ShouldEqual, ErrKeyNotFound)

			_, err = s.BatchSet(ctx, keys, [][]byte{nil})
			So(err.Error(), ShouldContainSubstring, "length mismatch")
		})

		Convey("命中率", func() {
			So(s.Set(ctx, "k", []byte("v")), ShouldBeNil)
			_, _ = s.Get(ctx, "k")
			_, _ = s.Get(ctx, "missing")
			So(s.HitRate(), ShouldAlmostEqual, 0.5)
		})
	})
}
