package shard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hatlonely/aggx/cfg"
	"github.com/hatlonely/aggx/kv/store"
	"github.com/hatlonely/aggx/log"
	"github.com/hatlonely/aggx/ref"
	"github.com/hatlonely/aggx/search/aggregation"
	"github.com/hatlonely/aggx/search/fielddata"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	// ShardCount 协调节点需要合并的分片数，为 1 时本分片直接给出最终结果
	ShardCount int `cfg:"shardCount" def:"1" validate:"gte=1"`
	// Concurrency 同时执行的段数
	Concurrency int `cfg:"concurrency" def:"4" validate:"gte=1"`
	// Cache 请求缓存，为空时不缓存
	Cache    *ref.TypeOptions `cfg:"cache"`
	CacheTTL time.Duration    `cfg:"cacheTTL" def:"1m"`
	Logger   *ref.TypeOptions `cfg:"logger"`
}

// Segment 分片内一个独立的数据段
type Segment struct {
	FieldData fielddata.FieldData
	// Docs 命中的文档，为 nil 时使用全部文档（FieldData 需要实现 AllDocs）
	Docs []int
}

type allDocs interface {
	AllDocs() []int
}

func (s *Segment) docs() ([]int, error) {
	if s.Docs != nil {
		return s.Docs, nil
	}
	if fd, ok := s.FieldData.(allDocs); ok {
		return fd.AllDocs(), nil
	}
	return nil, errors.Wrapf(aggregation.ErrConfiguration, "segment field data %T cannot enumerate documents", s.FieldData)
}

type Request struct {
	Aggregations []aggregation.Aggregation
	Segments     []*Segment
	// CacheKey 标识命中的文档集合（例如查询和索引版本），为空时不使用缓存
	CacheKey string
}

// Executor 在一个分片内并行执行各段的聚合树，再把各段结果合并成本分片的结果
type Executor struct {
	shardCount  int
	concurrency int
	cache       store.Store[string, []byte]
	cacheTTL    time.Duration
	logger      log.Logger
}

func NewExecutorWithOptions(options *Options) (*Executor, error) {
	if options == nil {
		options = &Options{}
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, errors.WithMessage(err, "cfg.SetDefaults failed")
	}
	if err := cfg.Validate(options); err != nil {
		return nil, errors.Wrap(aggregation.ErrConfiguration, err.Error())
	}

	logger, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.WithMessage(err, "log.NewLoggerWithOptions failed")
	}

	e := &Executor{
		shardCount:  options.ShardCount,
		concurrency: options.Concurrency,
		cacheTTL:    options.CacheTTL,
		logger:      logger.With("component", "shard"),
	}
	if options.Cache != nil {
		e.cache, err = store.NewStoreWithOptions[string, []byte](options.Cache)
		if err != nil {
			return nil, errors.WithMessage(err, "store.NewStoreWithOptions failed")
		}
	}
	return e, nil
}

// Execute 返回本分片的结果
//
// ShardCount 为 1 时结果已经是最终形态，否则是可以继续合并的部分结果
func (e *Executor) Execute(ctx context.Context, req *Request) (aggregation.InternalAggregations, error) {
	if req == nil || len(req.Segments) == 0 {
		return nil, errors.Wrap(aggregation.ErrConfiguration, "shard request has no segments")
	}

	key, cacheable := e.cacheKey(req)
	if cacheable {
		if data, err := e.cache.Get(ctx, key); err == nil {
			aggs, err := aggregation.Unmarshal(data)
			if err == nil {
				e.logger.DebugContext(ctx, "request cache hit", "key", req.CacheKey)
				return aggs, nil
			}
			e.logger.WarnContext(ctx, "drop undecodable cache entry", "key", req.CacheKey, "error", err)
			_ = e.cache.Del(ctx, key)
		}
	}

	aggs, err := e.execute(ctx, req)
	if err != nil {
		return nil, err
	}

	if cacheable {
		data, err := aggregation.Marshal(aggs)
		if err == nil {
			err = e.cache.Set(ctx, key, data, store.WithExpiration(e.cacheTTL))
		}
		if err != nil {
			e.logger.WarnContext(ctx, "failed to cache shard result", "key", req.CacheKey, "error", err)
		}
	}
	return aggs, nil
}

func (e *Executor) execute(ctx context.Context, req *Request) (aggregation.InternalAggregations, error) {
	start := time.Now()

	// 每个段都是一个独立的部分结果
	partials := e.shardCount * len(req.Segments)
	trees := make([]*aggregation.Tree, len(req.Segments))
	docs := make([][]int, len(req.Segments))
	for i, seg := range req.Segments {
		var err error
		if docs[i], err = seg.docs(); err != nil {
			return nil, err
		}
		tree, err := aggregation.NewTree(seg.FieldData, req.Aggregations,
			aggregation.WithShardCount(partials),
			aggregation.WithLogger(e.logger),
		)
		if err != nil {
			return nil, err
		}
		trees[i] = tree
	}

	results := make([]aggregation.InternalAggregations, len(req.Segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range req.Segments {
		g.Go(func() error {
			aggs, err := trees[i].Execute(gctx, docs[i])
			if err != nil {
				return errors.WithMessagef(err, "segment %d", i)
			}
			results[i] = aggs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	if len(results) == 1 {
		return results[0], nil
	}
	// 本分片是唯一的分片时直接做最终合并
	aggs, err := aggregation.ReduceAggregations(results, e.shardCount == 1)
	if err != nil {
		return nil, err
	}

	e.logger.DebugContext(ctx, "shard execution completed",
		"segments", len(req.Segments),
		"final", e.shardCount == 1,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return aggs, nil
}

// cacheKey 由文档集合标识、分片数和聚合定义组成
func (e *Executor) cacheKey(req *Request) (string, bool) {
	if e.cache == nil || req.CacheKey == "" {
		return "", false
	}
	defs := make([]map[string]interface{}, len(req.Aggregations))
	for i, agg := range req.Aggregations {
		defs[i] = agg.ToES()
	}
	buf, err := json.Marshal(map[string]interface{}{
		"key":      req.CacheKey,
		"shards":   e.shardCount,
		"segments": len(req.Segments),
		"aggs":     defs,
	})
	if err != nil {
		e.logger.Warn("aggregation definition is not cacheable", "error", err)
		return "", false
	}
	return string(buf), true
}

func (e *Executor) Close() error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Close()
}
