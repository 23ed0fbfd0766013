package coordinator

import (
	"context"
	"time"

	"github.com/hatlonely/aggx/cfg"
	"github.com/hatlonely/aggx/log"
	"github.com/hatlonely/aggx/ref"
	"github.com/hatlonely/aggx/search/aggregation"
	"github.com/hatlonely/aggx/search/aggregation/movavg"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type ReducerOptions struct {
	// Name 指标名前缀，同时作为日志的 component 和 tracer 名
	Name string `cfg:"name" def:"aggx_coordinator"`
	// Concurrency 同时合并的聚合组数
	Concurrency   int              `cfg:"concurrency" def:"8" validate:"gte=1"`
	EnableMetrics bool             `cfg:"enableMetrics"`
	EnableTracing bool             `cfg:"enableTracing"`
	Logger        *ref.TypeOptions `cfg:"logger"`
}

type ReducerOption func(*Reducer)

// WithRegisterer 指标注册到 registerer，默认为 prometheus.DefaultRegisterer
func WithRegisterer(registerer prometheus.Registerer) ReducerOption {
	return func(r *Reducer) {
		if registerer != nil {
			r.registerer = registerer
		}
	}
}

// Reducer 把所有分片的结果合并成最终结果
//
// 每个顶层聚合是一个独立的组，组之间并行合并，结果保持第一次出现的顺序
type Reducer struct {
	name        string
	concurrency int
	registerer  prometheus.Registerer
	metrics     *Metrics
	tracer      trace.Tracer
	logger      log.Logger
}

func NewReducerWithOptions(options *ReducerOptions, opts ...ReducerOption) (*Reducer, error) {
	if options == nil {
		options = &ReducerOptions{}
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

	r := &Reducer{
		name:        options.Name,
		concurrency: options.Concurrency,
		registerer:  prometheus.DefaultRegisterer,
		logger:      logger.With("component", options.Name),
	}
	for _, opt := range opts {
		opt(r)
	}
	if options.EnableMetrics {
		if r.metrics, err = NewMetrics(options.Name, r.registerer); err != nil {
			return nil, err
		}
	}
	if options.EnableTracing {
		r.tracer = otel.Tracer(options.Name)
	}
	return r, nil
}

func (r *Reducer) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if r.tracer == nil {
		// 不开启追踪时返回空实现，不影响调用方的 span
		return ctx, trace.SpanFromContext(context.Background())
	}
	return r.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Reduce 解码并合并所有分片的响应，然后依次应用管道聚合
//
// 任何一个分片解码失败都会让整个合并失败，错误中带上分片 id，不会当作空结果
func (r *Reducer) Reduce(ctx context.Context, responses []*ShardResponse, pipelines ...*movavg.MovingAvg) (aggs aggregation.InternalAggregations, err error) {
	start := time.Now()
	ctx, span := r.startSpan(ctx, "coordinator.Reducer.Reduce", attribute.Int("shards", len(responses)))
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		r.metrics.observeReduce(status, time.Since(start).Seconds())
	}()

	lists := make([]aggregation.InternalAggregations, len(responses))
	for i, resp := range responses {
		r.metrics.observePayload(len(resp.Payload))
		if lists[i], err = resp.Aggregations(); err != nil {
			r.metrics.decodeFailed()
			r.logger.WarnContext(ctx, "reject shard response", "shard", resp.ShardID, "error", err)
			return nil, err
		}
	}

	if aggs, err = r.reduceGroups(ctx, lists); err != nil {
		return nil, err
	}
	if aggs, err = movavg.ApplyAll(aggs, pipelines...); err != nil {
		return nil, err
	}

	r.logger.DebugContext(ctx, "coordinator reduce completed",
		"shards", len(responses),
		"aggregations", len(aggs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return aggs, nil
}

func (r *Reducer) reduceGroups(ctx context.Context, lists []aggregation.InternalAggregations) (aggregation.InternalAggregations, error) {
	var names []string
	groups := map[string][]aggregation.InternalAggregation{}
	for _, list := range lists {
		for _, agg := range list {
			if _, ok := groups[agg.Name()]; !ok {
				names = append(names, agg.Name())
			}
			groups[agg.Name()] = append(groups[agg.Name()], agg)
		}
	}
	if len(names) == 0 {
		return nil, nil
	}

	result := make(aggregation.InternalAggregations, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, span := r.startSpan(gctx, "coordinator.Reducer.reduceGroup",
				attribute.String("aggregation", name),
				attribute.Int("partials", len(groups[name])),
			)
			defer span.End()
			reduced, err := aggregation.Reduce(name, groups[name])
			if err != nil {
				return err
			}
			result[i] = reduced
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// ReduceSession 等待会话的所有分片响应后合并，完成后关闭会话
func (r *Reducer) ReduceSession(ctx context.Context, barrier *Barrier, sessionID string, pipelines ...*movavg.MovingAvg) (aggregation.InternalAggregations, error) {
	defer func() {
		if err := barrier.Close(context.Background(), sessionID); err != nil {
			r.logger.WarnContext(ctx, "failed to close session", "session", sessionID, "error", err)
		}
	}()

	responses, err := barrier.Wait(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return r.Reduce(ctx, responses, pipelines...)
}
