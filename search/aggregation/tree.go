package aggregation

import (
	"context"
	"reflect"
	"time"

	"github.com/hatlonely/aggx/cfg"
	"github.com/hatlonely/aggx/log"
	"github.com/hatlonely/aggx/search/fielddata"
	"github.com/pkg/errors"
)

// 每收集这么多篇文档检查一次 ctx
const cancelCheckInterval = 1024

type node struct {
	agg      Aggregation
	parent   int
	children []int
	source   fielddata.ValuesSource
	unmapped bool
	// newAggregator 为一个桶（或根）创建该节点的新聚合器
	newAggregator func() Aggregator
}

// Tree 绑定到一份字段数据的聚合树，节点按下标引用父节点
//
// Tree 构造后只读，可以多次 Execute；每次 Execute 创建独立的聚合器
type Tree struct {
	fd         fielddata.FieldData
	nodes      []*node
	roots      []int
	shardCount int
	logger     log.Logger
}

type TreeOption func(*Tree)

// WithShardCount 参与最终合并的部分结果个数，默认 1
//
// 只有一个部分结果时 BuildAggregation 直接给出最终形态（按 size 截断、按 minDocCount 过滤）
func WithShardCount(n int) TreeOption {
	return func(t *Tree) {
		if n > 0 {
			t.shardCount = n
		}
	}
}

func WithLogger(l log.Logger) TreeOption {
	return func(t *Tree) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTree 校验聚合定义并解析全部值来源，任何一个节点出错都不返回树
func NewTree(fd fielddata.FieldData, aggs []Aggregation, opts ...TreeOption) (*Tree, error) {
	t := &Tree{fd: fd, shardCount: 1, logger: log.Default()}
	for _, opt := range opts {
		opt(t)
	}

	roots, err := t.add(-1, aggs)
	if err != nil {
		return nil, err
	}
	t.roots = roots

	// 父节点先于子节点加入，按下标顺序处理即可保证祖先已解析
	for idx, n := range t.nodes {
		if err := cfg.Validate(n.agg); err != nil {
			return nil, errors.Wrapf(ErrConfiguration, "aggregation [%s]: %v", n.agg.Name(), err)
		}
		if err := t.resolve(idx); err != nil {
			return nil, err
		}
		newAggregator, err := n.agg.prepare(t, idx)
		if err != nil {
			return nil, err
		}
		n.newAggregator = newAggregator
	}
	return t, nil
}

func (t *Tree) add(parent int, aggs []Aggregation) ([]int, error) {
	names := map[string]struct{}{}
	indices := make([]int, 0, len(aggs))
	for _, agg := range aggs {
		if agg == nil {
			return nil, errors.Wrap(ErrConfiguration, "nil aggregation")
		}
		if _, ok := names[agg.Name()]; ok {
			return nil, configError(agg.Name(), "duplicate name among siblings")
		}
		names[agg.Name()] = struct{}{}

		defaulted, err := withDefaults(agg)
		if err != nil {
			return nil, err
		}
		idx := len(t.nodes)
		t.nodes = append(t.nodes, &node{agg: defaulted, parent: parent})
		indices = append(indices, idx)
	}
	for _, idx := range indices {
		children, err := t.add(idx, t.nodes[idx].agg.subAggregations())
		if err != nil {
			return nil, err
		}
		t.nodes[idx].children = children
	}
	return indices, nil
}

// withDefaults 返回设置了默认值的浅拷贝，调用方的定义保持不变
//
// 同一份定义会被多个分片并发使用，ToES 也要在执行前后保持一致
func withDefaults(agg Aggregation) (Aggregation, error) {
	rv := reflect.ValueOf(agg)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil, configError(agg.Name(), "definition must be a non-nil pointer, got %T", agg)
	}
	c := reflect.New(rv.Elem().Type())
	c.Elem().Set(rv.Elem())
	copied := c.Interface().(Aggregation)
	if err := cfg.SetDefaults(copied); err != nil {
		return nil, configError(agg.Name(), "%v", err)
	}
	return copied, nil
}

// final 构造出的结果不会再和其他分片合并
func (t *Tree) final() bool {
	return t.shardCount <= 1
}

// child 按名字找直接子节点
func (t *Tree) child(idx int, name string) (*node, bool) {
	for _, c := range t.nodes[idx].children {
		if t.nodes[c].agg.Name() == name {
			return t.nodes[c], true
		}
	}
	return nil, false
}

// Execute 对 docs 做一次收集，返回每个根聚合的结果
//
// ctx 被取消时返回 ctx.Err()，已收集的部分状态直接丢弃，不会构造结果
func (t *Tree) Execute(ctx context.Context, docs []int) (InternalAggregations, error) {
	start := time.Now()

	aggregators := make([]Aggregator, len(t.roots))
	for i, idx := range t.roots {
		aggregators[i] = t.nodes[idx].newAggregator()
	}

	for i, doc := range docs {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for _, a := range aggregators {
			a.Collect(doc, nil)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, a := range aggregators {
		a.PostCollection()
	}
	result := make(InternalAggregations, len(aggregators))
	for i, a := range aggregators {
		agg, err := a.BuildAggregation()
		if err != nil {
			return nil, err
		}
		result[i] = agg
	}

	t.logger.DebugContext(ctx, "aggregation pass completed",
		"docs", len(docs),
		"aggregations", len(result),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// newSubAggregators 为 idx 节点的一个桶创建全部子聚合器
func (t *Tree) newSubAggregators(idx int) []Aggregator {
	children := t.nodes[idx].children
	if len(children) == 0 {
		return nil
	}
	subs := make([]Aggregator, len(children))
	for i, c := range children {
		subs[i] = t.nodes[c].newAggregator()
	}
	return subs
}

// emptySubAggregations 没有文档的桶的子聚合结果
func (t *Tree) emptySubAggregations(idx int) (InternalAggregations, error) {
	return t.newBucketCollector(idx).build()
}

// bucketCollector 收集阶段一个桶的可变状态
type bucketCollector struct {
	docCount int64
	subs     []Aggregator
}

func (t *Tree) newBucketCollector(idx int) *bucketCollector {
	return &bucketCollector{subs: t.newSubAggregators(idx)}
}

func (b *bucketCollector) collect(doc int, space *ValueSpace) {
	b.docCount++
	for _, sub := range b.subs {
		sub.Collect(doc, space)
	}
}

func (b *bucketCollector) postCollection() {
	for _, sub := range b.subs {
		sub.PostCollection()
	}
}

func (b *bucketCollector) build() (InternalAggregations, error) {
	if len(b.subs) == 0 {
		return nil, nil
	}
	aggs := make(InternalAggregations, len(b.subs))
	for i, sub := range b.subs {
		agg, err := sub.BuildAggregation()
		if err != nil {
			return nil, err
		}
		aggs[i] = agg
	}
	return aggs, nil
}

// unmappedAggregator 字段未映射时使用，不收集任何文档
type unmappedAggregator struct {
	name  string
	empty func() InternalAggregation
}

func (a *unmappedAggregator) Name() string             { return a.name }
func (a *unmappedAggregator) Collect(int, *ValueSpace) {}
func (a *unmappedAggregator) PostCollection()          {}

func (a *unmappedAggregator) BuildAggregation() (InternalAggregation, error) {
	return a.empty(), nil
}
