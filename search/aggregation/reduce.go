package aggregation

import (
	"github.com/pkg/errors"
)

// ReduceContext 一组名字和类型相同、等待合并的结果
//
// Final 为 false 时只合并不截断，结果还可以继续和其他部分结果合并
type ReduceContext struct {
	Aggregations []InternalAggregation
	Final        bool
}

// Reduce 最终合并：按键合并桶，再按聚合自身的 size/order 截断
//
// 只有一个部分结果时原样返回。键的数量超过 size 时截断会丢掉计数，
// 最终合并的结果不满足结合律，不能再作为输入参与合并；需要分批合并时
// 先用 ReducePartial 合并每一批，最后只调用一次 Reduce
func Reduce(name string, partials []InternalAggregation) (InternalAggregation, error) {
	return reduce(name, partials, true)
}

// ReducePartial 增量合并，不截断也不补空桶
// Reduce(name, [ReducePartial(name, [a, b]), c]) 与 Reduce(name, [a, b, c]) 相同
func ReducePartial(name string, partials []InternalAggregation) (InternalAggregation, error) {
	return reduce(name, partials, false)
}

func reduce(name string, partials []InternalAggregation, final bool) (InternalAggregation, error) {
	partials, err := checkGroup(name, partials)
	if err != nil {
		return nil, err
	}
	if len(partials) == 1 {
		return partials[0], nil
	}
	return partials[0].Reduce(&ReduceContext{Aggregations: partials, Final: final})
}

// checkGroup 校验名字和类型一致
//
// 未映射字段产生的空 terms 和其他 terms 类型不同，只要还有非空的就忽略它们
func checkGroup(name string, partials []InternalAggregation) ([]InternalAggregation, error) {
	if len(partials) == 0 {
		return nil, errors.Wrapf(ErrReduce, "aggregation [%s]: nothing to reduce", name)
	}
	for _, p := range partials {
		if p == nil {
			return nil, errors.Wrapf(ErrReduce, "aggregation [%s]: nil partial", name)
		}
		if p.Name() != name {
			return nil, errors.Wrapf(ErrReduce, "aggregation [%s]: got partial named [%s]", name, p.Name())
		}
	}

	if !sameType(partials) {
		var nonEmpty []InternalAggregation
		for _, p := range partials {
			if e, ok := p.(interface{ empty() bool }); ok && e.empty() {
				continue
			}
			nonEmpty = append(nonEmpty, p)
		}
		switch {
		case len(nonEmpty) == 0:
			partials = partials[:1]
		case sameType(nonEmpty):
			partials = nonEmpty
		default:
			return nil, errors.Wrapf(ErrReduce, "aggregation [%s]: cannot reduce %s with %s", name, nonEmpty[0].Type(), firstOtherType(nonEmpty))
		}
	}
	return partials, nil
}

func sameType(aggs []InternalAggregation) bool {
	for _, agg := range aggs[1:] {
		if agg.Type() != aggs[0].Type() {
			return false
		}
	}
	return true
}

func firstOtherType(aggs []InternalAggregation) string {
	for _, agg := range aggs[1:] {
		if agg.Type() != aggs[0].Type() {
			return agg.Type()
		}
	}
	return aggs[0].Type()
}

// ReduceAggregations 合并多组同层结果，按名字分组，保持第一次出现的顺序
//
// 嵌套的组即使只有一个成员也会经过 Reduce，以便在最终合并时完成截断
func ReduceAggregations(lists []InternalAggregations, final bool) (InternalAggregations, error) {
	var names []string
	groups := map[string][]InternalAggregation{}
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

	result := make(InternalAggregations, 0, len(names))
	for _, name := range names {
		partials, err := checkGroup(name, groups[name])
		if err != nil {
			return nil, err
		}
		reduced, err := partials[0].Reduce(&ReduceContext{Aggregations: partials, Final: final})
		if err != nil {
			return nil, err
		}
		result = append(result, reduced)
	}
	return result, nil
}

// castAll 把一组结果断言成同一具体类型
func castAll[T InternalAggregation](ctx *ReduceContext) ([]T, error) {
	out := make([]T, len(ctx.Aggregations))
	for i, agg := range ctx.Aggregations {
		t, ok := agg.(T)
		if !ok {
			return nil, errors.Wrapf(ErrReduce, "aggregation [%s]: unexpected %T", agg.Name(), agg)
		}
		out[i] = t
	}
	return out, nil
}
