package aggregation

import (
	"github.com/hatlonely/aggx/search/fielddata"
)

// resolveFromAncestors 沿父节点向上找第一个类型满足 required 的值来源
//
// 途经未映射的祖先时返回 unmapped，子聚合随之变成空结果而不是报错
func (t *Tree) resolveFromAncestors(aggName string, parent int, required fielddata.ValueType) (fielddata.ValuesSource, bool, error) {
	for idx := parent; idx >= 0; idx = t.nodes[idx].parent {
		n := t.nodes[idx]
		if n.unmapped {
			return nil, true, nil
		}
		if n.source != nil && required.Accepts(n.source.Type()) {
			return n.source, false, nil
		}
	}
	return nil, false, &ResolutionError{AggName: aggName, Required: required}
}

// resolve 为节点绑定值来源，不需要值来源的节点直接跳过
func (t *Tree) resolve(idx int) error {
	n := t.nodes[idx]
	if !n.agg.needsSource() {
		return nil
	}

	required := n.agg.valueType()
	if field := n.agg.field(); field != "" {
		vs, ok := t.fd.ValuesSource(field)
		if !ok {
			t.logger.Warn("field is not mapped, aggregation returns an empty result", "aggregation", n.agg.Name(), "field", field)
			n.unmapped = true
			return nil
		}
		if !required.Accepts(vs.Type()) {
			return &ResolutionError{AggName: n.agg.Name(), Field: field, Required: required, Actual: vs.Type()}
		}
		n.source = vs
		return nil
	}

	vs, unmapped, err := t.resolveFromAncestors(n.agg.Name(), n.parent, required)
	if err != nil {
		return err
	}
	n.source, n.unmapped = vs, unmapped
	return nil
}
