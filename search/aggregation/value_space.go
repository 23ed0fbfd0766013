package aggregation

// ValueSpace 外层桶对某个值来源施加的约束链
//
// terms 桶 x 里的子聚合如果和它读同一个字段，只能看到 x；直方图和范围桶同理
// nil 表示不受约束
type ValueSpace struct {
	parent  *ValueSpace
	key     string
	numeric func(v float64) bool
	bytes   func(v string) bool
}

// AcceptNumeric 判断来源 key 上的数值 v 是否落在当前约束内
func (s *ValueSpace) AcceptNumeric(key string, v float64) bool {
	for sp := s; sp != nil; sp = sp.parent {
		if sp.key == key && sp.numeric != nil && !sp.numeric(v) {
			return false
		}
	}
	return true
}

func (s *ValueSpace) AcceptBytes(key string, v string) bool {
	for sp := s; sp != nil; sp = sp.parent {
		if sp.key == key && sp.bytes != nil && !sp.bytes(v) {
			return false
		}
	}
	return true
}

// NarrowNumeric 在当前约束上追加一层数值约束
func (s *ValueSpace) NarrowNumeric(key string, accept func(v float64) bool) *ValueSpace {
	return &ValueSpace{parent: s, key: key, numeric: accept}
}

func (s *ValueSpace) NarrowBytes(key string, accept func(v string) bool) *ValueSpace {
	return &ValueSpace{parent: s, key: key, bytes: accept}
}
