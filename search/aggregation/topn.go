package aggregation

import (
	"container/heap"
)

// Select 按 cmp 从 candidates 中选出最靠前的 size 个，结果按 cmp 升序排列
//
// cmp(a, b) < 0 表示 a 排在 b 前面；cmp 必须是全序，相同输入无论插入顺序都得到相同输出
func Select[B any](candidates []B, size int, cmp func(a, b B) int) []B {
	if size <= 0 || len(candidates) == 0 {
		return nil
	}
	if size > len(candidates) {
		size = len(candidates)
	}

	// 堆顶是当前最差的候选，满了之后新候选只需要和它比较
	h := &boundedHeap[B]{items: make([]B, 0, size), worse: func(a, b B) bool { return cmp(a, b) > 0 }}
	for _, c := range candidates {
		if len(h.items) < size {
			heap.Push(h, c)
			continue
		}
		if cmp(c, h.items[0]) < 0 {
			h.items[0] = c
			heap.Fix(h, 0)
		}
	}

	result := make([]B, len(h.items))
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(B)
	}
	return result
}

type boundedHeap[B any] struct {
	items []B
	worse func(a, b B) bool
}

func (h *boundedHeap[B]) Len() int           { return len(h.items) }
func (h *boundedHeap[B]) Less(i, j int) bool { return h.worse(h.items[i], h.items[j]) }
func (h *boundedHeap[B]) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *boundedHeap[B]) Push(x any)         { h.items = append(h.items, x.(B)) }

func (h *boundedHeap[B]) Pop() any {
	n := len(h.items)
	x := h.items[n-1]
	h.items = h.items[:n-1]
	return x
}
