package traverser

import "container/heap"

// Completion is one ranked result of a prefix-completion query: the key
// bytes appended after the matched prefix, the final state reached, and
// the effective weight it was ranked by.
type Completion struct {
	Suffix []byte
	State  uint64
	Weight uint32
}

// completionHeap is a min-heap on Weight so the smallest of the current
// top_n survivors sits at index 0, ready to be evicted or used as the
// live floor passed to SetMinWeight.
type completionHeap []Completion

func (h completionHeap) Len() int            { return len(h) }
func (h completionHeap) Less(i, j int) bool  { return h[i].Weight < h[j].Weight }
func (h completionHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *completionHeap) Push(x interface{}) { *h = append(*h, x.(Completion)) }

func (h *completionHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}

// tryAdd offers cand to h, bounded to topN: it is pushed outright while
// the heap has room, replaces the current lightest survivor if heavier,
// and is dropped otherwise. Reports whether cand was kept.
func tryAdd(h *completionHeap, cand Completion, topN int) bool {
	switch {
	case h.Len() < topN:
		heap.Push(h, cand)
	case cand.Weight > (*h)[0].Weight:
		heap.Pop(h)
		heap.Push(h, cand)
	default:
		return false
	}

	return true
}

// Complete walks down from state to the deepest node matching prefix
// (spec §4.7 "Completion semantics": "prefix-completion walks to the
// deepest state that matches the query prefix, then enumerates
// descendants via a weighted traverser bounded by top_n"), then
// enumerates final descendants by descending effective weight, keeping
// only the topN heaviest. If the matched state is itself final, the
// prefix is a stored key in its own right and competes for a slot with
// an empty Suffix, same as any other descendant. The bound is
// maintained by a fixed-size min-heap whose smallest element is used as
// a live floor for SetMinWeight, so once the heap is full whole
// subtrees below the current floor are skipped rather than walked and
// discarded.
func Complete(arr Array, state uint64, prefix []byte, topN int) ([]Completion, bool) {
	for _, c := range prefix {
		next, ok := arr.TryWalk(state, c)
		if !ok {
			return nil, false
		}

		state = next
	}

	if topN <= 0 {
		return nil, true
	}

	h := &completionHeap{}
	heap.Init(h)

	if arr.IsFinal(state) {
		tryAdd(h, Completion{State: state, Weight: arr.InnerWeight(state)}, topN)
	}

	tr := NewWeighted(arr, state)

	if h.Len() == topN {
		tr.SetMinWeight((*h)[0].Weight)
	}

	var path []byte

	for {
		q, ok := tr.Step()
		if !ok {
			break
		}

		path = append(path[:q.Depth-1], q.Label)

		if !arr.IsFinal(q.State) {
			continue
		}

		suffix := make([]byte, len(path))
		copy(suffix, path)

		cand := Completion{Suffix: suffix, State: q.State, Weight: q.Weight}

		if !tryAdd(h, cand, topN) {
			continue
		}

		if h.Len() == topN {
			tr.SetMinWeight((*h)[0].Weight)
		}
	}

	out := make([]Completion, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Completion)
	}

	return out, true
}
