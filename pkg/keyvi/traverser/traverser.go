// Package traverser implements the DFS traversal stacks of spec §4.7: a
// lazy iterator over (depth, label, state, weight) quadruples, driven by
// a stack of per-depth cursors over a state's sorted outgoing
// transitions. Plain, Weighted and Near share one traversal engine
// parameterized by how each state's children are ordered; Fuzzy (edit-
// distance bounded) has its own engine in fuzzy.go since it carries a
// dynamic-programming row no other variant needs.
package traverser

import (
	"sort"

	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/sparsearray"
)

// Array is the automaton surface a traverser needs. Both
// *sparsearray.Array and *automaton.Automaton satisfy it.
type Array interface {
	OutTransitions(state uint64, impl sparsearray.ScanImpl) []sparsearray.Transition
	TryWalk(state uint64, label byte) (uint64, bool)
	IsFinal(state uint64) bool
	StateValue(state uint64) uint64
	InnerWeight(state uint64) uint32
}

// Quad is one element of the lazy (depth, label, state, weight)
// sequence a traverser produces. Weight is only meaningful for the
// Weighted variant; it is the effective (possibly inherited) weight of
// State.
type Quad struct {
	Depth  int
	Label  byte
	State  uint64
	Weight uint32
}

// child is a candidate descent computed by an orderFunc, queued on the
// parent frame until Step visits it.
type child struct {
	Label  byte
	Next   uint64
	Weight uint32 // effective weight (Weighted); 0 otherwise
	Exact  bool   // Near: label matched the target byte at this depth
}

type frame struct {
	kids       []child
	idx        int
	exactDepth int // Near: length of the longest exact prefix match so far
}

type orderFunc func(arr Array, state uint64, parentWeight uint32, target []byte, depth int) []child

// Traverser drives Plain, Weighted or Near traversal over Array,
// starting from a given state. Not safe for concurrent use.
type Traverser struct {
	arr       Array
	order     orderFunc
	target    []byte
	weighted  bool
	minWeight uint32
	stack     []frame
}

func newTraverser(arr Array, start uint64, order orderFunc, target []byte, weighted bool) *Traverser {
	t := &Traverser{arr: arr, order: order, target: target, weighted: weighted}

	kids := order(arr, start, 0, target, 0)
	t.stack = []frame{{kids: kids}}

	return t
}

// NewPlain traverses children in ascending label order (spec §4.7
// "Plain — label-sorted").
func NewPlain(arr Array, start uint64) *Traverser {
	return newTraverser(arr, start, orderPlain, nil, false)
}

// NewWeighted traverses children sorted by descending effective weight,
// label as tie-breaker, weights inherited from the nearest ancestor with
// an explicit weight (spec §4.7).
func NewWeighted(arr Array, start uint64) *Traverser {
	return newTraverser(arr, start, orderWeighted, nil, true)
}

// NewNear traverses children with the label matching target's next byte
// moved to the front, all others still visited in ascending label order
// (spec §4.7 "Near").
func NewNear(arr Array, start uint64, target []byte) *Traverser {
	return newTraverser(arr, start, orderNear, target, false)
}

func orderPlain(arr Array, state uint64, _ uint32, _ []byte, _ int) []child {
	trans := arr.OutTransitions(state, sparsearray.ScanScalar)

	out := make([]child, len(trans))
	for i, tr := range trans {
		out[i] = child{Label: tr.Label, Next: tr.Next}
	}

	return out
}

func effectiveWeight(arr Array, state uint64, parentWeight uint32) uint32 {
	if w := arr.InnerWeight(state); w != 0 {
		return w
	}

	return parentWeight
}

func orderWeighted(arr Array, state uint64, parentWeight uint32, _ []byte, _ int) []child {
	trans := arr.OutTransitions(state, sparsearray.ScanScalar)

	out := make([]child, len(trans))
	for i, tr := range trans {
		out[i] = child{Label: tr.Label, Next: tr.Next, Weight: effectiveWeight(arr, tr.Next, parentWeight)}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}

		return out[i].Label < out[j].Label
	})

	return out
}

func orderNear(arr Array, state uint64, _ uint32, target []byte, depth int) []child {
	trans := arr.OutTransitions(state, sparsearray.ScanScalar)

	var want byte

	hasWant := depth < len(target)
	if hasWant {
		want = target[depth]
	}

	out := make([]child, 0, len(trans))

	var exact *child

	for _, tr := range trans {
		c := child{Label: tr.Label, Next: tr.Next}

		if hasWant && tr.Label == want {
			c.Exact = true
			cc := c
			exact = &cc

			continue
		}

		out = append(out, c)
	}

	if exact != nil {
		out = append([]child{*exact}, out...)
	}

	return out
}

// AtEnd reports whether the traversal has visited every reachable
// state.
func (t *Traverser) AtEnd() bool {
	return len(t.stack) == 0
}

// Step advances to the next quadruple in DFS order, descending into it.
// Returns false once AtEnd would report true.
func (t *Traverser) Step() (Quad, bool) {
	for len(t.stack) > 0 {
		top := &t.stack[len(t.stack)-1]

		if top.idx >= len(top.kids) {
			t.stack = t.stack[:len(t.stack)-1]
			continue
		}

		c := top.kids[top.idx]
		top.idx++

		depth := len(t.stack)

		exactDepth := top.exactDepth
		if c.Exact && exactDepth == depth-1 {
			exactDepth = depth
		}

		kids := t.order(t.arr, c.Next, c.Weight, t.target, depth)
		if t.weighted && t.minWeight > 0 {
			kids = truncateByMinWeight(kids, t.minWeight)
		}

		t.stack = append(t.stack, frame{kids: kids, exactDepth: exactDepth})

		return Quad{Depth: depth, Label: c.Label, State: c.Next, Weight: c.Weight}, true
	}

	return Quad{}, false
}

// Prune abandons the subtree rooted at the most recently stepped-into
// state without visiting any of its children (spec §4.7 "prune pops a
// depth").
func (t *Traverser) Prune() {
	if len(t.stack) == 0 {
		return
	}

	t.stack = t.stack[:len(t.stack)-1]
}

// ExactDepth returns, for a Near traverser, the length of the longest
// prefix of target matched exactly by the path to the current depth.
// Always 0 for Plain/Weighted traversers.
func (t *Traverser) ExactDepth() int {
	if len(t.stack) == 0 {
		return 0
	}

	return t.stack[len(t.stack)-1].exactDepth
}

// SetMinWeight filters subtrees whose effective weight falls below w
// (spec §4.7, Weighted only). No-op on Plain/Near traversers.
func (t *Traverser) SetMinWeight(w uint32) {
	if !t.weighted {
		return
	}

	t.minWeight = w

	for i := range t.stack {
		t.stack[i].kids = truncateByMinWeight(t.stack[i].kids, w)
	}
}

// truncateByMinWeight drops every kid from the first one whose weight
// falls below w onward, relying on orderWeighted's descending-weight
// invariant: once one kid is below w, every kid after it is too.
func truncateByMinWeight(kids []child, w uint32) []child {
	for i, c := range kids {
		if c.Weight < w {
			return kids[:i]
		}
	}

	return kids
}
