package traverser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/sparsearray"
)

// buildTrie builds a minimal (unminimized) trie over words, assigning
// each final state an InnerWeight taken from weights (matched by
// index), for exercising Plain/Weighted/Near/Fuzzy/Complete without a
// full compiler.
func buildTrie(t *testing.T, words []string, weights []uint32) (*sparsearray.Array, uint64) {
	t.Helper()

	type node struct {
		children map[byte]*node
		final    bool
		weight   uint32
	}

	root := &node{children: map[byte]*node{}}

	for i, w := range words {
		cur := root
		for _, c := range []byte(w) {
			next, ok := cur.children[c]
			if !ok {
				next = &node{children: map[byte]*node{}}
				cur.children[c] = next
			}

			cur = next
		}

		cur.final = true
		if weights != nil {
			cur.weight = weights[i]
		}
	}

	// Inner weight is stored as the max weight reachable at or below the
	// state (the real keyvi convention), so a one-level lookahead during
	// weighted traversal is enough to order subtrees correctly. A final
	// state keeps its own declared weight, though — it names a real key,
	// and a descendant's higher weight must not erase it — so only a
	// non-final state's weight gets replaced by the aggregate. Either
	// way the aggregate (own weight if final, else 0, maxed with every
	// child's aggregate) is what's returned for the parent to fold in.
	var subtreeMax func(n *node) uint32
	subtreeMax = func(n *node) uint32 {
		agg := uint32(0)
		if n.final {
			agg = n.weight
		}

		for _, c := range n.children {
			if w := subtreeMax(c); w > agg {
				agg = w
			}
		}

		if !n.final {
			n.weight = agg
		}

		return agg
	}
	subtreeMax(root)

	b := sparsearray.NewBuilder()

	var place func(n *node) uint64
	place = func(n *node) uint64 {
		labels := make([]byte, 0, len(n.children))
		for c := range n.children {
			labels = append(labels, c)
		}

		placed := make([]sparsearray.Transition, 0, len(n.children))
		for _, c := range labels {
			child := n.children[c]
			placed = append(placed, sparsearray.Transition{Label: c, Next: place(child)})
		}

		slot := b.FindSlot(labels)
		b.PlaceState(slot, placed, n.final, nil, n.weight, n.weight != 0)

		return slot
	}

	start := place(root)
	arr := &sparsearray.Array{Labels: b.Labels, Buckets: b.Buckets}

	return arr, start
}

func collectPlain(arr *sparsearray.Array, start uint64) []string {
	tr := NewPlain(arr, start)

	var path []byte

	var out []string

	for {
		q, ok := tr.Step()
		if !ok {
			break
		}

		path = append(path[:q.Depth-1], q.Label)

		if arr.IsFinal(q.State) {
			out = append(out, string(append([]byte{}, path...)))
		}
	}

	return out
}

func TestPlainTraverserVisitsInLabelOrder(t *testing.T) {
	arr, start := buildTrie(t, []string{"bee", "ant", "ax"}, nil)

	require.Equal(t, []string{"ant", "ax", "bee"}, collectPlain(arr, start))
}

func TestPlainTraverserPrune(t *testing.T) {
	arr, start := buildTrie(t, []string{"ant", "ax", "bee"}, nil)

	tr := NewPlain(arr, start)

	var visited []byte

	for {
		q, ok := tr.Step()
		if !ok {
			break
		}

		visited = append(visited, q.Label)

		if q.Depth == 1 && q.Label == 'a' {
			tr.Prune()
		}
	}

	require.Equal(t, []byte{'a', 'b', 'e', 'e'}, visited)
}

func TestWeightedTraverserOrdersByEffectiveWeight(t *testing.T) {
	arr, start := buildTrie(t, []string{"ant", "ax", "bee"}, []uint32{5, 9, 1})

	tr := NewWeighted(arr, start)

	var order []byte

	for {
		q, ok := tr.Step()
		if !ok {
			break
		}

		if q.Depth == 1 {
			order = append(order, q.Label)
		}
	}

	// "ax" (weight 9) and "ant" (weight 5) both hang off the 'a' child,
	// so the root's two first-level children are ordered by whichever
	// subtree has the heavier descendant: 'a' (max 9) before 'b' (1).
	require.Equal(t, []byte{'a', 'b'}, order)
}

func TestWeightedTraverserSetMinWeightPrunesLightSubtrees(t *testing.T) {
	arr, start := buildTrie(t, []string{"ant", "ax", "bee"}, []uint32{5, 9, 1})

	tr := NewWeighted(arr, start)
	tr.SetMinWeight(5)

	var finals []string

	var path []byte

	for {
		q, ok := tr.Step()
		if !ok {
			break
		}

		path = append(path[:q.Depth-1], q.Label)

		if arr.IsFinal(q.State) {
			finals = append(finals, string(append([]byte{}, path...)))
		}
	}

	require.ElementsMatch(t, []string{"ant", "ax"}, finals)
}

func TestNearTraverserPutsExactLabelFirst(t *testing.T) {
	arr, start := buildTrie(t, []string{"ant", "ax", "bee"}, nil)

	tr := NewNear(arr, start, []byte("bx"))

	q, ok := tr.Step()
	require.True(t, ok)
	require.Equal(t, byte('b'), q.Label)
	require.Equal(t, 1, tr.ExactDepth())
}

func TestFuzzyTraverserRespectsMaxDistance(t *testing.T) {
	arr, start := buildTrie(t, []string{"cat", "car", "dog"}, nil)

	ft := NewFuzzy(arr, start, []byte("cat"), 1)

	found := map[string]bool{}

	var path []byte

	for {
		q, ok := ft.Step()
		if !ok {
			break
		}

		path = append(path[:q.Depth-1], q.Label)

		if arr.IsFinal(q.State) {
			found[string(append([]byte{}, path...))] = true
		}
	}

	require.True(t, found["cat"])
	require.True(t, found["car"])
	require.False(t, found["dog"])
}

func TestFuzzyTraverserExactMatchHasZeroDistance(t *testing.T) {
	arr, start := buildTrie(t, []string{"cat"}, nil)

	ft := NewFuzzy(arr, start, []byte("cat"), 0)

	var last Quad

	var lastDistance int

	for {
		q, ok := ft.Step()
		if !ok {
			break
		}

		last = q
		lastDistance = ft.Distance()
	}

	require.Equal(t, 3, last.Depth)
	require.Equal(t, 0, lastDistance)
}

func TestCompleteRanksByWeightAndBoundsResults(t *testing.T) {
	arr, start := buildTrie(t, []string{"ant", "ax", "axe", "bee"}, []uint32{5, 9, 2, 1})

	results, ok := Complete(arr, start, []byte("a"), 2)
	require.True(t, ok)
	require.Len(t, results, 2)

	require.Equal(t, "x", string(results[0].Suffix))
	require.Equal(t, uint32(9), results[0].Weight)

	require.Equal(t, "nt", string(results[1].Suffix))
	require.Equal(t, uint32(5), results[1].Weight)
}

func TestCompleteIncludesPrefixItselfWhenStoredAsAKey(t *testing.T) {
	words := []string{"angel", "angeli", "angelina", "angela merkel", "angela merk", "angelo merk"}
	weights := []uint32{22, 24, 444, 200, 180, 10}

	arr, start := buildTrie(t, words, weights)

	results, ok := Complete(arr, start, []byte("angel"), 5)
	require.True(t, ok)
	require.Len(t, results, 5)

	require.Equal(t, "", string(results[4].Suffix))
	require.Equal(t, uint32(22), results[4].Weight)
}

func TestCompleteNoMatchingPrefix(t *testing.T) {
	arr, start := buildTrie(t, []string{"ant"}, nil)

	_, ok := Complete(arr, start, []byte("zzz"), 10)
	require.False(t, ok)
}
