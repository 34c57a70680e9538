package fsabuild

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/lru"
)

// weighted adds key to b with weight w, matching how compiler.addValue
// fills in an IntWeight leaf: only the terminal state gets an explicit
// weight, every ancestor's weight is expected to come from aggregation.
func weighted(t *testing.T, b *Builder, key string, w uint32) {
	t.Helper()

	st, err := b.Leaf([]byte(key))
	require.NoError(t, err)

	st.Final = true
	st.Weight = w
	st.HasWeight = true
}

func TestInnerWeightAggregatesAcrossAncestors(t *testing.T) {
	b := New(nil)

	weighted(t, b, "aabc", 22)
	weighted(t, b, "bbbc", 22)
	weighted(t, b, "bbbd", 444)
	weighted(t, b, "cdabc", 22)
	weighted(t, b, "efdffd", 444)
	weighted(t, b, "xfdebc", 23)

	start := b.Finish()
	arr := b.Array()

	state := start

	for _, label := range []byte("bbb") {
		next, ok := arr.TryWalk(state, label)
		require.True(t, ok)

		state = next
	}

	require.Equal(t, uint32(444), arr.InnerWeight(state))

	root := arr.InnerWeight(start)
	require.Equal(t, uint32(444), root, "root must carry the max weight reachable below it")
}

func TestInnerWeightLeafWithNoWeightIsZero(t *testing.T) {
	b := New(nil)

	st, err := b.Leaf([]byte("a"))
	require.NoError(t, err)
	st.Final = true

	start := b.Finish()
	arr := b.Array()

	next, ok := arr.TryWalk(start, 'a')
	require.True(t, ok)
	require.Equal(t, uint32(0), arr.InnerWeight(next))
	require.Equal(t, uint32(0), arr.InnerWeight(start))
}

func TestInnerWeightDoesNotLeakAcrossSiblingSubtrees(t *testing.T) {
	b := New(nil)

	weighted(t, b, "aa", 5)
	weighted(t, b, "bb", 0)

	start := b.Finish()
	arr := b.Array()

	bState, ok := arr.TryWalk(start, 'b')
	require.True(t, ok)
	require.Equal(t, uint32(0), arr.InnerWeight(bState), "b-subtree must not see a's weight")

	aState, ok := arr.TryWalk(start, 'a')
	require.True(t, ok)
	require.Equal(t, uint32(5), arr.InnerWeight(aState))
}

// TestInnerWeightFinalStateKeepsOwnWeightDespiteHeavierDescendant mirrors
// spec §8 scenario 2's angel/angeli/angelina shape directly at the
// builder level: a final state ("angel") must report its own declared
// weight, not the heavier weight of a final descendant reachable below
// it ("angelina"), while that heavier weight must still be visible to
// a non-final ancestor further up (the root).
func TestInnerWeightFinalStateKeepsOwnWeightDespiteHeavierDescendant(t *testing.T) {
	b := New(nil)

	weighted(t, b, "angel", 22)
	weighted(t, b, "angeli", 24)
	weighted(t, b, "angelina", 444)

	start := b.Finish()
	arr := b.Array()

	angel := start
	for _, label := range []byte("angel") {
		next, ok := arr.TryWalk(angel, label)
		require.True(t, ok)

		angel = next
	}

	require.Equal(t, uint32(22), arr.InnerWeight(angel), "angel keeps its own weight")

	angeli, ok := arr.TryWalk(angel, 'i')
	require.True(t, ok)
	require.Equal(t, uint32(24), arr.InnerWeight(angeli), "angeli keeps its own weight")

	require.Equal(t, uint32(444), arr.InnerWeight(start), "root still sees angelina's weight through the final ancestors")
}

func TestInnerWeightWithMinimizationSharesEquivalentStates(t *testing.T) {
	states := lru.New(lru.ParamsFromBudget(1 << 16))
	b := New(states)

	weighted(t, b, "xa", 7)
	weighted(t, b, "ya", 7)

	start := b.Finish()
	arr := b.Array()

	xState, ok := arr.TryWalk(start, 'x')
	require.True(t, ok)

	yState, ok := arr.TryWalk(start, 'y')
	require.True(t, ok)

	xLeaf, ok := arr.TryWalk(xState, 'a')
	require.True(t, ok)

	yLeaf, ok := arr.TryWalk(yState, 'a')
	require.True(t, ok)

	require.Equal(t, xLeaf, yLeaf, "structurally identical weighted leaves should share a slot")
	require.Equal(t, uint32(7), arr.InnerWeight(xLeaf))
}
