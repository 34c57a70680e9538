package lru

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/minhash"
)

func TestParamsFromBudgetScalesUp(t *testing.T) {
	small := ParamsFromBudget(1 << 12)
	large := ParamsFromBudget(1 << 24)

	require.GreaterOrEqual(t, small.Generations, minGenerationsDefault)
	require.LessOrEqual(t, large.Generations, maxGenerationsDefault)
	require.Greater(t, large.MaxEntries, small.MaxEntries)
}

func TestInsertLookupPromotion(t *testing.T) {
	g := New(Params{Generations: 3, MaxEntries: 8})

	g.Insert(77, 4, 555)

	e, ok := g.Lookup(77, func(minhash.Entry) bool { return true })
	require.True(t, ok)
	require.Equal(t, uint64(555), e.Offset)
}

func TestRotationDropsOldest(t *testing.T) {
	g := New(Params{Generations: 2, MaxEntries: 2})

	g.Insert(1, 1, 100)
	g.Insert(2, 1, 200) // fills generation 0 (maxEntries=2)
	g.Insert(3, 1, 300) // rotates: 3 lands in a fresh newest generation, 1 and 2 move to the older one

	// The freshly inserted value is always found.
	e, ok := g.Lookup(3, func(minhash.Entry) bool { return true })
	require.True(t, ok)
	require.Equal(t, uint64(300), e.Offset)

	g.Insert(4, 1, 400) // fills the newest generation again
	g.Insert(5, 1, 500) // second rotation: the generation holding 1 and 2 is dropped

	_, ok = g.Lookup(1, func(minhash.Entry) bool { return true })
	require.False(t, ok)

	_, ok = g.Lookup(2, func(minhash.Entry) bool { return true })
	require.False(t, ok)

	e, ok = g.Lookup(5, func(minhash.Entry) bool { return true })
	require.True(t, ok)
	require.Equal(t, uint64(500), e.Offset)
}
