// Package lru implements the "LRU of generations" equivalence cache that
// wraps a ring of [minhash.Hash] tables to bound minimization memory while
// preserving recency (spec §4.2 "Generation discipline").
package lru

import "github.com/KeyviDev/keyvi-sub001/pkg/keyvi/minhash"

// overheadNumerator/overheadDenominator approximate the bytes-per-entry cost
// of a generation once its overflow table (one quarter of the primary,
// per spec §4.2) is accounted for: primary + primary/4 entries, 24 bytes
// each, amortized over the primary's entry count.
const (
	entryBytes             = 24
	overheadNumerator      = 5 // 1 (primary slot) + 1/4 (amortized overflow)
	overheadDenominator    = 4
	minGenerationsDefault  = 3
	maxGenerationsDefault  = 10
)

// Generations is a ring of G hash tables, newest first. Lookups scan
// newest-to-oldest and promote hits into the newest generation; inserts
// always land in the newest generation; when the newest generation fills,
// a fresh one is allocated and the oldest is dropped.
type Generations struct {
	gens       []*minhash.Hash // gens[0] is newest
	maxEntries uint64
	count      uint64 // entries successfully inserted into gens[0] so far

	// OnRotate, if set, is called every time the newest generation fills
	// and the oldest is dropped. Callers use it to log the degradation
	// (older equivalence candidates become unreachable) without this
	// package taking a logging dependency itself.
	OnRotate func()
}

// Params is the computed (generations, max_entries) sizing for a memory
// budget, per spec §4.2: "G and max_entries are picked so the memory
// budget is filled with max_entries at the largest prime that still fits
// G copies."
type Params struct {
	Generations int
	MaxEntries  uint64
}

// ParamsFromBudget computes sizing parameters for a given memory budget
// in bytes, searching generation counts in [minGenerationsDefault,
// maxGenerationsDefault] for the combination that maximizes max_entries
// (the largest prime-sized primary table whose G copies still fit).
func ParamsFromBudget(budgetBytes uint64) Params {
	best := Params{Generations: minGenerationsDefault, MaxEntries: 2}

	for g := minGenerationsDefault; g <= maxGenerationsDefault; g++ {
		perGen := budgetBytes / uint64(g)
		rawEntries := perGen * overheadDenominator / (entryBytes * overheadNumerator)

		if rawEntries < 2 {
			rawEntries = 2
		}

		entries := prevPrime(rawEntries)
		if entries > best.MaxEntries {
			best = Params{Generations: g, MaxEntries: entries}
		}
	}

	return best
}

// New creates a Generations ring from explicit parameters. Use
// [ParamsFromBudget] to derive them from a memory limit.
func New(p Params) *Generations {
	if p.Generations < 1 {
		p.Generations = 1
	}

	gens := make([]*minhash.Hash, p.Generations)
	for i := range gens {
		gens[i] = minhash.New(p.MaxEntries)
	}

	return &Generations{gens: gens, maxEntries: p.MaxEntries}
}

// Lookup scans every generation, newest to oldest, and promotes a hit
// into the newest generation before returning it.
func (g *Generations) Lookup(hashCode uint64, cmp minhash.Comparator) (minhash.Entry, bool) {
	for i, gen := range g.gens {
		e, ok := gen.Lookup(hashCode, cmp)
		if !ok {
			continue
		}

		if i != 0 {
			g.insertNewest(e.HashCode, e.Length, e.Offset)
		}

		return e, true
	}

	return minhash.Entry{}, false
}

// Insert adds a new (hashCode, length, offset) triple to the newest
// generation, rotating generations first if the newest is full.
func (g *Generations) Insert(hashCode, length, offset uint64) {
	if g.count >= g.maxEntries {
		g.rotate()
	}

	g.insertNewest(hashCode, length, offset)
}

func (g *Generations) insertNewest(hashCode, length, offset uint64) {
	if g.gens[0].Insert(hashCode, length, offset) {
		g.count++
	}
}

// rotate allocates a fresh newest generation and discards the oldest.
func (g *Generations) rotate() {
	fresh := minhash.New(g.maxEntries)

	copy(g.gens[1:], g.gens[:len(g.gens)-1])
	g.gens[0] = fresh
	g.count = 0

	if g.OnRotate != nil {
		g.OnRotate()
	}
}

func prevPrime(n uint64) uint64 {
	if n < 2 {
		return 2
	}

	for candidate := n; candidate >= 2; candidate-- {
		if isPrime(candidate) {
			return candidate
		}
	}

	return 2
}

func isPrime(n uint64) bool {
	if n < 2 {
		return false
	}

	if n%2 == 0 {
		return n == 2
	}

	for i := uint64(3); i*i <= n; i += 2 {
		if n%i == 0 {
			return false
		}
	}

	return true
}
