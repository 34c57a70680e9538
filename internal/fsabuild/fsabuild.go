// Package fsabuild implements the register-of-unfinished-states
// minimal-DFA construction shared by the compiler (fresh key/value
// stream) and the merger (already N-way-merged key stream): callers
// feed it keys in non-decreasing lexicographic order, get back a
// mutable leaf State to fill in per their own value-encoding rules, and
// call Finish once the stream is exhausted.
//
// Grounded on pkg/slotcache/writer.go's single-writer buffered-session
// shape, same as the compiler package that originally carried this
// logic inline.
package fsabuild

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/KeyviDev/keyvi-sub001/internal/varint"
	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/lru"
	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/minhash"
	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/sparsearray"
)

// ErrOutOfOrder is returned when Leaf is called with a key less than
// the previous one.
var ErrOutOfOrder = errors.New("fsabuild: key out of order")

// Transition is one outgoing edge of an in-progress state. Weight is
// the target's already-aggregated effective weight (set when the
// target froze), not anything the caller supplies directly.
type Transition struct {
	Label  byte
	State  uint64
	Weight uint32
}

// State is a state still under construction: its transition set may
// still grow (if it sits above the common prefix of the current and
// next key) until it is frozen into the underlying sparse array.
//
// Weight/HasWeight are set by the caller to this state's own weight (if
// any, e.g. via an IntWeight value). freeze leaves them untouched on a
// final state, since a final state names a real key whose own weight
// must stay visible to readers; on a non-final state, which has no
// value of its own, freeze overwrites them with the state's effective
// weight — the max of its own weight and every transition's effective
// weight — before the state is placed. Either way InnerWeight on a
// non-final state always reflects the highest weight reachable at or
// below it (spec §3/§4.7), matching pkg/keyvi/traverser's
// weighted-traversal assumption, which inherits a final ancestor's own
// InnerWeight no differently than a non-final one's aggregate.
type State struct {
	Transitions []Transition
	Final       bool
	Handle      uint64
	Weight      uint32
	HasWeight   bool
}

// Builder runs the register-of-unfinished-states algorithm: reg[d]
// holds the state currently being built at depth d of the key being
// processed. When the next key's shared prefix with the previous key
// shortens past some depth, every state above that depth is frozen
// (deduplicated against the minimization register and placed into the
// sparse array) and attached as a transition from its parent.
type Builder struct {
	sa     *sparsearray.Builder
	states *lru.Generations // nil disables minimization

	reg     []*State
	prevKey []byte
	hasPrev bool

	numberOfStates uint64
}

// New constructs a Builder. states may be nil to disable state-level
// minimization (every state gets its own sparse-array slot).
func New(states *lru.Generations) *Builder {
	return &Builder{
		sa:     sparsearray.NewBuilder(),
		reg:    []*State{{}},
		states: states,
	}
}

// Leaf returns the in-progress state for key, freezing and attaching
// every register slot above the common prefix with the previously
// processed key first. key must be >= the previous key; equal keys
// return the same State as the previous call (callers needing
// last/first-wins or duplicate-rejection semantics must compare against
// that case themselves, e.g. by checking whether this is a repeat call
// for the same key before mutating the returned State).
func (b *Builder) Leaf(key []byte) (*State, error) {
	cmp := 0
	if b.hasPrev {
		cmp = bytes.Compare(key, b.prevKey)
	}

	if cmp < 0 {
		return nil, fmt.Errorf("%w: %q after %q", ErrOutOfOrder, key, b.prevKey)
	}

	lcp := commonPrefixLen(b.prevKey, key)

	for d := len(b.prevKey); d > lcp; d-- {
		frozen, weight := b.freeze(b.reg[d])
		b.attach(d-1, b.prevKey[d-1], frozen, weight)
		b.reg[d] = nil // slot is frozen; a later key reusing this depth needs a fresh state
	}

	if len(b.reg) < len(key)+1 {
		grown := make([]*State, len(key)+1)
		copy(grown, b.reg)
		b.reg = grown
	}

	for d := lcp; d < len(key); d++ {
		if b.reg[d+1] == nil {
			b.reg[d+1] = &State{}
		}
	}

	b.prevKey = append(b.prevKey[:0], key...)
	b.hasPrev = true

	return b.reg[len(key)], nil
}

// SameAsLastKey reports whether key equals the most recently passed key
// to Leaf, letting callers implement duplicate-key policies without
// retaining their own copy of the previous key.
func (b *Builder) SameAsLastKey(key []byte) bool {
	return b.hasPrev && bytes.Equal(b.prevKey, key)
}

// attach appends a transition from reg[depth] to child, labeled label,
// carrying child's effective weight so reg[depth]'s own aggregation in
// freeze can see it.
// The transition list stays in ascending label order as long as callers
// feed keys in ascending lexicographic order.
func (b *Builder) attach(depth int, label byte, child uint64, weight uint32) {
	st := b.reg[depth]
	st.Transitions = append(st.Transitions, Transition{Label: label, State: child, Weight: weight})
}

// Finish freezes the remaining register chain down to the root and
// returns the start state. The Builder must not be used afterward.
func (b *Builder) Finish() uint64 {
	for d := len(b.prevKey); d > 0; d-- {
		frozen, weight := b.freeze(b.reg[d])
		b.attach(d-1, b.prevKey[d-1], frozen, weight)
	}

	t, _ := b.freeze(b.reg[0])

	return t
}

// Array exposes the underlying sparse-array labels/buckets, valid
// immediately (frozen states are placed as soon as they freeze, not
// deferred to Finish).
func (b *Builder) Array() *sparsearray.Array {
	return &sparsearray.Array{Labels: b.sa.Labels, Buckets: b.sa.Buckets}
}

// NumberOfStates returns the count of distinct states placed so far.
func (b *Builder) NumberOfStates() uint64 { return b.numberOfStates }

// freeze finalizes st: computes the effective weight of the whole
// subtree rooted at st (its own weight, if any, maxed with every
// transition's already-effective weight) for the caller to attach to
// st's parent, then deduplicates and places st as before.
//
// A final state keeps its own Weight/HasWeight unchanged: it names a
// real key with its own declared weight, which must stay visible to a
// Complete query landing exactly on it (spec §8 scenario 2: "angel":22
// ranks below "angeli":24 despite "angelina":444 being reachable below
// "angel" — an aggregate would have erased the 22). Only a non-final
// state, which carries no value of its own, has Weight/HasWeight
// replaced by the aggregate, since that aggregate is the only value it
// has any business reporting as its InnerWeight.
func (b *Builder) freeze(st *State) (uint64, uint32) {
	effective := uint32(0)
	if st.HasWeight {
		effective = st.Weight
	}

	for _, tr := range st.Transitions {
		if tr.Weight > effective {
			effective = tr.Weight
		}
	}

	if !st.Final {
		st.Weight = effective
		st.HasWeight = effective != 0
	}

	if b.states != nil {
		hc := stateHash(st)

		if e, ok := b.states.Lookup(hc, b.stateEquals(st)); ok {
			return e.Offset, effective
		}

		t := b.place(st)
		b.states.Insert(hc, uint64(len(st.Transitions)), t)

		return t, effective
	}

	return b.place(st), effective
}

func (b *Builder) place(st *State) uint64 {
	labels := make([]byte, len(st.Transitions))
	trans := make([]sparsearray.Transition, len(st.Transitions))

	for i, tr := range st.Transitions {
		labels[i] = tr.Label
		trans[i] = sparsearray.Transition{Label: tr.Label, Next: tr.State}
	}

	var stateValueBytes []byte
	if st.Final {
		stateValueBytes = varint.Put(nil, st.Handle)
	}

	t := b.sa.FindSlot(labels)
	b.sa.PlaceState(t, trans, st.Final, stateValueBytes, st.Weight, st.HasWeight)
	b.numberOfStates++

	return t
}

// stateEquals returns a minhash.Comparator checking whether the
// already-placed state at a candidate offset is equivalent to st: same
// transitions (label and target), same accept/handle, same effective
// weight. It reads the candidate back out of the builder's own
// Labels/Buckets through a throwaway sparsearray.Array view, so dedup
// exercises the identical decode path a reader would use later.
func (b *Builder) stateEquals(st *State) minhash.Comparator {
	wantWeight := uint32(0)
	if st.HasWeight {
		wantWeight = st.Weight
	}

	return func(e minhash.Entry) bool {
		arr := b.Array()

		if arr.IsFinal(e.Offset) != st.Final {
			return false
		}

		if st.Final && arr.StateValue(e.Offset) != st.Handle {
			return false
		}

		if arr.InnerWeight(e.Offset) != wantWeight {
			return false
		}

		got := arr.OutTransitions(e.Offset, sparsearray.ScanScalar)
		if len(got) != len(st.Transitions) {
			return false
		}

		for i, tr := range st.Transitions {
			if got[i].Label != tr.Label || got[i].Next != tr.State {
				return false
			}
		}

		return true
	}
}

func stateHash(st *State) uint64 {
	h := fnv.New64a()

	var buf [8]byte

	for _, tr := range st.Transitions {
		h.Write([]byte{tr.Label}) //nolint:errcheck // hash.Hash64 never errors on Write

		binary.LittleEndian.PutUint64(buf[:], tr.State)
		h.Write(buf[:]) //nolint:errcheck
	}

	if st.Final {
		h.Write([]byte{1}) //nolint:errcheck

		binary.LittleEndian.PutUint64(buf[:], st.Handle)
		h.Write(buf[:]) //nolint:errcheck
	} else {
		h.Write([]byte{0}) //nolint:errcheck
	}

	weight := uint32(0)
	if st.HasWeight {
		weight = st.Weight
	}

	var wbuf [4]byte

	binary.LittleEndian.PutUint32(wbuf[:], weight)
	h.Write(wbuf[:]) //nolint:errcheck

	return h.Sum64()
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}

	return n
}
