// Package minhash implements the equivalence hash used by the FSA
// compiler to find previously-placed states (or previously-written value
// records) with the same content, so they can be reused instead of
// duplicated (spec §4.2).
//
// The hash never owns the content it indexes — callers identify entries
// by an opaque offset (into the sparse array or a value store) plus a
// hash code and length, and supply a [Comparator] to resolve the rare
// hash collision against the real content.
package minhash

// Entry is the 24-byte logical record described in spec §4.2: an
// already-placed item's location, the hash code and length used to find
// it, and a chain link to the next candidate with the same bucket.
type Entry struct {
	Offset   uint64
	HashCode uint64
	Length   uint64

	// cookie is 1 + the overflow-table index of the next entry in this
	// bucket's chain, or 0 if this is the chain's end.
	cookie uint32
}

// maxChainLen bounds how many entries a single bucket chain (its primary
// slot plus overflow links) may hold before inserts are dropped. Minimization is best-effort (spec §7):
// dropping a candidate only means a future identical state/value isn't
// deduplicated, never a correctness issue.
const maxChainLen = 8

// Comparator resolves a hash-code match against the real content an
// Entry refers to. Implementations typically compare length first (for
// free), then the stored bytes at Entry.Offset.
type Comparator func(Entry) bool

// Hash is an open-addressed hash table with a secondary overflow array
// for chaining, per spec §4.2.
type Hash struct {
	primary  []Entry // bucket = hashCode % len(primary); zero value = empty
	occupied []bool  // primary[i] is in use (needed since Entry's zero value is a valid hash code 0)

	overflow    []Entry
	overflowLen int // next free overflow slot
}

// New returns a Hash whose primary table is sized to the smallest prime
// at least as large as minPrimary, and whose overflow table is one
// quarter of that size (spec §4.2), as used by [LRU generation sizing].
func New(minPrimary uint64) *Hash {
	size := nextPrime(minPrimary)

	return &Hash{
		primary:  make([]Entry, size),
		occupied: make([]bool, size),
		overflow: make([]Entry, size/4+1),
	}
}

// Cap returns the primary table size (the generation's "max_entries").
func (h *Hash) Cap() uint64 {
	return uint64(len(h.primary))
}

// Lookup searches every entry whose hash code maps to hashCode's bucket,
// calling cmp on each candidate until cmp returns true. Returns the
// matching entry and true, or the zero Entry and false.
func (h *Hash) Lookup(hashCode uint64, cmp Comparator) (Entry, bool) {
	bucket := hashCode % uint64(len(h.primary))

	if h.occupied[bucket] {
		e := h.primary[bucket]
		if e.HashCode == hashCode && cmp(e) {
			return e, true
		}

		cookie := e.cookie
		for cookie != 0 {
			oe := h.overflow[cookie-1]
			if oe.HashCode == hashCode && cmp(oe) {
				return oe, true
			}

			cookie = oe.cookie
		}
	}

	return Entry{}, false
}

// Insert adds a new entry for (hashCode, length, offset). Returns false
// if the bucket's chain has already hit [maxChainLen]; the caller should
// treat this as a silent degrade (spec §7), never an error.
func (h *Hash) Insert(hashCode, length, offset uint64) bool {
	bucket := hashCode % uint64(len(h.primary))

	if !h.occupied[bucket] {
		h.occupied[bucket] = true
		h.primary[bucket] = Entry{Offset: offset, HashCode: hashCode, Length: length}

		return true
	}

	// Walk the existing chain to find its length and tail.
	chainLen := 1
	tailIdx := -1 // -1 means the tail is primary[bucket]
	cookie := h.primary[bucket].cookie

	for cookie != 0 {
		chainLen++
		tailIdx = int(cookie - 1)
		cookie = h.overflow[tailIdx].cookie
	}

	if chainLen >= maxChainLen {
		return false
	}

	if h.overflowLen >= len(h.overflow) {
		// Overflow table exhausted: best-effort degrade, drop silently.
		return false
	}

	newIdx := h.overflowLen
	h.overflow[newIdx] = Entry{Offset: offset, HashCode: hashCode, Length: length}
	h.overflowLen++

	if tailIdx == -1 {
		e := h.primary[bucket]
		e.cookie = uint32(newIdx + 1)
		h.primary[bucket] = e
	} else {
		e := h.overflow[tailIdx]
		e.cookie = uint32(newIdx + 1)
		h.overflow[tailIdx] = e
	}

	return true
}

// nextPrime returns the smallest prime number >= n (n >= 1).
func nextPrime(n uint64) uint64 {
	if n < 2 {
		return 2
	}

	for candidate := n; ; candidate++ {
		if isPrime(candidate) {
			return candidate
		}
	}
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
