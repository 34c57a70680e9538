package sparsearray

// Builder is the write-side counterpart of [Array]: an append-only,
// growable labels/buckets pair plus the free-cell bookkeeping the
// compiler's state placement needs (spec §4.1 "Write path").
//
// Builder is not safe for concurrent use; the compiler is single-writer
// (spec §5).
type Builder struct {
	Labels  []byte
	Buckets []byte

	// free tracks, for every already-allocated cell, whether it is still
	// unclaimed by any state's reserved slot. Cells beyond len(free) are
	// implicitly free and will be grown into on demand.
	free []bool

	// bump is the lowest cell index that might still be free; placement
	// search never looks below it.
	bump uint64
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Len returns the number of cells currently allocated.
func (b *Builder) Len() uint64 {
	return uint64(len(b.Labels))
}

// ensure grows the backing slices so that cell index idx is addressable.
func (b *Builder) ensure(idx uint64) {
	if idx < uint64(len(b.Labels)) {
		return
	}

	newLen := idx + 1

	grownLabels := make([]byte, newLen)
	copy(grownLabels, b.Labels)

	for i := range grownLabels[len(b.Labels):] {
		grownLabels[len(b.Labels)+i] = freeCellFill
	}

	b.Labels = grownLabels

	grownBuckets := make([]byte, newLen*2)
	copy(grownBuckets, b.Buckets)
	b.Buckets = grownBuckets

	grownFree := make([]bool, newLen)
	copy(grownFree, b.free)

	for i := len(b.free); i < len(grownFree); i++ {
		grownFree[i] = true
	}

	b.free = grownFree
}

func (b *Builder) isFree(idx uint64) bool {
	if idx >= uint64(len(b.free)) {
		return true
	}

	return b.free[idx]
}

// FindSlot returns the smallest cell offset t such that every label in
// labels (plus the two reserved sentinel slots) can be placed at t+label
// without colliding with an already-claimed cell. This is the state
// placement search of spec §4.1/§4.5.
func (b *Builder) FindSlot(labels []byte) uint64 {
	needed := make([]uint64, 0, len(labels)+ReservedSlots)
	for _, c := range labels {
		needed = append(needed, uint64(c))
	}

	needed = append(needed, FinalOffsetTransition, InnerWeightTransition)

	for t := b.bump; ; t++ {
		ok := true

		for _, off := range needed {
			if !b.isFree(t + off) {
				ok = false
				break
			}
		}

		if ok {
			return t
		}
	}
}

// PlaceState claims the reserved slots and every (label, target) transition
// at offset t, writing the compact pointer encoding for each target and
// falling back to an overflow bucket (found via [Builder.findOverflowSlot])
// when the compact forms don't fit. final indicates whether the state is
// accepting; stateValueBytes and weight are ignored unless final/weight
// apply, matching spec §3.
func (b *Builder) PlaceState(t uint64, transitions []Transition, final bool, stateValueBytes []byte, weight uint32, hasWeight bool) {
	maxOff := uint64(FinalOffsetTransition)
	for _, tr := range transitions {
		if uint64(tr.Label) > maxOff {
			maxOff = uint64(tr.Label)
		}
	}

	if InnerWeightTransition > maxOff {
		maxOff = InnerWeightTransition
	}

	b.ensure(t + maxOff + 1)

	for _, tr := range transitions {
		idx := t + uint64(tr.Label)
		b.claim(idx)
		b.Labels[idx] = tr.Label

		if !EncodeDirect(b.Buckets, idx, tr.Next) {
			enc := PlanOverflow(idx, tr.Next)
			slot := b.findOverflowSlot(idx, len(enc.Varint))
			EncodeOverflow(b.Buckets, idx, slot, tr.Next, enc)
		}
	}

	finalIdx := t + FinalOffsetTransition
	b.claim(finalIdx)

	if final {
		b.Labels[finalIdx] = FinalOffsetCode
		copy(b.Buckets[finalIdx*2:], stateValueBytes)
	} else {
		b.Labels[finalIdx] = freeCellFill
	}

	weightIdx := t + InnerWeightTransition
	b.claim(weightIdx)

	if hasWeight {
		b.Labels[weightIdx] = 0
		putLeUint16(b.Buckets, weightIdx*2, uint16(weight))
	} else {
		b.Labels[weightIdx] = freeCellFill
	}

	b.advanceBump()
}

// claim marks idx as no longer free, growing the array if needed.
func (b *Builder) claim(idx uint64) {
	b.ensure(idx)
	b.free[idx] = false
}

// findOverflowSlot finds n contiguous free cells within
// [CompactSizeWindow] of around, used to store an overflow varint. It
// prefers the cell immediately following around and scans outward.
func (b *Builder) findOverflowSlot(around uint64, n int) uint64 {
	for delta := uint64(1); delta < CompactSizeWindow; delta++ {
		candidate := around + delta
		if b.contiguousFree(candidate, n) {
			return candidate
		}

		if delta <= around {
			candidate = around - delta
			if b.contiguousFree(candidate, n) {
				return candidate
			}
		}
	}

	// Fall back to appending past the end; always free.
	return b.Len()
}

func (b *Builder) contiguousFree(start uint64, n int) bool {
	for i := 0; i < n; i++ {
		if !b.isFree(start + uint64(i)) {
			return false
		}
	}

	for i := 0; i < n; i++ {
		b.claim(start + uint64(i))
	}

	return true
}

// advanceBump moves the bump pointer past any leading run of claimed
// cells, keeping later FindSlot calls from rescanning known-full prefix.
func (b *Builder) advanceBump() {
	for b.bump < uint64(len(b.free)) && !b.free[b.bump] {
		b.bump++
	}
}
