package sparsearray

import "github.com/KeyviDev/keyvi-sub001/internal/varint"

// CompactSizeWindow recentres small negative offsets into nonnegative
// bucket values for the two relative pointer encodings. Fixed at 512,
// end to end, on both the read and write sides (see spec §3 and the
// corresponding decision in DESIGN.md).
const CompactSizeWindow = 512

// FinalOffsetTransition is the reserved, out-of-band transition slot
// (relative to a state) whose label cell carries [FinalOffsetCode] when
// the state is accepting. It is addressed the same way a real transition
// is (state + offset into labels/buckets) but 256 can never collide with
// a real label byte, which only ranges over 0..255.
const FinalOffsetTransition = 256

// InnerWeightTransition is the reserved transition slot carrying a
// state's explicit inner weight. Presence is signalled by a zero label
// byte, per spec §3.
const InnerWeightTransition = 257

// ReservedSlots is the number of extra label/bucket cells every placed
// state reserves beyond its real outgoing transitions.
const ReservedSlots = 2

const (
	// FinalOffsetCode is written to labels[s+FinalOffsetTransition] when a
	// state is accepting.
	FinalOffsetCode byte = 0x01

	// freeCellFill is written to reserved cells that are not "set" (a
	// non-accepting state's final slot, a state with no explicit inner
	// weight). It must never equal FinalOffsetCode or 0x00, since both of
	// those are meaningful sentinels elsewhere.
	freeCellFill byte = 0xFE
)

// pointer tag bits occupy the top two bits of the little-endian uint16
// bucket cell.
const (
	tagMask       = 0xC000
	tagAbsolute   = 0xC000 // 0b11xxxxxxxxxxxxxx
	tagOverflow   = 0x8000 // 0b10xxxxxxxxxxxxxx
	tagDirectMask = 0x8000 // top bit clear => direct relative
)

// ResolvePointer decodes the transition target encoded at buckets[(s+c)*2:],
// given the physical cell index (s+c) it lives at. buf is the raw byte
// view of the buckets region (2 bytes per cell, little-endian).
func ResolvePointer(buf []byte, cellIndex uint64) uint64 {
	pt := leUint16(buf, cellIndex*2)

	switch {
	case pt&tagMask == tagAbsolute:
		return uint64(pt & 0x3FFF)

	case pt&tagMask == tagOverflow:
		p := uint64(pt & 0x3FFF)
		bucketOffset := p >> 4
		frag := p & 0xF

		overflowCell := bucketOffset + cellIndex - CompactSizeWindow
		v, _, err := varint.Get(buf[overflowCell*2:])
		if err != nil {
			return 0
		}

		value := (v << 3) | (frag & 0x7)
		if frag&0x8 != 0 {
			// relative
			return cellIndex - value + CompactSizeWindow
		}

		return value

	default:
		// Direct relative: top bit is 0, the full 15 bits are the value.
		p := uint64(pt)
		return cellIndex - p + CompactSizeWindow
	}
}

// EncodeDirect tries to encode a transition to target at cell cellIndex
// using one of the two compact (non-overflow) forms. Returns false if
// neither form can represent target exactly, in which case the caller
// must fall back to [EncodeOverflow].
func EncodeDirect(buf []byte, cellIndex, target uint64) bool {
	// Direct relative: next = cellIndex - pt + window  =>  pt = cellIndex - next + window
	rel := int64(cellIndex) - int64(target) + CompactSizeWindow
	if rel >= 0 && rel <= 0x7FFF {
		putLeUint16(buf, cellIndex*2, uint16(rel))
		return true
	}

	// Absolute, low 14 bits.
	if target <= 0x3FFF {
		putLeUint16(buf, cellIndex*2, uint16(tagAbsolute|target))
		return true
	}

	return false
}

// OverflowEncoding describes the varint payload (and its length) that
// [EncodeOverflow] must write into a free cell, computed ahead of
// allocation so the compiler's state placement can reserve exactly
// enough contiguous bytes.
type OverflowEncoding struct {
	Varint   []byte
	Relative bool
}

// PlanOverflow computes the varint payload for an overflow pointer from
// cellIndex to target, preferring the relative form (smaller varint for
// nearby targets) and falling back to absolute.
func PlanOverflow(cellIndex, target uint64) OverflowEncoding {
	relValue := int64(cellIndex) - int64(target) + CompactSizeWindow

	if relValue >= 0 {
		v := uint64(relValue)
		return OverflowEncoding{Varint: varint.Put(nil, v>>3), Relative: true}
	}

	return OverflowEncoding{Varint: varint.Put(nil, target>>3), Relative: false}
}

// EncodeOverflow writes the overflow-indirection transition cell at
// cellIndex, pointing at overflowCell (already allocated by the caller
// with at least len(enc.Varint) free bytes from overflowCell*2). The
// cell's 4-bit fragment carries the low 3 bits of the pointer value that
// the varint omits, with bit 3 set for the relative form.
func EncodeOverflow(buf []byte, cellIndex, overflowCell uint64, cellTarget uint64, enc OverflowEncoding) {
	var frag uint64

	if enc.Relative {
		rel := uint64(int64(cellIndex) - int64(cellTarget) + CompactSizeWindow)
		frag = (rel & 0x7) | 0x8
	} else {
		frag = cellTarget & 0x7
	}

	bucketOffset := overflowCell - cellIndex + CompactSizeWindow
	p := (bucketOffset << 4) | frag
	putLeUint16(buf, cellIndex*2, uint16(tagOverflow|(p&0x3FFF)))

	copy(buf[overflowCell*2:], enc.Varint)
}

func leUint16(buf []byte, off uint64) uint16 {
	return uint16(buf[off]) | uint16(buf[off+1])<<8
}

func putLeUint16(buf []byte, off uint64, v uint16) {
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
}
