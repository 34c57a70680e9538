// Package sparsearray implements the bit-exact on-disk transition table
// described in spec §3/§4.1: a label byte and a 16-bit bucket per cell,
// addressed as labels[state+c]/buckets[state+c] for a transition on byte
// c from state.
package sparsearray

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/KeyviDev/keyvi-sub001/internal/varint"
)

// Version is the only supported persistence format version. Spec §6:
// "Version 2 of the sparse-array format is the only supported variant;
// earlier versions must be rejected."
const Version = 2

// Header is the length-prefixed JSON record written immediately after the
// dictionary header (spec §6 item 3).
type Header struct {
	Version uint64 `json:"version"`
	Size    uint64 `json:"size"`
}

// EncodeHeader serializes h as a big-endian uint32 length followed by its
// JSON encoding.
func EncodeHeader(h Header) ([]byte, error) {
	body, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("sparsearray: marshal header: %w", err)
	}

	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)

	return out, nil
}

// DecodeHeader reads a length-prefixed JSON header from the start of buf
// and returns the header plus the number of bytes consumed.
func DecodeHeader(buf []byte) (Header, int, error) {
	if len(buf) < 4 {
		return Header{}, 0, fmt.Errorf("sparsearray: %w: header length prefix truncated", ErrTruncated)
	}

	n := binary.BigEndian.Uint32(buf)
	if uint64(len(buf)) < uint64(n)+4 {
		return Header{}, 0, fmt.Errorf("sparsearray: %w: header body truncated", ErrTruncated)
	}

	var h Header
	if err := json.Unmarshal(buf[4:4+n], &h); err != nil {
		return Header{}, 0, fmt.Errorf("sparsearray: %w: invalid header json: %v", ErrMalformed, err)
	}

	if h.Version != Version {
		return Header{}, 0, fmt.Errorf("sparsearray: %w: version %d", ErrUnsupportedVersion, h.Version)
	}

	return h, int(n) + 4, nil
}

// Array is a read-only view over a sparse array's two parallel regions.
// Labels and Buckets are typically slices of a memory-mapped segment file
// but may equally be plain heap slices (e.g. while the compiler is still
// building them, before the file exists).
type Array struct {
	Labels  []byte // one byte per cell
	Buckets []byte // two (little-endian) bytes per cell
}

// NumCells returns the number of addressable cells.
func (a *Array) NumCells() uint64 {
	return uint64(len(a.Labels))
}

// TryWalk follows the transition for label c from state. ok is false if
// there is no such transition ("no state", spec §7 — not an error).
func (a *Array) TryWalk(state uint64, c byte) (next uint64, ok bool) {
	idx := state + uint64(c)
	if idx >= a.NumCells() {
		return 0, false
	}

	if a.Labels[idx] != c {
		return 0, false
	}

	return ResolvePointer(a.Buckets, idx), true
}

// IsFinal reports whether state is an accepting state.
func (a *Array) IsFinal(state uint64) bool {
	idx := state + FinalOffsetTransition
	if idx >= a.NumCells() {
		return false
	}

	return a.Labels[idx] == FinalOffsetCode
}

// StateValue returns the varint-decoded value-store offset stored for an
// accepting state. Behavior is undefined (but safe) if state is not final.
func (a *Array) StateValue(state uint64) uint64 {
	idx := state + FinalOffsetTransition
	v, _, err := decodeVarintAt(a.Buckets, idx*2)
	if err != nil {
		return 0
	}

	return v
}

// InnerWeight returns the state's explicit weight, or 0 if it inherits
// its parent's weight.
func (a *Array) InnerWeight(state uint64) uint32 {
	idx := state + InnerWeightTransition
	if idx >= a.NumCells() || a.Labels[idx] != 0 {
		return 0
	}

	return uint32(leUint16(a.Buckets, idx*2))
}

// Transition is one outgoing transition enumerated by [Array.OutTransitions].
type Transition struct {
	Label byte
	Next  uint64
}

// OutTransitions enumerates, in ascending label order, every transition
// out of state. impl selects between the scalar and "wide" cell-scanning
// strategies of spec §4.1; both produce identical results.
func (a *Array) OutTransitions(state uint64, impl ScanImpl) []Transition {
	end := state + 256
	if end > a.NumCells() {
		end = a.NumCells()
	}

	if state >= end {
		return nil
	}

	var found []byte
	if impl == ScanWide {
		found = scanWide(a.Labels[state:end], byte(0))
	} else {
		found = scanScalar(a.Labels[state:end], byte(0))
	}

	out := make([]Transition, 0, len(found))
	for _, c := range found {
		idx := state + uint64(c)
		out = append(out, Transition{Label: c, Next: ResolvePointer(a.Buckets, idx)})
	}

	return out
}

func decodeVarintAt(buf []byte, off uint64) (uint64, int, error) {
	return varint.Get(buf[off:])
}
