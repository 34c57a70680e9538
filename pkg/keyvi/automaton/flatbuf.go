package automaton

import "fmt"

// flatBuf adapts a plain read-only byte slice (a window into the
// Automaton's single mmap) to [valuestore.Buf], so the same value-store
// decoders the compiler writes through can also read from a segment
// that was never chunked in the first place.
type flatBuf struct {
	data []byte
}

func newFlatBuf(data []byte) *flatBuf {
	return &flatBuf{data: data}
}

func (b *flatBuf) Size() int64 {
	return int64(len(b.data))
}

func (b *flatBuf) Buffer(offset int64, length int) []byte {
	end := offset + int64(length)
	if offset < 0 || end > int64(len(b.data)) {
		return nil
	}

	return b.data[offset:end]
}

func (b *flatBuf) Compare(offset int64, want []byte) bool {
	got := b.Buffer(offset, len(want))
	if got == nil {
		return false
	}

	return string(got) == string(want)
}

// Append always fails: the read side never writes. Decoders built by
// [buildDecoder] only call Decode, which never appends.
func (b *flatBuf) Append([]byte) (int64, error) {
	return 0, fmt.Errorf("automaton: flatBuf is read-only")
}
