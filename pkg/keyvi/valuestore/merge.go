package valuestore

import (
	"fmt"

	"github.com/KeyviDev/keyvi-sub001/internal/varint"
)

// readRawRecord returns the exact on-disk bytes of a varint-framed
// record written by [appendTaggedRecord] (length prefix + compression
// byte + compressed payload), without decompressing it. Used by
// add_value_merge to copy records verbatim (spec §4.4).
func readRawRecord(buf Buf, offset uint64) ([]byte, error) {
	head := clampedRead(buf, int64(offset), varint.MaxLen)

	bodyLen, n, err := varint.Get(head)
	if err != nil {
		return nil, fmt.Errorf("valuestore: read length: %w", err)
	}

	total := n + int(bodyLen)

	return clampedRead(buf, int64(offset), total), nil
}

// AddValueMerge copies an already-written JSON record from src verbatim
// (preserving its compression byte) and re-minimizes it against this
// store.
func (s *JSONStore) AddValueMerge(src Buf, srcOffset uint64) (offset uint64, minimized bool, err error) {
	raw, err := readRawRecord(src, srcOffset)
	if err != nil {
		return 0, false, err
	}

	return minimizeAndAppend(s.buf, s.opts, raw)
}

// AddValueMerge copies an already-written float-vector record from src
// verbatim and re-minimizes it against this store. Callers must ensure
// src and dst share the same vector_size (spec §4.4); mismatches are the
// merger's responsibility to reject before calling this.
func (s *FloatVectorStore) AddValueMerge(src Buf, srcOffset uint64) (offset uint64, minimized bool, err error) {
	raw, err := readRawRecord(src, srcOffset)
	if err != nil {
		return 0, false, err
	}

	return minimizeAndAppend(s.buf, s.opts, raw)
}

// StreamAppend implements the "append merge" path (spec §4.4): the
// entirety of src is copied into dst with no re-minimization, and the
// offset every src-relative handle must be shifted by is returned.
// O(size), not O(records).
func StreamAppend(dst, src Buf) (shift int64, err error) {
	shift = dst.Size()

	var buf [1 << 16]byte

	var off int64
	for off < src.Size() {
		n := len(buf)
		if remaining := src.Size() - off; int64(n) > remaining {
			n = int(remaining)
		}

		chunk := src.Buffer(off, n)
		if _, err := dst.Append(chunk); err != nil {
			return 0, fmt.Errorf("valuestore: stream append: %w", err)
		}

		off += int64(n)
	}

	return shift, nil
}
