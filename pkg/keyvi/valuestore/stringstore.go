package valuestore

import (
	"bytes"
	"fmt"
)

// scanChunk is the initial guess for how many bytes to read looking for
// a NUL terminator; it grows geometrically for long values.
const scanChunk = 64

// StringStore implements value_store_type=3: raw bytes plus a trailing
// NUL, found on decode by terminator search rather than a length prefix
// (spec §4.4: "the varint length encoding from §4.3 is replaced by
// terminator search").
type StringStore struct {
	buf  Buf
	opts Options
}

func NewStringStore(buf Buf, opts Options) *StringStore {
	return &StringStore{buf: buf, opts: opts}
}

func (s *StringStore) Type() Type { return StringType }

// AddValue appends value+NUL to the backing buffer, deduplicating via
// minimization when enabled, and reports whether minimization found an
// existing copy (the FsaCompiler uses this to decide whether a fresh
// write happened).
func (s *StringStore) AddValue(value string) (offset uint64, minimized bool, err error) {
	payload := append([]byte(value), 0)

	offset, minimized, err = minimizeAndAppend(s.buf, s.opts, payload)
	if err != nil {
		return 0, false, fmt.Errorf("valuestore: string store append: %w", err)
	}

	return offset, minimized, nil
}

// AddValueMerge copies an already-written string record from src verbatim
// and re-minimizes it against this store (spec §4.4 "add_value_merge").
func (s *StringStore) AddValueMerge(src Buf, srcOffset uint64) (offset uint64, minimized bool, err error) {
	payload, err := readCString(src, srcOffset)
	if err != nil {
		return 0, false, err
	}

	offset, minimized, err = minimizeAndAppend(s.buf, s.opts, payload)
	if err != nil {
		return 0, false, fmt.Errorf("valuestore: string store merge append: %w", err)
	}

	return offset, minimized, nil
}

// readCString returns the raw bytes of a NUL-terminated record,
// including the terminator.
func readCString(buf Buf, offset uint64) ([]byte, error) {
	size := scanChunk

	for {
		remaining := buf.Size() - int64(offset)
		if remaining <= 0 {
			return nil, fmt.Errorf("valuestore: offset %d out of range", offset)
		}

		readSize := size
		if int64(readSize) > remaining {
			readSize = int(remaining)
		}

		chunk := buf.Buffer(int64(offset), readSize)

		if idx := bytes.IndexByte(chunk, 0); idx >= 0 {
			return chunk[:idx+1], nil
		}

		if int64(readSize) == remaining {
			return nil, fmt.Errorf("valuestore: unterminated string at offset %d", offset)
		}

		size *= 2
	}
}

func (s *StringStore) Decode(offset uint64) (string, error) {
	withTerminator, err := readCString(s.buf, offset)
	if err != nil {
		return "", err
	}

	return string(withTerminator[:len(withTerminator)-1]), nil
}
