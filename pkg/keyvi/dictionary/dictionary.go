// Package dictionary implements the single-file segment layout of spec
// §6: magic bytes, a header JSON record, the sparse-array header and its
// two regions, and an optional value-store header plus payload.
//
// It owns the on-disk TOC ("table of contents") that the Automaton
// (pkg/keyvi/automaton) mmaps and slices; this package only deals in
// plain []byte/io.Reader, leaving the mmap decision to the caller.
package dictionary

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/sparsearray"
)

// Magic is the fixed 8-byte signature at the start of every segment file.
const Magic = "KEYVIFSA"

// MinVersion is the lowest header.version this reader accepts.
const MinVersion = 1

var (
	// ErrMalformed indicates bad magic bytes or invalid header JSON.
	ErrMalformed = errors.New("dictionary: malformed")
	// ErrUnsupportedVersion indicates header.version < MinVersion.
	ErrUnsupportedVersion = errors.New("dictionary: unsupported version")
	// ErrTruncated indicates the file ends before a declared region does.
	ErrTruncated = errors.New("dictionary: truncated")
)

// Header is the item-2 record of spec §6's file layout.
type Header struct {
	Version        uint64 `json:"version"`
	StartState     uint64 `json:"start_state"`
	NumberOfKeys    uint64 `json:"number_of_keys"`
	ValueStoreType int    `json:"value_store_type"`
	NumberOfStates uint64 `json:"number_of_states"`
	Manifest       string `json:"manifest,omitempty"`
}

// ValueStoreHeader is the optional item-6 record of spec §6's file
// layout, present whenever value_store_type != key-only.
type ValueStoreHeader struct {
	Size         uint64 `json:"size"`
	Values       uint64 `json:"values"`
	UniqueValues uint64 `json:"unique_values"`
	Compression  string `json:"__compression"`

	// VectorSize is the fixed per-segment dimension for value_store_type=7
	// (float-vector); spec §6 notes the word count "is implied by segment
	// parameter" without saying where that parameter is persisted, so it
	// rides along in this header. Zero/omitted for every other type.
	VectorSize int `json:"vector_size,omitempty"`
}

// writeLengthPrefixedJSON writes v as a big-endian uint32 length
// followed by its JSON encoding, the record framing shared by every
// header in the file (spec §6 items 2/3/6).
func writeLengthPrefixedJSON(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("dictionary: marshal: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("dictionary: write length: %w", err)
	}

	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("dictionary: write body: %w", err)
	}

	return nil
}

// WriteSegment streams a complete segment file to w in the order spec §6
// requires: magic, header, sparse-array header, labels, buckets,
// optional value-store header, value-store payload.
func WriteSegment(w io.Writer, header Header, arr *sparsearray.Array, vsHeader *ValueStoreHeader, valueStore io.Reader) error {
	if _, err := io.WriteString(w, Magic); err != nil {
		return fmt.Errorf("dictionary: write magic: %w", err)
	}

	if err := writeLengthPrefixedJSON(w, header); err != nil {
		return err
	}

	arrHeader := sparsearray.Header{Version: sparsearray.Version, Size: uint64(len(arr.Labels))}
	if err := writeLengthPrefixedJSON(w, arrHeader); err != nil {
		return err
	}

	if _, err := w.Write(arr.Labels); err != nil {
		return fmt.Errorf("dictionary: write labels: %w", err)
	}

	if _, err := w.Write(arr.Buckets); err != nil {
		return fmt.Errorf("dictionary: write buckets: %w", err)
	}

	if vsHeader == nil {
		return nil
	}

	if err := writeLengthPrefixedJSON(w, vsHeader); err != nil {
		return err
	}

	if valueStore != nil {
		if _, err := io.Copy(w, valueStore); err != nil {
			return fmt.Errorf("dictionary: write value store payload: %w", err)
		}
	}

	return nil
}
