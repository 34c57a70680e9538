package dictionary

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/sparsearray"
	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/valuestore"
)

// Properties is the parsed table of contents of a segment file: every
// header plus the byte offsets/sizes of each region, relative to the
// start of the buffer passed to [ParseProperties]. The Automaton uses
// these offsets to slice its single mmap of the file without re-parsing
// it.
type Properties struct {
	Header      Header
	ArrayHeader sparsearray.Header

	LabelsOffset  int64
	LabelsSize    int64
	BucketsOffset int64
	BucketsSize   int64

	ValueStoreHeader        *ValueStoreHeader
	ValueStoreHeaderOffset  int64 // -1 if ValueStoreHeader is nil
	ValueStorePayloadOffset int64
	ValueStorePayloadSize   int64

	TotalSize int64
}

// ParseProperties validates and decodes every header in data (typically
// a full mmap of the segment file) and returns the resulting table of
// contents. Any region whose declared size would run past len(data) is
// reported as [ErrTruncated]; leftover bytes past the last declared
// region are reported as [ErrMalformed].
func ParseProperties(data []byte) (*Properties, error) {
	if len(data) < len(Magic) {
		return nil, fmt.Errorf("dictionary: %w: shorter than magic", ErrTruncated)
	}

	if string(data[:len(Magic)]) != Magic {
		return nil, fmt.Errorf("dictionary: %w: bad magic bytes", ErrMalformed)
	}

	pos := int64(len(Magic))

	var header Header

	n, err := readLengthPrefixedJSON(data[pos:], &header)
	if err != nil {
		return nil, err
	}

	pos += int64(n)

	if header.Version < MinVersion {
		return nil, fmt.Errorf("dictionary: %w: %d", ErrUnsupportedVersion, header.Version)
	}

	arrHeader, n, err := sparsearray.DecodeHeader(data[pos:])
	if err != nil {
		return nil, fmt.Errorf("dictionary: sparse array header: %w", err)
	}

	pos += int64(n)

	p := &Properties{Header: header, ArrayHeader: arrHeader, ValueStoreHeaderOffset: -1}

	p.LabelsOffset = pos
	p.LabelsSize = int64(arrHeader.Size)

	if err := requireRemaining(data, p.LabelsOffset, p.LabelsSize); err != nil {
		return nil, err
	}

	pos += p.LabelsSize

	p.BucketsOffset = pos
	p.BucketsSize = 2 * int64(arrHeader.Size)

	if err := requireRemaining(data, p.BucketsOffset, p.BucketsSize); err != nil {
		return nil, err
	}

	pos += p.BucketsSize

	if header.ValueStoreType != int(valuestore.KeyOnly) {
		var vsHeader ValueStoreHeader

		p.ValueStoreHeaderOffset = pos

		n, err := readLengthPrefixedJSON(data[pos:], &vsHeader)
		if err != nil {
			return nil, fmt.Errorf("dictionary: value store header: %w", err)
		}

		pos += int64(n)
		p.ValueStoreHeader = &vsHeader

		p.ValueStorePayloadOffset = pos
		p.ValueStorePayloadSize = int64(vsHeader.Size)

		if err := requireRemaining(data, p.ValueStorePayloadOffset, p.ValueStorePayloadSize); err != nil {
			return nil, err
		}

		pos += p.ValueStorePayloadSize
	}

	p.TotalSize = pos

	if int64(len(data)) != pos {
		return nil, fmt.Errorf("dictionary: %w: %d trailing bytes after declared end", ErrMalformed, int64(len(data))-pos)
	}

	return p, nil
}

func requireRemaining(data []byte, offset, size int64) error {
	if offset+size > int64(len(data)) {
		return fmt.Errorf("dictionary: %w: region [%d,%d) exceeds file of length %d", ErrTruncated, offset, offset+size, len(data))
	}

	return nil
}

func readLengthPrefixedJSON(buf []byte, v interface{}) (int, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("dictionary: %w: length prefix", ErrTruncated)
	}

	n := binary.BigEndian.Uint32(buf)
	if uint64(len(buf)) < uint64(n)+4 {
		return 0, fmt.Errorf("dictionary: %w: record body", ErrTruncated)
	}

	if err := json.Unmarshal(buf[4:4+n], v); err != nil {
		return 0, fmt.Errorf("dictionary: %w: invalid json: %v", ErrMalformed, err)
	}

	return int(n) + 4, nil
}

// Stats renders a JSON summary of the segment's properties, mirroring
// the teacher's habit of exposing an operator-facing dump distinct from
// the wire format itself.
func (p *Properties) Stats() (string, error) {
	vtype, err := valuestore.ParseType(p.Header.ValueStoreType)
	typeName := "unknown"

	if err == nil {
		typeName = vtype.String()
	}

	out := struct {
		Version         uint64 `json:"version"`
		NumberOfKeys    uint64 `json:"number_of_keys"`
		NumberOfStates  uint64 `json:"number_of_states"`
		ValueStoreType  string `json:"value_store_type"`
		SparseArraySize uint64 `json:"sparse_array_size"`
		Values          uint64 `json:"values,omitempty"`
		UniqueValues    uint64 `json:"unique_values,omitempty"`
		Compression     string `json:"compression,omitempty"`
		Manifest        string `json:"manifest,omitempty"`
	}{
		Version:         p.Header.Version,
		NumberOfKeys:    p.Header.NumberOfKeys,
		NumberOfStates:  p.Header.NumberOfStates,
		ValueStoreType:  typeName,
		SparseArraySize: p.ArrayHeader.Size,
		Manifest:        p.Header.Manifest,
	}

	if p.ValueStoreHeader != nil {
		out.Values = p.ValueStoreHeader.Values
		out.UniqueValues = p.ValueStoreHeader.UniqueValues
		out.Compression = p.ValueStoreHeader.Compression
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("dictionary: marshal stats: %w", err)
	}

	return string(b), nil
}
