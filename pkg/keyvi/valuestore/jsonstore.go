package valuestore

import (
	"fmt"

	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/compression"
)

// JSONStore implements value_store_type=5 (spec §4.4): JSON input is
// packed into a compact binary tree on success, or stored as an opaque
// string on parse failure; the packed/opaque buffer is then
// compression-tagged and length-prefixed like every other record.
type JSONStore struct {
	buf  Buf
	opts Options
}

// opaqueMarker/packedMarker distinguish the two payload shapes. The
// marker is the first byte of the body, and the whole body is compressed
// behind the record's compression tag.
const (
	opaqueMarker byte = 0
	packedMarker byte = 1
)

func NewJSONStore(buf Buf, opts Options) *JSONStore {
	return &JSONStore{buf: buf, opts: opts}
}

func (s *JSONStore) Type() Type { return JSON }

func (s *JSONStore) AddValue(value string) (offset uint64, minimized bool, err error) {
	var body []byte

	if packed, ok := packJSON(value); ok {
		body = append([]byte{packedMarker}, packed...)
	} else {
		body = append([]byte{opaqueMarker}, value...)
	}

	algo, compressed, err := compression.CompressIfAboveThreshold(s.opts.Compression, s.opts.CompressionThreshold, body)
	if err != nil {
		return 0, false, fmt.Errorf("valuestore: json compress: %w", err)
	}

	offset, minimized, err = appendTaggedRecord(s.buf, s.opts, algo, compressed)
	if err != nil {
		return 0, false, fmt.Errorf("valuestore: json append: %w", err)
	}

	return offset, minimized, nil
}

func (s *JSONStore) Decode(offset uint64) (string, error) {
	body, err := readTaggedRecord(s.buf, offset)
	if err != nil {
		return "", err
	}

	if len(body) == 0 {
		return "", fmt.Errorf("valuestore: empty json record at offset %d", offset)
	}

	marker, payload := body[0], body[1:]

	switch marker {
	case opaqueMarker:
		return string(payload), nil
	case packedMarker:
		return unpackJSON(payload)
	default:
		return "", fmt.Errorf("valuestore: unknown json record marker %d", marker)
	}
}
