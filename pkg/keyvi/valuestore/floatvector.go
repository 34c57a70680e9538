package valuestore

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/compression"
)

// ErrVectorSizeMismatch is returned when a float vector's dimension
// disagrees with the store's fixed per-segment size, or when merging
// segments whose vector_size header parameters differ (spec §4.4).
var ErrVectorSizeMismatch = fmt.Errorf("valuestore: float vector size mismatch")

// FloatVectorStore implements value_store_type=7: fixed-dimension
// float32 vectors, little-endian, run through the configured compressor
// (spec §4.4). The dimension n is fixed for the whole segment.
type FloatVectorStore struct {
	buf  Buf
	opts Options
	n    int
}

func NewFloatVectorStore(buf Buf, opts Options, n int) *FloatVectorStore {
	return &FloatVectorStore{buf: buf, opts: opts, n: n}
}

func (s *FloatVectorStore) Type() Type { return FloatVector }

// VectorSize returns the fixed dimension n, used by the dictionary
// header and by merge to reject mismatched segments.
func (s *FloatVectorStore) VectorSize() int { return s.n }

func (s *FloatVectorStore) AddValue(vec []float32) (offset uint64, minimized bool, err error) {
	if len(vec) != s.n {
		return 0, false, fmt.Errorf("%w: got %d want %d", ErrVectorSizeMismatch, len(vec), s.n)
	}

	raw := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(f))
	}

	algo, compressed, err := compression.CompressIfAboveThreshold(s.opts.Compression, s.opts.CompressionThreshold, raw)
	if err != nil {
		return 0, false, fmt.Errorf("valuestore: float vector compress: %w", err)
	}

	off, minimized, err := appendTaggedRecord(s.buf, s.opts, algo, compressed)
	if err != nil {
		return 0, false, fmt.Errorf("valuestore: float vector append: %w", err)
	}

	return off, minimized, nil
}

func (s *FloatVectorStore) Decode(offset uint64) (string, error) {
	raw, err := readTaggedRecord(s.buf, offset)
	if err != nil {
		return "", err
	}

	if len(raw)%4 != 0 {
		return "", fmt.Errorf("valuestore: float vector record length %d not a multiple of 4", len(raw))
	}

	var out []byte

	out = append(out, '[')

	for i := 0; i < len(raw); i += 4 {
		if i > 0 {
			out = append(out, ',')
		}

		f := math.Float32frombits(binary.LittleEndian.Uint32(raw[i:]))
		out = appendFloat32JSON(out, f)
	}

	out = append(out, ']')

	return string(out), nil
}

func appendFloat32JSON(dst []byte, f float32) []byte {
	switch {
	case math.IsNaN(float64(f)):
		return append(dst, "NaN"...)
	case math.IsInf(float64(f), 1):
		return append(dst, "Infinity"...)
	case math.IsInf(float64(f), -1):
		return append(dst, "-Infinity"...)
	default:
		return strconv.AppendFloat(dst, float64(f), 'g', -1, 32)
	}
}
