// Package compression implements the value-store record compressor
// dispatch described in spec §4.4/§6: every on-disk record carries a
// one-byte algorithm tag, and readers pick a decompressor by that byte
// alone, never by configuration.
package compression

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Algorithm is the one-byte tag stored as the first byte of every
// value-store record (spec §6).
type Algorithm byte

const (
	None   Algorithm = 0
	Zlib   Algorithm = 1
	Snappy Algorithm = 2
	Zstd   Algorithm = 3
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case Zlib:
		return "zlib"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression.Algorithm(%d)", byte(a))
	}
}

// ErrUnknownCompression is returned by [ParseName] and [Decompress] for an
// unrecognized algorithm name or tag byte.
var ErrUnknownCompression = fmt.Errorf("compression: unknown algorithm")

// ParseName maps a config `compression` value to an Algorithm. Mirrors
// the teacher's convention of treating an empty string as the same thing
// as an explicit "none" (spec §9: unknown keys are ignored, invalid
// values fail at construction — an empty/absent value is not invalid,
// it is the default).
func ParseName(name string) (Algorithm, error) {
	switch name {
	case "", "none", "raw":
		return None, nil
	case "zlib":
		return Zlib, nil
	case "snappy":
		return Snappy, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCompression, name)
	}
}

// Compress compresses data with algo, returning it unmodified for
// [None].
func Compress(algo Algorithm, data []byte) ([]byte, error) {
	switch algo {
	case None:
		return data, nil
	case Zlib:
		var buf bytes.Buffer

		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("compression: zlib write: %w", err)
		}

		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("compression: zlib close: %w", err)
		}

		return buf.Bytes(), nil
	case Snappy:
		return snappy.Encode(nil, data), nil
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("compression: zstd writer: %w", err)
		}
		defer enc.Close()

		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownCompression, byte(algo))
	}
}

// Decompress reverses [Compress]. Callers pass the record bytes with the
// leading algorithm tag already stripped.
func Decompress(algo Algorithm, data []byte) ([]byte, error) {
	switch algo {
	case None:
		return data, nil
	case Zlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("compression: zlib reader: %w", err)
		}
		defer r.Close()

		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("compression: zlib read: %w", err)
		}

		return out, nil
	case Snappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("compression: snappy decode: %w", err)
		}

		return out, nil
	case Zstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("compression: zstd reader: %w", err)
		}
		defer dec.Close()

		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("compression: zstd decode: %w", err)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownCompression, byte(algo))
	}
}

// CompressIfAboveThreshold compresses data with algo only when len(data)
// exceeds threshold, otherwise stores it as [None]. Used by the string
// and JSON value-store codecs (spec §4.4: "compressed above a
// configurable threshold, default 32 bytes").
func CompressIfAboveThreshold(algo Algorithm, threshold int, data []byte) (Algorithm, []byte, error) {
	if algo == None || len(data) <= threshold {
		return None, data, nil
	}

	out, err := Compress(algo, data)
	if err != nil {
		return 0, nil, err
	}

	return algo, out, nil
}
