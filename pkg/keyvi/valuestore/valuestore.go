// Package valuestore implements the value-store codecs of spec §4.4: one
// per value_store_type. The JSON and float-vector stores write the
// varint-length-prefixed, compression-tagged records of spec §6/§8; the
// string store writes NUL-terminated records; the key-only and int
// stores write no records. The string, JSON and float-vector stores share
// the write-time minimization discipline against a [lru.Generations] cache.
package valuestore

import (
	"fmt"
	"hash/fnv"

	"github.com/KeyviDev/keyvi-sub001/internal/varint"
	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/compression"
	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/lru"
	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/minhash"
)

// Buf is the random-access surface a value store needs from its backing
// bytes: write-side stores back it with an internal/membuf.Manager; the
// automaton's read side backs it with a flat adapter over an mmapped
// segment file (no chunking, no write support). Any type with these
// four methods works — internal/membuf.Manager already has them.
type Buf interface {
	Size() int64
	Buffer(offset int64, length int) []byte
	Compare(offset int64, want []byte) bool
	Append(data []byte) (int64, error)
}

// Type is the stable value_store_type enum from spec §6. Value 4 is
// reserved/deprecated and never constructed.
type Type int

const (
	KeyOnly     Type = 1
	Int         Type = 2
	StringType  Type = 3
	deprecated4 Type = 4
	JSON        Type = 5
	IntWeight   Type = 6
	FloatVector Type = 7
)

func (t Type) String() string {
	switch t {
	case KeyOnly:
		return "key-only"
	case Int:
		return "int"
	case StringType:
		return "string"
	case JSON:
		return "json"
	case IntWeight:
		return "int-with-weight"
	case FloatVector:
		return "float-vector"
	default:
		return fmt.Sprintf("valuestore.Type(%d)", int(t))
	}
}

// ErrUnknownValueStoreType is returned for an unrecognized (or
// deliberately reserved) value_store_type, per spec §6: "Unknown types
// fail open with 'unknown value store type'."
var ErrUnknownValueStoreType = fmt.Errorf("valuestore: unknown value store type")

// ParseType validates a raw header integer against the stable enum.
func ParseType(v int) (Type, error) {
	switch Type(v) {
	case KeyOnly, Int, StringType, JSON, IntWeight, FloatVector:
		return Type(v), nil
	case deprecated4:
		return 0, fmt.Errorf("%w: value store type 4 is deprecated", ErrUnknownValueStoreType)
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownValueStoreType, v)
	}
}

// Decoder is satisfied by every value store on the read side: translate
// a handle recorded in the automaton back into its string form.
type Decoder interface {
	Type() Type
	Decode(handle uint64) (string, error)
}

// Options configures how a write-side value store compresses and
// deduplicates records (spec §4.4, §9 config keys).
type Options struct {
	Compression          compression.Algorithm
	CompressionThreshold int
	Minimize             *lru.Generations // nil disables minimization
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b) //nolint:errcheck // hash.Hash64 never errors on Write

	return h.Sum64()
}

// minimize looks up payload's content in opts.Minimize; a hit returns
// its previously-written offset with found set to true. A miss
// (or a disabled cache) asks the caller to write the record, then
// records the result.
//
// Returns (offset, found). When found is false, the caller must write
// the record itself and then call recordWritten.
func minimize(opts Options, payload []byte, buf Buf) (offset uint64, found bool) {
	if opts.Minimize == nil {
		return 0, false
	}

	hc := hashBytes(payload)

	e, ok := opts.Minimize.Lookup(hc, func(e minhash.Entry) bool {
		return e.Length == uint64(len(payload)) && buf.Compare(int64(e.Offset), payload)
	})
	if !ok {
		return 0, false
	}

	return e.Offset, true
}

func recordWritten(opts Options, payload []byte, offset uint64) {
	if opts.Minimize == nil {
		return
	}

	opts.Minimize.Insert(hashBytes(payload), uint64(len(payload)), offset)
}

// minimizeAndAppend deduplicates payload through opts.Minimize against
// the exact bytes that would be written, and either reuses a prior
// offset or appends a fresh copy.
func minimizeAndAppend(buf Buf, opts Options, payload []byte) (offset uint64, minimized bool, err error) {
	if off, found := minimize(opts, payload, buf); found {
		return off, true, nil
	}

	off, err := buf.Append(payload)
	if err != nil {
		return 0, false, err
	}

	recordWritten(opts, payload, uint64(off))

	return uint64(off), false, nil
}

// appendTaggedRecord builds a varint-length-prefixed, compression-tagged
// record (spec §6: "The first byte after the length is the
// compression-algorithm byte") from an already-compressed payload and
// writes it via [minimizeAndAppend]. The hash/compare always runs over
// the full on-disk record so a hit is byte-identical to what
// [readTaggedRecord] would later read back.
func appendTaggedRecord(buf Buf, opts Options, algo compression.Algorithm, compressed []byte) (offset uint64, minimized bool, err error) {
	body := make([]byte, 0, len(compressed)+1)
	body = append(body, byte(algo))
	body = append(body, compressed...)

	record := varint.Put(make([]byte, 0, varint.Len(uint64(len(body)))+len(body)), uint64(len(body)))
	record = append(record, body...)

	return minimizeAndAppend(buf, opts, record)
}

func clampedRead(buf Buf, offset int64, length int) []byte {
	remaining := buf.Size() - offset
	if remaining <= 0 {
		return nil
	}

	if int64(length) > remaining {
		length = int(remaining)
	}

	return buf.Buffer(offset, length)
}

// readTaggedRecord reads back a record written by [appendTaggedRecord]
// and returns its decompressed payload.
func readTaggedRecord(buf Buf, offset uint64) ([]byte, error) {
	head := clampedRead(buf, int64(offset), varint.MaxLen)

	bodyLen, n, err := varint.Get(head)
	if err != nil {
		return nil, fmt.Errorf("valuestore: read length: %w", err)
	}

	body := buf.Buffer(int64(offset)+int64(n), int(bodyLen))
	if len(body) == 0 {
		return nil, fmt.Errorf("valuestore: empty record at offset %d", offset)
	}

	algo := compression.Algorithm(body[0])

	return compression.Decompress(algo, body[1:])
}
