package compiler

import (
	"bufio"
	"bytes"
	"container/heap"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/KeyviDev/keyvi-sub001/internal/config"
	"github.com/KeyviDev/keyvi-sub001/internal/varint"
	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/valuestore"
)

// OptionsFromConfig copies the config-file-governed fields of cfg (spec
// §6/§9) into an Options value, filling in vt since value_store_type is
// a per-call argument rather than a persisted config key. Fields Options
// carries that config knows nothing about (Logger, ChunkSize) are left
// at their zero value for the caller to set afterward.
func OptionsFromConfig(cfg config.Config, vt valuestore.Type) (Options, error) {
	co, err := cfg.ToCompilerOptions()
	if err != nil {
		return Options{}, err
	}

	return Options{
		ValueStoreType:        vt,
		TempDir:               co.TempDir,
		MemoryLimit:           co.MemoryLimit,
		Minimization:          co.Minimization,
		Compression:           co.Compression,
		CompressionThreshold:  co.CompressionThreshold,
		VectorSize:            co.VectorSize,
		StableInserts:         co.StableInserts,
		ParallelSortThreshold: co.ParallelSortThreshold,
	}, nil
}

// IndexEntry is one raw input record for CompileIndex: unlike Add, these
// need not arrive already sorted or deduplicated.
type IndexEntry struct {
	Key   []byte
	Value Value
}

// CompileIndex implements spec §4.5's "stable-insert mode (index
// compiler)" end to end: entries arrive in arbitrary order, get stably
// sorted by key (so repeated keys keep their relative input order),
// consecutive equal keys collapse to their last occurrence, and any
// occurrence whose Value.Deleted survives that collapse is dropped from
// the output. opts.StableInserts is forced on, since that is the only
// sensible setting for this entry point.
//
// opts.ParallelSortThreshold gates how entries are sorted: at or below
// the threshold (or when it is 0) the whole batch sorts in memory; above
// it, entries spill to disk in sorted chunks of that size and are
// k-way merged back together, bounding peak memory to one chunk per
// input plus the merge heap (spec §4.5 "Memory control... above a
// threshold, use external-memory (disk-backed) sort").
func CompileIndex(w io.Writer, entries []IndexEntry, opts Options) error {
	opts.StableInserts = true

	sorted, cleanup, err := sortEntries(entries, opts.ParallelSortThreshold, opts.TempDir)
	if err != nil {
		return err
	}

	if cleanup != nil {
		defer cleanup()
	}

	c, err := New(opts)
	if err != nil {
		return err
	}

	if err := feedSorted(c, sorted); err != nil {
		return err
	}

	return c.Compile(w)
}

// feedSorted consumes a stably-sorted entry stream, keeping only the
// last occurrence of each run of equal keys and skipping that occurrence
// entirely when it is marked deleted.
func feedSorted(c *FsaCompiler, sorted entryStream) error {
	var (
		havePending bool
		pending     IndexEntry
	)

	for {
		e, ok, err := sorted.Next()
		if err != nil {
			return err
		}

		if !ok {
			break
		}

		if havePending && !bytes.Equal(pending.Key, e.Key) && !pending.Value.Deleted {
			if err := c.Add(pending.Key, pending.Value); err != nil {
				return err
			}
		}

		pending = e
		havePending = true
	}

	if havePending && !pending.Value.Deleted {
		if err := c.Add(pending.Key, pending.Value); err != nil {
			return err
		}
	}

	return nil
}

// entryStream yields IndexEntry values in sorted key order, exhausted
// when Next returns ok=false.
type entryStream interface {
	Next() (IndexEntry, bool, error)
}

// sliceStream is an entryStream over an in-memory, already-sorted slice.
type sliceStream struct {
	entries []IndexEntry
	i       int
}

func (s *sliceStream) Next() (IndexEntry, bool, error) {
	if s.i >= len(s.entries) {
		return IndexEntry{}, false, nil
	}

	e := s.entries[s.i]
	s.i++

	return e, true, nil
}

// sortEntries returns a sorted entryStream over entries, either in
// memory (threshold <= 0 or len(entries) <= threshold) or via
// chunked external sort otherwise. The returned cleanup, if non-nil,
// removes any temp files created and must be deferred by the caller.
func sortEntries(entries []IndexEntry, threshold int, tempDir string) (entryStream, func(), error) {
	if threshold <= 0 || len(entries) <= threshold {
		sorted := make([]IndexEntry, len(entries))
		copy(sorted, entries)
		sort.SliceStable(sorted, func(i, j int) bool {
			return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0
		})

		return &sliceStream{entries: sorted}, nil, nil
	}

	return externalSort(entries, threshold, tempDir)
}

// externalSort splits entries into threshold-sized chunks, stably sorts
// each in memory, spills each to its own temp file in key order, and
// returns a merged stream that k-way-merges the chunk files via a heap
// (the same fan-in shape pkg/keyvi/merger uses for segments, here over
// raw sorted-chunk files instead of automata).
func externalSort(entries []IndexEntry, threshold int, tempDir string) (entryStream, func(), error) {
	dir, err := os.MkdirTemp(tempDir, "keyvi-index-sort-")
	if err != nil {
		return nil, nil, fmt.Errorf("compiler: index sort temp dir: %w", err)
	}

	cleanup := func() { os.RemoveAll(dir) }

	var chunkPaths []string

	for start := 0; start < len(entries); start += threshold {
		end := start + threshold
		if end > len(entries) {
			end = len(entries)
		}

		chunk := make([]IndexEntry, end-start)
		copy(chunk, entries[start:end])
		sort.SliceStable(chunk, func(i, j int) bool {
			return bytes.Compare(chunk[i].Key, chunk[j].Key) < 0
		})

		path := filepath.Join(dir, fmt.Sprintf("chunk-%d", len(chunkPaths)))
		if err := writeChunk(path, chunk); err != nil {
			cleanup()
			return nil, nil, err
		}

		chunkPaths = append(chunkPaths, path)
	}

	merged, err := newChunkMerger(chunkPaths)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return merged, func() {
		merged.close()
		cleanup()
	}, nil
}

// writeChunk serializes sorted entries to path as a sequence of
// varint-length-prefixed records: key length, key bytes, value length,
// value bytes (gob-free, same varint framing style
// pkg/keyvi/valuestore's codecs use on-disk).
func writeChunk(path string, entries []IndexEntry) error {
	f, err := os.Create(path) //nolint:gosec // temp file under a caller-controlled or os.TempDir path
	if err != nil {
		return fmt.Errorf("compiler: index sort chunk: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)

	for _, e := range entries {
		if err := writeChunkEntry(bw, e); err != nil {
			return fmt.Errorf("compiler: index sort chunk write: %w", err)
		}
	}

	return bw.Flush()
}

func writeChunkEntry(w *bufio.Writer, e IndexEntry) error {
	var valBuf bytes.Buffer
	encodeValue(&valBuf, e.Value)

	if _, err := w.Write(varint.Put(nil, uint64(len(e.Key)))); err != nil {
		return err
	}

	if _, err := w.Write(e.Key); err != nil {
		return err
	}

	if _, err := w.Write(varint.Put(nil, uint64(valBuf.Len()))); err != nil {
		return err
	}

	_, err := w.Write(valBuf.Bytes())

	return err
}

// encodeValue is a private, order-preserving-irrelevant serialization of
// Value for chunk spill files only; it never touches the on-disk
// segment format.
func encodeValue(buf *bytes.Buffer, v Value) {
	buf.Write(varint.Put(nil, uint64(len(v.Str))))
	buf.WriteString(v.Str)
	buf.Write(varint.Put(nil, v.Int))
	buf.Write(varint.Put(nil, uint64(v.Weight)))
	buf.Write(varint.Put(nil, uint64(len(v.Vector))))

	for _, f := range v.Vector {
		var b [4]byte
		putFloat32(b[:], f)
		buf.Write(b[:])
	}

	if v.Deleted {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func putFloat32(b []byte, f float32) {
	bits := math.Float32bits(f)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}

func getFloat32(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}

// chunkReader reads varint-framed IndexEntry records back out of a
// chunk file written by writeChunk, in the order they were written
// (already sorted within that chunk).
type chunkReader struct {
	f  *os.File
	br *bufio.Reader
}

func openChunkReader(path string) (*chunkReader, error) {
	f, err := os.Open(path) //nolint:gosec // path is our own temp chunk file
	if err != nil {
		return nil, fmt.Errorf("compiler: open index sort chunk: %w", err)
	}

	return &chunkReader{f: f, br: bufio.NewReader(f)}, nil
}

func (r *chunkReader) next() (IndexEntry, bool, error) {
	keyLen, err := readVarint(r.br)
	if err != nil {
		if err == io.EOF {
			return IndexEntry{}, false, nil
		}

		return IndexEntry{}, false, err
	}

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r.br, key); err != nil {
		return IndexEntry{}, false, fmt.Errorf("compiler: index sort chunk: truncated key: %w", err)
	}

	valLen, err := readVarint(r.br)
	if err != nil {
		return IndexEntry{}, false, fmt.Errorf("compiler: index sort chunk: truncated value length: %w", err)
	}

	val := make([]byte, valLen)
	if _, err := io.ReadFull(r.br, val); err != nil {
		return IndexEntry{}, false, fmt.Errorf("compiler: index sort chunk: truncated value: %w", err)
	}

	v, err := decodeValue(val)
	if err != nil {
		return IndexEntry{}, false, err
	}

	return IndexEntry{Key: key, Value: v}, true, nil
}

func (r *chunkReader) close() error { return r.f.Close() }

// readVarint decodes one varint.Put-encoded value from br, reading one
// byte at a time since the chunk format has no fixed-width length
// prefix for the varint itself.
func readVarint(br *bufio.Reader) (uint64, error) {
	var buf [varint.MaxLen]byte

	n := 0

	for {
		b, err := br.ReadByte()
		if err != nil {
			if n == 0 && err == io.EOF {
				return 0, io.EOF
			}

			return 0, err
		}

		buf[n] = b
		n++

		if b < 0x80 {
			break
		}

		if n >= len(buf) {
			return 0, fmt.Errorf("compiler: index sort chunk: varint too long")
		}
	}

	v, _, err := varint.Get(buf[:n])
	if err != nil {
		return 0, fmt.Errorf("compiler: index sort chunk: %w", err)
	}

	return v, nil
}

func decodeValue(b []byte) (Value, error) {
	strLen, n, err := takeVarint(b)
	if err != nil {
		return Value{}, err
	}

	b = b[n:]
	if uint64(len(b)) < strLen {
		return Value{}, fmt.Errorf("compiler: index sort chunk: truncated string value")
	}

	str := string(b[:strLen])
	b = b[strLen:]

	intVal, n, err := takeVarint(b)
	if err != nil {
		return Value{}, err
	}

	b = b[n:]

	weight, n, err := takeVarint(b)
	if err != nil {
		return Value{}, err
	}

	b = b[n:]

	vecLen, n, err := takeVarint(b)
	if err != nil {
		return Value{}, err
	}

	b = b[n:]

	if uint64(len(b)) < vecLen*4+1 {
		return Value{}, fmt.Errorf("compiler: index sort chunk: truncated vector value")
	}

	vec := make([]float32, vecLen)
	for i := range vec {
		vec[i] = getFloat32(b[i*4 : i*4+4])
	}

	b = b[vecLen*4:]

	return Value{
		Str:     str,
		Int:     intVal,
		Weight:  uint32(weight),
		Vector:  vec,
		Deleted: b[0] == 1,
	}, nil
}

func takeVarint(b []byte) (value uint64, n int, err error) {
	v, n, err := varint.Get(b)
	if err != nil {
		return 0, 0, fmt.Errorf("compiler: index sort chunk: %w", err)
	}

	return v, n, nil
}

// chunkMerger k-way merges the sorted chunk files, newest-input-wins
// ties broken by chunk order so later chunks (later in the original
// entries slice) shadow earlier ones on equal keys, matching the
// in-memory sort's stable tie-break.
type chunkMerger struct {
	readers []*chunkReader
	h       chunkHeap
}

type chunkHeapItem struct {
	entry  IndexEntry
	chunk  int
	reader *chunkReader
}

type chunkHeap []*chunkHeapItem

func (h chunkHeap) Len() int { return len(h) }
func (h chunkHeap) Less(i, j int) bool {
	c := bytes.Compare(h[i].entry.Key, h[j].entry.Key)
	if c != 0 {
		return c < 0
	}

	return h[i].chunk < h[j].chunk
}
func (h chunkHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *chunkHeap) Push(x interface{}) { *h = append(*h, x.(*chunkHeapItem)) }

func (h *chunkHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}

func newChunkMerger(paths []string) (*chunkMerger, error) {
	m := &chunkMerger{}

	for i, p := range paths {
		r, err := openChunkReader(p)
		if err != nil {
			m.close()
			return nil, err
		}

		m.readers = append(m.readers, r)

		e, ok, err := r.next()
		if err != nil {
			m.close()
			return nil, err
		}

		if ok {
			heap.Push(&m.h, &chunkHeapItem{entry: e, chunk: i, reader: r})
		}
	}

	return m, nil
}

func (m *chunkMerger) Next() (IndexEntry, bool, error) {
	if m.h.Len() == 0 {
		return IndexEntry{}, false, nil
	}

	top := heap.Pop(&m.h).(*chunkHeapItem)
	entry := top.entry

	next, ok, err := top.reader.next()
	if err != nil {
		return IndexEntry{}, false, err
	}

	if ok {
		heap.Push(&m.h, &chunkHeapItem{entry: next, chunk: top.chunk, reader: top.reader})
	}

	return entry, true, nil
}

func (m *chunkMerger) close() {
	for _, r := range m.readers {
		r.close()
	}
}
