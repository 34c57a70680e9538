// Package compiler implements the streaming FSA minimizer of spec §4.5:
// FsaCompiler consumes (key, value) pairs sorted lexicographically by
// key and incrementally builds a minimal acyclic automaton via a
// register of unfinished states, freezing and deduplicating states as
// soon as their subtree is known to be complete.
//
// Grounded on pkg/slotcache/writer.go's single-writer buffered-session
// shape (one logical writer, Commit-or-Close lifecycle, buffered state
// not safe for concurrent mutation) adapted from an in-place mmap cache
// to a streaming append-only segment builder. The register-of-
// unfinished-states construction itself lives in internal/fsabuild,
// shared with the merger.
package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	natomic "github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/KeyviDev/keyvi-sub001/internal/fsabuild"
	"github.com/KeyviDev/keyvi-sub001/internal/membuf"
	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/compression"
	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/dictionary"
	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/lru"
	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/valuestore"
)

var (
	// ErrOutOfOrder is returned when Add is called with a key less than
	// the previous one (spec §4.5 requires lexicographically sorted input).
	ErrOutOfOrder = errors.New("compiler: key out of order")
	// ErrDuplicateKey is returned for a repeated key outside stable-insert
	// mode, where the FsaCompiler's sorted-stream contract assumes
	// pre-deduplicated input.
	ErrDuplicateKey = errors.New("compiler: duplicate key")
	// ErrClosed is returned by Add after Compile (spec §7 "Ordering/state
	// error").
	ErrClosed = errors.New("compiler: add after compile")
	// ErrDeleteRequiresStableInserts is returned when Value.Deleted is set
	// outside stable-insert mode.
	ErrDeleteRequiresStableInserts = errors.New("compiler: deleted entries require stable-insert mode")
)

// Options configures an FsaCompiler (spec §4.5/§9).
type Options struct {
	ValueStoreType valuestore.Type

	// TempDir and ChunkSize configure the internal/membuf.Manager backing
	// String/JSON/FloatVector value stores. ChunkSize 0 uses
	// membuf.DefaultChunkSize. Ignored for KeyOnly/Int/IntWeight.
	TempDir   string
	ChunkSize int

	// MemoryLimit bounds the combined size of the state- and
	// value-minimization hashes (spec §4.5 "Memory control"), split
	// evenly between the two since both are append-only equivalence
	// caches of similar shape.
	MemoryLimit uint64

	// Minimization disables both minimization hashes when false (spec
	// §4.4: "the first insert wins, no sharing").
	Minimization bool

	Compression          compression.Algorithm
	CompressionThreshold int

	// VectorSize is required when ValueStoreType is FloatVector.
	VectorSize int

	// StableInserts enables last-write-wins duplicate handling and
	// Value.Deleted (spec §4.5 "Stable-insert mode (index compiler)").
	StableInserts bool

	// ParallelSortThreshold gates CompileIndex's sort strategy: input
	// batches at or below this many entries sort in memory; larger
	// batches spill to disk-backed chunks (spec §4.5 "Memory control").
	// 0 means "always in memory".
	ParallelSortThreshold int

	Manifest string

	// Logger receives lifecycle and degradation events (spec §10.1). Nil
	// substitutes a no-op logger, so the zero Options value stays usable.
	Logger *zap.Logger
}

// Value is the per-key payload handed to Add. Exactly the field(s)
// relevant to Options.ValueStoreType are read; the rest are ignored.
type Value struct {
	Str     string    // KeyOnly (ignored), StringType, JSON
	Int     uint64    // Int, IntWeight
	Weight  uint32    // IntWeight
	Vector  []float32 // FloatVector
	Deleted bool      // stable-insert mode: drop this key from the output
}

// FsaCompiler builds one segment from a sorted stream of (key, value)
// pairs. Not safe for concurrent use (spec §5 "single-producer").
type FsaCompiler struct {
	opts   Options
	logger *zap.Logger

	reg *fsabuild.Builder

	buf *membuf.Manager // nil for KeyOnly/Int/IntWeight

	keyOnly     *valuestore.KeyOnlyStore
	intStore    *valuestore.IntStore
	intWeight   *valuestore.IntWeightStore
	stringStore *valuestore.StringStore
	jsonStore   *valuestore.JSONStore
	floatStore  *valuestore.FloatVectorStore

	prevKey []byte
	hasPrev bool
	closed  bool

	numberOfKeys uint64
	valuesCount  uint64
	uniqueValues uint64
}

// New constructs an FsaCompiler. For FloatVector, opts.VectorSize must
// be positive.
func New(opts Options) (*FsaCompiler, error) {
	if opts.ValueStoreType == valuestore.FloatVector && opts.VectorSize <= 0 {
		return nil, fmt.Errorf("compiler: float-vector store requires a positive VectorSize")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	budget := opts.MemoryLimit
	if budget == 0 {
		budget = 1 << 20
	}

	var states *lru.Generations
	if opts.Minimization {
		states = lru.New(lru.ParamsFromBudget(budget / 2))
		states.OnRotate = func() {
			logger.Warn("state minimization hash generation rotated, oldest candidates dropped")
		}
	}

	c := &FsaCompiler{
		opts:   opts,
		logger: logger,
		reg:    fsabuild.New(states),
	}

	vsOpts := valuestore.Options{
		Compression:          opts.Compression,
		CompressionThreshold: opts.CompressionThreshold,
	}

	if opts.Minimization && needsBuffer(opts.ValueStoreType) {
		vsOpts.Minimize = lru.New(lru.ParamsFromBudget(budget / 2))
		vsOpts.Minimize.OnRotate = func() {
			logger.Warn("value minimization hash generation rotated, oldest candidates dropped")
		}
	}

	switch opts.ValueStoreType {
	case valuestore.KeyOnly:
		c.keyOnly = valuestore.NewKeyOnlyStore()
	case valuestore.Int:
		c.intStore = valuestore.NewIntStore()
	case valuestore.IntWeight:
		c.intWeight = valuestore.NewIntWeightStore()
	case valuestore.StringType, valuestore.JSON, valuestore.FloatVector:
		buf, err := membuf.New(opts.TempDir, opts.ChunkSize)
		if err != nil {
			return nil, fmt.Errorf("compiler: membuf: %w", err)
		}

		c.buf = buf

		switch opts.ValueStoreType {
		case valuestore.StringType:
			c.stringStore = valuestore.NewStringStore(buf, vsOpts)
		case valuestore.JSON:
			c.jsonStore = valuestore.NewJSONStore(buf, vsOpts)
		case valuestore.FloatVector:
			c.floatStore = valuestore.NewFloatVectorStore(buf, vsOpts, opts.VectorSize)
		}
	default:
		return nil, fmt.Errorf("compiler: %w: %d", valuestore.ErrUnknownValueStoreType, int(opts.ValueStoreType))
	}

	return c, nil
}

func needsBuffer(t valuestore.Type) bool {
	switch t {
	case valuestore.StringType, valuestore.JSON, valuestore.FloatVector:
		return true
	default:
		return false
	}
}

// Add registers one (key, value) pair. key must be lexicographically
// >= the previous key; equal to the previous key is only accepted under
// Options.StableInserts, in which case the later Add's value wins.
func (c *FsaCompiler) Add(key []byte, v Value) error {
	if c.closed {
		return ErrClosed
	}

	if v.Deleted && !c.opts.StableInserts {
		return ErrDeleteRequiresStableInserts
	}

	cmp := 0
	if c.hasPrev {
		cmp = bytes.Compare(key, c.prevKey)
	}

	if cmp < 0 {
		return fmt.Errorf("%w: %q after %q", ErrOutOfOrder, key, c.prevKey)
	}

	if cmp == 0 && c.hasPrev && !c.opts.StableInserts {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, key)
	}

	leaf, err := c.reg.Leaf(key)
	if err != nil {
		return fmt.Errorf("%w: %q after %q", ErrOutOfOrder, key, c.prevKey)
	}

	wasFinal := leaf.Final

	if v.Deleted {
		leaf.Final = false
	} else {
		handle, weight, hasWeight, err := c.addValue(v)
		if err != nil {
			return err
		}

		leaf.Final = true
		leaf.Handle = handle
		leaf.Weight = weight
		leaf.HasWeight = hasWeight
	}

	switch {
	case !wasFinal && leaf.Final:
		c.numberOfKeys++
	case wasFinal && !leaf.Final:
		c.numberOfKeys--
	}

	c.prevKey = append(c.prevKey[:0], key...)
	c.hasPrev = true

	return nil
}

// Compile finalizes the automaton and writes the complete segment file
// to w in the order spec §6 requires. The FsaCompiler is closed for
// further Add calls afterward, whether or not an error occurs.
func (c *FsaCompiler) Compile(w io.Writer) error {
	if c.closed {
		return ErrClosed
	}

	start := c.reg.Finish()
	c.closed = true

	if c.buf != nil {
		defer c.buf.Close()
	}

	header := dictionary.Header{
		Version:        dictionary.MinVersion,
		StartState:     start,
		NumberOfKeys:   c.numberOfKeys,
		ValueStoreType: int(c.opts.ValueStoreType),
		NumberOfStates: c.reg.NumberOfStates(),
		Manifest:       c.opts.Manifest,
	}

	vsHeader, vsReader, err := c.valueStoreRegion()
	if err != nil {
		return err
	}

	if err := dictionary.WriteSegment(w, header, c.reg.Array(), vsHeader, vsReader); err != nil {
		return err
	}

	c.logger.Info("compile finalized",
		zap.Uint64("number_of_keys", c.numberOfKeys),
		zap.Uint64("number_of_states", c.reg.NumberOfStates()),
		zap.String("value_store_type", c.opts.ValueStoreType.String()))

	return nil
}

// CompileToFile finalizes the automaton and atomically installs it at
// path: the segment is written to a temp file in path's directory and
// renamed into place only once fully flushed, so a reader opening path
// never observes a partial write (spec §5 "readers never see a
// half-written segment"). Grounded on pkg/fs/atomic_write.go's
// write-temp-then-rename shape.
func (c *FsaCompiler) CompileToFile(path string) error {
	var buf bytes.Buffer
	if err := c.Compile(&buf); err != nil {
		return err
	}

	if err := natomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("compiler: atomic write %s: %w", path, err)
	}

	return nil
}

func (c *FsaCompiler) valueStoreRegion() (*dictionary.ValueStoreHeader, io.Reader, error) {
	if c.opts.ValueStoreType == valuestore.KeyOnly {
		return nil, nil, nil
	}

	if c.buf == nil {
		// Int/IntWeight: no backing buffer, but still get a header record
		// (dictionary.go: "present whenever value_store_type != key-only").
		return &dictionary.ValueStoreHeader{
			Values:       c.valuesCount,
			UniqueValues: c.valuesCount,
			Compression:  compression.None.String(),
		}, nil, nil
	}

	var payload bytes.Buffer
	if err := c.buf.Write(&payload, c.buf.Size()); err != nil {
		return nil, nil, fmt.Errorf("compiler: flush value store: %w", err)
	}

	vsHeader := &dictionary.ValueStoreHeader{
		Size:         uint64(payload.Len()),
		Values:       c.valuesCount,
		UniqueValues: c.uniqueValues,
		Compression:  c.opts.Compression.String(),
	}

	if c.opts.ValueStoreType == valuestore.FloatVector {
		vsHeader.VectorSize = c.opts.VectorSize
	}

	return vsHeader, &payload, nil
}

// addValue registers v with the configured value store and returns the
// state-value handle, weight, and whether that weight is explicit.
func (c *FsaCompiler) addValue(v Value) (handle uint64, weight uint32, hasWeight bool, err error) {
	switch c.opts.ValueStoreType {
	case valuestore.KeyOnly:
		return c.keyOnly.AddValue(v.Str), 0, false, nil

	case valuestore.Int:
		c.valuesCount++
		return c.intStore.AddValue(v.Int), 0, false, nil

	case valuestore.IntWeight:
		c.valuesCount++
		h, w := c.intWeight.AddValue(v.Int, v.Weight)

		return h, w, true, nil

	case valuestore.StringType:
		off, minimized, err := c.stringStore.AddValue(v.Str)
		if err != nil {
			return 0, 0, false, err
		}

		c.valuesCount++
		if !minimized {
			c.uniqueValues++
		}

		return off, 0, false, nil

	case valuestore.JSON:
		off, minimized, err := c.jsonStore.AddValue(v.Str)
		if err != nil {
			return 0, 0, false, err
		}

		c.valuesCount++
		if !minimized {
			c.uniqueValues++
		}

		return off, 0, false, nil

	case valuestore.FloatVector:
		off, minimized, err := c.floatStore.AddValue(v.Vector)
		if err != nil {
			return 0, 0, false, err
		}

		c.valuesCount++
		if !minimized {
			c.uniqueValues++
		}

		return off, 0, false, nil

	default:
		return 0, 0, false, fmt.Errorf("%w: %d", valuestore.ErrUnknownValueStoreType, int(c.opts.ValueStoreType))
	}
}
