package valuestore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KeyviDev/keyvi-sub001/internal/membuf"
	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/compression"
	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/lru"
)

func newTestBuf(t *testing.T) *membuf.Manager {
	t.Helper()

	m, err := membuf.New(t.TempDir(), 64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return m
}

func TestParseType(t *testing.T) {
	got, err := ParseType(5)
	require.NoError(t, err)
	require.Equal(t, JSON, got)

	_, err = ParseType(4)
	require.ErrorIs(t, err, ErrUnknownValueStoreType)

	_, err = ParseType(99)
	require.ErrorIs(t, err, ErrUnknownValueStoreType)
}

func TestKeyOnlyStore(t *testing.T) {
	s := NewKeyOnlyStore()

	h := s.AddValue("ignored")
	out, err := s.Decode(h)
	require.NoError(t, err)
	require.Equal(t, "", out)
}

func TestIntStore(t *testing.T) {
	s := NewIntStore()

	h := s.AddValue(42)
	out, err := s.Decode(h)
	require.NoError(t, err)
	require.Equal(t, "42", out)
}

func TestIntWeightStore(t *testing.T) {
	s := NewIntWeightStore()

	h, w := s.AddValue(7, 3)
	require.Equal(t, uint64(7), h)
	require.Equal(t, uint32(3), w)

	out, err := s.Decode(h)
	require.NoError(t, err)
	require.Equal(t, "7", out)
}

func TestStringStoreRoundTripAndMinimization(t *testing.T) {
	buf := newTestBuf(t)
	gens := lru.New(lru.Params{Generations: 2, MaxEntries: 16})
	s := NewStringStore(buf, Options{Minimize: gens})

	off1, min1, err := s.AddValue("hello")
	require.NoError(t, err)
	require.False(t, min1)

	off2, min2, err := s.AddValue("hello")
	require.NoError(t, err)
	require.True(t, min2)
	require.Equal(t, off1, off2)

	off3, min3, err := s.AddValue("world")
	require.NoError(t, err)
	require.False(t, min3)
	require.NotEqual(t, off1, off3)

	for off, want := range map[uint64]string{off1: "hello", off3: "world"} {
		got, err := s.Decode(off)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestStringStoreMerge(t *testing.T) {
	srcBuf := newTestBuf(t)
	src := NewStringStore(srcBuf, Options{})

	srcOff, _, err := src.AddValue("merged-value")
	require.NoError(t, err)

	dstBuf := newTestBuf(t)
	dst := NewStringStore(dstBuf, Options{})

	dstOff, minimized, err := dst.AddValueMerge(srcBuf, srcOff)
	require.NoError(t, err)
	require.False(t, minimized)

	got, err := dst.Decode(dstOff)
	require.NoError(t, err)
	require.Equal(t, "merged-value", got)
}

func TestJSONStorePackedRoundTrip(t *testing.T) {
	buf := newTestBuf(t)
	s := NewJSONStore(buf, Options{Compression: compression.Snappy, CompressionThreshold: 0})

	off, _, err := s.AddValue(`{"a":1,"b":[true,false,null,"x"]}`)
	require.NoError(t, err)

	got, err := s.Decode(off)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1,"b":[true,false,null,"x"]}`, got)
}

func TestJSONStoreOpaqueFallback(t *testing.T) {
	buf := newTestBuf(t)
	s := NewJSONStore(buf, Options{})

	off, _, err := s.AddValue("not json at all")
	require.NoError(t, err)

	got, err := s.Decode(off)
	require.NoError(t, err)
	require.Equal(t, "not json at all", got)
}

func TestJSONStoreDeduplicatesIdenticalDocuments(t *testing.T) {
	buf := newTestBuf(t)
	gens := lru.New(lru.Params{Generations: 2, MaxEntries: 16})
	s := NewJSONStore(buf, Options{Minimize: gens, Compression: compression.Snappy, CompressionThreshold: 32})

	docs := []string{`{"a":1}`, `{"a":1}`, `{"b":2}`}

	offsets := make([]uint64, len(docs))
	unique := map[uint64]bool{}

	for i, d := range docs {
		off, _, err := s.AddValue(d)
		require.NoError(t, err)
		offsets[i] = off
		unique[off] = true
	}

	require.Equal(t, offsets[0], offsets[1])
	require.Len(t, unique, 2)
}

func TestFloatVectorStoreRoundTrip(t *testing.T) {
	buf := newTestBuf(t)
	s := NewFloatVectorStore(buf, Options{Compression: compression.Zstd, CompressionThreshold: 0}, 3)

	off, _, err := s.AddValue([]float32{1.5, -2.25, 0})
	require.NoError(t, err)

	got, err := s.Decode(off)
	require.NoError(t, err)
	require.Equal(t, "[1.5,-2.25,0]", got)
}

func TestFloatVectorStoreRejectsSizeMismatch(t *testing.T) {
	buf := newTestBuf(t)
	s := NewFloatVectorStore(buf, Options{}, 4)

	_, _, err := s.AddValue([]float32{1, 2})
	require.ErrorIs(t, err, ErrVectorSizeMismatch)
}

func TestStreamAppendShiftsOffsets(t *testing.T) {
	srcBuf := newTestBuf(t)
	src := NewStringStore(srcBuf, Options{})

	srcOff, _, err := src.AddValue("abc")
	require.NoError(t, err)

	dstBuf := newTestBuf(t)
	_, _, err = NewStringStore(dstBuf, Options{}).AddValue("preexisting")
	require.NoError(t, err)

	shift, err := StreamAppend(dstBuf, srcBuf)
	require.NoError(t, err)

	dst := NewStringStore(dstBuf, Options{})
	got, err := dst.Decode(srcOff + uint64(shift))
	require.NoError(t, err)
	require.Equal(t, "abc", got)
}
