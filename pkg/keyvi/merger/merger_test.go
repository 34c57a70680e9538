package merger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/automaton"
	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/compiler"
	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/traverser"
	"github.com/KeyviDev/keyvi-sub001/pkg/keyvi/valuestore"
)

func buildSegment(t *testing.T, opts compiler.Options, kv map[string]compiler.Value, ordered []string) *automaton.Automaton {
	t.Helper()

	c, err := compiler.New(opts)
	require.NoError(t, err)

	for _, k := range ordered {
		require.NoError(t, c.Add([]byte(k), kv[k]))
	}

	var buf bytes.Buffer
	require.NoError(t, c.Compile(&buf))

	path := filepath.Join(t.TempDir(), "segment.keyvi")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	a, err := automaton.Open(path, automaton.Lazy)
	require.NoError(t, err)

	return a
}

func allKeys(t *testing.T, a *automaton.Automaton) []string {
	t.Helper()

	tr := traverser.NewPlain(a, a.StartState())

	var path []byte

	var out []string

	for {
		q, ok := tr.Step()
		if !ok {
			break
		}

		path = append(path[:q.Depth-1], q.Label)

		if a.IsFinal(q.State) {
			out = append(out, string(append([]byte{}, path...)))
		}
	}

	return out
}

func TestMergeNonOverlappingKeyOnly(t *testing.T) {
	a := buildSegment(t, compiler.Options{ValueStoreType: valuestore.KeyOnly},
		map[string]compiler.Value{"aaa": {}, "bbb": {}}, []string{"aaa", "bbb"})
	b := buildSegment(t, compiler.Options{ValueStoreType: valuestore.KeyOnly},
		map[string]compiler.Value{"ccc": {}, "ddd": {}}, []string{"ccc", "ddd"})
	defer a.Close()
	defer b.Close()

	var out bytes.Buffer
	require.NoError(t, Merge(&out, []Input{{Automaton: a}, {Automaton: b}}, Options{}))

	path := filepath.Join(t.TempDir(), "merged.keyvi")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o600))

	merged, err := automaton.Open(path, automaton.Lazy)
	require.NoError(t, err)
	defer merged.Close()

	require.Equal(t, uint64(4), merged.NumberOfKeys())
	require.Equal(t, []string{"aaa", "bbb", "ccc", "ddd"}, allKeys(t, merged))
}

func TestMergeLastWinsOnOverlap(t *testing.T) {
	a := buildSegment(t, compiler.Options{ValueStoreType: valuestore.Int},
		map[string]compiler.Value{"x": {Int: 1}, "y": {Int: 2}}, []string{"x", "y"})
	b := buildSegment(t, compiler.Options{ValueStoreType: valuestore.Int},
		map[string]compiler.Value{"y": {Int: 3}, "z": {Int: 4}}, []string{"y", "z"})
	defer a.Close()
	defer b.Close()

	var out bytes.Buffer
	require.NoError(t, Merge(&out, []Input{{Automaton: a}, {Automaton: b}}, Options{Policy: LastWins}))

	path := filepath.Join(t.TempDir(), "merged.keyvi")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o600))

	merged, err := automaton.Open(path, automaton.Lazy)
	require.NoError(t, err)
	defer merged.Close()

	require.Equal(t, uint64(3), merged.NumberOfKeys())
	require.Equal(t, []string{"x", "y", "z"}, allKeys(t, merged))

	s, ok := merged.TryWalk(merged.StartState(), 'y')
	require.True(t, ok)
	require.True(t, merged.IsFinal(s))

	got, err := merged.Decode(merged.StateValue(s))
	require.NoError(t, err)
	require.Equal(t, "3", got) // b's value for "y" wins under LastWins (b has the higher input index)
}

func TestMergeFirstWinsOnOverlap(t *testing.T) {
	a := buildSegment(t, compiler.Options{ValueStoreType: valuestore.Int},
		map[string]compiler.Value{"y": {Int: 2}}, []string{"y"})
	b := buildSegment(t, compiler.Options{ValueStoreType: valuestore.Int},
		map[string]compiler.Value{"y": {Int: 3}}, []string{"y"})
	defer a.Close()
	defer b.Close()

	var out bytes.Buffer
	require.NoError(t, Merge(&out, []Input{{Automaton: a}, {Automaton: b}}, Options{Policy: FirstWins}))

	path := filepath.Join(t.TempDir(), "merged.keyvi")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o600))

	merged, err := automaton.Open(path, automaton.Lazy)
	require.NoError(t, err)
	defer merged.Close()

	s, ok := merged.TryWalk(merged.StartState(), 'y')
	require.True(t, ok)

	got, err := merged.Decode(merged.StateValue(s))
	require.NoError(t, err)
	require.Equal(t, "2", got)
}

// TestMergeWithDeletes reproduces the deletion-set scenario: segments
// A={"x":1,"y":2}, B={"y":3,"z":4}, a deletion set {"x"} attached to A.
// After a last-wins merge the output has keys {"y","z"}, y decodes to
// 3, and x is entirely absent.
func TestMergeWithDeletes(t *testing.T) {
	a := buildSegment(t, compiler.Options{ValueStoreType: valuestore.Int},
		map[string]compiler.Value{"x": {Int: 1}, "y": {Int: 2}}, []string{"x", "y"})
	b := buildSegment(t, compiler.Options{ValueStoreType: valuestore.Int},
		map[string]compiler.Value{"y": {Int: 3}, "z": {Int: 4}}, []string{"y", "z"})
	defer a.Close()
	defer b.Close()

	var out bytes.Buffer
	require.NoError(t, Merge(&out, []Input{
		{Automaton: a, Deleted: DeletionSet{"x": {}}},
		{Automaton: b},
	}, Options{Policy: LastWins}))

	path := filepath.Join(t.TempDir(), "merged.keyvi")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o600))

	merged, err := automaton.Open(path, automaton.Lazy)
	require.NoError(t, err)
	defer merged.Close()

	require.Equal(t, uint64(2), merged.NumberOfKeys())
	require.Equal(t, []string{"y", "z"}, allKeys(t, merged))

	_, ok := merged.TryWalk(merged.StartState(), 'x')
	require.False(t, ok)

	s, ok := merged.TryWalk(merged.StartState(), 'y')
	require.True(t, ok)

	got, err := merged.Decode(merged.StateValue(s))
	require.NoError(t, err)
	require.Equal(t, "3", got)
}

func TestMergeIntWeightInnerWeightAggregatesUpTheTrie(t *testing.T) {
	a := buildSegment(t, compiler.Options{ValueStoreType: valuestore.IntWeight},
		map[string]compiler.Value{"aabc": {Weight: 22}, "bbbc": {Weight: 22}, "cdabc": {Weight: 22}},
		[]string{"aabc", "bbbc", "cdabc"})
	b := buildSegment(t, compiler.Options{ValueStoreType: valuestore.IntWeight},
		map[string]compiler.Value{"bbbd": {Weight: 444}, "efdffd": {Weight: 444}, "xfdebc": {Weight: 23}},
		[]string{"bbbd", "efdffd", "xfdebc"})
	defer a.Close()
	defer b.Close()

	var out bytes.Buffer
	require.NoError(t, Merge(&out, []Input{{Automaton: a}, {Automaton: b}}, Options{}))

	path := filepath.Join(t.TempDir(), "merged.keyvi")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o600))

	merged, err := automaton.Open(path, automaton.Lazy)
	require.NoError(t, err)
	defer merged.Close()

	s := merged.StartState()
	for _, label := range []byte("bbb") {
		next, ok := merged.TryWalk(s, label)
		require.True(t, ok)

		s = next
	}

	require.Equal(t, uint32(444), merged.InnerWeight(s))

	tr := traverser.NewWeighted(merged, merged.StartState())

	var rootOrder []byte

	for {
		q, ok := tr.Step()
		if !ok {
			break
		}

		if q.Depth != 1 {
			tr.Prune()
			continue
		}

		rootOrder = append(rootOrder, q.Label)
	}

	require.Equal(t, []byte("bexac"), rootOrder)
}

func TestMergeSingleInputIsIndistinguishable(t *testing.T) {
	a := buildSegment(t, compiler.Options{ValueStoreType: valuestore.KeyOnly},
		map[string]compiler.Value{"aaa": {}, "bbb": {}, "ccc": {}}, []string{"aaa", "bbb", "ccc"})
	defer a.Close()

	var out bytes.Buffer
	require.NoError(t, Merge(&out, []Input{{Automaton: a}}, Options{}))

	path := filepath.Join(t.TempDir(), "merged.keyvi")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o600))

	merged, err := automaton.Open(path, automaton.Lazy)
	require.NoError(t, err)
	defer merged.Close()

	require.Equal(t, a.NumberOfKeys(), merged.NumberOfKeys())
	require.Equal(t, allKeys(t, a), allKeys(t, merged))
}

func TestMergeToFileAtomicInstall(t *testing.T) {
	a := buildSegment(t, compiler.Options{ValueStoreType: valuestore.KeyOnly},
		map[string]compiler.Value{"aaa": {}}, []string{"aaa"})
	b := buildSegment(t, compiler.Options{ValueStoreType: valuestore.KeyOnly},
		map[string]compiler.Value{"bbb": {}}, []string{"bbb"})
	defer a.Close()
	defer b.Close()

	path := filepath.Join(t.TempDir(), "merged.keyvi")
	require.NoError(t, MergeToFile(path, []Input{{Automaton: a}, {Automaton: b}}, Options{}))

	merged, err := automaton.Open(path, automaton.Lazy)
	require.NoError(t, err)
	defer merged.Close()

	require.Equal(t, uint64(2), merged.NumberOfKeys())
}

func TestMergeLogsStartAndFinish(t *testing.T) {
	a := buildSegment(t, compiler.Options{ValueStoreType: valuestore.KeyOnly},
		map[string]compiler.Value{"aaa": {}}, []string{"aaa"})
	b := buildSegment(t, compiler.Options{ValueStoreType: valuestore.KeyOnly},
		map[string]compiler.Value{"bbb": {}}, []string{"bbb"})
	defer a.Close()
	defer b.Close()

	core, logs := observer.New(zap.InfoLevel)

	var out bytes.Buffer
	require.NoError(t, Merge(&out, []Input{{Automaton: a}, {Automaton: b}}, Options{Logger: zap.New(core)}))

	require.Len(t, logs.FilterMessage("merge starting").All(), 1)

	finished := logs.FilterMessage("merge finished").All()
	require.Len(t, finished, 1)
	require.Equal(t, uint64(2), finished[0].ContextMap()["number_of_keys"])
}

func TestMergeMixedValueStoreTypesRejected(t *testing.T) {
	a := buildSegment(t, compiler.Options{ValueStoreType: valuestore.KeyOnly},
		map[string]compiler.Value{"a": {}}, []string{"a"})
	b := buildSegment(t, compiler.Options{ValueStoreType: valuestore.Int},
		map[string]compiler.Value{"b": {Int: 1}}, []string{"b"})
	defer a.Close()
	defer b.Close()

	var out bytes.Buffer
	err := Merge(&out, []Input{{Automaton: a}, {Automaton: b}}, Options{})
	require.ErrorIs(t, err, ErrMixedValueStoreTypes)
}

func TestMergeNoInputs(t *testing.T) {
	var out bytes.Buffer
	err := Merge(&out, nil, Options{})
	require.ErrorIs(t, err, ErrNoInputs)
}

func TestMergeStringStoreAppendMode(t *testing.T) {
	dir := t.TempDir()

	a := buildSegment(t, compiler.Options{ValueStoreType: valuestore.StringType, TempDir: dir},
		map[string]compiler.Value{"k1": {Str: "hello"}}, []string{"k1"})
	b := buildSegment(t, compiler.Options{ValueStoreType: valuestore.StringType, TempDir: dir},
		map[string]compiler.Value{"k2": {Str: "world"}}, []string{"k2"})
	defer a.Close()
	defer b.Close()

	var out bytes.Buffer
	require.NoError(t, Merge(&out, []Input{{Automaton: a}, {Automaton: b}}, Options{
		Mode:    AppendMode,
		TempDir: dir,
	}))

	path := filepath.Join(t.TempDir(), "merged.keyvi")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o600))

	merged, err := automaton.Open(path, automaton.Lazy)
	require.NoError(t, err)
	defer merged.Close()

	for key, want := range map[string]string{"k1": "hello", "k2": "world"} {
		s := merged.StartState()
		ok := true

		for _, c := range []byte(key) {
			s, ok = merged.TryWalk(s, c)
			require.True(t, ok)
		}

		require.True(t, merged.IsFinal(s))

		got, err := merged.Decode(merged.StateValue(s))
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestMergeFloatVectorSizeMismatchRejected(t *testing.T) {
	dir := t.TempDir()

	a := buildSegment(t, compiler.Options{ValueStoreType: valuestore.FloatVector, TempDir: dir, VectorSize: 2},
		map[string]compiler.Value{"a": {Vector: []float32{1, 2}}}, []string{"a"})
	b := buildSegment(t, compiler.Options{ValueStoreType: valuestore.FloatVector, TempDir: dir, VectorSize: 3},
		map[string]compiler.Value{"b": {Vector: []float32{1, 2, 3}}}, []string{"b"})
	defer a.Close()
	defer b.Close()

	var out bytes.Buffer
	err := Merge(&out, []Input{{Automaton: a}, {Automaton: b}}, Options{TempDir: dir})
	require.ErrorIs(t, err, valuestore.ErrVectorSizeMismatch)
}
