package membuf

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAcrossChunkBoundary(t *testing.T) {
	dir := t.TempDir()

	m, err := New(dir, 8) // tiny chunks to force boundary crossing
	require.NoError(t, err)
	defer m.Close()

	off1, err := m.Append([]byte("abcd"))
	require.NoError(t, err)
	require.Equal(t, int64(0), off1)

	off2, err := m.Append([]byte("efghij")) // crosses the 8-byte boundary
	require.NoError(t, err)
	require.Equal(t, int64(4), off2)

	require.Equal(t, int64(10), m.Size())
	require.Equal(t, []byte("abcdefghij"), m.Buffer(0, 10))
}

func TestQuickAddressFallsBackAtBoundary(t *testing.T) {
	dir := t.TempDir()

	m, err := New(dir, 8)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Append([]byte("abcdefgh"))
	require.NoError(t, err)
	_, err = m.Append([]byte("ijkl"))
	require.NoError(t, err)

	data, ok := m.QuickAddress(0, 8)
	require.True(t, ok)
	require.Equal(t, []byte("abcdefgh"), data)

	_, ok = m.QuickAddress(4, 8) // spans chunk 0 and chunk 1
	require.False(t, ok)

	require.Equal(t, []byte("efghijkl"), m.Buffer(4, 8))
}

func TestPushBack(t *testing.T) {
	dir := t.TempDir()

	m, err := New(dir, 4)
	require.NoError(t, err)
	defer m.Close()

	for i, b := range []byte("hello") {
		off, err := m.PushBack(b)
		require.NoError(t, err)
		require.Equal(t, int64(i), off)
	}

	require.Equal(t, []byte("hello"), m.Buffer(0, 5))
}

func TestCompare(t *testing.T) {
	dir := t.TempDir()

	m, err := New(dir, 4)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Append([]byte("keyvi"))
	require.NoError(t, err)

	require.True(t, m.Compare(0, []byte("keyvi")))
	require.False(t, m.Compare(0, []byte("other")))
	require.False(t, m.Compare(0, []byte("keyvi-too-long")))
}

func TestWritePartial(t *testing.T) {
	dir := t.TempDir()

	m, err := New(dir, 4)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Append([]byte("0123456789"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Write(&buf, 7))
	require.Equal(t, "0123456", buf.String())
}

func TestCloseRemovesChunkFiles(t *testing.T) {
	dir := t.TempDir()

	m, err := New(dir, 4)
	require.NoError(t, err)

	_, err = m.Append([]byte("0123456789"))
	require.NoError(t, err)

	require.NoError(t, m.Close())

	left, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, left)
}
