package varint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 63, 64, 126, 127, 128, 16383, 16384, 1 << 32, ^uint64(0)}

	for _, v := range values {
		buf := Put(nil, v)
		require.Equal(t, Len(v), len(buf))

		got, n, err := Get(buf)
		require.NoError(t, err)
		require.Equal(t, len(buf), n)
		require.Equal(t, v, got)
	}
}

func TestGetTruncated(t *testing.T) {
	_, _, err := Get([]byte{0x80, 0x80})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestPutAppends(t *testing.T) {
	dst := []byte{0xAA}
	out := Put(dst, 300)
	require.Equal(t, byte(0xAA), out[0])

	v, n, err := Get(out[1:])
	require.NoError(t, err)
	require.Equal(t, uint64(300), v)
	require.Equal(t, len(out)-1, n)
}
