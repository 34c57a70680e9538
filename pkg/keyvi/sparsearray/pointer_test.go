package sparsearray

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDirectResolveRoundTrip(t *testing.T) {
	cases := []struct {
		cell, target uint64
	}{
		{100, 100},
		{1000, 500},
		{1000, 1600},
		{0, 0},
		{5000, 4000},
		{10, 4000 + 10 + CompactSizeWindow - 1}, // target beyond cell+window: only the absolute form fits
	}

	for _, tc := range cases {
		buf := make([]byte, (tc.cell+1)*2+16)
		ok := EncodeDirect(buf, tc.cell, tc.target)
		require.True(t, ok, "case %+v", tc)

		got := ResolvePointer(buf, tc.cell)
		require.Equal(t, tc.target, got, "case %+v", tc)
	}
}

func TestEncodeOverflowResolveRoundTrip(t *testing.T) {
	cases := []struct {
		cell, target, overflow uint64
	}{
		{10000, 10, 10100},
		{10000, 50000, 10100},
		{500, 500 + CompactSizeWindow + 1, 700},
	}

	for _, tc := range cases {
		size := tc.cell
		if tc.overflow > size {
			size = tc.overflow
		}

		buf := make([]byte, (size+1)*2+16)

		enc := PlanOverflow(tc.cell, tc.target)
		EncodeOverflow(buf, tc.cell, tc.overflow, tc.target, enc)

		got := ResolvePointer(buf, tc.cell)
		require.Equal(t, tc.target, got, "case %+v", tc)
	}
}

func TestEncodeDirectFailsOutsideRange(t *testing.T) {
	// A target far beyond both the relative window and the 14-bit
	// absolute range cannot be encoded directly.
	ok := EncodeDirect(make([]byte, 32), 10, 1<<20)
	require.False(t, ok)
}
