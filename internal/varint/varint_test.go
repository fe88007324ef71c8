package varint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		value   uint64
		wantLen int
	}{
		{0, 1},
		{63, 1},
		{64, 2},
		{16383, 2},
		{16384, 4},
		{1073741823, 4},
		{1073741824, 8},
		{Max, 8},
	}
	for _, c := range cases {
		b := Append(nil, c.value)
		require.Len(t, b, c.wantLen, "value %d", c.value)

		got, consumed, err := Parse(b)
		require.NoError(t, err)
		require.Equal(t, c.wantLen, consumed)
		require.Equal(t, c.value, got)
	}
}

func TestParseInsufficientData(t *testing.T) {
	b := Append(nil, 1073741824) // 8-byte form
	for i := 0; i < len(b); i++ {
		_, _, err := Parse(b[:i])
		require.ErrorIs(t, err, ErrInsufficientData)
	}
}

func TestParseEmpty(t *testing.T) {
	_, _, err := Parse(nil)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestShortestForm(t *testing.T) {
	// The encoding must always pick the smallest of 1/2/4/8 bytes that fits,
	// which Len() reports independently of Append's internal branching.
	for _, v := range []uint64{0, 37, 63, 64, 1000, 16383, 16384, 1 << 20, 1073741823, 1073741824, Max} {
		require.Equal(t, Len(v), len(Append(nil, v)))
	}
}
