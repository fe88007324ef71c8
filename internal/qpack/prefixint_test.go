package qpack

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrefixIntSmallFitsInPrefix(t *testing.T) {
	b := appendPrefixInt([]byte{0}, 5, 10)
	require.Len(t, b, 1)
	v, n, err := decodePrefixInt(b, 5)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, uint64(10), v)
}

func TestPrefixIntRequiresContinuation(t *testing.T) {
	b := appendPrefixInt([]byte{0}, 5, 5000)
	require.Greater(t, len(b), 1)
	v, n, err := decodePrefixInt(b, 5)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	require.Equal(t, uint64(5000), v)
}

func TestPrefixIntPreservesFlagBits(t *testing.T) {
	b := appendPrefixInt([]byte{0xC0}, 6, 10) // flag bits 0xC0, 6-bit prefix
	require.Equal(t, byte(0xC0|10), b[0])
}

func TestPrefixIntInsufficientData(t *testing.T) {
	b := appendPrefixInt([]byte{0}, 5, 5000)
	_, _, err := decodePrefixInt(b[:len(b)-1], 5)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestPrefixIntEmpty(t *testing.T) {
	_, _, err := decodePrefixInt(nil, 5)
	require.ErrorIs(t, err, ErrInsufficientData)
}
