package quic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fasterapi/quic3/internal/tests"
)

func TestConnectionIDRoundTrip(t *testing.T) {
	raw := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	c, err := NewConnectionID(raw)
	require.NoError(t, err)
	tests.AssertEqual(t, 8, c.Len())
	tests.AssertEqual(t, raw, c.Bytes())
	require.Equal(t, "0102030405060708", c.String())
}

func TestConnectionIDTooLong(t *testing.T) {
	_, err := NewConnectionID(make([]byte, 21))
	require.ErrorIs(t, err, ErrConnectionIDTooLong)
}

func TestConnectionIDEqual(t *testing.T) {
	a, _ := NewConnectionID([]byte{1, 2, 3})
	b, _ := NewConnectionID([]byte{1, 2, 3})
	c, _ := NewConnectionID([]byte{1, 2, 4})
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestConnectionIDZeroLength(t *testing.T) {
	c, err := NewConnectionID(nil)
	require.NoError(t, err)
	require.Equal(t, 0, c.Len())
	require.Equal(t, "", c.String())
}
