package qpack

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHuffmanRoundTrip(t *testing.T) {
	cases := []string{"", "a", "www.example.com", "no-cache", "custom-key: custom-value"}
	for _, s := range cases {
		enc := huffmanEncode(nil, s)
		require.Equal(t, huffmanEncodedLen(s), len(enc))
		got, err := huffmanDecode(enc)
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
}

func TestHuffmanEncodedLenMatchesActualOutput(t *testing.T) {
	s := "www.example.com"
	require.Equal(t, len(huffmanEncode(nil, s)), huffmanEncodedLen(s))
}
