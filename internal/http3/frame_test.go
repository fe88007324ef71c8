package http3

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameHeaderRoundTrip(t *testing.T) {
	b := AppendFrameHeader(nil, FrameHeaders, 17)
	hdr, n, err := ParseFrameHeader(b)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	require.Equal(t, FrameHeaders, hdr.Type)
	require.Equal(t, uint64(17), hdr.Length)
}

func TestParseFrameHeaderInsufficientData(t *testing.T) {
	b := AppendFrameHeader(nil, FrameData, 300)
	for i := 0; i < len(b); i++ {
		_, _, err := ParseFrameHeader(b[:i])
		require.Error(t, err)
	}
}

func TestAppendDataFrame(t *testing.T) {
	b := AppendDataFrame(nil, []byte("hello"))
	hdr, n, err := ParseFrameHeader(b)
	require.NoError(t, err)
	require.Equal(t, FrameData, hdr.Type)
	require.Equal(t, uint64(5), hdr.Length)
	require.Equal(t, "hello", string(b[n:n+int(hdr.Length)]))
}

func TestAppendHeadersFrame(t *testing.T) {
	encoded := []byte{0x01, 0x02, 0x03}
	b := AppendHeadersFrame(nil, encoded)
	hdr, n, err := ParseFrameHeader(b)
	require.NoError(t, err)
	require.Equal(t, FrameHeaders, hdr.Type)
	require.Equal(t, encoded, b[n:n+int(hdr.Length)])
}
