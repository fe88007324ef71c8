package http3

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fasterapi/quic3/internal/varint"
)

func appendVarintPair(b []byte, id, value uint64) []byte {
	b = varint.Append(b, id)
	b = varint.Append(b, value)
	return b
}

func TestSettingsEncodeDecodeRoundTrip(t *testing.T) {
	s := Settings{
		MaxHeaderListSize:     65536,
		QpackMaxTableCapacity: 0,
		QpackBlockedStreams:   0,
	}
	b := s.Encode(nil)

	hdr, n, err := ParseFrameHeader(b)
	require.NoError(t, err)
	require.Equal(t, FrameSettings, hdr.Type)

	decoded, err := DecodeSettingsPayload(b[n : n+int(hdr.Length)])
	require.NoError(t, err)
	require.Equal(t, s, decoded)
}

func TestDefaultSettingsAdvertisesZeroQpackCapacity(t *testing.T) {
	s := DefaultSettings()
	require.Equal(t, uint64(0), s.QpackMaxTableCapacity)
	require.Equal(t, uint64(0), s.QpackBlockedStreams)
}

func TestDecodeSettingsPayloadIgnoresUnknownIdentifiers(t *testing.T) {
	var payload []byte
	payload = appendVarintPair(payload, 0x99, 42) // unknown identifier
	payload = appendVarintPair(payload, settingMaxHeaderListSize, 1024)

	s, err := DecodeSettingsPayload(payload)
	require.NoError(t, err)
	require.Equal(t, uint64(1024), s.MaxHeaderListSize)
}
