package http3

import "github.com/fasterapi/quic3/internal/varint"

// Settings identifiers, RFC 9114 §7.2.4.1 and RFC 9204 §5.
const (
	settingMaxHeaderListSize      = 0x06
	settingQpackMaxTableCapacity  = 0x01
	settingQpackBlockedStreams    = 0x07
)

// Settings carries the negotiated parameters exchanged on each
// endpoint's control stream.
type Settings struct {
	MaxHeaderListSize     uint64
	QpackMaxTableCapacity uint64
	QpackBlockedStreams   uint64
}

// DefaultSettings returns the settings this implementation advertises.
// QpackMaxTableCapacity is 0: per the static-table-only design this
// module chose, no peer-driven dynamic-table growth is ever required,
// so advertising a zero capacity is always safe regardless of whether
// the peer implements the QPACK encoder/decoder instruction streams.
func DefaultSettings() Settings {
	return Settings{
		MaxHeaderListSize:     16 * 1024 * 1024,
		QpackMaxTableCapacity: 0,
		QpackBlockedStreams:   0,
	}
}

// Encode serializes s as a SETTINGS frame (header and payload).
func (s Settings) Encode(b []byte) []byte {
	var payload []byte
	payload = varint.Append(payload, settingMaxHeaderListSize)
	payload = varint.Append(payload, s.MaxHeaderListSize)
	payload = varint.Append(payload, settingQpackMaxTableCapacity)
	payload = varint.Append(payload, s.QpackMaxTableCapacity)
	payload = varint.Append(payload, settingQpackBlockedStreams)
	payload = varint.Append(payload, s.QpackBlockedStreams)

	b = AppendFrameHeader(b, FrameSettings, uint64(len(payload)))
	return append(b, payload...)
}

// DecodeSettingsPayload parses a SETTINGS frame's payload (the id/value
// pairs following the frame header). Unknown identifiers are ignored,
// per RFC 9114 §7.2.4.
func DecodeSettingsPayload(b []byte) (Settings, error) {
	var s Settings
	for len(b) > 0 {
		id, n1, err := varint.Parse(b)
		if err != nil {
			return Settings{}, ErrInsufficientData
		}
		b = b[n1:]
		value, n2, err := varint.Parse(b)
		if err != nil {
			return Settings{}, ErrInsufficientData
		}
		b = b[n2:]
		switch id {
		case settingMaxHeaderListSize:
			s.MaxHeaderListSize = value
		case settingQpackMaxTableCapacity:
			s.QpackMaxTableCapacity = value
		case settingQpackBlockedStreams:
			s.QpackBlockedStreams = value
		}
	}
	return s, nil
}
