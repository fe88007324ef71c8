// Package http3 implements the HTTP/3 framing, control-stream and
// per-request-stream layers (RFC 9114) on top of this module's own QUIC
// and QPACK implementations.
package http3

import (
	"errors"

	"github.com/fasterapi/quic3/internal/varint"
)

// FrameType enumerates the HTTP/3 frame types defined in RFC 9114 §7.2.
type FrameType uint64

const (
	FrameData        FrameType = 0x00
	FrameHeaders      FrameType = 0x01
	FrameCancelPush   FrameType = 0x03
	FrameSettings     FrameType = 0x04
	FramePushPromise  FrameType = 0x05
	FrameGoaway       FrameType = 0x07
	FrameMaxPushID    FrameType = 0x0d
)

// ErrInsufficientData is returned when a buffer does not yet hold a
// complete frame header or payload; callers should buffer more stream
// bytes and retry.
var ErrInsufficientData = errors.New("http3: insufficient data")

// ErrMissingSettings is returned when the first frame on a control stream
// is not SETTINGS, a protocol error per RFC 9114 §7.2.4.
var ErrMissingSettings = errors.New("http3: first control-stream frame was not SETTINGS")

// Header is a parsed HTTP/3 frame header: type and payload length. The
// payload itself follows immediately in the stream.
type Header struct {
	Type   FrameType
	Length uint64
}

// ParseFrameHeader decodes a frame's type and length varints from the
// front of b, returning how many bytes were consumed.
func ParseFrameHeader(b []byte) (Header, int, error) {
	typ, n1, err := varint.Parse(b)
	if err != nil {
		return Header{}, 0, ErrInsufficientData
	}
	length, n2, err := varint.Parse(b[n1:])
	if err != nil {
		return Header{}, 0, ErrInsufficientData
	}
	return Header{Type: FrameType(typ), Length: length}, n1 + n2, nil
}

// AppendFrameHeader appends the wire encoding of a frame header to b.
func AppendFrameHeader(b []byte, typ FrameType, length uint64) []byte {
	b = varint.Append(b, uint64(typ))
	b = varint.Append(b, length)
	return b
}

// AppendDataFrame appends a complete DATA frame carrying payload.
func AppendDataFrame(b []byte, payload []byte) []byte {
	b = AppendFrameHeader(b, FrameData, uint64(len(payload)))
	return append(b, payload...)
}

// AppendHeadersFrame appends a complete HEADERS frame carrying an
// already-QPACK-encoded field section.
func AppendHeadersFrame(b []byte, encodedFields []byte) []byte {
	b = AppendFrameHeader(b, FrameHeaders, uint64(len(encodedFields)))
	return append(b, encodedFields...)
}

// stream-type tags for unidirectional streams, RFC 9114 §3.2.
const (
	streamTypeControl = 0x00
)
