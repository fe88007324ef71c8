package http3

import (
	"errors"

	"github.com/fasterapi/quic3/internal/qpack"
)

// ErrProtocol marks a structural HTTP/3 violation on a unidirectional
// stream: a second peer control stream, or a push stream opened by the
// peer.
var ErrProtocol = errors.New("http3: protocol error on request stream")

// Request is an assembled HTTP/3 request: the five pseudo-headers this
// implementation recognizes, split from the regular header fields, plus
// any DATA frame bytes received before the stream's FIN.
type Request struct {
	Method    string
	Path      string
	Scheme    string
	Authority string
	Protocol  string // :protocol, present for Extended CONNECT (RFC 9220)
	Headers   []qpack.Entry
	Body      []byte
}

// RequestAssembler incrementally parses DATA/HEADERS frames off one
// request stream's byte sequence as it arrives across repeated Feed
// calls, since a single ProcessDatagram call may deliver only part of a
// frame.
type RequestAssembler struct {
	dec *qpack.Decoder

	buf         []byte
	req         Request
	headersSeen bool
}

// NewRequestAssembler creates an assembler that decodes HEADERS frames
// with dec (nil selects a static-table-only decoder).
func NewRequestAssembler(dec *qpack.Decoder) *RequestAssembler {
	if dec == nil {
		dec = qpack.NewDecoder(nil)
	}
	return &RequestAssembler{dec: dec}
}

// Feed appends newly-read stream bytes and parses as many complete
// frames as are available. When fin is true and a HEADERS frame has been
// seen, it returns the assembled Request.
func (a *RequestAssembler) Feed(data []byte, fin bool) (*Request, error) {
	a.buf = append(a.buf, data...)

	for {
		hdr, n, err := ParseFrameHeader(a.buf)
		if err != nil {
			break // not enough data yet for the next frame header
		}
		if uint64(len(a.buf)-n) < hdr.Length {
			break // header parsed but payload not fully arrived
		}
		payload := a.buf[n : n+int(hdr.Length)]
		a.buf = a.buf[n+int(hdr.Length):]

		switch hdr.Type {
		case FrameHeaders:
			fields, err := a.dec.DecodeFieldSection(payload)
			if err != nil {
				return nil, err
			}
			if err := applyFields(&a.req, fields); err != nil {
				return nil, err
			}
			a.headersSeen = true
		case FrameData:
			a.req.Body = append(a.req.Body, payload...)
		default:
			// Unknown frame types are skipped per RFC 9114 §9.
		}
	}

	if fin && a.headersSeen {
		return &a.req, nil
	}
	return nil, nil
}

// applyFields splits a decoded field section into this implementation's
// five recognized pseudo-headers and the regular header list.
func applyFields(req *Request, fields []qpack.Entry) error {
	for _, f := range fields {
		switch f.Name {
		case ":method":
			req.Method = f.Value
		case ":path":
			req.Path = f.Value
		case ":scheme":
			req.Scheme = f.Value
		case ":authority":
			req.Authority = f.Value
		case ":protocol":
			req.Protocol = f.Value
		default:
			req.Headers = append(req.Headers, f)
		}
	}
	return nil
}

// EncodeResponse appends the wire bytes for a response onto dst: a
// QPACK-compressed HEADERS frame carrying :status plus headers, followed
// by a DATA frame carrying body (no DATA frame when body is empty). Passing a buffer drawn from a pool
// (dst[:0]) avoids an allocation on this hot path; nil is fine too.
func EncodeResponse(dst []byte, enc *qpack.Encoder, status int, headers []qpack.Entry, body []byte) []byte {
	if enc == nil {
		enc = qpack.NewEncoder(nil)
	}
	fields := make([]qpack.Entry, 0, len(headers)+1)
	fields = append(fields, qpack.Entry{Name: ":status", Value: statusText(status)})
	fields = append(fields, headers...)

	b := AppendHeadersFrame(dst, enc.EncodeFieldSection(fields))
	if len(body) > 0 {
		b = AppendDataFrame(b, body)
	}
	return b
}

func statusText(status int) string {
	const digits = "0123456789"
	if status < 0 {
		status = 0
	}
	b := make([]byte, 3)
	b[2] = digits[status%10]
	status /= 10
	b[1] = digits[status%10]
	status /= 10
	b[0] = digits[status%10]
	return string(b)
}
