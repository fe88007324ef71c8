package quic

import (
	"fmt"

	"github.com/fasterapi/quic3/internal/varint"
)

// FrameType identifies a QUIC frame, per RFC 9000 §12.4.
type FrameType uint64

const (
	FrameTypePadding          FrameType = 0x00
	FrameTypePing             FrameType = 0x01
	FrameTypeAck              FrameType = 0x02
	FrameTypeAckECN           FrameType = 0x03
	FrameTypeResetStream      FrameType = 0x04
	FrameTypeStopSending      FrameType = 0x05
	FrameTypeCrypto           FrameType = 0x06
	FrameTypeNewToken         FrameType = 0x07
	FrameTypeStream           FrameType = 0x08 // 0x08-0x0f, low 3 bits are flags
	FrameTypeMaxData          FrameType = 0x10
	FrameTypeMaxStreamData    FrameType = 0x11
	FrameTypeMaxStreamsBidi   FrameType = 0x12
	FrameTypeMaxStreamsUni    FrameType = 0x13
	FrameTypeDataBlocked      FrameType = 0x14
	FrameTypeStreamDataBlocked FrameType = 0x15
	FrameTypeNewConnectionID  FrameType = 0x18
	FrameTypeRetireConnectionID FrameType = 0x19
	FrameTypePathChallenge    FrameType = 0x1a
	FrameTypePathResponse     FrameType = 0x1b
	FrameTypeConnectionClose  FrameType = 0x1c // transport-level
	FrameTypeConnectionCloseApp FrameType = 0x1d // application-level
	FrameTypeHandshakeDone    FrameType = 0x1e
	FrameTypeDatagram         FrameType = 0x30 // 0x30-0x31, low bit is length-flag
)

// streamFlagFin/Len/Off are the low 3 bits of a STREAM frame's type byte.
const (
	streamFlagOff = 0x04
	streamFlagLen = 0x02
	streamFlagFin = 0x01
)

const datagramFlagLen = 0x01

// Frame is the union of all frame payloads this implementation handles.
// Exactly one of the typed fields is meaningful, selected by Type.
type Frame struct {
	Type FrameType

	// ACK / ACK_ECN
	LargestAcked   uint64
	AckDelay       uint64
	AckRanges      []AckRange // first entry covers [LargestAcked-First.Len+1, LargestAcked]
	ECNCounts      [3]uint64 // ECT0, ECT1, CE; valid only for FrameTypeAckECN

	// RESET_STREAM
	StreamID       uint64
	AppErrorCode   uint64
	FinalSize      uint64

	// STOP_SENDING
	// reuses StreamID, AppErrorCode

	// CRYPTO / STREAM / DATAGRAM
	Offset uint64
	Data   []byte
	Fin    bool // STREAM only

	// NEW_TOKEN
	Token []byte

	// MAX_DATA / DATA_BLOCKED
	MaximumData uint64

	// MAX_STREAM_DATA / STREAM_DATA_BLOCKED
	// reuses StreamID, MaximumData

	// MAX_STREAMS
	MaximumStreams uint64

	// NEW_CONNECTION_ID
	SequenceNumber      uint64
	RetirePriorTo       uint64
	ConnID              ConnectionID
	StatelessResetToken [16]byte

	// RETIRE_CONNECTION_ID
	// reuses SequenceNumber

	// PATH_CHALLENGE / PATH_RESPONSE
	PathData [8]byte

	// CONNECTION_CLOSE
	ErrorCode    uint64
	FrameTypeRef uint64 // transport close only: the frame type that caused the error
	Reason       string
}

// AckRange is one (gap, length) entry of an ACK frame's range list, already
// resolved into an absolute packet-number interval.
type AckRange struct {
	Smallest uint64
	Largest  uint64
}

// ParseFrame decodes a single frame from the front of b, returning the
// frame, the number of bytes consumed, and an error.
func ParseFrame(b []byte) (Frame, int, error) {
	if len(b) == 0 {
		return Frame{}, 0, ErrInsufficientData
	}
	typ, n, err := varint.Parse(b)
	if err != nil {
		return Frame{}, 0, err
	}
	off := n

	switch {
	case typ == uint64(FrameTypePadding):
		return Frame{Type: FrameTypePadding}, off, nil
	case typ == uint64(FrameTypePing):
		return Frame{Type: FrameTypePing}, off, nil
	case typ == uint64(FrameTypeAck) || typ == uint64(FrameTypeAckECN):
		return parseAckFrame(b, off, FrameType(typ))
	case typ == uint64(FrameTypeResetStream):
		return parseResetStream(b, off)
	case typ == uint64(FrameTypeStopSending):
		return parseStopSending(b, off)
	case typ == uint64(FrameTypeCrypto):
		return parseCrypto(b, off)
	case typ == uint64(FrameTypeNewToken):
		return parseNewToken(b, off)
	case typ >= 0x08 && typ <= 0x0f:
		return parseStream(b, off, typ)
	case typ == uint64(FrameTypeMaxData):
		return parseMaxData(b, off)
	case typ == uint64(FrameTypeMaxStreamData):
		return parseMaxStreamData(b, off)
	case typ == uint64(FrameTypeMaxStreamsBidi) || typ == uint64(FrameTypeMaxStreamsUni):
		return parseMaxStreams(b, off, FrameType(typ))
	case typ == uint64(FrameTypeDataBlocked):
		return parseDataBlocked(b, off)
	case typ == uint64(FrameTypeStreamDataBlocked):
		return parseStreamDataBlocked(b, off)
	case typ == uint64(FrameTypeNewConnectionID):
		return parseNewConnectionID(b, off)
	case typ == uint64(FrameTypeRetireConnectionID):
		return parseRetireConnectionID(b, off)
	case typ == uint64(FrameTypePathChallenge):
		return parsePathChallengeResponse(b, off, FrameTypePathChallenge)
	case typ == uint64(FrameTypePathResponse):
		return parsePathChallengeResponse(b, off, FrameTypePathResponse)
	case typ == uint64(FrameTypeConnectionClose) || typ == uint64(FrameTypeConnectionCloseApp):
		return parseConnectionClose(b, off, FrameType(typ))
	case typ == uint64(FrameTypeHandshakeDone):
		return Frame{Type: FrameTypeHandshakeDone}, off, nil
	case typ == uint64(FrameTypeDatagram) || typ == uint64(FrameTypeDatagram)+1:
		return parseDatagram(b, off, typ)
	default:
		return Frame{}, 0, fmt.Errorf("quic: unknown frame type %#x: %w", typ, ErrMalformed)
	}
}

func readVarint(b []byte, off int) (uint64, int, error) {
	if off > len(b) {
		return 0, off, ErrInsufficientData
	}
	v, n, err := varint.Parse(b[off:])
	if err != nil {
		return 0, off, err
	}
	return v, off + n, nil
}

func readBytes(b []byte, off int, n uint64) ([]byte, int, error) {
	if uint64(len(b)-off) < n {
		return nil, off, ErrInsufficientData
	}
	return append([]byte(nil), b[off:off+int(n)]...), off + int(n), nil
}

func parseAckFrame(b []byte, off int, typ FrameType) (Frame, int, error) {
	f := Frame{Type: typ}
	var err error
	f.LargestAcked, off, err = readVarint(b, off)
	if err != nil {
		return Frame{}, 0, err
	}
	f.AckDelay, off, err = readVarint(b, off)
	if err != nil {
		return Frame{}, 0, err
	}
	rangeCount, n, err := readVarint(b, off)
	if err != nil {
		return Frame{}, 0, err
	}
	off = n

	firstRangeLen, n2, err := readVarint(b, off)
	if err != nil {
		return Frame{}, 0, err
	}
	off = n2
	if firstRangeLen > f.LargestAcked {
		return Frame{}, 0, fmt.Errorf("quic: ack first range exceeds largest acked: %w", ErrMalformed)
	}
	largest := f.LargestAcked
	smallest := largest - firstRangeLen
	f.AckRanges = append(f.AckRanges, AckRange{Smallest: smallest, Largest: largest})

	for i := uint64(0); i < rangeCount; i++ {
		gap, n3, err := readVarint(b, off)
		if err != nil {
			return Frame{}, 0, err
		}
		off = n3
		length, n4, err := readVarint(b, off)
		if err != nil {
			return Frame{}, 0, err
		}
		off = n4
		if smallest < gap+2 {
			return Frame{}, 0, fmt.Errorf("quic: ack range underflow: %w", ErrMalformed)
		}
		largest = smallest - gap - 2
		if length > largest {
			return Frame{}, 0, fmt.Errorf("quic: ack range underflow: %w", ErrMalformed)
		}
		smallest = largest - length
		f.AckRanges = append(f.AckRanges, AckRange{Smallest: smallest, Largest: largest})
	}

	if typ == FrameTypeAckECN {
		for i := range f.ECNCounts {
			f.ECNCounts[i], off, err = readVarint(b, off)
			if err != nil {
				return Frame{}, 0, err
			}
		}
	}
	return f, off, nil
}

func parseResetStream(b []byte, off int) (Frame, int, error) {
	f := Frame{Type: FrameTypeResetStream}
	var err error
	if f.StreamID, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	if f.AppErrorCode, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	if f.FinalSize, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	return f, off, nil
}

func parseStopSending(b []byte, off int) (Frame, int, error) {
	f := Frame{Type: FrameTypeStopSending}
	var err error
	if f.StreamID, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	if f.AppErrorCode, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	return f, off, nil
}

func parseCrypto(b []byte, off int) (Frame, int, error) {
	f := Frame{Type: FrameTypeCrypto}
	var err error
	if f.Offset, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	length, n, err := readVarint(b, off)
	if err != nil {
		return Frame{}, 0, err
	}
	off = n
	if f.Data, off, err = readBytes(b, off, length); err != nil {
		return Frame{}, 0, err
	}
	return f, off, nil
}

func parseNewToken(b []byte, off int) (Frame, int, error) {
	f := Frame{Type: FrameTypeNewToken}
	length, off2, err := readVarint(b, off)
	if err != nil {
		return Frame{}, 0, err
	}
	off = off2
	if f.Token, off, err = readBytes(b, off, length); err != nil {
		return Frame{}, 0, err
	}
	return f, off, nil
}

func parseStream(b []byte, off int, typ uint64) (Frame, int, error) {
	f := Frame{Type: FrameType(typ)}
	var err error
	if f.StreamID, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	if typ&streamFlagOff != 0 {
		if f.Offset, off, err = readVarint(b, off); err != nil {
			return Frame{}, 0, err
		}
	}
	if typ&streamFlagLen != 0 {
		length, n, err := readVarint(b, off)
		if err != nil {
			return Frame{}, 0, err
		}
		off = n
		if f.Data, off, err = readBytes(b, off, length); err != nil {
			return Frame{}, 0, err
		}
	} else {
		f.Data = append([]byte(nil), b[off:]...)
		off = len(b)
	}
	f.Fin = typ&streamFlagFin != 0
	return f, off, nil
}

func parseMaxData(b []byte, off int) (Frame, int, error) {
	f := Frame{Type: FrameTypeMaxData}
	var err error
	if f.MaximumData, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	return f, off, nil
}

func parseMaxStreamData(b []byte, off int) (Frame, int, error) {
	f := Frame{Type: FrameTypeMaxStreamData}
	var err error
	if f.StreamID, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	if f.MaximumData, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	return f, off, nil
}

func parseMaxStreams(b []byte, off int, typ FrameType) (Frame, int, error) {
	f := Frame{Type: typ}
	var err error
	if f.MaximumStreams, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	return f, off, nil
}

func parseDataBlocked(b []byte, off int) (Frame, int, error) {
	f := Frame{Type: FrameTypeDataBlocked}
	var err error
	if f.MaximumData, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	return f, off, nil
}

func parseStreamDataBlocked(b []byte, off int) (Frame, int, error) {
	f := Frame{Type: FrameTypeStreamDataBlocked}
	var err error
	if f.StreamID, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	if f.MaximumData, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	return f, off, nil
}

func parseNewConnectionID(b []byte, off int) (Frame, int, error) {
	f := Frame{Type: FrameTypeNewConnectionID}
	var err error
	if f.SequenceNumber, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	if f.RetirePriorTo, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	if off >= len(b) {
		return Frame{}, 0, ErrInsufficientData
	}
	cidLen := int(b[off])
	off++
	if cidLen > MaxConnectionIDLen {
		return Frame{}, 0, fmt.Errorf("quic: new_connection_id length: %w", ErrMalformed)
	}
	cidBytes, off2, err := readBytes(b, off, uint64(cidLen))
	if err != nil {
		return Frame{}, 0, err
	}
	off = off2
	f.ConnID, err = NewConnectionID(cidBytes)
	if err != nil {
		return Frame{}, 0, err
	}
	if len(b)-off < 16 {
		return Frame{}, 0, ErrInsufficientData
	}
	copy(f.StatelessResetToken[:], b[off:off+16])
	off += 16
	return f, off, nil
}

func parseRetireConnectionID(b []byte, off int) (Frame, int, error) {
	f := Frame{Type: FrameTypeRetireConnectionID}
	var err error
	if f.SequenceNumber, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	return f, off, nil
}

func parsePathChallengeResponse(b []byte, off int, typ FrameType) (Frame, int, error) {
	f := Frame{Type: typ}
	if len(b)-off < 8 {
		return Frame{}, 0, ErrInsufficientData
	}
	copy(f.PathData[:], b[off:off+8])
	off += 8
	return f, off, nil
}

func parseConnectionClose(b []byte, off int, typ FrameType) (Frame, int, error) {
	f := Frame{Type: typ}
	var err error
	if f.ErrorCode, off, err = readVarint(b, off); err != nil {
		return Frame{}, 0, err
	}
	if typ == FrameTypeConnectionClose {
		if f.FrameTypeRef, off, err = readVarint(b, off); err != nil {
			return Frame{}, 0, err
		}
	}
	reasonLen, n, err := readVarint(b, off)
	if err != nil {
		return Frame{}, 0, err
	}
	off = n
	reasonBytes, off2, err := readBytes(b, off, reasonLen)
	if err != nil {
		return Frame{}, 0, err
	}
	off = off2
	f.Reason = string(reasonBytes)
	return f, off, nil
}

func parseDatagram(b []byte, off int, typ uint64) (Frame, int, error) {
	f := Frame{Type: FrameType(typ)}
	if typ&datagramFlagLen != 0 {
		length, n, err := readVarint(b, off)
		if err != nil {
			return Frame{}, 0, err
		}
		off = n
		var err2 error
		if f.Data, off, err2 = readBytes(b, off, length); err2 != nil {
			return Frame{}, 0, err2
		}
	} else {
		f.Data = append([]byte(nil), b[off:]...)
		off = len(b)
	}
	return f, off, nil
}

// Serialize appends the frame's wire encoding to b.
func (f Frame) Serialize(b []byte) []byte {
	switch f.Type {
	case FrameTypePadding, FrameTypePing, FrameTypeHandshakeDone:
		return varint.Append(b, uint64(f.Type))
	case FrameTypeAck, FrameTypeAckECN:
		return serializeAck(b, f)
	case FrameTypeResetStream:
		b = varint.Append(b, uint64(FrameTypeResetStream))
		b = varint.Append(b, f.StreamID)
		b = varint.Append(b, f.AppErrorCode)
		return varint.Append(b, f.FinalSize)
	case FrameTypeStopSending:
		b = varint.Append(b, uint64(FrameTypeStopSending))
		b = varint.Append(b, f.StreamID)
		return varint.Append(b, f.AppErrorCode)
	case FrameTypeCrypto:
		b = varint.Append(b, uint64(FrameTypeCrypto))
		b = varint.Append(b, f.Offset)
		b = varint.Append(b, uint64(len(f.Data)))
		return append(b, f.Data...)
	case FrameTypeNewToken:
		b = varint.Append(b, uint64(FrameTypeNewToken))
		b = varint.Append(b, uint64(len(f.Token)))
		return append(b, f.Token...)
	case FrameTypeMaxData:
		b = varint.Append(b, uint64(FrameTypeMaxData))
		return varint.Append(b, f.MaximumData)
	case FrameTypeMaxStreamData:
		b = varint.Append(b, uint64(FrameTypeMaxStreamData))
		b = varint.Append(b, f.StreamID)
		return varint.Append(b, f.MaximumData)
	case FrameTypeMaxStreamsBidi, FrameTypeMaxStreamsUni:
		b = varint.Append(b, uint64(f.Type))
		return varint.Append(b, f.MaximumStreams)
	case FrameTypeDataBlocked:
		b = varint.Append(b, uint64(FrameTypeDataBlocked))
		return varint.Append(b, f.MaximumData)
	case FrameTypeStreamDataBlocked:
		b = varint.Append(b, uint64(FrameTypeStreamDataBlocked))
		b = varint.Append(b, f.StreamID)
		return varint.Append(b, f.MaximumData)
	case FrameTypeNewConnectionID:
		b = varint.Append(b, uint64(FrameTypeNewConnectionID))
		b = varint.Append(b, f.SequenceNumber)
		b = varint.Append(b, f.RetirePriorTo)
		b = append(b, byte(f.ConnID.Len()))
		b = append(b, f.ConnID.Bytes()...)
		return append(b, f.StatelessResetToken[:]...)
	case FrameTypeRetireConnectionID:
		b = varint.Append(b, uint64(FrameTypeRetireConnectionID))
		return varint.Append(b, f.SequenceNumber)
	case FrameTypePathChallenge, FrameTypePathResponse:
		b = varint.Append(b, uint64(f.Type))
		return append(b, f.PathData[:]...)
	case FrameTypeConnectionClose, FrameTypeConnectionCloseApp:
		b = varint.Append(b, uint64(f.Type))
		b = varint.Append(b, f.ErrorCode)
		if f.Type == FrameTypeConnectionClose {
			b = varint.Append(b, f.FrameTypeRef)
		}
		b = varint.Append(b, uint64(len(f.Reason)))
		return append(b, f.Reason...)
	case FrameTypeDatagram, FrameTypeDatagram + 1:
		typ := uint64(FrameTypeDatagram) | datagramFlagLen
		b = varint.Append(b, typ)
		b = varint.Append(b, uint64(len(f.Data)))
		return append(b, f.Data...)
	default:
		// STREAM frame, with all three flag bits meaningful.
		if f.Type >= 0x08 && f.Type <= 0x0f {
			return serializeStream(b, f)
		}
		return b
	}
}

func serializeStream(b []byte, f Frame) []byte {
	typ := uint64(0x08) | streamFlagOff | streamFlagLen
	if f.Fin {
		typ |= streamFlagFin
	}
	b = varint.Append(b, typ)
	b = varint.Append(b, f.StreamID)
	b = varint.Append(b, f.Offset)
	b = varint.Append(b, uint64(len(f.Data)))
	return append(b, f.Data...)
}

func serializeAck(b []byte, f Frame) []byte {
	b = varint.Append(b, uint64(f.Type))
	b = varint.Append(b, f.LargestAcked)
	b = varint.Append(b, f.AckDelay)
	b = varint.Append(b, uint64(len(f.AckRanges)-1))
	b = varint.Append(b, f.AckRanges[0].Largest-f.AckRanges[0].Smallest)
	for i := 1; i < len(f.AckRanges); i++ {
		prevSmallest := f.AckRanges[i-1].Smallest
		cur := f.AckRanges[i]
		gap := prevSmallest - cur.Largest - 2
		length := cur.Largest - cur.Smallest
		b = varint.Append(b, gap)
		b = varint.Append(b, length)
	}
	if f.Type == FrameTypeAckECN {
		for _, c := range f.ECNCounts {
			b = varint.Append(b, c)
		}
	}
	return b
}
