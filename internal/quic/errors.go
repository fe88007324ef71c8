package quic

import "errors"

// Sentinel error kinds, per the error-kind table: each maps to an RFC 9000
// §20 transport error code when the orchestrator synthesizes a
// CONNECTION_CLOSE frame.
var (
	// ErrInsufficientData means the buffer does not yet hold a complete
	// unit (packet, frame, varint). Not a protocol violation: the caller
	// should wait for more data rather than tear the connection down.
	ErrInsufficientData = errors.New("quic: insufficient data")

	// ErrMalformed means the peer sent data that violates wire-format
	// rules. Fatal: maps to TransportErrorFrameEncodingError.
	ErrMalformed = errors.New("quic: malformed input")

	// ErrFlowControlViolation means a peer exceeded an advertised flow
	// control window. Fatal: TransportErrorFlowControlError.
	ErrFlowControlViolation = errors.New("quic: flow control violation")

	// ErrStreamReset means the local application reset or was told the
	// peer reset a stream. Not fatal to the connection.
	ErrStreamReset = errors.New("quic: stream reset")

	// ErrIdleTimeout means no packet was received within the negotiated
	// idle timeout. The connection silently closes (no CONNECTION_CLOSE
	// is owed to a peer that may no longer exist).
	ErrIdleTimeout = errors.New("quic: idle timeout")

	// ErrPeerClosed means a CONNECTION_CLOSE frame was received from the
	// peer. Not an application-level failure.
	ErrPeerClosed = errors.New("quic: peer closed connection")

	// ErrOutputTruncated means GenerateDatagrams was given a buffer too
	// small to hold even a minimal datagram.
	ErrOutputTruncated = errors.New("quic: output buffer too small")

	// ErrReassemblyBudgetExceeded means buffered out-of-order stream data
	// exceeded the connection-wide reassembly budget. Fatal:
	// TransportErrorFlowControlError.
	ErrReassemblyBudgetExceeded = errors.New("quic: reassembly budget exceeded")

	// ErrUnknownStream means a frame referenced a stream ID the
	// connection has not created and is not permitted to create
	// (e.g. wrong perspective or exceeds MAX_STREAMS).
	ErrUnknownStream = errors.New("quic: unknown or disallowed stream")
)

// TransportErrorCode is an RFC 9000 §20 transport error code, carried in
// CONNECTION_CLOSE frames.
type TransportErrorCode uint64

const (
	TransportErrorNone                 TransportErrorCode = 0x0
	TransportErrorInternalError        TransportErrorCode = 0x1
	TransportErrorFlowControlError     TransportErrorCode = 0x3
	TransportErrorStreamLimitError     TransportErrorCode = 0x4
	TransportErrorStreamStateError     TransportErrorCode = 0x5
	TransportErrorFinalSizeError       TransportErrorCode = 0x6
	TransportErrorFrameEncodingError   TransportErrorCode = 0x7
	TransportErrorProtocolViolation    TransportErrorCode = 0x8
	TransportErrorInvalidToken         TransportErrorCode = 0xB
	TransportErrorApplicationError     TransportErrorCode = 0xC
	TransportErrorCryptoBufferExceeded TransportErrorCode = 0xD
)

// CodeFor maps a sentinel error to the transport error code the
// orchestrator should place in an outbound CONNECTION_CLOSE frame.
func CodeFor(err error) TransportErrorCode {
	switch {
	case errors.Is(err, ErrFlowControlViolation), errors.Is(err, ErrReassemblyBudgetExceeded):
		return TransportErrorFlowControlError
	case errors.Is(err, ErrMalformed):
		return TransportErrorFrameEncodingError
	case errors.Is(err, ErrUnknownStream):
		return TransportErrorStreamStateError
	default:
		return TransportErrorInternalError
	}
}
