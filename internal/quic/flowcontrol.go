package quic

// FlowControl tracks a connection-level send/receive flow-control window,
// mirroring the peer-advertised and locally-advertised MAX_DATA limits.
type FlowControl struct {
	maxData     uint64 // limit the peer has given us to send
	sentData    uint64
	recvData    uint64 // bytes received so far
	recvMaxData uint64 // limit we have advertised to the peer

	recvHighWatermark uint64 // highest absolute offset observed, in order or not
}

// NewFlowControl returns connection-level flow control seeded with the
// initial send limit (from the peer's transport parameters) and the
// initial receive limit (what we advertise to the peer).
func NewFlowControl(initialMaxData, initialRecvMaxData uint64) *FlowControl {
	return &FlowControl{maxData: initialMaxData, recvMaxData: initialRecvMaxData}
}

// CanSend reports whether n more bytes may be sent without exceeding the
// peer's advertised MAX_DATA.
func (f *FlowControl) CanSend(n uint64) bool {
	return f.sentData+n <= f.maxData
}

// AddSentData records n bytes as sent. Callers must check CanSend first.
func (f *FlowControl) AddSentData(n uint64) {
	f.sentData += n
}

// CanReceive reports whether n more bytes may be accepted from the peer
// without exceeding our advertised receive limit.
func (f *FlowControl) CanReceive(n uint64) bool {
	return f.recvData+n <= f.recvMaxData
}

// AddRecvData records n bytes as received. Callers must check CanReceive
// first; violating it is a protocol error (ErrFlowControlViolation).
func (f *FlowControl) AddRecvData(n uint64) {
	f.recvData += n
}

// CanReceiveAt reports whether a byte range ending at absolute offset end
// fits within our advertised receive limit, independent of how much data
// has actually been delivered in order so far. RFC 9000 §4.1 bounds the
// highest offset a sender may ever reach, not the count of contiguously
// delivered bytes, so an out-of-order frame must be checked against its
// end offset rather than its length.
func (f *FlowControl) CanReceiveAt(end uint64) bool {
	return end <= f.recvMaxData
}

// ObserveRecvOffset records end as the highest absolute offset seen from
// the peer, in order or not. Callers must have checked CanReceiveAt on end
// first; violating it is a protocol error (ErrFlowControlViolation).
func (f *FlowControl) ObserveRecvOffset(end uint64) {
	if end > f.recvHighWatermark {
		f.recvHighWatermark = end
	}
}

// RecvHighWatermark returns the highest absolute receive offset observed
// so far, in order or not.
func (f *FlowControl) RecvHighWatermark() uint64 { return f.recvHighWatermark }

// UpdatePeerMaxData applies a MAX_DATA frame from the peer. Per RFC 9000
// §19.9, a MAX_DATA with a smaller value than previously advertised must
// be ignored, not applied.
func (f *FlowControl) UpdatePeerMaxData(v uint64) {
	if v > f.maxData {
		f.maxData = v
	}
}

// UpdateRecvMaxData raises our own advertised receive limit, for example
// after the application drains buffered data and we choose to grant more
// window.
func (f *FlowControl) UpdateRecvMaxData(v uint64) {
	if v > f.recvMaxData {
		f.recvMaxData = v
	}
}

// IsBlocked reports whether the send side has exhausted the peer's window.
func (f *FlowControl) IsBlocked() bool {
	return f.sentData >= f.maxData
}

// AvailableSendWindow returns how many more bytes may be sent right now.
func (f *FlowControl) AvailableSendWindow() uint64 {
	if f.sentData >= f.maxData {
		return 0
	}
	return f.maxData - f.sentData
}

// AutoIncrementWindow grants additional receive window once the consumed
// portion of the current window crosses half of it, a common auto-tuning
// heuristic: it keeps the peer from stalling on flow control while
// avoiding a MAX_DATA frame on every single byte received.
func (f *FlowControl) AutoIncrementWindow(increment uint64) {
	if f.consumed() >= f.recvMaxData/2 {
		f.UpdateRecvMaxData(f.recvMaxData + increment)
	}
}

// consumed returns the larger of the two ways this window's usage is
// tracked: cumulative in-order bytes delivered, and the highest absolute
// offset observed (in order or not). Connection-level accounting only
// ever touches recvData; stream-level accounting (stream.go) only ever
// touches recvHighWatermark, so either may be the meaningful one.
func (f *FlowControl) consumed() uint64 {
	if f.recvHighWatermark > f.recvData {
		return f.recvHighWatermark
	}
	return f.recvData
}

// MaxData returns the peer-advertised send limit.
func (f *FlowControl) MaxData() uint64 { return f.maxData }

// RecvMaxData returns our own advertised receive limit.
func (f *FlowControl) RecvMaxData() uint64 { return f.recvMaxData }

// RecvData returns the number of bytes received so far.
func (f *FlowControl) RecvData() uint64 { return f.recvData }

// StreamFlowControl is the stream-scoped analogue of FlowControl, with
// identical semantics applied to a single stream's MAX_STREAM_DATA window.
type StreamFlowControl struct {
	FlowControl
}

// NewStreamFlowControl returns stream-level flow control seeded the same
// way as NewFlowControl.
func NewStreamFlowControl(initialMaxData, initialRecvMaxData uint64) *StreamFlowControl {
	return &StreamFlowControl{FlowControl: FlowControl{maxData: initialMaxData, recvMaxData: initialRecvMaxData}}
}
