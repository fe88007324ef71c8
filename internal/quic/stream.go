package quic

import (
	"fmt"
	"sort"

	"github.com/fasterapi/quic3/internal/ringbuf"
)

// StreamState is the per-direction stream state machine of RFC 9000 §3.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamOpen
	StreamSendClosed
	StreamRecvClosed
	StreamClosed
	StreamReset
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamOpen:
		return "open"
	case StreamSendClosed:
		return "send_closed"
	case StreamRecvClosed:
		return "recv_closed"
	case StreamClosed:
		return "closed"
	case StreamReset:
		return "reset"
	default:
		return "unknown"
	}
}

// StreamType classifies a stream ID by its two low bits, per RFC 9000
// §2.1: bit 0 selects initiator (0=client, 1=server), bit 1 selects
// directionality (0=bidirectional, 1=unidirectional).
type StreamType uint8

const (
	StreamClientBidi StreamType = 0x00
	StreamServerBidi StreamType = 0x01
	StreamClientUni  StreamType = 0x02
	StreamServerUni  StreamType = 0x03
)

// TypeOf returns the StreamType encoded in a stream ID's low two bits.
func TypeOf(id uint64) StreamType { return StreamType(id & 0x3) }

// IsBidirectional reports whether a stream ID addresses a bidirectional
// stream (bit 1 clear).
func IsBidirectional(id uint64) bool { return id&0x2 == 0 }

// IsClientInitiated reports whether a stream ID was allocated by the
// client (bit 0 clear).
func IsClientInitiated(id uint64) bool { return id&0x1 == 0 }

// defaultStreamBufferSize is the ring buffer order used for both the send
// and receive halves of a stream, absent an explicit override.
const defaultStreamBufferSize = 64 * 1024

// ReassemblyBudget bounds the total bytes of out-of-order stream data a
// connection will buffer across all of its streams, per the gap-bounded
// reassembly design this implementation chose over rejecting reordered
// data outright.
type ReassemblyBudget struct {
	max, used int
}

// NewReassemblyBudget returns a budget capped at max bytes.
func NewReassemblyBudget(max int) *ReassemblyBudget {
	return &ReassemblyBudget{max: max}
}

func (r *ReassemblyBudget) reserve(n int) error {
	if r.used+n > r.max {
		return ErrReassemblyBudgetExceeded
	}
	r.used += n
	return nil
}

func (r *ReassemblyBudget) release(n int) {
	r.used -= n
	if r.used < 0 {
		r.used = 0
	}
}

// Used returns the number of bytes currently charged against the budget.
func (r *ReassemblyBudget) Used() int { return r.used }

type pendingRange struct {
	offset uint64
	data   []byte
}

// Stream is a single QUIC stream's bidirectional reliable-byte-stream
// engine: send/receive ring buffers, offset bookkeeping, FIN handling,
// RESET_STREAM/STOP_SENDING, stream-level flow control, and gap-bounded
// out-of-order reassembly.
type Stream struct {
	ID    uint64
	State StreamState

	sendBuf       *ringbuf.Buffer
	sendOffset    uint64 // absolute offset of the next byte to be sent
	sendConsumed  uint64 // absolute offset of the next byte to append to sendBuf
	finQueued     bool
	finSentOffset uint64
	finSent       bool

	recvBuf     *ringbuf.Buffer
	recvOffset  uint64 // absolute offset of the next byte expected/delivered
	finReceived bool
	finalSize   uint64
	pending     []pendingRange
	budget      *ReassemblyBudget

	SendFlow *StreamFlowControl
	RecvFlow *StreamFlowControl

	resetErrorCode uint64

	sendBlockedDue      bool // a STREAM_DATA_BLOCKED frame is owed
	sendBlockedNotified bool // already told the peer about the current window
	maxDataUpdateDue    bool // a MAX_STREAM_DATA frame is owed
}

// NewStream creates a stream engine for id with the given initial
// flow-control windows, charging out-of-order reassembly against budget.
func NewStream(id uint64, sendMaxData, recvMaxData uint64, budget *ReassemblyBudget) *Stream {
	return &Stream{
		ID:       id,
		State:    StreamIdle,
		sendBuf:  ringbuf.New(defaultStreamBufferSize),
		recvBuf:  ringbuf.New(defaultStreamBufferSize),
		budget:   budget,
		SendFlow: NewStreamFlowControl(sendMaxData, recvMaxData),
		RecvFlow: NewStreamFlowControl(sendMaxData, recvMaxData),
	}
}

// Write queues p to be sent on the stream, subject to both the local ring
// buffer's remaining capacity and the peer's stream flow-control window.
// It returns the number of bytes actually accepted, which may be less
// than len(p).
func (s *Stream) Write(p []byte) (int, error) {
	if s.State == StreamReset || s.State == StreamSendClosed || s.State == StreamClosed {
		return 0, fmt.Errorf("quic: write on %s stream: %w", s.State, ErrStreamReset)
	}
	avail := s.SendFlow.AvailableSendWindow()
	if avail == 0 {
		if !s.sendBlockedNotified {
			s.sendBlockedDue = true
		}
		return 0, nil
	}
	n := len(p)
	if uint64(n) > avail {
		n = int(avail)
		if !s.sendBlockedNotified {
			s.sendBlockedDue = true
		}
	}
	written := s.sendBuf.Write(p[:n])
	s.sendConsumed += uint64(written)
	s.SendFlow.AddSentData(uint64(written))
	if s.State == StreamIdle {
		s.State = StreamOpen
	}
	return written, nil
}

// TakeBlockedFrame returns a STREAM_DATA_BLOCKED frame (and true) the
// first time Write has observed an exhausted send window since the last
// window growth, or (Frame{}, false) if nothing is owed.
func (s *Stream) TakeBlockedFrame() (Frame, bool) {
	if !s.sendBlockedDue {
		return Frame{}, false
	}
	s.sendBlockedDue = false
	s.sendBlockedNotified = true
	return Frame{Type: FrameTypeStreamDataBlocked, StreamID: s.ID, MaximumData: s.SendFlow.MaxData()}, true
}

// ClearSendBlocked resets the STREAM_DATA_BLOCKED notification latch,
// called once the peer raises the stream's MAX_STREAM_DATA so a future
// exhaustion is reported again.
func (s *Stream) ClearSendBlocked() {
	s.sendBlockedNotified = false
}

// TakeMaxStreamDataFrame returns a MAX_STREAM_DATA frame (and true) the
// first time this stream's own advertised receive window has grown since
// the last call, or (Frame{}, false) otherwise.
func (s *Stream) TakeMaxStreamDataFrame() (Frame, bool) {
	if !s.maxDataUpdateDue {
		return Frame{}, false
	}
	s.maxDataUpdateDue = false
	return Frame{Type: FrameTypeMaxStreamData, StreamID: s.ID, MaximumData: s.RecvFlow.RecvMaxData()}, true
}

// CloseSend marks the send side as finished: once all queued bytes have
// been sent, NextSendFrame will emit a FIN.
func (s *Stream) CloseSend() {
	s.finQueued = true
}

// Reset abandons the send side immediately, discarding any buffered but
// unsent data and recording the application error code for the
// RESET_STREAM frame the connection will emit.
func (s *Stream) Reset(appErrorCode uint64) {
	s.resetErrorCode = appErrorCode
	s.sendBuf.Clear()
	s.State = StreamReset
}

// NextSendFrame builds the next outgoing STREAM frame carrying up to
// maxSize bytes of payload, or (Frame{}, false) if there is nothing to
// send. Callers are expected to have already confirmed congestion-window
// and pacing budget for the frame they intend to build.
func (s *Stream) NextSendFrame(maxSize int) (Frame, bool) {
	if s.finSent {
		return Frame{}, false
	}
	avail := s.sendBuf.Len()
	if avail == 0 {
		if s.finQueued && s.sendConsumed == s.sendOffset {
			s.finSent = true
			s.finSentOffset = s.sendOffset
			if s.State == StreamRecvClosed {
				s.State = StreamClosed
			} else if s.State != StreamReset {
				s.State = StreamSendClosed
			}
			return Frame{Type: 0x08, StreamID: s.ID, Offset: s.sendOffset, Fin: true}, true
		}
		return Frame{}, false
	}
	n := avail
	if n > maxSize {
		n = maxSize
	}
	if n == 0 {
		return Frame{}, false
	}
	buf := make([]byte, n)
	s.sendBuf.Peek(buf)
	s.sendBuf.Discard(n)
	offset := s.sendOffset
	s.sendOffset += uint64(n)

	fin := s.finQueued && s.sendBuf.Len() == 0 && s.sendConsumed == s.sendOffset
	if fin {
		s.finSent = true
		s.finSentOffset = s.sendOffset
		if s.State == StreamRecvClosed {
			s.State = StreamClosed
		} else if s.State != StreamReset {
			s.State = StreamSendClosed
		}
	}
	return Frame{Type: 0x08, StreamID: s.ID, Offset: offset, Data: buf, Fin: fin}, true
}

// ReceiveStreamFrame applies an inbound STREAM frame's data at the given
// absolute offset. Data arriving in order is delivered straight into the
// receive buffer; data arriving ahead of the current read offset is held
// as a pending out-of-order range (charged against the shared reassembly
// budget) until the gap closes.
func (s *Stream) ReceiveStreamFrame(offset uint64, data []byte, fin bool) error {
	if s.State == StreamReset {
		return nil
	}
	end := offset + uint64(len(data))
	if fin {
		if s.finReceived && s.finalSize != end {
			return fmt.Errorf("quic: conflicting final size on stream %d: %w", s.ID, ErrMalformed)
		}
		s.finReceived = true
		s.finalSize = end
	}
	if s.finReceived && end > s.finalSize {
		return fmt.Errorf("quic: data beyond final size on stream %d: %w", s.ID, ErrMalformed)
	}

	// RFC 9000 §4.1 bounds the highest byte offset a sender may ever
	// reach, regardless of delivery order: a single high-offset
	// out-of-order frame must be checked the same way as in-order data,
	// not admitted merely because it fits under the reassembly budget.
	if len(data) > 0 {
		if !s.RecvFlow.CanReceiveAt(end) {
			return fmt.Errorf("quic: stream %d recv flow control: %w", s.ID, ErrFlowControlViolation)
		}
		s.RecvFlow.ObserveRecvOffset(end)
	}

	if offset > s.recvOffset {
		if err := s.budget.reserve(len(data)); err != nil {
			return err
		}
		s.pending = append(s.pending, pendingRange{offset: offset, data: append([]byte(nil), data...)})
		sort.Slice(s.pending, func(i, j int) bool { return s.pending[i].offset < s.pending[j].offset })
		return nil
	}

	if offset < s.recvOffset {
		skip := s.recvOffset - offset
		if skip >= uint64(len(data)) {
			data = nil
		} else {
			data = data[skip:]
		}
	}
	if len(data) > 0 {
		s.recvBuf.Write(data)
		s.recvOffset += uint64(len(data))
	}

	s.spliceContiguousPending()

	if s.finReceived && s.recvOffset == s.finalSize {
		if s.State == StreamSendClosed {
			s.State = StreamClosed
		} else if s.State != StreamReset {
			s.State = StreamRecvClosed
		}
	}
	return nil
}

// spliceContiguousPending folds any buffered out-of-order ranges that now
// abut recvOffset into the receive buffer, releasing their reassembly
// budget as they are consumed.
func (s *Stream) spliceContiguousPending() {
	for {
		progressed := false
		for i, r := range s.pending {
			if r.offset > s.recvOffset {
				continue
			}
			data := r.data
			if r.offset < s.recvOffset {
				skip := s.recvOffset - r.offset
				if skip >= uint64(len(data)) {
					data = nil
				} else {
					data = data[skip:]
				}
			}
			// Flow control for this range was already checked and recorded
			// against its absolute offset when the frame first arrived, in
			// ReceiveStreamFrame; splicing it back in-order is bookkeeping,
			// not a fresh admission decision.
			if len(data) > 0 {
				s.recvBuf.Write(data)
				s.recvOffset += uint64(len(data))
			}
			s.budget.release(len(r.data))
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			progressed = true
			break
		}
		if !progressed {
			return
		}
	}
}

// Read drains up to len(p) bytes of in-order received data.
func (s *Stream) Read(p []byte) (int, error) {
	n := s.recvBuf.Read(p)
	return n, nil
}

// AtEOF reports whether the peer's FIN has been received and every byte
// up to the final size has been placed into the receive buffer (though
// not necessarily read by the application yet).
func (s *Stream) AtEOF() bool {
	return s.finReceived && s.recvOffset == s.finalSize
}
