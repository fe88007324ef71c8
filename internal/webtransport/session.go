// Package webtransport implements a WebTransport session (RFC 9297) on
// top of an HTTP/3 Extended CONNECT request carried directly over this
// module's QUIC connection.
package webtransport

import (
	"errors"
	"fmt"

	"github.com/fasterapi/quic3/internal/http3"
	"github.com/fasterapi/quic3/internal/qpack"
	"github.com/fasterapi/quic3/internal/quic"
)

// State is the WebTransport session's lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// maxPendingDatagrams bounds the outgoing datagram queue so a session
// that sends faster than the path can drain cannot grow without limit.
const maxPendingDatagrams = 256

var (
	ErrUnknownStream          = errors.New("webtransport: unknown stream")
	ErrDatagramQueueFull      = errors.New("webtransport: pending datagram queue full")
	ErrNotWebTransportConnect = errors.New("webtransport: CONNECT request missing :protocol=webtransport")
	ErrSessionStreamMissing   = errors.New("webtransport: session stream not yet established")
)

// StreamDataCallback delivers bytes received on a stream this session
// owns or has observed the peer open.
type StreamDataCallback func(streamID uint64, data []byte)

// DatagramCallback delivers one received, unordered, unreliable datagram.
type DatagramCallback func(data []byte)

// StreamOpenedCallback fires when the peer opens a new stream on the
// session's connection.
type StreamOpenedCallback func(streamID uint64, isBidirectional bool)

// Stats mirrors the simple counters the original implementation tracked.
type Stats struct {
	StreamsOpened     uint64
	DatagramsSent     uint64
	DatagramsReceived uint64
}

// Session is a single WebTransport session multiplexed over one QUIC
// connection's streams and datagrams, as negotiated by an HTTP/3
// Extended CONNECT request/response pair on one bidirectional stream.
type Session struct {
	quicConn *quic.Connection
	encoder  *qpack.Encoder
	decoder  *qpack.Decoder
	isServer bool
	state    State

	sessionStreamID    uint64
	sessionStreamKnown bool
	connectBuf         []byte
	connectPath        string
	connectAuthority   string

	activeStreams map[uint64]bool // stream ID -> is bidirectional
	datagramQueue [][]byte

	OnStreamOpened       StreamOpenedCallback
	OnStreamData         StreamDataCallback
	OnUnidirectionalData StreamDataCallback
	OnDatagram           DatagramCallback
	OnStreamClosed       func(streamID uint64)
	OnConnectionClosed   func(errorCode uint64, reason string)

	totalStreamsOpened     uint64
	totalDatagramsSent     uint64
	totalDatagramsReceived uint64
}

// NewSession wraps an established *quic.Connection. isServer must match
// the connection's own perspective.
func NewSession(quicConn *quic.Connection, isServer bool) *Session {
	return &Session{
		quicConn:      quicConn,
		encoder:       qpack.NewEncoder(nil),
		decoder:       qpack.NewDecoder(nil),
		isServer:      isServer,
		state:         StateConnecting,
		activeStreams: make(map[uint64]bool),
	}
}

// Connect sends the client-side HTTP/3 Extended CONNECT request that
// negotiates this session, on a newly-opened bidirectional stream.
func (s *Session) Connect(path, authority string) error {
	if s.isServer {
		return fmt.Errorf("webtransport: server sessions do not call Connect")
	}
	str, err := s.quicConn.OpenStream()
	if err != nil {
		return err
	}
	fields := []qpack.Entry{
		{Name: ":method", Value: "CONNECT"},
		{Name: ":protocol", Value: "webtransport"},
		{Name: ":scheme", Value: "https"},
		{Name: ":path", Value: path},
		{Name: ":authority", Value: authority},
	}
	b := http3.AppendHeadersFrame(nil, s.encoder.EncodeFieldSection(fields))
	if _, err := str.Write(b); err != nil {
		return err
	}
	s.sessionStreamID = str.ID
	s.sessionStreamKnown = true
	return nil
}

// Path and Authority return the CONNECT request's target, valid on the
// server side once a CONNECT request has been observed (before Accept).
func (s *Session) Path() string      { return s.connectPath }
func (s *Session) Authority() string { return s.connectAuthority }

// Accept sends the server-side 2xx response that completes session
// negotiation, transitioning the session to StateConnected.
func (s *Session) Accept() error {
	str, ok := s.quicConn.GetStream(s.sessionStreamID)
	if !ok {
		return ErrSessionStreamMissing
	}
	fields := []qpack.Entry{{Name: ":status", Value: "200"}}
	b := http3.AppendHeadersFrame(nil, s.encoder.EncodeFieldSection(fields))
	if _, err := str.Write(b); err != nil {
		return err
	}
	s.state = StateConnected
	return nil
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// IsConnected reports whether the session has completed negotiation.
func (s *Session) IsConnected() bool { return s.state == StateConnected }

// IsClosed reports whether the session has been closed.
func (s *Session) IsClosed() bool { return s.state == StateClosed }

// OpenStream allocates a new bidirectional WebTransport stream.
func (s *Session) OpenStream() (uint64, error) {
	str, err := s.quicConn.OpenStream()
	if err != nil {
		return 0, err
	}
	s.activeStreams[str.ID] = true
	s.totalStreamsOpened++
	return str.ID, nil
}

// OpenUnidirectionalStream allocates a new send-only WebTransport stream.
func (s *Session) OpenUnidirectionalStream() (uint64, error) {
	str, err := s.quicConn.OpenUniStream()
	if err != nil {
		return 0, err
	}
	s.activeStreams[str.ID] = false
	s.totalStreamsOpened++
	return str.ID, nil
}

// SendStream writes data to an owned or peer-opened stream's send
// buffer.
func (s *Session) SendStream(streamID uint64, data []byte) (int, error) {
	str, ok := s.quicConn.GetStream(streamID)
	if !ok {
		return 0, ErrUnknownStream
	}
	return str.Write(data)
}

// CloseStream sends FIN on streamID, a graceful one-directional close.
func (s *Session) CloseStream(streamID uint64) error {
	str, ok := s.quicConn.GetStream(streamID)
	if !ok {
		return ErrUnknownStream
	}
	str.CloseSend()
	return nil
}

// SendDatagram enqueues an unreliable, unordered datagram for the next
// FlushDatagrams call. It returns ErrDatagramQueueFull once
// maxPendingDatagrams datagrams are already queued.
func (s *Session) SendDatagram(data []byte) error {
	if len(s.datagramQueue) >= maxPendingDatagrams {
		return ErrDatagramQueueFull
	}
	s.datagramQueue = append(s.datagramQueue, append([]byte(nil), data...))
	return nil
}

// FlushDatagrams drains the outgoing datagram queue into the underlying
// QUIC connection's queue, to be called before its GenerateDatagrams.
// Within a packet, GenerateDatagrams places datagrams after the ACK and
// stream data.
func (s *Session) FlushDatagrams() {
	for _, d := range s.datagramQueue {
		s.quicConn.QueueDatagram(d)
		s.totalDatagramsSent++
	}
	s.datagramQueue = nil
}

// Poll drains newly-arrived bytes and datagrams since the last call,
// advances CONNECT negotiation, classifies peer-initiated streams, and
// invokes the registered callbacks. Call it after
// *quic.Connection.ProcessDatagram.
func (s *Session) Poll() error {
	for _, id := range s.quicConn.DrainNewPeerStreams() {
		if s.isServer && !s.sessionStreamKnown && quic.IsBidirectional(id) {
			s.sessionStreamID = id
			s.sessionStreamKnown = true
			continue
		}
		if s.state != StateConnected {
			continue // no WT streams are expected before negotiation completes
		}
		bidi := quic.IsBidirectional(id)
		s.activeStreams[id] = bidi
		s.totalStreamsOpened++
		if s.OnStreamOpened != nil {
			s.OnStreamOpened(id, bidi)
		}
	}

	if s.sessionStreamKnown && s.state == StateConnecting {
		if err := s.pollSessionStream(); err != nil {
			return err
		}
	}

	for id, bidi := range s.activeStreams {
		str, ok := s.quicConn.GetStream(id)
		if !ok {
			continue
		}
		for {
			buf := make([]byte, 4096)
			n, _ := str.Read(buf)
			if n == 0 {
				break
			}
			if bidi {
				if s.OnStreamData != nil {
					s.OnStreamData(id, buf[:n])
				}
			} else if s.OnUnidirectionalData != nil {
				s.OnUnidirectionalData(id, buf[:n])
			}
		}
		if str.AtEOF() {
			delete(s.activeStreams, id)
			if s.OnStreamClosed != nil {
				s.OnStreamClosed(id)
			}
		}
	}

	for {
		d, ok := s.quicConn.PopDatagram()
		if !ok {
			break
		}
		s.totalDatagramsReceived++
		if s.OnDatagram != nil {
			s.OnDatagram(d)
		}
	}
	return nil
}

// pollSessionStream reads and, once complete, parses the single HEADERS
// frame carrying either the CONNECT request (server side) or its
// response (client side).
func (s *Session) pollSessionStream() error {
	str, ok := s.quicConn.GetStream(s.sessionStreamID)
	if !ok {
		return nil
	}
	buf := make([]byte, 4096)
	n, _ := str.Read(buf)
	if n == 0 {
		return nil
	}
	s.connectBuf = append(s.connectBuf, buf[:n]...)

	hdr, hn, err := http3.ParseFrameHeader(s.connectBuf)
	if err != nil {
		return nil
	}
	if uint64(len(s.connectBuf)-hn) < hdr.Length {
		return nil
	}
	if hdr.Type != http3.FrameHeaders {
		return fmt.Errorf("webtransport: expected HEADERS frame on session stream, got %#x", hdr.Type)
	}
	payload := s.connectBuf[hn : hn+int(hdr.Length)]
	s.connectBuf = nil

	fields, err := s.decoder.DecodeFieldSection(payload)
	if err != nil {
		return err
	}

	if s.isServer {
		var method, protocol string
		for _, f := range fields {
			switch f.Name {
			case ":method":
				method = f.Value
			case ":protocol":
				protocol = f.Value
			case ":path":
				s.connectPath = f.Value
			case ":authority":
				s.connectAuthority = f.Value
			}
		}
		if method != "CONNECT" || protocol != "webtransport" {
			return ErrNotWebTransportConnect
		}
		return nil // caller observes Path()/Authority() and calls Accept()
	}

	for _, f := range fields {
		if f.Name == ":status" {
			if f.Value == "200" {
				s.state = StateConnected
			} else {
				return fmt.Errorf("webtransport: CONNECT rejected with status %s", f.Value)
			}
		}
	}
	return nil
}

// Close ends the session: it closes the underlying QUIC connection and
// transitions straight to StateClosed, invoking OnConnectionClosed.
func (s *Session) Close(errorCode uint64, reason string) {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosing
	s.quicConn.Close(errorCode, reason)
	s.state = StateClosed
	if s.OnConnectionClosed != nil {
		s.OnConnectionClosed(errorCode, reason)
	}
}

// Stats returns a snapshot of this session's counters.
func (s *Session) Stats() Stats {
	return Stats{
		StreamsOpened:     s.totalStreamsOpened,
		DatagramsSent:     s.totalDatagramsSent,
		DatagramsReceived: s.totalDatagramsReceived,
	}
}
