package quic

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/fasterapi/quic3/internal/metrics"
)

// ConnectionState is the connection-level state machine of RFC 9000 §10.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateHandshake
	StateEstablished
	StateClosing
	StateDraining
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshake:
		return "handshake"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// defaultIdleTimeoutUs is the fallback idle timeout, matching the
// original implementation's 30 second default.
const defaultIdleTimeoutUs = 30_000_000

// defaultReassemblyBudget is the per-connection out-of-order reassembly
// byte budget.
const defaultReassemblyBudget = 256 * 1024

// Config assembles the knobs a caller supplies when creating a
// Connection. There is no env/file loader: the caller is expected to
// build one directly, in the style of a plain options struct.
type Config struct {
	IsServer             bool
	LocalConnID          ConnectionID
	PeerConnID           ConnectionID
	InitialMaxData       uint64
	InitialMaxStreamData uint64
	IdleTimeoutUs        int64 // 0 means defaultIdleTimeoutUs
	ReassemblyBudget     int   // 0 means defaultReassemblyBudget

	Logger  *logrus.Entry
	Metrics *metrics.Registry
}

func (c Config) idleTimeoutUs() int64 {
	if c.IdleTimeoutUs > 0 {
		return c.IdleTimeoutUs
	}
	return defaultIdleTimeoutUs
}

func (c Config) reassemblyBudget() int {
	if c.ReassemblyBudget > 0 {
		return c.ReassemblyBudget
	}
	return defaultReassemblyBudget
}

// Connection orchestrates one QUIC connection: packet parsing and
// serialization, the stream table, connection-level flow control,
// congestion control and loss detection, and the close state machine. It
// is driven entirely by ProcessDatagram and GenerateDatagrams and is not
// safe for concurrent use — exactly one goroutine may call into a given
// Connection at a time.
type Connection struct {
	cfg   Config
	state ConnectionState
	log   *logrus.Entry

	nextStreamID    uint64
	nextUniStreamID uint64
	streams         map[uint64]*Stream
	budget          *ReassemblyBudget

	flow  *FlowControl
	cc    *CongestionControl
	loss  *LossTracker
	pacer *Pacer

	streamRecvHigh      map[uint64]uint64 // per-stream highest offset already counted toward flow
	dataBlockedDue      bool              // a DATA_BLOCKED frame is owed
	dataBlockedNotified bool              // already told the peer about the current window
	maxDataUpdateDue    bool              // a MAX_DATA frame is owed
	pacerWarmed         bool              // whether the pacer has an established timing baseline

	nextPacketNumber uint64
	largestRecvPN    int64 // -1 means none received yet

	recvRanges []AckRange
	ackPending bool

	pendingDatagrams [][]byte // outgoing, filled by QueueDatagram
	recvDatagrams    [][]byte // received, drained by PopDatagram
	newPeerStreamIDs []uint64

	lastRecvTimeUs int64
	recvSeen       bool // lastRecvTimeUs holds a real timestamp (0 is a valid time)

	closing        bool
	closeSent       bool // the first CONNECTION_CLOSE has gone out; closingStartUs is fixed
	closeErrorCode uint64
	closeIsApp     bool
	closeReason    string
	closeFrameDue  bool
	closingStartUs int64
	drainingStartUs int64
}

// NewConnection constructs a Connection in StateIdle.
func NewConnection(cfg Config) *Connection {
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{
		"local_cid":   cfg.LocalConnID.String(),
		"perspective": perspectiveString(cfg.IsServer),
	})

	nextStreamID := uint64(0)
	nextUniStreamID := uint64(2)
	if cfg.IsServer {
		nextStreamID = 1
		nextUniStreamID = 3
	}

	return &Connection{
		cfg:             cfg,
		state:           StateIdle,
		log:             log,
		nextStreamID:    nextStreamID,
		nextUniStreamID: nextUniStreamID,
		streams:         make(map[uint64]*Stream),
		budget:          NewReassemblyBudget(cfg.reassemblyBudget()),
		flow:            NewFlowControl(cfg.InitialMaxData, cfg.InitialMaxData),
		cc:              NewCongestionControl(),
		loss:            NewLossTracker(),
		pacer:           NewPacer(),
		streamRecvHigh:  make(map[uint64]uint64),
		largestRecvPN:   -1,
	}
}

func perspectiveString(isServer bool) string {
	if isServer {
		return "server"
	}
	return "client"
}

// Initialize transitions the connection from StateIdle to StateHandshake.
// The caller's external TLS collaborator drives the handshake to
// completion and calls MarkEstablished.
func (c *Connection) Initialize() {
	if c.state == StateIdle {
		c.state = StateHandshake
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ConnectionsOpen.Inc()
		}
	}
}

// MarkEstablished transitions the connection to StateEstablished, called
// by the external TLS collaborator once the handshake completes.
func (c *Connection) MarkEstablished() {
	if c.state == StateHandshake {
		c.state = StateEstablished
		c.log.Debug("connection established")
	}
}

// State returns the connection's current state.
func (c *Connection) State() ConnectionState { return c.state }

// OpenStream allocates the next stream ID this endpoint is permitted to
// initiate (bidirectional), per RFC 9000 §2.1's four-ID-space scheme.
func (c *Connection) OpenStream() (*Stream, error) {
	if c.state != StateEstablished {
		return nil, fmt.Errorf("quic: cannot open stream in state %s", c.state)
	}
	id := c.nextStreamID
	c.nextStreamID += 4
	s := NewStream(id, c.cfg.InitialMaxStreamData, c.cfg.InitialMaxStreamData, c.budget)
	c.streams[id] = s
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.StreamsOpened.Inc()
	}
	return s, nil
}

// OpenUniStream allocates the next unidirectional stream ID this endpoint
// is permitted to initiate, per RFC 9000 §2.1's four-ID-space scheme. The
// returned Stream's receive half is never used locally.
func (c *Connection) OpenUniStream() (*Stream, error) {
	if c.state != StateEstablished {
		return nil, fmt.Errorf("quic: cannot open stream in state %s", c.state)
	}
	id := c.nextUniStreamID
	c.nextUniStreamID += 4
	s := NewStream(id, c.cfg.InitialMaxStreamData, c.cfg.InitialMaxStreamData, c.budget)
	c.streams[id] = s
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.StreamsOpened.Inc()
	}
	return s, nil
}

// GetStream returns the stream with the given ID, if it exists.
func (c *Connection) GetStream(id uint64) (*Stream, bool) {
	s, ok := c.streams[id]
	return s, ok
}

func (c *Connection) getOrCreatePeerStream(id uint64) (*Stream, error) {
	if s, ok := c.streams[id]; ok {
		return s, nil
	}
	peerInitiated := IsClientInitiated(id) != !c.cfg.IsServer
	if !peerInitiated {
		return nil, fmt.Errorf("quic: frame for locally-initiated but unopened stream %d: %w", id, ErrUnknownStream)
	}
	s := NewStream(id, c.cfg.InitialMaxStreamData, c.cfg.InitialMaxStreamData, c.budget)
	c.streams[id] = s
	c.streams[id].State = StreamOpen
	c.newPeerStreamIDs = append(c.newPeerStreamIDs, id)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.StreamsOpened.Inc()
	}
	return s, nil
}

// DrainNewPeerStreams returns the IDs of peer-initiated streams created
// since the last call and clears the list. An application layer (HTTP/3,
// WebTransport) uses this to notice streams it did not ask to open.
func (c *Connection) DrainNewPeerStreams() []uint64 {
	ids := c.newPeerStreamIDs
	c.newPeerStreamIDs = nil
	return ids
}

// Close begins the close machine: it records the error to report and
// marks a CONNECTION_CLOSE frame as due on the next GenerateDatagrams
// call. Per RFC 9000 §10.2.1 the close frame is retransmitted on receipt
// of further inbound packets while in StateClosing.
func (c *Connection) Close(appErrorCode uint64, reason string) {
	if c.closing {
		return
	}
	c.closing = true
	c.closeErrorCode = appErrorCode
	c.closeIsApp = true
	c.closeReason = reason
	c.closeFrameDue = true
	c.state = StateClosing
	c.log.WithField("reason", reason).Debug("closing connection")
}

// closeTransport begins the close machine for a transport-level error
// (as opposed to an application-requested Close).
func (c *Connection) closeTransport(code TransportErrorCode, reason string) {
	if c.closing {
		return
	}
	c.closing = true
	c.closeErrorCode = uint64(code)
	c.closeIsApp = false
	c.closeReason = reason
	c.closeFrameDue = true
	c.state = StateClosing
	c.log.WithFields(logrus.Fields{"code": code, "reason": reason}).Warn("closing connection on transport error")
}

// IsIdleTimedOut reports whether no packet has been received within the
// negotiated idle timeout, given the current time.
func (c *Connection) IsIdleTimedOut(nowUs int64) bool {
	if !c.recvSeen {
		return false
	}
	return nowUs-c.lastRecvTimeUs > c.cfg.idleTimeoutUs()
}

// CheckIdleTimeout transitions a timed-out connection directly to
// StateClosed (no CONNECTION_CLOSE is owed: RFC 9000 §10.1 — a peer that
// has gone silent past the idle timeout may no longer exist).
func (c *Connection) CheckIdleTimeout(nowUs int64) error {
	if c.state == StateClosed {
		return nil
	}
	if c.IsIdleTimedOut(nowUs) {
		c.log.Warn("idle timeout")
		c.state = StateClosed
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ConnectionsOpen.Dec()
		}
		return ErrIdleTimeout
	}
	return nil
}

// PopDatagram returns the next received (WebTransport/unreliable
// application) datagram payload, if any is queued.
func (c *Connection) PopDatagram() ([]byte, bool) {
	if len(c.recvDatagrams) == 0 {
		return nil, false
	}
	d := c.recvDatagrams[0]
	c.recvDatagrams = c.recvDatagrams[1:]
	return d, true
}

// QueueDatagram enqueues an application datagram to be sent on the next
// GenerateDatagrams call.
func (c *Connection) QueueDatagram(data []byte) {
	c.pendingDatagrams = append(c.pendingDatagrams, append([]byte(nil), data...))
}

// ProcessDatagram parses and applies every QUIC packet coalesced into a
// single UDP datagram.
func (c *Connection) ProcessDatagram(b []byte, nowUs int64) error {
	if c.state == StateClosed {
		return nil
	}
	c.lastRecvTimeUs = nowUs
	c.recvSeen = true

	var errs error
	for len(b) > 0 {
		if b[0]&0x80 != 0 {
			n, err := c.processLongHeaderPacket(b, nowUs)
			if err != nil {
				errs = multierror.Append(errs, err)
				break
			}
			b = b[n:]
		} else {
			if err := c.processShortHeaderPacket(b, nowUs); err != nil {
				errs = multierror.Append(errs, err)
			}
			break // a short header packet always runs to the end of the datagram
		}
	}

	if c.state == StateClosing {
		c.closeFrameDue = true // RFC 9000 §10.2.1: retransmit on every inbound packet
	}

	if merr, ok := errs.(*multierror.Error); ok && merr != nil {
		c.closeTransport(CodeFor(merr.Errors[0]), merr.Errors[0].Error())
		return errs
	}
	return nil
}

func (c *Connection) processLongHeaderPacket(b []byte, nowUs int64) (int, error) {
	h, hdrLen, err := ParseLongHeader(b)
	if err != nil {
		return 0, err
	}
	total := hdrLen + int(h.Length) - h.PacketNumberLength
	if total > len(b) {
		total = len(b)
	}
	payload := b[hdrLen:total]

	pn := DecodePacketNumber(uint64(max64(c.largestRecvPN, 0)), h.PacketNumber, h.PacketNumberLength)
	if int64(pn) > c.largestRecvPN {
		c.largestRecvPN = int64(pn)
	}

	if err := c.processFrames(payload, nowUs); err != nil {
		return total, err
	}
	return total, nil
}

func (c *Connection) processShortHeaderPacket(b []byte, nowUs int64) error {
	h, hdrLen, err := ParseShortHeader(b, c.cfg.LocalConnID.Len())
	if err != nil {
		return err
	}
	pn := DecodePacketNumber(uint64(max64(c.largestRecvPN, 0)), h.PacketNumber, h.PacketNumberLength)
	if int64(pn) > c.largestRecvPN {
		c.largestRecvPN = int64(pn)
	}
	c.recordReceivedPacketNumber(pn)

	return c.processFrames(b[hdrLen:], nowUs)
}

func (c *Connection) recordReceivedPacketNumber(pn uint64) {
	c.ackPending = true
	for i, r := range c.recvRanges {
		if pn >= r.Smallest && pn <= r.Largest {
			return
		}
		if pn+1 == r.Smallest {
			c.recvRanges[i].Smallest = pn
			return
		}
		if r.Largest+1 == pn {
			c.recvRanges[i].Largest = pn
			return
		}
	}
	c.recvRanges = append([]AckRange{{Smallest: pn, Largest: pn}}, c.recvRanges...)
}

func (c *Connection) processFrames(b []byte, nowUs int64) error {
	for len(b) > 0 {
		f, n, err := ParseFrame(b)
		if err != nil {
			return err
		}
		b = b[n:]
		if err := c.handleFrame(f, nowUs); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) handleFrame(f Frame, nowUs int64) error {
	switch f.Type {
	case FrameTypePadding:
		return nil
	case FrameTypePing:
		return nil
	case FrameTypeAck, FrameTypeAckECN:
		acked, lost := c.loss.OnAckReceived(f.AckRanges, int64(f.AckDelay), nowUs)
		for _, sp := range acked {
			c.cc.OnPacketAcked(sp.Size, sp.SentTimeUs)
		}
		if len(lost) > 0 {
			c.cc.OnCongestionEvent(nowUs)
			if c.loss.IsPersistentCongestion(lost) {
				c.cc.OnPersistentCongestion()
				c.log.Warn("persistent congestion detected")
			}
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.PacketsLost.Add(float64(len(lost)))
			}
		}
		for _, sp := range lost {
			c.cc.OnPacketLost(sp.Size)
		}
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.BytesInFlight.Set(float64(c.cc.BytesInFlight()))
			c.cfg.Metrics.CongestionWindow.Set(float64(c.cc.Window()))
		}
		return nil
	case FrameTypeStream, FrameType(0x09), FrameType(0x0a), FrameType(0x0b),
		FrameType(0x0c), FrameType(0x0d), FrameType(0x0e), FrameType(0x0f):
		end := f.Offset + uint64(len(f.Data))
		if len(f.Data) > 0 {
			if delta := end - c.streamRecvHigh[f.StreamID]; end > c.streamRecvHigh[f.StreamID] {
				if !c.flow.CanReceive(delta) {
					return fmt.Errorf("quic: connection recv flow control: %w", ErrFlowControlViolation)
				}
			}
		}
		s, err := c.getOrCreatePeerStream(f.StreamID)
		if err != nil {
			return err
		}
		if err := s.ReceiveStreamFrame(f.Offset, f.Data, f.Fin); err != nil {
			return err
		}
		if len(f.Data) > 0 {
			if end > c.streamRecvHigh[f.StreamID] {
				c.flow.AddRecvData(end - c.streamRecvHigh[f.StreamID])
				c.streamRecvHigh[f.StreamID] = end
			}

			beforeConnMax := c.flow.RecvMaxData()
			c.flow.AutoIncrementWindow(c.cfg.InitialMaxData)
			if c.flow.RecvMaxData() != beforeConnMax {
				c.maxDataUpdateDue = true
			}

			beforeStreamMax := s.RecvFlow.RecvMaxData()
			s.RecvFlow.AutoIncrementWindow(c.cfg.InitialMaxStreamData)
			if s.RecvFlow.RecvMaxData() != beforeStreamMax {
				s.maxDataUpdateDue = true
			}
		}
		return nil
	case FrameTypeResetStream:
		s, err := c.getOrCreatePeerStream(f.StreamID)
		if err != nil {
			return err
		}
		s.State = StreamReset
		return nil
	case FrameTypeStopSending:
		s, ok := c.streams[f.StreamID]
		if ok {
			s.Reset(f.AppErrorCode)
		}
		return nil
	case FrameTypeMaxData:
		c.flow.UpdatePeerMaxData(f.MaximumData)
		c.dataBlockedNotified = false
		return nil
	case FrameTypeMaxStreamData:
		if s, ok := c.streams[f.StreamID]; ok {
			s.SendFlow.UpdatePeerMaxData(f.MaximumData)
			s.ClearSendBlocked()
		}
		return nil
	case FrameTypeMaxStreamsBidi, FrameTypeMaxStreamsUni:
		return nil // stream-count limits: this implementation does not self-limit creation
	case FrameTypeDataBlocked, FrameTypeStreamDataBlocked:
		return nil // informational: peer is flow-control blocked
	case FrameTypeNewConnectionID, FrameTypeRetireConnectionID:
		return nil // connection migration is out of scope
	case FrameTypePathChallenge:
		return nil // path validation is out of scope; no PATH_RESPONSE is queued
	case FrameTypePathResponse:
		return nil
	case FrameTypeConnectionClose, FrameTypeConnectionCloseApp:
		if c.state == StateClosing {
			// The peer's own close ends CLOSING early; DRAINING sends nothing.
			c.state = StateDraining
			c.drainingStartUs = nowUs
			c.closeFrameDue = false
		} else if c.state != StateDraining {
			c.log.WithField("reason", f.Reason).Debug("peer closed connection")
			c.state = StateDraining
			c.drainingStartUs = nowUs
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.ConnectionsOpen.Dec()
			}
		}
		return nil
	case FrameTypeHandshakeDone:
		c.MarkEstablished()
		return nil
	case FrameTypeDatagram, FrameType(0x31):
		c.recvDatagrams = append(c.recvDatagrams, f.Data)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.DatagramsReceived.Inc()
		}
		return nil
	default:
		return fmt.Errorf("quic: unhandled frame type %#x: %w", f.Type, ErrMalformed)
	}
}

// generatePacketHeaderRoom is reserved ahead of every frame-size budget
// check: worst case a 1-byte flags byte, a 20-byte connection ID and a
// 4-byte packet number.
const generatePacketHeaderRoom = 32

// GenerateDatagrams fills out with a single outgoing QUIC packet —
// ACK, then as much stream data as fits, then queued application
// datagrams — respecting congestion control and the close state
// machine, and returns the number of bytes written. A short-header
// packet carries no length field and always runs to the end of its
// datagram, so everything this call has to send must be coalesced into
// the one packet it builds; call it repeatedly to drain more.
func (c *Connection) GenerateDatagrams(out []byte, nowUs int64) (int, error) {
	if len(out) < 64 {
		return 0, ErrOutputTruncated
	}

	if c.closeFrameDue {
		n := c.generateClosePacket(out, nowUs)
		c.closeFrameDue = false
		if !c.closeSent {
			c.closingStartUs = nowUs
			c.closeSent = true
		}
		return n, nil
	}

	if c.state == StateDraining || c.state == StateClosed {
		return 0, nil
	}

	var payload []byte
	ackEliciting := false

	if c.ackPending {
		f := Frame{Type: FrameTypeAck, AckDelay: 0}
		if len(c.recvRanges) > 0 {
			f.LargestAcked = c.recvRanges[0].Largest
			f.AckRanges = c.recvRanges
		}
		payload = f.Serialize(payload)
		c.ackPending = false
	}

	if rtt := c.loss.SmoothedRTT(); rtt > 0 {
		rate := float64(c.cc.Window()) * 1_000_000 / float64(rtt)
		if !c.pacerWarmed {
			c.pacer.WarmStart(rate, nowUs)
			c.pacerWarmed = true
		} else {
			c.pacer.SetRate(rate, nowUs)
		}
	}

	for _, id := range c.orderedStreamIDs() {
		s := c.streams[id]
		for {
			remaining := len(out) - generatePacketHeaderRoom - len(payload)
			if remaining <= 0 || !c.cc.CanSend(1) || !c.pacer.CanSend(1, nowUs) {
				break
			}
			connAvail := c.flow.AvailableSendWindow()
			if connAvail == 0 {
				if !c.dataBlockedNotified {
					c.dataBlockedDue = true
				}
				break
			}
			if uint64(remaining) > connAvail {
				remaining = int(connAvail)
			}
			f, ok := s.NextSendFrame(remaining)
			if !ok {
				break
			}
			if len(f.Data) > 0 {
				c.flow.AddSentData(uint64(len(f.Data)))
			}
			payload = f.Serialize(payload)
			ackEliciting = true
		}
		if bf, ok := s.TakeBlockedFrame(); ok {
			payload = bf.Serialize(payload)
			ackEliciting = true
		}
		if mf, ok := s.TakeMaxStreamDataFrame(); ok {
			payload = mf.Serialize(payload)
			ackEliciting = true
		}
	}

	if c.dataBlockedDue {
		payload = Frame{Type: FrameTypeDataBlocked, MaximumData: c.flow.MaxData()}.Serialize(payload)
		ackEliciting = true
		c.dataBlockedDue = false
		c.dataBlockedNotified = true
	}
	if c.maxDataUpdateDue {
		payload = Frame{Type: FrameTypeMaxData, MaximumData: c.flow.RecvMaxData()}.Serialize(payload)
		ackEliciting = true
		c.maxDataUpdateDue = false
	}

	for len(c.pendingDatagrams) > 0 {
		d := c.pendingDatagrams[0]
		remaining := len(out) - generatePacketHeaderRoom - len(payload)
		if remaining < len(d)+8 {
			break
		}
		c.pendingDatagrams = c.pendingDatagrams[1:]
		payload = Frame{Type: FrameTypeDatagram, Data: d}.Serialize(payload)
		ackEliciting = true
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.DatagramsSent.Inc()
		}
	}

	if len(payload) == 0 {
		return 0, nil
	}

	pn := c.nextPacketNumber
	c.nextPacketNumber++
	hdr := ShortHeader{DCID: c.cfg.PeerConnID, PacketNumber: pn, PacketNumberLength: EncodePacketNumberLength(pn, uint64(max64(c.largestRecvPN, 0)))}
	b := hdr.Serialize(out[:0])
	b = append(b, payload...)

	n := copy(out, b)
	c.loss.OnPacketSent(pn, nowUs, uint64(n), ackEliciting)
	c.pacer.OnPacketSent(uint64(n), nowUs)
	if ackEliciting {
		c.cc.OnPacketSent(uint64(n))
	}
	return n, nil
}

func (c *Connection) orderedStreamIDs() []uint64 {
	ids := make([]uint64, 0, len(c.streams))
	for id := range c.streams {
		ids = append(ids, id)
	}
	// Simple ascending order keeps output deterministic; a production
	// scheduler would apply fairness or priority here.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

func (c *Connection) generateClosePacket(out []byte, nowUs int64) int {
	pn := c.nextPacketNumber
	c.nextPacketNumber++
	hdr := ShortHeader{DCID: c.cfg.PeerConnID, PacketNumber: pn, PacketNumberLength: 1}
	b := hdr.Serialize(out[:0])

	typ := FrameTypeConnectionClose
	if c.closeIsApp {
		typ = FrameTypeConnectionCloseApp
	}
	f := Frame{Type: typ, ErrorCode: c.closeErrorCode, Reason: c.closeReason}
	b = f.Serialize(b)
	return copy(out, b)
}

// CheckCloseComplete advances the CLOSING -> DRAINING -> CLOSED machine
// based on elapsed time, per RFC 9000 §10.2: CLOSING persists for three
// PTO intervals (to allow for the close frame's retransmission window),
// then DRAINING for one more PTO before the connection is fully CLOSED.
func (c *Connection) CheckCloseComplete(nowUs int64) bool {
	pto := c.loss.PTO()
	switch c.state {
	case StateClosing:
		if nowUs-c.closingStartUs >= 3*pto {
			c.state = StateDraining
			c.drainingStartUs = nowUs
		}
	case StateDraining:
		if nowUs-c.drainingStartUs >= pto {
			c.state = StateClosed
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.ConnectionsOpen.Dec()
			}
		}
	}
	return c.state == StateClosed
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
