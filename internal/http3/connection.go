package http3

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fasterapi/quic3/internal/qpack"
	"github.com/fasterapi/quic3/internal/quic"
)

// Unidirectional stream-type tags, RFC 9114 §3.2.
const (
	streamTypeQpackEncoder = 0x02
	streamTypeQpackDecoder = 0x03
	streamTypePush         = 0x01
)

// pollReadSize is the chunk size used to drain newly-arrived stream
// bytes each Poll call.
const pollReadSize = 4096

// Buffer-pool sizing for the two hot paths that otherwise allocate on
// every Poll/FlushResponses call: frame assembly (reading stream bytes)
// and header encoding (building a response's QPACK-compressed HEADERS
// frame). The counts are a pre-warmed working set, not a hard cap —
// sync.Pool's New still covers bursts beyond it.
const (
	frameBufSize   = 16 * 1024
	frameBufCount  = 16
	headerBufSize  = 8 * 1024
	headerBufCount = 8
)

func newBufPool(size, prewarm int) *sync.Pool {
	p := &sync.Pool{New: func() any {
		return make([]byte, 0, size)
	}}
	for i := 0; i < prewarm; i++ {
		p.Put(make([]byte, 0, size))
	}
	return p
}

// Handler processes a fully-assembled request. It is invoked
// synchronously from Poll; it may call Connection.Respond immediately or
// hold onto streamID and call it from elsewhere before the next
// FlushResponses.
type Handler func(streamID uint64, req *Request)

type pendingResponse struct {
	status  int
	headers []qpack.Entry
	body    []byte
}

// Connection layers HTTP/3 framing, the control stream, SETTINGS
// negotiation and per-request HEADERS/DATA assembly on top of one
// already-established *quic.Connection. It does not drive QUIC packet
// I/O itself: callers invoke Poll after ProcessDatagram and
// FlushResponses before GenerateDatagrams.
type Connection struct {
	quicConn *quic.Connection
	isServer bool
	log      *logrus.Entry

	encoder *qpack.Encoder
	decoder *qpack.Decoder

	localSettings Settings
	peerSettings  Settings
	peerSettingsReceived bool

	localControlOpened bool
	peerControlStreamID uint64
	peerControlSeen     bool

	controlBuf map[uint64][]byte // per uni-stream partial bytes, keyed by stream ID, until its type tag is known

	assemblers map[uint64]*RequestAssembler

	pending map[uint64]*pendingResponse

	frameBufPool  *sync.Pool // []byte, cap frameBufSize, for draining stream reads
	headerBufPool *sync.Pool // []byte, cap headerBufSize, for encoding responses

	Handler Handler
}

// NewConnection wraps quicConn with HTTP/3 semantics. isServer must match
// quicConn's own perspective.
func NewConnection(quicConn *quic.Connection, isServer bool, log *logrus.Entry) *Connection {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Connection{
		quicConn:      quicConn,
		isServer:      isServer,
		log:           log,
		encoder:       qpack.NewEncoder(nil),
		decoder:       qpack.NewDecoder(nil),
		localSettings: DefaultSettings(),
		controlBuf:    make(map[uint64][]byte),
		assemblers:    make(map[uint64]*RequestAssembler),
		pending:       make(map[uint64]*pendingResponse),
		frameBufPool:  newBufPool(frameBufSize, frameBufCount),
		headerBufPool: newBufPool(headerBufSize, headerBufCount),
	}
}

// OpenControlStream opens this endpoint's unidirectional control stream
// and writes its stream-type tag and SETTINGS frame straight into that
// stream's send buffer, ready for the next GenerateDatagrams call. An
// endpoint has only one control stream: calling this again is a no-op.
func (c *Connection) OpenControlStream() error {
	if c.localControlOpened {
		return nil
	}
	s, err := c.quicConn.OpenUniStream()
	if err != nil {
		return fmt.Errorf("http3: open control stream: %w", err)
	}
	var b []byte
	b = append(b, streamTypeControl)
	b = c.localSettings.Encode(b)
	if _, err := s.Write(b); err != nil {
		return err
	}
	// The control stream stays open for the connection's lifetime; it is
	// never locally FIN'd.
	c.localControlOpened = true
	c.log.Debug("opened http3 control stream")
	return nil
}

// PeerSettings returns the peer's SETTINGS, if its control stream's first
// frame has been received yet.
func (c *Connection) PeerSettings() (Settings, bool) {
	return c.peerSettings, c.peerSettingsReceived
}

// OpenRequestStream opens a new client-initiated bidirectional request
// stream and returns its ID so the caller can later write HEADERS/DATA to
// it via the underlying *quic.Connection.
func (c *Connection) OpenRequestStream() (uint64, error) {
	s, err := c.quicConn.OpenStream()
	if err != nil {
		return 0, err
	}
	return s.ID, nil
}

// Poll drains newly-readable bytes from every stream this connection
// knows about — both streams it already tracks and ones the QUIC layer
// discovered since the last call — dispatching control-stream frames and
// feeding request-stream bytes to their assemblers. It invokes Handler
// synchronously for each request whose HEADERS and FIN have both
// arrived.
func (c *Connection) Poll() error {
	for _, id := range c.quicConn.DrainNewPeerStreams() {
		if quic.IsBidirectional(id) {
			c.assemblers[id] = NewRequestAssembler(c.decoder)
		} else if _, tracked := c.controlBuf[id]; !tracked {
			c.controlBuf[id] = nil
		}
	}

	for id, s := range c.knownRequestStreams() {
		if err := c.pollRequestStream(id, s); err != nil {
			return err
		}
	}
	if err := c.pollControlCandidates(); err != nil {
		return err
	}
	return nil
}

func (c *Connection) knownRequestStreams() map[uint64]*quic.Stream {
	out := make(map[uint64]*quic.Stream, len(c.assemblers))
	for id := range c.assemblers {
		if s, ok := c.quicConn.GetStream(id); ok {
			out[id] = s
		}
	}
	return out
}

func (c *Connection) pollRequestStream(id uint64, s *quic.Stream) error {
	buf := c.frameBufPool.Get().([]byte)[:pollReadSize]
	defer c.frameBufPool.Put(buf[:0])
	for {
		n, _ := s.Read(buf)
		if n == 0 {
			break
		}
		req, err := c.assemblers[id].Feed(buf[:n], false)
		if err != nil {
			return fmt.Errorf("http3: stream %d: %w", id, err)
		}
		if req != nil {
			delete(c.assemblers, id)
			if c.Handler != nil {
				c.Handler(id, req)
			}
			return nil
		}
	}
	if s.AtEOF() {
		req, err := c.assemblers[id].Feed(nil, true)
		if err != nil {
			return fmt.Errorf("http3: stream %d: %w", id, err)
		}
		if req != nil {
			delete(c.assemblers, id)
			if c.Handler != nil {
				c.Handler(id, req)
			}
		}
	}
	return nil
}

// pollControlCandidates drains every unidirectional stream this
// connection does not yet recognize as a request stream, looking for the
// peer's control, QPACK encoder or QPACK decoder streams.
func (c *Connection) pollControlCandidates() error {
	for _, id := range c.allUniStreamIDs() {
		if id == c.peerControlStreamID && c.peerControlSeen {
			continue // fully classified and (for control) already parsed its SETTINGS
		}
		s, ok := c.quicConn.GetStream(id)
		if !ok {
			continue
		}
		buf := c.frameBufPool.Get().([]byte)[:pollReadSize]
		n, _ := s.Read(buf)
		if n > 0 {
			c.controlBuf[id] = append(c.controlBuf[id], buf[:n]...)
		}
		c.frameBufPool.Put(buf[:0])
		if err := c.classifyAndParse(id); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) allUniStreamIDs() []uint64 {
	var ids []uint64
	for id := range c.controlBuf {
		ids = append(ids, id)
	}
	return ids
}

func (c *Connection) classifyAndParse(id uint64) error {
	b := c.controlBuf[id]
	if len(b) == 0 {
		return nil
	}
	tag := b[0]
	rest := b[1:]
	switch tag {
	case streamTypeControl:
		if c.peerControlSeen && id != c.peerControlStreamID {
			return fmt.Errorf("http3: duplicate control stream: %w", ErrProtocol)
		}
		c.peerControlStreamID = id
		hdr, n, err := ParseFrameHeader(rest)
		if err != nil {
			return nil // wait for more bytes
		}
		if uint64(len(rest)-n) < hdr.Length {
			return nil
		}
		if !c.peerControlSeen && hdr.Type != FrameSettings {
			return ErrMissingSettings
		}
		if hdr.Type == FrameSettings {
			settings, err := DecodeSettingsPayload(rest[n : n+int(hdr.Length)])
			if err != nil {
				return err
			}
			c.peerSettings = settings
			c.peerSettingsReceived = true
		}
		c.controlBuf[id] = rest[n+int(hdr.Length):]
		c.peerControlSeen = true
	case streamTypeQpackEncoder, streamTypeQpackDecoder:
		// This implementation never grows its dynamic table and never
		// emits encoder-stream instructions, so peer traffic on these
		// streams carries nothing it needs to act on; drain and discard.
		delete(c.controlBuf, id)
	case streamTypePush:
		return fmt.Errorf("http3: unexpected push stream: %w", ErrProtocol)
	default:
		// Unknown stream types are ignored per RFC 9114 §3.2, not reset,
		// since this connection has no HTTP/3-level stream-reset plumbing
		// wired yet.
	}
	return nil
}

// Respond queues a response to be written to streamID's send buffer (and
// the stream closed) on the next FlushResponses call.
func (c *Connection) Respond(streamID uint64, status int, headers []qpack.Entry, body []byte) {
	c.pending[streamID] = &pendingResponse{status: status, headers: headers, body: body}
}

// FlushResponses writes every queued response into its stream's send
// buffer and marks the stream's send side closed. Call this before
// *quic.Connection.GenerateDatagrams so the bytes are picked up in the
// next batch of outgoing packets.
func (c *Connection) FlushResponses() error {
	for streamID, resp := range c.pending {
		s, ok := c.quicConn.GetStream(streamID)
		if !ok {
			delete(c.pending, streamID)
			continue
		}
		buf := c.headerBufPool.Get().([]byte)
		b := EncodeResponse(buf[:0], c.encoder, resp.status, resp.headers, resp.body)
		_, err := s.Write(b)
		c.headerBufPool.Put(b[:0])
		if err != nil {
			return err
		}
		s.CloseSend()
		delete(c.pending, streamID)
	}
	return nil
}
