package quic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestConnPair(t *testing.T) (client, server *Connection) {
	t.Helper()
	clientCID, _ := NewConnectionID([]byte{1, 1, 1, 1})
	serverCID, _ := NewConnectionID([]byte{2, 2, 2, 2})

	client = NewConnection(Config{
		IsServer:             false,
		LocalConnID:          clientCID,
		PeerConnID:           serverCID,
		InitialMaxData:       1 << 20,
		InitialMaxStreamData: 1 << 20,
	})
	server = NewConnection(Config{
		IsServer:             true,
		LocalConnID:          serverCID,
		PeerConnID:           clientCID,
		InitialMaxData:       1 << 20,
		InitialMaxStreamData: 1 << 20,
	})
	client.Initialize()
	server.Initialize()
	client.MarkEstablished()
	server.MarkEstablished()
	return client, server
}

func TestConnectionOpenStreamAllocatesClientBidiIDs(t *testing.T) {
	client, _ := newTestConnPair(t)
	s1, err := client.OpenStream()
	require.NoError(t, err)
	require.Equal(t, uint64(0), s1.ID)

	s2, err := client.OpenStream()
	require.NoError(t, err)
	require.Equal(t, uint64(4), s2.ID)
}

func TestConnectionEchoRequestRoundTrip(t *testing.T) {
	client, server := newTestConnPair(t)

	s, err := client.OpenStream()
	require.NoError(t, err)
	s.Write([]byte("ping"))
	s.CloseSend()

	buf := make([]byte, 1452)
	n, err := client.GenerateDatagrams(buf, 1000)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	err = server.ProcessDatagram(buf[:n], 1100)
	require.NoError(t, err)

	serverStream, ok := server.GetStream(0)
	require.True(t, ok)
	require.True(t, serverStream.AtEOF())

	recv := make([]byte, 4)
	rn, _ := serverStream.Read(recv)
	require.Equal(t, "ping", string(recv[:rn]))
}

func TestConnectionIdleTimeout(t *testing.T) {
	client, _ := newTestConnPair(t)
	hdr := ShortHeader{DCID: client.cfg.LocalConnID, PacketNumber: 0, PacketNumberLength: 1}
	pkt := hdr.Serialize(nil)
	pkt = Frame{Type: FrameTypePing}.Serialize(pkt)
	require.NoError(t, client.ProcessDatagram(pkt, 0))

	err := client.CheckIdleTimeout(0)
	require.NoError(t, err)
	require.False(t, client.IsIdleTimedOut(defaultIdleTimeoutUs-1))

	err = client.CheckIdleTimeout(defaultIdleTimeoutUs + 1)
	require.ErrorIs(t, err, ErrIdleTimeout)
	require.Equal(t, StateClosed, client.State())
}

func TestConnectionCloseEmitsConnectionCloseFrame(t *testing.T) {
	client, _ := newTestConnPair(t)
	client.Close(42, "done")
	require.Equal(t, StateClosing, client.State())

	buf := make([]byte, 1452)
	n, err := client.GenerateDatagrams(buf, 0)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	_, hdrLen, err := ParseShortHeader(buf[:n], client.cfg.PeerConnID.Len())
	require.NoError(t, err)
	f, _, err := ParseFrame(buf[hdrLen:n])
	require.NoError(t, err)
	require.Equal(t, FrameTypeConnectionCloseApp, f.Type)
	require.Equal(t, uint64(42), f.ErrorCode)
	require.Equal(t, "done", f.Reason)
}

func TestConnectionCloseMachineProgressesToClosed(t *testing.T) {
	client, _ := newTestConnPair(t)
	client.loss.UpdateRTT(10_000)
	client.Close(1, "bye")

	buf := make([]byte, 1452)
	client.GenerateDatagrams(buf, 0)

	pto := client.loss.PTO()
	require.False(t, client.CheckCloseComplete(0))
	require.Equal(t, StateClosing, client.State())

	client.CheckCloseComplete(3*pto + 1)
	require.Equal(t, StateDraining, client.State())

	done := client.CheckCloseComplete(3*pto + 1 + pto + 1)
	require.True(t, done)
	require.Equal(t, StateClosed, client.State())
}

// parseAllFrames decodes every frame in a packet's payload (after the
// short header), for tests that need to inspect more than the first one.
func parseAllFrames(t *testing.T, payload []byte) []Frame {
	t.Helper()
	var frames []Frame
	for len(payload) > 0 {
		f, n, err := ParseFrame(payload)
		require.NoError(t, err)
		frames = append(frames, f)
		payload = payload[n:]
	}
	return frames
}

func TestConnectionStreamDataBlockedThenUnblockedByMaxStreamData(t *testing.T) {
	clientCID, _ := NewConnectionID([]byte{1, 1, 1, 1})
	serverCID, _ := NewConnectionID([]byte{2, 2, 2, 2})

	client := NewConnection(Config{
		IsServer:             false,
		LocalConnID:          clientCID,
		PeerConnID:           serverCID,
		InitialMaxData:       1 << 20,
		InitialMaxStreamData: 1024,
	})
	client.Initialize()
	client.MarkEstablished()

	s, err := client.OpenStream()
	require.NoError(t, err)

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := s.Write(payload)
	require.NoError(t, err)
	require.Equal(t, 1024, n) // truncated to the stream's send window

	buf := make([]byte, 2048)
	dn, err := client.GenerateDatagrams(buf, 1000)
	require.NoError(t, err)
	require.Greater(t, dn, 0)

	_, hdrLen, err := ParseShortHeader(buf[:dn], client.cfg.PeerConnID.Len())
	require.NoError(t, err)
	frames := parseAllFrames(t, buf[hdrLen:dn])

	var blocked *Frame
	for i := range frames {
		if frames[i].Type == FrameTypeStreamDataBlocked {
			blocked = &frames[i]
		}
	}
	require.NotNil(t, blocked, "expected a STREAM_DATA_BLOCKED frame")
	require.Equal(t, s.ID, blocked.StreamID)
	require.Equal(t, uint64(1024), blocked.MaximumData)

	// A second GenerateDatagrams call with the window still exhausted must
	// not repeat the notification.
	dn2, err := client.GenerateDatagrams(buf, 2000)
	require.NoError(t, err)
	if dn2 > 0 {
		_, hdrLen2, err := ParseShortHeader(buf[:dn2], client.cfg.PeerConnID.Len())
		require.NoError(t, err)
		for _, f := range parseAllFrames(t, buf[hdrLen2:dn2]) {
			require.NotEqual(t, FrameTypeStreamDataBlocked, f.Type)
		}
	}

	// Peer raises the stream's send window; inject a synthetic inbound
	// MAX_STREAM_DATA frame the way a received packet would deliver one.
	hdr := ShortHeader{DCID: client.cfg.LocalConnID, PacketNumber: 0, PacketNumberLength: 1}
	pkt := hdr.Serialize(nil)
	pkt = Frame{Type: FrameTypeMaxStreamData, StreamID: s.ID, MaximumData: 4096}.Serialize(pkt)
	require.NoError(t, client.ProcessDatagram(pkt, 3000))

	rest, err := s.Write(payload[n:])
	require.NoError(t, err)
	require.Equal(t, len(payload)-n, rest)
}

func TestConnectionPeerCloseTransitionsToDraining(t *testing.T) {
	client, server := newTestConnPair(t)
	server.Close(7, "server done")

	buf := make([]byte, 1452)
	n, err := server.GenerateDatagrams(buf, 0)
	require.NoError(t, err)

	err = client.ProcessDatagram(buf[:n], 10)
	require.NoError(t, err)
	require.Equal(t, StateDraining, client.State())
}
