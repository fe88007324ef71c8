package webtransport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fasterapi/quic3/internal/http3"
	"github.com/fasterapi/quic3/internal/qpack"
	"github.com/fasterapi/quic3/internal/quic"
)

func encodeConnectLikeHeaders(enc *qpack.Encoder, method, protocol, path, authority string) []byte {
	fields := []qpack.Entry{
		{Name: ":method", Value: method},
		{Name: ":path", Value: path},
		{Name: ":authority", Value: authority},
	}
	if protocol != "" {
		fields = append(fields, qpack.Entry{Name: ":protocol", Value: protocol})
	}
	return http3.AppendHeadersFrame(nil, enc.EncodeFieldSection(fields))
}

func newTestQuicPair(t *testing.T) (client, server *quic.Connection) {
	t.Helper()
	clientCID, _ := quic.NewConnectionID([]byte{1, 1, 1, 1})
	serverCID, _ := quic.NewConnectionID([]byte{2, 2, 2, 2})

	client = quic.NewConnection(quic.Config{
		IsServer: false, LocalConnID: clientCID, PeerConnID: serverCID,
		InitialMaxData: 1 << 20, InitialMaxStreamData: 1 << 20,
	})
	server = quic.NewConnection(quic.Config{
		IsServer: true, LocalConnID: serverCID, PeerConnID: clientCID,
		InitialMaxData: 1 << 20, InitialMaxStreamData: 1 << 20,
	})
	client.Initialize()
	server.Initialize()
	client.MarkEstablished()
	server.MarkEstablished()
	return client, server
}

func pump(t *testing.T, from, to *quic.Connection) {
	t.Helper()
	buf := make([]byte, 4096)
	n, err := from.GenerateDatagrams(buf, 0)
	require.NoError(t, err)
	if n == 0 {
		return
	}
	require.NoError(t, to.ProcessDatagram(buf[:n], 0))
}

func TestSessionConnectAndAccept(t *testing.T) {
	qClient, qServer := newTestQuicPair(t)
	client := NewSession(qClient, false)
	server := NewSession(qServer, true)

	require.NoError(t, client.Connect("/wt", "example.com"))
	pump(t, qClient, qServer)
	require.NoError(t, server.Poll())

	require.Equal(t, "/wt", server.Path())
	require.Equal(t, "example.com", server.Authority())
	require.Equal(t, StateConnecting, server.State())

	require.NoError(t, server.Accept())
	require.Equal(t, StateConnected, server.State())

	pump(t, qServer, qClient)
	require.NoError(t, client.Poll())
	require.Equal(t, StateConnected, client.State())
}

func TestSessionStreamDataAfterConnect(t *testing.T) {
	qClient, qServer := newTestQuicPair(t)
	client := NewSession(qClient, false)
	server := NewSession(qServer, true)

	require.NoError(t, client.Connect("/wt", "example.com"))
	pump(t, qClient, qServer)
	require.NoError(t, server.Poll())
	require.NoError(t, server.Accept())
	pump(t, qServer, qClient)
	require.NoError(t, client.Poll())

	var openedID uint64
	var openedBidi bool
	var gotData []byte
	server.OnStreamOpened = func(streamID uint64, isBidirectional bool) {
		openedID, openedBidi = streamID, isBidirectional
	}
	server.OnStreamData = func(streamID uint64, data []byte) {
		gotData = append(gotData, data...)
	}

	streamID, err := client.OpenStream()
	require.NoError(t, err)
	_, err = client.SendStream(streamID, []byte("hello"))
	require.NoError(t, err)

	pump(t, qClient, qServer)
	require.NoError(t, server.Poll())

	require.Equal(t, streamID, openedID)
	require.True(t, openedBidi)
	require.Equal(t, "hello", string(gotData))
}

func TestSessionDatagramRoundTrip(t *testing.T) {
	qClient, qServer := newTestQuicPair(t)
	client := NewSession(qClient, false)
	server := NewSession(qServer, true)

	require.NoError(t, client.Connect("/wt", "example.com"))
	pump(t, qClient, qServer)
	require.NoError(t, server.Poll())
	require.NoError(t, server.Accept())
	pump(t, qServer, qClient)
	require.NoError(t, client.Poll())

	var received []byte
	server.OnDatagram = func(data []byte) { received = data }

	require.NoError(t, client.SendDatagram([]byte("ping")))
	client.FlushDatagrams()

	pump(t, qClient, qServer)
	require.NoError(t, server.Poll())

	require.Equal(t, "ping", string(received))
	require.Equal(t, uint64(1), client.Stats().DatagramsSent)
	require.Equal(t, uint64(1), server.Stats().DatagramsReceived)
}

func TestSendDatagramQueueBounded(t *testing.T) {
	qClient, _ := newTestQuicPair(t)
	client := NewSession(qClient, false)
	for i := 0; i < maxPendingDatagrams; i++ {
		require.NoError(t, client.SendDatagram([]byte("x")))
	}
	require.ErrorIs(t, client.SendDatagram([]byte("x")), ErrDatagramQueueFull)
}

func TestRejectsNonWebTransportConnect(t *testing.T) {
	qClient, qServer := newTestQuicPair(t)
	server := NewSession(qServer, true)

	str, err := qClient.OpenStream()
	require.NoError(t, err)
	// Minimal malformed CONNECT: a GET instead of CONNECT+webtransport.
	enc := server.encoder
	_, err = str.Write(encodeConnectLikeHeaders(enc, "GET", "", "/", "example.com"))
	require.NoError(t, err)

	pump(t, qClient, qServer)
	err = server.Poll()
	require.ErrorIs(t, err, ErrNotWebTransportConnect)
}
