package http3

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fasterapi/quic3/internal/qpack"
)

func TestRequestAssemblerFullRequestInOneFeed(t *testing.T) {
	enc := qpack.NewEncoder(nil)
	fields := []qpack.Entry{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/index"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "example.com"},
		{Name: "user-agent", Value: "test"},
	}
	var b []byte
	b = AppendHeadersFrame(b, enc.EncodeFieldSection(fields))
	b = AppendDataFrame(b, []byte("body"))

	a := NewRequestAssembler(qpack.NewDecoder(nil))
	req, err := a.Feed(b, true)
	require.NoError(t, err)
	require.NotNil(t, req)
	require.Equal(t, "GET", req.Method)
	require.Equal(t, "/index", req.Path)
	require.Equal(t, "https", req.Scheme)
	require.Equal(t, "example.com", req.Authority)
	require.Equal(t, "body", string(req.Body))
	require.Len(t, req.Headers, 1)
	require.Equal(t, "user-agent", req.Headers[0].Name)
}

func TestRequestAssemblerSplitAcrossFeeds(t *testing.T) {
	enc := qpack.NewEncoder(nil)
	fields := []qpack.Entry{{Name: ":method", Value: "POST"}, {Name: ":path", Value: "/"}}
	var b []byte
	b = AppendHeadersFrame(b, enc.EncodeFieldSection(fields))
	b = AppendDataFrame(b, []byte("chunk1"))
	b = AppendDataFrame(b, []byte("chunk2"))

	a := NewRequestAssembler(qpack.NewDecoder(nil))
	mid := len(b) / 2
	req, err := a.Feed(b[:mid], false)
	require.NoError(t, err)
	require.Nil(t, req)

	req, err = a.Feed(b[mid:], true)
	require.NoError(t, err)
	require.NotNil(t, req)
	require.Equal(t, "POST", req.Method)
	require.Equal(t, "chunk1chunk2", string(req.Body))
}

func TestRequestAssemblerWaitsForFinWithNoBody(t *testing.T) {
	enc := qpack.NewEncoder(nil)
	fields := []qpack.Entry{{Name: ":method", Value: "GET"}, {Name: ":path", Value: "/"}}
	b := AppendHeadersFrame(nil, enc.EncodeFieldSection(fields))

	a := NewRequestAssembler(qpack.NewDecoder(nil))
	req, err := a.Feed(b, false)
	require.NoError(t, err)
	require.Nil(t, req)

	req, err = a.Feed(nil, true)
	require.NoError(t, err)
	require.NotNil(t, req)
}

func TestEncodeResponseProducesHeadersThenDataFrame(t *testing.T) {
	b := EncodeResponse(nil, qpack.NewEncoder(nil), 200, []qpack.Entry{{Name: "content-type", Value: "text/plain"}}, []byte("hi"))

	hdr, n, err := ParseFrameHeader(b)
	require.NoError(t, err)
	require.Equal(t, FrameHeaders, hdr.Type)
	b = b[n+int(hdr.Length):]

	dhdr, dn, err := ParseFrameHeader(b)
	require.NoError(t, err)
	require.Equal(t, FrameData, dhdr.Type)
	require.Equal(t, "hi", string(b[dn:dn+int(dhdr.Length)]))
}

func TestStatusText(t *testing.T) {
	require.Equal(t, "200", statusText(200))
	require.Equal(t, "404", statusText(404))
	require.Equal(t, "503", statusText(503))
}
