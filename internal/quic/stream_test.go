package quic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStream(id uint64) *Stream {
	return NewStream(id, 1<<20, 1<<20, NewReassemblyBudget(1<<20))
}

func TestStreamWriteAndNextSendFrame(t *testing.T) {
	s := newTestStream(4)
	n, err := s.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	f, ok := s.NextSendFrame(1024)
	require.True(t, ok)
	require.Equal(t, uint64(0), f.Offset)
	require.Equal(t, []byte("hello"), f.Data)
	require.False(t, f.Fin)

	_, ok = s.NextSendFrame(1024)
	require.False(t, ok)
}

func TestStreamSendFinAfterDrain(t *testing.T) {
	s := newTestStream(4)
	s.Write([]byte("abc"))
	s.CloseSend()

	f, ok := s.NextSendFrame(1024)
	require.True(t, ok)
	require.True(t, f.Fin)
	require.Equal(t, []byte("abc"), f.Data)
	require.Equal(t, StreamSendClosed, s.State)

	_, ok = s.NextSendFrame(1024)
	require.False(t, ok)
}

func TestStreamSendRespectsMaxSize(t *testing.T) {
	s := newTestStream(4)
	s.Write([]byte("0123456789"))
	f, ok := s.NextSendFrame(4)
	require.True(t, ok)
	require.Equal(t, []byte("0123"), f.Data)
	require.False(t, f.Fin)

	f2, ok := s.NextSendFrame(100)
	require.True(t, ok)
	require.Equal(t, []byte("456789"), f2.Data)
	require.Equal(t, uint64(4), f2.Offset)
}

func TestStreamWriteBlockedByFlowControl(t *testing.T) {
	s := NewStream(4, 3, 1<<20, NewReassemblyBudget(1<<20))
	n, err := s.Write([]byte("abcdef"))
	require.NoError(t, err)
	require.Equal(t, 3, n) // truncated to the 3-byte send window

	n2, err := s.Write([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, 0, n2) // window exhausted
}

func TestStreamReceiveInOrder(t *testing.T) {
	s := newTestStream(0)
	err := s.ReceiveStreamFrame(0, []byte("hello"), false)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, _ := s.Read(buf)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
}

func TestStreamReceiveOutOfOrderReassembles(t *testing.T) {
	s := newTestStream(0)
	// "world" arrives before "hello "
	err := s.ReceiveStreamFrame(6, []byte("world"), true)
	require.NoError(t, err)
	require.Equal(t, 0, s.recvBuf.Len()) // nothing deliverable yet, held pending
	require.False(t, s.AtEOF())

	err = s.ReceiveStreamFrame(0, []byte("hello "), false)
	require.NoError(t, err)

	buf := make([]byte, 11)
	n, _ := s.Read(buf)
	require.Equal(t, 11, n)
	require.Equal(t, "hello world", string(buf))
	require.True(t, s.AtEOF())
}

func TestStreamReceiveOverlappingDuplicateData(t *testing.T) {
	s := newTestStream(0)
	require.NoError(t, s.ReceiveStreamFrame(0, []byte("hello"), false))
	// Retransmission overlapping already-delivered bytes must not double-count.
	require.NoError(t, s.ReceiveStreamFrame(2, []byte("llo world"), true))

	buf := make([]byte, 11)
	n, _ := s.Read(buf)
	require.Equal(t, "hello world", string(buf[:n]))
}

func TestStreamReassemblyBudgetExceeded(t *testing.T) {
	budget := NewReassemblyBudget(4)
	s := NewStream(0, 1<<20, 1<<20, budget)
	err := s.ReceiveStreamFrame(100, []byte("12345"), false) // 5 bytes > budget of 4
	require.ErrorIs(t, err, ErrReassemblyBudgetExceeded)
}

func TestStreamReassemblyBudgetReleasedAfterSplice(t *testing.T) {
	budget := NewReassemblyBudget(10)
	s := NewStream(0, 1<<20, 1<<20, budget)
	require.NoError(t, s.ReceiveStreamFrame(5, []byte("world"), false))
	require.Equal(t, 5, budget.Used())

	require.NoError(t, s.ReceiveStreamFrame(0, []byte("hello"), false))
	require.Equal(t, 0, budget.Used())
}

func TestStreamConflictingFinalSizeRejected(t *testing.T) {
	s := newTestStream(0)
	require.NoError(t, s.ReceiveStreamFrame(0, []byte("hello"), true)) // final size 5
	err := s.ReceiveStreamFrame(5, []byte("more"), true)               // final size 9, conflicts
	require.ErrorIs(t, err, ErrMalformed)
}

func TestStreamDataBeyondFinalSizeRejected(t *testing.T) {
	s := newTestStream(0)
	require.NoError(t, s.ReceiveStreamFrame(0, []byte("hello"), true))
	err := s.ReceiveStreamFrame(5, []byte("more"), false)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestStreamResetDiscardsSendBuffer(t *testing.T) {
	s := newTestStream(4)
	s.Write([]byte("buffered"))
	s.Reset(1)
	require.Equal(t, StreamReset, s.State)
	_, ok := s.NextSendFrame(1024)
	require.False(t, ok)
}

func TestTypeOfAndHelpers(t *testing.T) {
	require.Equal(t, StreamClientBidi, TypeOf(0))
	require.Equal(t, StreamServerBidi, TypeOf(1))
	require.Equal(t, StreamClientUni, TypeOf(2))
	require.Equal(t, StreamServerUni, TypeOf(3))
	require.True(t, IsBidirectional(0))
	require.False(t, IsBidirectional(2))
	require.True(t, IsClientInitiated(0))
	require.False(t, IsClientInitiated(1))
}
