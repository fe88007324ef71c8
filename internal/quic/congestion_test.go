package quic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCongestionControlSlowStartGrowsWindow(t *testing.T) {
	cc := NewCongestionControl()
	require.Equal(t, uint64(InitialWindow), cc.Window())
	cc.OnPacketSent(MaxDatagramSize)
	cc.OnPacketAcked(MaxDatagramSize, 0)
	require.Equal(t, uint64(InitialWindow+MaxDatagramSize), cc.Window())
}

func TestCongestionEventReducesWindowAndEntersRecovery(t *testing.T) {
	cc := NewCongestionControl()
	before := cc.Window()
	cc.OnCongestionEvent(1000)
	require.True(t, cc.InRecovery())
	require.Less(t, cc.Window(), before)
	require.GreaterOrEqual(t, cc.Window(), uint64(MinimumWindow))
}

func TestRecoveryEndsOnAckOfPacketSentAfterRecoveryStart(t *testing.T) {
	cc := NewCongestionControl()
	cc.OnCongestionEvent(1000) // recovery starts at t=1000

	// Ack of a packet sent *before* recovery started must not end recovery.
	cc.OnPacketAcked(MaxDatagramSize, 500)
	require.True(t, cc.InRecovery())

	// Ack of a packet sent *at or after* recovery started ends it.
	cc.OnPacketAcked(MaxDatagramSize, 1500)
	require.False(t, cc.InRecovery())
}

func TestCongestionEventIgnoredWhileAlreadyInRecovery(t *testing.T) {
	cc := NewCongestionControl()
	cc.OnCongestionEvent(1000)
	w := cc.Window()
	cc.OnCongestionEvent(1100) // should be a no-op: already in recovery
	require.Equal(t, w, cc.Window())
}

func TestPersistentCongestionResetsToMinimum(t *testing.T) {
	cc := NewCongestionControl()
	cc.OnCongestionEvent(1000)
	cc.OnPersistentCongestion()
	require.Equal(t, uint64(MinimumWindow), cc.Window())
	require.False(t, cc.InRecovery())
}

func TestCanSendRespectsWindow(t *testing.T) {
	cc := NewCongestionControl()
	require.True(t, cc.CanSend(InitialWindow))
	require.False(t, cc.CanSend(InitialWindow+1))
	cc.OnPacketSent(InitialWindow)
	require.False(t, cc.CanSend(1))
}

func TestPacerUnconfiguredAlwaysAllows(t *testing.T) {
	p := NewPacer()
	require.True(t, p.CanSend(1<<20, 0))
}

func TestPacerRateLimitsBursts(t *testing.T) {
	p := NewPacer()
	p.SetRate(1200, 0) // 1200 bytes/sec
	require.False(t, p.CanSend(10_000, 0))
	// After 1 second, tokens refill (capped at 100ms worth though).
	p.SetRate(1200, 1_000_000)
	require.True(t, p.CanSend(100, 1_000_000))
}
