package quic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlowControlSendWindow(t *testing.T) {
	fc := NewFlowControl(1000, 1000)
	require.True(t, fc.CanSend(500))
	fc.AddSentData(500)
	require.True(t, fc.CanSend(500))
	require.False(t, fc.CanSend(501))
	require.Equal(t, uint64(500), fc.AvailableSendWindow())
	require.False(t, fc.IsBlocked())

	fc.AddSentData(500)
	require.True(t, fc.IsBlocked())
	require.Equal(t, uint64(0), fc.AvailableSendWindow())
}

func TestFlowControlPeerMaxDataNeverDecreases(t *testing.T) {
	fc := NewFlowControl(1000, 1000)
	fc.UpdatePeerMaxData(2000)
	require.Equal(t, uint64(2000), fc.MaxData())
	fc.UpdatePeerMaxData(1500) // must be ignored, smaller than current
	require.Equal(t, uint64(2000), fc.MaxData())
}

func TestFlowControlReceiveWindow(t *testing.T) {
	fc := NewFlowControl(0, 1000)
	require.True(t, fc.CanReceive(1000))
	require.False(t, fc.CanReceive(1001))
	fc.AddRecvData(1000)
	require.False(t, fc.CanReceive(1))
}

func TestFlowControlAutoIncrementWindow(t *testing.T) {
	fc := NewFlowControl(0, 1000)
	fc.AddRecvData(600) // crosses half of 1000
	fc.AutoIncrementWindow(500)
	require.Equal(t, uint64(1500), fc.RecvMaxData())

	fc2 := NewFlowControl(0, 1000)
	fc2.AddRecvData(100) // below half
	fc2.AutoIncrementWindow(500)
	require.Equal(t, uint64(1000), fc2.RecvMaxData())
}

func TestStreamFlowControlSameSemantics(t *testing.T) {
	sfc := NewStreamFlowControl(100, 100)
	require.True(t, sfc.CanSend(100))
	sfc.AddSentData(100)
	require.False(t, sfc.CanSend(1))
}
