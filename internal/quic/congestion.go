package quic

// Congestion control constants, per RFC 9002 §7 and matching the original
// implementation's NewReno tuning.
const (
	MaxDatagramSize     = 1200
	InitialWindow       = 10 * MaxDatagramSize
	MinimumWindow       = 2 * MaxDatagramSize
	lossReductionFactor = 0.5
)

// CongestionControl implements NewReno (RFC 9002 §7.3): slow start,
// congestion avoidance, and a recovery period entered on a congestion
// event.
//
// Recovery ends when a packet sent after the recovery period began is
// acknowledged (RFC 9002 §7.3.2) rather than after a fixed wall-clock
// window: a sent-after-recovery-start packet being acked is the actual
// end-of-recovery signal, so OnPacketAcked is told the send time of the
// packet it is acking and compares it against recoveryStartTime itself.
type CongestionControl struct {
	cwnd             uint64
	ssthresh         uint64
	bytesInFlight    uint64
	recoveryStart    int64
	inRecovery       bool
}

// NewCongestionControl returns a NewReno controller in slow start.
func NewCongestionControl() *CongestionControl {
	return &CongestionControl{
		cwnd:     InitialWindow,
		ssthresh: ^uint64(0),
	}
}

// CanSend reports whether n more bytes may be sent without exceeding the
// congestion window.
func (c *CongestionControl) CanSend(n uint64) bool {
	return c.bytesInFlight+n <= c.cwnd
}

// OnPacketSent records n bytes as in flight.
func (c *CongestionControl) OnPacketSent(n uint64) {
	c.bytesInFlight += n
}

// OnPacketAcked updates the window for one newly-acknowledged packet of
// size n, sent at sentTimeUs. If the controller is in a recovery period
// and sentTimeUs is at or after the period's start, recovery ends: RFC
// 9002 §7.3.2 requires recovery to persist only until a packet sent after
// it began is acknowledged, not for a fixed duration.
func (c *CongestionControl) OnPacketAcked(n uint64, sentTimeUs int64) {
	if c.bytesInFlight >= n {
		c.bytesInFlight -= n
	} else {
		c.bytesInFlight = 0
	}

	if c.inRecovery {
		if sentTimeUs >= c.recoveryStart {
			c.inRecovery = false
		}
		return
	}

	if c.cwnd < c.ssthresh {
		c.cwnd += n // slow start: grow by the number of bytes acknowledged
	} else {
		c.cwnd += MaxDatagramSize * n / c.cwnd // congestion avoidance
	}
}

// OnCongestionEvent reduces the window on detecting loss or ECN
// congestion, entering a recovery period starting at nowUs.
func (c *CongestionControl) OnCongestionEvent(nowUs int64) {
	if c.inRecovery {
		return
	}
	c.recoveryStart = nowUs
	c.inRecovery = true
	newSsthresh := uint64(float64(c.cwnd) * lossReductionFactor)
	if newSsthresh < MinimumWindow {
		newSsthresh = MinimumWindow
	}
	c.ssthresh = newSsthresh
	c.cwnd = c.ssthresh
}

// OnPacketLost reduces bytesInFlight for a packet declared lost. Loss
// detection (see LossTracker) is expected to call OnCongestionEvent
// separately, once per loss episode rather than once per lost packet.
func (c *CongestionControl) OnPacketLost(n uint64) {
	if c.bytesInFlight >= n {
		c.bytesInFlight -= n
	} else {
		c.bytesInFlight = 0
	}
}

// OnPersistentCongestion resets the window to the minimum after detecting
// persistent congestion (RFC 9002 §7.6.2).
func (c *CongestionControl) OnPersistentCongestion() {
	c.cwnd = MinimumWindow
	c.ssthresh = ^uint64(0)
	c.inRecovery = false
}

// InRecovery reports whether the controller currently considers itself in
// a recovery period.
func (c *CongestionControl) InRecovery() bool { return c.inRecovery }

// Window returns the current congestion window in bytes.
func (c *CongestionControl) Window() uint64 { return c.cwnd }

// BytesInFlight returns the number of bytes currently considered
// unacknowledged and in flight.
func (c *CongestionControl) BytesInFlight() uint64 { return c.bytesInFlight }

// Pacer smooths packet emission to roughly the controller's delivery
// rate using a token bucket, capped at 100ms worth of tokens.
type Pacer struct {
	rateBytesPerSec float64
	tokens          float64
	lastUpdateUs    int64
	baselineSet     bool // lastUpdateUs holds a real timestamp (0 is a valid time)
	maxTokens       float64
}

const pacerMaxTokenWindowUs = 100_000 // 100ms

// NewPacer returns a Pacer with no rate set (unpaced, always permits
// sending) until SetRate is called.
func NewPacer() *Pacer {
	return &Pacer{}
}

// SetRate updates the pacing rate in bytes/sec, typically derived from
// cwnd / smoothed_rtt.
func (p *Pacer) SetRate(bytesPerSec float64, nowUs int64) {
	p.rateBytesPerSec = bytesPerSec
	p.maxTokens = bytesPerSec * pacerMaxTokenWindowUs / 1_000_000
	p.refill(nowUs)
}

// WarmStart seeds the token bucket as fully charged at rate bytesPerSec,
// used the first time a caller wires the pacer into an already-running
// send path: without it, the very first SetRate call establishes only a
// timing baseline with zero tokens, and an immediate CanSend check at
// the same timestamp would block the very first packet a connection
// ever sends.
func (p *Pacer) WarmStart(bytesPerSec float64, nowUs int64) {
	p.rateBytesPerSec = bytesPerSec
	p.maxTokens = bytesPerSec * pacerMaxTokenWindowUs / 1_000_000
	p.tokens = p.maxTokens
	p.lastUpdateUs = nowUs
	p.baselineSet = true
}

func (p *Pacer) refill(nowUs int64) {
	if !p.baselineSet {
		p.lastUpdateUs = nowUs
		p.baselineSet = true
		return
	}
	elapsedUs := nowUs - p.lastUpdateUs
	if elapsedUs <= 0 {
		return
	}
	p.tokens += p.rateBytesPerSec * float64(elapsedUs) / 1_000_000
	if p.tokens > p.maxTokens {
		p.tokens = p.maxTokens
	}
	p.lastUpdateUs = nowUs
}

// CanSend reports whether n bytes may be sent now without exceeding the
// pacing rate. If no rate has been configured, pacing is a no-op.
func (p *Pacer) CanSend(n uint64, nowUs int64) bool {
	if p.rateBytesPerSec <= 0 {
		return true
	}
	p.refill(nowUs)
	return p.tokens >= float64(n)
}

// OnPacketSent consumes n bytes worth of pacing tokens.
func (p *Pacer) OnPacketSent(n uint64, nowUs int64) {
	if p.rateBytesPerSec <= 0 {
		return
	}
	p.refill(nowUs)
	p.tokens -= float64(n)
	if p.tokens < 0 {
		p.tokens = 0
	}
}
