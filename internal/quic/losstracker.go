package quic

// Loss detection tuning constants, per RFC 9002 §6.
const (
	timeThresholdNumerator   = 9
	timeThresholdDenominator = 8
	packetThreshold          = 3
	granularityUs            = 1000 // 1ms
	initialRttUs             = 333_000

	// persistentCongestionThreshold is the RFC 9002 §7.6.1 multiplier
	// applied to PTO to derive the persistent congestion duration.
	persistentCongestionThreshold = 3
)

// SentPacket records a packet this endpoint has transmitted and is
// awaiting acknowledgment for.
type SentPacket struct {
	PacketNumber uint64
	SentTimeUs   int64
	Size         uint64
	// AckEliciting is false for packets carrying only ACK/PADDING frames;
	// such packets are not subject to loss detection.
	AckEliciting bool
}

// LossTracker maintains the set of in-flight sent packets, RTT estimates,
// and detects packet loss via both the packet-count and time thresholds
// of RFC 9002 §6.1.
type LossTracker struct {
	sent map[uint64]SentPacket

	largestAcked int64 // -1 means none yet

	smoothedRttUs int64
	rttVarUs      int64
	minRttUs      int64
	haveRtt       bool

	lossTimeUs int64 // 0 means unset
}

// NewLossTracker returns an empty tracker seeded with the default initial
// RTT estimate.
func NewLossTracker() *LossTracker {
	return &LossTracker{
		sent:          make(map[uint64]SentPacket),
		largestAcked:  -1,
		smoothedRttUs: initialRttUs,
	}
}

// OnPacketSent records a newly transmitted packet.
func (l *LossTracker) OnPacketSent(pn uint64, nowUs int64, size uint64, ackEliciting bool) {
	l.sent[pn] = SentPacket{PacketNumber: pn, SentTimeUs: nowUs, Size: size, AckEliciting: ackEliciting}
}

// UpdateRTT applies a new RTT sample using the RFC 9002 §5.3 EWMA: the
// very first sample seeds both smoothed RTT and RTT variance directly;
// subsequent samples update smoothed_rtt = 7/8 * smoothed + 1/8 * latest
// and rttvar = 3/4 * rttvar + 1/4 * |smoothed - latest|.
func (l *LossTracker) UpdateRTT(latestRttUs int64) {
	if latestRttUs < 0 {
		latestRttUs = 0
	}
	if !l.haveRtt {
		l.smoothedRttUs = latestRttUs
		l.rttVarUs = latestRttUs / 2
		l.minRttUs = latestRttUs
		l.haveRtt = true
		return
	}
	if latestRttUs < l.minRttUs {
		l.minRttUs = latestRttUs
	}
	diff := l.smoothedRttUs - latestRttUs
	if diff < 0 {
		diff = -diff
	}
	l.rttVarUs = (3*l.rttVarUs + diff) / 4
	l.smoothedRttUs = (7*l.smoothedRttUs + latestRttUs) / 8
}

// SmoothedRTT returns the current smoothed RTT estimate in microseconds.
func (l *LossTracker) SmoothedRTT() int64 { return l.smoothedRttUs }

// RTTVar returns the current RTT variance estimate in microseconds.
func (l *LossTracker) RTTVar() int64 { return l.rttVarUs }

// PTO returns the probe timeout duration (smoothed_rtt + max(4*rttvar,
// granularity)), per RFC 9002 §6.2.1, in microseconds.
func (l *LossTracker) PTO() int64 {
	v := 4 * l.rttVarUs
	if v < granularityUs {
		v = granularityUs
	}
	return l.smoothedRttUs + v
}

// lossDelay is max(9/8 * smoothed_rtt, 1ms), the time-threshold window
// used by detectAndRemoveLost.
func (l *LossTracker) lossDelay() int64 {
	d := l.smoothedRttUs * timeThresholdNumerator / timeThresholdDenominator
	if d < granularityUs {
		d = granularityUs
	}
	return d
}

// OnAckReceived applies an ACK frame's ranges: every sent packet number
// covered by a range is acknowledged (and removed from the in-flight set,
// with its size/sendTime returned in acked), RTT is updated
// from the largest newly-acked packet, and detectAndRemoveLost is run
// afterward. It returns the acknowledged packets and the newly lost ones.
func (l *LossTracker) OnAckReceived(ranges []AckRange, ackDelayUs int64, nowUs int64) (acked []SentPacket, lost []SentPacket) {
	sawNewLargest := false
	var newLargestSent SentPacket

	for _, r := range ranges {
		for pn := r.Smallest; pn <= r.Largest; pn++ {
			if sp, ok := l.sent[pn]; ok {
				acked = append(acked, sp)
				delete(l.sent, pn)
				if int64(pn) > l.largestAcked {
					l.largestAcked = int64(pn)
					sawNewLargest = true
					newLargestSent = sp
				}
			}
			if pn == ^uint64(0) {
				break // avoid overflow on a maximal range
			}
		}
	}

	if sawNewLargest {
		rtt := nowUs - newLargestSent.SentTimeUs
		adjusted := rtt - ackDelayUs
		if adjusted < 0 {
			adjusted = rtt
		}
		l.UpdateRTT(adjusted)
	}

	lost = l.detectAndRemoveLost(nowUs)
	return acked, lost
}

// detectAndRemoveLost applies the packet-threshold and time-threshold
// rules of RFC 9002 §6.1 to every still-in-flight packet older than the
// current largest acknowledged packet number, removing and returning
// those declared lost.
func (l *LossTracker) detectAndRemoveLost(nowUs int64) []SentPacket {
	if l.largestAcked < 0 {
		return nil
	}
	delay := l.lossDelay()
	l.lossTimeUs = 0

	var lost []SentPacket
	for pn, sp := range l.sent {
		if int64(pn) > l.largestAcked {
			continue
		}
		packetThresholdLost := uint64(l.largestAcked)-pn >= packetThreshold
		timeThresholdLost := sp.SentTimeUs <= nowUs-delay
		if packetThresholdLost || timeThresholdLost {
			lost = append(lost, sp)
			delete(l.sent, pn)
			continue
		}
		lossDeadline := sp.SentTimeUs + delay
		if l.lossTimeUs == 0 || lossDeadline < l.lossTimeUs {
			l.lossTimeUs = lossDeadline
		}
	}
	return lost
}

// PersistentCongestionDuration returns the span of send time (PTO *
// persistentCongestionThreshold) that, if entirely covered by a single
// batch of packets declared lost, indicates persistent congestion rather
// than an ordinary loss episode.
func (l *LossTracker) PersistentCongestionDuration() int64 {
	return l.PTO() * persistentCongestionThreshold
}

// IsPersistentCongestion reports whether a batch of packets declared lost
// in one loss-detection pass spans at least PersistentCongestionDuration
// from the earliest to the latest send time, per RFC 9002 §7.6.2: a
// contiguous, unacknowledged send-time span that long means the path
// itself has stopped delivering, not merely that one packet was dropped.
func (l *LossTracker) IsPersistentCongestion(lost []SentPacket) bool {
	if len(lost) < 2 {
		return false
	}
	earliest, latest := lost[0].SentTimeUs, lost[0].SentTimeUs
	for _, sp := range lost[1:] {
		if sp.SentTimeUs < earliest {
			earliest = sp.SentTimeUs
		}
		if sp.SentTimeUs > latest {
			latest = sp.SentTimeUs
		}
	}
	return latest-earliest >= l.PersistentCongestionDuration()
}

// LossDetectionTimerExpired checks whether the time-threshold loss timer
// has fired, and if so removes and returns newly-lost packets.
func (l *LossTracker) LossDetectionTimerExpired(nowUs int64) []SentPacket {
	if l.lossTimeUs == 0 || nowUs < l.lossTimeUs {
		return nil
	}
	return l.detectAndRemoveLost(nowUs)
}

// InFlightCount returns the number of packets still awaiting
// acknowledgment.
func (l *LossTracker) InFlightCount() int { return len(l.sent) }
