// Package metrics exposes optional Prometheus instrumentation for the
// connection, stream and QPACK layers. A nil *Registry disables
// collection entirely; every call site guards on that nil check so
// metrics never become load-bearing for correctness.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the collectors this module reports. Callers construct
// one with NewRegistry and register it with their own
// prometheus.Registerer (or leave it nil to disable metrics).
type Registry struct {
	ConnectionsOpen      prometheus.Gauge
	BytesInFlight        prometheus.Gauge
	CongestionWindow     prometheus.Gauge
	StreamsOpened        prometheus.Counter
	PacketsLost          prometheus.Counter
	QpackBlockedStreams  prometheus.Counter
	DatagramsSent        prometheus.Counter
	DatagramsReceived    prometheus.Counter
}

// NewRegistry constructs a Registry and registers its collectors with reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quic3", Name: "connections_open",
			Help: "Number of QUIC connections currently open.",
		}),
		BytesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quic3", Name: "bytes_in_flight",
			Help: "Bytes currently considered in flight by congestion control.",
		}),
		CongestionWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quic3", Name: "congestion_window_bytes",
			Help: "Current NewReno congestion window in bytes.",
		}),
		StreamsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quic3", Name: "streams_opened_total",
			Help: "Total streams opened, local and peer-initiated.",
		}),
		PacketsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quic3", Name: "packets_lost_total",
			Help: "Total packets declared lost by the loss detector.",
		}),
		QpackBlockedStreams: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quic3", Name: "qpack_blocked_streams_total",
			Help: "Total field sections that blocked on a dynamic table insert.",
		}),
		DatagramsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quic3", Name: "webtransport_datagrams_sent_total",
			Help: "Total WebTransport datagrams sent.",
		}),
		DatagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quic3", Name: "webtransport_datagrams_received_total",
			Help: "Total WebTransport datagrams received.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			r.ConnectionsOpen, r.BytesInFlight, r.CongestionWindow,
			r.StreamsOpened, r.PacketsLost, r.QpackBlockedStreams,
			r.DatagramsSent, r.DatagramsReceived,
		)
	}
	return r
}
