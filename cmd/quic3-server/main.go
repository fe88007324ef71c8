// Command quic3-server is a runnable demonstration of the driver contract
// the core package expects: a UDP socket read loop that feeds inbound
// datagrams to ProcessDatagram and a timer-driven loop that flushes
// GenerateDatagrams back onto the wire. It terminates one HTTP/3 Extended
// CONNECT WebTransport session per source address and echoes back whatever
// it receives, purely to exercise the wiring end to end.
package main

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fasterapi/quic3/internal/http3"
	"github.com/fasterapi/quic3/internal/metrics"
	"github.com/fasterapi/quic3/internal/quic"
	"github.com/fasterapi/quic3/internal/webtransport"
)

var (
	listenAddr    string
	idleTimeoutMs int
	verbose       bool
	enableMetrics bool
)

func init() {
	RootCmd.Flags().StringVarP(&listenAddr, "listen", "l", ":4433", "UDP address to listen on")
	RootCmd.Flags().IntVarP(&idleTimeoutMs, "idle-timeout", "t", 30000, "connection idle timeout in milliseconds")
	RootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	RootCmd.Flags().BoolVarP(&enableMetrics, "metrics", "m", false, "register Prometheus collectors")
}

// RootCmd is the main command for the 'quic3-server' binary.
var RootCmd = &cobra.Command{
	Use:   "quic3-server",
	Short: "quic3-server terminates WebTransport sessions over a bare UDP socket",
	Long:  "quic3-server is a thin external driver around the quic3 core: it owns the UDP socket and the clock, and calls ProcessDatagram/GenerateDatagrams on its behalf.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session bundles one peer's QUIC connection with the HTTP/3 and
// WebTransport layers driven on top of it.
type session struct {
	remote *net.UDPAddr
	conn   *quic.Connection
	h3     *http3.Connection
	wt     *webtransport.Session
}

func run() error {
	log := logrus.New()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	var reg *metrics.Registry
	if enableMetrics {
		reg = metrics.NewRegistry(prometheus.DefaultRegisterer)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return fmt.Errorf("quic3-server: resolving %q: %w", listenAddr, err)
	}
	sock, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("quic3-server: listening on %q: %w", listenAddr, err)
	}
	defer sock.Close()

	log.WithField("addr", sock.LocalAddr()).Info("quic3-server listening")

	sessions := make(map[string]*session)
	var mu sync.Mutex // serializes the ticker goroutine and the read loop over sessions
	readBuf := make([]byte, 64*1024)
	sendBuf := make([]byte, 64*1024)

	flush := func(now int64) {
		for key, sess := range sessions {
			for {
				n, err := sess.conn.GenerateDatagrams(sendBuf, now)
				if err != nil {
					log.WithError(err).WithField("peer", key).Warn("generating datagram")
					break
				}
				if n == 0 {
					break
				}
				if _, err := sock.WriteToUDP(sendBuf[:n], sess.remote); err != nil {
					log.WithError(err).WithField("peer", key).Warn("writing to socket")
				}
			}
		}
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				now := time.Now().UnixMicro()
				mu.Lock()
				for key, sess := range sessions {
					if err := sess.conn.CheckIdleTimeout(now); err != nil {
						log.WithField("peer", key).Info("connection idle timeout")
						delete(sessions, key)
						continue
					}
					pollSession(sess, log)
				}
				flush(now)
				mu.Unlock()
			case <-done:
				return
			}
		}
	}()

	for {
		n, addr, err := sock.ReadFromUDP(readBuf)
		if err != nil {
			close(done)
			return fmt.Errorf("quic3-server: reading from socket: %w", err)
		}
		now := time.Now().UnixMicro()
		key := addr.String()

		mu.Lock()
		sess, ok := sessions[key]
		if !ok {
			sess = newSession(addr, idleTimeoutMs, reg, log)
			sess.conn.Initialize()
			sess.conn.MarkEstablished()
			sessions[key] = sess
			log.WithField("peer", key).Info("accepted new connection")
		}

		if err := sess.conn.ProcessDatagram(readBuf[:n], now); err != nil {
			log.WithError(err).WithField("peer", key).Warn("processing datagram")
			mu.Unlock()
			continue
		}
		pollSession(sess, log)
		flush(now)
		mu.Unlock()
	}
}

func newSession(addr *net.UDPAddr, idleTimeoutMs int, reg *metrics.Registry, log *logrus.Logger) *session {
	localCID, _ := quic.NewConnectionID([]byte("quic3-server"))
	peerCID, _ := quic.NewConnectionID(nil)

	entry := log.WithField("peer", addr.String())
	conn := quic.NewConnection(quic.Config{
		IsServer:             true,
		LocalConnID:          localCID,
		PeerConnID:           peerCID,
		InitialMaxData:       1 << 20,
		InitialMaxStreamData: 1 << 20,
		IdleTimeoutUs:        int64(idleTimeoutMs) * 1000,
		Logger:               entry,
		Metrics:              reg,
	})

	h3 := http3.NewConnection(conn, true, entry)
	wt := webtransport.NewSession(conn, true)

	wt.OnStreamOpened = func(streamID uint64, isBidirectional bool) {
		entry.WithField("stream", streamID).Debug("peer opened webtransport stream")
	}
	wt.OnStreamData = func(streamID uint64, data []byte) {
		wt.SendStream(streamID, data)
	}
	wt.OnDatagram = func(data []byte) {
		wt.SendDatagram(data)
	}

	h3.Handler = func(streamID uint64, req *http3.Request) {
		if req.Protocol == "webtransport" {
			return // handled by the webtransport session's own Poll loop
		}
		h3.Respond(streamID, 404, nil, nil)
	}

	return &session{remote: addr, conn: conn, h3: h3, wt: wt}
}

func pollSession(sess *session, log *logrus.Logger) {
	if err := sess.h3.Poll(); err != nil {
		log.WithError(err).Debug("http3 poll")
	}
	if err := sess.h3.FlushResponses(); err != nil {
		log.WithError(err).Debug("flushing http3 responses")
	}
	if err := sess.wt.Poll(); err != nil {
		log.WithError(err).Debug("webtransport poll")
		return
	}
	sess.wt.FlushDatagrams()
}
