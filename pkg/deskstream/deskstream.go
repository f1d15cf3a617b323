// Package deskstream wires the server and client halves of the stream
// together: identity, trust stores, the TLS listener, and the dial/auth
// handshake, exposing the two entrypoints spec §6.3 calls out as the
// library's surface. Grounded on the teacher's cmd/breeze-agent/main.go
// wiring style (component construction kept in one place, command layer
// stays thin).
package deskstream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/breeze-rmm/deskstream/internal/client/hostlist"
	"github.com/breeze-rmm/deskstream/internal/client/session"
	"github.com/breeze-rmm/deskstream/internal/config"
	"github.com/breeze-rmm/deskstream/internal/frame"
	"github.com/breeze-rmm/deskstream/internal/logging"
	"github.com/breeze-rmm/deskstream/internal/metrics"
	"github.com/breeze-rmm/deskstream/internal/netclock"
	"github.com/breeze-rmm/deskstream/internal/server/capture"
	"github.com/breeze-rmm/deskstream/internal/server/connection"
	"github.com/breeze-rmm/deskstream/internal/server/identity"
	"github.com/breeze-rmm/deskstream/internal/server/knownclients"
	"github.com/breeze-rmm/deskstream/internal/server/listener"
	"github.com/breeze-rmm/deskstream/internal/server/pipeline"
)

var log = logging.L("deskstream")

// RunServer loads or generates the host's identity, opens the
// known-clients trust store, and serves connections on cfg.ListenAddr
// until ctx is cancelled. approve is consulted once per pairing
// handshake; see internal/server/connection.Approver.
func RunServer(ctx context.Context, cfg *config.Config, approve connection.Approver) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "deskstream-host"
	}

	id, err := identity.Load(cfg.DataDir, cfg.Brand, hostname)
	if err != nil {
		return fmt.Errorf("deskstream: load identity: %w", err)
	}

	kc := knownclients.Open(filepath.Join(cfg.DataDir, "clients.toml"))
	clock := netclock.New()

	// Shared across reconnects so the Prometheus exporter below observes
	// one running counter set rather than resetting per client, matching
	// the one-active-client-at-a-time model.
	streamMetrics := metrics.NewStreamMetrics()

	host := connection.Host{
		ID:           id,
		KnownClients: kc,
		Clock:        clock,
		Approve:      approve,
		NativeWidth:  cfg.MaxWidth,
		NativeHeight: cfg.MaxHeight,
		NativeFPS:    frame.Rational{Num: cfg.MaxFPSNum, Den: cfg.MaxFPSDen},
		NewPipeline: func() *pipeline.CapturePipeline {
			src := capture.NewNullSource(capture.Config{Width: cfg.MaxWidth, Height: cfg.MaxHeight})
			return pipeline.New(src, streamMetrics, clock)
		},
	}

	sess := capture.CurrentSession()
	if !sess.Interactive {
		log.Warn("host process has no interactive session; capture will be blank until one is attached", "sessionID", sess.SessionID)
	}

	if cfg.MetricsEnabled {
		go runMetricsExporter(ctx, cfg.MetricsAddr, streamMetrics)
	}

	tlsCfg := identity.ServerTLSConfig(id)
	ln := listener.New(cfg.ListenAddr, tlsCfg, func() connection.Host { return host })

	go func() {
		<-ctx.Done()
		log.Info("server shutting down")
		ln.Close()
	}()

	log.Info("server starting", "addr", cfg.ListenAddr, "brand", cfg.Brand)
	return ln.Serve()
}

// runMetricsExporter serves /metrics on addr and copies counter deltas from
// stream into the Prometheus collectors once a second until ctx is done.
// StreamMetrics itself isn't a prometheus.Collector (it's shared with the
// hot capture/encode path and must stay cheap to update), so the exporter
// polls it instead of registering it directly.
func runMetricsExporter(ctx context.Context, addr string, stream *metrics.StreamMetrics) {
	exporter := metrics.NewExporter(stream, prometheus.DefaultRegisterer)

	go func() {
		if err := metrics.Serve(addr); err != nil {
			log.Warn("metrics listener stopped", "error", err)
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	prev := stream.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := stream.Snapshot()
			exporter.Collect(prev, cur)
			prev = cur
		}
	}
}

// ConnectToHost dials a remembered (or freshly entered) host, completes
// the TLS handshake, rejects the server if entry carries a pinned
// fingerprint that its certificate does not match, and if the server
// doesn't already recognize this client's certificate, runs the PIN
// pairing handshake. handlers receives
// the resulting stream of desktop frames, cursor updates, and audio.
func ConnectToHost(ctx context.Context, id *identity.Identity, entry hostlist.Entry, handlers session.Handlers) (*session.Session, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "deskstream-client"
	}

	tlsCfg := identity.ClientTLSConfig(id)
	sess := session.New(tlsCfg, handlers)

	if err := sess.Dial(ctx, entry.Address, hostname); err != nil {
		return nil, fmt.Errorf("deskstream: dial %s: %w", entry.Address, err)
	}

	if entry.FingerprintHex != "" && knownclients.Fingerprint(sess.RemoteCertificate()) != entry.FingerprintHex {
		sess.Close()
		return nil, fmt.Errorf("deskstream: %s presented a certificate that does not match the pinned fingerprint", entry.Address)
	}

	if !sess.IsAuthorized() {
		if err := sess.Authenticate(id.Fingerprint(), hostname); err != nil {
			sess.Close()
			return nil, fmt.Errorf("deskstream: authenticate: %w", err)
		}
	}

	return sess, nil
}
