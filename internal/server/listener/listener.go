// Package listener runs the server's TLS accept loop. Spec §2/§5 scope
// this to one active client at a time; grounded on the teacher's
// SessionManager lifecycle (session.go) generalized from N concurrent
// WebRTC sessions down to a single serialized connection slot.
package listener

import (
	"crypto/tls"
	"net"
	"sync"

	"github.com/breeze-rmm/deskstream/internal/logging"
	"github.com/breeze-rmm/deskstream/internal/server/connection"
)

var log = logging.L("listener")

// Listener accepts TLS connections and runs at most one Connection at a
// time: once a new connection has been accepted and has completed its TLS
// handshake, the previous connection is closed and replaced by it.
type Listener struct {
	addr     string
	tlsCfg   *tls.Config
	newHost  func() connection.Host

	mu       sync.Mutex
	current  *connection.Connection
	ln       net.Listener
	stopped  bool
}

// New constructs a Listener. newHost is called once per accepted
// connection to build the Host view that Connection needs (it may carry
// per-connection state like a fresh CapturePipeline factory).
func New(addr string, tlsCfg *tls.Config, newHost func() connection.Host) *Listener {
	return &Listener{addr: addr, tlsCfg: tlsCfg, newHost: newHost}
}

// Serve blocks accepting connections until Close is called.
func (l *Listener) Serve() error {
	ln, err := tls.Listen("tcp", l.addr, l.tlsCfg)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	log.Info("listening", "addr", l.addr)

	for {
		raw, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			stopped := l.stopped
			l.mu.Unlock()
			if stopped {
				return nil
			}
			log.Warn("accept failed", "error", err)
			continue
		}

		tlsConn, ok := raw.(*tls.Conn)
		if !ok {
			raw.Close()
			continue
		}
		if err := tlsConn.Handshake(); err != nil {
			log.Warn("tls handshake failed", "remote", raw.RemoteAddr(), "error", err)
			tlsConn.Close()
			continue
		}

		l.replaceCurrent(tlsConn)
	}
}

func (l *Listener) replaceCurrent(tlsConn *tls.Conn) {
	l.mu.Lock()
	prev := l.current
	l.mu.Unlock()
	if prev != nil {
		log.Info("new connection arrived, closing previous one")
		prev.Close()
	}

	conn, err := connection.New(tlsConn, l.newHost())
	if err != nil {
		log.Warn("failed to establish connection", "remote", tlsConn.RemoteAddr(), "error", err)
		tlsConn.Close()
		return
	}

	l.mu.Lock()
	l.current = conn
	l.mu.Unlock()

	log.Info("client connected", "remote", tlsConn.RemoteAddr())
	go func() {
		if err := conn.Run(); err != nil {
			log.Warn("connection ended with error", "remote", tlsConn.RemoteAddr(), "error", err)
		}
		l.mu.Lock()
		if l.current == conn {
			l.current = nil
		}
		l.mu.Unlock()
	}()
}

// Close stops accepting new connections and closes the active one.
func (l *Listener) Close() error {
	l.mu.Lock()
	l.stopped = true
	ln := l.ln
	cur := l.current
	l.mu.Unlock()

	if cur != nil {
		cur.Close()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}
