// Package connection implements the server's per-client state machine:
// Greeted -> (Unauthorized|Authorized) -> Streaming -> Closed, grounded on
// original_source/src/server/Connection.cpp's run_() dispatch loop and
// the teacher's session.go atomic-flag/sync.Once lifecycle idiom.
package connection

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/deskstream/internal/codec"
	"github.com/breeze-rmm/deskstream/internal/frame"
	"github.com/breeze-rmm/deskstream/internal/logging"
	"github.com/breeze-rmm/deskstream/internal/metrics"
	"github.com/breeze-rmm/deskstream/internal/netclock"
	"github.com/breeze-rmm/deskstream/internal/pairing"
	"github.com/breeze-rmm/deskstream/internal/server/identity"
	"github.com/breeze-rmm/deskstream/internal/server/knownclients"
	"github.com/breeze-rmm/deskstream/internal/server/pipeline"
	"github.com/breeze-rmm/deskstream/internal/wire"
)

const protocolVersion = 1

// State is the connection's coarse lifecycle stage.
type State int

const (
	StateGreeted State = iota
	StateUnauthorized
	StateAuthorized
	StateStreaming
	StateClosed
)

// Approver is consulted once per auth handshake to approve or reject a
// pairing PIN. It blocks the connection's receive loop while awaiting a
// decision, mirroring the original's synchronous console PIN prompt —
// here the decision surface (console, HTTP, desktop notification) is the
// caller's choice, not this package's.
type Approver func(pin pairing.PIN, hostname string) bool

// Host exposes the server-wide state a Connection needs: native display
// mode, the known-client set, and stream lifecycle callbacks.
type Host struct {
	ID             *identity.Identity
	KnownClients   *knownclients.Store
	Clock          *netclock.Clock
	Approve        Approver
	NativeWidth    int
	NativeHeight   int
	NativeFPS      frame.Rational
	NewPipeline    func() *pipeline.CapturePipeline
}

// Connection drives one client socket through the handshake and
// streaming protocol.
type Connection struct {
	id     string
	host   Host
	conn   *wire.Conn
	log    interface {
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, ...any)
	}

	mu            sync.Mutex
	state         State
	remoteCert    []byte
	pendingNonce  []byte
	pendingClientNonce []byte
	pendingClientHash  [48]byte
	pendingHostname    string

	streaming atomic.Bool
	pipe      *pipeline.CapturePipeline
	metrics   *metrics.StreamMetrics
	closeOnce sync.Once
}

// New wraps an accepted TLS connection. The remote certificate must
// already be available (post-handshake) via raw.ConnectionState().
func New(raw *tls.Conn, host Host) (*Connection, error) {
	state := raw.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, errors.New("connection: no client certificate presented")
	}
	remoteCert := state.PeerCertificates[0].Raw

	id := uuid.NewString()
	return &Connection{
		id:         id,
		host:       host,
		conn:       wire.NewConn(raw),
		log:        logging.WithSession(logging.L("connection"), id),
		state:      StateGreeted,
		remoteCert: remoteCert,
		metrics:    metrics.NewStreamMetrics(),
	}, nil
}

// Run processes packets until the connection closes. It returns nil on a
// clean disconnect.
func (c *Connection) Run() error {
	defer c.Close()

	known := c.host.KnownClients.IsKnown(c.remoteCert)
	c.mu.Lock()
	if known {
		c.state = StateAuthorized
	} else {
		c.state = StateUnauthorized
	}
	c.mu.Unlock()

	for {
		pkt, extra, err := c.conn.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("connection: recv: %w", err)
		}

		if err := c.dispatch(pkt, extra); err != nil {
			c.log.Warn("dispatch error", "type", pkt.Type, "error", err)
		}
	}
}

func (c *Connection) dispatch(pkt wire.Packet, extra []byte) error {
	switch pkt.Type {
	case wire.TypeClientIntro:
		return c.handleClientIntro(pkt)
	case wire.TypePingRequest:
		return c.handlePing(pkt)
	case wire.TypeQueryHostCapsRequest:
		return c.handleQueryHostCaps(pkt)
	case wire.TypeConfigureStreamRequest:
		return c.handleConfigureStream(pkt)
	case wire.TypeStartStreamRequest:
		return c.handleStartStream(pkt)
	case wire.TypeStopStreamRequest:
		return c.handleStopStream(pkt)
	case wire.TypeAuthRequest:
		return c.handleAuthRequest(pkt, extra)
	case wire.TypeClientNonceNotify:
		return c.handleClientNonceNotify(pkt, extra)
	default:
		c.log.Warn("unexpected packet type", "type", pkt.Type)
		return nil
	}
}

func (c *Connection) isAuthorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateAuthorized || c.state == StateStreaming
}

func (c *Connection) handleClientIntro(pkt wire.Packet) error {
	status := wire.StatusOK
	if pkt.ProtocolVersion != protocolVersion {
		status = wire.StatusVersionMismatch
	} else if !c.isAuthorized() {
		status = wire.StatusAuthRequired
	}
	return c.conn.Send(wire.Packet{
		Type:            wire.TypeServerIntro,
		ProtocolVersion: protocolVersion,
		CommitName:      "deskstream",
		Status:          status,
	}, nil)
}

func (c *Connection) handlePing(pkt wire.Packet) error {
	if !c.isAuthorized() {
		return nil
	}
	return c.conn.Send(wire.Packet{
		Type:   wire.TypePingResponse,
		ID:     pkt.ID,
		TimeUs: uint64(c.host.Clock.Time() / time.Microsecond),
	}, nil)
}

func (c *Connection) handleQueryHostCaps(pkt wire.Packet) error {
	if !c.isAuthorized() {
		return c.conn.Send(wire.Packet{Type: wire.TypeQueryHostCapsResponse, Status: wire.StatusUnknown}, nil)
	}

	res := wire.Packet{
		Type:          wire.TypeQueryHostCapsResponse,
		NativeWidth:   uint32(c.host.NativeWidth),
		NativeHeight:  uint32(c.host.NativeHeight),
		NativeFPSNum:  c.host.NativeFPS.Num,
		NativeFPSDen:  c.host.NativeFPS.Den,
	}

	if !codec.IsVideoCodecRegistered(codec.VideoCodecName(pkt.Codec)) {
		res.Status = wire.StatusUnsupportedCodec
		return c.conn.Send(res, nil)
	}

	res.Status = wire.StatusOK
	res.MaxWidth = 16384
	res.MaxHeight = 16384
	res.MaxFPSNum = res.NativeFPSNum
	res.MaxFPSDen = res.NativeFPSDen
	return c.conn.Send(res, nil)
}

func (c *Connection) handleConfigureStream(pkt wire.Packet) error {
	if !c.isAuthorized() {
		return c.conn.Send(wire.Packet{Type: wire.TypeConfigureStreamResponse, Status: wire.StatusUnknown}, nil)
	}

	c.mu.Lock()
	streaming := c.state == StateStreaming
	c.mu.Unlock()
	if streaming {
		return c.conn.Send(wire.Packet{Type: wire.TypeConfigureStreamResponse, Status: wire.StatusAlreadyStreaming}, nil)
	}

	requestedCodec := codec.VideoCodecName(pkt.Codec)
	if !codec.IsVideoCodecRegistered(requestedCodec) {
		return c.conn.Send(wire.Packet{Type: wire.TypeConfigureStreamResponse, Status: wire.StatusUnsupportedCodec}, nil)
	}
	if pkt.Width <= 0 || pkt.Height <= 0 || pkt.FPSNum <= 0 || pkt.FPSDen <= 0 {
		return c.conn.Send(wire.Packet{Type: wire.TypeConfigureStreamResponse, Status: wire.StatusUnknown}, nil)
	}

	width, height := int(pkt.Width), int(pkt.Height)

	c.mu.Lock()
	c.pipe = c.host.NewPipeline()
	err := c.pipe.Configure(pipeline.Config{
		Width: width, Height: height,
		FPS: frame.Rational{Num: pkt.FPSNum, Den: pkt.FPSDen},
		Video: codec.VideoConfig{
			Codec: requestedCodec, Width: width, Height: height,
			Format: frame.PixelFormatBGRA, BitrateBps: 20_000_000,
			FPS: frame.Rational{Num: pkt.FPSNum, Den: pkt.FPSDen},
		},
	})
	c.mu.Unlock()
	if err != nil {
		return c.conn.Send(wire.Packet{Type: wire.TypeConfigureStreamResponse, Status: wire.StatusUnknown}, nil)
	}

	return c.conn.Send(wire.Packet{Type: wire.TypeConfigureStreamResponse, Status: wire.StatusOK}, nil)
}

func (c *Connection) handleStartStream(pkt wire.Packet) error {
	if !c.isAuthorized() {
		return c.conn.Send(wire.Packet{Type: wire.TypeStartStreamResponse, Status: wire.StatusUnknown}, nil)
	}

	c.mu.Lock()
	pipe := c.pipe
	c.mu.Unlock()
	if pipe == nil {
		return c.conn.Send(wire.Packet{Type: wire.TypeStartStreamResponse, Status: wire.StatusUnknown}, nil)
	}

	err := pipe.Start(context.Background(), func(f frame.Frame[frame.Bitstream]) {
		c.sendDesktopFrame(f)
	})
	if err != nil {
		return c.conn.Send(wire.Packet{Type: wire.TypeStartStreamResponse, Status: wire.StatusUnknown}, nil)
	}

	c.mu.Lock()
	c.state = StateStreaming
	c.mu.Unlock()
	c.streaming.Store(true)

	return c.conn.Send(wire.Packet{Type: wire.TypeStartStreamResponse, Status: wire.StatusOK}, nil)
}

func (c *Connection) handleStopStream(pkt wire.Packet) error {
	if !c.isAuthorized() {
		return c.conn.Send(wire.Packet{Type: wire.TypeStopStreamResponse, Status: wire.StatusUnknown}, nil)
	}

	c.mu.Lock()
	pipe := c.pipe
	if c.state == StateStreaming {
		c.state = StateAuthorized
	}
	c.mu.Unlock()
	c.streaming.Store(false)
	if pipe != nil {
		pipe.Stop()
	}
	return c.conn.Send(wire.Packet{Type: wire.TypeStopStreamResponse}, nil)
}

func (c *Connection) sendDesktopFrame(f frame.Frame[frame.Bitstream]) {
	pkt := wire.Packet{
		Type:         wire.TypeDesktopFrame,
		TimeCaptured: int64(f.TimeCaptured / time.Microsecond),
		TimeEncoded:  int64(f.TimeEncoded / time.Microsecond),
	}
	if f.CursorPos != nil {
		pkt.CursorVisible = f.CursorPos.Visible
		pkt.CursorX = f.CursorPos.X
		pkt.CursorY = f.CursorPos.Y
	}
	if err := c.conn.Send(pkt, f.Payload.Data); err != nil {
		c.log.Warn("send desktop frame failed", "error", err)
	}
}

func (c *Connection) handleAuthRequest(pkt wire.Packet, extra []byte) error {
	if pkt.ClientNonceLen < pairing.MinNonceLen {
		return c.conn.Send(wire.Packet{Type: wire.TypeAuthResponse, Status: wire.StatusNonceTooShort}, nil)
	}
	if len(extra) != 48 {
		return c.conn.Send(wire.Packet{Type: wire.TypeAuthResponse, Status: wire.StatusUnknownError}, nil)
	}

	nonce := make([]byte, pairing.RecommendedServerNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return c.conn.Send(wire.Packet{Type: wire.TypeAuthResponse, Status: wire.StatusUnknownError}, nil)
	}

	var clientHash [48]byte
	copy(clientHash[:], extra)

	c.mu.Lock()
	c.pendingNonce = nonce
	c.pendingClientHash = clientHash
	c.pendingClientNonce = make([]byte, pkt.ClientNonceLen)
	c.pendingHostname = pkt.Hostname
	c.mu.Unlock()

	return c.conn.Send(wire.Packet{
		Type:           wire.TypeServerPartialHashNotify,
		ServerNonceLen: uint32(len(nonce)),
	}, nonce)
}

func (c *Connection) handleClientNonceNotify(pkt wire.Packet, extra []byte) error {
	c.mu.Lock()
	nonce := c.pendingNonce
	clientHash := c.pendingClientHash
	expectedLen := len(c.pendingClientNonce)
	hostname := c.pendingHostname
	c.mu.Unlock()

	if nonce == nil || len(extra) != expectedLen {
		return c.conn.Send(wire.Packet{Type: wire.TypeAuthResponse, Status: wire.StatusUnknownError}, nil)
	}

	if !pairing.VerifyPartialHash(clientHash, c.host.ID.Fingerprint(), c.remoteCert, extra) {
		c.log.Warn("client partial hash mismatch")
		return c.conn.Send(wire.Packet{Type: wire.TypeAuthResponse, Status: wire.StatusUnknownError}, nil)
	}

	if err := c.conn.Send(wire.Packet{Type: wire.TypeServerNonceNotify}, nonce); err != nil {
		return err
	}

	pin := pairing.ComputePIN(c.host.ID.Fingerprint(), c.remoteCert, nonce, extra)

	approved := false
	if c.host.Approve != nil {
		approved = c.host.Approve(pin, hostname)
	}
	if !approved {
		return c.conn.Send(wire.Packet{Type: wire.TypeAuthResponse, Status: wire.StatusIncorrectPIN}, nil)
	}

	if err := c.host.KnownClients.Add(c.remoteCert, hostname); err != nil {
		c.log.Warn("failed to persist known client", "error", err)
	}

	c.mu.Lock()
	c.state = StateAuthorized
	c.pendingNonce = nil
	c.mu.Unlock()

	return c.conn.Send(wire.Packet{Type: wire.TypeAuthResponse, Status: wire.StatusOK}, nil)
}

// Close tears down the underlying socket and any active pipeline.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		pipe := c.pipe
		c.state = StateClosed
		c.mu.Unlock()
		if pipe != nil {
			pipe.Stop()
		}
		err = c.conn.Close()
	})
	return err
}
