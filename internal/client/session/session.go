// Package session implements the client side of the connection protocol:
// dial, handshake, ping loop, and the receive/demux loop, grounded on
// original_source/src/client/StreamClient.cpp's connect/_runRecv
// structure and the teacher's session.go atomic-flag lifecycle idiom.
package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/deskstream/internal/frame"
	"github.com/breeze-rmm/deskstream/internal/logging"
	"github.com/breeze-rmm/deskstream/internal/netclock"
	"github.com/breeze-rmm/deskstream/internal/pairing"
	"github.com/breeze-rmm/deskstream/internal/wire"
)

var log = logging.L("session")

const protocolVersion = 1

// Handlers receives demultiplexed frames and events from the wire. Any
// nil field is simply not invoked for that message type.
type Handlers struct {
	OnDesktopFrame func(frame.Frame[frame.Bitstream])
	OnCursorShape  func(frame.CursorShape)
	OnAudioFrame   func([]byte, uint32)
	OnPerfReport   func(wire.Packet)
	OnPINNeeded    func(pin pairing.PIN) // presented for the user to confirm against the server's display
	OnAuthResult   func(ok bool, status wire.Status)
	OnDisconnected func(error)
}

// Session owns one TLS connection to a host and runs its ping and
// receive loops until Close.
type Session struct {
	tlsCfg   *tls.Config
	handlers Handlers
	clock    *netclock.Clock

	mu         sync.Mutex
	conn       *wire.Conn
	raw        *tls.Conn
	remoteCert []byte

	// waitCh/waitTypes let a synchronous exchange (Authenticate, or a
	// control-plane RequestResponse) claim the next packet of an expected
	// type off the one receiveLoop goroutine, instead of racing it for
	// reads on the shared wire.Conn.
	waitCh    chan wireResp
	waitTypes []wire.MessageType

	authorized atomic.Bool
	closeOnce  sync.Once
	wg         sync.WaitGroup
	stopCh     chan struct{}
}

type wireResp struct {
	pkt   wire.Packet
	extra []byte
}

// New constructs a Session. Dial must be called before use.
func New(tlsCfg *tls.Config, handlers Handlers) *Session {
	return &Session{
		tlsCfg:   tlsCfg,
		handlers: handlers,
		clock:    netclock.New(),
		stopCh:   make(chan struct{}),
	}
}

// Dial connects to addr, completes the TLS handshake, and exchanges
// ClientIntro/ServerIntro. It does not itself run authentication; callers
// check IsAuthorized() and call Authenticate if needed.
func (s *Session) Dial(ctx context.Context, addr, hostname string) error {
	d := &tls.Dialer{Config: s.tlsCfg}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("session: dial: %w", err)
	}
	tlsConn := raw.(*tls.Conn)

	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		tlsConn.Close()
		return errors.New("session: server presented no certificate")
	}

	s.mu.Lock()
	s.raw = tlsConn
	s.conn = wire.NewConn(tlsConn)
	s.remoteCert = state.PeerCertificates[0].Raw
	s.mu.Unlock()

	if err := s.conn.Send(wire.Packet{Type: wire.TypeClientIntro, ProtocolVersion: protocolVersion}, nil); err != nil {
		return fmt.Errorf("session: send ClientIntro: %w", err)
	}
	pkt, _, err := s.conn.Recv()
	if err != nil {
		return fmt.Errorf("session: recv ServerIntro: %w", err)
	}
	if pkt.Type != wire.TypeServerIntro {
		return fmt.Errorf("session: expected ServerIntro, got %s", pkt.Type)
	}
	if pkt.Status == wire.StatusVersionMismatch {
		return fmt.Errorf("session: protocol version mismatch")
	}
	s.authorized.Store(pkt.Status == wire.StatusOK)

	s.wg.Add(1)
	go s.receiveLoop()
	s.wg.Add(1)
	go s.pingLoop()

	return nil
}

// RemoteCertificate returns the server certificate presented during the
// TLS handshake, used to pin the host in internal/client/hostlist.
func (s *Session) RemoteCertificate() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteCert
}

// IsAuthorized reports whether the server has already authorized this
// client's certificate (a previously paired reconnect).
func (s *Session) IsAuthorized() bool {
	return s.authorized.Load()
}

// Authenticate runs the PIN pairing handshake per spec §4.4 steps 4-9.
// ownCertDER is this client's own certificate, sent implicitly via TLS
// but needed locally to compute the partial hash and PIN. Must be called
// after Dial, by which point receiveLoop already owns the connection's
// read side, so every response is collected via awaitOneOf rather than a
// direct conn.Recv().
func (s *Session) Authenticate(ownCertDER []byte, hostname string) error {
	ctx := context.Background()

	clientNonce := make([]byte, 32)
	if _, err := rand.Read(clientNonce); err != nil {
		return fmt.Errorf("session: generate nonce: %w", err)
	}

	serverCert := s.RemoteCertificate()

	partialHash := pairing.PartialHash(serverCert, ownCertDER, clientNonce)

	if err := s.conn.Send(wire.Packet{
		Type:           wire.TypeAuthRequest,
		Hostname:       hostname,
		ClientNonceLen: uint32(len(clientNonce)),
	}, partialHash[:]); err != nil {
		return fmt.Errorf("session: send AuthRequest: %w", err)
	}

	pkt, extra, err := s.awaitOneOf(ctx, wire.TypeServerPartialHashNotify, wire.TypeAuthResponse)
	if err != nil {
		return fmt.Errorf("session: recv ServerPartialHashNotify: %w", err)
	}
	if pkt.Type == wire.TypeAuthResponse {
		return fmt.Errorf("session: server rejected auth: %s", pkt.Status)
	}
	serverNonce := extra
	if uint32(len(serverNonce)) != pkt.ServerNonceLen {
		return errors.New("session: server nonce length mismatch")
	}

	if err := s.conn.Send(wire.Packet{Type: wire.TypeClientNonceNotify}, clientNonce); err != nil {
		return fmt.Errorf("session: send ClientNonceNotify: %w", err)
	}

	pkt, extra, err = s.awaitOneOf(ctx, wire.TypeServerNonceNotify, wire.TypeAuthResponse)
	if err != nil {
		return fmt.Errorf("session: recv ServerNonceNotify: %w", err)
	}
	if pkt.Type == wire.TypeAuthResponse {
		return fmt.Errorf("session: server rejected auth: %s", pkt.Status)
	}
	if subtle.ConstantTimeCompare(extra, serverNonce) != 1 {
		return errors.New("session: server nonce notify does not match partial hash nonce")
	}

	pin := pairing.ComputePIN(serverCert, ownCertDER, serverNonce, clientNonce)
	if s.handlers.OnPINNeeded != nil {
		s.handlers.OnPINNeeded(pin)
	}

	pkt, _, err = s.awaitOneOf(ctx, wire.TypeAuthResponse)
	if err != nil {
		return fmt.Errorf("session: recv AuthResponse: %w", err)
	}

	ok := pkt.Status == wire.StatusOK
	s.authorized.Store(ok)
	if s.handlers.OnAuthResult != nil {
		s.handlers.OnAuthResult(ok, pkt.Status)
	}
	if !ok {
		return fmt.Errorf("session: auth failed: %s", pkt.Status)
	}
	return nil
}

// pingLoop sends pings on the steady 5s interval, except during cold
// start: per spec §4.5 the first few pings (netclock's warm-up count) go
// out every warmupPingInterval, sooner than the steady interval, so the
// NetworkClock converges quickly; that fast ticker drives GeneratePing
// until netclock reports warm-up is done, and the 5s ticker takes over
// afterward.
func (s *Session) pingLoop() {
	defer s.wg.Done()

	const warmupPingInterval = 50 * time.Millisecond
	warmupTicker := time.NewTicker(warmupPingInterval)
	defer warmupTicker.Stop()
	steadyTicker := time.NewTicker(5 * time.Second)
	defer steadyTicker.Stop()

	sendPing := func() {
		if !s.authorized.Load() {
			return
		}
		id := s.clock.GeneratePing()
		if id == 0 {
			return
		}
		s.mu.Lock()
		err := s.conn.Send(wire.Packet{Type: wire.TypePingRequest, ID: id}, nil)
		s.mu.Unlock()
		if err != nil {
			log.Warn("ping send failed", "error", err)
		}
	}

	for {
		select {
		case <-s.stopCh:
			return
		case <-warmupTicker.C:
			if s.clock.WarmingUp() {
				sendPing()
			}
		case <-steadyTicker.C:
			sendPing()
		}
	}
}

func (s *Session) receiveLoop() {
	defer s.wg.Done()
	for {
		pkt, extra, err := s.conn.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("receive loop ended", "error", err)
			}
			if s.handlers.OnDisconnected != nil {
				s.handlers.OnDisconnected(err)
			}
			return
		}
		s.dispatch(pkt, extra)
	}
}

// awaitOneOf registers interest in the next packet matching one of types
// and blocks until receiveLoop's dispatch delivers one, the session
// closes, or ctx is done. Only one waiter may be registered at a time:
// the synchronous request/response exchanges (Authenticate, control
// requests) never overlap by construction.
func (s *Session) awaitOneOf(ctx context.Context, types ...wire.MessageType) (wire.Packet, []byte, error) {
	ch := make(chan wireResp, 1)
	s.mu.Lock()
	s.waitCh = ch
	s.waitTypes = types
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.waitCh = nil
		s.waitTypes = nil
		s.mu.Unlock()
	}()

	select {
	case r := <-ch:
		return r.pkt, r.extra, nil
	case <-s.stopCh:
		return wire.Packet{}, nil, errors.New("session: closed while awaiting response")
	case <-ctx.Done():
		return wire.Packet{}, nil, ctx.Err()
	}
}

func (s *Session) dispatch(pkt wire.Packet, extra []byte) {
	s.mu.Lock()
	waitCh := s.waitCh
	waitTypes := s.waitTypes
	s.mu.Unlock()
	if waitCh != nil {
		for _, t := range waitTypes {
			if pkt.Type == t {
				waitCh <- wireResp{pkt, extra}
				return
			}
		}
	}

	switch pkt.Type {
	case wire.TypePingResponse:
		s.clock.Adjust(pkt.ID, time.Duration(pkt.TimeUs)*time.Microsecond)
	case wire.TypeDesktopFrame:
		if s.handlers.OnDesktopFrame == nil {
			return
		}
		f := frame.New(frame.Bitstream{Data: extra})
		f.TimeCaptured = time.Duration(pkt.TimeCaptured) * time.Microsecond
		f.TimeEncoded = time.Duration(pkt.TimeEncoded) * time.Microsecond
		f.TimeReceived = s.clock.Time()
		if pkt.CursorVisible || pkt.CursorX != 0 || pkt.CursorY != 0 {
			cp := frame.CursorPos{Visible: pkt.CursorVisible, X: pkt.CursorX, Y: pkt.CursorY}
			f.CursorPos = &cp
		}
		s.handlers.OnDesktopFrame(f)
	case wire.TypeCursorShape:
		if s.handlers.OnCursorShape == nil {
			return
		}
		shape := frame.CursorShape{
			W: int32(pkt.Width), H: int32(pkt.Height),
			HotspotX: pkt.HotspotX, HotspotY: pkt.HotspotY,
			Image: extra,
		}
		switch pkt.ShapeFormat {
		case wire.ShapeFormatRGBAXor:
			shape.Format = frame.CursorShapeRGBAXor
		case wire.ShapeFormatMonochrome:
			shape.Format = frame.CursorShapeMonochrome
		default:
			shape.Format = frame.CursorShapeRGBA
		}
		s.handlers.OnCursorShape(shape)
	case wire.TypeAudioFrame:
		if s.handlers.OnAudioFrame != nil {
			s.handlers.OnAudioFrame(extra, pkt.Channels)
		}
	case wire.TypeServerPerfReport:
		if s.handlers.OnPerfReport != nil {
			s.handlers.OnPerfReport(pkt)
		}
	default:
		log.Warn("unexpected packet type", "type", pkt.Type)
	}
}

// Send writes a packet to the server, e.g. QueryHostCapsRequest or
// ConfigureStreamRequest, serialized behind the wire.Conn's own write
// mutex.
func (s *Session) Send(pkt wire.Packet, extra []byte) error {
	return s.conn.Send(pkt, extra)
}

// RequestResponse sends req and waits for the matching response type,
// routed through receiveLoop via awaitOneOf so it doesn't race that
// goroutine's reads. respType is the single response variant req solicits
// (e.g. TypeQueryHostCapsResponse for a TypeQueryHostCapsRequest).
func (s *Session) RequestResponse(ctx context.Context, req wire.Packet, extra []byte, respType wire.MessageType) (wire.Packet, []byte, error) {
	if err := s.conn.Send(req, extra); err != nil {
		return wire.Packet{}, nil, err
	}
	return s.awaitOneOf(ctx, respType)
}

// QueryHostCaps asks the host what it can stream, per spec §4.4's restored
// control exchange.
func (s *Session) QueryHostCaps(ctx context.Context, codecName string) (wire.Packet, error) {
	pkt, _, err := s.RequestResponse(ctx, wire.Packet{Type: wire.TypeQueryHostCapsRequest, Codec: codecName}, nil, wire.TypeQueryHostCapsResponse)
	if err != nil {
		return wire.Packet{}, err
	}
	if pkt.Status != wire.StatusOK {
		return pkt, fmt.Errorf("session: QueryHostCaps: %s", pkt.Status)
	}
	return pkt, nil
}

// ConfigureStream negotiates the stream's dimensions, framerate, and codec
// before StartStream may be called.
func (s *Session) ConfigureStream(ctx context.Context, width, height uint32, fpsNum, fpsDen int64, codecName string) error {
	req := wire.Packet{
		Type:   wire.TypeConfigureStreamRequest,
		Width:  width,
		Height: height,
		FPSNum: fpsNum,
		FPSDen: fpsDen,
		Codec:  codecName,
	}
	pkt, _, err := s.RequestResponse(ctx, req, nil, wire.TypeConfigureStreamResponse)
	if err != nil {
		return err
	}
	if pkt.Status != wire.StatusOK {
		return fmt.Errorf("session: ConfigureStream: %s", pkt.Status)
	}
	return nil
}

// StartStream begins streaming; OnDesktopFrame/OnCursorShape/OnAudioFrame
// start firing once the host's capture pipeline produces its first frame.
func (s *Session) StartStream(ctx context.Context) error {
	pkt, _, err := s.RequestResponse(ctx, wire.Packet{Type: wire.TypeStartStreamRequest}, nil, wire.TypeStartStreamResponse)
	if err != nil {
		return err
	}
	if pkt.Status != wire.StatusOK {
		return fmt.Errorf("session: StartStream: %s", pkt.Status)
	}
	return nil
}

// StopStream ends streaming and returns the connection to Authorized on
// the host.
func (s *Session) StopStream(ctx context.Context) error {
	_, _, err := s.RequestResponse(ctx, wire.Packet{Type: wire.TypeStopStreamRequest}, nil, wire.TypeStopStreamResponse)
	return err
}

// Close stops the ping/receive loops and closes the underlying socket.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		if s.conn != nil {
			err = s.conn.Close()
		}
		s.mu.Unlock()
	})
	return err
}

