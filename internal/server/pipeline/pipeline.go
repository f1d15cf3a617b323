// Package pipeline implements the server-side CapturePipeline: capture at
// a paced rate on one goroutine, scale/encode on another, handing off
// through a depth-1 replaceable slot, and hand finished bitstream frames
// to a sink. Grounded on the teacher's Session.captureLoop/startStreaming
// (session_stream.go), re-pointed at spec §4.2's explicit state-machine
// contract instead of a WebRTC track. The encoder bitrate stays at its
// configured value; there is no adaptive bitrate loop.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/breeze-rmm/deskstream/internal/codec"
	"github.com/breeze-rmm/deskstream/internal/frame"
	"github.com/breeze-rmm/deskstream/internal/logging"
	"github.com/breeze-rmm/deskstream/internal/metrics"
	"github.com/breeze-rmm/deskstream/internal/netclock"
	"github.com/breeze-rmm/deskstream/internal/ratetimer"
	"github.com/breeze-rmm/deskstream/internal/scaler"
	"github.com/breeze-rmm/deskstream/internal/server/capture"
)

var log = logging.L("pipeline")

// Config parameterizes one run of the pipeline.
type Config struct {
	Width, Height int
	FPS           frame.Rational
	Video         codec.VideoConfig
}

// Sink receives finished encoded frames, in emission order.
type Sink func(frame.Frame[frame.Bitstream])

// CapturePipeline drives FrameSource -> Scaler -> VideoEncoder -> Sink on
// two goroutines connected by a depth-1 slot: a capture goroutine paced by
// RateTimer, and an encode goroutine that always works on the latest
// capture. A capture that lands while the encoder is still busy with the
// previous one replaces the pending slot rather than queuing, per spec
// §4.2 property #8 ("newly captured frames replace the pending one, never
// stack").
type CapturePipeline struct {
	mu      sync.Mutex
	source  capture.FrameSource
	scale   scaler.Scaler
	enc     *codec.VideoEncoder
	cfg     Config
	metrics *metrics.StreamMetrics
	clock   *netclock.Clock
	start   time.Time // fallback timestamp origin when clock is nil

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	pending *frame.Frame[frame.Pixels] // depth-1 slot: latest capture awaiting encode
	wake    chan struct{}

	forceKeyframe chan struct{}
}

// New constructs a pipeline over the given source using metrics for
// counters and clock for TimeCaptured/TimeEncoded stamps (pass nil to
// fall back to an elapsed-since-construction clock, e.g. in tests).
// Configure must be called before Start.
func New(source capture.FrameSource, m *metrics.StreamMetrics, clock *netclock.Clock) *CapturePipeline {
	return &CapturePipeline{
		source:        source,
		metrics:       m,
		clock:         clock,
		start:         time.Now(),
		wake:          make(chan struct{}, 1),
		forceKeyframe: make(chan struct{}, 1),
	}
}

// now returns a monotonic reading suitable for cross-stage timestamp
// propagation: the host's NetworkClock when one is wired, so
// TimeReceived-TimeCaptured is meaningful on the client once its own
// clock is aligned to the same epoch.
func (p *CapturePipeline) now() time.Duration {
	if p.clock != nil {
		return p.clock.Time()
	}
	return time.Since(p.start)
}

// Configure (re)builds the scaler and encoder for cfg. Must be called
// before Start, and may be called again after Stop to reconfigure.
func (p *CapturePipeline) Configure(cfg Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("pipeline: cannot Configure while running")
	}

	enc, err := codec.NewVideoEncoder(cfg.Video)
	if err != nil {
		return fmt.Errorf("pipeline: configure encoder: %w", err)
	}
	if p.enc != nil {
		p.enc.Close()
	}
	p.enc = enc
	p.scale = scaler.NewBoxFilter()
	p.cfg = cfg
	return nil
}

// Start begins the paced capture loop and the encode loop, delivering
// encoded frames to sink until Stop is called or ctx is done. The first
// frame is always a keyframe, satisfying the "keyframe-first-output"
// promise.
func (p *CapturePipeline) Start(ctx context.Context, sink Sink) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: already running")
	}
	if p.enc == nil {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: Configure must be called before Start")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	fps := p.cfg.FPS
	p.mu.Unlock()

	select {
	case p.forceKeyframe <- struct{}{}:
	default:
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.captureLoop(runCtx, fps)
	}()
	go func() {
		defer p.wg.Done()
		p.encodeLoop(runCtx, sink)
	}()

	return nil
}

// Stop halts the capture and encode loops and waits for them to exit,
// then flushes the encoder. The encoder stays open; the next Configure
// closes it and builds a fresh one.
func (p *CapturePipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.pending = nil
	if p.enc != nil {
		p.enc.Flush()
	}
	p.mu.Unlock()
}

// ForceKeyframe requests the next encoded frame be a keyframe, e.g. on
// reconnect or after a dropped-frame recovery.
func (p *CapturePipeline) ForceKeyframe() {
	select {
	case p.forceKeyframe <- struct{}{}:
	default:
	}
}

// captureLoop runs at the configured frame rate, capturing into the
// depth-1 pending slot. It never blocks on the encoder: a capture that
// lands before the encode loop has drained the previous one replaces it.
func (p *CapturePipeline) captureLoop(ctx context.Context, fps frame.Rational) {
	timer := ratetimer.New(fps)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !timer.Check() {
			time.Sleep(time.Millisecond)
			continue
		}

		p.captureOne()
	}
}

func (p *CapturePipeline) captureOne() {
	t0 := time.Now()
	pixels, err := p.source.Capture()
	if err != nil {
		log.Warn("capture failed", "error", err)
		return
	}
	if pixels == nil {
		if p.metrics != nil {
			p.metrics.RecordSkipped()
		}
		return
	}
	if p.metrics != nil {
		p.metrics.RecordCaptured(time.Since(t0))
	}

	in := frame.New(*pixels)
	in.TimeCaptured = p.now()

	if cp, ok := p.source.(capture.CursorProvider); ok {
		x, y, visible := cp.CursorPosition()
		cpos := frame.CursorPos{Visible: visible, X: x, Y: y, XScale: frame.Rational{Num: 1, Den: 1}, YScale: frame.Rational{Num: 1, Den: 1}}
		in.CursorPos = &cpos
	}

	p.mu.Lock()
	if p.pending != nil && p.metrics != nil {
		// The encode loop hasn't drained the previous capture yet: the
		// new one replaces it rather than queuing, per the depth-1
		// back-pressure invariant.
		p.metrics.RecordDropped()
	}
	p.pending = &in
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// encodeLoop takes the latest pending capture as soon as one is ready,
// scales and encodes it, and hands finished bitstream frames to sink.
func (p *CapturePipeline) encodeLoop(ctx context.Context, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}

		p.mu.Lock()
		in := p.pending
		p.pending = nil
		p.mu.Unlock()
		if in == nil {
			continue
		}

		p.scaleAndEncodeOne(*in, sink)
	}
}

func (p *CapturePipeline) scaleAndEncodeOne(in frame.Frame[frame.Pixels], sink Sink) {
	p.mu.Lock()
	sc := p.scale
	p.mu.Unlock()

	t1 := time.Now()
	scaled := in
	if sc != nil {
		dst, xr, yr, err := sc.Scale(in.Payload, p.cfg.Width, p.cfg.Height, in.Payload.Format)
		if err != nil {
			log.Warn("scale failed", "error", err)
			return
		}
		scaled.Payload = dst
		if scaled.CursorPos != nil {
			cp := scaled.CursorPos.ScaledBy(xr, yr)
			scaled.CursorPos = &cp
		}
	}
	if p.metrics != nil {
		p.metrics.RecordScaled(time.Since(t1))
	}

	select {
	case <-p.forceKeyframe:
		p.mu.Lock()
		enc := p.enc
		p.mu.Unlock()
		if enc != nil {
			enc.Flush()
		}
	default:
	}

	t2 := time.Now()
	p.mu.Lock()
	enc := p.enc
	p.mu.Unlock()
	if enc == nil {
		return
	}
	if err := enc.Push(scaled); err != nil {
		log.Warn("encode push failed", "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.RecordEncoded(time.Since(t2))
	}

	for {
		out, status, err := enc.TryPull()
		if err != nil {
			log.Warn("encode pull failed", "error", err)
			return
		}
		if status != codec.Ready {
			return
		}
		out.TimeCaptured = in.TimeCaptured
		out.TimeEncoded = p.now()
		if p.metrics != nil {
			p.metrics.RecordSent(len(out.Payload.Data))
		}
		sink(out)
	}
}
