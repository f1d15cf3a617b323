// Package codec defines the opaque VideoCodec/AudioCodec capability
// contract from spec §9 Design Notes: push/try_pull/flush, with concrete
// bitstream math left to a swappable backend. Grounded on the teacher's
// VideoEncoder/encoderBackend/backendFactory registration pattern in
// encoder.go.
package codec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/breeze-rmm/deskstream/internal/frame"
)

// PullStatus is the result of a try_pull call.
type PullStatus int

const (
	// Ready means out was filled with a new frame.
	Ready PullStatus = iota
	// NeedMore means the backend has nothing ready yet; call push again.
	NeedMore
	// End means the backend is flushed and drained; no more output follows.
	End
)

// QualityPreset is a coarse quality/latency tradeoff knob.
type QualityPreset string

const (
	QualityLow    QualityPreset = "low"
	QualityMedium QualityPreset = "medium"
	QualityHigh   QualityPreset = "high"
	QualityUltra  QualityPreset = "ultra"
	QualityAuto   QualityPreset = "auto"
)

func (q QualityPreset) valid() bool {
	switch q {
	case QualityLow, QualityMedium, QualityHigh, QualityUltra, QualityAuto:
		return true
	}
	return false
}

// VideoCodecName identifies a concrete video bitstream format.
type VideoCodecName string

const (
	VideoCodecH264 VideoCodecName = "h264"
	VideoCodecNone VideoCodecName = "none" // software passthrough, for tests
)

// VideoConfig parameterizes a VideoEncoder/VideoDecoder instance.
type VideoConfig struct {
	Codec     VideoCodecName
	Width     int
	Height    int
	Format    frame.PixelFormat
	BitrateBps int
	FPS       frame.Rational
	Quality   QualityPreset
}

func (c VideoConfig) validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("codec: invalid dimensions %dx%d", c.Width, c.Height)
	}
	if c.Quality != "" && !c.Quality.valid() {
		return fmt.Errorf("codec: invalid quality preset %q", c.Quality)
	}
	return nil
}

// videoBackend is the swappable implementation a VideoEncoder wraps,
// matching spec's push/try_pull/flush capability contract; VideoDecoder
// wraps videoDecoderBackend instead.
type videoBackend interface {
	Push(in frame.Frame[frame.Pixels]) error
	TryPull() (frame.Frame[frame.Bitstream], PullStatus, error)
	Flush() error
	Close() error
	Name() string
}

type videoDecoderBackend interface {
	Push(in frame.Frame[frame.Bitstream]) error
	TryPull() (frame.Frame[frame.Pixels], PullStatus, error)
	Flush() error
	Close() error
}

// BackendFactory constructs a videoBackend for a given config; backends
// register themselves so callers can select by name without the codec
// package importing every platform implementation directly, mirroring the
// teacher's registerHardwareFactory pattern.
type BackendFactory func(cfg VideoConfig) (videoBackend, error)

var (
	factoryMu sync.RWMutex
	factories = map[VideoCodecName]BackendFactory{}
)

// RegisterBackend makes a backend factory available under name. Called from
// backend packages' init(), e.g. internal/codec/openh264.
func RegisterBackend(name VideoCodecName, factory BackendFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[name] = factory
}

// ErrNoBackend is returned when no backend is registered for a codec name.
var ErrNoBackend = errors.New("codec: no backend registered for this codec")

// IsVideoCodecRegistered reports whether an encoder backend is available
// for name, letting callers like the QueryHostCaps/ConfigureStream
// handlers validate a requested codec without constructing one.
func IsVideoCodecRegistered(name VideoCodecName) bool {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// VideoEncoder wraps a concrete backend behind push/try_pull/flush.
type VideoEncoder struct {
	mu      sync.Mutex
	backend videoBackend
	cfg     VideoConfig
}

// NewVideoEncoder looks up the registered backend for cfg.Codec and
// constructs an encoder. Unregistered codecs (e.g. in a build without cgo)
// fall back to ErrNoBackend so callers can choose a software path.
func NewVideoEncoder(cfg VideoConfig) (*VideoEncoder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	factoryMu.RLock()
	factory, ok := factories[cfg.Codec]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBackend, cfg.Codec)
	}

	backend, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("codec: construct backend %s: %w", cfg.Codec, err)
	}
	return &VideoEncoder{backend: backend, cfg: cfg}, nil
}

// Push submits a captured/scaled frame for encoding. The encoder's input
// queue is the caller's responsibility (spec's depth-1 slot lives in
// CapturePipeline, not here) — Push itself does not block beyond whatever
// the backend's own internal buffering requires.
func (e *VideoEncoder) Push(in frame.Frame[frame.Pixels]) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend.Push(in)
}

// TryPull retrieves the next encoded bitstream frame if one is ready.
func (e *VideoEncoder) TryPull() (frame.Frame[frame.Bitstream], PullStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend.TryPull()
}

// Flush asks the backend to emit any buffered frames before Close.
func (e *VideoEncoder) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend.Flush()
}

// Close releases backend resources.
func (e *VideoEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend.Close()
}

// Name reports the backend's identifying name, for logging.
func (e *VideoEncoder) Name() string {
	return e.backend.Name()
}

// DecoderBackendFactory constructs a videoDecoderBackend for a given
// config, the decode-side counterpart to BackendFactory.
type DecoderBackendFactory func(cfg VideoConfig) (videoDecoderBackend, error)

var (
	decoderFactoryMu sync.RWMutex
	decoderFactories = map[VideoCodecName]DecoderBackendFactory{}
)

// RegisterDecoderBackend makes a decoder backend factory available under
// name. Called from backend packages' init(), mirroring RegisterBackend.
func RegisterDecoderBackend(name VideoCodecName, factory DecoderBackendFactory) {
	decoderFactoryMu.Lock()
	defer decoderFactoryMu.Unlock()
	decoderFactories[name] = factory
}

// VideoDecoder wraps a concrete backend behind push/try_pull/flush, the
// client-side counterpart to VideoEncoder.
type VideoDecoder struct {
	mu      sync.Mutex
	backend videoDecoderBackend
	cfg     VideoConfig
}

// NewVideoDecoder looks up the registered decoder backend for cfg.Codec.
func NewVideoDecoder(cfg VideoConfig) (*VideoDecoder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	decoderFactoryMu.RLock()
	factory, ok := decoderFactories[cfg.Codec]
	decoderFactoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBackend, cfg.Codec)
	}

	backend, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("codec: construct decoder backend %s: %w", cfg.Codec, err)
	}
	return &VideoDecoder{backend: backend, cfg: cfg}, nil
}

// Push submits a received bitstream frame for decoding.
func (d *VideoDecoder) Push(in frame.Frame[frame.Bitstream]) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backend.Push(in)
}

// TryPull retrieves the next decoded pixel frame if one is ready.
func (d *VideoDecoder) TryPull() (frame.Frame[frame.Pixels], PullStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backend.TryPull()
}

// Flush asks the backend to emit any buffered frames before Close.
func (d *VideoDecoder) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backend.Flush()
}

// Close releases backend resources.
func (d *VideoDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backend.Close()
}

// AudioCodecName identifies a concrete audio bitstream format.
type AudioCodecName string

const (
	AudioCodecOpus AudioCodecName = "opus"
	AudioCodecNone AudioCodecName = "none"
)

// AudioConfig parameterizes an audio encoder/decoder.
type AudioConfig struct {
	Codec      AudioCodecName
	SampleRate int
	Channels   int
	BitrateBps int
}
