//go:build cgo

// Package openh264 wires the teacher's y9o/go-openh264 dependency into a
// real VideoCodec backend, registered with internal/codec the same way the
// teacher's encoder.go registers its MFT/NVENC/VideoToolbox backends via
// registerHardwareFactory.
package openh264

import (
	"fmt"
	"sync"

	oh264 "github.com/y9o/go-openh264"

	"github.com/breeze-rmm/deskstream/internal/codec"
	"github.com/breeze-rmm/deskstream/internal/frame"
	"github.com/breeze-rmm/deskstream/internal/logging"
)

var log = logging.L("codec.openh264")

func init() {
	codec.RegisterBackend(codec.VideoCodecH264, newBackend)
	codec.RegisterDecoderBackend(codec.VideoCodecH264, newDecoderBackend)
}

type backend struct {
	mu      sync.Mutex
	enc     *oh264.Encoder
	width   int
	height  int
	pending []frame.Frame[frame.Bitstream]
}

func newBackend(cfg codec.VideoConfig) (interface {
	Push(frame.Frame[frame.Pixels]) error
	TryPull() (frame.Frame[frame.Bitstream], codec.PullStatus, error)
	Flush() error
	Close() error
	Name() string
}, error) {
	params := oh264.EncoderParams{
		Width:      cfg.Width,
		Height:     cfg.Height,
		BitrateBps: cfg.BitrateBps,
	}
	enc, err := oh264.NewEncoder(params)
	if err != nil {
		return nil, fmt.Errorf("openh264: new encoder: %w", err)
	}
	log.Info("openh264 encoder ready", "width", cfg.Width, "height", cfg.Height, "bitrate", cfg.BitrateBps)
	return &backend{enc: enc, width: cfg.Width, height: cfg.Height}, nil
}

func (b *backend) Push(in frame.Frame[frame.Pixels]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	encoded, isKey, err := b.enc.EncodeBGRA(in.Payload.Data, b.width, b.height)
	if err != nil {
		return fmt.Errorf("openh264: encode: %w", err)
	}

	out := frame.New(frame.Bitstream{Data: encoded})
	out.CursorPos = in.CursorPos
	out.CursorShape = in.CursorShape
	out.TimeCaptured = in.TimeCaptured
	out.IsKeyFrame = isKey
	b.pending = append(b.pending, out)
	return nil
}

func (b *backend) TryPull() (frame.Frame[frame.Bitstream], codec.PullStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return frame.Frame[frame.Bitstream]{}, codec.NeedMore, nil
	}
	out := b.pending[0]
	b.pending = b.pending[1:]
	return out, codec.Ready, nil
}

func (b *backend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enc.ForceIntraFrame()
}

func (b *backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enc.Close()
}

func (b *backend) Name() string {
	return "openh264"
}

type decoderBackend struct {
	mu      sync.Mutex
	dec     *oh264.Decoder
	width   int
	height  int
	pending []frame.Frame[frame.Pixels]
}

func newDecoderBackend(cfg codec.VideoConfig) (interface {
	Push(frame.Frame[frame.Bitstream]) error
	TryPull() (frame.Frame[frame.Pixels], codec.PullStatus, error)
	Flush() error
	Close() error
}, error) {
	dec, err := oh264.NewDecoder(oh264.DecoderParams{Width: cfg.Width, Height: cfg.Height})
	if err != nil {
		return nil, fmt.Errorf("openh264: new decoder: %w", err)
	}
	log.Info("openh264 decoder ready", "width", cfg.Width, "height", cfg.Height)
	return &decoderBackend{dec: dec, width: cfg.Width, height: cfg.Height}, nil
}

func (b *decoderBackend) Push(in frame.Frame[frame.Bitstream]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	decoded, err := b.dec.DecodeToBGRA(in.Payload.Data)
	if err != nil {
		return fmt.Errorf("openh264: decode: %w", err)
	}
	if decoded == nil {
		return nil
	}

	out := frame.New(frame.Pixels{Data: decoded, Width: b.width, Height: b.height, Format: frame.PixelFormatBGRA})
	out.CursorPos = in.CursorPos
	out.CursorShape = in.CursorShape
	out.TimeCaptured = in.TimeCaptured
	out.TimeEncoded = in.TimeEncoded
	out.TimeReceived = in.TimeReceived
	out.IsKeyFrame = in.IsKeyFrame
	b.pending = append(b.pending, out)
	return nil
}

func (b *decoderBackend) TryPull() (frame.Frame[frame.Pixels], codec.PullStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return frame.Frame[frame.Pixels]{}, codec.NeedMore, nil
	}
	out := b.pending[0]
	b.pending = b.pending[1:]
	return out, codec.Ready, nil
}

func (b *decoderBackend) Flush() error {
	return nil
}

func (b *decoderBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dec.Close()
}
