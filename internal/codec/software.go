package codec

import (
	"sync"

	"github.com/breeze-rmm/deskstream/internal/frame"
)

// softwareBackend is a passthrough placeholder: it forwards pixel bytes as
// the "bitstream" unchanged, just like the teacher's encoder_software.go
// stands in for a real hardware backend in tests and on unsupported
// platforms. Every frame is marked a keyframe since there is no actual
// inter-frame prediction to seed.
type softwareBackend struct {
	mu      sync.Mutex
	pending []frame.Frame[frame.Bitstream]
	cfg     VideoConfig
	closed  bool
}

func newSoftwareBackend(cfg VideoConfig) (videoBackend, error) {
	return &softwareBackend{cfg: cfg}, nil
}

func init() {
	RegisterBackend(VideoCodecNone, newSoftwareBackend)
}

func (b *softwareBackend) Push(in frame.Frame[frame.Pixels]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := frame.New(frame.Bitstream{Data: append([]byte(nil), in.Payload.Data...)})
	out.CursorPos = in.CursorPos
	out.CursorShape = in.CursorShape
	out.TimeCaptured = in.TimeCaptured
	out.IsKeyFrame = true
	b.pending = append(b.pending, out)
	return nil
}

func (b *softwareBackend) TryPull() (frame.Frame[frame.Bitstream], PullStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		if b.closed {
			return frame.Frame[frame.Bitstream]{}, End, nil
		}
		return frame.Frame[frame.Bitstream]{}, NeedMore, nil
	}
	out := b.pending[0]
	b.pending = b.pending[1:]
	return out, Ready, nil
}

func (b *softwareBackend) Flush() error {
	return nil
}

func (b *softwareBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *softwareBackend) Name() string {
	return "software-passthrough"
}

// softwareDecoderBackend is the decode-side counterpart: it unwraps the
// passthrough bitstream back into a pixel frame unchanged.
type softwareDecoderBackend struct {
	mu      sync.Mutex
	pending []frame.Frame[frame.Pixels]
	cfg     VideoConfig
	closed  bool
}

func newSoftwareDecoderBackend(cfg VideoConfig) (videoDecoderBackend, error) {
	return &softwareDecoderBackend{cfg: cfg}, nil
}

func init() {
	RegisterDecoderBackend(VideoCodecNone, newSoftwareDecoderBackend)
}

func (b *softwareDecoderBackend) Push(in frame.Frame[frame.Bitstream]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := frame.New(frame.Pixels{
		Data:   append([]byte(nil), in.Payload.Data...),
		Width:  b.cfg.Width,
		Height: b.cfg.Height,
		Format: b.cfg.Format,
	})
	out.CursorPos = in.CursorPos
	out.CursorShape = in.CursorShape
	out.TimeCaptured = in.TimeCaptured
	out.TimeEncoded = in.TimeEncoded
	out.TimeReceived = in.TimeReceived
	out.IsKeyFrame = in.IsKeyFrame
	b.pending = append(b.pending, out)
	return nil
}

func (b *softwareDecoderBackend) TryPull() (frame.Frame[frame.Pixels], PullStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		if b.closed {
			return frame.Frame[frame.Pixels]{}, End, nil
		}
		return frame.Frame[frame.Pixels]{}, NeedMore, nil
	}
	out := b.pending[0]
	b.pending = b.pending[1:]
	return out, Ready, nil
}

func (b *softwareDecoderBackend) Flush() error {
	return nil
}

func (b *softwareDecoderBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
