package capture

import (
	"sync"

	"github.com/breeze-rmm/deskstream/internal/arena"
	"github.com/breeze-rmm/deskstream/internal/frame"
)

// NullSource is a reference FrameSource that synthesizes a solid-color
// buffer of the configured size. It stands in for a real platform
// capturer in tests and on platforms with no capture backend wired,
// mirroring the role the teacher's capture_other.go stub plays on
// unsupported GOOS targets.
type NullSource struct {
	mu     sync.Mutex
	width  int
	height int
	closed bool
	fill   byte
}

// NewNullSource returns a NullSource sized per cfg (defaulting to 1920x1080).
func NewNullSource(cfg Config) *NullSource {
	w, h := cfg.Width, cfg.Height
	if w <= 0 {
		w = 1920
	}
	if h <= 0 {
		h = 1080
	}
	return &NullSource{width: w, height: h, fill: 0x20}
}

func (s *NullSource) Capture() (*frame.Pixels, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := make([]byte, arena.PlaneSizeBytes(s.width, s.height, frame.PixelFormatBGRA))
	for i := range data {
		data[i] = s.fill
	}
	s.fill++

	return &frame.Pixels{
		Data:   data,
		Width:  s.width,
		Height: s.height,
		Format: frame.PixelFormatBGRA,
	}, nil
}

func (s *NullSource) Bounds() (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height, nil
}

func (s *NullSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
