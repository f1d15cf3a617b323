// Package capture defines the FrameSource capability contract the
// CapturePipeline drives, grounded on the teacher's ScreenCapturer
// interface and its optional capability sub-interfaces in
// internal/remote/desktop/capture.go.
package capture

import (
	"github.com/breeze-rmm/deskstream/internal/frame"
)

// FrameSource captures desktop pixels. Implementations are platform
// specific; this package ships only a reference nullSource used for
// tests and unsupported platforms.
type FrameSource interface {
	// Capture returns the next available frame. A nil Data with a nil
	// error means no change since the last call and the caller should
	// skip encoding this tick, mirroring the teacher's Capture()
	// returning (nil, nil) for an unchanged frame.
	Capture() (*frame.Pixels, error)

	// Bounds reports the native desktop dimensions.
	Bounds() (width, height int, err error)

	Close() error
}

// CursorProvider is implemented by sources that can report the system
// cursor position, mirroring the teacher's CursorProvider.
type CursorProvider interface {
	CursorPosition() (x, y int32, visible bool)
}

// CursorShapeProvider is implemented by sources that can report the
// current cursor bitmap when it changes.
type CursorShapeProvider interface {
	CursorShape() (*frame.CursorShape, bool)
}

// TightLoopHint is implemented by sources that internally block until a
// new frame is ready (e.g. a platform API with a blocking wait).
// CapturePipeline does not consult it: every source is paced by RateTimer.
type TightLoopHint interface {
	TightLoop() bool
}

// Config parameterizes a FrameSource.
type Config struct {
	DisplayIndex int
	Width        int
	Height       int
}

// DefaultConfig returns capture defaults for the primary display.
func DefaultConfig() Config {
	return Config{DisplayIndex: 0}
}
