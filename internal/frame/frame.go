// Package frame defines the generic media carrier threaded through both the
// server's capture->scale->encode pipeline and the client's
// decode->scale->present pipeline.
package frame

import "time"

// Rational is a exact fraction used for framerates and cursor scale factors.
type Rational struct {
	Num int64
	Den int64
}

// Float64 returns r as a floating point ratio. A zero denominator returns 0.
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Mul returns the product of two rationals, reduced by neither side (callers
// that need a reduced fraction should simplify separately; cursor scaling
// only ever multiplies the result back into a float).
func (r Rational) Mul(o Rational) Rational {
	if r.Den == 0 || o.Den == 0 {
		return Rational{}
	}
	return Rational{Num: r.Num * o.Num, Den: r.Den * o.Den}
}

// PixelFormat of a decoded buffer.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatBGRA
	PixelFormatNV12
)

// CursorShapeFormat describes how CursorShape.Image is encoded.
type CursorShapeFormat int

const (
	CursorShapeRGBA CursorShapeFormat = iota
	CursorShapeRGBAXor
	CursorShapeMonochrome
)

// CursorPos is an immutable snapshot of pointer position and the scale
// factor needed to translate it into the current output coordinate space.
// Once constructed, a CursorPos is never mutated; stages that merely forward
// it share the same value.
type CursorPos struct {
	Visible bool
	X       int32
	Y       int32
	XScale  Rational
	YScale  Rational
}

// ScaledBy returns a copy of p with its scale factors multiplied by the
// scaler's input/output ratio, per spec §4.3 "Cursor scaling".
func (p CursorPos) ScaledBy(xRatio, yRatio Rational) CursorPos {
	p.XScale = p.XScale.Mul(xRatio)
	p.YScale = p.YScale.Mul(yRatio)
	return p
}

// CursorShape is an immutable snapshot of the pointer's bitmap, sent only
// when the shape changes.
type CursorShape struct {
	W, H               int32
	HotspotX, HotspotY int32
	Format             CursorShapeFormat
	Image              []byte
}

// Unmeasured is the sentinel value for a stage timestamp that has not yet
// been filled in.
const Unmeasured time.Duration = -1

// Frame is the carrier threaded through every pipeline stage. Payload is
// either a pixel buffer (pre-encode, or post-decode) or a compressed
// bitstream (post-encode, pre-decode) — the same struct shape serves both
// sides of the wire per spec §9 "Unified bitstream/pixel Frame<T> generic".
//
// Invariant: once a Frame leaves a stage, its CursorPos/CursorShape
// snapshots are immutable and a later stage writes only its own timestamp
// field.
type Frame[T any] struct {
	Payload T

	CursorPos   *CursorPos
	CursorShape *CursorShape

	TimeCaptured  time.Duration
	TimeEncoded   time.Duration
	TimeReceived  time.Duration
	TimeDecoded   time.Duration
	TimePresented time.Duration

	IsKeyFrame bool
}

// New returns a Frame with all timestamp fields set to Unmeasured.
func New[T any](payload T) Frame[T] {
	return Frame[T]{
		Payload:       payload,
		TimeCaptured:  Unmeasured,
		TimeEncoded:   Unmeasured,
		TimeReceived:  Unmeasured,
		TimeDecoded:   Unmeasured,
		TimePresented: Unmeasured,
	}
}

// Bitstream is the wire-side payload: an opaque encoded byte buffer, all of
// whose bytes are meaningful.
type Bitstream struct {
	Data []byte
}

// Pixels is the decoded-side payload: a raw pixel buffer plus the
// dimensions/format it holds.
type Pixels struct {
	Data   []byte
	Width  int
	Height int
	Format PixelFormat
}
