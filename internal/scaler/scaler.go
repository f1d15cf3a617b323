// Package scaler defines the resolution/colorspace conversion contract
// consumed by both pipelines. Concrete color-conversion math is treated as
// an external collaborator per spec §1; this package ships the interface
// plus a minimal nearest-neighbor reference implementation (NewBoxFilter).
package scaler

import (
	"sync"

	"github.com/breeze-rmm/deskstream/internal/frame"
)

// Scaler converts a pixel buffer from one resolution/format to another and
// reports the ratio it applied, so cursor coordinates can be rescaled into
// output space alongside the image.
type Scaler interface {
	// Scale writes the converted image into dst (reused across calls where
	// possible) and returns the input->output ratio on each axis.
	Scale(src frame.Pixels, dstWidth, dstHeight int, dstFormat frame.PixelFormat) (dst frame.Pixels, xRatio, yRatio frame.Rational, err error)
	Close()
}

// boxFilterScaler consults pool for a destination buffer, but Scale never
// puts a buffer back into it, so every call allocates a fresh buffer.
type boxFilterScaler struct {
	pool sync.Pool
}

// NewBoxFilter returns a reference Scaler doing nearest-neighbor resampling.
// It copies pixels only when source and destination are the same BGRA
// format; any other pairing yields a zeroed (or, for non-BGRA targets,
// empty) destination buffer, with no format conversion.
// It exists so the pipeline has something concrete to drive in tests; a
// production deployment supplies its own high-quality Scaler.
func NewBoxFilter() Scaler {
	return &boxFilterScaler{}
}

func (s *boxFilterScaler) Scale(src frame.Pixels, dstWidth, dstHeight int, dstFormat frame.PixelFormat) (frame.Pixels, frame.Rational, frame.Rational, error) {
	if src.Width <= 0 || src.Height <= 0 || dstWidth <= 0 || dstHeight <= 0 {
		return frame.Pixels{}, frame.Rational{}, frame.Rational{}, errInvalidDimensions
	}

	bpp := bytesPerPixel(dstFormat)
	size := dstWidth * dstHeight * bpp

	var buf []byte
	if pooled, ok := s.pool.Get().([]byte); ok && len(pooled) >= size {
		buf = pooled[:size]
	} else {
		buf = make([]byte, size)
	}

	if src.Format == dstFormat && bpp > 0 {
		srcBpp := bytesPerPixel(src.Format)
		for y := 0; y < dstHeight; y++ {
			sy := y * src.Height / dstHeight
			for x := 0; x < dstWidth; x++ {
				sx := x * src.Width / dstWidth
				srcOff := (sy*src.Width + sx) * srcBpp
				dstOff := (y*dstWidth + x) * bpp
				if srcOff+bpp <= len(src.Data) && dstOff+bpp <= len(buf) {
					copy(buf[dstOff:dstOff+bpp], src.Data[srcOff:srcOff+bpp])
				}
			}
		}
	}

	out := frame.Pixels{Data: buf, Width: dstWidth, Height: dstHeight, Format: dstFormat}
	xRatio := frame.Rational{Num: int64(src.Width), Den: int64(dstWidth)}
	yRatio := frame.Rational{Num: int64(src.Height), Den: int64(dstHeight)}
	return out, xRatio, yRatio, nil
}

func (s *boxFilterScaler) Close() {
	// Draining the pool is unnecessary; sync.Pool is GC-managed. Present
	// for interface symmetry with the codec backends, which do hold real
	// OS/GPU resources.
}

func bytesPerPixel(f frame.PixelFormat) int {
	switch f {
	case frame.PixelFormatBGRA:
		return 4
	default:
		return 0
	}
}

type scalerError string

func (e scalerError) Error() string { return string(e) }

const errInvalidDimensions = scalerError("scaler: width/height must be positive")
