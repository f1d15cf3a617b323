// Package ratetimer implements an allocation-free, drift-free tick source
// anchored to a steady clock, per spec §4.7. Dropped ticks are never caught
// up: a caller that checks late only ever sees a single pending tick.
package ratetimer

import (
	"sync"
	"time"

	"github.com/breeze-rmm/deskstream/internal/frame"
)

// clockHz is the tick resolution RateTimer computes against; nanoseconds
// give ample precision for any realistic framerate without overflowing a
// signed 64-bit numerator at these magnitudes.
const clockHz = int64(time.Second)

// Timer is a steady-clock-anchored tick source for a given target rate.
type Timer struct {
	mu    sync.Mutex
	epoch time.Time
	ticks int64
	num   int64
	den   int64
}

// New returns a Timer configured for the given rate in frames per second
// equivalent, expressed as a Rational seconds-per-tick interval — mirroring
// SetInterval so zero-value construction is never used for ticking.
func New(interval frame.Rational) *Timer {
	t := &Timer{}
	t.SetInterval(interval)
	return t
}

// SetInterval reconfigures the timer for a new rational interval (in
// seconds) and resets the tick counter and epoch to now.
func (t *Timer) SetInterval(interval frame.Rational) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch = time.Now()
	t.ticks = 0
	t.num = interval.Num * clockHz
	t.den = interval.Den
	if t.den == 0 {
		t.den = 1
	}
}

// Check reports whether a new tick is due. If so, it advances the internal
// tick counter past every tick that has elapsed so far — late ticks
// coalesce into a single true result instead of bursting.
func (t *Timer) Check() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	delta := time.Since(t.epoch).Nanoseconds()
	k := delta * t.den / t.num
	if t.ticks <= k {
		t.ticks = k + 1
		return true
	}
	return false
}
