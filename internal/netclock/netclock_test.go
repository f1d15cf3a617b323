package netclock

import (
	"testing"
	"time"
)

func TestTimeIsMonotonicAcrossAdjust(t *testing.T) {
	c := New()
	last := c.Time()
	for i := 0; i < 20; i++ {
		id := c.GeneratePing()
		if id == 0 {
			id = uint32(i + 1)
			c.mu.Lock()
			c.pending[id] = time.Now()
			c.mu.Unlock()
		}
		c.Adjust(id, time.Duration(i)*time.Second) // wildly varying remote time
		now := c.Time()
		if now < last {
			t.Fatalf("Time() went backwards: %v -> %v", last, now)
		}
		last = now
	}
}

func TestAdjustUnknownIDIsIgnored(t *testing.T) {
	c := New()
	before := c.Latency()
	c.Adjust(12345, time.Hour)
	if c.Latency() != before {
		t.Fatal("Adjust with an unknown id should not change state")
	}
}

func TestConvergenceUnderConstantOffset(t *testing.T) {
	c := New()
	const delta = 50 * time.Millisecond
	const rtt = 20 * time.Millisecond

	var lastDiff time.Duration
	for i := 0; i < 30; i++ {
		c.mu.Lock()
		id := uint32(i + 1)
		c.pending[id] = time.Now().Add(-rtt)
		steady := time.Since(c.steadyZero)
		c.mu.Unlock()

		// The remote runs a constant delta ahead of the unadjusted steady
		// clock, independent of how far the epoch has already moved.
		remote := steady + delta
		c.Adjust(id, remote)

		c.mu.Lock()
		lastDiff = remote - (time.Since(c.steadyZero) - c.epoch)
		c.mu.Unlock()
	}

	if lastDiff < 0 {
		lastDiff = -lastDiff
	}
	if lastDiff >= minimumThreshold {
		t.Fatalf("expected |diff| < %v after repeated adjustment, got %v", minimumThreshold, lastDiff)
	}
}
