// Package netclock estimates round-trip latency and keeps a client-visible
// monotonic clock approximately aligned with the server, by EWMA-smoothing
// ping round trips and nudging a steady-clock epoch toward the remote's
// reported time. Translated from original_source's NetworkClock.{h,cpp}.
package netclock

import (
	"math/rand"
	"sync"
	"time"
)

// Thresholds from NetworkClock.cpp.
const (
	panicThreshold   = 5_000_000 * time.Microsecond
	minimumThreshold = 1_000 * time.Microsecond

	pingInterval   = 5 * time.Second
	pingWarmupN    = 3
	pingStaleAfter = 30 * time.Second
)

// Clock tracks latency and a steady-clock epoch that approximates the
// remote peer's clock.
type Clock struct {
	mu sync.Mutex

	steadyZero time.Time     // instant treated as the local origin of "now"
	epoch      time.Duration // offset subtracted from steady elapsed time

	latency time.Duration // EWMA of the full RTT
	jitter  time.Duration // reserved, always 0 (spec Open Question a)

	pending      map[uint32]time.Time
	lastPingTime time.Time
	pingCount    int

	rng *rand.Rand
}

// New returns a Clock whose epoch starts at the current instant, i.e.
// Time() returns ~0 until the first adjustment nudges the epoch.
func New() *Clock {
	return &Clock{
		steadyZero: time.Now(),
		pending:    make(map[uint32]time.Time),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Time returns the current client-visible clock: steady elapsed time since
// New minus the epoch offset. It is not lock-free: it takes the same mutex
// that Adjust and GeneratePing hold, so a read can wait on a concurrent
// Adjust or GeneratePing.
func (c *Clock) Time() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.steadyZero) - c.epoch
}

// GeneratePing returns a non-zero ping id and records its send time, or
// returns 0 if the caller should wait (cold-start warm-up already done and
// less than pingInterval since the last ping).
func (c *Clock) GeneratePing() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.pingCount >= pingWarmupN && now.Sub(c.lastPingTime) < pingInterval {
		return 0
	}

	c.gcStalePendingLocked(now)

	var id uint32
	for {
		id = c.rng.Uint32()
		if id != 0 {
			if _, exists := c.pending[id]; !exists {
				break
			}
		}
	}

	c.pending[id] = now
	c.lastPingTime = now
	c.pingCount++
	return id
}

// Adjust feeds back a ping response: remoteMicros is the remote clock's
// reading (in Clock.Time()-equivalent units) at the moment it answered.
// Unknown ids are ignored.
func (c *Clock) Adjust(id uint32, remoteMicros time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sent, ok := c.pending[id]
	if !ok {
		return
	}
	delete(c.pending, id)

	now := time.Now()
	rtt := now.Sub(sent)

	// EWMA, alpha=0.5, over the full RTT, clamped to >= 1us per
	// NetworkClock.cpp so the adjustment never goes negative or zero.
	c.latency += (rtt - c.latency) / 2
	if c.latency < time.Microsecond {
		c.latency = time.Microsecond
	}

	localMicros := time.Since(c.steadyZero) - c.epoch
	diff := (remoteMicros - rtt/2) - (localMicros - rtt/2)

	absDiff := diff
	if absDiff < 0 {
		absDiff = -absDiff
	}

	switch {
	case absDiff >= panicThreshold:
		c.epoch -= diff
	case absDiff >= minimumThreshold:
		c.epoch -= diff / 2
	}
}

// WarmingUp reports whether fewer than the cold-start warm-up count of
// pings have been sent yet, so a caller can drive GeneratePing at a
// faster cadence than the steady-state ping interval until the warm-up
// pings are in flight.
func (c *Clock) WarmingUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingCount < pingWarmupN
}

// Latency returns the current EWMA-smoothed round-trip-time estimate.
func (c *Clock) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// Jitter always reads 0; reserved for future use per spec §9 (a).
func (c *Clock) Jitter() time.Duration {
	return 0
}

func (c *Clock) gcStalePendingLocked(now time.Time) {
	for id, sent := range c.pending {
		if now.Sub(sent) > pingStaleAfter {
			delete(c.pending, id)
		}
	}
}
