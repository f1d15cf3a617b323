// Package arena implements a fixed-format, reference-counted pool of pixel
// buffers allocated in blocks of 8 slots, so the hot capture/decode path
// never calls the general allocator. It is a direct translation of
// TextureAllocArena's atomic-slot/mutex-blocklist design into Go.
package arena

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/deskstream/internal/frame"
	"github.com/breeze-rmm/deskstream/internal/logging"
)

var log = logging.L("arena")

// blockSize matches TextureAllocArena's BLOCK_SIZE.
const blockSize = 8

// PlaneSizeBytes returns the number of bytes needed for one buffer of the
// given dimensions and pixel format.
func PlaneSizeBytes(width, height int, format frame.PixelFormat) int {
	switch format {
	case frame.PixelFormatBGRA:
		return width * height * 4
	case frame.PixelFormatNV12:
		return width*height + (width/2)*(height/2)*2
	default:
		return 0
	}
}

// block is a contiguous backing allocation for 8 equally sized buffers.
// Slot availability is tracked with atomics so concurrent frees on
// different slots of the same block never contend with each other.
type block struct {
	data      []byte
	planeSize int
	available [blockSize]atomic.Bool
	live      atomic.Int32 // count of currently allocated slots, for gc()
}

func newBlock(planeSize int) *block {
	b := &block{
		data:      make([]byte, planeSize*blockSize),
		planeSize: planeSize,
	}
	for i := range b.available {
		b.available[i].Store(true)
	}
	return b
}

// claim finds a free slot and marks it taken, returning its index and true,
// or -1/false if the block is full.
func (b *block) claim() (int, bool) {
	for i := range b.available {
		if b.available[i].CompareAndSwap(true, false) {
			b.live.Add(1)
			return i, true
		}
	}
	return -1, false
}

// release returns a slot to the block. Releasing an already-free slot is a
// fatal programming error (double free), matching the original's abort().
func (b *block) release(slot int) {
	if !b.available[slot].CompareAndSwap(false, true) {
		panic(fmt.Sprintf("arena: double free of slot %d", slot))
	}
	b.live.Add(-1)
}

func (b *block) isEmpty() bool {
	return b.live.Load() == 0
}

func (b *block) slice(slot int) []byte {
	start := slot * b.planeSize
	return b.data[start : start+b.planeSize]
}

// Config identifies the buffer shape a Arena was opened for.
type Config struct {
	Width  int
	Height int
	Format frame.PixelFormat
}

// Arena is a pool of equally-sized pixel buffers. Close refuses to return
// until every outstanding Handle has been released.
type Arena struct {
	mu     sync.Mutex
	cfg    Config
	plane  int
	blocks []*block

	superseded atomic.Bool
	liveTotal  atomic.Int64
}

// Open initializes a pool with a single empty block for the given shape.
func Open(cfg Config) *Arena {
	plane := PlaneSizeBytes(cfg.Width, cfg.Height, cfg.Format)
	a := &Arena{cfg: cfg, plane: plane}
	a.blocks = append(a.blocks, newBlock(plane))
	return a
}

// Handle is an opaque (block, slot) reference into an Arena. It decodes to
// a backing byte slice via Bytes and must be released exactly once.
type Handle struct {
	arena *Arena
	block *block
	slot  int
	freed atomic.Bool
}

// Bytes returns the backing buffer for this handle. Valid until Release.
func (h *Handle) Bytes() []byte {
	return h.block.slice(h.slot)
}

// Release returns the slot to its block. Calling Release twice on the same
// handle is a fatal programming error.
func (h *Handle) Release() {
	if !h.freed.CompareAndSwap(false, true) {
		panic("arena: double release of handle")
	}
	h.block.release(h.slot)
	h.arena.liveTotal.Add(-1)
}

// Alloc returns a zero-copy buffer handle. It never blocks: if every
// existing block is full, a new 8-slot block is appended.
func (a *Arena) Alloc() *Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, b := range a.blocks {
		if slot, ok := b.claim(); ok {
			a.liveTotal.Add(1)
			return &Handle{arena: a, block: b, slot: slot}
		}
	}

	nb := newBlock(a.plane)
	slot, _ := nb.claim() // fresh block always has room
	a.blocks = append(a.blocks, nb)
	a.liveTotal.Add(1)
	return &Handle{arena: a, block: nb, slot: slot}
}

// GC frees empty blocks eagerly, repeatedly, leaving zero blocks once every
// handle drawn from this arena has been released.
func (a *Arena) GC() {
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.blocks[:0]
	for _, b := range a.blocks {
		if !b.isEmpty() {
			kept = append(kept, b)
		}
	}
	a.blocks = kept
}

// Superseded reports whether Reconfigure has replaced this arena; no new
// allocations should be drawn from a superseded arena.
func (a *Arena) Superseded() bool {
	return a.superseded.Load()
}

// supersede marks the arena as retired. Existing handles remain valid.
func (a *Arena) supersede() {
	a.superseded.Store(true)
}

// Reconfigure returns a fresh Arena for the new shape if it differs from
// cfg, marking the receiver superseded. The old arena is only destroyed
// (by the caller calling Close once all its handles drain) after its
// buffers are released — Reconfigure itself never blocks.
func (a *Arena) Reconfigure(cfg Config) *Arena {
	a.mu.Lock()
	same := cfg == a.cfg
	a.mu.Unlock()
	if same {
		return a
	}
	a.supersede()
	return Open(cfg)
}

// Close waits until every outstanding handle has been released, then frees
// all blocks. Destroying an arena while any slot is live is a fatal error
// per spec §4.1 — Close therefore blocks rather than silently leaking, and
// callers that need non-blocking shutdown should poll Live() first.
func (a *Arena) Close() {
	for a.liveTotal.Load() != 0 {
		// Busy-wait with a yield; arenas are short-lived and draining takes
		// at most one pipeline tick, so a spin here beats adding a condvar
		// for what is a shutdown-only path.
		runtime.Gosched()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocks = nil
	log.Debug("arena closed", "width", a.cfg.Width, "height", a.cfg.Height)
}

// Live reports the number of handles currently outstanding.
func (a *Arena) Live() int64 {
	return a.liveTotal.Load()
}
