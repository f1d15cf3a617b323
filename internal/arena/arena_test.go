package arena

import (
	"testing"

	"github.com/breeze-rmm/deskstream/internal/frame"
)

func testConfig() Config {
	return Config{Width: 64, Height: 48, Format: frame.PixelFormatBGRA}
}

func TestAllocReleaseNoDoubleFree(t *testing.T) {
	a := Open(testConfig())

	handles := make([]*Handle, 0, 20)
	for i := 0; i < 20; i++ {
		h := a.Alloc()
		if len(h.Bytes()) != a.plane {
			t.Fatalf("handle %d: got buffer len %d, want %d", i, len(h.Bytes()), a.plane)
		}
		handles = append(handles, h)
	}
	if a.Live() != 20 {
		t.Fatalf("Live() = %d, want 20", a.Live())
	}

	for _, h := range handles {
		h.Release()
	}
	if a.Live() != 0 {
		t.Fatalf("Live() = %d after releasing all, want 0", a.Live())
	}

	a.GC()
	if len(a.blocks) != 0 {
		t.Fatalf("GC left %d blocks, want 0", len(a.blocks))
	}
}

func TestReleaseTwicePanics(t *testing.T) {
	a := Open(testConfig())
	h := a.Alloc()
	h.Release()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double release")
		}
	}()
	h.Release()
}

func TestGrowsNewBlockWhenFull(t *testing.T) {
	a := Open(testConfig())
	for i := 0; i < blockSize; i++ {
		a.Alloc()
	}
	if len(a.blocks) != 1 {
		t.Fatalf("expected 1 block before overflow, got %d", len(a.blocks))
	}
	a.Alloc()
	if len(a.blocks) != 2 {
		t.Fatalf("expected a new block once the first filled, got %d", len(a.blocks))
	}
}

func TestReconfigureSupersedesOldArena(t *testing.T) {
	a := Open(testConfig())
	h := a.Alloc()

	next := a.Reconfigure(Config{Width: 128, Height: 96, Format: frame.PixelFormatBGRA})
	if next == a {
		t.Fatal("Reconfigure with a different shape should return a new arena")
	}
	if !a.Superseded() {
		t.Fatal("old arena should be marked superseded")
	}

	h.Release()
	a.Close()
}

func TestReconfigureSameShapeReturnsSelf(t *testing.T) {
	a := Open(testConfig())
	same := a.Reconfigure(testConfig())
	if same != a {
		t.Fatal("Reconfigure with the same shape should return the receiver")
	}
}
