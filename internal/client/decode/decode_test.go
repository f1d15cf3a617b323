package decode

import (
	"context"
	"testing"
	"time"

	"github.com/breeze-rmm/deskstream/internal/codec"
	"github.com/breeze-rmm/deskstream/internal/frame"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(Config{
		Video: codec.VideoConfig{Codec: codec.VideoCodecNone, Width: 32, Height: 32, Format: frame.PixelFormatBGRA},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestPushVideoProducesFrame(t *testing.T) {
	p := newTestPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	p.PushVideo(frame.New(frame.Bitstream{Data: []byte{1, 2, 3, 4}}))

	select {
	case out := <-p.Frames():
		if len(out.Payload.Data) != 4 {
			t.Fatalf("expected 4 bytes, got %d", len(out.Payload.Data))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decoded frame")
	}
}

func TestCoalescingForwardMergesCursor(t *testing.T) {
	p := newTestPipeline(t)

	cp := frame.CursorPos{Visible: true, X: 5, Y: 6}
	f1 := frame.New(frame.Bitstream{Data: []byte{1}})
	f1.CursorPos = &cp
	p.PushVideo(f1)

	f2 := frame.New(frame.Bitstream{Data: []byte{2}})
	p.PushVideo(f2)

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) != 2 {
		t.Fatalf("expected both non-keyframes queued, got %d", len(p.pending))
	}
	if p.pending[1].CursorPos == nil || p.pending[1].CursorPos.X != 5 {
		t.Fatal("expected cursor position to be forward-merged onto the later frame")
	}
}

// TestKeyframeCoalescingDropsIntermediates exercises spec property #5 and
// scenario S6: pushing [K1, P1, P2, K2, P3] must coalesce to [K2, P3], with
// K2 carrying the latest non-null cursor update seen among the discarded
// K1/P1/P2.
func TestKeyframeCoalescingDropsIntermediates(t *testing.T) {
	p := newTestPipeline(t)

	k1 := frame.New(frame.Bitstream{Data: []byte{1}})
	k1.IsKeyFrame = true
	p.PushVideo(k1)

	p1 := frame.New(frame.Bitstream{Data: []byte{2}})
	p.PushVideo(p1)

	cp := frame.CursorPos{Visible: true, X: 42, Y: 7}
	p2 := frame.New(frame.Bitstream{Data: []byte{3}})
	p2.CursorPos = &cp
	p.PushVideo(p2)

	k2 := frame.New(frame.Bitstream{Data: []byte{4}})
	k2.IsKeyFrame = true
	p.PushVideo(k2)

	p3 := frame.New(frame.Bitstream{Data: []byte{5}})
	p.PushVideo(p3)

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) != 2 {
		t.Fatalf("expected queue to collapse to [K2, P3], got %d frames", len(p.pending))
	}
	head := p.pending[0]
	if !head.IsKeyFrame || string(head.Payload.Data) != string(k2.Payload.Data) {
		t.Fatalf("expected head of queue to be K2, got %+v", head)
	}
	if head.CursorPos == nil || head.CursorPos.X != 42 {
		t.Fatal("expected K2 to carry P2's cursor update merged forward from the discarded frames")
	}
	tail := p.pending[1]
	if tail.IsKeyFrame || string(tail.Payload.Data) != string(p3.Payload.Data) {
		t.Fatalf("expected tail of queue to be P3, got %+v", tail)
	}
}

func TestAudioPassthroughWithoutPool(t *testing.T) {
	p := newTestPipeline(t)
	p.PushAudio([]byte{9, 9}, 2)

	select {
	case a := <-p.Audio():
		if len(a.PCM) != 2 {
			t.Fatalf("expected 2 bytes of PCM, got %d", len(a.PCM))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for audio frame")
	}
}
