package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/breeze-rmm/deskstream/internal/codec"
	"github.com/breeze-rmm/deskstream/internal/frame"
	"github.com/breeze-rmm/deskstream/internal/metrics"
	"github.com/breeze-rmm/deskstream/internal/server/capture"
)

func TestFirstOutputIsKeyframe(t *testing.T) {
	src := capture.NewNullSource(capture.Config{Width: 64, Height: 64})
	p := New(src, metrics.NewStreamMetrics(), nil)

	err := p.Configure(Config{
		Width: 64, Height: 64,
		FPS: frame.Rational{Num: 30, Den: 1},
		Video: codec.VideoConfig{
			Codec: codec.VideoCodecNone, Width: 64, Height: 64, Format: frame.PixelFormatBGRA,
			BitrateBps: 1_000_000,
		},
	})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	var mu sync.Mutex
	var received []frame.Frame[frame.Bitstream]
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx, func(f frame.Frame[frame.Bitstream]) {
		mu.Lock()
		received = append(received, f)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(received) == 0 {
		t.Fatal("expected at least one output frame")
	}
	if !received[0].IsKeyFrame {
		t.Fatal("expected first output frame to be a keyframe")
	}
}
