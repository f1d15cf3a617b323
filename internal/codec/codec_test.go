package codec

import (
	"testing"

	"github.com/breeze-rmm/deskstream/internal/frame"
)

func TestSoftwareEncoderDecoderRoundTrip(t *testing.T) {
	cfg := VideoConfig{Codec: VideoCodecNone, Width: 16, Height: 16, Format: frame.PixelFormatBGRA}

	enc, err := NewVideoEncoder(cfg)
	if err != nil {
		t.Fatalf("NewVideoEncoder: %v", err)
	}
	defer enc.Close()

	in := frame.New(frame.Pixels{Data: []byte{1, 2, 3, 4}, Width: 16, Height: 16, Format: frame.PixelFormatBGRA})
	if err := enc.Push(in); err != nil {
		t.Fatalf("Push: %v", err)
	}

	out, status, err := enc.TryPull()
	if err != nil {
		t.Fatalf("TryPull: %v", err)
	}
	if status != Ready {
		t.Fatalf("expected Ready, got %v", status)
	}
	if !out.IsKeyFrame {
		t.Fatal("expected software passthrough to mark every frame a keyframe")
	}

	dec, err := NewVideoDecoder(cfg)
	if err != nil {
		t.Fatalf("NewVideoDecoder: %v", err)
	}
	defer dec.Close()

	if err := dec.Push(out); err != nil {
		t.Fatalf("decoder Push: %v", err)
	}
	decoded, status, err := dec.TryPull()
	if err != nil {
		t.Fatalf("decoder TryPull: %v", err)
	}
	if status != Ready {
		t.Fatalf("expected Ready, got %v", status)
	}
	if len(decoded.Payload.Data) != 4 {
		t.Fatalf("expected round-tripped 4 bytes, got %d", len(decoded.Payload.Data))
	}
}

func TestUnregisteredCodecReturnsErrNoBackend(t *testing.T) {
	_, err := NewVideoEncoder(VideoConfig{Codec: "nonexistent", Width: 4, Height: 4})
	if err == nil {
		t.Fatal("expected an error for an unregistered codec")
	}
}
