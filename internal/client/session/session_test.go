package session

import (
	"context"
	"testing"
	"time"

	"github.com/breeze-rmm/deskstream/internal/netclock"
	"github.com/breeze-rmm/deskstream/internal/pairing"
	"github.com/breeze-rmm/deskstream/internal/wire"
)

func TestDispatchPingResponseAdjustsClock(t *testing.T) {
	s := &Session{clock: netclock.New()}
	id := s.clock.GeneratePing()
	if id == 0 {
		t.Fatal("expected non-zero ping id")
	}
	time.Sleep(time.Millisecond)
	s.dispatch(wire.Packet{
		Type:   wire.TypePingResponse,
		ID:     id,
		TimeUs: uint64(s.clock.Time() / time.Microsecond),
	}, nil)
	if s.clock.Latency() <= 0 {
		t.Fatal("expected latency to be recorded after adjust")
	}
}

func TestDispatchRoutesWaitedTypeToAwaiter(t *testing.T) {
	s := &Session{clock: netclock.New(), stopCh: make(chan struct{})}

	type result struct {
		pkt wire.Packet
		err error
	}
	done := make(chan result, 1)
	go func() {
		pkt, _, err := s.awaitOneOf(context.Background(), wire.TypeQueryHostCapsResponse)
		done <- result{pkt, err}
	}()

	// awaitOneOf registers itself asynchronously; poll until dispatch has
	// something to route to instead of racing it.
	for i := 0; i < 1000; i++ {
		s.mu.Lock()
		ready := s.waitCh != nil
		s.mu.Unlock()
		if ready {
			break
		}
		time.Sleep(time.Millisecond)
	}

	s.dispatch(wire.Packet{Type: wire.TypeQueryHostCapsResponse, Status: wire.StatusOK, MaxWidth: 1920}, nil)

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("unexpected error: %v", r.err)
		}
		if r.pkt.MaxWidth != 1920 {
			t.Fatalf("expected routed packet, got %+v", r.pkt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch to route the response")
	}
}

func TestPartialHashRoundTrips(t *testing.T) {
	serverCert := []byte("server-cert")
	clientCert := []byte("client-cert")
	nonce := []byte("0123456789abcdef0123456789abcde")

	h := pairing.PartialHash(serverCert, clientCert, nonce)
	if !pairing.VerifyPartialHash(h, serverCert, clientCert, nonce) {
		t.Fatal("expected partial hash to verify against its own inputs")
	}
}
