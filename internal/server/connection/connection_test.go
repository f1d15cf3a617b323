package connection

import (
	"net"
	"testing"

	"github.com/breeze-rmm/deskstream/internal/codec"
	"github.com/breeze-rmm/deskstream/internal/frame"
	"github.com/breeze-rmm/deskstream/internal/logging"
	"github.com/breeze-rmm/deskstream/internal/metrics"
	"github.com/breeze-rmm/deskstream/internal/netclock"
	"github.com/breeze-rmm/deskstream/internal/pairing"
	"github.com/breeze-rmm/deskstream/internal/server/capture"
	"github.com/breeze-rmm/deskstream/internal/server/pipeline"
	"github.com/breeze-rmm/deskstream/internal/wire"
)

// testConnection builds a Connection directly (bypassing New, which
// requires a real *tls.Conn) wired to one end of an in-memory pipe, the
// other end left for the test to drive as the "client".
func testConnection(t *testing.T) (*Connection, *wire.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { serverSide.Close(); clientSide.Close() })

	c := &Connection{
		id:    "test",
		state: StateAuthorized,
		conn:  wire.NewConn(serverSide),
		log:   logging.L("connection-test"),
		host: Host{
			Clock:        netclock.New(),
			NativeWidth:  1920,
			NativeHeight: 1080,
			NativeFPS:    frame.Rational{Num: 60, Den: 1},
			NewPipeline: func() *pipeline.CapturePipeline {
				src := capture.NewNullSource(capture.Config{Width: 1920, Height: 1080})
				return pipeline.New(src, metrics.NewStreamMetrics(), nil)
			},
		},
	}
	return c, wire.NewConn(clientSide)
}

func TestQueryHostCapsAcceptsSoftwarePassthrough(t *testing.T) {
	c, client := testConnection(t)
	go func() {
		if err := c.handleQueryHostCaps(wire.Packet{Codec: string(codec.VideoCodecNone)}); err != nil {
			t.Errorf("handleQueryHostCaps: %v", err)
		}
	}()

	resp, _, err := client.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if resp.Status != wire.StatusOK {
		t.Fatalf("expected StatusOK for the registered software codec, got %s", resp.Status)
	}
	if resp.NativeWidth != 1920 || resp.NativeHeight != 1080 {
		t.Fatalf("expected native dimensions echoed, got %dx%d", resp.NativeWidth, resp.NativeHeight)
	}
}

func TestQueryHostCapsRejectsUnknownCodec(t *testing.T) {
	c, client := testConnection(t)
	go func() {
		if err := c.handleQueryHostCaps(wire.Packet{Codec: "not-a-real-codec"}); err != nil {
			t.Errorf("handleQueryHostCaps: %v", err)
		}
	}()

	resp, _, err := client.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if resp.Status != wire.StatusUnsupportedCodec {
		t.Fatalf("expected StatusUnsupportedCodec, got %s", resp.Status)
	}
}

func TestConfigureAndStartStreamWithSoftwarePassthrough(t *testing.T) {
	c, client := testConnection(t)

	go func() {
		if err := c.handleConfigureStream(wire.Packet{
			Codec: string(codec.VideoCodecNone), Width: 1920, Height: 1080, FPSNum: 60, FPSDen: 1,
		}); err != nil {
			t.Errorf("handleConfigureStream: %v", err)
		}
	}()
	resp, _, err := client.Recv()
	if err != nil {
		t.Fatalf("recv configure response: %v", err)
	}
	if resp.Status != wire.StatusOK {
		t.Fatalf("expected ConfigureStream StatusOK, got %s", resp.Status)
	}

	go func() {
		if err := c.handleStartStream(wire.Packet{}); err != nil {
			t.Errorf("handleStartStream: %v", err)
		}
	}()
	resp, _, err = client.Recv()
	if err != nil {
		t.Fatalf("recv start response: %v", err)
	}
	if resp.Status != wire.StatusOK {
		t.Fatalf("expected StartStream StatusOK, got %s", resp.Status)
	}
	if !c.streaming.Load() {
		t.Fatal("expected connection to be marked streaming")
	}
}

func TestApproverCalledWithComputedPIN(t *testing.T) {
	serverCert := []byte("server-cert")
	clientCert := []byte("client-cert")
	serverNonce := []byte("0123456789abcdef0123456789abcde")
	clientNonce := []byte("fedcba9876543210fedcba9876543210")

	want := pairing.ComputePIN(serverCert, clientCert, serverNonce, clientNonce)

	var got pairing.PIN
	approver := Approver(func(pin pairing.PIN, hostname string) bool {
		got = pin
		return true
	})

	ok := approver(pairing.ComputePIN(serverCert, clientCert, serverNonce, clientNonce), "test-client")
	if !ok {
		t.Fatal("expected approver to approve")
	}
	if got != want {
		t.Fatalf("got pin %v, want %v", got, want)
	}
}
