package wire

import (
	"bytes"
	"net"
	"testing"
)

func TestSendRecvRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewConn(client)
	sc := NewConn(server)

	pkt := Packet{
		Type:            TypeClientIntro,
		ProtocolVersion: 1,
	}
	extra := []byte("hello extra data")

	errCh := make(chan error, 1)
	go func() {
		errCh <- cc.Send(pkt, extra)
	}()

	gotPkt, gotExtra, err := sc.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotPkt.Type != pkt.Type || gotPkt.ProtocolVersion != pkt.ProtocolVersion {
		t.Fatalf("header mismatch: got %+v, want %+v", gotPkt, pkt)
	}
	if gotPkt.ExtraDataLen != uint32(len(extra)) {
		t.Fatalf("ExtraDataLen = %d, want %d", gotPkt.ExtraDataLen, len(extra))
	}
	if !bytes.Equal(gotExtra, extra) {
		t.Fatalf("extra data mismatch: got %q, want %q", gotExtra, extra)
	}
}

func TestSendRecvNoExtraData(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewConn(client)
	sc := NewConn(server)

	pkt := Packet{Type: TypePingRequest, ID: 42}

	errCh := make(chan error, 1)
	go func() { errCh <- cc.Send(pkt, nil) }()

	gotPkt, gotExtra, err := sc.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(gotExtra) != 0 {
		t.Fatalf("expected no extra data, got %d bytes", len(gotExtra))
	}
	if gotPkt.ID != 42 {
		t.Fatalf("ID = %d, want 42", gotPkt.ID)
	}
}

func TestWriterTotalOrderPerProducer(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewConn(client)
	sc := NewConn(server)

	const n = 20
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			cc.Send(Packet{Type: TypePingRequest, ID: uint32(i)}, nil)
		}
	}()

	seen := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		pkt, _, err := sc.Recv()
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		seen = append(seen, pkt.ID)
	}
	<-done

	for i, id := range seen {
		if id != uint32(i) {
			t.Fatalf("producer order not preserved: seen[%d]=%d, want %d", i, id, i)
		}
	}
}
