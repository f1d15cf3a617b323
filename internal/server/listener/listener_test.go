package listener

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/breeze-rmm/deskstream/internal/server/connection"
	"github.com/breeze-rmm/deskstream/internal/server/identity"
)

func serverTLSConfig(t *testing.T) *tls.Config {
	t.Helper()
	id, err := identity.Load(t.TempDir(), "deskstream-test", "test-host")
	if err != nil {
		t.Fatalf("identity.Load: %v", err)
	}
	return identity.ServerTLSConfig(id)
}

func TestCloseBeforeServeIsSafe(t *testing.T) {
	l := New("127.0.0.1:0", &tls.Config{}, func() connection.Host { return connection.Host{} })
	if err := l.Close(); err != nil {
		t.Fatalf("Close on unserved listener: %v", err)
	}
}

func TestServeReturnsAfterClose(t *testing.T) {
	l := New("127.0.0.1:0", serverTLSConfig(t), func() connection.Host { return connection.Host{} })

	done := make(chan error, 1)
	go func() { done <- l.Serve() }()

	// Give Serve a moment to bind before closing it.
	time.Sleep(50 * time.Millisecond)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}
