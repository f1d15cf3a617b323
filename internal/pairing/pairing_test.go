package pairing

import "testing"

func TestComputePINEqualForIdenticalInputs(t *testing.T) {
	serverCert := []byte("server-cert-bytes")
	clientCert := []byte("client-cert-bytes")
	serverNonce := []byte("0123456789abcdef0123456789abcdef")
	clientNonce := []byte("fedcba9876543210fedcba9876543210")

	a := ComputePIN(serverCert, clientCert, serverNonce, clientNonce)
	b := ComputePIN(serverCert, clientCert, serverNonce, clientNonce)
	if a != b {
		t.Fatalf("PIN differs for identical inputs: %d vs %d", a, b)
	}
	if a >= 100_000_000 {
		t.Fatalf("PIN %d exceeds 8 decimal digits", a)
	}
}

func TestComputePINChangesWithServerCert(t *testing.T) {
	base := ComputePIN([]byte("s"), []byte("c"), []byte("sn"), []byte("cn"))
	if other := ComputePIN([]byte("s2"), []byte("c"), []byte("sn"), []byte("cn")); other == base {
		t.Fatal("changing server cert should (almost certainly) change the PIN")
	}
}

func TestPINStringFormat(t *testing.T) {
	p := PIN(12345678)
	if got, want := p.String(), "1234 5678"; got != want {
		t.Fatalf("PIN.String() = %q, want %q", got, want)
	}
}

func TestVerifyPartialHashDetectsTampering(t *testing.T) {
	serverCert := []byte("server-cert")
	clientCert := []byte("client-cert")
	nonce := []byte("0123456789abcdef")

	claimed := PartialHash(serverCert, clientCert, nonce)
	if !VerifyPartialHash(claimed, serverCert, clientCert, nonce) {
		t.Fatal("expected matching partial hash to verify")
	}

	tamperedNonce := []byte("fedcba9876543210")
	if VerifyPartialHash(claimed, serverCert, clientCert, tamperedNonce) {
		t.Fatal("expected a tampered nonce to fail partial hash verification")
	}
}
