package hostlist

import (
	"path/filepath"
	"testing"
)

func TestRememberThenGet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.toml")

	l := Open(path)
	if err := l.Remember("office-pc", "192.168.1.10:6495", "abcd1234"); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	e, ok := l.Get("office-pc")
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if e.Address != "192.168.1.10:6495" || e.FingerprintHex != "abcd1234" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.toml")

	l1 := Open(path)
	if err := l1.Remember("home-pc", "10.0.0.5:6495", "ffff"); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	l2 := Open(path)
	if _, ok := l2.Get("home-pc"); !ok {
		t.Fatal("expected entry to survive reopen")
	}
}

func TestAddressUpdateKeepsFingerprint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.toml")

	l := Open(path)
	if err := l.Remember("pc", "10.0.0.1:6495", "fp1"); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if err := l.Remember("pc", "10.0.0.2:6495", "fp1"); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	e, _ := l.Get("pc")
	if e.Address != "10.0.0.2:6495" {
		t.Fatalf("expected updated address, got %s", e.Address)
	}
	if e.FingerprintHex != "fp1" {
		t.Fatalf("expected unchanged fingerprint, got %s", e.FingerprintHex)
	}
}

func TestForget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.toml")

	l := Open(path)
	if err := l.Remember("pc", "10.0.0.1:6495", "fp1"); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if err := l.Forget("pc"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if _, ok := l.Get("pc"); ok {
		t.Fatal("expected entry to be gone after Forget")
	}
}
