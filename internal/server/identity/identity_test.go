package identity

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()

	id1, err := Load(dir, "deskstream", "test-host")
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, privKeyFile)); err != nil {
		t.Fatalf("expected private key file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, certFile)); err != nil {
		t.Fatalf("expected cert file: %v", err)
	}

	id2, err := Load(dir, "deskstream", "test-host")
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}

	if string(id1.CertDER) != string(id2.CertDER) {
		t.Fatal("second Load should reuse the persisted certificate")
	}
}

func TestGeneratedCertIsLongLived(t *testing.T) {
	dir := t.TempDir()
	id, err := Load(dir, "deskstream", "test-host")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cert, err := x509.ParseCertificate(id.CertDER)
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}

	// Compare calendar years: NotAfter.Sub(NotBefore) saturates at the
	// maximum time.Duration (about 292 years).
	years := cert.NotAfter.Year() - cert.NotBefore.Year()
	if years < 400 {
		t.Fatalf("expected a multi-century certificate, got %d years", years)
	}
}

func TestCorruptStoredIdentityRegenerates(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir, "deskstream", "test-host"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, certFile), []byte("not a cert"), 0600); err != nil {
		t.Fatalf("corrupt cert: %v", err)
	}

	id, err := Load(dir, "deskstream", "test-host")
	if err != nil {
		t.Fatalf("Load after corruption: %v", err)
	}
	if len(id.CertDER) == 0 {
		t.Fatal("expected a regenerated certificate")
	}
}
