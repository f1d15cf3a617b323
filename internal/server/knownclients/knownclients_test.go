package knownclients

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAddThenIsKnown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clients.toml")

	s := Open(path)
	cert := []byte("fake-client-cert-bytes")

	if s.IsKnown(cert) {
		t.Fatal("unpaired cert should not be known")
	}
	if err := s.Add(cert, "laptop"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !s.IsKnown(cert) {
		t.Fatal("expected cert to be known after Add")
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clients.toml")
	cert := []byte("another-cert")

	s1 := Open(path)
	if err := s1.Add(cert, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s2 := Open(path)
	if !s2.IsKnown(cert) {
		t.Fatal("expected reopened store to know the previously added cert")
	}
}

func TestMalformedFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clients.toml")
	if err := os.WriteFile(path, []byte("not valid toml {{{"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := Open(path)
	if len(s.List()) != 0 {
		t.Fatal("expected empty set from malformed file")
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clients.toml")
	cert := []byte("revoke-me")

	s := Open(path)
	if err := s.Add(cert, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Remove(cert); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s.IsKnown(cert) {
		t.Fatal("expected cert to be forgotten after Remove")
	}
}
