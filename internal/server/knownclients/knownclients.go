// Package knownclients persists the server's paired-client fingerprint
// set to clients.toml, grounded on spec §4.9/§6.2 and on the teacher's
// write-temp-then-rename persistence idiom (internal/config.SaveTo).
package knownclients

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/breeze-rmm/deskstream/internal/logging"
)

var log = logging.L("knownclients")

// Client is one paired client's record.
type Client struct {
	FingerprintHex string    `toml:"fingerprint"`
	Label          string    `toml:"label,omitempty"`
	PairedAt       time.Time `toml:"paired_at"`
	LastConnected  time.Time `toml:"last_connected,omitempty"`
}

type fileFormat struct {
	Clients []Client `toml:"client"`
}

// Store is an in-memory, file-backed set of known client certificates.
type Store struct {
	mu      sync.Mutex
	path    string
	clients map[string]Client // keyed by fingerprint hex
}

// Fingerprint hashes a client certificate's DER bytes into the key used to
// index the known-clients set.
func Fingerprint(certDER []byte) string {
	sum := sha512.Sum512(certDER)
	return hex.EncodeToString(sum[:32])
}

// Open loads path, tolerating a missing or malformed file by starting
// from an empty set (a brand-new server has paired with no one yet).
func Open(path string) *Store {
	s := &Store{path: path, clients: map[string]Client{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("failed to read known clients file, starting empty", "error", err)
		}
		return s
	}

	var ff fileFormat
	if err := toml.Unmarshal(data, &ff); err != nil {
		log.Warn("known clients file is malformed, starting empty", "error", err)
		return s
	}

	for _, c := range ff.Clients {
		s.clients[c.FingerprintHex] = c
	}
	return s
}

// IsKnown reports whether certDER belongs to a previously paired client.
func (s *Store) IsKnown(certDER []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.clients[Fingerprint(certDER)]
	return ok
}

// Add records a newly paired client and persists the set.
func (s *Store) Add(certDER []byte, label string) error {
	s.mu.Lock()
	fp := Fingerprint(certDER)
	s.clients[fp] = Client{
		FingerprintHex: fp,
		Label:          label,
		PairedAt:       time.Now(),
		LastConnected:  time.Now(),
	}
	s.mu.Unlock()
	return s.save()
}

// TouchLastConnected updates the last-connected timestamp for an already
// known client, implementing the decision in DESIGN.md that this updates
// once per successful re-authorization rather than on every dial attempt.
func (s *Store) TouchLastConnected(certDER []byte) error {
	s.mu.Lock()
	fp := Fingerprint(certDER)
	c, ok := s.clients[fp]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("knownclients: unknown fingerprint %s", fp)
	}
	c.LastConnected = time.Now()
	s.clients[fp] = c
	s.mu.Unlock()
	return s.save()
}

// Remove forgets a paired client and persists the set.
func (s *Store) Remove(certDER []byte) error {
	s.mu.Lock()
	delete(s.clients, Fingerprint(certDER))
	s.mu.Unlock()
	return s.save()
}

// List returns a snapshot of every known client.
func (s *Store) List() []Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

func (s *Store) save() error {
	s.mu.Lock()
	ff := fileFormat{Clients: make([]Client, 0, len(s.clients))}
	for _, c := range s.clients {
		ff.Clients = append(ff.Clients, c)
	}
	s.mu.Unlock()

	data, err := toml.Marshal(ff)
	if err != nil {
		return fmt.Errorf("knownclients: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("knownclients: create dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("knownclients: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("knownclients: rename temp file: %w", err)
	}
	return nil
}
