// Package hostlist persists the client's list of known hosts to
// hosts.toml, grounded on original_source/src/client/HostList.{h,cpp} and
// the teacher's toml persistence idiom.
package hostlist

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/breeze-rmm/deskstream/internal/logging"
)

var log = logging.L("hostlist")

// Entry is one remembered host: its dial address plus the server
// certificate fingerprint pinned on first pairing.
type Entry struct {
	Label           string    `toml:"label"`
	Address         string    `toml:"address"`
	FingerprintHex  string    `toml:"fingerprint"`
	LastConnected   time.Time `toml:"last_connected,omitempty"`
}

type fileFormat struct {
	Hosts []Entry `toml:"host"`
}

// List is an in-memory, file-backed collection of remembered hosts, keyed
// by label.
type List struct {
	mu    sync.Mutex
	path  string
	hosts map[string]Entry
}

// Open loads path, tolerating a missing or malformed file by starting
// empty per spec §4.9's "tolerant loading" note.
func Open(path string) *List {
	l := &List{path: path, hosts: map[string]Entry{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("failed to read host list, starting empty", "error", err)
		}
		return l
	}

	var ff fileFormat
	if err := toml.Unmarshal(data, &ff); err != nil {
		log.Warn("host list file is malformed, starting empty", "error", err)
		return l
	}

	for _, h := range ff.Hosts {
		l.hosts[h.Label] = h
	}
	return l
}

// Get returns the entry for label, if any.
func (l *List) Get(label string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.hosts[label]
	return e, ok
}

// All returns a snapshot of every remembered host.
func (l *List) All() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.hosts))
	for _, e := range l.hosts {
		out = append(out, e)
	}
	return out
}

// Remember adds or updates a host entry, pinning the server fingerprint
// the first time this label is seen. An address change for an already
// pinned label is accepted (the host may have moved), but the
// fingerprint argument is then ignored and the pinned one is kept;
// replacing it takes a Forget followed by a fresh Remember.
func (l *List) Remember(label, address string, fingerprintHex string) error {
	l.mu.Lock()
	existing, ok := l.hosts[label]
	if ok {
		existing.Address = address
		l.hosts[label] = existing
	} else {
		l.hosts[label] = Entry{
			Label:          label,
			Address:        address,
			FingerprintHex: fingerprintHex,
		}
	}
	l.mu.Unlock()
	return l.save()
}

// TouchLastConnected updates last_connected for label. Called once per
// successful reconnect, not per dial attempt, per DESIGN.md's Open
// Question decision.
func (l *List) TouchLastConnected(label string) error {
	l.mu.Lock()
	e, ok := l.hosts[label]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("hostlist: unknown host %q", label)
	}
	e.LastConnected = time.Now()
	l.hosts[label] = e
	l.mu.Unlock()
	return l.save()
}

// Forget removes a host entry.
func (l *List) Forget(label string) error {
	l.mu.Lock()
	delete(l.hosts, label)
	l.mu.Unlock()
	return l.save()
}

func (l *List) save() error {
	l.mu.Lock()
	ff := fileFormat{Hosts: make([]Entry, 0, len(l.hosts))}
	for _, e := range l.hosts {
		ff.Hosts = append(ff.Hosts, e)
	}
	l.mu.Unlock()

	data, err := toml.Marshal(ff)
	if err != nil {
		return fmt.Errorf("hostlist: marshal: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("hostlist: create dir: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("hostlist: write temp file: %w", err)
	}
	return os.Rename(tmp, l.path)
}
