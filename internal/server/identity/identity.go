// Package identity manages the server's long-lived ECDSA keypair and
// self-signed certificate, the basis for both TLS and the PIN pairing
// handshake. Grounded on the teacher's internal/mtls/mtls.go TLS-config
// helpers, rewritten to generate and persist a DER keypair per spec §6.2
// instead of loading a PEM pair issued by an external control plane.
package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/breeze-rmm/deskstream/internal/logging"
)

var log = logging.L("identity")

const (
	privKeyFile = "privkey.der"
	certFile    = "cert.der"

	// In calendar years: 500 years does not fit in a time.Duration.
	certLifetimeYears = 500
)

// Identity holds the server's keypair, DER-encoded certificate, and the
// ready-to-use tls.Certificate built from them.
type Identity struct {
	PrivateKey *ecdsa.PrivateKey
	CertDER    []byte
	TLSCert    tls.Certificate
}

// Fingerprint returns the raw bytes of the certificate, the same bytes
// hashed during PIN pairing (internal/pairing.ComputePIN takes the whole
// cert, not a digest of it).
func (id *Identity) Fingerprint() []byte {
	return id.CertDER
}

// Load reads privkey.der/cert.der from dataDir, generating and persisting
// a fresh keypair and self-signed certificate on first run.
func Load(dataDir, brand, hostname string) (*Identity, error) {
	keyPath := filepath.Join(dataDir, privKeyFile)
	certPath := filepath.Join(dataDir, certFile)

	keyDER, keyErr := os.ReadFile(keyPath)
	certDER, certErr := os.ReadFile(certPath)

	if keyErr == nil && certErr == nil {
		id, err := fromDER(keyDER, certDER)
		if err == nil {
			return id, nil
		}
		log.Warn("stored identity is unusable, regenerating", "error", err)
	}

	log.Info("generating new server identity", "brand", brand, "hostname", hostname)
	return generate(dataDir, brand, hostname)
}

func fromDER(keyDER, certDER []byte) (*Identity, error) {
	key, err := x509.ParsePKCS8PrivateKey(keyDER)
	if err != nil {
		return nil, fmt.Errorf("identity: parse private key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("identity: stored key is not ECDSA")
	}

	if _, err := x509.ParseCertificate(certDER); err != nil {
		return nil, fmt.Errorf("identity: parse certificate: %w", err)
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  ecKey,
	}

	return &Identity{PrivateKey: ecKey, CertDER: certDER, TLSCert: tlsCert}, nil
}

func generate(dataDir, brand, hostname string) (*Identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("identity: generate serial: %w", err)
	}

	notBefore := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{brand},
			CommonName:   hostname,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.AddDate(certLifetimeYears, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("identity: create certificate: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("identity: marshal private key: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("identity: create data dir: %w", err)
	}
	if err := writeRestricted(filepath.Join(dataDir, privKeyFile), keyDER); err != nil {
		return nil, err
	}
	if err := writeRestricted(filepath.Join(dataDir, certFile), certDER); err != nil {
		return nil, err
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
	}

	return &Identity{PrivateKey: key, CertDER: certDER, TLSCert: tlsCert}, nil
}

func writeRestricted(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("identity: write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// ServerTLSConfig builds the server-side TLS config: the client
// certificate is not verified at the handshake level (any client cert is
// accepted sight unseen — PIN pairing, not CA trust, is what authorizes a client per
// spec §4.4) but a certificate must be presented so the server can derive
// the pairing PIN from it.
func ServerTLSConfig(id *Identity) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{id.TLSCert},
		ClientAuth:   tls.RequireAnyClientCert,
		MinVersion:   tls.VersionTLS12,
		CipherSuites: modernCipherSuites,
	}
}

// ClientTLSConfig builds the client-side TLS config. InsecureSkipVerify is
// required because the server certificate is self-signed and unknown to
// any CA; the client instead pins the server's certificate fingerprint
// after the first successful pairing (internal/client/hostlist), and
// pkg/deskstream.ConnectToHost rejects a server whose certificate no
// longer matches it.
func ClientTLSConfig(id *Identity) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{id.TLSCert},
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
		CipherSuites:       modernCipherSuites,
	}
}

var modernCipherSuites = []uint16{
	tls.TLS_AES_128_GCM_SHA256,
	tls.TLS_AES_256_GCM_SHA384,
	tls.TLS_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
}
