package attestation

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Trust store errors.
var (
	ErrNoRoots = errors.New("attestation: trust store contains no root certificates")
)

// TrustStore holds the attestation root certificates. It is loaded once at
// process start and read-only afterwards; there is no trust-on-first-use
// path and no implicit system roots.
type TrustStore struct {
	pool  *x509.CertPool
	roots []*x509.Certificate
}

// LoadTrustStore reads every PEM file (*.pem, *.crt) in dir and builds the
// trusted-root set. Files that do not parse are an error, not a skip: a
// partially loaded trust store is worse than a startup failure.
func LoadTrustStore(dir string) (*TrustStore, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read trust store dir: %w", err)
	}

	ts := &TrustStore{pool: x509.NewCertPool()}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".pem") && !strings.HasSuffix(name, ".crt") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read root %s: %w", name, err)
		}
		if err := ts.addPEM(data); err != nil {
			return nil, fmt.Errorf("parse root %s: %w", name, err)
		}
	}

	if len(ts.roots) == 0 {
		return nil, ErrNoRoots
	}
	return ts, nil
}

// NewTrustStore builds a trust store from already-parsed certificates.
// Used by tests and by callers that manage root distribution themselves.
func NewTrustStore(roots ...*x509.Certificate) *TrustStore {
	ts := &TrustStore{pool: x509.NewCertPool()}
	for _, cert := range roots {
		ts.pool.AddCert(cert)
		ts.roots = append(ts.roots, cert)
	}
	return ts
}

// addPEM parses every CERTIFICATE block in data into the store.
func (ts *TrustStore) addPEM(data []byte) error {
	found := false
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return err
		}
		ts.pool.AddCert(cert)
		ts.roots = append(ts.roots, cert)
		found = true
	}
	if !found {
		return errors.New("no certificate blocks")
	}
	return nil
}

// Pool returns the underlying cert pool for x509 verification.
func (ts *TrustStore) Pool() *x509.CertPool {
	return ts.pool
}

// Len returns the number of loaded roots.
func (ts *TrustStore) Len() int {
	return len(ts.roots)
}
