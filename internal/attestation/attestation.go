// Package attestation validates hardware attestation evidence from capture
// devices.
//
// A capture device proves its identity with a certificate chain rooted in a
// configured trust store and a signed statement binding its monotonic
// counter, session, declared media hash, and declared depth score. Nothing
// else in the engine runs until this package has produced a validated
// AttestationKey: the leaf key extracted here is the only key used to check
// hash-chain checkpoints and media bindings downstream.
package attestation

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"
)

// Attestation layer errors. All are fatal: a submission whose evidence fails
// any of these checks yields no usable key and is rejected before any other
// component runs.
var (
	ErrChainValidation   = errors.New("attestation: certificate chain validation failed")
	ErrUntrustedRoot     = errors.New("attestation: chain does not terminate at a trusted root")
	ErrSignatureMismatch = errors.New("attestation: statement signature is invalid")
	ErrEmptyChain        = errors.New("attestation: evidence contains no certificates")
	ErrUnsupportedKey    = errors.New("attestation: leaf key type not supported")
)

// Evidence is the device-produced attestation bundle attached to every
// capture submission. Immutable once received; consumed exactly once.
type Evidence struct {
	// DeviceID is the stable device identifier the counter store is keyed by.
	DeviceID string `json:"device_id"`

	// CertificateChain is DER-encoded, ordered leaf first.
	CertificateChain [][]byte `json:"certificate_chain"`

	// Signature over the attestation statement (see StatementDigest).
	Signature []byte `json:"signature"`

	// Counter is the device-declared monotonic counter for this submission.
	Counter uint64 `json:"counter"`

	// CreatedAt is the device wall clock at evidence creation.
	CreatedAt time.Time `json:"created_at"`
}

// Key is the device-bound public key extracted from a validated chain.
// It exists only in 1:1 relation with a successful verification; callers
// never see a Key from a chain that failed any check.
type Key struct {
	DeviceID string
	Public   crypto.PublicKey

	// Fingerprint is the SHA-256 of the PKIX encoding of the public key,
	// exported into the evidence bundle.
	Fingerprint [32]byte
}

// FingerprintHex returns the hex form used in evidence bundles.
func (k *Key) FingerprintHex() string {
	return hex.EncodeToString(k.Fingerprint[:])
}

// Statement carries the fields the device signed. The engine rebuilds the
// digest from values it received (or recomputed) rather than accepting any
// pre-hashed blob from the client.
type Statement struct {
	DeviceID   string
	SessionID  string
	Counter    uint64
	MediaHash  [32]byte
	DepthScore float64
	CreatedAt  time.Time
}

// StatementDigest computes the signed digest for an attestation statement.
func StatementDigest(s Statement) [32]byte {
	h := sha256.New()
	h.Write([]byte("attestd-attestation-v1"))
	h.Write([]byte(s.DeviceID))
	h.Write([]byte{0})
	h.Write([]byte(s.SessionID))
	h.Write([]byte{0})

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], s.Counter)
	h.Write(buf[:])

	h.Write(s.MediaHash[:])

	binary.BigEndian.PutUint64(buf[:], math.Float64bits(s.DepthScore))
	h.Write(buf[:])

	binary.BigEndian.PutUint64(buf[:], uint64(s.CreatedAt.UnixNano()))
	h.Write(buf[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// VerifyDigest checks sig over a 32-byte digest with the given public key.
// Ed25519 and ECDSA P-256 (ASN.1 DER signatures) are the two key classes
// capture hardware produces.
func VerifyDigest(pub crypto.PublicKey, digest [32]byte, sig []byte) bool {
	switch k := pub.(type) {
	case ed25519.PublicKey:
		return len(sig) == ed25519.SignatureSize && ed25519.Verify(k, digest[:], sig)
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(k, digest[:], sig)
	default:
		return false
	}
}

// Verifier validates attestation evidence against a trust store.
type Verifier struct {
	roots *x509.CertPool
	now   func() time.Time
}

// NewVerifier creates a verifier over a trust store loaded at process start.
// An empty trust store is permitted at construction but every verification
// against it fails with ErrUntrustedRoot; roots are never accepted implicitly.
func NewVerifier(store *TrustStore) *Verifier {
	return &Verifier{
		roots: store.Pool(),
		now:   time.Now,
	}
}

// Verify validates the certificate chain and the attestation statement
// signature, returning the bound leaf key. No partial success: any failed
// check returns a nil key and one of the package sentinel errors.
func (v *Verifier) Verify(ev *Evidence, stmt Statement) (*Key, error) {
	key, err := v.verifyChain(ev)
	if err != nil {
		return nil, err
	}

	digest := StatementDigest(stmt)
	if !VerifyDigest(key.Public, digest, ev.Signature) {
		return nil, ErrSignatureMismatch
	}

	return key, nil
}

// verifyChain walks the chain leaf to root against the trust store. Every
// link signature and validity window is checked by crypto/x509; expiry and
// bad link signatures surface as ErrChainValidation, an unknown root as
// ErrUntrustedRoot.
func (v *Verifier) verifyChain(ev *Evidence) (*Key, error) {
	if len(ev.CertificateChain) == 0 {
		return nil, ErrEmptyChain
	}

	leaf, err := x509.ParseCertificate(ev.CertificateChain[0])
	if err != nil {
		return nil, fmt.Errorf("%w: parse leaf: %v", ErrChainValidation, err)
	}

	intermediates := x509.NewCertPool()
	for i := 1; i < len(ev.CertificateChain); i++ {
		cert, err := x509.ParseCertificate(ev.CertificateChain[i])
		if err != nil {
			return nil, fmt.Errorf("%w: parse intermediate %d: %v", ErrChainValidation, i, err)
		}
		intermediates.AddCert(cert)
	}

	opts := x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   v.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}

	chains, err := leaf.Verify(opts)
	if err != nil {
		var unknownAuth x509.UnknownAuthorityError
		if errors.As(err, &unknownAuth) {
			return nil, fmt.Errorf("%w: %v", ErrUntrustedRoot, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrChainValidation, err)
	}
	if len(chains) == 0 {
		return nil, ErrUntrustedRoot
	}

	switch leaf.PublicKey.(type) {
	case ed25519.PublicKey, *ecdsa.PublicKey:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, leaf.PublicKey)
	}

	spki, err := x509.MarshalPKIXPublicKey(leaf.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: encode leaf key: %v", ErrChainValidation, err)
	}

	return &Key{
		DeviceID:    ev.DeviceID,
		Public:      leaf.PublicKey,
		Fingerprint: sha256.Sum256(spki),
	}, nil
}
