// Package binding independently binds media bytes to attestation evidence.
//
// The server never trusts a client-declared hash as the basis for a verdict.
// In full mode the hash of the actually-received bytes must equal the
// declared hash, which in turn is the value covered by the device's
// attestation signature (the statement digest is rebuilt server-side from
// the declared fields, so a signature that verifies is proof the device
// signed exactly these values). In hash-only mode no raw media exists and
// trust transfers entirely through attestation; the confidence scorer
// enforces a ceiling for that mode because no independent recomputation is
// possible.
package binding

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// Binding errors. ErrMediaBinding forces the verdict to failed regardless
// of every other signal.
var (
	ErrMediaBinding    = errors.New("binding: received media does not match declared hash")
	ErrMediaMissing    = errors.New("binding: full-mode submission carries no media bytes")
	ErrMediaUnexpected = errors.New("binding: hash-only submission carries media bytes")
)

// Result reports the binding check.
type Result struct {
	// Bound is true when the media hash is tied to the signed evidence.
	Bound bool

	// ComputedHash is the server-side hash of received bytes (full mode
	// only; zero in hash-only mode).
	ComputedHash [32]byte

	// Recomputed is true when the server independently hashed the bytes.
	Recomputed bool
}

// HashMedia streams the received bytes through SHA-256.
func HashMedia(r io.Reader) ([32]byte, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return [32]byte{}, 0, fmt.Errorf("hash media: %w", err)
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, n, nil
}

// VerifyFull recomputes the hash of the received bytes and requires it to
// equal the declared hash. The caller has already established that the
// declared hash is the one inside the signed attestation statement, so
// equality here closes the loop: signed value == declared value ==
// recomputed value.
func VerifyFull(media io.Reader, declared [32]byte) (Result, error) {
	if media == nil {
		return Result{}, ErrMediaMissing
	}

	computed, _, err := HashMedia(media)
	if err != nil {
		return Result{}, err
	}

	res := Result{ComputedHash: computed, Recomputed: true}
	if computed != declared {
		return res, ErrMediaBinding
	}
	res.Bound = true
	return res, nil
}

// VerifyHashOnly checks the structural constraints of the privacy mode: no
// media bytes may be present, and the declared hash must be non-zero. The
// cryptographic binding is the attestation signature over the declared
// hash, verified upstream; a device that is not genuinely attested cannot
// have produced a matching signature over a forged hash.
func VerifyHashOnly(hasMedia bool, declared [32]byte) (Result, error) {
	if hasMedia {
		return Result{}, ErrMediaUnexpected
	}
	if declared == ([32]byte{}) {
		return Result{}, ErrMediaBinding
	}
	return Result{Bound: true}, nil
}
