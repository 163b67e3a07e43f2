// Package evidence implements the exportable evidence bundle.
//
// A bundle is the opaque, serializable record handed to manifest-embedding
// and verification-display collaborators alongside the verdict: the
// validated chain hash sequence, the checkpoint list, the attestation key
// fingerprint, and the verdict itself. It is assembled once from already
// verified inputs and never mutated; consumers re-serialize it into their
// own container formats.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"attestd/internal/attestation"
	"attestd/internal/checkpoint"
	"attestd/internal/hashchain"
	"attestd/internal/verdict"
)

// Bundle is a self-contained verification record for one capture.
type Bundle struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`

	CaptureID string `json:"capture_id"`
	DeviceID  string `json:"device_id"`
	SessionID string `json:"session_id"`

	// KeyFingerprint is the hex SHA-256 of the attestation leaf key.
	KeyFingerprint string `json:"key_fingerprint"`

	// MediaHash is the verified media hash in hex.
	MediaHash string `json:"media_hash"`

	// ChainHashes is the validated chain hash at every index, in order.
	ChainHashes []string `json:"chain_hashes"`

	// GapIndexes lists chain entries that are gap sentinels.
	GapIndexes []uint64 `json:"gap_indexes,omitempty"`

	Checkpoints []CheckpointSummary `json:"checkpoints"`

	Verdict *verdict.Verdict `json:"verdict"`
}

// CheckpointSummary is one validated checkpoint, stripped to what a
// display collaborator needs.
type CheckpointSummary struct {
	Sequence    uint64    `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
	ChainIndex  uint64    `json:"chain_index"`
	ChainHash   string    `json:"chain_hash"`
	Counter     uint64    `json:"counter"`
	Interrupted bool      `json:"interrupted,omitempty"`
	HasTPMQuote bool      `json:"has_tpm_quote,omitempty"`
}

// Build assembles a bundle from verified components. Callers pass the
// inputs exactly as the verifiers validated them.
func Build(captureID, sessionID string, key *attestation.Key, mediaHash [32]byte, entries []hashchain.Entry, cps []checkpoint.Attestation, vd *verdict.Verdict, now time.Time) *Bundle {
	b := &Bundle{
		Version:    1,
		ExportedAt: now,
		CaptureID:  captureID,
		SessionID:  sessionID,
		MediaHash:  hex.EncodeToString(mediaHash[:]),
		Verdict:    vd,
	}
	if key != nil {
		b.DeviceID = key.DeviceID
		b.KeyFingerprint = key.FingerprintHex()
	}

	for _, e := range entries {
		b.ChainHashes = append(b.ChainHashes, hex.EncodeToString(e.ChainHash[:]))
		if e.Gap {
			b.GapIndexes = append(b.GapIndexes, e.Index)
		}
	}

	for _, cp := range cps {
		b.Checkpoints = append(b.Checkpoints, CheckpointSummary{
			Sequence:    cp.Sequence,
			Timestamp:   cp.Timestamp,
			ChainIndex:  cp.ChainIndex,
			ChainHash:   hex.EncodeToString(cp.ChainHash[:]),
			Counter:     cp.Counter,
			Interrupted: cp.Interrupted,
			HasTPMQuote: len(cp.TPMQuote) > 0,
		})
	}

	return b
}

// Encode serializes the bundle to JSON.
func (b *Bundle) Encode() ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// Decode deserializes a bundle from JSON.
func Decode(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Hash returns a digest of the serialized bundle, used by collaborators
// that embed a bundle reference rather than the bundle itself.
func (b *Bundle) Hash() [32]byte {
	data, _ := b.Encode()
	return sha256.Sum256(data)
}
