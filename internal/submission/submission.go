// Package submission defines the capture submission wire format.
//
// A submission arrives fully materialized as a single JSON document: the
// attestation evidence, the complete hash-chain entry sequence, every
// checkpoint, and (in full mode) the raw media bytes. Decoding is two
// phase: the document is validated against an embedded JSON Schema first,
// then unmarshalled and converted into the internal verifier types with
// hex and base64 fields decoded into fixed-size arrays.
package submission

import (
	"bytes"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"attestd/internal/attestation"
	"attestd/internal/checkpoint"
	"attestd/internal/hashchain"
)

//go:embed schema/capture-submission-v1.schema.json
var schemaJSON []byte

const schemaID = "capture-submission-v1.schema.json"

var captureSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaID, bytes.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("submission: add schema resource: %v", err))
	}
	schema, err := compiler.Compile(schemaID)
	if err != nil {
		panic(fmt.Sprintf("submission: compile schema: %v", err))
	}
	return schema
}

// Decode errors.
var (
	ErrSchema   = errors.New("submission: schema validation failed")
	ErrEncoding = errors.New("submission: malformed field encoding")
)

// Mode selects how much the server can independently verify.
type Mode string

const (
	// ModeFull submissions carry the raw media bytes.
	ModeFull Mode = "full"

	// ModeHashOnly submissions carry only the device-signed hash. The
	// confidence scorer enforces a ceiling for this mode.
	ModeHashOnly Mode = "hash_only"
)

// Metadata carries the submitter's granularity choices. The flags only
// gate what the evidence bundle republishes, never what is verified.
type Metadata struct {
	IncludeLocation    bool `json:"include_location,omitempty"`
	IncludeDeviceModel bool `json:"include_device_model,omitempty"`
	CoarseTimestamps   bool `json:"coarse_timestamps,omitempty"`
}

// Attestation is the wire form of the device attestation evidence.
type Attestation struct {
	DeviceID         string    `json:"device_id"`
	CertificateChain [][]byte  `json:"certificate_chain"`
	Signature        []byte    `json:"signature"`
	Counter          uint64    `json:"counter"`
	CreatedAt        time.Time `json:"created_at"`
}

// ChainEntry is the wire form of one hash-chain link.
type ChainEntry struct {
	Index     uint64    `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	FrameHash string    `json:"frame_hash"`
	ChainHash string    `json:"chain_hash"`
	Gap       bool      `json:"gap,omitempty"`
}

// Checkpoint is the wire form of one checkpoint attestation.
type Checkpoint struct {
	Sequence    uint64    `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
	ChainIndex  uint64    `json:"chain_index"`
	ChainHash   string    `json:"chain_hash"`
	Counter     uint64    `json:"counter"`
	Signature   []byte    `json:"signature"`
	Interrupted bool      `json:"interrupted,omitempty"`
	TPMQuote    []byte    `json:"tpm_quote,omitempty"`
}

// Submission is a fully materialized capture submission.
type Submission struct {
	CaptureID string `json:"capture_id"`
	Mode      Mode   `json:"mode"`
	DeviceID  string `json:"device_id"`
	SessionID string `json:"session_id"`

	SessionStart time.Time `json:"session_start"`
	SessionEnd   time.Time `json:"session_end"`

	DeclaredMediaHash string `json:"declared_media_hash"`

	// Media is present in full mode only. encoding/json transports it
	// as base64.
	Media []byte `json:"media,omitempty"`

	// DeclaredDepthScore is the device-relayed analyzer score, required
	// in hash-only mode where it is covered by the attestation
	// signature.
	DeclaredDepthScore *float64 `json:"declared_depth_score,omitempty"`

	Metadata Metadata `json:"metadata,omitempty"`

	Attestation  Attestation  `json:"attestation"`
	ChainEntries []ChainEntry `json:"chain_entries"`
	Checkpoints  []Checkpoint `json:"checkpoints"`
}

// Decode validates raw JSON against the embedded schema and unmarshals it.
func Decode(data []byte) (*Submission, error) {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if err := captureSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	var sub Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return &sub, nil
}

// Encode serializes a submission. Used by the offline verifier and tests.
func (s *Submission) Encode() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// MediaHash decodes the declared media hash.
func (s *Submission) MediaHash() ([32]byte, error) {
	return decodeHash(s.DeclaredMediaHash, "declared_media_hash")
}

// Window returns the declared recording-session window.
func (s *Submission) Window() checkpoint.Window {
	return checkpoint.Window{Start: s.SessionStart, End: s.SessionEnd}
}

// AttestationEvidence converts the wire attestation into the verifier type.
func (s *Submission) AttestationEvidence() attestation.Evidence {
	return attestation.Evidence{
		DeviceID:         s.Attestation.DeviceID,
		CertificateChain: s.Attestation.CertificateChain,
		Signature:        s.Attestation.Signature,
		Counter:          s.Attestation.Counter,
		CreatedAt:        s.Attestation.CreatedAt,
	}
}

// Chain converts the wire entries into hash-chain entries.
func (s *Submission) Chain() ([]hashchain.Entry, error) {
	entries := make([]hashchain.Entry, 0, len(s.ChainEntries))
	for i, e := range s.ChainEntries {
		frame, err := decodeHash(e.FrameHash, fmt.Sprintf("chain_entries[%d].frame_hash", i))
		if err != nil {
			return nil, err
		}
		chain, err := decodeHash(e.ChainHash, fmt.Sprintf("chain_entries[%d].chain_hash", i))
		if err != nil {
			return nil, err
		}
		entries = append(entries, hashchain.Entry{
			Index:     e.Index,
			Timestamp: e.Timestamp,
			FrameHash: frame,
			ChainHash: chain,
			Gap:       e.Gap,
		})
	}
	return entries, nil
}

// CheckpointAttestations converts the wire checkpoints into the validator
// type.
func (s *Submission) CheckpointAttestations() ([]checkpoint.Attestation, error) {
	cps := make([]checkpoint.Attestation, 0, len(s.Checkpoints))
	for i, c := range s.Checkpoints {
		hash, err := decodeHash(c.ChainHash, fmt.Sprintf("checkpoints[%d].chain_hash", i))
		if err != nil {
			return nil, err
		}
		cps = append(cps, checkpoint.Attestation{
			Sequence:    c.Sequence,
			Timestamp:   c.Timestamp,
			ChainIndex:  c.ChainIndex,
			ChainHash:   hash,
			Counter:     c.Counter,
			Signature:   c.Signature,
			Interrupted: c.Interrupted,
			TPMQuote:    c.TPMQuote,
		})
	}
	return cps, nil
}

func decodeHash(s, field string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrEncoding, field, err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("%w: %s: got %d bytes, want %d", ErrEncoding, field, len(raw), len(out))
	}
	copy(out[:], raw)
	return out, nil
}

// EncodeHash renders a hash in the wire encoding.
func EncodeHash(h [32]byte) string {
	return hex.EncodeToString(h[:])
}
