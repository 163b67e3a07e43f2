// Package checkpoint validates the periodic signed checkpoints that bind
// hash-chain state to a device's monotonic counter and clock.
//
// Each checkpoint is a signed snapshot of (chain hash, counter, timestamp,
// session id). Checkpoints occur at a configurable interval; a missed
// interval is a continuity gap, recorded and fed to the confidence scorer
// rather than silently ignored. An interruption-flagged checkpoint (app
// backgrounded, thermal shutdown) is a valid session terminator provided it
// passes every other check: it closes the chain instead of invalidating it.
package checkpoint

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"attestd/internal/attestation"
	"attestd/internal/hashchain"
)

// Checkpoint layer errors. ErrCheckpointInvalid is fatal; gaps are not.
var (
	ErrCheckpointInvalid = errors.New("checkpoint: invalid checkpoint attestation")
)

// Attestation is one periodic signed checkpoint in a submission.
type Attestation struct {
	// Sequence is the checkpoint ordinal within the session.
	Sequence uint64 `json:"sequence"`

	// Timestamp is the device wall clock at checkpoint creation.
	Timestamp time.Time `json:"timestamp"`

	// ChainIndex is the hash-chain position the checkpoint covers.
	ChainIndex uint64 `json:"chain_index"`

	// ChainHash is the device's view of the chain hash at ChainIndex. It
	// must equal the hash the server recomputed at that position.
	ChainHash [32]byte `json:"chain_hash"`

	// Counter is the device monotonic counter at checkpoint time.
	Counter uint64 `json:"counter"`

	// Signature over the checkpoint statement, by the attestation key.
	Signature []byte `json:"signature"`

	// Interrupted marks a terminating checkpoint emitted on app background
	// or thermal shutdown.
	Interrupted bool `json:"interrupted,omitempty"`

	// TPMQuote is an optional raw TPMS_ATTEST blob for TPM-class devices,
	// binding the checkpoint statement into a hardware quote.
	TPMQuote []byte `json:"tpm_quote,omitempty"`
}

// StatementDigest computes the signed digest for a checkpoint.
func StatementDigest(cp *Attestation, sessionID string) [32]byte {
	h := sha256.New()
	h.Write([]byte("attestd-checkpoint-v1"))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], cp.Sequence)
	h.Write(buf[:])

	h.Write(cp.ChainHash[:])

	binary.BigEndian.PutUint64(buf[:], cp.Counter)
	h.Write(buf[:])

	binary.BigEndian.PutUint64(buf[:], uint64(cp.Timestamp.UnixNano()))
	h.Write(buf[:])

	h.Write([]byte(sessionID))

	if cp.Interrupted {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Window is the declared recording-session window. Gap counting and the
// clock-skew check run against it.
type Window struct {
	Start time.Time
	End   time.Time
}

// Config holds the checkpoint policy knobs. The interval is a deliberately
// unresolved policy choice (5s default, 3s and 10s in the field), so it is
// configuration, not a constant.
type Config struct {
	// Interval between checkpoints.
	Interval time.Duration

	// SkewTolerance is the allowed wall-clock slack at the window edges.
	SkewTolerance time.Duration
}

// DefaultConfig returns the default checkpoint policy.
func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Second,
		SkewTolerance: 30 * time.Second,
	}
}

// Result reports checkpoint validation. GapCount feeds the confidence
// scorer; Interrupted records that the session was closed early by a
// terminating checkpoint. MaxCounter is the highest validated checkpoint
// counter (zero when the submission carries no checkpoints); the engine
// commits it so the same values cannot be presented again later.
type Result struct {
	Checked     int
	GapCount    int
	Interrupted bool
	MaxCounter  uint64
}

// Validator validates checkpoint sequences against chain state.
type Validator struct {
	cfg Config
}

// NewValidator creates a validator with the given policy.
func NewValidator(cfg Config) *Validator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Validator{cfg: cfg}
}

// Validate checks every checkpoint in sequence order:
//
//  1. signature by the attestation key,
//  2. chain hash equal to the recomputed chain hash at the declared index,
//  3. counters strictly increasing within the submission and strictly above
//     minCounter (the device's last accepted counter, keeping them distinct
//     from everything previously accepted for the device),
//  4. timestamp inside the session window plus skew tolerance.
//
// Any violation is ErrCheckpointInvalid and fatal. Missed intervals are
// returned as GapCount, which degrades confidence but does not fail.
func (v *Validator) Validate(
	key *attestation.Key,
	sessionID string,
	window Window,
	entries []hashchain.Entry,
	cps []Attestation,
	minCounter uint64,
) (Result, error) {
	res := Result{Checked: len(cps)}

	var prev, prevQuoted *Attestation
	for i := range cps {
		cp := &cps[i]

		if prev != nil && prev.Interrupted {
			return res, fmt.Errorf("%w: checkpoint %d follows a terminating checkpoint", ErrCheckpointInvalid, cp.Sequence)
		}

		digest := StatementDigest(cp, sessionID)
		if !attestation.VerifyDigest(key.Public, digest, cp.Signature) {
			return res, fmt.Errorf("%w: checkpoint %d signature", ErrCheckpointInvalid, cp.Sequence)
		}

		chainHash, err := hashchain.HashAt(entries, cp.ChainIndex)
		if err != nil {
			return res, fmt.Errorf("%w: checkpoint %d chain index: %v", ErrCheckpointInvalid, cp.Sequence, err)
		}
		if chainHash != cp.ChainHash {
			return res, fmt.Errorf("%w: checkpoint %d chain hash mismatch at index %d", ErrCheckpointInvalid, cp.Sequence, cp.ChainIndex)
		}

		if cp.Counter <= minCounter {
			return res, fmt.Errorf("%w: checkpoint %d counter %d not above device counter %d", ErrCheckpointInvalid, cp.Sequence, cp.Counter, minCounter)
		}

		if prev != nil {
			if cp.Sequence <= prev.Sequence {
				return res, fmt.Errorf("%w: checkpoint sequence %d not increasing", ErrCheckpointInvalid, cp.Sequence)
			}
			if cp.ChainIndex < prev.ChainIndex {
				return res, fmt.Errorf("%w: checkpoint %d chain index moves backwards", ErrCheckpointInvalid, cp.Sequence)
			}
			if cp.Counter <= prev.Counter {
				return res, fmt.Errorf("%w: checkpoint %d counter %d not above previous %d", ErrCheckpointInvalid, cp.Sequence, cp.Counter, prev.Counter)
			}
		}

		if cp.Timestamp.Before(window.Start.Add(-v.cfg.SkewTolerance)) ||
			cp.Timestamp.After(window.End.Add(v.cfg.SkewTolerance)) {
			return res, fmt.Errorf("%w: checkpoint %d timestamp outside session window", ErrCheckpointInvalid, cp.Sequence)
		}

		if len(cp.TPMQuote) > 0 {
			// Compared against the last quoted checkpoint, not the
			// immediate predecessor: a quote-less checkpoint in between
			// must not reset the clock comparison.
			if err := verifyTPMQuote(cp, digest, prevQuoted); err != nil {
				return res, fmt.Errorf("%w: checkpoint %d tpm quote: %v", ErrCheckpointInvalid, cp.Sequence, err)
			}
			prevQuoted = cp
		}

		if cp.Interrupted {
			res.Interrupted = true
		}
		res.MaxCounter = cp.Counter
		prev = cp
	}

	res.GapCount = v.countGaps(window, cps)
	return res, nil
}

// countGaps counts intervals that elapsed without a checkpoint, over the
// declared session window. The spans between consecutive checkpoints (and
// from session start to the first, and from the last to session end) each
// contribute their missed interval slots. An interruption does not suppress
// trailing gaps: the window is what the device declared it planned to
// record, and intervals it never covered stay visible to the scorer.
func (v *Validator) countGaps(window Window, cps []Attestation) int {
	interval := v.cfg.Interval
	gaps := 0

	mark := window.Start
	for i := range cps {
		gaps += missedSlots(cps[i].Timestamp.Sub(mark), interval)
		mark = cps[i].Timestamp
	}
	gaps += missedSlots(window.End.Sub(mark), interval)

	return gaps
}

// missedSlots converts a span between checkpoints into missed interval
// slots, rounding to the nearest interval so ordinary jitter does not count.
func missedSlots(span, interval time.Duration) int {
	if span <= 0 {
		return 0
	}
	slots := int((span + interval/2) / interval)
	if slots <= 1 {
		return 0
	}
	return slots - 1
}
