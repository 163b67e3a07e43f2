// Package hashchain implements the per-frame tamper-evident chain over video
// frames and depth keyframes.
//
// The chain is an append-only ordered sequence addressed by index, and
// verification is a pure fold over that sequence: the chain hash at index i
// is reproducible only from entry i and the chain hash at i-1, so any single
// altered entry invalidates every subsequent chain hash. The first entry
// chains from a session-derived seed rather than a null value, which blocks
// chain-prefix substitution across sessions.
package hashchain

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

// GapSentinel is the fixed frame hash that stands in for a frame explicitly
// dropped on-device (thermal throttling, buffer pressure). A gap entry still
// participates in the chain so dropped frames are cryptographically visible
// rather than silently absent.
var GapSentinel = sha256.Sum256([]byte("attestd-gap-sentinel-v1"))

// Entry is a single link in the chain. FrameHash is recomputed from raw
// bytes in full mode and device-declared in hash-only mode; either way the
// chain hash is always recomputed server-side.
type Entry struct {
	Index     uint64    `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	FrameHash [32]byte  `json:"frame_hash"`
	ChainHash [32]byte  `json:"chain_hash"`
	Gap       bool      `json:"gap,omitempty"`
}

// Result reports chain verification. Intact is true only when every chain
// hash reproduces; otherwise BrokenAt holds the first index that failed.
type Result struct {
	Intact   bool
	BrokenAt uint64
	Length   int
	GapCount int
}

// Seed derives the 32-byte chain seed for a session. HKDF-SHA256 keyed on
// the session id keeps seeds distinct across sessions without any shared
// secret: the seed only needs to be unique and reproducible, not private.
func Seed(sessionID string) [32]byte {
	r := hkdf.New(sha256.New, []byte(sessionID), []byte("attestd-hashchain-v1"), []byte("chain seed"))
	var seed [32]byte
	if _, err := io.ReadFull(r, seed[:]); err != nil {
		// HKDF over SHA-256 cannot fail for a 32-byte read.
		panic(fmt.Sprintf("hashchain: seed derivation: %v", err))
	}
	return seed
}

// Link computes the chain hash for one entry given the previous chain hash
// (or the session seed at index 0).
func Link(prev [32]byte, frameHash [32]byte, index uint64, ts time.Time) [32]byte {
	h := sha256.New()
	h.Write([]byte("attestd-chain-entry-v1"))
	h.Write(prev[:])
	h.Write(frameHash[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], index)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(ts.UnixNano()))
	h.Write(buf[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Build constructs a fully-linked chain from frame hashes. Used by the
// engine's tests and by honest capture simulation; the verifier never trusts
// client-provided chain hashes, it recomputes them with Verify.
func Build(sessionID string, frames []FrameInput) []Entry {
	entries := make([]Entry, len(frames))
	prev := Seed(sessionID)
	for i, f := range frames {
		fh := f.Hash
		if f.Gap {
			fh = GapSentinel
		}
		ch := Link(prev, fh, uint64(i), f.Timestamp)
		entries[i] = Entry{
			Index:     uint64(i),
			Timestamp: f.Timestamp,
			FrameHash: fh,
			ChainHash: ch,
			Gap:       f.Gap,
		}
		prev = ch
	}
	return entries
}

// FrameInput is the raw material for one chain entry.
type FrameInput struct {
	Hash      [32]byte
	Timestamp time.Time
	Gap       bool
}

// Verify recomputes every chain hash from the session seed and compares it
// against the declared sequence. The first mismatch is fatal and reported by
// index; there is no partial-trust treatment of a tampered chain. A single
// entry (photo capture) is the degenerate one-link case of the same fold.
func Verify(sessionID string, entries []Entry) Result {
	res := Result{Intact: true, Length: len(entries)}
	prev := Seed(sessionID)

	for i, e := range entries {
		if e.Index != uint64(i) {
			return Result{BrokenAt: uint64(i), Length: len(entries), GapCount: res.GapCount}
		}

		fh := e.FrameHash
		if e.Gap {
			// A gap entry must carry the sentinel; a gap flag over a real
			// frame hash is a tamper attempt, not a dropped frame.
			if fh != GapSentinel {
				return Result{BrokenAt: uint64(i), Length: len(entries), GapCount: res.GapCount}
			}
			res.GapCount++
		}

		want := Link(prev, fh, e.Index, e.Timestamp)
		if want != e.ChainHash {
			return Result{BrokenAt: uint64(i), Length: len(entries), GapCount: res.GapCount}
		}
		prev = want
	}

	return res
}

// HashAt returns the chain hash at the given index, for checkpoint cross
// checks. The caller must have verified the chain first.
func HashAt(entries []Entry, index uint64) ([32]byte, error) {
	if index >= uint64(len(entries)) {
		return [32]byte{}, fmt.Errorf("hashchain: index %d out of range (len %d)", index, len(entries))
	}
	return entries[index].ChainHash, nil
}
