// Package verdict maps component verification results to a confidence level.
//
// The scorer is deliberately dumb: it reads boolean and numeric signals
// produced by the other verifiers and walks an ordered decision table,
// first match wins. Structural failures dominate everything; degraded
// signals (hash-only mode, checkpoint gaps, low depth scores) cap the
// level rather than failing the capture. Every signal that influenced the
// outcome is enumerated as a reason code so a verdict is explainable on
// its own.
package verdict

import "time"

// Level is the confidence assigned to a capture.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
	LevelFailed Level = "failed"
)

// Reason codes carried on a verdict. Structural codes appear only on
// failed verdicts; degradation codes explain why a passing capture did not
// reach a higher level.
const (
	ReasonAttestationFailed   = "ATTESTATION_FAILED"
	ReasonUntrustedRoot       = "UNTRUSTED_ROOT"
	ReasonSignatureMismatch   = "SIGNATURE_MISMATCH"
	ReasonCounterReplayed     = "COUNTER_REPLAYED"
	ReasonCounterOutOfOrder   = "COUNTER_OUT_OF_ORDER"
	ReasonChainBroken         = "CHAIN_BROKEN"
	ReasonCheckpointInvalid   = "CHECKPOINT_INVALID"
	ReasonMediaBindingFailure = "MEDIA_BINDING_FAILURE"
	ReasonSchemaInvalid       = "SCHEMA_INVALID"
	ReasonDepthUnavailable    = "DEPTH_ANALYSIS_UNAVAILABLE"
	ReasonHashOnlyCeiling     = "HASH_ONLY_CEILING"
	ReasonCheckpointGaps      = "CHECKPOINT_GAPS"
	ReasonDepthBelowThreshold = "DEPTH_BELOW_THRESHOLD"
	ReasonAllChecksPassed     = "ALL_CHECKS_PASSED"
)

// Signals are the inputs to the decision table, one per verifier.
type Signals struct {
	AttestationVerified bool `json:"attestation_verified"`
	CounterOK           bool `json:"counter_ok"`
	ChainIntact         bool `json:"chain_intact"`
	CheckpointsOK       bool `json:"checkpoints_ok"`
	MediaBound          bool `json:"media_bound"`

	// HashOnly marks privacy-mode submissions where the server never
	// saw the media bytes.
	HashOnly bool `json:"hash_only"`

	// GapCount is the number of missed checkpoint slots across the
	// declared session window.
	GapCount int `json:"checkpoint_gap_count"`

	// DepthScore is the depth-consistency score in [0, 1]. Meaningful
	// only when DepthAvailable is true; a missing score is fatal, never
	// substituted with a default.
	DepthScore     float64 `json:"depth_score"`
	DepthAvailable bool    `json:"depth_available"`
}

// Policy holds the scoring thresholds. Values come from configuration so
// operators can tune them without a rebuild.
type Policy struct {
	// DepthHigh is the minimum depth score for a high verdict.
	DepthHigh float64

	// DepthMedium is the minimum depth score for a medium verdict in
	// full mode.
	DepthMedium float64

	// DepthHashOnly is the minimum depth score for a hash-only
	// submission to keep its medium ceiling instead of dropping to low.
	DepthHashOnly float64

	// MaxGapsMedium is the largest gap count still eligible for medium
	// in full mode.
	MaxGapsMedium int
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		DepthHigh:     0.7,
		DepthMedium:   0.4,
		DepthHashOnly: 0.5,
		MaxGapsMedium: 2,
	}
}

// Verdict is the final, self-contained output for one capture. It is
// created once and never mutated afterwards; it is the sole artifact
// exported to manifest embedding and verification display.
type Verdict struct {
	CaptureID string    `json:"capture_id"`
	Level     Level     `json:"level"`
	Signals   Signals   `json:"signals"`
	Reasons   []string  `json:"reasons"`
	CreatedAt time.Time `json:"created_at"`
}

// Failed reports whether the capture was rejected outright.
func (v *Verdict) Failed() bool { return v.Level == LevelFailed }

// Score walks the decision table. Structural failures come first, then
// the missing-depth rejection, then the hash-only ceiling, then the
// full-mode ladder. failureReasons carries structural reason codes
// collected by the engine while the component verifiers ran; when the
// engine supplies them they replace the generic codes derived here.
func Score(captureID string, s Signals, p Policy, now time.Time, failureReasons ...string) *Verdict {
	v := &Verdict{
		CaptureID: captureID,
		Signals:   s,
		CreatedAt: now,
	}

	if structuralFailure(s) {
		v.Level = LevelFailed
		v.Reasons = failureReasons
		if len(v.Reasons) == 0 {
			v.Reasons = structuralReasons(s)
		}
		return v
	}

	if !s.DepthAvailable {
		v.Level = LevelFailed
		v.Reasons = append(failureReasons, ReasonDepthUnavailable)
		return v
	}

	if s.HashOnly {
		v.Reasons = append(v.Reasons, ReasonHashOnlyCeiling)
		v.Level = hashOnlyLevel(s, p, v)
		return v
	}

	v.Level = fullLevel(s, p, v)
	if v.Level == LevelHigh {
		v.Reasons = append(v.Reasons, ReasonAllChecksPassed)
	}
	return v
}

func structuralFailure(s Signals) bool {
	return !s.AttestationVerified ||
		!s.CounterOK ||
		!s.ChainIntact ||
		!s.CheckpointsOK ||
		!s.MediaBound
}

func structuralReasons(s Signals) []string {
	var reasons []string
	if !s.AttestationVerified {
		reasons = append(reasons, ReasonAttestationFailed)
	}
	if !s.CounterOK {
		reasons = append(reasons, ReasonCounterReplayed)
	}
	if !s.ChainIntact {
		reasons = append(reasons, ReasonChainBroken)
	}
	if !s.CheckpointsOK {
		reasons = append(reasons, ReasonCheckpointInvalid)
	}
	if !s.MediaBound {
		reasons = append(reasons, ReasonMediaBindingFailure)
	}
	return reasons
}

// hashOnlyLevel caps privacy-mode captures at medium. Any gap, or a depth
// score below the hash-only threshold, drops the capture to low.
func hashOnlyLevel(s Signals, p Policy, v *Verdict) Level {
	level := LevelMedium
	if s.GapCount > 0 {
		v.Reasons = append(v.Reasons, ReasonCheckpointGaps)
		level = LevelLow
	}
	if s.DepthScore < p.DepthHashOnly {
		v.Reasons = append(v.Reasons, ReasonDepthBelowThreshold)
		level = LevelLow
	}
	return level
}

func fullLevel(s Signals, p Policy, v *Verdict) Level {
	if s.GapCount == 0 && s.DepthScore >= p.DepthHigh {
		return LevelHigh
	}

	if s.GapCount > 0 {
		v.Reasons = append(v.Reasons, ReasonCheckpointGaps)
	}
	if s.DepthScore < p.DepthHigh {
		v.Reasons = append(v.Reasons, ReasonDepthBelowThreshold)
	}
	if s.GapCount <= p.MaxGapsMedium && s.DepthScore >= p.DepthMedium {
		return LevelMedium
	}
	return LevelLow
}
