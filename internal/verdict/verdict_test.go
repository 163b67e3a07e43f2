package verdict

import (
	"slices"
	"testing"
	"time"
)

var scoreTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func passing() Signals {
	return Signals{
		AttestationVerified: true,
		CounterOK:           true,
		ChainIntact:         true,
		CheckpointsOK:       true,
		MediaBound:          true,
		DepthScore:          0.85,
		DepthAvailable:      true,
	}
}

func TestScoreDecisionTable(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Signals)
		reasons []string
		want    Level
	}{
		{
			name:    "all checks passed",
			mutate:  func(s *Signals) {},
			want:    LevelHigh,
			reasons: []string{ReasonAllChecksPassed},
		},
		{
			name:    "attestation failure dominates",
			mutate:  func(s *Signals) { s.AttestationVerified = false },
			want:    LevelFailed,
			reasons: []string{ReasonAttestationFailed},
		},
		{
			name:    "counter failure",
			mutate:  func(s *Signals) { s.CounterOK = false },
			want:    LevelFailed,
			reasons: []string{ReasonCounterReplayed},
		},
		{
			name:    "broken chain",
			mutate:  func(s *Signals) { s.ChainIntact = false },
			want:    LevelFailed,
			reasons: []string{ReasonChainBroken},
		},
		{
			name:    "checkpoint failure",
			mutate:  func(s *Signals) { s.CheckpointsOK = false },
			want:    LevelFailed,
			reasons: []string{ReasonCheckpointInvalid},
		},
		{
			name:    "media binding failure",
			mutate:  func(s *Signals) { s.MediaBound = false },
			want:    LevelFailed,
			reasons: []string{ReasonMediaBindingFailure},
		},
		{
			name: "structural failure beats perfect depth",
			mutate: func(s *Signals) {
				s.ChainIntact = false
				s.DepthScore = 1.0
			},
			want:    LevelFailed,
			reasons: []string{ReasonChainBroken},
		},
		{
			name:    "missing depth analysis is fatal",
			mutate:  func(s *Signals) { s.DepthAvailable = false },
			want:    LevelFailed,
			reasons: []string{ReasonDepthUnavailable},
		},
		{
			name: "missing depth never defaults even at zero gaps",
			mutate: func(s *Signals) {
				s.DepthAvailable = false
				s.DepthScore = 0
			},
			want:    LevelFailed,
			reasons: []string{ReasonDepthUnavailable},
		},
		{
			name: "gaps within tolerance cap at medium",
			mutate: func(s *Signals) {
				s.GapCount = 2
			},
			want:    LevelMedium,
			reasons: []string{ReasonCheckpointGaps},
		},
		{
			name: "too many gaps drop to low",
			mutate: func(s *Signals) {
				s.GapCount = 3
			},
			want:    LevelLow,
			reasons: []string{ReasonCheckpointGaps},
		},
		{
			name: "depth below high threshold is medium",
			mutate: func(s *Signals) {
				s.DepthScore = 0.6
			},
			want:    LevelMedium,
			reasons: []string{ReasonDepthBelowThreshold},
		},
		{
			name: "depth below medium threshold is low",
			mutate: func(s *Signals) {
				s.DepthScore = 0.3
			},
			want:    LevelLow,
			reasons: []string{ReasonDepthBelowThreshold},
		},
		{
			name: "depth exactly at high threshold",
			mutate: func(s *Signals) {
				s.DepthScore = 0.7
			},
			want:    LevelHigh,
			reasons: []string{ReasonAllChecksPassed},
		},
		{
			name: "hash-only never exceeds medium",
			mutate: func(s *Signals) {
				s.HashOnly = true
				s.DepthScore = 1.0
			},
			want:    LevelMedium,
			reasons: []string{ReasonHashOnlyCeiling},
		},
		{
			name: "hash-only with gaps drops to low",
			mutate: func(s *Signals) {
				s.HashOnly = true
				s.GapCount = 1
			},
			want:    LevelLow,
			reasons: []string{ReasonHashOnlyCeiling, ReasonCheckpointGaps},
		},
		{
			name: "hash-only depth below threshold drops to low",
			mutate: func(s *Signals) {
				s.HashOnly = true
				s.DepthScore = 0.49
			},
			want:    LevelLow,
			reasons: []string{ReasonHashOnlyCeiling, ReasonDepthBelowThreshold},
		},
		{
			name: "hash-only structural failure is failed, not low",
			mutate: func(s *Signals) {
				s.HashOnly = true
				s.MediaBound = false
			},
			want:    LevelFailed,
			reasons: []string{ReasonMediaBindingFailure},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := passing()
			tt.mutate(&s)

			v := Score("cap-1", s, DefaultPolicy(), scoreTime)
			if v.Level != tt.want {
				t.Fatalf("Level = %s, want %s (reasons %v)", v.Level, tt.want, v.Reasons)
			}
			for _, r := range tt.reasons {
				if !slices.Contains(v.Reasons, r) {
					t.Errorf("reasons %v missing %s", v.Reasons, r)
				}
			}
		})
	}
}

func TestScoreEngineSuppliedReasons(t *testing.T) {
	s := passing()
	s.CounterOK = false

	v := Score("cap-2", s, DefaultPolicy(), scoreTime, ReasonCounterOutOfOrder)
	if v.Level != LevelFailed {
		t.Fatalf("Level = %s", v.Level)
	}
	if len(v.Reasons) != 1 || v.Reasons[0] != ReasonCounterOutOfOrder {
		t.Errorf("reasons = %v, want engine-supplied code only", v.Reasons)
	}
}

func TestScoreMultipleStructuralReasons(t *testing.T) {
	s := passing()
	s.ChainIntact = false
	s.CheckpointsOK = false

	v := Score("cap-3", s, DefaultPolicy(), scoreTime)
	if !v.Failed() {
		t.Fatal("expected failed verdict")
	}
	if !slices.Contains(v.Reasons, ReasonChainBroken) || !slices.Contains(v.Reasons, ReasonCheckpointInvalid) {
		t.Errorf("reasons = %v", v.Reasons)
	}
}

func TestVerdictCarriesInputs(t *testing.T) {
	s := passing()
	v := Score("cap-4", s, DefaultPolicy(), scoreTime)
	if v.CaptureID != "cap-4" {
		t.Errorf("CaptureID = %q", v.CaptureID)
	}
	if !v.CreatedAt.Equal(scoreTime) {
		t.Errorf("CreatedAt = %v", v.CreatedAt)
	}
	if v.Signals != s {
		t.Error("signals not carried on verdict")
	}
}
