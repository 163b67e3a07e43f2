// Package engine orchestrates capture verification.
//
// One Verify call runs the full pipeline for a materialized submission:
// attestation chain, counter reservation, hash chain, checkpoints, media
// binding, depth analysis, confidence scoring. The counter reservation is
// the only mutation; it stays provisional until everything else verified,
// so a submission can be abandoned at any earlier point without side
// effects. Verification failures are never errors: they surface as a
// failed verdict with explicit reason codes, and the error return is
// reserved for infrastructure faults (store I/O, malformed wire data)
// where no trustworthy verdict exists at all.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"attestd/internal/attestation"
	"attestd/internal/binding"
	"attestd/internal/checkpoint"
	"attestd/internal/counter"
	"attestd/internal/depth"
	"attestd/internal/evidence"
	"attestd/internal/hashchain"
	"attestd/internal/logging"
	"attestd/internal/submission"
	"attestd/internal/verdict"
)

// Options wires the engine's collaborators.
type Options struct {
	Trust    *attestation.TrustStore
	Counters *counter.Tracker
	Depth    depth.Provider

	CheckpointConfig checkpoint.Config
	DepthTimeout     time.Duration
	Policy           verdict.Policy

	Logger *logging.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine verifies capture submissions. Safe for concurrent use; all
// per-submission state is local and cross-submission ordering is owned by
// the counter tracker.
type Engine struct {
	attest      *attestation.Verifier
	counters    *counter.Tracker
	checkpoints *checkpoint.Validator
	depth       *depth.Client
	policy      verdict.Policy
	log         *logging.Logger
	now         func() time.Time
}

// New builds an engine from options.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		attest:      attestation.NewVerifier(opts.Trust),
		counters:    opts.Counters,
		checkpoints: checkpoint.NewValidator(opts.CheckpointConfig),
		depth:       depth.NewClient(opts.Depth, opts.DepthTimeout),
		policy:      opts.Policy,
		log:         log.WithComponent("engine"),
		now:         now,
	}
}

// Result pairs the verdict with its exportable evidence bundle. The bundle
// is present only when enough of the submission verified to make one
// meaningful; the verdict is always present.
type Result struct {
	Verdict *verdict.Verdict
	Bundle  *evidence.Bundle
}

// Verify runs the full pipeline for one submission. A non-nil Result is
// returned for every verification outcome, failed included; err is non-nil
// only for infrastructure faults, in which case there is no verdict.
func (e *Engine) Verify(ctx context.Context, sub *submission.Submission) (*Result, error) {
	log := e.log.WithSubmission(sub.CaptureID, sub.DeviceID)

	mediaHash, err := sub.MediaHash()
	if err != nil {
		return nil, err
	}
	entries, err := sub.Chain()
	if err != nil {
		return nil, err
	}
	cps, err := sub.CheckpointAttestations()
	if err != nil {
		return nil, err
	}

	hashOnly := sub.Mode == submission.ModeHashOnly
	signals := verdict.Signals{HashOnly: hashOnly}

	var declaredScore float64
	if sub.DeclaredDepthScore != nil {
		declaredScore = *sub.DeclaredDepthScore
	}

	// Attestation: everything downstream uses the key extracted here.
	if sub.DeviceID != sub.Attestation.DeviceID {
		log.Warn("device id does not match attestation evidence")
		return e.failed(sub, nil, mediaHash, entries, cps, signals, verdict.ReasonAttestationFailed), nil
	}

	ev := sub.AttestationEvidence()
	stmt := attestation.Statement{
		DeviceID:   sub.DeviceID,
		SessionID:  sub.SessionID,
		Counter:    ev.Counter,
		MediaHash:  mediaHash,
		DepthScore: declaredScore,
		CreatedAt:  ev.CreatedAt,
	}
	key, err := e.attest.Verify(&ev, stmt)
	if err != nil {
		log.Warn("attestation rejected", "err", err)
		return e.failed(sub, nil, mediaHash, entries, cps, signals, attestationReason(err)), nil
	}
	signals.AttestationVerified = true

	// Counter: the sole mutation, provisional until commit.
	outcome, res, err := e.counters.CheckAndReserve(ctx, sub.DeviceID, ev.Counter)
	if err != nil {
		return nil, fmt.Errorf("counter check: %w", err)
	}
	switch outcome {
	case counter.Replayed:
		log.Warn("counter replayed, possible attack", "counter", ev.Counter)
		return e.failed(sub, key, mediaHash, entries, cps, signals, verdict.ReasonCounterReplayed), nil
	case counter.OutOfOrder:
		log.Warn("counter out of order, possible attack", "counter", ev.Counter)
		return e.failed(sub, key, mediaHash, entries, cps, signals, verdict.ReasonCounterOutOfOrder), nil
	}
	defer res.Rollback()
	signals.CounterOK = true

	// Hash chain.
	chainRes := hashchain.Verify(sub.SessionID, entries)
	if !chainRes.Intact {
		log.Warn("hash chain broken", "index", chainRes.BrokenAt)
		return e.failed(sub, key, mediaHash, entries, cps, signals, verdict.ReasonChainBroken), nil
	}
	signals.ChainIntact = true

	// Checkpoints, floored at the device's last accepted counter or this
	// submission's own attestation counter, whichever is higher.
	floor, _, err := e.counters.LastAccepted(ctx, sub.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("counter floor: %w", err)
	}
	if ev.Counter > floor {
		floor = ev.Counter
	}
	cpRes, err := e.checkpoints.Validate(key, sub.SessionID, sub.Window(), entries, cps, floor)
	if err != nil {
		log.Warn("checkpoint rejected", "err", err)
		return e.failed(sub, key, mediaHash, entries, cps, signals, verdict.ReasonCheckpointInvalid), nil
	}
	signals.CheckpointsOK = true
	signals.GapCount = cpRes.GapCount

	// Checkpoint counters are accepted values too: commit the highest one
	// so no counter in this submission can ever be presented again.
	res.Raise(cpRes.MaxCounter)

	// Media binding.
	var bindErr error
	if hashOnly {
		_, bindErr = binding.VerifyHashOnly(len(sub.Media) > 0, mediaHash)
	} else {
		_, bindErr = binding.VerifyFull(bytes.NewReader(sub.Media), mediaHash)
	}
	if bindErr != nil {
		log.Warn("media binding rejected", "err", bindErr)
		return e.failed(sub, key, mediaHash, entries, cps, signals, verdict.ReasonMediaBindingFailure), nil
	}
	signals.MediaBound = true

	// Depth score, bounded wait. Never substituted with a default.
	score, err := e.depth.Score(ctx, sub.CaptureID)
	if err != nil {
		if errors.Is(err, depth.ErrUnavailable) || errors.Is(err, depth.ErrScoreRange) {
			log.Warn("depth analysis unavailable", "err", err)
			return e.failed(sub, key, mediaHash, entries, cps, signals), nil
		}
		return nil, fmt.Errorf("depth analysis: %w", err)
	}
	if hashOnly && score != declaredScore {
		// The device-signed score and the analyzer's relayed score must
		// agree exactly; a divergence means the signed pair was forged
		// or the relay was tampered with.
		log.Warn("declared depth score does not match analyzer", "declared", declaredScore, "analyzed", score)
		signals.MediaBound = false
		return e.failed(sub, key, mediaHash, entries, cps, signals, verdict.ReasonMediaBindingFailure), nil
	}
	signals.DepthScore = score
	signals.DepthAvailable = true

	vd := verdict.Score(sub.CaptureID, signals, e.policy, e.now())
	if vd.Failed() {
		log.Info("verification failed", "reasons", vd.Reasons)
		return &Result{
			Verdict: vd,
			Bundle:  evidence.Build(sub.CaptureID, sub.SessionID, key, mediaHash, entries, cps, vd, e.now()),
		}, nil
	}

	// Commit: after this point the submission can no longer be cancelled.
	if err := res.Commit(ctx, e.now()); err != nil {
		if errors.Is(err, counter.ErrCommitConflict) {
			log.Warn("counter commit lost to concurrent submission", "counter", res.Counter())
			signals.CounterOK = false
			return e.failed(sub, key, mediaHash, entries, cps, signals, verdict.ReasonCounterOutOfOrder), nil
		}
		return nil, fmt.Errorf("counter commit: %w", err)
	}

	log.Info("verification complete",
		"level", vd.Level,
		"gaps", signals.GapCount,
		"depth_score", score,
		"interrupted", cpRes.Interrupted,
	)

	return &Result{
		Verdict: vd,
		Bundle:  evidence.Build(sub.CaptureID, sub.SessionID, key, mediaHash, entries, cps, vd, e.now()),
	}, nil
}

// failed builds a terminal failed result. Signals keep whatever was
// established before the failing check; unreached checks stay false.
func (e *Engine) failed(
	sub *submission.Submission,
	key *attestation.Key,
	mediaHash [32]byte,
	entries []hashchain.Entry,
	cps []checkpoint.Attestation,
	signals verdict.Signals,
	reasons ...string,
) *Result {
	vd := verdict.Score(sub.CaptureID, signals, e.policy, e.now(), reasons...)
	return &Result{
		Verdict: vd,
		Bundle:  evidence.Build(sub.CaptureID, sub.SessionID, key, mediaHash, entries, cps, vd, e.now()),
	}
}

func attestationReason(err error) string {
	switch {
	case errors.Is(err, attestation.ErrUntrustedRoot):
		return verdict.ReasonUntrustedRoot
	case errors.Is(err, attestation.ErrSignatureMismatch):
		return verdict.ReasonSignatureMismatch
	default:
		return verdict.ReasonAttestationFailed
	}
}
