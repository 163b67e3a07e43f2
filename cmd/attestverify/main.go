// Command attestverify verifies a capture submission offline.
//
// It runs the same verification pipeline as the attestd daemon against a
// single submission file, without needing a running daemon. Suitable for:
// - Audit replay of archived submissions
// - Verification pipelines in CI
// - Debugging device integrations
//
// Usage:
//
//	attestverify [flags] <submission.json>
//
// Examples:
//
//	# Verify against a root set, with the analyzer score supplied inline
//	attestverify -roots ./roots -depth-score 0.85 capture.json
//
//	# Replay against the daemon's counter database
//	attestverify -roots ./roots -state counters.db -depth-score 0.85 capture.json
//
//	# JSON output for pipelines
//	attestverify -format json capture.json
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"attestd/internal/attestation"
	"attestd/internal/checkpoint"
	"attestd/internal/counter"
	"attestd/internal/depth"
	"attestd/internal/engine"
	"attestd/internal/logging"
	"attestd/internal/submission"
	"attestd/internal/verdict"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	rootsDir := flag.String("roots", "", "directory of PEM attestation root certificates (required)")
	statePath := flag.String("state", "", "counter database path (default: in-memory, no replay history)")
	depthScore := flag.Float64("depth-score", -1, "analyzer depth score in [0,1]; omit to simulate an unavailable analyzer")
	interval := flag.Duration("interval", 5*time.Second, "expected checkpoint interval")
	skew := flag.Duration("skew", 30*time.Second, "clock skew tolerance at session window edges")
	formatStr := flag.String("format", "text", "output format: text, json")
	output := flag.String("output", "", "output file (default: stdout)")
	quiet := flag.Bool("quiet", false, "quiet mode - only set the exit code")
	exitCode := flag.Bool("exit-code", true, "exit with non-zero code unless the verdict is high or medium")
	versionFlag := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "attestverify - Verify capture submissions offline\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <submission.json>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -roots ./roots -depth-score 0.85 capture.json\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -roots ./roots -state counters.db -format json capture.json\n", os.Args[0])
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("attestverify %s (commit: %s, built: %s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: submission file required\n\n")
		flag.Usage()
		os.Exit(2)
	}
	if *rootsDir == "" {
		fmt.Fprintf(os.Stderr, "Error: -roots is required\n\n")
		flag.Usage()
		os.Exit(2)
	}
	if *formatStr != "text" && *formatStr != "json" {
		fmt.Fprintf(os.Stderr, "Error: unknown format: %s (use text or json)\n", *formatStr)
		os.Exit(2)
	}

	result, err := verify(flag.Arg(0), *rootsDir, *statePath, *depthScore, *interval, *skew)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Verification error: %v\n", err)
		os.Exit(1)
	}

	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	if !*quiet {
		if *formatStr == "json" {
			data, err := result.Bundle.Encode()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error encoding bundle: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintln(w, string(data))
		} else {
			printText(w, result)
		}
	}

	if *exitCode {
		switch result.Verdict.Level {
		case verdict.LevelHigh, verdict.LevelMedium:
		default:
			os.Exit(1)
		}
	}
}

func verify(path, rootsDir, statePath string, depthScore float64, interval, skew time.Duration) (*engine.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read submission: %w", err)
	}
	sub, err := submission.Decode(data)
	if err != nil {
		return nil, err
	}

	trust, err := attestation.LoadTrustStore(rootsDir)
	if err != nil {
		return nil, fmt.Errorf("load trust store: %w", err)
	}

	var store counter.Store = counter.NewMemoryStore()
	if statePath != "" {
		sqlStore, err := counter.OpenSQLite(statePath)
		if err != nil {
			return nil, fmt.Errorf("open counter store: %w", err)
		}
		defer sqlStore.Close()
		store = sqlStore
	}

	var provider depth.Provider
	if depthScore >= 0 {
		provider = depth.StaticProvider{
			Report: depth.Report{Score: depthScore, AnalyzedAt: time.Now()},
		}
	}

	log, err := logging.New(&logging.Config{
		Level:     logging.LevelWarn,
		Output:    "stderr",
		Component: "attestverify",
	})
	if err != nil {
		return nil, err
	}

	eng := engine.New(engine.Options{
		Trust:            trust,
		Counters:         counter.NewTracker(store),
		Depth:            provider,
		CheckpointConfig: checkpoint.Config{Interval: interval, SkewTolerance: skew},
		DepthTimeout:     time.Second,
		Policy:           verdict.DefaultPolicy(),
		Logger:           log,
	})

	return eng.Verify(context.Background(), sub)
}

func printText(w io.Writer, result *engine.Result) {
	vd := result.Verdict
	fmt.Fprintf(w, "Capture:  %s\n", vd.CaptureID)
	fmt.Fprintf(w, "Verdict:  %s\n", vd.Level)
	fmt.Fprintf(w, "Reasons:  %v\n", vd.Reasons)
	fmt.Fprintf(w, "\nSignals:\n")
	fmt.Fprintf(w, "  attestation_verified: %v\n", vd.Signals.AttestationVerified)
	fmt.Fprintf(w, "  counter_ok:           %v\n", vd.Signals.CounterOK)
	fmt.Fprintf(w, "  chain_intact:         %v\n", vd.Signals.ChainIntact)
	fmt.Fprintf(w, "  checkpoints_ok:       %v\n", vd.Signals.CheckpointsOK)
	fmt.Fprintf(w, "  media_bound:          %v\n", vd.Signals.MediaBound)
	fmt.Fprintf(w, "  hash_only:            %v\n", vd.Signals.HashOnly)
	fmt.Fprintf(w, "  checkpoint_gap_count: %d\n", vd.Signals.GapCount)
	if vd.Signals.DepthAvailable {
		fmt.Fprintf(w, "  depth_score:          %.2f\n", vd.Signals.DepthScore)
	} else {
		fmt.Fprintf(w, "  depth_score:          unavailable\n")
	}

	if b := result.Bundle; b != nil {
		fmt.Fprintf(w, "\nEvidence:\n")
		fmt.Fprintf(w, "  device:          %s\n", b.DeviceID)
		fmt.Fprintf(w, "  key fingerprint: %s\n", b.KeyFingerprint)
		fmt.Fprintf(w, "  media hash:      %s\n", b.MediaHash)
		fmt.Fprintf(w, "  chain entries:   %d (%d gaps)\n", len(b.ChainHashes), len(b.GapIndexes))
		fmt.Fprintf(w, "  checkpoints:     %d\n", len(b.Checkpoints))
	}
}
