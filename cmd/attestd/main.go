// attestd - capture verification daemon
//
// attestd watches a spool directory for capture submissions, runs each one
// through the verification engine, and writes the resulting evidence
// bundle (verdict included) to the result directory.
//
//	attestd -config /etc/attestd/config.toml
//
// A submission file is removed from the spool once processed; its bundle
// lands in the result directory as <capture_id>.bundle.json. Submissions
// that cannot be decoded at all produce a .error.json record instead, so
// nothing disappears silently.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"attestd/internal/attestation"
	"attestd/internal/checkpoint"
	"attestd/internal/config"
	"attestd/internal/counter"
	"attestd/internal/depth"
	"attestd/internal/engine"
	"attestd/internal/intake"
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
	configPath := flag.String("config", "", "path to configuration file (TOML, JSON, or YAML)")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("attestd %s (commit: %s, built: %s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "attestd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return err
	}
	log, err := logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		Component: "attestd",
	})
	if err != nil {
		return err
	}
	defer log.Close()
	logging.SetDefault(log)

	trust, err := attestation.LoadTrustStore(cfg.Trust.RootsDir)
	if err != nil {
		return fmt.Errorf("load trust store: %w", err)
	}
	log.Info("trust store loaded", "roots", trust.Len(), "dir", cfg.Trust.RootsDir)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	eng := engine.New(engine.Options{
		Trust:    trust,
		Counters: counter.NewTracker(store),
		Depth:    &depth.FileRelay{Dir: cfg.Depth.RelayDir},
		CheckpointConfig: checkpoint.Config{
			Interval:      cfg.CheckpointInterval(),
			SkewTolerance: cfg.SkewTolerance(),
		},
		DepthTimeout: cfg.DepthTimeout(),
		Policy: verdict.Policy{
			DepthHigh:     cfg.Scoring.DepthHigh,
			DepthMedium:   cfg.Scoring.DepthMedium,
			DepthHashOnly: cfg.Scoring.DepthHashOnly,
			MaxGapsMedium: cfg.Scoring.MaxGapsMedium,
		},
		Logger: log,
	})

	watcher, err := intake.New(cfg.Intake.SpoolDir,
		time.Duration(cfg.Intake.DebounceMs)*time.Millisecond,
		cfg.Intake.MaxFileSize)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Intake.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, eng, watcher, cfg, log)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range watcher.Errors() {
			log.Warn("intake watcher", "err", err)
		}
	}()

	log.Info("attestd running",
		"spool", cfg.Intake.SpoolDir,
		"results", cfg.Intake.ResultDir,
		"workers", cfg.Intake.Workers,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down")
	cancel()
	watcher.Stop()
	wg.Wait()
	return nil
}

func worker(ctx context.Context, eng *engine.Engine, watcher *intake.Watcher, cfg *config.Config, log *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case arrival, ok := <-watcher.Arrivals():
			if !ok {
				return
			}
			process(ctx, eng, arrival, cfg, log)
		}
	}
}

func process(ctx context.Context, eng *engine.Engine, arrival intake.Arrival, cfg *config.Config, log *logging.Logger) {
	data, err := os.ReadFile(arrival.Path)
	if err != nil {
		log.Error("read submission", "path", arrival.Path, "err", err)
		return
	}

	sub, err := submission.Decode(data)
	if err != nil {
		log.Warn("rejected submission", "path", arrival.Path, "err", err)
		writeRejection(arrival, cfg.Intake.ResultDir, err, log)
		os.Remove(arrival.Path)
		return
	}

	result, err := eng.Verify(ctx, sub)
	if err != nil {
		// Infrastructure fault: the submission stays spooled for a retry
		// by the next daemon run.
		log.Error("verification fault", "capture_id", sub.CaptureID, "err", err)
		return
	}

	out := filepath.Join(cfg.Intake.ResultDir, sub.CaptureID+".bundle.json")
	encoded, err := result.Bundle.Encode()
	if err != nil {
		log.Error("encode bundle", "capture_id", sub.CaptureID, "err", err)
		return
	}
	if err := os.WriteFile(out, encoded, 0o644); err != nil {
		log.Error("write bundle", "capture_id", sub.CaptureID, "err", err)
		return
	}
	os.Remove(arrival.Path)
}

func writeRejection(arrival intake.Arrival, resultDir string, cause error, log *logging.Logger) {
	name := filepath.Base(arrival.Path)
	record := map[string]any{
		"file":   name,
		"reason": verdict.ReasonSchemaInvalid,
		"detail": cause.Error(),
	}
	data, _ := json.MarshalIndent(record, "", "  ")
	out := filepath.Join(resultDir, name+".error.json")
	if err := os.WriteFile(out, data, 0o644); err != nil {
		log.Error("write rejection record", "path", out, "err", err)
	}
}

func openStore(cfg *config.Config) (counter.Store, error) {
	switch cfg.Storage.Type {
	case "memory":
		return counter.NewMemoryStore(), nil
	default:
		return counter.OpenSQLite(cfg.Storage.Path)
	}
}
