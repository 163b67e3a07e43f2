// Package config handles configuration loading, validation, and management
// for attestd.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete verifier configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Trust configuration for the attestation root set.
	Trust TrustConfig `toml:"trust" json:"trust" yaml:"trust"`

	// Checkpoint policy.
	Checkpoint CheckpointConfig `toml:"checkpoint" json:"checkpoint" yaml:"checkpoint"`

	// Depth analyzer integration.
	Depth DepthConfig `toml:"depth" json:"depth" yaml:"depth"`

	// Scoring thresholds for the confidence verdict.
	Scoring ScoringConfig `toml:"scoring" json:"scoring" yaml:"scoring"`

	// Storage configuration for the counter store.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Intake configuration for the spool-directory watcher.
	Intake IntakeConfig `toml:"intake" json:"intake" yaml:"intake"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// TrustConfig holds the attestation root set configuration. The root set
// is loaded once at startup and read-only afterwards.
type TrustConfig struct {
	// RootsDir is a directory of PEM certificates accepted as
	// attestation roots.
	RootsDir string `toml:"roots_dir" json:"roots_dir" yaml:"roots_dir"`
}

// CheckpointConfig holds checkpoint validation policy.
type CheckpointConfig struct {
	// IntervalSec is the expected seconds between device checkpoints.
	IntervalSec int `toml:"interval_sec" json:"interval_sec" yaml:"interval_sec"`

	// SkewToleranceSec is the permitted clock slack at session window
	// edges.
	SkewToleranceSec int `toml:"skew_tolerance_sec" json:"skew_tolerance_sec" yaml:"skew_tolerance_sec"`
}

// DepthConfig holds depth analyzer integration settings.
type DepthConfig struct {
	// TimeoutMs bounds the wait for a depth score. A submission whose
	// score does not arrive in time is rejected, never scored without it.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`

	// RelayDir is the directory the analyzer drops score documents in.
	RelayDir string `toml:"relay_dir" json:"relay_dir" yaml:"relay_dir"`
}

// ScoringConfig holds the confidence verdict thresholds.
type ScoringConfig struct {
	// DepthHigh is the minimum depth score for a high verdict.
	DepthHigh float64 `toml:"depth_high" json:"depth_high" yaml:"depth_high"`

	// DepthMedium is the minimum depth score for a medium verdict in
	// full mode.
	DepthMedium float64 `toml:"depth_medium" json:"depth_medium" yaml:"depth_medium"`

	// DepthHashOnly is the minimum depth score for a hash-only
	// submission to keep its medium ceiling.
	DepthHashOnly float64 `toml:"depth_hash_only" json:"depth_hash_only" yaml:"depth_hash_only"`

	// MaxGapsMedium is the largest checkpoint gap count still eligible
	// for a medium verdict in full mode.
	MaxGapsMedium int `toml:"max_gaps_medium" json:"max_gaps_medium" yaml:"max_gaps_medium"`
}

// StorageConfig holds counter store configuration.
type StorageConfig struct {
	// Type is the storage backend type: "sqlite" or "memory".
	Type string `toml:"type" json:"type" yaml:"type"`

	// Path is the path to the database file (for sqlite).
	Path string `toml:"path" json:"path" yaml:"path"`
}

// IntakeConfig holds spool-directory intake configuration.
type IntakeConfig struct {
	// Enabled determines whether the intake watcher runs.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SpoolDir is watched for submission JSON files.
	SpoolDir string `toml:"spool_dir" json:"spool_dir" yaml:"spool_dir"`

	// ResultDir receives evidence bundles for processed submissions.
	ResultDir string `toml:"result_dir" json:"result_dir" yaml:"result_dir"`

	// DebounceMs is how long a file must be stable before processing.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`

	// MaxFileSize is the largest submission file accepted, in bytes.
	MaxFileSize int64 `toml:"max_file_size" json:"max_file_size" yaml:"max_file_size"`

	// Workers is the number of concurrent verification workers.
	Workers int `toml:"workers" json:"workers" yaml:"workers"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output includes "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Trust: TrustConfig{
			RootsDir: filepath.Join(dir, "roots"),
		},
		Checkpoint: CheckpointConfig{
			IntervalSec:      5,
			SkewToleranceSec: 30,
		},
		Depth: DepthConfig{
			TimeoutMs: 3000,
			RelayDir:  filepath.Join(dir, "depth"),
		},
		Scoring: ScoringConfig{
			DepthHigh:     0.7,
			DepthMedium:   0.4,
			DepthHashOnly: 0.5,
			MaxGapsMedium: 2,
		},
		Storage: StorageConfig{
			Type: "sqlite",
			Path: filepath.Join(dir, "counters.db"),
		},
		Intake: IntakeConfig{
			Enabled:     true,
			SpoolDir:    filepath.Join(dir, "spool"),
			ResultDir:   filepath.Join(dir, "results"),
			DebounceMs:  500,
			MaxFileSize: 512 * 1024 * 1024,
			Workers:     4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// DataDir returns the base attestd directory, honoring the
// ATTESTD_DATA_DIR environment override.
func DataDir() string {
	if envDir := os.Getenv("ATTESTD_DATA_DIR"); envDir != "" {
		return envDir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "attestd")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "attestd")
}

// Load reads configuration from the specified path. If the file doesn't
// exist, returns default configuration. Supports TOML, JSON, and YAML
// formats based on file extension.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode config (unknown format): %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides. Variables are
// prefixed with ATTESTD_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("ATTESTD_ROOTS_DIR"); v != "" {
		c.Trust.RootsDir = v
	}
	if v := os.Getenv("ATTESTD_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("ATTESTD_SPOOL_DIR"); v != "" {
		c.Intake.SpoolDir = v
	}
	if v := os.Getenv("ATTESTD_RESULT_DIR"); v != "" {
		c.Intake.ResultDir = v
	}
	if v := os.Getenv("ATTESTD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ATTESTD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
		c.Logging.Output = "file"
	}
	if v := os.Getenv("ATTESTD_DEPTH_RELAY_DIR"); v != "" {
		c.Depth.RelayDir = v
	}
	if v := os.Getenv("ATTESTD_DEPTH_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Depth.TimeoutMs = ms
		}
	}
}

// EnsureDirectories creates all directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.Path),
		c.Intake.SpoolDir,
		c.Intake.ResultDir,
		c.Depth.RelayDir,
	}
	if c.Logging.FilePath != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// CheckpointInterval returns the checkpoint interval as a duration.
func (c *Config) CheckpointInterval() time.Duration {
	return time.Duration(c.Checkpoint.IntervalSec) * time.Second
}

// SkewTolerance returns the clock skew tolerance as a duration.
func (c *Config) SkewTolerance() time.Duration {
	return time.Duration(c.Checkpoint.SkewToleranceSec) * time.Second
}

// DepthTimeout returns the depth analysis wait bound as a duration.
func (c *Config) DepthTimeout() time.Duration {
	return time.Duration(c.Depth.TimeoutMs) * time.Millisecond
}
