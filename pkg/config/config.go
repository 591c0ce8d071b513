package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
)

// Config is the process-wide configuration. Every component receives the
// section it needs at construction; nothing reads the environment after
// LoadConfig returns.
type Config struct {
	Storage    StorageConfig    `json:"storage"`
	Learning   LearningConfig   `json:"learning"`
	Decay      DecayConfig      `json:"decay"`
	Activation ActivationConfig `json:"activation"`
	Extractor  ExtractorConfig  `json:"extractor"`
}

type StorageConfig struct {
	// DataDir holds the authoritative SQLite database and the vocabulary file.
	DataDir string `json:"data_dir" env:"MINDGRAPH_DATA_DIR"`
	// MirrorEnabled turns on the in-memory read mirror.
	MirrorEnabled bool   `json:"mirror_enabled" env:"MINDGRAPH_MIRROR_ENABLED"`
	VocabPath     string `json:"vocab_path" env:"MINDGRAPH_VOCAB_PATH"`
}

type LearningConfig struct {
	LearningRate      float64 `json:"learning_rate" env:"MINDGRAPH_LEARNING_RATE"`
	InitialWeight     float64 `json:"initial_weight" env:"MINDGRAPH_INITIAL_WEIGHT"`
	MinWeight         float64 `json:"min_weight" env:"MINDGRAPH_MIN_WEIGHT"`
	MaxWeight         float64 `json:"max_weight" env:"MINDGRAPH_MAX_WEIGHT"`
	TargetTotalWeight float64 `json:"target_total_weight" env:"MINDGRAPH_TARGET_TOTAL_WEIGHT"`
	// HomeostaticEvery rescales a node's incident edges whenever its total
	// co-activation count is a multiple of this value.
	HomeostaticEvery int `json:"homeostatic_every" env:"MINDGRAPH_HOMEOSTATIC_EVERY"`
}

type DecayConfig struct {
	Enabled              bool    `json:"enabled" env:"MINDGRAPH_DECAY_ENABLED"`
	EdgeDecayEnabled     bool    `json:"edge_decay_enabled" env:"MINDGRAPH_EDGE_DECAY_ENABLED"`
	SweepIntervalMinutes int     `json:"sweep_interval_minutes" env:"MINDGRAPH_SWEEP_INTERVAL_MINUTES"`
	// SweepCron, when set, replaces the fixed interval with a cron schedule.
	SweepCron         string  `json:"sweep_cron" env:"MINDGRAPH_SWEEP_CRON"`
	BaseRate          float64 `json:"base_rate" env:"MINDGRAPH_DECAY_BASE_RATE"`
	Threshold         float64 `json:"threshold" env:"MINDGRAPH_DECAY_THRESHOLD"`
	ImmortalThreshold float64 `json:"immortal_threshold" env:"MINDGRAPH_IMMORTAL_THRESHOLD"`
	EdgeDecayRate     float64 `json:"edge_decay_rate" env:"MINDGRAPH_EDGE_DECAY_RATE"`
	EdgeMinWeight     float64 `json:"edge_min_weight" env:"MINDGRAPH_EDGE_MIN_WEIGHT"`
	EdgeIdleSeconds   int     `json:"edge_idle_seconds" env:"MINDGRAPH_EDGE_IDLE_SECONDS"`
}

type ActivationConfig struct {
	Threshold float64 `json:"threshold" env:"MINDGRAPH_ACTIVATION_THRESHOLD"`
}

// ExtractorConfig points at an optional external concept-extraction service
// that contributes activation-score boosts. Disabled by default; its absence
// never changes base scores.
type ExtractorConfig struct {
	Enabled        bool   `json:"enabled" env:"MINDGRAPH_EXTRACTOR_ENABLED"`
	Host           string `json:"host" env:"MINDGRAPH_EXTRACTOR_HOST"`
	Port           int    `json:"port" env:"MINDGRAPH_EXTRACTOR_PORT"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"MINDGRAPH_EXTRACTOR_TIMEOUT_SECONDS"`
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:       "~/.mindgraph",
			MirrorEnabled: false,
			VocabPath:     "",
		},
		Learning: LearningConfig{
			LearningRate:      0.1,
			InitialWeight:     0.15,
			MinWeight:         0.1,
			MaxWeight:         10.0,
			TargetTotalWeight: 50.0,
			HomeostaticEvery:  5,
		},
		Decay: DecayConfig{
			Enabled:              true,
			EdgeDecayEnabled:     true,
			SweepIntervalMinutes: 60,
			SweepCron:            "",
			BaseRate:             0.01,
			Threshold:            0.1,
			ImmortalThreshold:    0.9,
			EdgeDecayRate:        0.005,
			EdgeMinWeight:        0.1,
			EdgeIdleSeconds:      3600,
		},
		Activation: ActivationConfig{
			Threshold: 0.3,
		},
		Extractor: ExtractorConfig{
			Enabled:        false,
			Host:           "localhost",
			Port:           9998,
			TimeoutSeconds: 5,
		},
	}
}

// LoadConfig reads the JSON config file at path, then applies environment
// overrides. A missing file is not an error; defaults are used.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filepath.Base(path), err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects out-of-range rates and malformed cron schedules.
func (c *Config) Validate() error {
	if c.Learning.MinWeight <= 0 || c.Learning.MinWeight >= c.Learning.MaxWeight {
		return fmt.Errorf("config: min_weight must be in (0, max_weight)")
	}
	if c.Learning.LearningRate <= 0 || c.Learning.LearningRate >= 1 {
		return fmt.Errorf("config: learning_rate must be in (0, 1)")
	}
	if c.Activation.Threshold < 0 || c.Activation.Threshold > 1 {
		return fmt.Errorf("config: activation threshold must be in [0, 1]")
	}
	if c.Decay.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("config: sweep_interval_minutes must be positive")
	}
	if c.Decay.SweepCron != "" && !gronx.New().IsValid(c.Decay.SweepCron) {
		return fmt.Errorf("config: invalid sweep_cron expression %q", c.Decay.SweepCron)
	}
	return nil
}

// DBPath returns the authoritative database path under the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDirPath(), "mindgraph.db")
}

// DataDirPath returns the data directory with ~ expanded.
func (c *Config) DataDirPath() string {
	return expandHome(c.Storage.DataDir)
}

// VocabFilePath returns the vocabulary path, defaulting to nodes.json in the
// data directory.
func (c *Config) VocabFilePath() string {
	if c.Storage.VocabPath != "" {
		return expandHome(c.Storage.VocabPath)
	}
	return filepath.Join(c.DataDirPath(), "nodes.json")
}

// SweepInterval returns the fixed sweep interval as a duration.
func (c *DecayConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// EdgeIdleWindow returns the idle window after which edges start decaying.
func (c *DecayConfig) EdgeIdleWindow() time.Duration {
	return time.Duration(c.EdgeIdleSeconds) * time.Second
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
