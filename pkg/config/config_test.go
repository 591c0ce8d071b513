package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Learning.LearningRate != 0.1 {
		t.Errorf("learning rate: got %v, want 0.1", cfg.Learning.LearningRate)
	}
	if cfg.Learning.InitialWeight != 0.15 {
		t.Errorf("initial weight: got %v, want 0.15", cfg.Learning.InitialWeight)
	}
	if cfg.Activation.Threshold != 0.3 {
		t.Errorf("activation threshold: got %v, want 0.3", cfg.Activation.Threshold)
	}
	if cfg.Decay.ImmortalThreshold != 0.9 {
		t.Errorf("immortal threshold: got %v, want 0.9", cfg.Decay.ImmortalThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Learning.MaxWeight != 10.0 {
		t.Errorf("max weight: got %v, want 10.0", cfg.Learning.MaxWeight)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"learning": {"learning_rate": 0.2}, "storage": {"mirror_enabled": true}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Learning.LearningRate != 0.2 {
		t.Errorf("learning rate: got %v, want 0.2", cfg.Learning.LearningRate)
	}
	if !cfg.Storage.MirrorEnabled {
		t.Error("mirror should be enabled")
	}
	// Untouched sections keep defaults.
	if cfg.Learning.MaxWeight != 10.0 {
		t.Errorf("max weight: got %v, want default 10.0", cfg.Learning.MaxWeight)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("MINDGRAPH_LEARNING_RATE", "0.3")
	t.Setenv("MINDGRAPH_MIRROR_ENABLED", "true")

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"learning": {"learning_rate": 0.2}}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Learning.LearningRate != 0.3 {
		t.Errorf("env should override file: got %v, want 0.3", cfg.Learning.LearningRate)
	}
	if !cfg.Storage.MirrorEnabled {
		t.Error("env should enable mirror")
	}
}

func TestLoadConfigBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero learning rate", func(c *Config) { c.Learning.LearningRate = 0 }},
		{"learning rate one", func(c *Config) { c.Learning.LearningRate = 1 }},
		{"min weight above max", func(c *Config) { c.Learning.MinWeight = 20 }},
		{"negative threshold", func(c *Config) { c.Activation.Threshold = -0.1 }},
		{"threshold above one", func(c *Config) { c.Activation.Threshold = 1.1 }},
		{"zero sweep interval", func(c *Config) { c.Decay.SweepIntervalMinutes = 0 }},
		{"bad cron", func(c *Config) { c.Decay.SweepCron = "not a cron" }},
	}

	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestValidateAcceptsCron(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Decay.SweepCron = "*/30 * * * *"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid cron rejected: %v", err)
	}
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataDir = "/tmp/mg-test"

	if got := cfg.DBPath(); got != "/tmp/mg-test/mindgraph.db" {
		t.Errorf("db path: got %q", got)
	}
	if got := cfg.VocabFilePath(); got != "/tmp/mg-test/nodes.json" {
		t.Errorf("vocab path: got %q", got)
	}

	cfg.Storage.VocabPath = "/etc/vocab.json"
	if got := cfg.VocabFilePath(); got != "/etc/vocab.json" {
		t.Errorf("explicit vocab path: got %q", got)
	}
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Decay.SweepInterval() != 60*time.Minute {
		t.Errorf("sweep interval: got %v", cfg.Decay.SweepInterval())
	}
	if cfg.Decay.EdgeIdleWindow() != time.Hour {
		t.Errorf("edge idle window: got %v", cfg.Decay.EdgeIdleWindow())
	}
}
