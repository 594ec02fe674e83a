package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Epochs != 10 || cfg.BatchSize != 128 || cfg.NoiseFactor != 0.5 {
		t.Errorf("defaults = epochs %d batch %d noise %g", cfg.Epochs, cfg.BatchSize, cfg.NoiseFactor)
	}
	if cfg.ModelFile != "denoising_autoencoder.gob" {
		t.Errorf("model file = %s", cfg.ModelFile)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	path := writeConfig(t, `
# short run
epochs: 3
noise_factor: 0.25
train_limit: 1000
serve_addr: "127.0.0.1:8080"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Epochs != 3 || cfg.NoiseFactor != 0.25 || cfg.TrainLimit != 1000 {
		t.Errorf("loaded %+v", cfg)
	}
	if cfg.BatchSize != 128 || cfg.CacheDir != "datasets" {
		t.Errorf("defaults lost: batch %d cache %s", cfg.BatchSize, cfg.CacheDir)
	}
	if cfg.Pooling != "max" {
		t.Errorf("pooling = %q, want default max", cfg.Pooling)
	}
	if cfg.ServeAddr != "127.0.0.1:8080" {
		t.Errorf("serve_addr = %q", cfg.ServeAddr)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Epochs != 10 {
		t.Errorf("epochs = %d, want default", cfg.Epochs)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "epochz: 3\n"},
		{"bad type", "epochs: many\n"},
		{"invalid value", "batch_size: 0\n"},
		{"negative noise", "noise_factor: -0.1\n"},
		{"unknown pooling", "pooling: min\n"},
		{"nan noise", "noise_factor: .nan\n"},
		{"infinite noise", "noise_factor: .inf\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{NoiseFactor: -1})
	if cfg.NoiseFactor != 0.5 {
		t.Errorf("negative noise override applied: %g", cfg.NoiseFactor)
	}

	nine := uint64(9)
	cfg.ApplyOverrides(Overrides{
		NoiseFactor: 0,
		Epochs:      2,
		BatchSize:   16,
		Seed:        &nine,
		OutputDir:   "out",
		TrainLimit:  500,
	})
	if cfg.NoiseFactor != 0 || cfg.Epochs != 2 || cfg.BatchSize != 16 || cfg.Seed != 9 || cfg.TrainLimit != 500 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if got := cfg.OutputPath("loss.svg"); got != filepath.Join("out", "loss.svg") {
		t.Errorf("OutputPath = %s", got)
	}
}

func TestApplyOverridesSeedZero(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{NoiseFactor: -1})
	if cfg.Seed != 42 {
		t.Errorf("unset seed override changed seed to %d", cfg.Seed)
	}

	zero := uint64(0)
	cfg.ApplyOverrides(Overrides{NoiseFactor: -1, Seed: &zero})
	if cfg.Seed != 0 {
		t.Errorf("seed = %d, want explicit 0", cfg.Seed)
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := Default()
	cfg.LogEvery = 0
	cfg.OutputDir = ""
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.LogEvery != 1 || cfg.OutputDir != "." {
		t.Errorf("got log_every %d output_dir %q", cfg.LogEvery, cfg.OutputDir)
	}
	var nilCfg *Config
	if err := nilCfg.Validate(); err == nil {
		t.Error("expected error for nil config")
	}
}
