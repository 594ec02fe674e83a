package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a denoising run.
type Config struct {
	CacheDir   string `yaml:"cache_dir"`
	BaseURL    string `yaml:"base_url"`
	TrainLimit int    `yaml:"train_limit"`
	TestLimit  int    `yaml:"test_limit"`

	NoiseFactor float64 `yaml:"noise_factor"`
	Epochs      int     `yaml:"epochs"`
	BatchSize   int     `yaml:"batch_size"`
	Seed        uint64  `yaml:"seed"`
	LogEvery    int     `yaml:"log_every"`
	Pooling     string  `yaml:"pooling"` // "max" or "avg"

	OutputDir  string `yaml:"output_dir"`
	ModelFile  string `yaml:"model_file"`
	Checkpoint bool   `yaml:"checkpoint"`
	ExportGGUF bool   `yaml:"export_gguf"`
	GGUFHalf   bool   `yaml:"gguf_f16"`

	Samples     int  `yaml:"samples"`
	ResidualRow bool `yaml:"residual_row"`

	ServeAddr string `yaml:"serve_addr"`
}

// Overrides captures CLI supplied values. Zero values (a negative
// NoiseFactor, a nil Seed) leave the config untouched.
type Overrides struct {
	CacheDir    string
	TrainLimit  int
	TestLimit   int
	NoiseFactor float64
	Epochs      int
	BatchSize   int
	Seed        *uint64 // nil when not given; zero is a valid seed
	OutputDir   string
	ServeAddr   string
}

// Default returns the configuration of the reference experiment.
func Default() *Config {
	return &Config{
		CacheDir:    "datasets",
		BaseURL:     "https://ossci-datasets.s3.amazonaws.com/mnist/",
		NoiseFactor: 0.5,
		Epochs:      10,
		BatchSize:   128,
		Seed:        42,
		LogEvery:    1,
		Pooling:     "max",
		OutputDir:   ".",
		ModelFile:   "denoising_autoencoder.gob",
		Samples:     10,
		ResidualRow: true,
	}
}

// Load reads and validates a Config from YAML. Keys missing from the file
// keep their default values; unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any set override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.CacheDir != "" {
		c.CacheDir = o.CacheDir
	}
	if o.TrainLimit > 0 {
		c.TrainLimit = o.TrainLimit
	}
	if o.TestLimit > 0 {
		c.TestLimit = o.TestLimit
	}
	if o.NoiseFactor >= 0 {
		c.NoiseFactor = o.NoiseFactor
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Seed != nil {
		c.Seed = *o.Seed
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
	if o.ServeAddr != "" {
		c.ServeAddr = o.ServeAddr
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.CacheDir == "" {
		return errors.New("cache_dir must be set")
	}
	if c.NoiseFactor < 0 || math.IsNaN(c.NoiseFactor) || math.IsInf(c.NoiseFactor, 0) {
		return fmt.Errorf("noise_factor must be a finite value >= 0 (got %g)", c.NoiseFactor)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.TrainLimit < 0 || c.TestLimit < 0 {
		return fmt.Errorf("limits must be >= 0 (got train=%d test=%d)", c.TrainLimit, c.TestLimit)
	}
	switch c.Pooling {
	case "":
		c.Pooling = "max"
	case "max", "avg":
	default:
		return fmt.Errorf("pooling must be max or avg (got %q)", c.Pooling)
	}
	if c.Samples <= 0 {
		return fmt.Errorf("samples must be > 0 (got %d)", c.Samples)
	}
	if c.ModelFile == "" {
		return errors.New("model_file must be set")
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 1
	}
	return nil
}

// OutputPath joins name onto the output directory.
func (c *Config) OutputPath(name string) string {
	return filepath.Join(c.OutputDir, name)
}
