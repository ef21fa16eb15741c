// Package config loads the YAML configuration shared by every command.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/RyanBlaney/sonido-embed/batch"
	"github.com/RyanBlaney/sonido-embed/embedding"
	"github.com/RyanBlaney/sonido-embed/logging"
	"github.com/RyanBlaney/sonido-embed/models"
	"github.com/RyanBlaney/sonido-embed/transcode"
	"github.com/RyanBlaney/sonido-embed/weights"
	"gopkg.in/yaml.v3"
)

// Extraction holds per-call embedding parameters
type Extraction struct {
	HopSize   float64 `yaml:"hop_size"`
	Center    bool    `yaml:"center"`
	BatchSize int     `yaml:"batch_size"`
	Verbose   int     `yaml:"verbose"`
	Downmix   bool    `yaml:"downmix"`
}

// Output controls where archives are written
type Output struct {
	Dir    string `yaml:"dir"`
	Suffix string `yaml:"suffix"`
}

// Summary controls the summarize command
type Summary struct {
	Secs float64 `yaml:"secs"`
	Out  string  `yaml:"out"`
}

// Logging selects level and format
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Config is the root document
type Config struct {
	Logging    Logging                 `yaml:"logging"`
	Model      embedding.ModelConfig   `yaml:"model"`
	Extraction Extraction              `yaml:"extraction"`
	Output     Output                  `yaml:"output"`
	Summary    Summary                 `yaml:"summary"`
	Backend    models.Config           `yaml:"backend"`
	Decoder    transcode.DecoderConfig `yaml:"decoder"`
	Batch      batch.Config            `yaml:"batch"`
	Weights    weights.Config          `yaml:"weights"`
}

// Default returns a complete configuration. Downloaded weights and the onnx
// backend share one model directory, and weights are fetched as onnx graphs
// of the audio networks.
func Default() *Config {
	opts := embedding.DefaultOptions()
	cfg := &Config{
		Logging: Logging{Level: "info", Format: "text"},
		Model:   embedding.DefaultModelConfig(),
		Extraction: Extraction{
			HopSize:   opts.HopSize,
			Center:    opts.Center,
			BatchSize: opts.BatchSize,
			Verbose:   opts.Verbose,
			Downmix:   opts.Downmix,
		},
		Summary: Summary{Secs: 5},
		Backend: models.DefaultConfig(),
		Decoder: *transcode.DefaultDecoderConfig(),
		Batch:   batch.DefaultConfig(),
		Weights: weights.DefaultConfig(),
	}
	cfg.Weights.Ext = models.ONNXExt
	cfg.Weights.Modalities = []string{"audio"}
	cfg.Backend.ONNX.ModelDir = cfg.Weights.ModelDir
	return cfg
}

// SetModelDir points both the weight downloader and the onnx backend at dir
func (c *Config) SetModelDir(dir string) {
	c.Weights.ModelDir = dir
	c.Backend.ONNX.ModelDir = dir
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a YAML document over the defaults
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	// an unset backend model dir follows weights.model_dir
	cfg.Backend.ONNX.ModelDir = ""
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Backend.ONNX.ModelDir == "" {
		cfg.Backend.ONNX.ModelDir = cfg.Weights.ModelDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("log format must be text or json, got %q", c.Logging.Format)
	}
	if err := c.Options().Validate(); err != nil {
		return err
	}
	if c.Summary.Secs < 0 {
		return fmt.Errorf("summary secs must be non-negative, got %v", c.Summary.Secs)
	}
	if c.Decoder.Timeout < 0 {
		return fmt.Errorf("decoder timeout must be non-negative, got %v", c.Decoder.Timeout)
	}
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if err := c.Batch.Validate(); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("weights: %w", err)
	}
	if c.Backend.Backend == models.BackendONNX &&
		filepath.Clean(c.Backend.ONNX.ModelDir) == filepath.Clean(c.Weights.ModelDir) &&
		c.Weights.Ext != models.ONNXExt {
		return fmt.Errorf("weights: ext %q cannot be loaded by the onnx backend from %s; use ext %q or a separate backend.onnx.model_dir",
			c.Weights.Ext, c.Weights.ModelDir, models.ONNXExt)
	}
	return nil
}

// Options builds extraction options for the configured named model
func (c *Config) Options() embedding.Options {
	return embedding.Options{
		Source:    embedding.NamedModel{Config: c.Model},
		HopSize:   c.Extraction.HopSize,
		Center:    c.Extraction.Center,
		Verbose:   c.Extraction.Verbose,
		BatchSize: c.Extraction.BatchSize,
		Downmix:   c.Extraction.Downmix,
	}
}

// NewLogger builds the logger described by the logging section
func (c *Config) NewLogger(w io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}

	var l *logging.DefaultLogger
	if c.Logging.Format == "json" {
		l = logging.NewJSONLogger(w)
	} else {
		l = logging.NewDefaultLogger()
		l.SetOutput(w)
	}
	l.SetLevel(level)
	return l, nil
}
