// Package weights fetches and unpacks pretrained weight files into a local
// model directory.
package weights

import (
	"fmt"
	"time"
)

// Source kinds
const (
	SourceHTTP = "http"
	SourceS3   = "s3"
)

// S3Config addresses a bucket mirroring the compressed weight files
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Prefix       string `json:"prefix" yaml:"prefix"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// Config describes which weight files exist and where to fetch them
type Config struct {
	ModelDir     string        `json:"model_dir" yaml:"model_dir"`
	Source       string        `json:"source" yaml:"source"`
	BaseURL      string        `json:"base_url" yaml:"base_url"`
	Proxy        string        `json:"proxy" yaml:"proxy"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
	Version      string        `json:"version" yaml:"version"`
	Ext          string        `json:"ext" yaml:"ext"`
	Modalities   []string      `json:"modalities" yaml:"modalities"`
	InputReprs   []string      `json:"input_reprs" yaml:"input_reprs"`
	ContentTypes []string      `json:"content_types" yaml:"content_types"`
	S3           S3Config      `json:"s3" yaml:"s3"`
}

// DefaultConfig mirrors the published v0_2_0 release
func DefaultConfig() Config {
	return Config{
		ModelDir:     "pretrained_models",
		Source:       SourceHTTP,
		BaseURL:      "https://github.com/marl/openl3/raw/models/",
		Timeout:      10 * time.Minute,
		Version:      "v0_2_0",
		Ext:          "h5",
		Modalities:   []string{"audio", "image"},
		InputReprs:   []string{"linear", "mel128", "mel256"},
		ContentTypes: []string{"music", "env"},
	}
}

// Validate checks that the config names at least one file and a usable source
func (c Config) Validate() error {
	if c.ModelDir == "" {
		return fmt.Errorf("model directory is required")
	}
	if c.Version == "" || c.Ext == "" {
		return fmt.Errorf("weight version and extension are required")
	}
	if len(c.Modalities) == 0 || len(c.InputReprs) == 0 || len(c.ContentTypes) == 0 {
		return fmt.Errorf("at least one modality, input representation and content type is required")
	}
	switch c.Source {
	case SourceHTTP:
		if c.BaseURL == "" {
			return fmt.Errorf("http source requires a base url")
		}
	case SourceS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3 source requires a bucket")
		}
	default:
		return fmt.Errorf("unknown weight source %q", c.Source)
	}
	return nil
}

// File names one weight file
type File struct {
	Modality    string
	InputRepr   string
	ContentType string
}

// Stem is "openl3_<modality>_<repr>_<content>"
func (f File) Stem() string {
	return fmt.Sprintf("openl3_%s_%s_%s", f.Modality, f.InputRepr, f.ContentType)
}

// Name is the decompressed file name
func (f File) Name(ext string) string {
	return f.Stem() + "." + ext
}

// CompressedName is the published archive name, "<stem>-<version>.<ext>.gz"
func (f File) CompressedName(version, ext string) string {
	return fmt.Sprintf("%s-%s.%s.gz", f.Stem(), version, ext)
}

// Files lists every (modality, repr, content) combination in that order
func (c Config) Files() []File {
	out := make([]File, 0, len(c.Modalities)*len(c.InputReprs)*len(c.ContentTypes))
	for _, m := range c.Modalities {
		for _, r := range c.InputReprs {
			for _, ct := range c.ContentTypes {
				out = append(out, File{Modality: m, InputRepr: r, ContentType: ct})
			}
		}
	}
	return out
}
