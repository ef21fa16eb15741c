package config

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RyanBlaney/sonido-embed/embedding"
	"github.com/RyanBlaney/sonido-embed/models"
	"github.com/RyanBlaney/sonido-embed/weights"
	"github.com/klauspost/compress/gzip"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	doc := `
logging:
  level: debug
  format: json
model:
  input_repr: linear
  content_type: env
  embedding_size: 512
extraction:
  hop_size: 0.5
  center: false
backend:
  backend: remote
  remote:
    base_url: http://inference:8501
    timeout: 5s
decoder:
  disable_ffmpeg: true
batch:
  workers: 4
  shard_index: 1
  shard_count: 3
weights:
  proxy: dev-proxy.example.com:8080
  modalities: [audio]
`
	path := filepath.Join(t.TempDir(), "openl3.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := embedding.ModelConfig{InputRepr: embedding.InputLinear, ContentType: embedding.ContentEnv, EmbeddingSize: embedding.Size512}
	if cfg.Model != want {
		t.Fatalf("model = %v, want %v", cfg.Model, want)
	}
	if cfg.Extraction.HopSize != 0.5 || cfg.Extraction.Center {
		t.Fatalf("extraction = %+v", cfg.Extraction)
	}
	// untouched keys keep their defaults
	if !cfg.Extraction.Downmix || cfg.Extraction.BatchSize != embedding.DefaultBatchSize {
		t.Fatalf("extraction defaults lost: %+v", cfg.Extraction)
	}
	if cfg.Backend.Backend != models.BackendRemote || cfg.Backend.Remote.Timeout != 5*time.Second {
		t.Fatalf("backend = %+v", cfg.Backend)
	}
	if !cfg.Decoder.DisableFFmpeg || cfg.Decoder.FFmpegPath != "ffmpeg" {
		t.Fatalf("decoder = %+v", cfg.Decoder)
	}
	if cfg.Batch.ShardIndex != 1 || cfg.Batch.ShardCount != 3 {
		t.Fatalf("batch = %+v", cfg.Batch)
	}
	if len(cfg.Weights.Modalities) != 1 || cfg.Weights.Version != "v0_2_0" {
		t.Fatalf("weights = %+v", cfg.Weights)
	}

	opts := cfg.Options()
	named, ok := opts.Source.(embedding.NamedModel)
	if !ok || named.Config != want {
		t.Fatalf("options source = %#v", opts.Source)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "colour: blue\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"bad repr", "model:\n  input_repr: mel64\n"},
		{"bad size", "model:\n  embedding_size: 1024\n"},
		{"zero hop", "extraction:\n  hop_size: 0\n"},
		{"negative verbose", "extraction:\n  verbose: -1\n"},
		{"bad backend", "backend:\n  backend: tflite\n"},
		{"bad shard", "batch:\n  shard_index: 2\n  shard_count: 2\n"},
		{"negative secs", "summary:\n  secs: -1\n"},
		{"bad weights source", "weights:\n  source: ftp\n"},
		{"h5 weights for onnx backend", "weights:\n  ext: h5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Model != embedding.DefaultModelConfig() {
		t.Fatalf("model = %v", cfg.Model)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "warn"

	var buf bytes.Buffer
	logger, err := cfg.NewLogger(&buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if entry["msg"] != "shown" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestModelDirFollowsWeights(t *testing.T) {
	tests := []struct {
		name, doc, want string
	}{
		{"default", "", "pretrained_models"},
		{"weights dir", "weights:\n  model_dir: /srv/openl3\n", "/srv/openl3"},
		{"explicit backend dir", "weights:\n  model_dir: /srv/openl3\n  ext: h5\nbackend:\n  onnx:\n    model_dir: /srv/graphs\n", "/srv/graphs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse(strings.NewReader(tt.doc))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if cfg.Backend.ONNX.ModelDir != tt.want {
				t.Fatalf("onnx model dir = %q, want %q", cfg.Backend.ONNX.ModelDir, tt.want)
			}
		})
	}
}

func TestDownloadedWeightsMatchONNXLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zw := gzip.NewWriter(w)
		zw.Write([]byte("graph"))
		zw.Close()
	}))
	defer srv.Close()

	cfg := Default()
	cfg.SetModelDir(t.TempDir())
	cfg.Weights.BaseURL = srv.URL
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	d, err := weights.NewDownloader(cfg.Weights, nil)
	if err != nil {
		t.Fatalf("NewDownloader: %v", err)
	}
	if _, err := d.Download(context.Background()); err != nil {
		t.Fatalf("Download: %v", err)
	}

	for _, mc := range embedding.AllModelConfigs() {
		path := models.ONNXPath(cfg.Backend.ONNX, mc)
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("%s: graph not found after download: %v", mc.Name(), err)
		}
	}
}
