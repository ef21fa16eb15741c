// Package models provides embedding.Model backends: local ONNX graphs and a
// remote inference server.
package models

import (
	"context"
	"fmt"
	"net/http"

	"github.com/RyanBlaney/sonido-embed/embedding"
)

// Backend selects where inference runs
type Backend string

const (
	BackendONNX   Backend = "onnx"
	BackendRemote Backend = "remote"
)

// Config selects and configures a backend
type Config struct {
	Backend Backend      `json:"backend" yaml:"backend"`
	ONNX    ONNXConfig   `json:"onnx" yaml:"onnx"`
	Remote  RemoteConfig `json:"remote" yaml:"remote"`
}

// DefaultConfig uses local ONNX graphs
func DefaultConfig() Config {
	return Config{
		Backend: BackendONNX,
		ONNX:    DefaultONNXConfig(),
		Remote:  DefaultRemoteConfig(),
	}
}

// Validate checks the backend selection
func (c Config) Validate() error {
	switch c.Backend {
	case BackendONNX:
		if c.ONNX.ModelDir == "" {
			return fmt.Errorf("onnx backend requires a model directory")
		}
	case BackendRemote:
		if c.Remote.BaseURL == "" {
			return fmt.Errorf("remote backend requires a base url")
		}
	default:
		return fmt.Errorf("unknown model backend %q, expected %q or %q", c.Backend, BackendONNX, BackendRemote)
	}
	return nil
}

// Loader builds models for the configured backend
type Loader struct {
	cfg    Config
	client *http.Client
}

var _ embedding.Loader = (*Loader)(nil)

// NewLoader validates cfg and returns a loader. client is only used by the
// remote backend and may be nil.
func NewLoader(cfg Config, client *http.Client) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Loader{cfg: cfg, client: client}, nil
}

// Load implements embedding.Loader
func (l *Loader) Load(ctx context.Context, cfg embedding.ModelConfig) (embedding.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch l.cfg.Backend {
	case BackendRemote:
		var opts []RemoteOption
		if l.client != nil {
			opts = append(opts, WithHTTPClient(l.client))
		}
		m, err := NewRemoteModel(l.cfg.Remote, cfg, opts...)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		m, err := NewONNXModel(l.cfg.ONNX, cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}
