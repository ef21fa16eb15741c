package models

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-embed/embedding"
	"github.com/RyanBlaney/sonido-embed/logging"
	"github.com/vmihailenco/msgpack/v5"
)

const msgpackContentType = "application/msgpack"

// RemoteConfig configures an inference server backend
type RemoteConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultRemoteConfig returns the default inference server settings
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		BaseURL: "http://localhost:8501",
		Timeout: 60 * time.Second,
	}
}

type predictRequest struct {
	Model         string      `msgpack:"model"`
	EmbeddingSize int         `msgpack:"embedding_size"`
	Frames        [][]float32 `msgpack:"frames"`
}

type predictResponse struct {
	Embeddings [][]float32 `msgpack:"embeddings"`
	Error      string      `msgpack:"error,omitempty"`
}

// RemoteModel delegates inference to a server speaking msgpack over HTTP.
// Frames are posted to <base>/v1/models/<name>:predict.
type RemoteModel struct {
	cfg      embedding.ModelConfig
	endpoint string
	client   *http.Client
	logger   logging.Logger
}

var _ embedding.Model = (*RemoteModel)(nil)

// RemoteOption configures a RemoteModel
type RemoteOption func(*RemoteModel)

// WithHTTPClient sets the client used for inference requests
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(m *RemoteModel) { m.client = c }
}

// NewRemoteModel creates a client for cfg served at rc.BaseURL
func NewRemoteModel(rc RemoteConfig, cfg embedding.ModelConfig, opts ...RemoteOption) (*RemoteModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(rc.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid inference server url %q", rc.BaseURL)
	}

	m := &RemoteModel{
		cfg:      cfg,
		endpoint: strings.TrimRight(rc.BaseURL, "/") + "/v1/models/" + cfg.Name() + ":predict",
		logger: logging.WithFields(logging.Fields{
			"component": "remote_model",
			"model":     cfg.Name(),
		}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		timeout := rc.Timeout
		if timeout <= 0 {
			timeout = DefaultRemoteConfig().Timeout
		}
		m.client = &http.Client{Timeout: timeout}
	}
	return m, nil
}

// Config implements embedding.Model
func (m *RemoteModel) Config() embedding.ModelConfig { return m.cfg }

// Predict implements embedding.Model
func (m *RemoteModel) Predict(ctx context.Context, frames [][]float64) ([][]float64, error) {
	if len(frames) == 0 {
		return nil, nil
	}

	req := predictRequest{
		Model:         m.cfg.Name(),
		EmbeddingSize: int(m.cfg.EmbeddingSize),
		Frames:        make([][]float32, len(frames)),
	}
	for i, f := range frames {
		row := make([]float32, len(f))
		for j, v := range f {
			row[j] = float32(v)
		}
		req.Frames[i] = row
	}

	body, err := msgpack.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode predict request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", msgpackContentType)
	httpReq.Header.Set("Accept", msgpackContentType)

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("predict request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("predict %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out predictResponse
	if err := msgpack.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode predict response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("inference server: %s", out.Error)
	}
	if len(out.Embeddings) != len(frames) {
		return nil, fmt.Errorf("server returned %d embeddings for %d frames", len(out.Embeddings), len(frames))
	}

	size := int(m.cfg.EmbeddingSize)
	result := make([][]float64, len(out.Embeddings))
	for i, e := range out.Embeddings {
		if len(e) != size {
			return nil, fmt.Errorf("server returned embedding of size %d, want %d", len(e), size)
		}
		row := make([]float64, size)
		for j, v := range e {
			row[j] = float64(v)
		}
		result[i] = row
	}

	m.logger.Debug("Remote prediction complete", logging.Fields{
		"frames":        len(frames),
		"request_bytes": len(body),
	})
	return result, nil
}

// Close implements embedding.Model
func (m *RemoteModel) Close() error {
	m.client.CloseIdleConnections()
	return nil
}
