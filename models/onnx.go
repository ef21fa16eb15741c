package models

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/RyanBlaney/sonido-embed/embedding"
	"github.com/RyanBlaney/sonido-embed/logging"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig configures the local onnxruntime backend
type ONNXConfig struct {
	// ModelDir holds one exported network per input representation and content type
	ModelDir string `json:"model_dir" yaml:"model_dir"`
	// LibraryPath points at libonnxruntime; empty uses the runtime's default lookup
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// InputName is the graph input fed with [batch, 1, 48000] waveforms
	InputName string `json:"input_name" yaml:"input_name"`
	// IntraOpThreads bounds per-session parallelism; 0 lets the runtime decide
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
}

// DefaultONNXConfig returns the default onnx backend settings
func DefaultONNXConfig() ONNXConfig {
	return ONNXConfig{
		ModelDir:  "models",
		InputName: "audio",
	}
}

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// initRuntime loads the shared library once per process
func initRuntime(libraryPath string) error {
	runtimeOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		runtimeErr = ort.InitializeEnvironment()
	})
	return runtimeErr
}

// ONNXExt is the file extension of exported graphs
const ONNXExt = "onnx"

// ONNXFileName returns the exported graph name for cfg. Both embedding sizes
// share one graph with separate outputs.
func ONNXFileName(cfg embedding.ModelConfig) string {
	return fmt.Sprintf("openl3_audio_%s_%s.%s", cfg.InputRepr, cfg.ContentType, ONNXExt)
}

// ONNXPath returns where NewONNXModel looks for cfg's graph
func ONNXPath(c ONNXConfig, cfg embedding.ModelConfig) string {
	return filepath.Join(c.ModelDir, ONNXFileName(cfg))
}

// ONNXOutputName returns the graph output holding embeddings of cfg's size
func ONNXOutputName(cfg embedding.ModelConfig) string {
	return fmt.Sprintf("embedding_%d", cfg.EmbeddingSize)
}

// ONNXModel runs an exported network through onnxruntime
type ONNXModel struct {
	cfg     embedding.ModelConfig
	path    string
	session *ort.DynamicAdvancedSession
	logger  logging.Logger
}

var _ embedding.Model = (*ONNXModel)(nil)

// NewONNXModel opens the graph for cfg from c.ModelDir
func NewONNXModel(c ONNXConfig, cfg embedding.ModelConfig) (*ONNXModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c.InputName == "" {
		c.InputName = DefaultONNXConfig().InputName
	}

	path := ONNXPath(c, cfg)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file for %s: %w", cfg.Name(), err)
	}

	if err := initRuntime(c.LibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()
	if c.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(c.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{c.InputName}, []string{ONNXOutputName(cfg)}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open onnx session %s: %w", path, err)
	}

	logger := logging.WithFields(logging.Fields{
		"component": "onnx_model",
		"model":     cfg.Name(),
	})
	logger.Debug("Opened onnx session", logging.Fields{"path": path})

	return &ONNXModel{cfg: cfg, path: path, session: session, logger: logger}, nil
}

// Config implements embedding.Model
func (m *ONNXModel) Config() embedding.ModelConfig { return m.cfg }

// Predict implements embedding.Model
func (m *ONNXModel) Predict(ctx context.Context, frames [][]float64) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(frames)
	if n == 0 {
		return nil, nil
	}

	data := make([]float32, 0, n*embedding.FrameLen)
	for i, f := range frames {
		if len(f) != embedding.FrameLen {
			return nil, fmt.Errorf("frame %d has %d samples, want %d", i, len(f), embedding.FrameLen)
		}
		for _, v := range f {
			data = append(data, float32(v))
		}
	}

	input, err := ort.NewTensor(ort.NewShape(int64(n), 1, embedding.FrameLen), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	size := int(m.cfg.EmbeddingSize)
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(n), int64(size)))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	if err := m.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("onnx inference failed: %w", err)
	}

	return unflatten(output.GetData(), n, size)
}

// Close implements embedding.Model
func (m *ONNXModel) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

// unflatten splits a row-major [rows, cols] buffer
func unflatten(data []float32, rows, cols int) ([][]float64, error) {
	if len(data) != rows*cols {
		return nil, fmt.Errorf("model produced %d values, want %dx%d", len(data), rows, cols)
	}
	out := make([][]float64, rows)
	for i := range out {
		row := make([]float64, cols)
		for j, v := range data[i*cols : (i+1)*cols] {
			row[j] = float64(v)
		}
		out[i] = row
	}
	return out, nil
}
