package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RyanBlaney/sonido-embed/algorithms/common"
	"github.com/RyanBlaney/sonido-embed/algorithms/framing"
	"github.com/RyanBlaney/sonido-embed/logging"
	"github.com/RyanBlaney/sonido-embed/transcode"
	"gonum.org/v1/gonum/mat"
)

// Result holds the per-frame embeddings of one waveform
type Result struct {
	// Embedding has one row per frame and EmbeddingSize columns
	Embedding *mat.Dense
	// Timestamps holds the start time of each frame in seconds
	Timestamps []float64
	Warnings   []Warning
}

// Frames returns the number of embedding rows
func (r *Result) Frames() int {
	if r == nil || r.Embedding == nil {
		return 0
	}
	rows, _ := r.Embedding.Dims()
	return rows
}

// Extractor runs waveforms through embedding models. Named models are loaded
// once per configuration and reused; it is safe for concurrent use.
type Extractor struct {
	loader  Loader
	decoder *transcode.Decoder
	logger  logging.Logger

	mu     sync.Mutex
	models map[ModelConfig]Model
}

// ExtractorOption customises an Extractor
type ExtractorOption func(*Extractor)

// WithDecoder sets the decoder used by ProcessFile
func WithDecoder(d *transcode.Decoder) ExtractorOption {
	return func(e *Extractor) { e.decoder = d }
}

// WithLogger replaces the component logger
func WithLogger(l logging.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor creates an extractor. loader may be nil when every call
// passes an ExplicitModel.
func NewExtractor(loader Loader, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		loader: loader,
		logger: logging.WithFields(logging.Fields{
			"component": "embedding_extractor",
		}),
		models: make(map[ModelConfig]Model),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.decoder == nil {
		e.decoder = transcode.NewDecoder(nil)
	}
	return e
}

// Model returns the cached model for cfg, loading it on first use
func (e *Extractor) Model(ctx context.Context, cfg ModelConfig) (Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if m, ok := e.models[cfg]; ok {
		return m, nil
	}
	if e.loader == nil {
		return nil, paramErrorf("model", "no loader configured for named model %s", cfg)
	}

	e.logger.Info("Loading embedding model", logging.Fields{"model": cfg.Name()})
	m, err := e.loader.Load(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", cfg.Name(), err)
	}
	if got := m.Config(); got != cfg {
		err := fmt.Errorf("loader returned model %s for %s", got, cfg)
		if cerr := m.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close model %s: %w", got, cerr))
		}
		return nil, err
	}
	e.models[cfg] = m
	return m, nil
}

func (e *Extractor) resolve(ctx context.Context, src ModelSource) (Model, error) {
	switch s := src.(type) {
	case ExplicitModel:
		return s.Model, nil
	case *ExplicitModel:
		return s.Model, nil
	case NamedModel:
		return e.Model(ctx, s.Config)
	case *NamedModel:
		return e.Model(ctx, s.Config)
	}
	return nil, paramErrorf("model", "unsupported model source %T", src)
}

// GetEmbedding computes one embedding per frame of audio. Multi-channel
// input is averaged to mono and everything is resampled to TargetSampleRate
// before framing. The returned matrix has Frames rows and EmbeddingSize
// columns, aligned with Timestamps.
func (e *Extractor) GetEmbedding(ctx context.Context, audio *transcode.AudioData, opts Options) (*Result, error) {
	if audio == nil || len(audio.PCM) == 0 {
		return nil, ErrEmptyInput
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := opts.validateAudio(audio); err != nil {
		return nil, err
	}

	model, err := e.resolve(ctx, opts.Source)
	if err != nil {
		return nil, err
	}
	cfg := model.Config()

	logger := e.logger.WithContext(ctx).WithFields(logging.Fields{
		"model":       cfg.Name(),
		"source":      audio.Source,
		"sample_rate": audio.SampleRate,
		"channels":    audio.Channels,
	})

	samples := audio.Downmix()
	if audio.SampleRate != TargetSampleRate {
		samples, err = transcode.Resample(samples, audio.SampleRate, TargetSampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to resample to %d Hz: %w", TargetSampleRate, err)
		}
	}
	if len(samples) == 0 {
		return nil, ErrEmptyInput
	}

	logger.Debug("Prepared waveform", logging.Fields{
		"samples":   len(samples),
		"rms":       common.RMS(samples),
		"dc_offset": common.Mean(samples),
	})

	var warnings []Warning
	if len(samples) < FrameLen {
		w := Warning{
			Kind: WarnShortAudio,
			Message: fmt.Sprintf("duration %.3fs is shorter than one %ds frame; output holds a single zero-padded frame",
				float64(len(samples))/TargetSampleRate, FrameLen/TargetSampleRate),
		}
		logger.Warn(w.Message, logging.Fields{"warning": w.Kind})
		warnings = append(warnings, w)
	}
	if common.IsSilent(samples) {
		w := Warning{Kind: WarnSilentAudio, Message: "audio is completely silent"}
		logger.Warn(w.Message, logging.Fields{"warning": w.Kind})
		warnings = append(warnings, w)
	}

	hopLen := opts.hopLength()
	if opts.Center {
		samples = framing.Center(samples, FrameLen)
	}
	samples = framing.Pad(samples, FrameLen, hopLen)

	frames, err := framing.Window(samples, FrameLen, hopLen, TargetSampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to frame audio: %w", err)
	}

	size := int(cfg.EmbeddingSize)
	n := frames.Len()
	data := make([]float64, 0, n*size)

	batchSize := opts.batchSize()
	progress := logger.Debug
	if opts.Verbose > 0 {
		progress = logger.Info
	}

	for start, batch := range frames.Batches(batchSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := model.Predict(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("model prediction failed at frame %d: %w", start, err)
		}
		if len(out) != len(batch) {
			return nil, fmt.Errorf("model returned %d embeddings for %d frames", len(out), len(batch))
		}
		for i, row := range out {
			if len(row) != size {
				return nil, fmt.Errorf("model returned embedding of size %d at frame %d, want %d", len(row), start+i, size)
			}
			data = append(data, row...)
		}

		progress("Embedded batch", logging.Fields{
			"frames_done":  start + len(batch),
			"frames_total": n,
		})
	}

	return &Result{
		Embedding:  mat.NewDense(n, size, data),
		Timestamps: frames.Timestamps(),
		Warnings:   warnings,
	}, nil
}

// Close releases every model loaded by the extractor. Explicit models stay
// owned by the caller.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for cfg, m := range e.models {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close model %s: %w", cfg.Name(), err)
		}
		delete(e.models, cfg)
	}
	return firstErr
}
