package embedding

import (
	"fmt"
	"slices"
	"strconv"
)

const (
	// TargetSampleRate is the rate every model consumes
	TargetSampleRate = 48000
	// FrameLen is one second of audio at TargetSampleRate
	FrameLen = TargetSampleRate
)

// InputRepr is the spectrogram front end baked into a model
type InputRepr string

const (
	InputLinear InputRepr = "linear"
	InputMel128 InputRepr = "mel128"
	InputMel256 InputRepr = "mel256"
)

// ContentType is the domain a model was trained on
type ContentType string

const (
	ContentMusic ContentType = "music"
	ContentEnv   ContentType = "env"
)

// EmbeddingSize is the dimensionality of a model's output
type EmbeddingSize int

const (
	Size512  EmbeddingSize = 512
	Size6144 EmbeddingSize = 6144
)

var (
	inputReprs     = []InputRepr{InputLinear, InputMel128, InputMel256}
	contentTypes   = []ContentType{ContentMusic, ContentEnv}
	embeddingSizes = []EmbeddingSize{Size512, Size6144}
)

// ModelConfig names one pretrained network
type ModelConfig struct {
	InputRepr     InputRepr     `json:"input_repr" yaml:"input_repr"`
	ContentType   ContentType   `json:"content_type" yaml:"content_type"`
	EmbeddingSize EmbeddingSize `json:"embedding_size" yaml:"embedding_size"`
}

// DefaultModelConfig returns the mel256/music/6144 model
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		InputRepr:     InputMel256,
		ContentType:   ContentMusic,
		EmbeddingSize: Size6144,
	}
}

// AllModelConfigs lists the twelve valid combinations
func AllModelConfigs() []ModelConfig {
	out := make([]ModelConfig, 0, len(inputReprs)*len(contentTypes)*len(embeddingSizes))
	for _, r := range inputReprs {
		for _, c := range contentTypes {
			for _, s := range embeddingSizes {
				out = append(out, ModelConfig{InputRepr: r, ContentType: c, EmbeddingSize: s})
			}
		}
	}
	return out
}

// Validate checks the combination against the known models
func (c ModelConfig) Validate() error {
	if !validInputRepr(c.InputRepr) {
		return paramErrorf("input_repr", "invalid input representation %q, expected one of %v", c.InputRepr, inputReprs)
	}
	if !validContentType(c.ContentType) {
		return paramErrorf("content_type", "invalid content type %q, expected one of %v", c.ContentType, contentTypes)
	}
	if !validEmbeddingSize(c.EmbeddingSize) {
		return paramErrorf("embedding_size", "invalid embedding size %d, expected one of %v", c.EmbeddingSize, embeddingSizes)
	}
	return nil
}

// String renders the config as "mel256/music/6144"
func (c ModelConfig) String() string {
	return fmt.Sprintf("%s/%s/%d", c.InputRepr, c.ContentType, c.EmbeddingSize)
}

// Name is the serving name, e.g. "openl3_audio_mel256_music_6144"
func (c ModelConfig) Name() string {
	return fmt.Sprintf("openl3_audio_%s_%s_%d", c.InputRepr, c.ContentType, c.EmbeddingSize)
}

// ParseEmbeddingSize converts a flag or config string into an EmbeddingSize
func ParseEmbeddingSize(s string) (EmbeddingSize, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, paramErrorf("embedding_size", "embedding size must be an integer, got %q", s)
	}
	size := EmbeddingSize(n)
	if !validEmbeddingSize(size) {
		return 0, paramErrorf("embedding_size", "invalid embedding size %d, expected one of %v", n, embeddingSizes)
	}
	return size, nil
}

func validInputRepr(r InputRepr) bool { return slices.Contains(inputReprs, r) }

func validContentType(c ContentType) bool { return slices.Contains(contentTypes, c) }

func validEmbeddingSize(s EmbeddingSize) bool { return slices.Contains(embeddingSizes, s) }
