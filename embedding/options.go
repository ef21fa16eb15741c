package embedding

import (
	"math"

	"github.com/RyanBlaney/sonido-embed/algorithms/common"
	"github.com/RyanBlaney/sonido-embed/transcode"
)

// DefaultBatchSize is the number of frames sent to a model per Predict call
const DefaultBatchSize = 32

// Options controls one extraction call
type Options struct {
	// Source picks the model; required
	Source ModelSource `json:"-" yaml:"-"`

	// HopSize is the stride between frames in seconds
	HopSize float64 `json:"hop_size" yaml:"hop_size"`

	// Center pads half a frame in front so frames are centred on their timestamps
	Center bool `json:"center" yaml:"center"`

	// Verbose > 0 reports per-batch progress at info level
	Verbose int `json:"verbose" yaml:"verbose"`

	// BatchSize caps frames per Predict call; 0 selects DefaultBatchSize
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Downmix averages multi-channel input to mono. When false, multi-channel
	// input is rejected.
	Downmix bool `json:"downmix" yaml:"downmix"`
}

// DefaultOptions returns centred 0.1 s hops with the default named model
func DefaultOptions() Options {
	return Options{
		Source:    NamedModel{Config: DefaultModelConfig()},
		HopSize:   0.1,
		Center:    true,
		Verbose:   1,
		BatchSize: DefaultBatchSize,
		Downmix:   true,
	}
}

// hopLength converts HopSize to samples at TargetSampleRate
func (o Options) hopLength() int {
	return int(o.HopSize * TargetSampleRate)
}

func (o Options) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

// Validate checks every option that does not depend on the audio
func (o Options) Validate() error {
	switch src := o.Source.(type) {
	case nil:
		return paramErrorf("model", "a model source is required: pass an ExplicitModel or a NamedModel")
	case ExplicitModel:
		if src.Model == nil {
			return paramErrorf("model", "explicit model is nil")
		}
		if err := src.Model.Config().Validate(); err != nil {
			return err
		}
	case *ExplicitModel:
		if src == nil || src.Model == nil {
			return paramErrorf("model", "explicit model is nil")
		}
		if err := src.Model.Config().Validate(); err != nil {
			return err
		}
	case NamedModel:
		if err := src.Config.Validate(); err != nil {
			return err
		}
	case *NamedModel:
		if src == nil {
			return paramErrorf("model", "named model is nil")
		}
		if err := src.Config.Validate(); err != nil {
			return err
		}
	default:
		return paramErrorf("model", "unsupported model source %T", o.Source)
	}

	if math.IsNaN(o.HopSize) || math.IsInf(o.HopSize, 0) || o.HopSize <= 0 {
		return paramErrorf("hop_size", "hop size must be a positive number, got %v", o.HopSize)
	}
	if o.hopLength() < 1 {
		return paramErrorf("hop_size", "hop size %v is shorter than one sample at %d Hz", o.HopSize, TargetSampleRate)
	}
	if o.Verbose < 0 {
		return paramErrorf("verbose", "verbosity must be non-negative, got %d", o.Verbose)
	}
	if o.BatchSize < 0 {
		return paramErrorf("batch_size", "batch size must be non-negative, got %d", o.BatchSize)
	}
	return nil
}

// validateAudio checks the waveform shape. Empty input is reported as
// ErrEmptyInput, malformed layouts as parameter errors.
func (o Options) validateAudio(audio *transcode.AudioData) error {
	if audio == nil || len(audio.PCM) == 0 {
		return ErrEmptyInput
	}
	if audio.Channels < 1 {
		return paramErrorf("audio", "audio must have at least one channel, got %d", audio.Channels)
	}
	if len(audio.PCM)%audio.Channels != 0 {
		return paramErrorf("audio", "%d samples do not divide into %d channels", len(audio.PCM), audio.Channels)
	}
	if audio.SampleRate <= 0 {
		return paramErrorf("sample_rate", "sample rate must be positive, got %d", audio.SampleRate)
	}
	if common.HasNaN(audio.PCM) {
		return paramErrorf("audio", "audio contains NaN samples")
	}
	if audio.Channels > 1 && !o.Downmix {
		return paramErrorf("audio", "got %d channels with downmixing disabled", audio.Channels)
	}
	return nil
}
