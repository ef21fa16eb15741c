package transcode

import (
	"errors"
	"fmt"
	"time"
)

// ErrDecode marks failures to read or decode an audio source
var ErrDecode = errors.New("audio decode failed")

// AudioData represents decoded audio data
type AudioData struct {
	PCM        []float64 `json:"-"` // Interleaved samples in [-1, 1]
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	Source     string    `json:"source,omitempty"`
	Codec      string    `json:"codec,omitempty"`
}

// FromChannels builds interleaved AudioData from channel-major sample slices.
// All channels must have the same length.
func FromChannels(sampleRate int, channels ...[]float64) (*AudioData, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("at least one channel is required")
	}
	n := len(channels[0])
	for i, ch := range channels {
		if len(ch) != n {
			return nil, fmt.Errorf("channel %d has %d samples, channel 0 has %d", i, len(ch), n)
		}
	}

	pcm := make([]float64, n*len(channels))
	for c, ch := range channels {
		for i, v := range ch {
			pcm[i*len(channels)+c] = v
		}
	}

	return &AudioData{PCM: pcm, SampleRate: sampleRate, Channels: len(channels)}, nil
}

// Mono wraps a single channel of samples
func Mono(sampleRate int, samples []float64) *AudioData {
	return &AudioData{PCM: samples, SampleRate: sampleRate, Channels: 1}
}

// NumFrames returns the number of samples per channel
func (a *AudioData) NumFrames() int {
	if a.Channels <= 0 {
		return 0
	}
	return len(a.PCM) / a.Channels
}

// Duration returns the playback length
func (a *AudioData) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(a.NumFrames()) * time.Second / time.Duration(a.SampleRate)
}

// Downmix averages all channels into a single mono slice. Mono input is
// returned as a copy.
func (a *AudioData) Downmix() []float64 {
	frames := a.NumFrames()
	out := make([]float64, frames)
	if a.Channels == 1 {
		copy(out, a.PCM)
		return out
	}

	scale := 1 / float64(a.Channels)
	for i := range frames {
		sum := 0.0
		for c := 0; c < a.Channels; c++ {
			sum += a.PCM[i*a.Channels+c]
		}
		out[i] = sum * scale
	}
	return out
}
