package transcode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
	"github.com/mjibson/go-dsp/wav"
)

const readChunk = 4096

// decodeWAV reads a RIFF/WAVE stream with go-dsp
func decodeWAV(r io.Reader) (*AudioData, error) {
	w, err := wav.New(r)
	if err != nil {
		return nil, fmt.Errorf("read wav header: %w", err)
	}
	if w.NumChannels == 0 {
		return nil, fmt.Errorf("wav header reports zero channels")
	}

	// Samples counts individual values across all channels
	remaining := max(w.Samples, 0)
	pcm := make([]float64, 0, remaining)
	for remaining > 0 {
		chunk, err := w.ReadSamples(min(readChunk, remaining))
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("read wav samples: %w", err)
		}

		before := len(pcm)
		switch s := chunk.(type) {
		case []uint8:
			for _, v := range s {
				pcm = append(pcm, (float64(v)-128)/128)
			}
		case []int16:
			for _, v := range s {
				pcm = append(pcm, float64(v)/32768)
			}
		case []float32:
			for _, v := range s {
				pcm = append(pcm, float64(v))
			}
		default:
			return nil, fmt.Errorf("unsupported wav sample type %T", chunk)
		}
		if len(pcm) == before {
			break
		}
		remaining -= len(pcm) - before
	}

	channels := int(w.NumChannels)
	pcm = pcm[:len(pcm)-len(pcm)%channels]

	return &AudioData{
		PCM:        pcm,
		SampleRate: int(w.SampleRate),
		Channels:   channels,
		Codec:      "wav",
	}, nil
}

// decodeMP3 reads an MP3 stream. go-mp3 always produces 16-bit stereo.
func decodeMP3(r io.Reader) (*AudioData, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("open mp3: %w", err)
	}

	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("read mp3 samples: %w", err)
	}

	n := len(raw) / 2
	pcm := make([]float64, n-n%2)
	for i := range pcm {
		s := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		pcm[i] = float64(s) / 32768.0
	}

	return &AudioData{
		PCM:        pcm,
		SampleRate: d.SampleRate(),
		Channels:   2,
		Codec:      "mp3",
	}, nil
}

// decodeFLAC reads a FLAC stream frame by frame
func decodeFLAC(r io.Reader) (*AudioData, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("open flac: %w", err)
	}
	defer stream.Close()

	channels := int(stream.Info.NChannels)
	if channels == 0 {
		return nil, fmt.Errorf("flac stream reports zero channels")
	}
	scale := math.Ldexp(1, int(stream.Info.BitsPerSample)-1)

	pcm := make([]float64, 0, int(stream.Info.NSamples)*channels)
	for {
		f, err := stream.ParseNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read flac frame: %w", err)
		}
		if len(f.Subframes) != channels {
			return nil, fmt.Errorf("flac frame has %d subframes, want %d", len(f.Subframes), channels)
		}
		for i := range f.Subframes[0].Samples {
			for c := 0; c < channels; c++ {
				pcm = append(pcm, float64(f.Subframes[c].Samples[i])/scale)
			}
		}
	}

	return &AudioData{
		PCM:        pcm,
		SampleRate: int(stream.Info.SampleRate),
		Channels:   channels,
		Codec:      "flac",
	}, nil
}
