// Package framing slices a mono waveform into fixed-length overlapping frames.
//
// The pipeline used by the extractor is Center (optional) -> Pad -> Window.
// Center shifts the signal so that frame i is centred on i*hop, Pad makes the
// last frame complete, and Window exposes the frames as zero-copy views.
package framing

import (
	"fmt"
	"iter"
)

// Center left-pads audio with frameLen/2 zeros (rounded down) so that the
// first frame is centred on sample zero.
func Center(audio []float64, frameLen int) []float64 {
	padLen := frameLen / 2
	if padLen <= 0 {
		out := make([]float64, len(audio))
		copy(out, audio)
		return out
	}

	out := make([]float64, padLen+len(audio))
	copy(out[padLen:], audio)
	return out
}

// PadLength returns how many zeros Pad appends to a signal of audioLen samples.
func PadLength(audioLen, frameLen, hopLen int) int {
	if audioLen < frameLen {
		return frameLen - audioLen
	}
	rem := (audioLen - frameLen) % hopLen
	if rem == 0 {
		return 0
	}
	return hopLen - rem
}

// Pad right-pads audio with zeros so that it holds at least one frame and
// (len - frameLen) is a multiple of hopLen. Every input sample is then
// covered by a complete frame. Padding an already padded signal is a no-op.
func Pad(audio []float64, frameLen, hopLen int) []float64 {
	padLen := PadLength(len(audio), frameLen, hopLen)
	out := make([]float64, len(audio)+padLen)
	copy(out, audio)
	return out
}

// FrameCount returns 1 + floor((audioLen-frameLen)/hopLen), or 0 when the
// signal is shorter than one frame.
func FrameCount(audioLen, frameLen, hopLen int) int {
	if audioLen < frameLen || frameLen <= 0 || hopLen <= 0 {
		return 0
	}
	return 1 + (audioLen-frameLen)/hopLen
}

// Frames is a finite, restartable sequence of frames over a shared buffer.
type Frames struct {
	buffer     []float64
	frameLen   int
	hopLen     int
	sampleRate int
	count      int
}

// Window slices audio into frames of frameLen samples at stride hopLen.
// The audio is expected to be centred and padded already; trailing samples
// that do not fill a frame are ignored.
func Window(audio []float64, frameLen, hopLen, sampleRate int) (*Frames, error) {
	if frameLen <= 0 {
		return nil, fmt.Errorf("frame length must be positive: %d", frameLen)
	}
	if hopLen <= 0 {
		return nil, fmt.Errorf("hop length must be positive: %d", hopLen)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive: %d", sampleRate)
	}

	count := FrameCount(len(audio), frameLen, hopLen)
	if count == 0 {
		return nil, fmt.Errorf("signal too short for one frame: %d < %d", len(audio), frameLen)
	}

	return &Frames{
		buffer:     audio,
		frameLen:   frameLen,
		hopLen:     hopLen,
		sampleRate: sampleRate,
		count:      count,
	}, nil
}

// Len returns the number of frames
func (f *Frames) Len() int { return f.count }

// FrameLen returns the number of samples per frame
func (f *Frames) FrameLen() int { return f.frameLen }

// HopLen returns the stride between frame starts in samples
func (f *Frames) HopLen() int { return f.hopLen }

// At returns frame i as a view into the underlying buffer. Callers must not
// modify it.
func (f *Frames) At(i int) []float64 {
	start := i * f.hopLen
	return f.buffer[start : start+f.frameLen : start+f.frameLen]
}

// Timestamp returns the start time of frame i in seconds
func (f *Frames) Timestamp(i int) float64 {
	return float64(i*f.hopLen) / float64(f.sampleRate)
}

// Timestamps returns the start time of every frame in seconds
func (f *Frames) Timestamps() []float64 {
	ts := make([]float64, f.count)
	for i := range ts {
		ts[i] = f.Timestamp(i)
	}
	return ts
}

// Batches yields consecutive groups of at most size frames together with the
// index of the first frame in each group. Each call starts from frame zero.
func (f *Frames) Batches(size int) iter.Seq2[int, [][]float64] {
	if size <= 0 {
		size = f.count
	}
	return func(yield func(int, [][]float64) bool) {
		for start := 0; start < f.count; start += size {
			end := min(start+size, f.count)
			batch := make([][]float64, 0, end-start)
			for i := start; i < end; i++ {
				batch = append(batch, f.At(i))
			}
			if !yield(start, batch) {
				return
			}
		}
	}
}
