package transcode

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts a mono signal from srcRate to dstRate with a high
// quality polyphase filter, including the filter tail. Equal rates return
// the input unchanged.
func Resample(samples []float64, srcRate, dstRate int) ([]float64, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive: %d -> %d", srcRate, dstRate)
	}
	if srcRate == dstRate || len(samples) == 0 {
		return samples, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	out, err := r.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("resample flush error: %w", err)
	}
	out = append(out, tail...)

	want := ResampledLength(len(samples), srcRate, dstRate)
	if len(out) > want {
		return out[:want], nil
	}
	for len(out) < want {
		out = append(out, 0)
	}
	return out, nil
}

// ResampledLength returns ceil(n*dstRate/srcRate), the length Resample
// produces for n input samples.
func ResampledLength(n, srcRate, dstRate int) int {
	return int((int64(n)*int64(dstRate) + int64(srcRate) - 1) / int64(srcRate))
}
