package embedding

import (
	"math"

	"github.com/RyanBlaney/sonido-embed/algorithms/common"
	"gonum.org/v1/gonum/mat"
)

// Aggregate reduces per-frame embeddings to one vector: the mean of the
// first floor(secs/hopSize) rows. The count is clamped to [1, rows].
func Aggregate(m mat.Matrix, secs, hopSize float64) ([]float64, error) {
	if m == nil {
		return nil, ErrEmptyInput
	}
	if rows, cols := m.Dims(); rows == 0 || cols == 0 {
		return nil, ErrEmptyInput
	}
	if math.IsNaN(hopSize) || math.IsInf(hopSize, 0) || hopSize <= 0 {
		return nil, paramErrorf("hop_size", "hop size must be a positive number, got %v", hopSize)
	}
	if math.IsNaN(secs) || secs < 0 {
		return nil, paramErrorf("secs", "window length must be non-negative, got %v", secs)
	}

	rows, _ := m.Dims()
	n := rows
	if k := math.Floor(secs / hopSize); k < float64(rows) {
		n = int(k)
	}
	return common.MeanRows(m, n), nil
}
