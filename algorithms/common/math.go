package common

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice using gonum
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return stat.Mean(data, nil)
}

// RMS calculates root mean square
func RMS(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return math.Sqrt(floats.Dot(data, data) / float64(len(data)))
}

// IsSilent reports whether every sample is exactly zero
func IsSilent(data []float64) bool {
	return len(data) > 0 && floats.Max(data) == 0 && floats.Min(data) == 0
}

// HasNaN reports whether any value is NaN
func HasNaN(data []float64) bool {
	return floats.HasNaN(data)
}

// MeanRows returns the column-wise mean of the first n rows of m.
// n is clamped to [1, rows]. Returns nil for an empty matrix.
func MeanRows(m mat.Matrix, n int) []float64 {
	if m == nil {
		return nil
	}
	rows, cols := m.Dims()
	if rows == 0 || cols == 0 {
		return nil
	}
	n = max(1, min(n, rows))

	out := make([]float64, cols)
	row := make([]float64, cols)
	for i := 0; i < n; i++ {
		mat.Row(row, i, m)
		floats.Add(out, row)
	}
	floats.Scale(1/float64(n), out)
	return out
}
