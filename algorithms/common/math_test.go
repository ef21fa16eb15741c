package common

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestMeanAndRMS(t *testing.T) {
	data := []float64{1, -1, 1, -1}
	if got := Mean(data); got != 0 {
		t.Errorf("Mean = %f, want 0", got)
	}
	if got := RMS(data); math.Abs(got-1) > 1e-12 {
		t.Errorf("RMS = %f, want 1", got)
	}
	if Mean(nil) != 0 || RMS(nil) != 0 {
		t.Error("empty input should give 0")
	}
}

func TestIsSilent(t *testing.T) {
	if !IsSilent(make([]float64, 10)) {
		t.Error("zeros should be silent")
	}
	if IsSilent([]float64{0, 0, 1e-9}) {
		t.Error("non-zero sample should not be silent")
	}
	if IsSilent([]float64{0, -1e-9}) {
		t.Error("negative sample should not be silent")
	}
	if IsSilent(nil) {
		t.Error("empty input is not silent")
	}
}

func TestMeanRows(t *testing.T) {
	m := mat.NewDense(4, 2, []float64{
		1, 10,
		3, 20,
		5, 30,
		100, 100,
	})

	tests := []struct {
		n    int
		want []float64
	}{
		{2, []float64{2, 15}},
		{3, []float64{3, 20}},
		{10, []float64{27.25, 40}},
		{0, []float64{1, 10}},
	}
	for _, tt := range tests {
		got := MeanRows(m, tt.n)
		for j := range tt.want {
			if math.Abs(got[j]-tt.want[j]) > 1e-12 {
				t.Errorf("MeanRows(n=%d)[%d] = %f, want %f", tt.n, j, got[j], tt.want[j])
			}
		}
	}

	if MeanRows(nil, 1) != nil {
		t.Error("nil matrix should give nil")
	}
}
