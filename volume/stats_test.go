package volume

import (
	"math"
	"testing"
)

func TestSummarize(t *testing.T) {
	// Intensities 1..100, one per voxel.
	data := make([]float32, 100)
	for i := range data {
		data[i] = float32(i + 1)
	}
	v := &ScalarVolume{Width: 10, Height: 10, Depth: 1, Data: data, ScalarMin: 1, ScalarMax: 100}

	sum := Summarize(v)

	if sum.Voxels != 100 {
		t.Errorf("Voxels = %d, want 100", sum.Voxels)
	}
	if math.Abs(sum.Mean-50.5) > 1e-9 {
		t.Errorf("Mean = %v, want 50.5", sum.Mean)
	}
	// Sample standard deviation of 1..100: sqrt(83325/99).
	wantStd := math.Sqrt(83325.0 / 99.0)
	if math.Abs(sum.StdDev-wantStd) > 1e-9 {
		t.Errorf("StdDev = %v, want %v", sum.StdDev, wantStd)
	}
	if sum.P01 < 1 || sum.P01 > 2 {
		t.Errorf("P01 = %v, want within [1, 2]", sum.P01)
	}
	if sum.P99 < 98 || sum.P99 > 100 {
		t.Errorf("P99 = %v, want within [98, 100]", sum.P99)
	}
	if sum.P01 >= sum.P99 {
		t.Errorf("P01 = %v not below P99 = %v", sum.P01, sum.P99)
	}
}

func TestSummarizeUniform(t *testing.T) {
	data := make([]float32, 8)
	for i := range data {
		data[i] = 42
	}
	v := &ScalarVolume{Width: 2, Height: 2, Depth: 2, Data: data}

	sum := Summarize(v)
	if sum.Mean != 42 || sum.StdDev != 0 {
		t.Errorf("uniform volume: Mean=%v StdDev=%v, want 42 and 0", sum.Mean, sum.StdDev)
	}
	if sum.P01 != 42 || sum.P99 != 42 {
		t.Errorf("uniform volume: P01=%v P99=%v, want 42 and 42", sum.P01, sum.P99)
	}
}

func TestSummarizeNotReady(t *testing.T) {
	if sum := Summarize(nil); sum != (Summary{}) {
		t.Errorf("Summarize(nil) = %+v, want zero Summary", sum)
	}
	if sum := Summarize(&ScalarVolume{}); sum != (Summary{}) {
		t.Errorf("Summarize(empty) = %+v, want zero Summary", sum)
	}
}
