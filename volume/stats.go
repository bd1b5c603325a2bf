package volume

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary describes the intensity distribution of a volume. The percentile
// bounds are robust against outlier voxels and suit window suggestions
// better than the raw scalar range.
type Summary struct {
	Voxels int
	Mean   float64
	StdDev float64
	P01    float64
	P99    float64
}

// Summarize computes distribution statistics over every voxel.
func Summarize(v *ScalarVolume) Summary {
	if !v.Ready() {
		return Summary{}
	}

	data := make([]float64, len(v.Data))
	for i, s := range v.Data {
		data[i] = float64(s)
	}
	sort.Float64s(data)

	return Summary{
		Voxels: len(data),
		Mean:   stat.Mean(data, nil),
		StdDev: stat.StdDev(data, nil),
		P01:    stat.Quantile(0.01, stat.Empirical, data, nil),
		P99:    stat.Quantile(0.99, stat.Empirical, data, nil),
	}
}
