package visualization

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"beamdose/internal/models"
)

// DoseStatistics summarises the voxels of a dose volume
type DoseStatistics struct {
	Voxels int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64

	// Dxx is the minimum dose received by the hottest xx% of voxels
	D98 float64
	D95 float64
	D50 float64
	D2  float64
}

// ComputeStatistics evaluates the voxels at or above threshold. Pass a
// negative threshold to include every voxel.
func ComputeStatistics(v *models.Volume, threshold float64) DoseStatistics {
	values := make([]float64, 0, len(v.Data))
	for _, d := range v.Data {
		if d >= threshold && !math.IsNaN(d) {
			values = append(values, d)
		}
	}
	if len(values) == 0 {
		return DoseStatistics{}
	}
	sort.Float64s(values)

	mean, std := stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		std = 0
	}
	dx := func(percent float64) float64 {
		return stat.Quantile(1-percent/100, stat.Empirical, values, nil)
	}

	return DoseStatistics{
		Voxels: len(values),
		Min:    values[0],
		Max:    values[len(values)-1],
		Mean:   mean,
		StdDev: std,
		D98:    dx(98),
		D95:    dx(95),
		D50:    dx(50),
		D2:     dx(2),
	}
}
