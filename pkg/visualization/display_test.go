package visualization

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"beamdose/internal/models"
)

func TestDoseDisplayWithPrescription(t *testing.T) {
	d := DoseDisplay(50, DefaultDisplayOptions())

	assert.InDelta(t, 55, d.WindowMax, 1e-9)
	assert.Equal(t, 0.0, d.WindowMin)
	assert.InDelta(t, 2.5, d.LowerThreshold, 1e-9)
	assert.True(t, d.ThresholdEnabled)
	assert.True(t, d.Visible)
	assert.InDelta(t, 55, d.Window(), 1e-9)
	assert.InDelta(t, 27.5, d.Level(), 1e-9)
}

func TestDoseDisplayFallback(t *testing.T) {
	opts := DefaultDisplayOptions()
	opts.FallbackWindowMax = 20

	d := DoseDisplay(0, opts)
	assert.Equal(t, 20.0, d.WindowMax)
	assert.False(t, d.ThresholdEnabled)
}

func TestComputeStatistics(t *testing.T) {
	v := models.NewVolume("dose", [3]int{10, 1, 1}, [3]float64{1, 1, 1}, [3]float64{})
	for i := range v.Data {
		v.Data[i] = float64(i + 1) // 1..10
	}

	s := ComputeStatistics(v, -1)
	assert.Equal(t, 10, s.Voxels)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 10.0, s.Max)
	assert.InDelta(t, 5.5, s.Mean, 1e-12)
	assert.Greater(t, s.StdDev, 0.0)
	assert.LessOrEqual(t, s.D98, s.D95)
	assert.LessOrEqual(t, s.D95, s.D50)
	assert.LessOrEqual(t, s.D50, s.D2)
	assert.Equal(t, 10.0, s.D2)

	above := ComputeStatistics(v, 6)
	assert.Equal(t, 5, above.Voxels)
	assert.Equal(t, 6.0, above.Min)

	none := ComputeStatistics(v, 100)
	assert.Equal(t, DoseStatistics{}, none)
}
