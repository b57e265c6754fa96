package visualization

import "beamdose/internal/models"

// DisplayOptions derive display defaults from a prescription dose
type DisplayOptions struct {
	// WindowFactor scales the prescription into the window maximum
	WindowFactor float64

	// ThresholdFraction of the prescription below which voxels are hidden
	ThresholdFraction float64

	// FallbackWindowMax is used when no prescription is known (Gy)
	FallbackWindowMax float64
}

// DefaultDisplayOptions returns a 110% window and a 5% threshold
func DefaultDisplayOptions() DisplayOptions {
	return DisplayOptions{
		WindowFactor:      1.1,
		ThresholdFraction: 0.05,
		FallbackWindowMax: 16.0,
	}
}

// DoseDisplay returns the default display of a dose volume. With a known
// prescription the window spans [0, factor*Rx] and voxels below the
// threshold fraction are hidden, so a zero background renders transparent.
// Without one the window falls back to a fixed maximum.
func DoseDisplay(prescriptionDose float64, opts DisplayOptions) models.DisplaySettings {
	d := models.DisplaySettings{
		WindowMin: 0,
		Visible:   true,
		Opacity:   1,
	}
	if prescriptionDose > 0 {
		d.WindowMax = opts.WindowFactor * prescriptionDose
		d.LowerThreshold = opts.ThresholdFraction * prescriptionDose
		d.ThresholdEnabled = true
		return d
	}
	d.WindowMax = opts.FallbackWindowMax
	return d
}
