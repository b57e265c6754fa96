package models

// Beam is one radiation delivery unit of a plan
type Beam struct {
	ID   string
	Name string

	// PlanID is the plan the beam belongs to
	PlanID string

	// Weight scales the beam's dose in the plan total. Must not be negative.
	Weight float64

	// Isocenter in patient coordinates (mm)
	Isocenter [3]float64

	// GantryAngle in degrees, IEC convention
	GantryAngle float64

	// Parameters holds engine parameter values
	Parameters ParameterSet

	// DoseVolumeID is the produced dose volume, empty before calculation
	DoseVolumeID string

	// IntermediateIDs lists engine-private volumes from the last calculation
	IntermediateIDs []string

	Attributes map[string]string
}

// NewBeam creates a beam with unit weight
func NewBeam(name string) *Beam {
	return &Beam{
		Name:       name,
		Weight:     1.0,
		Parameters: make(ParameterSet),
		Attributes: make(map[string]string),
	}
}

// Plan is an ordered set of beams sharing a reference geometry
type Plan struct {
	ID   string
	Name string

	// BeamIDs keeps the beams in delivery order
	BeamIDs []string

	// ReferenceVolumeID defines the lattice of the total dose
	ReferenceVolumeID string

	// EngineName selects the dose engine for all beams
	EngineName string

	// PrescriptionDose in Gy, zero when unknown
	PrescriptionDose float64

	// TotalDoseVolumeID is created on the first accumulation
	TotalDoseVolumeID string

	Attributes map[string]string
}

// NewPlan creates an empty plan
func NewPlan(name string) *Plan {
	return &Plan{
		Name:       name,
		Attributes: make(map[string]string),
	}
}
