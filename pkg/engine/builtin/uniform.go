package builtin

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"beamdose/internal/models"
	"beamdose/pkg/engine"
)

// UniformName is the registry name of the Uniform engine
const UniformName = "Uniform"

// Uniform deposits a constant dose over the extent of the reference volume
// on a grid whose spacing is the reference spacing times GridScale.
type Uniform struct{}

// NewUniform creates the engine
func NewUniform() *Uniform {
	return &Uniform{}
}

func (u *Uniform) Name() string { return UniformName }

func (u *Uniform) DeclareParameters(s *engine.Schema) error {
	if err := s.AddFloat("DoseValue", "Dose per voxel in Gy", 1.0, 0, 1000); err != nil {
		return err
	}
	if err := s.AddFloat("GridScale", "Dose grid spacing relative to the reference", 1.0, 0.1, 4); err != nil {
		return err
	}
	if err := s.AddInt("Beamlets", "Columns of the dose influence matrix", 1, 1, 4096); err != nil {
		return err
	}
	return s.AddBool("KeepFluence", "Keep the fluence map as an intermediate result", false)
}

func (u *Uniform) ComputeDose(ctx context.Context, bc *engine.BeamContext, dose *models.Volume) error {
	value, err := bc.Float("DoseValue")
	if err != nil {
		return err
	}
	scale, err := bc.Float("GridScale")
	if err != nil {
		return err
	}
	keep, err := bc.Bool("KeepFluence")
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ref := bc.Reference
	dose.CopyGeometryFrom(ref)
	for axis := 0; axis < 3; axis++ {
		extent := float64(ref.Dimensions[axis]-1) * ref.Spacing[axis]
		dose.Spacing[axis] = ref.Spacing[axis] * scale
		// the last sample reaches or passes the far face of the reference
		dose.Dimensions[axis] = int(math.Ceil(extent/dose.Spacing[axis]-1e-9)) + 1
	}
	dose.Data = make([]float64, dose.NumVoxels())
	for i := range dose.Data {
		dose.Data[i] = value
	}

	if keep {
		fluence := models.NewVolume(bc.Beam.Name+"_Fluence",
			[3]int{dose.Dimensions[0], dose.Dimensions[1], 1}, dose.Spacing, dose.Origin)
		for i := range fluence.Data {
			fluence.Data[i] = 1
		}
		bc.AddIntermediate(fluence)
	}
	return nil
}

func (u *Uniform) IsInverseCapable() bool { return true }

// ComputeDoseInfluence spreads DoseValue evenly over Beamlets columns, so
// that unit beamlet weights reproduce ComputeDose on the reference lattice.
func (u *Uniform) ComputeDoseInfluence(ctx context.Context, bc *engine.BeamContext) (*mat.Dense, error) {
	value, err := bc.Float("DoseValue")
	if err != nil {
		return nil, err
	}
	beamlets, err := bc.Int("Beamlets")
	if err != nil {
		return nil, err
	}

	rows, cols := bc.Reference.NumVoxels(), int(beamlets)
	m := mat.NewDense(rows, cols, nil)
	per := value / float64(cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			m.Set(r, c, per)
		}
	}
	return m, nil
}
