// Package engine defines the pluggable dose calculation strategy and the
// registry that maps engine names to instances.
//
// An engine computes one beam's dose on a grid of its own choosing. The
// orchestration in package dosecalc prepares the inputs, calls the engine
// and resamples its output; engines never see other beams.
package engine

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"beamdose/internal/models"
)

// DoseEngine is the strategy every dose calculation plugin implements
type DoseEngine interface {
	// Name identifies the engine in the registry and namespaces its parameters
	Name() string

	// DeclareParameters registers the engine's parameters into its schema.
	// It is called exactly once, at registration.
	DeclareParameters(schema *Schema) error

	// ComputeDose fills dose with the beam's dose distribution. The engine
	// sets the grid geometry and samples; the grid need not match the
	// plan's reference lattice. Failures should be reported as
	// *ComputationError.
	ComputeDose(ctx context.Context, bc *BeamContext, dose *models.Volume) error
}

// InverseEngine is implemented by engines that can compute dose-influence
// matrices for inverse planning
type InverseEngine interface {
	DoseEngine

	// IsInverseCapable reports whether ComputeDoseInfluence is usable
	IsInverseCapable() bool

	// ComputeDoseInfluence returns the beamlet-to-voxel influence matrix:
	// one row per reference voxel, one column per beamlet.
	ComputeDoseInfluence(ctx context.Context, bc *BeamContext) (*mat.Dense, error)
}

// IntermediateCleaner is implemented by engines that keep private state per
// beam beyond the intermediate volumes recorded on the beam
type IntermediateCleaner interface {
	RemoveIntermediateResults(ctx context.Context, beam *models.Beam) error
}

// IsInverseCapable checks the capability flag of an engine
func IsInverseCapable(e DoseEngine) bool {
	ie, ok := e.(InverseEngine)
	return ok && ie.IsInverseCapable()
}

// BeamContext is everything an engine may read while computing one beam
type BeamContext struct {
	Beam      *models.Beam
	Plan      *models.Plan
	Reference *models.Volume

	engine        string
	intermediates []*models.Volume
	doseTransform mat.Matrix
}

// NewBeamContext creates the context passed to an engine call
func NewBeamContext(engineName string, beam *models.Beam, plan *models.Plan, reference *models.Volume) *BeamContext {
	return &BeamContext{
		Beam:      beam,
		Plan:      plan,
		Reference: reference,
		engine:    engineName,
	}
}

// EngineName returns the engine the context was built for
func (bc *BeamContext) EngineName() string {
	return bc.engine
}

// Param returns the beam's value for one of the engine's parameters
func (bc *BeamContext) Param(name string) (models.Value, error) {
	v, ok := bc.Beam.Parameters.Get(ParameterKey(bc.engine, name))
	if !ok {
		return models.Value{}, fmt.Errorf("%w: %s", ErrUnknownParameter, ParameterKey(bc.engine, name))
	}
	return v, nil
}

// Float returns a float (or int) parameter
func (bc *BeamContext) Float(name string) (float64, error) {
	v, err := bc.Param(name)
	if err != nil {
		return 0, err
	}
	f, ok := v.Float()
	if !ok {
		return 0, fmt.Errorf("%w: %s is %s, not float", ErrInvalidParameter, name, v.Kind())
	}
	return f, nil
}

// Int returns an int parameter
func (bc *BeamContext) Int(name string) (int64, error) {
	v, err := bc.Param(name)
	if err != nil {
		return 0, err
	}
	i, ok := v.Int()
	if !ok {
		return 0, fmt.Errorf("%w: %s is %s, not int", ErrInvalidParameter, name, v.Kind())
	}
	return i, nil
}

// Bool returns a bool parameter
func (bc *BeamContext) Bool(name string) (bool, error) {
	v, err := bc.Param(name)
	if err != nil {
		return false, err
	}
	b, ok := v.Bool()
	if !ok {
		return false, fmt.Errorf("%w: %s is %s, not bool", ErrInvalidParameter, name, v.Kind())
	}
	return b, nil
}

// String returns a string or choice parameter
func (bc *BeamContext) String(name string) (string, error) {
	v, err := bc.Param(name)
	if err != nil {
		return "", err
	}
	s, ok := v.Str()
	if !ok {
		return "", fmt.Errorf("%w: %s is %s, not string", ErrInvalidParameter, name, v.Kind())
	}
	return s, nil
}

// AddIntermediate hands an engine-private volume to the orchestrator, which
// files it under the beam and deletes it before the next calculation.
func (bc *BeamContext) AddIntermediate(v *models.Volume) {
	bc.intermediates = append(bc.intermediates, v)
}

// Intermediates returns the volumes added during the call
func (bc *BeamContext) Intermediates() []*models.Volume {
	return bc.intermediates
}

// SetDoseTransform places the computed dose grid under a parent transform,
// e.g. the beam's own frame. The orchestrator registers it in the scene.
func (bc *BeamContext) SetDoseTransform(m mat.Matrix) {
	bc.doseTransform = m
}

// DoseTransform returns the parent transform set by the engine, or nil
func (bc *BeamContext) DoseTransform() mat.Matrix {
	return bc.doseTransform
}
