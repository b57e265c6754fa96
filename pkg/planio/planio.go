// Package planio reads plan descriptions from YAML and loads them into a
// scene store. A plan file stands in for the interactive planning surface:
// it names the reference grid, the engine, the prescription and the beams
// with their string-encoded engine parameters.
package planio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"beamdose/internal/models"
	"beamdose/pkg/engine"
	"beamdose/pkg/geometry"
	"beamdose/pkg/scene"
)

// ErrInvalidPlan is returned for plan files that cannot be loaded
var ErrInvalidPlan = errors.New("invalid plan file")

// PlanFile is the YAML document
type PlanFile struct {
	Name         string          `yaml:"name"`
	Engine       string          `yaml:"engine"`
	Prescription float64         `yaml:"prescription"`
	Reference    ReferenceSpec   `yaml:"reference"`
	Transforms   []TransformSpec `yaml:"transforms,omitempty"`
	Beams        []BeamSpec      `yaml:"beams"`
}

// ReferenceSpec describes the reference lattice. Its samples are zero; the
// pipeline only needs its geometry.
type ReferenceSpec struct {
	Name       string         `yaml:"name"`
	Dimensions [3]int         `yaml:"dimensions"`
	Spacing    [3]float64     `yaml:"spacing"`
	Origin     [3]float64     `yaml:"origin"`
	Direction  *[3][3]float64 `yaml:"direction,omitempty"`
	Study      string         `yaml:"study,omitempty"`

	// Transform names the parent transform of the reference, if any
	Transform string `yaml:"transform,omitempty"`
}

// TransformSpec is one parent transform. A full row-major Matrix takes
// precedence over the Translation and rotation angles, which compose as
// T·Rz·Ry·Rx.
type TransformSpec struct {
	Name        string     `yaml:"name"`
	Parent      string     `yaml:"parent,omitempty"`
	Matrix      []float64  `yaml:"matrix,omitempty"`
	Translation [3]float64 `yaml:"translation,omitempty"`
	RotationX   float64    `yaml:"rotationX,omitempty"`
	RotationY   float64    `yaml:"rotationY,omitempty"`
	RotationZ   float64    `yaml:"rotationZ,omitempty"`
}

// BeamSpec is one beam. Parameter keys are either bare parameter names of
// the plan's engine or fully qualified "<engine>.<parameter>" keys.
type BeamSpec struct {
	Name       string            `yaml:"name"`
	Weight     *float64          `yaml:"weight,omitempty"`
	Isocenter  [3]float64        `yaml:"isocenter"`
	Gantry     float64           `yaml:"gantry"`
	Parameters map[string]string `yaml:"parameters,omitempty"`
}

// Read decodes a plan file
func Read(r io.Reader) (*PlanFile, error) {
	var pf PlanFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	return &pf, nil
}

// ReadFile decodes the plan file at path
func ReadFile(path string) (*PlanFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Write encodes a plan file
func Write(w io.Writer, pf *PlanFile) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(pf); err != nil {
		return err
	}
	return enc.Close()
}

// Matrix4 returns the transform as a 4x4 affine matrix
func (t TransformSpec) Matrix4() (*mat.Dense, error) {
	if len(t.Matrix) > 0 {
		if len(t.Matrix) != 16 {
			return nil, fmt.Errorf("%w: transform %s has %d matrix values, want 16", ErrInvalidPlan, t.Name, len(t.Matrix))
		}
		var values [16]float64
		copy(values[:], t.Matrix)
		m := geometry.FromRowMajor(values)
		if err := geometry.CheckAffine(m); err != nil {
			return nil, fmt.Errorf("%w: transform %s: %v", ErrInvalidPlan, t.Name, err)
		}
		return m, nil
	}
	return geometry.Compose(
		geometry.Translation(t.Translation[0], t.Translation[1], t.Translation[2]),
		geometry.RotationZ(t.RotationZ),
		geometry.RotationY(t.RotationY),
		geometry.RotationX(t.RotationX),
	), nil
}

// Load adds the plan's transforms, reference volume, plan and beams to
// store. Beam parameters are parsed and validated against the schemas in
// registry. The store is left untouched when the file is invalid.
func Load(pf *PlanFile, store *scene.Store, registry *engine.Registry) (*models.Plan, error) {
	if strings.TrimSpace(pf.Name) == "" {
		return nil, fmt.Errorf("%w: plan has no name", ErrInvalidPlan)
	}
	if len(pf.Beams) == 0 {
		return nil, fmt.Errorf("%w: plan %s has no beams", ErrInvalidPlan, pf.Name)
	}

	reference := models.NewVolume(pf.Reference.Name, pf.Reference.Dimensions, pf.Reference.Spacing, pf.Reference.Origin)
	if reference.Name == "" {
		reference.Name = pf.Name + "_Reference"
	}
	if pf.Reference.Direction != nil {
		reference.Direction = *pf.Reference.Direction
	}
	if err := reference.Validate(); err != nil {
		return nil, fmt.Errorf("%w: reference: %v", ErrInvalidPlan, err)
	}
	if _, err := geometry.RASToIJK(reference); err != nil {
		return nil, fmt.Errorf("%w: reference orientation: %v", ErrInvalidPlan, err)
	}
	if pf.Reference.Study != "" {
		reference.SetAttribute(scene.AttrStudy, pf.Reference.Study)
	}

	beams := make([]*models.Beam, 0, len(pf.Beams))
	for _, bs := range pf.Beams {
		b, err := buildBeam(pf, bs, registry)
		if err != nil {
			return nil, err
		}
		beams = append(beams, b)
	}

	matrices := make([]*mat.Dense, len(pf.Transforms))
	declared := make(map[string]bool, len(pf.Transforms))
	for i, ts := range pf.Transforms {
		if ts.Name == "" || declared[ts.Name] {
			return nil, fmt.Errorf("%w: transform %d needs a unique name", ErrInvalidPlan, i)
		}
		if ts.Parent != "" && !declared[ts.Parent] {
			return nil, fmt.Errorf("%w: transform %s: parent %s must be declared before it", ErrInvalidPlan, ts.Name, ts.Parent)
		}
		m, err := ts.Matrix4()
		if err != nil {
			return nil, err
		}
		matrices[i] = m
		declared[ts.Name] = true
	}
	if t := pf.Reference.Transform; t != "" && !declared[t] {
		return nil, fmt.Errorf("%w: reference transform %s is not declared", ErrInvalidPlan, t)
	}

	ids := make(map[string]string, len(pf.Transforms))
	for i, ts := range pf.Transforms {
		id, err := store.AddTransform(matrices[i], ids[ts.Parent])
		if err != nil {
			return nil, err
		}
		ids[ts.Name] = id
	}
	reference.TransformID = ids[pf.Reference.Transform]

	if _, err := store.AddVolume(reference); err != nil {
		return nil, err
	}

	plan := models.NewPlan(pf.Name)
	plan.EngineName = pf.Engine
	plan.PrescriptionDose = pf.Prescription
	plan.ReferenceVolumeID = reference.ID
	if _, err := store.AddPlan(plan); err != nil {
		return nil, err
	}
	for _, b := range beams {
		if _, err := store.AddBeam(plan.ID, b); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func buildBeam(pf *PlanFile, bs BeamSpec, registry *engine.Registry) (*models.Beam, error) {
	if strings.TrimSpace(bs.Name) == "" {
		return nil, fmt.Errorf("%w: beam without name", ErrInvalidPlan)
	}
	b := models.NewBeam(bs.Name)
	if bs.Weight != nil {
		if w := *bs.Weight; w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: beam %s weight %g is not a finite non-negative number", ErrInvalidPlan, bs.Name, w)
		}
		b.Weight = *bs.Weight
	}
	b.Isocenter = bs.Isocenter
	b.GantryAngle = bs.Gantry

	for key, raw := range bs.Parameters {
		engineName, param := pf.Engine, key
		if i := strings.Index(key, engine.ParameterKeySeparator); i >= 0 {
			engineName, param = key[:i], key[i+1:]
		}
		schema, err := registry.Schema(engineName)
		if err != nil {
			return nil, fmt.Errorf("beam %s parameter %s: %w", bs.Name, key, err)
		}
		v, err := schema.Parse(param, raw)
		if err != nil {
			return nil, fmt.Errorf("beam %s: %w", bs.Name, err)
		}
		b.Parameters.Set(schema.Key(param), v)
	}
	return b, nil
}
