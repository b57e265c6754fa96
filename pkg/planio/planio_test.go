package planio

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beamdose/pkg/dosecalc"
	"beamdose/pkg/engine"
	"beamdose/pkg/engine/builtin"
	"beamdose/pkg/geometry"
	"beamdose/pkg/scene"
)

const prostate = `
name: Prostate
engine: Uniform
prescription: 2
reference:
  name: CT
  dimensions: [10, 10, 10]
  spacing: [1, 1, 1]
  origin: [0, 0, 0]
  study: study-7
  transform: room
transforms:
  - name: couch
    translation: [0, 0, 5]
  - name: room
    parent: couch
    rotationZ: 90
beams:
  - name: B1
    weight: 0.5
    gantry: 0
    parameters:
      DoseValue: "2.0"
  - name: B2
    weight: 0.5
    gantry: 180
    isocenter: [5, 5, 5]
    parameters:
      Uniform.DoseValue: "2"
      KeepFluence: "true"
  - name: B3
`

func newRegistry(t *testing.T) *engine.Registry {
	t.Helper()
	r := engine.NewRegistry(nil)
	require.NoError(t, builtin.Register(r))
	return r
}

func TestLoadPlan(t *testing.T) {
	pf, err := Read(strings.NewReader(prostate))
	require.NoError(t, err)

	store := scene.NewStore()
	plan, err := Load(pf, store, newRegistry(t))
	require.NoError(t, err)

	assert.Equal(t, "Prostate", plan.Name)
	assert.Equal(t, "Uniform", plan.EngineName)
	assert.Equal(t, 2.0, plan.PrescriptionDose)

	ref, err := store.Volume(plan.ReferenceVolumeID)
	require.NoError(t, err)
	assert.Equal(t, "CT", ref.Name)
	assert.Equal(t, "study-7", store.Study(ref.ID))
	require.Len(t, ref.Data, 1000)

	world, err := store.WorldTransform(ref)
	require.NoError(t, err)
	want := geometry.Compose(geometry.Translation(0, 0, 5), geometry.RotationZ(90))
	assert.True(t, geometry.EqualApprox(want, world, 1e-12))

	beams, err := store.Beams(plan.ID)
	require.NoError(t, err)
	require.Len(t, beams, 3)
	assert.Equal(t, []string{"B1", "B2", "B3"}, []string{beams[0].Name, beams[1].Name, beams[2].Name})
	assert.Equal(t, 0.5, beams[0].Weight)
	assert.Equal(t, 1.0, beams[2].Weight, "weight defaults to 1")
	assert.Equal(t, [3]float64{5, 5, 5}, beams[1].Isocenter)
	assert.Equal(t, 180.0, beams[1].GantryAngle)

	v, ok := beams[0].Parameters.Get("Uniform.DoseValue")
	require.True(t, ok)
	f, _ := v.Float()
	assert.Equal(t, 2.0, f)

	v, ok = beams[1].Parameters.Get("Uniform.KeepFluence")
	require.True(t, ok)
	keep, _ := v.Bool()
	assert.True(t, keep)
}

func TestLoadedPlanCalculates(t *testing.T) {
	pf, err := Read(strings.NewReader(prostate))
	require.NoError(t, err)
	pf.Beams = pf.Beams[:2]

	store := scene.NewStore()
	registry := newRegistry(t)
	plan, err := Load(pf, store, registry)
	require.NoError(t, err)

	calc := dosecalc.NewCalculator(store, registry, nil)
	require.NoError(t, calc.CalculatePlanDose(context.Background(), plan.ID, nil))

	total, err := store.Volume(plan.TotalDoseVolumeID)
	require.NoError(t, err)
	for _, d := range total.Data {
		require.InDelta(t, 2.0, d, 1e-9)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(pf *PlanFile)
		wantErr error
	}{
		{"no name", func(pf *PlanFile) { pf.Name = "" }, ErrInvalidPlan},
		{"no beams", func(pf *PlanFile) { pf.Beams = nil }, ErrInvalidPlan},
		{"bad reference", func(pf *PlanFile) { pf.Reference.Dimensions[1] = 0 }, ErrInvalidPlan},
		{"undeclared parent", func(pf *PlanFile) { pf.Transforms[0].Parent = "room" }, ErrInvalidPlan},
		{"undeclared reference transform", func(pf *PlanFile) { pf.Reference.Transform = "gantry" }, ErrInvalidPlan},
		{"short matrix", func(pf *PlanFile) { pf.Transforms[0].Matrix = []float64{1, 0, 0} }, ErrInvalidPlan},
		{"negative weight", func(pf *PlanFile) { w := -1.0; pf.Beams[0].Weight = &w }, ErrInvalidPlan},
		{"NaN weight", func(pf *PlanFile) { w := math.NaN(); pf.Beams[1].Weight = &w }, ErrInvalidPlan},
		{"infinite weight", func(pf *PlanFile) { w := math.Inf(1); pf.Beams[2].Weight = &w }, ErrInvalidPlan},
		{"unknown parameter", func(pf *PlanFile) { pf.Beams[0].Parameters["Energy"] = "6" }, engine.ErrUnknownParameter},
		{"out of range", func(pf *PlanFile) { pf.Beams[0].Parameters["GridScale"] = "10" }, engine.ErrInvalidParameter},
		{"not a number", func(pf *PlanFile) { pf.Beams[0].Parameters["DoseValue"] = "high" }, engine.ErrInvalidParameter},
		{"unknown engine", func(pf *PlanFile) { pf.Beams[0].Parameters["Monte.Histories"] = "1e6" }, engine.ErrEngineNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pf, err := Read(strings.NewReader(prostate))
			require.NoError(t, err)
			tt.edit(pf)

			store := scene.NewStore()
			_, err = Load(pf, store, newRegistry(t))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, store.Volumes(), "nothing is stored for an invalid file")
		})
	}
}

func TestLoadRejectsNaNWeightFromYAML(t *testing.T) {
	doc := strings.Replace(prostate, "weight: 0.5\n    gantry: 0", "weight: .nan\n    gantry: 0", 1)
	require.NotEqual(t, prostate, doc)

	pf, err := Read(strings.NewReader(doc))
	require.NoError(t, err)
	require.NotNil(t, pf.Beams[0].Weight)
	require.True(t, math.IsNaN(*pf.Beams[0].Weight))

	store := scene.NewStore()
	_, err = Load(pf, store, newRegistry(t))
	assert.ErrorIs(t, err, ErrInvalidPlan)
	assert.Empty(t, store.Volumes())
}

func TestReadRejectsUnknownFields(t *testing.T) {
	_, err := Read(strings.NewReader("name: X\nbeamz: []\n"))
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestWrite(t *testing.T) {
	pf, err := Read(strings.NewReader(prostate))
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, Write(&sb, pf))
	assert.Contains(t, sb.String(), "name: Prostate")

	again, err := Read(strings.NewReader(sb.String()))
	require.NoError(t, err)
	assert.Len(t, again.Beams, 3)
}
