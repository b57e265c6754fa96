package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beamdose/internal/models"
	"beamdose/pkg/geometry"
)

func newVolume(name string) *models.Volume {
	return models.NewVolume(name, [3]int{2, 2, 2}, [3]float64{1, 1, 1}, [3]float64{})
}

func TestAddAndRemoveVolume(t *testing.T) {
	s := NewStore()
	v := newVolume("ct")

	id, err := s.AddVolume(v)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, v.ID)

	got, err := s.Volume(id)
	require.NoError(t, err)
	assert.Same(t, v, got)

	dup := newVolume("dup")
	dup.ID = id
	_, err = s.AddVolume(dup)
	assert.ErrorIs(t, err, ErrDuplicateNode)

	require.NoError(t, s.RemoveNode(id))
	_, err = s.Volume(id)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.ErrorIs(t, s.RemoveNode(id), ErrNodeNotFound)
}

func TestPlansAndBeamsKeepOrder(t *testing.T) {
	s := NewStore()
	planID, err := s.AddPlan(models.NewPlan("plan"))
	require.NoError(t, err)

	var ids []string
	for _, name := range []string{"B1", "B2", "B3"} {
		id, err := s.AddBeam(planID, models.NewBeam(name))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	beams, err := s.Beams(planID)
	require.NoError(t, err)
	require.Len(t, beams, 3)
	for i, b := range beams {
		assert.Equal(t, ids[i], b.ID)
		assert.Equal(t, planID, b.PlanID)
	}

	require.NoError(t, s.RemoveNode(ids[1]))
	plan, err := s.Plan(planID)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0], ids[2]}, plan.BeamIDs)

	_, err = s.AddBeam("missing", models.NewBeam("orphan"))
	assert.ErrorIs(t, err, ErrNodeNotFound)

	require.NoError(t, s.RemoveNode(planID))
	_, err = s.Beam(ids[0])
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestAttributes(t *testing.T) {
	s := NewStore()
	planID, err := s.AddPlan(models.NewPlan("plan"))
	require.NoError(t, err)
	volID, err := s.AddVolume(newVolume("ct"))
	require.NoError(t, err)

	require.NoError(t, s.SetAttribute(planID, "Engine", "Uniform"))
	require.NoError(t, s.SetAttribute(volID, AttrStudy, "CT study"))

	v, ok := s.Attribute(planID, "Engine")
	assert.True(t, ok)
	assert.Equal(t, "Uniform", v)
	assert.Equal(t, "CT study", s.Study(volID))
	assert.Empty(t, s.Study(planID))

	assert.ErrorIs(t, s.SetAttribute("missing", "k", "v"), ErrNodeNotFound)
	_, ok = s.Attribute("missing", "k")
	assert.False(t, ok)
}

func TestAttachDoseReplace(t *testing.T) {
	s := NewStore()
	planID, _ := s.AddPlan(models.NewPlan("plan"))
	beamID, _ := s.AddBeam(planID, models.NewBeam("B1"))
	first, _ := s.AddVolume(newVolume("B1_Dose"))
	second, _ := s.AddVolume(newVolume("B1_Dose"))

	require.NoError(t, s.AttachDose(beamID, first, true))
	require.NoError(t, s.AttachDose(beamID, second, true))

	beam, _ := s.Beam(beamID)
	assert.Equal(t, second, beam.DoseVolumeID)
	assert.False(t, s.Has(first), "replaced dose volume must be removed")

	// without replace the old node stays
	third, _ := s.AddVolume(newVolume("B1_Dose"))
	require.NoError(t, s.AttachDose(beamID, third, false))
	assert.True(t, s.Has(second))

	assert.ErrorIs(t, s.AttachDose(beamID, "missing", true), ErrNodeNotFound)
}

func TestWorldTransform(t *testing.T) {
	s := NewStore()
	parent, err := s.AddTransform(geometry.Translation(0, 0, 5), "")
	require.NoError(t, err)
	child, err := s.AddTransform(geometry.Translation(1, 0, 0), parent)
	require.NoError(t, err)

	v := newVolume("dose")
	v.TransformID = child
	world, err := s.WorldTransform(v)
	require.NoError(t, err)
	assert.True(t, geometry.EqualApprox(geometry.Translation(1, 0, 5), world, 1e-12))

	v.TransformID = ""
	world, err = s.WorldTransform(v)
	require.NoError(t, err)
	assert.True(t, geometry.EqualApprox(geometry.Identity(), world, 0))

	assert.True(t, s.Has(parent))
}

func TestBeamResultBookkeeping(t *testing.T) {
	s := NewStore()
	planID, err := s.AddPlan(models.NewPlan("plan"))
	require.NoError(t, err)
	beamID, err := s.AddBeam(planID, models.NewBeam("B1"))
	require.NoError(t, err)

	doseID, err := s.AddVolume(newVolume("B1_Dose"))
	require.NoError(t, err)
	tmpID, err := s.AddVolume(newVolume("B1_Fluence"))
	require.NoError(t, err)

	require.NoError(t, s.AttachDose(beamID, doseID, true))
	require.NoError(t, s.AddIntermediate(beamID, tmpID))
	assert.ErrorIs(t, s.AddIntermediate(beamID, "missing"), ErrNodeNotFound)

	ids, err := s.TakeIntermediates(beamID)
	require.NoError(t, err)
	assert.Equal(t, []string{tmpID}, ids)
	ids, err = s.TakeIntermediates(beamID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	old, err := s.DetachDose(beamID)
	require.NoError(t, err)
	assert.Equal(t, doseID, old)
	assert.True(t, s.Has(doseID), "detaching keeps the volume")

	require.NoError(t, s.SetTotalDose(planID, doseID))
	p, err := s.Plan(planID)
	require.NoError(t, err)
	assert.Equal(t, doseID, p.TotalDoseVolumeID)
	assert.ErrorIs(t, s.SetTotalDose(planID, "missing"), ErrNodeNotFound)
	assert.ErrorIs(t, s.SetTotalDose("missing", ""), ErrNodeNotFound)

	_, err = s.DetachDose("missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}
