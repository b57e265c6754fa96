package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gonum.org/v1/gonum/mat"

	"beamdose/internal/models"
)

// fakeEngine counts DeclareParameters calls and declares one parameter
type fakeEngine struct {
	name       string
	declared   int
	declareErr error
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) DeclareParameters(s *Schema) error {
	f.declared++
	if f.declareErr != nil {
		return f.declareErr
	}
	return s.AddFloat("Energy", "beam energy", 6, 1, 25)
}

func (f *fakeEngine) ComputeDose(ctx context.Context, bc *BeamContext, dose *models.Volume) error {
	return nil
}

type fakeInverseEngine struct {
	fakeEngine
	capable bool
}

func (f *fakeInverseEngine) IsInverseCapable() bool { return f.capable }

func (f *fakeInverseEngine) ComputeDoseInfluence(ctx context.Context, bc *BeamContext) (*mat.Dense, error) {
	return mat.NewDense(1, 1, []float64{1}), nil
}

func TestRegisterDeclaresParametersOnce(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := NewRegistry(zap.New(core))
	e := &fakeEngine{name: "Fake"}

	require.NoError(t, r.Register(e))
	assert.Equal(t, 1, e.declared)

	err := r.Register(e)
	assert.ErrorIs(t, err, ErrDuplicateEngine)
	assert.Equal(t, 1, e.declared, "rejected registration must not redeclare")

	got, err := r.Get("Fake")
	require.NoError(t, err)
	assert.Same(t, e, got)

	schema, err := r.Schema("Fake")
	require.NoError(t, err)
	spec, ok := schema.Lookup("Energy")
	require.True(t, ok)
	assert.Equal(t, ParamFloat, spec.Kind)

	assert.Equal(t, 1, logs.FilterMessage("registered dose engine").Len())
}

func TestRegisterRejectsInvalidNames(t *testing.T) {
	r := NewRegistry(nil)
	for _, name := range []string{"", "  ", "with.dot"} {
		err := r.Register(&fakeEngine{name: name})
		assert.ErrorIs(t, err, ErrInvalidEngineName, "name %q", name)
	}
	assert.ErrorIs(t, r.Register(nil), ErrInvalidEngineName)
	assert.Empty(t, r.Names())
}

func TestRegisterDeclareFailure(t *testing.T) {
	r := NewRegistry(nil)
	boom := errors.New("boom")
	err := r.Register(&fakeEngine{name: "Broken", declareErr: boom})
	assert.ErrorIs(t, err, boom)

	_, err = r.Get("Broken")
	assert.ErrorIs(t, err, ErrEngineNotFound)
}

func TestRegistryLookupAndOrder(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&fakeEngine{name: "B"}))
	require.NoError(t, r.Register(&fakeEngine{name: "A"}))

	assert.Equal(t, []string{"B", "A"}, r.Names())

	_, err := r.Get("C")
	assert.ErrorIs(t, err, ErrEngineNotFound)
	_, err = r.Schema("C")
	assert.ErrorIs(t, err, ErrEngineNotFound)

	assert.ErrorIs(t, r.Unregister("A"), ErrUnsupportedOperation)
	_, err = r.Get("A")
	assert.NoError(t, err)
}

func TestApplyDefaultsNeverOverwrites(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&fakeEngine{name: "Fake"}))
	require.NoError(t, r.Register(&fakeEngine{name: "Other"}))

	params := models.ParameterSet{"Fake.Energy": models.FloatValue(18)}

	added, err := r.ApplyDefaults("Fake", params)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, models.FloatValue(18), params["Fake.Energy"])

	// a second engine's parameters live in their own namespace
	added, err = r.ApplyDefaults("Other", params)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, models.FloatValue(6), params["Other.Energy"])
	assert.Equal(t, models.FloatValue(18), params["Fake.Energy"])

	_, err = r.ApplyDefaults("Missing", params)
	assert.ErrorIs(t, err, ErrEngineNotFound)
}

func TestIsInverseCapable(t *testing.T) {
	assert.False(t, IsInverseCapable(&fakeEngine{name: "Plain"}))
	assert.False(t, IsInverseCapable(&fakeInverseEngine{fakeEngine: fakeEngine{name: "Off"}}))
	assert.True(t, IsInverseCapable(&fakeInverseEngine{fakeEngine: fakeEngine{name: "On"}, capable: true}))
}

func TestComputationErrorKeepsMessage(t *testing.T) {
	plain := errors.New("grid too large for engine")
	ce := AsComputationError(plain, "Fake", "Beam1")
	assert.Equal(t, "grid too large for engine", ce.Error())
	assert.Equal(t, "Fake", ce.Engine)
	assert.Equal(t, "Beam1", ce.Beam)

	own := Errorf("energy %d MV not commissioned", 4)
	ce = AsComputationError(own, "Fake", "Beam2")
	assert.Equal(t, "energy 4 MV not commissioned", ce.Error())
	assert.Equal(t, "Beam2", ce.Beam)
}
