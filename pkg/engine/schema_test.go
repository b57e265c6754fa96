package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beamdose/internal/models"
)

func newTestSchema(t *testing.T) *Schema {
	t.Helper()
	s := newSchema("Engine")
	require.NoError(t, s.AddFloat("Sigma", "lateral spread", 5, 0.1, 50))
	require.NoError(t, s.AddInt("Beamlets", "beamlet count", 4, 1, 64))
	require.NoError(t, s.AddBool("Debug", "keep intermediates", false))
	require.NoError(t, s.AddString("Label", "free text", ""))
	require.NoError(t, s.AddChoice("Particle", "particle type", "photon", []string{"photon", "proton"}))
	return s
}

func TestSchemaDeclarationErrors(t *testing.T) {
	s := newTestSchema(t)

	assert.ErrorIs(t, s.AddFloat("Sigma", "", 1, 0, 2), ErrInvalidParameter, "duplicate")
	assert.ErrorIs(t, s.AddFloat("", "", 1, 0, 2), ErrInvalidParameter, "empty name")
	assert.ErrorIs(t, s.AddFloat("a.b", "", 1, 0, 2), ErrInvalidParameter, "separator in name")
	assert.ErrorIs(t, s.AddFloat("X", "", 5, 0, 2), ErrInvalidParameter, "default out of bounds")
	assert.ErrorIs(t, s.AddFloat("Y", "", 1, 2, 0), ErrInvalidParameter, "inverted bounds")
	assert.ErrorIs(t, s.AddChoice("Z", "", "a", nil), ErrInvalidParameter, "no choices")
	assert.ErrorIs(t, s.AddChoice("W", "", "c", []string{"a", "b"}), ErrInvalidParameter, "default not a choice")

	assert.Len(t, s.Specs(), 5)
}

func TestSchemaParse(t *testing.T) {
	s := newTestSchema(t)

	tests := []struct {
		name    string
		param   string
		raw     string
		want    models.Value
		wantErr error
	}{
		{"float", "Sigma", "2.5", models.FloatValue(2.5), nil},
		{"float padded", "Sigma", " 3 ", models.FloatValue(3), nil},
		{"float out of range", "Sigma", "100", models.Value{}, ErrInvalidParameter},
		{"float garbage", "Sigma", "wide", models.Value{}, ErrInvalidParameter},
		{"float NaN", "Sigma", "NaN", models.Value{}, ErrInvalidParameter},
		{"float infinite", "Sigma", "+Inf", models.Value{}, ErrInvalidParameter},
		{"int", "Beamlets", "8", models.IntValue(8), nil},
		{"int not integer", "Beamlets", "8.5", models.Value{}, ErrInvalidParameter},
		{"bool", "Debug", "true", models.BoolValue(true), nil},
		{"string", "Label", "anything", models.StringValue("anything"), nil},
		{"choice", "Particle", "proton", models.StringValue("proton"), nil},
		{"bad choice", "Particle", "carbon", models.Value{}, ErrInvalidParameter},
		{"unknown", "Missing", "1", models.Value{}, ErrUnknownParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Parse(tt.param, tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchemaValidateRejectsNonFinite(t *testing.T) {
	s := newTestSchema(t)
	require.NoError(t, s.Add(ParameterSpec{Name: "Offset", Kind: ParamFloat, Default: models.FloatValue(0)}))

	assert.NoError(t, s.Validate("Sigma", models.FloatValue(1)))
	assert.ErrorIs(t, s.Validate("Sigma", models.FloatValue(math.NaN())), ErrInvalidParameter)
	assert.ErrorIs(t, s.Validate("Offset", models.FloatValue(math.Inf(-1))), ErrInvalidParameter)
}

func TestSchemaApplyDefaults(t *testing.T) {
	s := newTestSchema(t)
	params := models.ParameterSet{"Engine.Sigma": models.FloatValue(1)}

	assert.Equal(t, 4, s.ApplyDefaults(params))
	assert.Equal(t, 0, s.ApplyDefaults(params))

	assert.Equal(t, models.FloatValue(1), params["Engine.Sigma"])
	assert.Equal(t, models.IntValue(4), params["Engine.Beamlets"])
	assert.Equal(t, models.StringValue("photon"), params["Engine.Particle"])
	assert.Equal(t, []string{"Engine.Beamlets", "Engine.Debug", "Engine.Label", "Engine.Particle", "Engine.Sigma"}, params.Keys())
}

func TestBeamContextAccessors(t *testing.T) {
	s := newTestSchema(t)
	beam := models.NewBeam("B1")
	s.ApplyDefaults(beam.Parameters)

	bc := NewBeamContext("Engine", beam, nil, nil)

	sigma, err := bc.Float("Sigma")
	require.NoError(t, err)
	assert.Equal(t, 5.0, sigma)

	// ints widen to float
	n, err := bc.Float("Beamlets")
	require.NoError(t, err)
	assert.Equal(t, 4.0, n)

	ni, err := bc.Int("Beamlets")
	require.NoError(t, err)
	assert.Equal(t, int64(4), ni)

	debug, err := bc.Bool("Debug")
	require.NoError(t, err)
	assert.False(t, debug)

	particle, err := bc.String("Particle")
	require.NoError(t, err)
	assert.Equal(t, "photon", particle)

	_, err = bc.Int("Sigma")
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = bc.Float("Nope")
	assert.ErrorIs(t, err, ErrUnknownParameter)

	v := models.NewVolume("tmp", [3]int{1, 1, 1}, [3]float64{1, 1, 1}, [3]float64{})
	bc.AddIntermediate(v)
	assert.Equal(t, []*models.Volume{v}, bc.Intermediates())
	assert.Nil(t, bc.DoseTransform())
}
