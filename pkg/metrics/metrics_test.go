package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value returns the counter value or histogram sample count of the metric
// with the given name and label values
func value(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !matches(m, labels) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				return float64(h.GetSampleCount())
			}
		}
	}
	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range m.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok {
			if want != lp.GetValue() {
				return false
			}
			found++
		}
	}
	return found == len(labels)
}

func TestRecordBeam(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordBeam("Uniform", 10*time.Millisecond, nil)
	m.RecordBeam("Uniform", 20*time.Millisecond, nil)
	m.RecordBeam("Uniform", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, value(t, reg, "beamdose_beams_total", map[string]string{"engine": "Uniform", "result": ResultSuccess}))
	assert.Equal(t, 1.0, value(t, reg, "beamdose_beams_total", map[string]string{"engine": "Uniform", "result": ResultFailure}))
	assert.Equal(t, 3.0, value(t, reg, "beamdose_beam_duration_seconds", map[string]string{"engine": "Uniform"}))
}

func TestRecordAccumulationAndPlan(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordAccumulation(3, time.Second)
	m.RecordPlan(nil)
	m.RecordPlan(errors.New("failed"))
	m.RecordIntermediatesRemoved(2)
	m.RecordIntermediatesRemoved(0)

	assert.Equal(t, 3.0, value(t, reg, "beamdose_accumulation_inputs_total", nil))
	assert.Equal(t, 1.0, value(t, reg, "beamdose_accumulation_duration_seconds", nil))
	assert.Equal(t, 1.0, value(t, reg, "beamdose_plans_total", map[string]string{"result": ResultSuccess}))
	assert.Equal(t, 1.0, value(t, reg, "beamdose_plans_total", map[string]string{"result": ResultFailure}))
	assert.Equal(t, 2.0, value(t, reg, "beamdose_intermediates_removed_total", nil))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordBeam("x", time.Second, nil)
		m.RecordPlan(nil)
		m.RecordAccumulation(1, time.Second)
		m.RecordIntermediatesRemoved(1)
	})
}

func TestUnregistered(t *testing.T) {
	m := New(nil)
	assert.NotPanics(t, func() { m.RecordPlan(nil) })

	// a second unregistered set must not collide with the first
	assert.NotPanics(t, func() { New(nil).RecordPlan(nil) })
}
