// Package metrics instruments the dose pipeline with Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for dose calculation.
//
// All metrics are prefixed with "beamdose_".
//
// Metrics:
//   - beamdose_beams_total{engine,result} - beam calculations by outcome
//   - beamdose_beam_duration_seconds{engine} - engine call plus bookkeeping
//   - beamdose_plans_total{result} - plan calculations by outcome
//   - beamdose_accumulation_inputs_total - volumes summed into a total dose
//   - beamdose_accumulation_duration_seconds - resampling plus reduction
//   - beamdose_intermediates_removed_total - engine artifacts deleted
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	BeamsTotal           *prometheus.CounterVec
	BeamDuration         *prometheus.HistogramVec
	PlansTotal           *prometheus.CounterVec
	AccumulationInputs   prometheus.Counter
	AccumulationDuration prometheus.Histogram
	IntermediatesRemoved prometheus.Counter
}

// Result labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests use to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BeamsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beamdose_beams_total",
				Help: "Total number of beam dose calculations",
			},
			[]string{"engine", "result"},
		),
		BeamDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beamdose_beam_duration_seconds",
				Help:    "Duration of beam dose calculations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
			},
			[]string{"engine"},
		),
		PlansTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beamdose_plans_total",
				Help: "Total number of plan dose calculations",
			},
			[]string{"result"},
		),
		AccumulationInputs: f.NewCounter(
			prometheus.CounterOpts{
				Name: "beamdose_accumulation_inputs_total",
				Help: "Total number of volumes accumulated into total doses",
			},
		),
		AccumulationDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "beamdose_accumulation_duration_seconds",
				Help:    "Duration of dose accumulation in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		IntermediatesRemoved: f.NewCounter(
			prometheus.CounterOpts{
				Name: "beamdose_intermediates_removed_total",
				Help: "Total number of intermediate engine results removed",
			},
		),
	}
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// RecordBeam records one beam calculation
func (m *Metrics) RecordBeam(engine string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.BeamsTotal.WithLabelValues(engine, result(err)).Inc()
	m.BeamDuration.WithLabelValues(engine).Observe(d.Seconds())
}

// RecordPlan records one plan calculation
func (m *Metrics) RecordPlan(err error) {
	if m == nil {
		return
	}
	m.PlansTotal.WithLabelValues(result(err)).Inc()
}

// RecordAccumulation records a successful accumulation of n inputs
func (m *Metrics) RecordAccumulation(n int, d time.Duration) {
	if m == nil {
		return
	}
	m.AccumulationInputs.Add(float64(n))
	m.AccumulationDuration.Observe(d.Seconds())
}

// RecordIntermediatesRemoved counts deleted intermediate volumes
func (m *Metrics) RecordIntermediatesRemoved(n int) {
	if m == nil || n == 0 {
		return
	}
	m.IntermediatesRemoved.Add(float64(n))
}
