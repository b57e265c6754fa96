// Package dosecalc orchestrates dose calculation: one beam at a time through
// the plan's selected engine, then the weighted sum of all beams of a plan.
package dosecalc

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"beamdose/internal/models"
	"beamdose/pkg/accumulation"
	"beamdose/pkg/engine"
	"beamdose/pkg/metrics"
	"beamdose/pkg/resample"
	"beamdose/pkg/scene"
	"beamdose/pkg/visualization"
)

// ErrMissingReferenceVolume is returned when a beam has no plan, or the plan
// has no reference volume to resample against
var ErrMissingReferenceVolume = errors.New("missing reference volume")

// Name suffixes of the volumes the calculator creates
const (
	DoseVolumeSuffix      = "_Dose"
	TotalDoseVolumeSuffix = "_TotalDose"
)

// Params holds the calculator configuration.
type Params struct {
	// Resample controls interpolation and parallelism for accumulation.
	// Nil uses linear interpolation on all CPUs.
	Resample *resample.Params

	// Display holds the factors used to derive window and threshold from
	// the prescription dose.
	Display visualization.DisplayOptions

	// Unit is the dose unit tagged on computed volumes.
	Unit string
}

// DefaultParams returns the defaults used when NewCalculator gets nil
func DefaultParams() *Params {
	return &Params{
		Display: visualization.DefaultDisplayOptions(),
		Unit:    models.DefaultDoseUnitName,
	}
}

// Calculator runs dose calculations against a scene store. The registry and
// store are owned by the caller.
type Calculator struct {
	store       *scene.Store
	registry    *engine.Registry
	params      Params
	accumulator *accumulation.Accumulator
	logger      *zap.Logger
	metrics     *metrics.Metrics

	mu     sync.Mutex
	status map[string]Status
	// transforms registered for engine-placed dose grids, by volume ID
	owned map[string]string
}

// Option configures a Calculator
type Option func(*Calculator)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Calculator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records beams, plans and accumulations into m
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Calculator) { c.metrics = m }
}

// NewCalculator creates a calculator. A nil params uses DefaultParams.
func NewCalculator(store *scene.Store, registry *engine.Registry, params *Params, opts ...Option) *Calculator {
	if params == nil {
		params = DefaultParams()
	}
	c := &Calculator{
		store:    store,
		registry: registry,
		params:   *params,
		logger:   zap.NewNop(),
		status:   make(map[string]Status),
		owned:    make(map[string]string),
	}
	if c.params.Display == (visualization.DisplayOptions{}) {
		c.params.Display = visualization.DefaultDisplayOptions()
	}
	for _, opt := range opts {
		opt(c)
	}

	var accOpts []accumulation.Option
	accOpts = append(accOpts, accumulation.WithLogger(c.logger), accumulation.WithMetrics(c.metrics))
	if c.params.Resample != nil && c.params.Resample.NumWorkers > 0 {
		accOpts = append(accOpts, accumulation.WithWorkers(c.params.Resample.NumWorkers))
	}
	c.accumulator = accumulation.NewAccumulator(resample.NewResampler(c.params.Resample), accOpts...)
	return c
}

// resolved is what every beam operation needs from the store
type resolved struct {
	beam      *models.Beam
	plan      *models.Plan
	reference *models.Volume
}

func (c *Calculator) resolveBeam(beamID string) (*resolved, error) {
	beam, err := c.store.Beam(beamID)
	if err != nil {
		return nil, err
	}
	plan, err := c.store.Plan(beam.PlanID)
	if err != nil {
		return nil, fmt.Errorf("%w: beam %s has no plan", ErrMissingReferenceVolume, beam.Name)
	}
	reference, err := c.referenceOf(plan)
	if err != nil {
		return nil, err
	}
	return &resolved{beam: beam, plan: plan, reference: reference}, nil
}

func (c *Calculator) referenceOf(plan *models.Plan) (*models.Volume, error) {
	if plan.ReferenceVolumeID == "" {
		return nil, fmt.Errorf("%w: plan %s", ErrMissingReferenceVolume, plan.Name)
	}
	reference, err := c.store.Volume(plan.ReferenceVolumeID)
	if err != nil {
		return nil, fmt.Errorf("%w: plan %s: %v", ErrMissingReferenceVolume, plan.Name, err)
	}
	return reference, nil
}

func (c *Calculator) display(prescription float64) *models.DisplaySettings {
	d := visualization.DoseDisplay(prescription, c.params.Display)
	return &d
}
