// Package accumulation sums weighted dose volumes onto a reference lattice.
package accumulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"beamdose/internal/models"
	"beamdose/pkg/metrics"
	"beamdose/pkg/resample"
	"beamdose/pkg/visualization"
)

// ErrInput is returned for an empty input list or an input without samples
var ErrInput = errors.New("invalid accumulation input")

// InputError identifies the input that made an accumulation fail
type InputError struct {
	Index int
	Name  string
	Err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("accumulation input %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// Input is one weighted volume. WorldTransform is the composed parent chain
// of the volume; nil means it lives in world space.
type Input struct {
	Volume         *models.Volume
	Weight         float64
	WorldTransform mat.Matrix
}

// Options describe the output of one accumulation
type Options struct {
	// ReferenceWorld is the reference volume's parent chain, nil for identity
	ReferenceWorld mat.Matrix

	// PrescriptionDose drives the display thresholds of the output. Zero
	// leaves the output's display settings alone.
	PrescriptionDose float64

	// Display overrides the default window and threshold factors
	Display *visualization.DisplayOptions

	// Unit is the dose unit tagged on the output, "Gy" when empty
	Unit string
}

// Accumulator resamples and sums dose volumes
type Accumulator struct {
	resampler *resample.Resampler
	logger    *zap.Logger
	metrics   *metrics.Metrics
	workers   int
}

// Option configures an Accumulator
type Option func(*Accumulator)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(a *Accumulator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics records accumulations into m
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Accumulator) { a.metrics = m }
}

// WithWorkers bounds the number of inputs resampled concurrently
func WithWorkers(n int) Option {
	return func(a *Accumulator) {
		if n > 0 {
			a.workers = n
		}
	}
}

// NewAccumulator creates an accumulator. A nil resampler uses linear
// interpolation with zero background.
func NewAccumulator(r *resample.Resampler, opts ...Option) *Accumulator {
	if r == nil {
		r = resample.NewResampler(nil)
	}
	a := &Accumulator{
		resampler: r,
		logger:    zap.NewNop(),
		workers:   runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Accumulate resamples every input onto the reference lattice, scales it by
// its weight and sums the results in input order into output. output is
// only written when every input succeeds; it then carries the reference's
// geometry and transform and is tagged as a dose volume.
//
// Inputs are resampled concurrently and every one is attempted; a failure
// reports the lowest failing index. The sum is always a left fold in input
// order, so identical inputs give bit-identical output.
func (a *Accumulator) Accumulate(ctx context.Context, reference, output *models.Volume, inputs []Input, opts Options) error {
	if reference == nil || output == nil {
		return fmt.Errorf("%w: reference and output volumes are required", ErrInput)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("%w: no inputs", ErrInput)
	}
	for i, in := range inputs {
		switch {
		case !in.Volume.HasData():
			return &InputError{Index: i, Name: inputName(in.Volume), Err: fmt.Errorf("%w: no sample data", ErrInput)}
		case in.Weight < 0 || math.IsNaN(in.Weight) || math.IsInf(in.Weight, 0):
			return &InputError{Index: i, Name: inputName(in.Volume), Err: fmt.Errorf("%w: weight %g is not a finite non-negative number", ErrInput, in.Weight)}
		}
	}

	start := time.Now()
	resampled := make([]*models.Volume, len(inputs))
	failures := make([]error, len(inputs))

	var g errgroup.Group
	g.SetLimit(a.workers)
	for i, in := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := a.resampler.ResampleTo(in.Volume, in.WorldTransform, reference, opts.ReferenceWorld)
			if err != nil {
				failures[i] = err
				return err
			}
			resampled[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		// every input runs to completion, so the lowest failing index is
		// the same on every run
		for i, ferr := range failures {
			if ferr != nil {
				return &InputError{Index: i, Name: inputName(inputs[i].Volume), Err: ferr}
			}
		}
		return err
	}

	var sum []float64
	for i, v := range resampled {
		w := inputs[i].Weight
		if i == 0 {
			// resampled grids are fresh allocations, so the first one is
			// already a private accumulator
			sum = v.Data
			for n := range sum {
				if w == 0 {
					sum[n] = 0
				} else {
					sum[n] *= w
				}
			}
			continue
		}
		if w == 0 {
			continue
		}
		for n, d := range v.Data {
			sum[n] += d * w
		}
	}

	output.CopyGeometryFrom(reference)
	output.TransformID = reference.TransformID
	output.Data = sum
	output.MarkAsDose(opts.Unit)
	if opts.PrescriptionDose > 0 {
		display := visualization.DefaultDisplayOptions()
		if opts.Display != nil {
			display = *opts.Display
		}
		settings := visualization.DoseDisplay(opts.PrescriptionDose, display)
		output.Display = &settings
	}

	elapsed := time.Since(start)
	a.metrics.RecordAccumulation(len(inputs), elapsed)
	a.logger.Info("accumulated dose",
		zap.String("output", output.Name),
		zap.Int("inputs", len(inputs)),
		zap.Duration("duration", elapsed),
	)
	return nil
}

func inputName(v *models.Volume) string {
	if v == nil {
		return "<nil>"
	}
	if v.Name != "" {
		return v.Name
	}
	return v.ID
}
